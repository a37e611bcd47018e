package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/tokenaudit/internal/adapters"
	"github.com/janekbaraniewski/tokenaudit/internal/analyzer"
	"github.com/janekbaraniewski/tokenaudit/internal/core"
	"github.com/janekbaraniewski/tokenaudit/internal/detect"
	"github.com/janekbaraniewski/tokenaudit/internal/estimator"
	"github.com/janekbaraniewski/tokenaudit/internal/tracker"
)

func newTrackCommand(app *appContext) *cobra.Command {
	var (
		platformFlag string
		projectFlag  string
	)

	cmd := &cobra.Command{
		Use:   "track",
		Short: "Attach to the newest live session and track it until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runTrack(ctx, app, platformFlag, projectFlag)
		},
	}
	cmd.Flags().StringVarP(&platformFlag, "platform", "p", "", "platform to track (claude-code, codex-cli, gemini-cli)")
	cmd.Flags().StringVar(&projectFlag, "project", "", "project label recorded on the session")
	return cmd
}

func resolvePlatform(flag string) (core.Platform, error) {
	if flag != "" {
		for _, p := range core.KnownPlatforms {
			if string(p) == flag {
				return p, nil
			}
		}
		return "", fmt.Errorf("unknown platform %q", flag)
	}
	platform, ok := detect.DefaultPlatform(detect.AutoDetect())
	if !ok {
		return "", errors.New("no supported CLI detected, pass --platform")
	}
	return platform, nil
}

func runTrack(ctx context.Context, app *appContext, platformFlag, project string) error {
	store, err := app.openStore()
	if err != nil {
		return err
	}
	platform, err := resolvePlatform(platformFlag)
	if err != nil {
		return err
	}
	if project == "" {
		project = app.cfg.Project
	}

	est := estimator.New()
	adapter, err := adapters.ForPlatform(platform, est)
	if err != nil {
		return err
	}

	handle, err := waitForSession(ctx, adapter, app.cfg.PollInterval())
	if err != nil {
		return err
	}
	app.logger.Info("tracking session", "platform", platform, "log", handle.Path)

	th := app.thresholds()
	table := app.pricing()
	hist := app.openHistory()

	opts := tracker.Options{
		Store:     store,
		Project:   project,
		QueueSize: app.cfg.Tracking.QueueSize,
		Logger:    app.logger,
		Analyze: func(sess *core.Session) tracker.Analysis {
			smells, recs, zombies := analyzer.Full(th)(sess)
			return tracker.Analysis{Smells: smells, Recommendations: recs, ZombieTools: zombies}
		},
		Cost: table.SessionCost,
	}
	if hist != nil {
		opts.History = func(sum *core.SessionSummary) error {
			return hist.Ingest(context.Background(), sum)
		}
	}

	tr, err := tracker.Start(ctx, adapter, handle, opts)
	if err != nil {
		return err
	}

	<-ctx.Done()
	app.logger.Info("finalizing session")
	sum, err := tr.Finalize()
	if err != nil {
		return err
	}
	return printSummary(sum)
}

// waitForSession polls discovery until a session log exists. The newest
// handle wins; a brand-new log created while waiting is picked up on
// the next poll.
func waitForSession(ctx context.Context, adapter core.Adapter, interval time.Duration) (core.SessionHandle, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		handles, err := adapter.Discover(ctx)
		if err != nil {
			return core.SessionHandle{}, err
		}
		if len(handles) > 0 {
			return handles[0], nil
		}
		select {
		case <-ctx.Done():
			return core.SessionHandle{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
