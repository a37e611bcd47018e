package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/tokenaudit/internal/analyzer"
	"github.com/janekbaraniewski/tokenaudit/internal/core"
	"github.com/janekbaraniewski/tokenaudit/internal/history"
	"github.com/janekbaraniewski/tokenaudit/internal/tracker"
)

func newRecoverCommand(app *appContext) *cobra.Command {
	var (
		rebuildIndices bool
		rebuildHistory bool
	)

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Finalize sessions whose tracker died before writing a summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := app.openStore()
			if err != nil {
				return err
			}

			if rebuildIndices {
				if err := store.RebuildIndices(); err != nil {
					return err
				}
				fmt.Println("Indices rebuilt.")
			}

			partials, err := store.ScanPartials()
			if err != nil {
				return err
			}
			if len(partials) == 0 {
				fmt.Println("No partial sessions found.")
			}

			th := app.thresholds()
			table := app.pricing()
			hist := app.openHistory()

			recovered := 0
			for _, p := range partials {
				opts := tracker.Options{
					Store:  store,
					Logger: app.logger,
					Analyze: func(sess *core.Session) tracker.Analysis {
						smells, recs, zombies := analyzer.Full(th)(sess)
						return tracker.Analysis{Smells: smells, Recommendations: recs, ZombieTools: zombies}
					},
					Cost: table.SessionCost,
				}
				if hist != nil {
					opts.History = func(sum *core.SessionSummary) error {
						return hist.Ingest(cmd.Context(), sum)
					}
				}

				tr, err := tracker.Recover(p.Path, opts)
				if err != nil {
					app.logger.Warn("skipping unreadable log", "path", p.Path, "err", err)
					continue
				}
				sum, err := tr.Finalize()
				if err != nil {
					app.logger.Warn("finalize failed", "session", p.Header.SessionID, "err", err)
					continue
				}
				fmt.Printf("Recovered %s (%s): %d tokens, %d calls\n",
					sum.SessionID, sum.Platform, sum.Usage.TotalTokens, sum.CallCount)
				recovered++
			}
			if len(partials) > 0 {
				fmt.Printf("Recovered %d of %d partial sessions.\n", recovered, len(partials))
			}

			if rebuildHistory {
				if hist == nil {
					return fmt.Errorf("history cache disabled, nothing to rebuild")
				}
				if err := rebuildHistoryCache(cmd.Context(), app, hist); err != nil {
					return err
				}
				fmt.Println("History cache rebuilt.")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&rebuildIndices, "rebuild-indices", false, "regenerate index files from summaries first")
	cmd.Flags().BoolVar(&rebuildHistory, "rebuild-history", false, "repopulate the history cache from summaries")
	return cmd
}

func rebuildHistoryCache(ctx context.Context, app *appContext, hist *history.Store) error {
	store, err := app.openStore()
	if err != nil {
		return err
	}
	return history.Rebuild(ctx, hist, store)
}
