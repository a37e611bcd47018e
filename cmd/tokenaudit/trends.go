package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/tokenaudit/internal/analyzer"
	"github.com/janekbaraniewski/tokenaudit/internal/core"
	"github.com/janekbaraniewski/tokenaudit/internal/history"
	"github.com/janekbaraniewski/tokenaudit/internal/storage"
)

func newTrendsCommand(app *appContext) *cobra.Command {
	var (
		days         int
		platformFlag string
		projectFlag  string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "trends",
		Short: "Show how efficiency patterns evolve across recent sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			from := time.Now().AddDate(0, 0, -days)
			window, err := loadWindow(cmd, app, core.Platform(platformFlag), projectFlag, from)
			if err != nil {
				return err
			}
			trends := analyzer.Trends(window, analyzer.DefaultStabilityBand)
			if asJSON {
				return printJSON(trends)
			}
			return printTrends(trends, len(window), days)
		},
	}
	cmd.Flags().IntVar(&days, "days", 30, "window of sessions to compare")
	cmd.Flags().StringVarP(&platformFlag, "platform", "p", "", "only sessions from this platform")
	cmd.Flags().StringVar(&projectFlag, "project", "", "only sessions with this project label")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit trends as JSON")
	return cmd
}

// loadWindow prefers the history cache and falls back to scanning
// summary files when the cache is disabled or unavailable.
func loadWindow(cmd *cobra.Command, app *appContext, platform core.Platform, project string, from time.Time) ([]*core.SessionSummary, error) {
	if hist := app.openHistory(); hist != nil {
		window, err := hist.Summaries(cmd.Context(), history.Query{
			Platform: platform,
			Project:  project,
			From:     from,
		})
		if err == nil {
			return window, nil
		}
		app.logger.Warn("history query failed, scanning summaries", "err", err)
	}

	store, err := app.openStore()
	if err != nil {
		return nil, err
	}
	var window []*core.SessionSummary
	err = store.IterRange(storage.ListFilter{Platform: platform, Project: project, From: from}, func(sum *core.SessionSummary) bool {
		window = append(window, sum)
		return true
	})
	if err != nil {
		return nil, err
	}
	return window, nil
}

func printTrends(trends []analyzer.SmellTrend, sessions, days int) error {
	if len(trends) == 0 {
		fmt.Printf("No smells recorded across %d sessions in the last %d days.\n", sessions, days)
		return nil
	}
	fmt.Printf("Patterns across %d sessions in the last %d days:\n\n", sessions, days)
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATTERN\tDIRECTION\tSESSIONS AFFECTED\tRECENT\tOLDER")
	for _, tr := range trends {
		fmt.Fprintf(w, "%s\t%s\t%.0f%% (%d)\t%.0f%%\t%.0f%%\n",
			tr.Kind, tr.Direction, tr.Frequency*100, tr.Occurrences,
			tr.RecentRate*100, tr.OlderRate*100)
	}
	return w.Flush()
}
