package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
	"github.com/janekbaraniewski/tokenaudit/internal/storage"
)

func newSessionsCommand(app *appContext) *cobra.Command {
	var (
		platformFlag string
		projectFlag  string
		days         int
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List finalized sessions",
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := app.openStore()
			if err != nil {
				return err
			}
			filter := storage.ListFilter{
				Platform: core.Platform(platformFlag),
				Project:  projectFlag,
			}
			if days > 0 {
				filter.From = time.Now().AddDate(0, 0, -days)
			}
			entries, err := store.ListSessions(filter)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(entries)
			}
			return printSessionTable(entries)
		},
	}
	cmd.Flags().StringVarP(&platformFlag, "platform", "p", "", "only sessions from this platform")
	cmd.Flags().StringVar(&projectFlag, "project", "", "only sessions with this project label")
	cmd.Flags().IntVar(&days, "days", 0, "only sessions started in the last N days")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit index entries as JSON")
	return cmd
}

func printSessionTable(entries []storage.IndexEntry) error {
	if len(entries) == 0 {
		fmt.Println("No sessions found.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tPLATFORM\tPROJECT\tSESSION\tTOKENS\tCOST\tCALLS\tSMELLS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t$%.4f\t%d\t%s\n",
			e.StartedAt.Format("2006-01-02 15:04"),
			e.Platform,
			e.Project,
			e.SessionID,
			e.TotalTokens,
			e.CostUSD,
			e.CallCount,
			smellCell(e))
	}
	return w.Flush()
}

func smellCell(e storage.IndexEntry) string {
	if e.SmellCount == 0 {
		return "-"
	}
	return fmt.Sprintf("%d (%s)", e.SmellCount, e.TopSeverity)
}
