package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/tokenaudit/internal/aggregate"
	"github.com/janekbaraniewski/tokenaudit/internal/core"
	"github.com/janekbaraniewski/tokenaudit/internal/storage"
)

func newAggregateCommand(app *appContext) *cobra.Command {
	var (
		period       string
		by           string
		days         int
		platformFlag string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "aggregate",
		Short: "Roll up session totals by day, week, or month",
		RunE: func(_ *cobra.Command, _ []string) error {
			store, err := app.openStore()
			if err != nil {
				return err
			}
			filter := storage.ListFilter{Platform: core.Platform(platformFlag)}
			if days > 0 {
				filter.From = time.Now().AddDate(0, 0, -days)
			}
			entries, err := store.ListSessions(filter)
			if err != nil {
				return err
			}
			buckets, err := aggregate.Rollup(entries, aggregate.Period(period), aggregate.GroupBy(by))
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(buckets)
			}
			return printBuckets(buckets, by != "")
		},
	}
	cmd.Flags().StringVar(&period, "period", "daily", "bucket size (daily, weekly, monthly)")
	cmd.Flags().StringVar(&by, "by", "", "split buckets by project or platform")
	cmd.Flags().IntVar(&days, "days", 0, "only sessions started in the last N days")
	cmd.Flags().StringVarP(&platformFlag, "platform", "p", "", "only sessions from this platform")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit buckets as JSON")
	return cmd
}

func printBuckets(buckets []aggregate.Bucket, grouped bool) error {
	if len(buckets) == 0 {
		fmt.Println("No sessions to aggregate.")
		return nil
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	if grouped {
		fmt.Fprintln(w, "PERIOD\tGROUP\tSESSIONS\tTOKENS\tCOST\tCALLS\tSMELLS")
	} else {
		fmt.Fprintln(w, "PERIOD\tSESSIONS\tTOKENS\tCOST\tCALLS\tSMELLS")
	}
	for _, b := range buckets {
		if grouped {
			fmt.Fprintf(w, "%s\t%s\t%d\t%d\t$%.4f\t%d\t%d\n",
				b.Label, b.Group, b.Sessions, b.TotalTokens, b.CostUSD, b.CallCount, b.SmellCount)
		} else {
			fmt.Fprintf(w, "%s\t%d\t%d\t$%.4f\t%d\t%d\n",
				b.Label, b.Sessions, b.TotalTokens, b.CostUSD, b.CallCount, b.SmellCount)
		}
	}
	return w.Flush()
}
