package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/tokenaudit/internal/core"
	"github.com/janekbaraniewski/tokenaudit/internal/storage"
)

func newReportCommand(app *appContext) *cobra.Command {
	var (
		latest   bool
		asJSON   bool
		markdown bool
	)

	cmd := &cobra.Command{
		Use:   "report [session-id]",
		Short: "Print the efficiency report of a finalized session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			store, err := app.openStore()
			if err != nil {
				return err
			}
			sum, err := resolveSummary(store, args, latest)
			if err != nil {
				return err
			}
			switch {
			case asJSON:
				return printJSON(sum)
			case markdown:
				return printMarkdown(sum)
			default:
				return printSummary(sum)
			}
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "report on the most recently finalized session")
	cmd.Flags().BoolVar(&asJSON, "json", false, "emit the raw summary document")
	cmd.Flags().BoolVar(&markdown, "markdown", false, "emit a markdown report")
	return cmd
}

func resolveSummary(store *storage.Store, args []string, latest bool) (*core.SessionSummary, error) {
	if latest {
		entries, err := store.ListSessions(storage.ListFilter{})
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, errors.New("no finalized sessions")
		}
		e := entries[len(entries)-1]
		return store.LoadSummary(e.Platform, e.StartedAt, e.SessionID)
	}
	if len(args) == 0 {
		return nil, errors.New("pass a session id or --latest")
	}
	entry, err := store.FindEntry(args[0])
	if err != nil {
		return nil, err
	}
	return store.LoadSummary(entry.Platform, entry.StartedAt, entry.SessionID)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummary(sum *core.SessionSummary) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Session\t%s\n", sum.SessionID)
	fmt.Fprintf(w, "Platform\t%s\n", sum.Platform)
	if sum.Project != "" {
		fmt.Fprintf(w, "Project\t%s\n", sum.Project)
	}
	fmt.Fprintf(w, "Started\t%s\n", sum.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Duration\t%.0fs\n", sum.DurationSecs)
	fmt.Fprintf(w, "Models\t%s\n", strings.Join(sum.ModelsUsed, ", "))
	fmt.Fprintf(w, "Tokens\t%d (in %d, out %d, cache read %d)\n",
		sum.Usage.TotalTokens, sum.Usage.InputTokens, sum.Usage.OutputTokens, sum.Usage.CacheReadTokens)
	fmt.Fprintf(w, "Cost\t$%.4f\n", sum.CostUSD)
	fmt.Fprintf(w, "Tool calls\t%d across %d tools\n", sum.CallCount, sum.ToolCount)
	fmt.Fprintf(w, "Accuracy\t%s (%.2f)\n", sum.Quality.Accuracy, sum.Quality.Confidence)
	if sum.Unrecognized > 0 {
		fmt.Fprintf(w, "Unrecognized lines\t%d\n", sum.Unrecognized)
	}
	w.Flush()

	if len(sum.ToolTokens) > 0 {
		fmt.Println("\nTop tools:")
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, tool := range topTools(sum.ToolTokens, 10) {
			fmt.Fprintf(w, "  %s\t%d tokens\n", tool, sum.ToolTokens[tool])
		}
		w.Flush()
	}

	if len(sum.Smells) > 0 {
		fmt.Println("\nSmells:")
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, sm := range sum.Smells {
			fmt.Fprintf(w, "  [%s]\t%s\t%s\n", sm.Severity, sm.Kind, sm.Evidence)
		}
		w.Flush()
	}

	if len(sum.Recommendations) > 0 {
		fmt.Println("\nRecommendations:")
		w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for _, rec := range sum.Recommendations {
			fmt.Fprintf(w, "  %.0f%%\t%s\t%s\n", rec.Confidence*100, rec.Type, rec.Action)
		}
		w.Flush()
	}

	if len(sum.ZombieTools) > 0 {
		fmt.Printf("\nZombie tools (%d declared, never called):\n", len(sum.ZombieTools))
		for _, z := range sum.ZombieTools {
			fmt.Printf("  %s\n", z.Tool)
		}
	}
	return nil
}

func printMarkdown(sum *core.SessionSummary) error {
	fmt.Printf("# Session report: %s\n\n", sum.SessionID)
	fmt.Printf("- **Platform:** %s\n", sum.Platform)
	fmt.Printf("- **Started:** %s\n", sum.StartedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Printf("- **Duration:** %.0fs\n", sum.DurationSecs)
	fmt.Printf("- **Tokens:** %d\n", sum.Usage.TotalTokens)
	fmt.Printf("- **Cost:** $%.4f\n", sum.CostUSD)
	fmt.Printf("- **Tool calls:** %d\n\n", sum.CallCount)

	if len(sum.Smells) > 0 {
		fmt.Println("## Smells")
		fmt.Println()
		fmt.Println("| Severity | Pattern | Evidence |")
		fmt.Println("|---|---|---|")
		for _, sm := range sum.Smells {
			fmt.Printf("| %s | %s | %s |\n", sm.Severity, sm.Kind, sm.Evidence)
		}
		fmt.Println()
	}
	if len(sum.Recommendations) > 0 {
		fmt.Println("## Recommendations")
		fmt.Println()
		for _, rec := range sum.Recommendations {
			fmt.Printf("- **%s** (%.0f%%): %s\n", rec.Type, rec.Confidence*100, rec.Action)
		}
	}
	return nil
}

func topTools(toolTokens map[string]int64, n int) []string {
	tools := make([]string, 0, len(toolTokens))
	for tool := range toolTokens {
		tools = append(tools, tool)
	}
	sort.Slice(tools, func(i, j int) bool {
		if toolTokens[tools[i]] != toolTokens[tools[j]] {
			return toolTokens[tools[i]] > toolTokens[tools[j]]
		}
		return tools[i] < tools[j]
	})
	if len(tools) > n {
		tools = tools[:n]
	}
	return tools
}
