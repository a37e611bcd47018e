package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/tokenaudit/internal/config"
	"github.com/janekbaraniewski/tokenaudit/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		fmt.Fprintf(os.Stderr, "Settings path: %s\n", config.SettingsPath())
		os.Exit(1)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{
		ReportTimestamp: true,
		Prefix:          "tokenaudit",
	})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	app := &appContext{cfg: cfg, logger: logger}

	root := &cobra.Command{
		Use:           "tokenaudit",
		Short:         "tokenaudit tracks token usage and efficiency of AI coding CLI sessions.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		newTrackCommand(app),
		newSessionsCommand(app),
		newReportCommand(app),
		newTrendsCommand(app),
		newAggregateCommand(app),
		newRecoverCommand(app),
		newVersionCommand(),
	)

	if err := root.Execute(); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the tokenaudit version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "tokenaudit "+version.String())
		},
	}
}
