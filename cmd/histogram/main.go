// Package main provides the entry point for the histogram CLI tool.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/histogram/cmd/histogram/commands"
	"github.com/Sumatoshi-tech/histogram/pkg/version"
)

func main() {
	version.InitBinaryVersion()

	rootCmd := &cobra.Command{
		Use:   "histogram",
		Short: "Time-bucket histograms over segmented event stores",
		Long: `histogram aggregates events from dated segments into time buckets,
one segment at a time, and renders the aligned series as a chart or table.

Commands:
  run       Aggregate and render (add --refresh to keep watching)
  interval  Show the bucket width and segments a range resolves to
  validate  Check a config file`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewIntervalCommand())
	rootCmd.AddCommand(commands.NewValidateCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "histogram %s\n", version.String())
		},
	}
}
