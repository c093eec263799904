// Package cmd defines and implements the CLI commands for the harvester
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listingharvester",
		Short: "Incremental harvester for dated sold-listing records.",
		Long: `listingharvester walks a paginated, date-keyed listing archive and
stores every listing it has not seen before in a durable append-only log.
Runs are resumable: interrupted or expired runs pick up exactly where the
persisted record log and coverage set left off, never re-fetching a record
already captured.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: built-in defaults + HARVESTER_* env)")

	cmd.AddCommand(newHarvestCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
