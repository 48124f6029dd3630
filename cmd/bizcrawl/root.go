package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for bizcrawl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bizcrawl",
		Short: "Crawl business directories and enrich the results with contact details",
		Long: `bizcrawl crawls a paginated business directory, stores one record per
business and visits each business website to collect emails, phone numbers
and social links.

Records are stored in SQLite under the XDG data directory by default.
Use --storage redis or --storage memory to choose another backend.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")
	cmd.PersistentFlags().Bool("log-json", false, "Write logs as JSON")

	cmd.AddCommand(NewCrawlCmd())
	cmd.AddCommand(NewEnrichCmd())
	cmd.AddCommand(NewExportCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
