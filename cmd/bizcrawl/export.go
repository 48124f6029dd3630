package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nao1215/bizcrawl/internal/config"
	"github.com/nao1215/bizcrawl/internal/log"
	"github.com/nao1215/bizcrawl/internal/report"
)

// errNoRunYet is returned by export --last-run before the first run.
var errNoRunYet = errors.New("no run report stored yet: run bizcrawl crawl first")

// NewExportCmd creates the export command.
func NewExportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored business records or the last run report",
		Long: `Export writes all stored business records as text, Markdown or JSON.
With --last-run it writes the report of the most recent run instead.

Examples:
  # Print all records as a table
  bizcrawl export

  # Write all records as JSON
  bizcrawl export --json -o businesses.json

  # Show the report of the last run as Markdown
  bizcrawl export --last-run --markdown`,
		Args: cobra.NoArgs,
		RunE: runExportCmd,
	}

	cmd.Flags().Bool("last-run", false,
		"Export the report of the most recent run instead of the records")
	addStorageFlags(cmd)
	addConfigFlags(cmd)
	addReportFlags(cmd)

	return cmd
}

// runExportCmd executes the export command.
func runExportCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, nil, false)
	if err != nil {
		return err
	}
	if cfg.StorageDriver == config.StorageMemory {
		return errMemoryStorage
	}
	lastRun, err := cmd.Flags().GetBool("last-run")
	if err != nil {
		return err
	}

	logger := log.New(cmd.ErrOrStderr(), log.Options{Verbose: cfg.Verbose, JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return runExport(ctx, cfg, lastRun, cmd.OutOrStdout(), logger)
}

// runExport writes the stored records, or the latest run report when
// lastRun is set.
func runExport(ctx context.Context, cfg *config.Config, lastRun bool, out io.Writer, logger *slog.Logger) error {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
	}()

	if lastRun {
		reports, ok := store.(runReportStore)
		if !ok {
			return errNoRunReports
		}
		runReport, err := reports.LatestRunReport(ctx)
		if err != nil {
			return err
		}
		if runReport == nil {
			return errNoRunYet
		}
		return writeReport(cfg, out, func(w report.Writer) error {
			_, err := w.WriteRun(runReport)
			return err
		})
	}

	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	logger.Debug("exporting records", "count", len(records))
	return writeReport(cfg, out, func(w report.Writer) error {
		_, err := w.WriteRecords(records)
		return err
	})
}
