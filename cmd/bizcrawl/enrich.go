package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/nao1215/bizcrawl/internal/config"
	"github.com/nao1215/bizcrawl/internal/log"
)

// NewEnrichCmd creates the enrich command.
func NewEnrichCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Collect contact details for stored businesses",
		Long: `Enrich visits the website of every stored business with a website and
merges the emails, phone numbers and social links found there into the
stored record. No search pages are fetched.

Contacts are merged as a set union, so running enrich repeatedly never
removes contacts found earlier.

Examples:
  # Enrich all businesses in the default SQLite database
  bizcrawl enrich

  # Enrich businesses stored in Redis, trying only /contact
  bizcrawl enrich --storage redis --contact-path /contact`,
		Args: cobra.NoArgs,
		RunE: runEnrichCmd,
	}

	addFetchFlags(cmd)
	addEnrichmentFlags(cmd)
	addStorageFlags(cmd)
	addConfigFlags(cmd)
	addReportFlags(cmd)

	return cmd
}

// runEnrichCmd executes the enrich command.
func runEnrichCmd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, nil, false)
	if err != nil {
		return err
	}
	if cfg.StorageDriver == config.StorageMemory {
		return errMemoryStorage
	}

	logger := log.New(cmd.ErrOrStderr(), log.Options{Verbose: cfg.Verbose, JSON: cfg.LogJSON})
	slog.SetDefault(logger)

	ctx, sigCh, stop := commandContext(cmd)
	defer stop()

	a, err := newApp(ctx, cfg, logger, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	defer a.Close()
	a.signals = sigCh

	return runEnrich(ctx, a)
}

// runEnrich runs the enrichment phase over the stored records.
func runEnrich(ctx context.Context, a *app) error {
	a.logger.Info("starting enrichment",
		"concurrency", a.cfg.MaxConcurrency,
		"contactPaths", a.cfg.ContactPaths,
		"storage", a.cfg.StorageDriver,
	)
	return a.execute(ctx, nil, a.enrichmentStep())
}
