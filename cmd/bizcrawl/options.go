package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/nao1215/bizcrawl/internal/config"
)

// loadConfig builds the configuration of a command.
//
// Values are layered in this order, later layers winning:
// defaults, the configuration file, the .env file and environment, and
// finally the flags the user actually set. Positional arguments are search
// URLs. Commands that crawl search pages pass requireSeeds.
func loadConfig(cmd *cobra.Command, args []string, requireSeeds bool) (*config.Config, error) {
	cfg := config.NewConfig()
	flags := cmd.Flags()

	configPath, err := stringFlag(flags, "config")
	if err != nil {
		return nil, err
	}
	cfg.ConfigFilePath = configPath

	// If the user explicitly specified a config file path, error if not found.
	// If no path was specified, silently use defaults when no file exists.
	path := config.FindConfigFile(cfg.ConfigFilePath)
	if path != "" {
		file, err := config.LoadConfigFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		cfg.ApplyFile(file)
	} else if cfg.ConfigFilePath != "" {
		return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, cfg.ConfigFilePath)
	}

	if flags.Changed("env-file") {
		if cfg.EnvFile, err = flags.GetString("env-file"); err != nil {
			return nil, err
		}
	}
	if err := config.LoadEnvFile(cfg.EnvFile); err != nil {
		return nil, fmt.Errorf("failed to load env file %s: %w", cfg.EnvFile, err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := applyFlags(flags, cfg); err != nil {
		return nil, err
	}
	if len(args) > 0 {
		cfg.SearchURLs = append([]string(nil), args...)
	}
	cfg.Verbose = boolFlag(cmd, "verbose")
	cfg.LogJSON = boolFlag(cmd, "log-json")

	cfg.Normalize()
	if requireSeeds {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateCommon()
	}
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

// applyFlags copies the flags the user set onto cfg. Flags a command does
// not define are skipped.
func applyFlags(flags *pflag.FlagSet, cfg *config.Config) error {
	var errs []error
	str := func(name string, dst *string) {
		if flags.Changed(name) {
			v, err := flags.GetString(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	integer := func(name string, dst *int) {
		if flags.Changed(name) {
			v, err := flags.GetInt(name)
			errs = append(errs, err)
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) {
		if flags.Changed(name) {
			v, err := flags.GetBool(name)
			errs = append(errs, err)
			*dst = v
		}
	}

	str("search", &cfg.SearchTerm)
	str("location", &cfg.Location)
	integer("max-results", &cfg.MaxResults)
	integer("concurrency", &cfg.MaxConcurrency)
	integer("max-retries", &cfg.MaxRetries)
	integer("max-pages", &cfg.MaxPages)
	boolean("probe", &cfg.ProbeContactPaths)
	boolean("debug-capture", &cfg.DebugCapture)
	str("capture-dir", &cfg.CaptureDir)
	str("proxy", &cfg.ProxyURL)
	str("storage", &cfg.StorageDriver)
	str("db-dir", &cfg.DBDir)
	boolean("json", &cfg.JSONReport)
	boolean("markdown", &cfg.MarkdownReport)
	str("output", &cfg.ReportFile)

	if flags.Changed("no-enrich") {
		noEnrich, err := flags.GetBool("no-enrich")
		errs = append(errs, err)
		cfg.FetchContacts = !noEnrich
	}
	if flags.Changed("contact-path") {
		paths, err := flags.GetStringSlice("contact-path")
		errs = append(errs, err)
		cfg.ContactPaths = paths
	}
	if flags.Changed("rate") {
		rate, err := flags.GetFloat64("rate")
		errs = append(errs, err)
		cfg.RequestsPerSecond = rate
	}
	if flags.Changed("timeout") {
		timeout, err := flags.GetDuration("timeout")
		errs = append(errs, err)
		cfg.RequestTimeout = timeout
	}
	if flags.Changed("tor-timeout") {
		timeout, err := flags.GetDuration("tor-timeout")
		errs = append(errs, err)
		cfg.TorStartupTimeout = timeout
	}
	return errors.Join(errs...)
}

// stringFlag returns the value of an optional string flag.
func stringFlag(flags *pflag.FlagSet, name string) (string, error) {
	if flags.Lookup(name) == nil {
		return "", nil
	}
	return flags.GetString(name)
}

// boolFlag retrieves a boolean flag from the command or its root.
func boolFlag(cmd *cobra.Command, name string) bool {
	v, err := cmd.Flags().GetBool(name)
	if err != nil {
		v, err = cmd.Root().PersistentFlags().GetBool(name)
		if err != nil {
			return false
		}
	}
	return v
}

// addStorageFlags registers the flags selecting the record store.
func addStorageFlags(cmd *cobra.Command) {
	cmd.Flags().String("storage", config.StorageSQLite,
		"Storage driver: sqlite, redis or memory")
	cmd.Flags().String("db-dir", "",
		"Directory of the SQLite database (default: XDG data directory)")
}

// addReportFlags registers the flags selecting report format and destination.
func addReportFlags(cmd *cobra.Command) {
	cmd.Flags().BoolP("json", "j", false,
		"Output JSON report (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false,
		"Output Markdown report (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "",
		"Write report to specified file path (creates directories if needed)")
}

// addConfigFlags registers the configuration and .env file flags.
func addConfigFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("config", "c", "",
		"Configuration file path (default: .bizcrawl in current or home directory)")
	cmd.Flags().String("env-file", ".env",
		"Environment file loaded before BIZCRAWL_* variables are read")
}
