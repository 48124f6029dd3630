package main

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/nao1215/bizcrawl/internal/config"
)

//go:embed templates/bizcrawl.yaml
var configTemplate embed.FS

// configFileName is the default configuration file name.
const configFileName = config.DefaultConfigFile

// NewInitCmd creates the init command.
func NewInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new bizcrawl configuration file",
		Long: `Initialize creates a new .bizcrawl configuration file in the current directory.

The generated file documents every option with its default value:
- Result limits, concurrency and retry budgets
- Contact page paths and probing
- Navigation policy (user agents, headers, delays)
- Proxy and storage settings

Secrets such as proxy credentials and the Redis password belong in the
environment or a .env file, not in this file.

Examples:
  # Create .bizcrawl in current directory
  bizcrawl init

  # Create config file at a specific path
  bizcrawl init -o myconfig.yaml

  # Force overwrite existing file
  bizcrawl init -f`,
		RunE: runInitCmd,
	}

	cmd.Flags().StringP("output", "o", configFileName,
		"Output file path for the configuration")
	cmd.Flags().BoolP("force", "f", false,
		"Overwrite existing configuration file")

	return cmd
}

// runInitCmd executes the init command.
func runInitCmd(cmd *cobra.Command, _ []string) error {
	outputPath, err := cmd.Flags().GetString("output")
	if err != nil {
		return err
	}

	force, err := cmd.Flags().GetBool("force")
	if err != nil {
		return err
	}

	if !force {
		if _, err := os.Stat(outputPath); err == nil {
			return fmt.Errorf("configuration file already exists: %s (use -f to overwrite)", outputPath)
		}
	}

	content, err := configTemplate.ReadFile("templates/bizcrawl.yaml")
	if err != nil {
		return fmt.Errorf("failed to read config template: %w", err)
	}

	dir := filepath.Dir(outputPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(outputPath, content, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created configuration file: %s\n", outputPath)
	fmt.Fprintln(out, "\nEdit this file to tune the crawl, for example:")
	fmt.Fprintln(out, "  - Contact page paths tried on business websites")
	fmt.Fprintln(out, "  - Navigation delays and request headers")
	fmt.Fprintln(out, "  - Storage driver (sqlite, redis, memory)")

	return nil
}
