package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/encodarr/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management commands",
	Long:  `Commands for managing encodarr configuration.`,
}

var configDumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump the effective configuration",
	Long: `Dump the effective configuration in YAML format: defaults, overlaid
by the config file, overlaid by environment variables.

You can redirect this output to a file to create a configuration template:

  encodarr config dump > config.yaml

Configuration can be set via:
  - Config file (config.yaml in ., ./configs, /etc/encodarr or $HOME/.encodarr)
  - Environment variables (ENCODARR_SERVER_PORT, ENCODARR_DATABASE_DSN, etc.)
  - Command-line flags (for some options)

Environment variables use the ENCODARR_ prefix and underscores for nesting.
Example: encoding.max_concurrent_jobs -> ENCODARR_ENCODING_MAX_CONCURRENT_JOBS`,
	RunE: runConfigDump,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configDumpCmd)
}

func runConfigDump(cmd *cobra.Command, _ []string) error {
	out, err := config.Dump(cfgFile)
	if err != nil {
		return fmt.Errorf("dumping config: %w", err)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "# encodarr configuration")
	fmt.Fprintln(w, "# Generated by: encodarr config dump")
	fmt.Fprintln(w)
	_, err = w.Write(out)
	return err
}
