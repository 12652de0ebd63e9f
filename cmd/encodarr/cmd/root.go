// Package cmd implements the CLI commands for encodarr.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/encodarr/internal/config"
	"github.com/jmylchreest/encodarr/internal/observability"
	"github.com/jmylchreest/encodarr/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// appConfig is the configuration loaded before any command runs.
var appConfig *config.Config

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "encodarr",
	Short:   "Media transcode job orchestrator",
	Version: version.Get().String(),
	Long: `encodarr runs ffmpeg transcodes on behalf of media clients.

It probes sources, picks stream copy or re-encode per stream, builds the
encoder command line, supervises the encoder process and reports progress
per device. Disc images are mounted and live streams opened as needed.`,
	SilenceUsage: true,
	// PersistentPreRunE is set in init() to avoid initialization cycle
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	// initLogging references rootCmd.PersistentFlags
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return loadConfig()
	}

	// These flags are not bound to viper. They override the config/env values only
	// when set explicitly, so the priority is: CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ./config.yaml, /etc/encodarr, $HOME/.encodarr)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// loadConfig reads the configuration and installs the default logger.
func loadConfig() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	appConfig = cfg
	initLogging(&cfg.Logging)
	return nil
}

// initLogging configures the slog logger. Explicit CLI flags win over the
// configuration; "warning" is accepted as an alias for "warn".
func initLogging(logCfg *config.LoggingConfig) {
	if rootCmd.PersistentFlags().Changed("log-level") {
		logCfg.Level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		logCfg.Format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}
	logCfg.Level = strings.ToLower(logCfg.Level)
	logCfg.Format = strings.ToLower(logCfg.Format)
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(*logCfg, os.Stderr)
	slog.SetDefault(logger.With(slog.String("app", version.ApplicationName)))
}
