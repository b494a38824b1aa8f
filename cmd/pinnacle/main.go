package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/rendis/pinnacle/internal/logging"
)

var (
	configPath string
	flagLevel  string
	flagBase   string
	flagDB     string

	cfg    Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "pinnacle <command>",
	Short:         "FlowDir flow editor backend and headless editor",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := loadConfig(configPath, os.Getenv)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("log-level") {
			loaded.LogLevel = flagLevel
		}
		if flags.Changed("base-url") {
			loaded.BaseURL = flagBase
		}
		if flags.Changed("db-path") {
			loaded.DBPath = flagDB
		}
		if err := loaded.finalize(); err != nil {
			return err
		}
		cfg = loaded
		logger = logging.New(os.Stderr, cfg.LogLevel)
		slog.SetDefault(logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", settingsPath(), "settings file")
	rootCmd.PersistentFlags().StringVar(&flagLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagBase, "base-url", "", "backend base URL (derived from listen addr if empty)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db-path", "", "database path (default: ~/.pinnacle/pinnacle.db)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(flowsCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
