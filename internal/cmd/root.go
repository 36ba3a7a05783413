// Package cmd provides the CLI commands for Sightline.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sightlinehq/sightline/internal/appdir"
	"github.com/sightlinehq/sightline/internal/config"
	"github.com/sightlinehq/sightline/internal/logging"
)

var (
	// Global flags
	configPath string
	debug      bool
	logLevel   string
	logFile    string

	// Loaded configuration
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "sightline",
	Short: "Sightline - a browser-automation agent with a live web frontend",
	Long: `Sightline drives a real browser through natural command lines and
streams what it sees back to you.

Run "sightline web" to start the backend plus the web interface, or
"sightline chat" for a terminal session against a running backend.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		path := configPath
		if path == "" {
			path = config.DefaultConfigPath()
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		// Level priority: --log-level > --debug > config file.
		level := cfg.Logging.Level
		if debug {
			level = "debug"
		}
		if logLevel != "" {
			level = logLevel
		}
		file := cfg.Logging.File
		if logFile != "" {
			file = logFile
		}
		if err := logging.Initialize(logging.Config{
			Level:   level,
			LogFile: file,
		}); err != nil {
			return fmt.Errorf("failed to initialize logging: %w", err)
		}

		if err := appdir.EnsureDir(); err != nil {
			return fmt.Errorf("failed to create Sightline directory: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return logging.Close()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file path (default: ~/.sightlinerc)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging (shorthand for --log-level=debug)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVarP(&logFile, "logfile", "l", "", "Log file path (logs are also written to console)")
}
