package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var envFile string

var rootCmd = &cobra.Command{
	Use:   "modular",
	Short: "In-process module host",
	Long: `modular hosts named modules behind a topic-based event bus.

Available commands:
  run       Start the host with the configured scripts and broker adapters
  pattern   Parse topic patterns and test them against topics
  invoke    Run a single script module once
  library   Exercise a host library through its vtable

Use "modular [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of environment variables to load")
}
