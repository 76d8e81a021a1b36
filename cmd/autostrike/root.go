package main

import (
	"fmt"
	"os"

	"github.com/farid/autostrike/internal/config"
	"github.com/farid/autostrike/internal/logging"
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "autostrike",
	Short: "Interactive pentest scan-session orchestrator",
	Long: `Autostrike drives authorized penetration-test sessions command by command.
A generator proposes each command from the target and the transcript so far;
depending on the session mode the command runs immediately or pauses for
operator approval. Every proposal, override, and outcome lands in an
append-only transcript that becomes the final report.

Run 'autostrike serve' to host the HTTP API consumed by the web client, or
'autostrike scan' to drive a session directly from the terminal.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for commands that don't need it
		skipConfig := map[string]bool{
			"init":    true,
			"help":    true,
			"version": true,
		}

		if skipConfig[cmd.Name()] {
			return nil
		}

		// A missing default config file is not an error here; commands
		// that need config answer with guidance to run init.
		if _, err := os.Stat(cfgFile); err != nil && !cmd.Flags().Changed("config") {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			// check works without config (reduced output), every other
			// command needs it.
			if cmd.Name() == "check" {
				cfg = nil
				return nil
			}
			return fmt.Errorf("failed to load config: %w", err)
		}
		logging.Setup(cfg.Log, verbose)
		return nil
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "autostrike.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "verbose output")

	// Version flag
	rootCmd.Version = "0.1.0-dev"
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
