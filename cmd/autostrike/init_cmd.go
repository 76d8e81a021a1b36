package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/farid/autostrike/internal/config"
	"github.com/farid/autostrike/internal/storage"
	"github.com/spf13/cobra"
)

var (
	initForce bool
	initDir   string
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize autostrike with default configuration",
	Long: `Creates a default configuration file (autostrike.yaml), the report
directory, and the database for storing session state.

This is typically the first command you run when setting up autostrike.
Edit the generated file afterwards to point at your generator endpoint and
to restrict the target scope for your engagement.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath := filepath.Join(initDir, "autostrike.yaml")

		// Check if config already exists
		if _, err := os.Stat(configPath); err == nil && !initForce {
			return fmt.Errorf("config file already exists at %s. Use --force to overwrite", configPath)
		}

		// Create default config
		if err := config.WriteDefault(configPath); err != nil {
			return fmt.Errorf("failed to create config file: %w", err)
		}
		fmt.Printf("Created %s with default configuration\n", configPath)

		// Load the config we just created to get paths
		loaded, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// Create report directory
		if err := os.MkdirAll(loaded.ReportDir, 0755); err != nil {
			return fmt.Errorf("failed to create report directory: %w", err)
		}
		fmt.Printf("Created report directory %s\n", loaded.ReportDir)

		// Initialize the database
		store, err := storage.NewStore(loaded.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		store.Close()
		fmt.Printf("Initialized database %s\n", loaded.DBPath)

		fmt.Println("\nNext steps:")
		fmt.Println("  1. Set generator.base_url and model in autostrike.yaml")
		fmt.Println("  2. Restrict scope.allowed_domains / allowed_cidrs for the engagement")
		fmt.Println("  3. Run 'autostrike check' to verify the environment")
		return nil
	},
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
	initCmd.Flags().StringVar(&initDir, "dir", ".", "Directory to write the configuration into")

	rootCmd.AddCommand(initCmd)
}
