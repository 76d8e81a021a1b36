package main

import (
	"fmt"
	"os"

	"github.com/farid/autostrike/internal/report"
	"github.com/farid/autostrike/internal/storage"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:   "report <session-id>",
	Short: "Render the report for a finished session",
	Long: `Print the markdown report for a session to stdout, or write it to a
file with --output. If the session already has an assembled artifact on disk
its content is used; otherwise the report is rendered fresh from the stored
transcript.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID := args[0]
		output, _ := cmd.Flags().GetString("output")

		if cfg == nil {
			return fmt.Errorf("config not loaded. Run 'autostrike init' first to create config")
		}

		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		sess, err := store.GetSession(sessionID)
		if err != nil {
			return fmt.Errorf("loading session %s: %w", sessionID, err)
		}
		if sess == nil {
			return fmt.Errorf("no session found with id %s", sessionID)
		}

		// Prefer the assembled artifact; fall back to rendering from the
		// transcript when it is missing.
		var body []byte
		if sess.ReportRef != "" {
			body, err = os.ReadFile(sess.ReportRef)
		}
		if body == nil || err != nil {
			body = []byte(report.Render(sess))
		}

		if output == "" {
			fmt.Print(string(body))
			return nil
		}
		if err := os.WriteFile(output, body, 0644); err != nil {
			return fmt.Errorf("writing report to %s: %w", output, err)
		}
		fmt.Printf("[*] Report written to %s\n", output)
		return nil
	},
}

func init() {
	reportCmd.Flags().StringP("output", "o", "", "Write the report to this file instead of stdout")

	rootCmd.AddCommand(reportCmd)
}
