package main

import (
	"fmt"

	"github.com/farid/autostrike/internal/storage"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Show session history for a project",
	Long: `Display a formatted table of past scan sessions for a project.

Sessions are listed newest-first. Each row shows the session ID (truncated),
target, mode, status, and how many command rounds ran.

Use --limit to cap the number of rows shown (default: 10).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Step 1: Get flags
		projectID, _ := cmd.Flags().GetString("project")
		limit, _ := cmd.Flags().GetInt("limit")

		// Step 2: Config check
		if cfg == nil {
			return fmt.Errorf("config not loaded. Run 'autostrike init' first to create config")
		}

		// Step 3: Open bbolt store
		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		// Step 4: List sessions (sorted newest-first by store.ListSessions)
		sessions, err := store.ListSessions(projectID)
		if err != nil {
			return fmt.Errorf("listing sessions for %s: %w", projectID, err)
		}

		if len(sessions) == 0 {
			fmt.Printf("No session history found for project %s\n", projectID)
			return nil
		}

		// Step 5: Apply limit
		if limit > 0 && len(sessions) > limit {
			sessions = sessions[:limit]
		}

		// Step 6: Print formatted table
		const separator = "────────────────────────────────────────────────────────────────────────"

		fmt.Printf("\nSession History for project %s\n", projectID)
		fmt.Println(separator)
		fmt.Printf("  %-3s  %-12s  %-24s  %-10s  %-8s  %s\n", "#", "Session ID", "Target", "Mode", "Status", "Rounds")
		fmt.Println(separator)

		for i, sess := range sessions {
			id := sess.ID
			if len(id) > 12 {
				id = id[:12]
			}
			target := sess.Target
			if target == "" {
				target = "—"
			}
			if len(target) > 24 {
				target = target[:21] + "..."
			}
			fmt.Printf("  %-3d  %-12s  %-24s  %-10s  %-8s  %d/%d\n",
				i+1, id, target, sess.Mode, sess.Status, sess.ExecutedRounds(), sess.IterationLimit)
		}
		fmt.Println(separator)

		return nil
	},
}

func init() {
	sessionsCmd.Flags().StringP("project", "p", "", "Project id to list sessions for")
	sessionsCmd.Flags().Int("limit", 10, "Maximum number of sessions to show")

	rootCmd.AddCommand(sessionsCmd)
}
