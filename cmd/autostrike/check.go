package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/farid/autostrike/internal/executor"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check executor tools and generator reachability",
	Long: `Verify the environment a session would run in: the shell and the
external tools the generator commonly proposes, plus whether the configured
generator endpoint answers at all. Shows installation status, version
information, and install instructions for missing tools.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		shell := ""
		if cfg != nil {
			shell = cfg.Executor.Shell
		}

		// Get tool list
		toolList := executor.DefaultTools(shell)

		// Check all tools
		results := executor.CheckTools(toolList)

		// Create table writer
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "Tool\tStatus\tVersion\tPurpose")
		fmt.Fprintln(w, "----\t------\t-------\t-------")

		missingRequired := 0
		for _, result := range results {
			status := "MISSING"
			version := "-"
			if result.Found {
				status = "OK"
				version = result.Version
			} else if result.Tool.Required {
				missingRequired++
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", result.Tool.Name, status, version, result.Tool.Purpose)
		}
		w.Flush()

		// Install hints for anything missing
		for _, result := range results {
			if !result.Found {
				fmt.Printf("\n[!] %s not found, install with: %s\n", result.Tool.Name, result.Tool.InstallCmd)
			}
		}

		// Generator reachability (best effort; requires config)
		if cfg != nil && cfg.Generator.BaseURL != "" {
			fmt.Printf("\nGenerator endpoint: %s\n", cfg.Generator.BaseURL)
			if err := pingGenerator(cfg.Generator.BaseURL); err != nil {
				fmt.Printf("  UNREACHABLE: %v\n", err)
			} else {
				fmt.Println("  OK")
			}
		}

		if missingRequired > 0 {
			return fmt.Errorf("%d required tool(s) missing", missingRequired)
		}
		return nil
	},
}

// pingGenerator issues a cheap request against the models listing endpoint.
// Any HTTP answer counts as reachable; auth failures still prove the
// endpoint is there.
func pingGenerator(baseURL string) error {
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get(strings.TrimRight(baseURL, "/") + "/models")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
