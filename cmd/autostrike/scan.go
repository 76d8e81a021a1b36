package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/farid/autostrike/internal/executor"
	"github.com/farid/autostrike/internal/generator"
	"github.com/farid/autostrike/internal/models"
	"github.com/farid/autostrike/internal/report"
	"github.com/farid/autostrike/internal/session"
	"github.com/farid/autostrike/internal/storage"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a scan session from the terminal",
	Long: `Drive one scan session end to end without the API server.

The generator proposes commands round by round up to the iteration limit.
In attended mode each proposal pauses here: press enter (or type "o") to
approve it, or type a replacement command to override. Generator output
streams to the terminal as it is produced.

The finished transcript is persisted like any server-run session and the
report is written to the configured report directory.

Examples:
  autostrike scan -t 10.0.0.5
  autostrike scan -t example.com --preset full-assault
  autostrike scan -t 10.0.0.0/24 --mode attended --iterations 5
  autostrike scan -t 10.0.0.5 --script "nmap -sV {{target}}" --script "curl -I http://{{target}}"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// ── 1. Read all flags ──────────────────────────────────────────────────
		target, _ := cmd.Flags().GetString("target")
		modeFlag, _ := cmd.Flags().GetString("mode")
		iterations, _ := cmd.Flags().GetInt("iterations")
		presetName, _ := cmd.Flags().GetString("preset")
		scriptCmds, _ := cmd.Flags().GetStringArray("script")
		name, _ := cmd.Flags().GetString("name")
		projectID, _ := cmd.Flags().GetString("project")

		// ── 2. Config check ────────────────────────────────────────────────────
		if cfg == nil {
			return fmt.Errorf("config not loaded. Run 'autostrike init' first to create config")
		}

		// ── 3. Apply preset (flags override preset values) ────────────────────
		mode := models.SessionMode(modeFlag)
		systemPrompt := ""

		if presetName != "" {
			preset, err := session.GetPreset(presetName)
			if err != nil {
				return err
			}
			fmt.Printf("[*] Using preset: %s (%s)\n", preset.Name, preset.Description)

			// Preset provides defaults; explicit flags take precedence.
			if !cmd.Flags().Changed("mode") {
				mode = preset.Mode
			}
			if iterations <= 0 {
				iterations = preset.Iterations
			}
			systemPrompt = preset.SystemPrompt
		}
		if !mode.Valid() {
			return fmt.Errorf("invalid mode %q (unattended, attended, reasoning)", mode)
		}
		if iterations <= 0 {
			iterations = cfg.Session.DefaultIterations
		}

		// ── 4. Open the session store ─────────────────────────────────────────
		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		// ── 5. Assemble collaborators ─────────────────────────────────────────
		var gen session.Generator
		if len(scriptCmds) > 0 {
			gen = generator.NewScript(scriptCmds)
		} else {
			gen = generator.NewChat(generator.ChatConfig{
				BaseURL:           cfg.Generator.BaseURL,
				Model:             cfg.Generator.Model,
				APIKey:            cfg.APIKey(),
				RequestsPerMinute: cfg.Generator.RequestsPerMinute,
				Timeout:           cfg.GeneratorTimeout(),
			})
		}

		exec := executor.NewLocal(cfg.Executor.Shell, cfg.ExecutorTimeout())
		exec.MaxRetries = cfg.Executor.MaxRetries
		exec.RetryInterval = cfg.RetryInterval()

		scope := &session.Scope{
			AllowedDomains: cfg.Scope.AllowedDomains,
			AllowedCIDRs:   cfg.Scope.AllowedCIDRs,
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		registry := session.NewRegistry(ctx, store, gen, exec,
			report.NewAssembler(cfg.ReportDir), scope,
			session.Config{
				ApprovalTimeout: cfg.ApprovalTimeout(),
				Notify:          &session.Notifier{WebhookURL: cfg.WebhookURL},
			})

		// ── 6. Create the session and follow its event stream ─────────────────
		sess, err := registry.Create(name, projectID, "cli", mode, iterations, systemPrompt)
		if err != nil {
			return fmt.Errorf("creating session: %w", err)
		}
		fmt.Printf("[*] Session ID: %s\n", sess.ID)

		m, err := registry.Get(sess.ID)
		if err != nil {
			return err
		}
		events, cancelSub := m.Events().Subscribe(256)
		defer cancelSub()

		go followEvents(m, events)

		// ── 7. Start and wait for a terminal status ───────────────────────────
		if err := m.Start(ctx, target, scope); err != nil {
			return err
		}

		select {
		case <-m.Done():
		case <-ctx.Done():
			m.Cancel()
			<-m.Done()
		}

		// ── 8. Print the summary ──────────────────────────────────────────────
		final := m.Snapshot()
		fmt.Printf("\n[*] Session finished: %s (%d/%d rounds)\n",
			final.Status, final.ExecutedRounds(), final.IterationLimit)
		if final.Failure != "" {
			fmt.Printf("[!] Failure: %s\n", final.Failure)
		}
		if final.ReportRef != "" {
			fmt.Printf("[*] Report: %s\n", final.ReportRef)
		}
		return nil
	},
}

// followEvents renders the session's event stream on the terminal and
// answers approval pauses from stdin.
func followEvents(m *session.Machine, events <-chan session.Event) {
	stdin := bufio.NewReader(os.Stdin)

	for ev := range events {
		switch ev.Type {
		case session.EventToken:
			if token, ok := ev.Data["token"].(string); ok {
				fmt.Print(token)
			}
		case session.EventEnd:
			fmt.Println()
		case session.EventAwaitingApproval:
			command, _ := ev.Data["command"].(string)
			fmt.Printf("\n[?] Proposed: %s\n", command)
			fmt.Print("    Press enter or type \"o\" to approve, or type a replacement command: ")

			line, err := stdin.ReadString('\n')
			if err != nil {
				continue
			}
			line = strings.TrimSpace(line)

			var submitErr error
			if line == "" || line == "o" {
				submitErr = m.SubmitApproval(true, "")
			} else {
				submitErr = m.SubmitApproval(false, line)
			}
			if submitErr != nil {
				fmt.Printf("[!] Could not submit decision: %v\n", submitErr)
			}
		case session.EventRecord:
			if filled, _ := ev.Data["filled"].(bool); filled {
				command, _ := ev.Data["command"].(string)
				fmt.Printf("[+] Completed: %s\n", command)
			}
		}
	}
}

func init() {
	scanCmd.Flags().StringP("target", "t", "", "Target IP, CIDR, or domain (required)")
	scanCmd.Flags().String("mode", string(models.ModeUnattended), "Session mode: unattended, attended, reasoning")
	scanCmd.Flags().Int("iterations", 0, "Command rounds to run (0 = preset or config default)")
	scanCmd.Flags().String("preset", "", "Named preset: recon, full-assault, observer")
	scanCmd.Flags().StringArray("script", nil, "Scripted command instead of the generator (repeatable; {{target}} is substituted)")
	scanCmd.Flags().String("name", "cli-session", "Session name")
	scanCmd.Flags().String("project", "cli", "Project id the session is filed under")
	scanCmd.MarkFlagRequired("target")

	rootCmd.AddCommand(scanCmd)
}
