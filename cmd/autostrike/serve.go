package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/farid/autostrike/internal/executor"
	"github.com/farid/autostrike/internal/generator"
	"github.com/farid/autostrike/internal/report"
	"github.com/farid/autostrike/internal/server"
	"github.com/farid/autostrike/internal/session"
	"github.com/farid/autostrike/internal/storage"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scan-session API server",
	Long: `Host the HTTP API the web client talks to.

Exposes session creation, start, status polling, approval replies, external
command bridging, an SSE event stream, and report retrieval under /api/v1.
Sessions run concurrently inside this process; shutting the server down
drains running sessions before exiting.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// ── 1. Read flags and check config ────────────────────────────────────
		listen, _ := cmd.Flags().GetString("listen")

		if cfg == nil {
			return fmt.Errorf("config not loaded. Run 'autostrike init' first to create config")
		}
		if listen == "" {
			listen = cfg.Listen
		}

		// ── 2. Open the session store ─────────────────────────────────────────
		store, err := storage.NewStore(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer store.Close()

		// ── 3. Assemble the orchestrator's collaborators ──────────────────────
		gen := generator.NewChat(generator.ChatConfig{
			BaseURL:           cfg.Generator.BaseURL,
			Model:             cfg.Generator.Model,
			APIKey:            cfg.APIKey(),
			RequestsPerMinute: cfg.Generator.RequestsPerMinute,
			Timeout:           cfg.GeneratorTimeout(),
		})

		exec := executor.NewLocal(cfg.Executor.Shell, cfg.ExecutorTimeout())
		exec.MaxRetries = cfg.Executor.MaxRetries
		exec.RetryInterval = cfg.RetryInterval()

		scope := &session.Scope{
			AllowedDomains: cfg.Scope.AllowedDomains,
			AllowedCIDRs:   cfg.Scope.AllowedCIDRs,
		}

		// ── 4. Run until interrupted ──────────────────────────────────────────
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		registry := session.NewRegistry(ctx, store, gen, exec,
			report.NewAssembler(cfg.ReportDir), scope,
			session.Config{
				ApprovalTimeout: cfg.ApprovalTimeout(),
				Notify:          &session.Notifier{WebhookURL: cfg.WebhookURL},
			})

		srv := server.New(listen, registry, store)
		fmt.Printf("[*] API server listening on %s\n", listen)
		return srv.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().String("listen", "", "Listen address (overrides config)")
	rootCmd.AddCommand(serveCmd)
}
