package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tablepilot/tablepilot/pkg/agent"
	"github.com/tablepilot/tablepilot/pkg/analyzer"
	"github.com/tablepilot/tablepilot/pkg/model/gemini"
	"github.com/tablepilot/tablepilot/pkg/sandbox"
	"github.com/tablepilot/tablepilot/pkg/sandbox/docker"
	"github.com/tablepilot/tablepilot/pkg/sandbox/script"
	"github.com/tablepilot/tablepilot/pkg/server"
	"github.com/tablepilot/tablepilot/pkg/session"
	"github.com/tablepilot/tablepilot/pkg/store/sqlite"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address")
	serveCmd.Flags().String("db", "", "sqlite database path")
	serveCmd.Flags().String("data-dir", "", "directory for uploaded datasets")
	serveCmd.Flags().String("model", "", "model name for the reasoning loop")
	serveCmd.Flags().String("executor", "", "code executor: script or docker")
	serveCmd.Flags().Int("step-budget", 0, "max reasoning rounds per query")
	serveCmd.Flags().Int("parse-retries", 0, "corrective retries on malformed model output")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.APIKey == "" {
		return errors.New("no API key: set TABLEPILOT_API_KEY or GEMINI_API_KEY")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, dir := range []string{filepath.Dir(cfg.DBPath), cfg.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	st, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	provider, err := gemini.New(ctx, cfg.APIKey)
	if err != nil {
		return fmt.Errorf("initializing model provider: %w", err)
	}

	agentCfg := agent.Config{
		Model:        cfg.Model,
		StepBudget:   cfg.StepBudget,
		ParseRetries: cfg.ParseRetries,
	}

	var newAgent session.NewAgentFunc
	switch cfg.Executor {
	case "docker":
		mgr, err := docker.New()
		if err != nil {
			return fmt.Errorf("initializing runner manager: %w", err)
		}
		defer mgr.Close()
		go func() {
			if err := mgr.Run(ctx, st); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Runner manager stopped", "error", err)
			}
		}()
		newAgent = func(sessionID string) *agent.Agent {
			return agent.New(provider, mgr.Executor(sessionID), agentCfg)
		}
	default:
		newAgent = func(string) *agent.Agent {
			return agent.New(provider, script.New(sandbox.DefaultScopePolicy()), agentCfg)
		}
	}

	registry := session.NewRegistry(newAgent)
	defer registry.Close()

	srv := server.New(st, st, registry, provider, analyzer.New(provider, cfg.Model), cfg.DataDir)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Addr)
	}()

	slog.Info("Serving", "addr", cfg.Addr, "executor", cfg.Executor, "model", cfg.Model)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		slog.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}
