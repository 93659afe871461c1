// Package main provides the CLI entry point for the skipper browser agent gateway.
//
// Skipper streams browser-automation agent conversations over HTTP. It pairs
// LLM providers (Anthropic, OpenAI, Gemini) with remote Steel browser
// sessions and drives them through a tool-calling loop.
//
// # Basic Usage
//
// Start the server:
//
//	skipper serve --config skipper.yaml
//
// List the available agent variants:
//
//	skipper agents
//
// # Environment Variables
//
//   - STEEL_API_KEY: Steel API key for browser sessions
//   - STEEL_API_URL / STEEL_CONNECT_URL: Steel endpoint overrides
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
//   - GEMINI_API_KEY: Google API key for Gemini models
//   - SKIPPER_PORT / SKIPPER_LOG_LEVEL: server overrides
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/skipperhq/skipper/internal/agent"
	"github.com/skipperhq/skipper/internal/config"
	"github.com/skipperhq/skipper/internal/control"
	"github.com/skipperhq/skipper/internal/gateway"
	"github.com/skipperhq/skipper/internal/observability"
	"github.com/skipperhq/skipper/internal/steel"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// A local env file keeps credentials out of the shell during
	// development; absence is the normal production case.
	_ = godotenv.Load(".env.local")

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "skipper",
		Short: "Skipper - browser agent streaming gateway",
		Long: `Skipper streams browser-automation agent conversations over HTTP.

Agent variants: browser_use_agent, claude_computer_use, openai_computer_use
LLM providers: Anthropic (Claude), OpenAI (GPT), Google (Gemini)`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildAgentsCmd(),
	)

	return rootCmd
}

// buildServeCmd creates the "serve" command that starts the gateway server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the skipper gateway server",
		Long: `Start the gateway server.

The server will:
1. Load configuration from the specified file (or skipper.yaml)
2. Initialize the Steel session client and the per-provider LLM factories
3. Start the HTTP server for chat streaming, session control, and metrics

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  skipper serve

  # Start with custom config
  skipper serve --config /etc/skipper/production.yaml

  # Start with debug logging
  skipper serve --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "skipper.yaml",
		"Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false,
		"Enable debug logging (verbose output)")

	return cmd
}

// runServe implements the serve command logic: configuration loading,
// dependency wiring, and graceful shutdown.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	logger.Info("starting skipper gateway",
		"version", version,
		"commit", commit,
		"config", configPath,
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)
	tracer := observability.NewTracer()

	sessions := steel.NewClient(cfg.Steel.APIURL, cfg.Steel.ConnectURL, cfg.Steel.APIKey, logger)

	server, err := gateway.NewServer(gateway.Deps{
		Config:         cfg,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer,
		Registry:       control.NewRegistry(),
		Sessions:       sessions,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		NewModelClient: gateway.NewClientFactory(cfg.LLM, logger),
		NewRunner:      gateway.NewRunnerFactory(sessions, logger),
	})
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := server.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	logger.Info("shutdown signal received, draining requests")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown failed", "error", err.Error())
	}
	logger.Info("skipper gateway stopped")
	return nil
}

// buildAgentsCmd creates the "agents" command that prints the agent catalog.
func buildAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List available agent variants",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			for _, info := range agent.Catalog() {
				fmt.Fprintf(out, "%s - %s\n", info.Type, info.Name)
				if info.Description != "" {
					fmt.Fprintf(out, "    %s\n", info.Description)
				}
				for _, sm := range info.SupportedModels {
					fmt.Fprintf(out, "    %s: %v\n", sm.Provider, sm.Models)
				}
			}
			return nil
		},
	}
}
