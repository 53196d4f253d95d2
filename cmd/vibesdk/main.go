// vibesdk server hosts per-session code generation agents behind an HTTP
// API with per-session WebSocket event channels.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/api"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/config"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/deploy"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/inference"
	"github.com/AshishKumar4/vibesdk-ashish/pkg/sandbox"
)

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func main() {
	envFile := flag.String("env-file", ".env", "Path to the environment file")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)
	log.Info("Starting vibesdk",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"model", cfg.DefaultModel)

	sandboxClient := sandbox.NewHTTPClient(cfg.SandboxBaseURL, cfg.SandboxToken)
	llmClient, err := inference.NewAnthropicClientFromAPIKey(cfg.AnthropicAPIKey, cfg.DefaultModel, cfg.MaxTokens)
	if err != nil {
		log.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}

	sessions, err := api.NewSessionManager(cfg.DataDir, api.SessionDeps{
		Sandbox: sandboxClient,
		LLM:     llmClient,
		Credentials: deploy.EnvCredentials{
			AccountIDVar: cfg.CloudflareAccountIDVar,
			APITokenVar:  cfg.CloudflareAPITokenVar,
		},
		Model: cfg.DefaultModel,
		Log:   log,
	})
	if err != nil {
		log.Error("Failed to initialize session manager", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(cfg, sessions, log)

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + strconv.Itoa(cfg.Port)
		log.Info("HTTP server listening", "addr", addr)
		if err := server.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		log.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		log.Error("Server error triggered shutdown", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", "error", err)
	}
	log.Info("Shutdown complete")
}
