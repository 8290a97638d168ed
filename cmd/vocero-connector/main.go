// vocero-connector is the agent runtime: it receives launch requests
// from the worker, joins the call's media room, runs STT/TTS per
// session, bridges the carrier media stream, and serializes user turns
// through the tool and LLM layers.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/vocero-ai/vocero/pkg/config"
	"github.com/vocero-ai/vocero/pkg/connector"
	"github.com/vocero-ai/vocero/pkg/database"
	"github.com/vocero-ai/vocero/pkg/llm"
	"github.com/vocero-ai/vocero/pkg/metrics"
	"github.com/vocero-ai/vocero/pkg/secrets"
	"github.com/vocero-ai/vocero/pkg/store"
	"github.com/vocero-ai/vocero/pkg/tools"
	"github.com/vocero-ai/vocero/pkg/tts"
	"github.com/vocero-ai/vocero/pkg/version"
	"github.com/vocero-ai/vocero/pkg/voice"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8091")
	slog.Info("Starting vocero-connector",
		"version", version.Full(), "http_port", httpPort, "config_dir", *configDir)

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		slog.Error("Failed to load database config", "error", err)
		os.Exit(1)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	slog.Info("Connected to PostgreSQL database")

	st := store.New(dbClient.Pool())
	m := metrics.New()

	llmClient, err := llm.New(cfg.LLM)
	if err != nil {
		slog.Error("Failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	slog.Info("LLM client initialized", "provider", llmClient.Provider())

	var encryptionKey []byte
	if cfg.Auth.EncryptionKey != "" {
		encryptionKey, err = secrets.ParseKey(cfg.Auth.EncryptionKey)
		if err != nil {
			slog.Error("Failed to parse integration encryption key", "error", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("No encryption key configured; tools behind authenticated integrations will fail")
	}

	voiceManager := voice.NewManager(cfg.Voice, tts.NewChain(cfg.Voice.TTS), m)
	gateway := tools.NewGateway(st, cfg.Tools, m, encryptionKey)

	server := connector.NewServer(cfg, st, dbClient, voiceManager, llmClient, gateway, m)
	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("vocero-connector started",
		"voice_enabled", cfg.Voice.Enabled,
		"stt_provider", cfg.Voice.STTProvider,
		"llm_provider", llmClient.Provider())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop accepting new launches, then drain live sessions. Each Stop
	// closes the STT stream and leaves the media room.
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	for _, callID := range voiceManager.Sessions() {
		voiceManager.Stop(callID)
	}
	slog.Info("Shutdown complete")
}
