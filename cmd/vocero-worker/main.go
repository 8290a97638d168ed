// vocero-worker runs the background loops that move calls through the
// event log: handoff (room + dispatch minting), claimer, launcher, and
// ingestion, plus the janitor. Any number of replicas can run
// concurrently; claims are skip-locked.
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

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vocero-ai/vocero/pkg/auth"
	"github.com/vocero-ai/vocero/pkg/config"
	"github.com/vocero-ai/vocero/pkg/database"
	"github.com/vocero-ai/vocero/pkg/metrics"
	"github.com/vocero-ai/vocero/pkg/rooms"
	"github.com/vocero-ai/vocero/pkg/store"
	"github.com/vocero-ai/vocero/pkg/version"
	"github.com/vocero-ai/vocero/pkg/worker"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolvePodID determines the pod identifier for multi-replica loop
// naming. Priority: POD_ID env > HOSTNAME env > "local"
func resolvePodID() string {
	if id := os.Getenv("POD_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
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

	httpPort := getEnv("HTTP_PORT", "8090")
	podID := resolvePodID()
	slog.Info("Starting vocero-worker",
		"version", version.Full(), "http_port", httpPort, "pod_id", podID, "config_dir", *configDir)

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
	tokens := auth.NewServiceTokenService(cfg.Auth.ServiceSecret, cfg.Auth.ServiceTokenTTL)
	roomSvc := rooms.NewLiveKitService(cfg.LiveKit)

	pool := worker.NewPool(podID, st, cfg.Worker, roomSvc, tokens, m, dbConfig.DSN())
	if err := pool.Start(ctx); err != nil {
		slog.Error("Failed to start worker pool", "error", err)
		os.Exit(1)
	}

	// Small HTTP surface for liveness probes and scrapes.
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(c *gin.Context) {
		h := pool.Health(c.Request.Context())
		status := http.StatusOK
		if !h.IsHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	httpServer := &http.Server{
		Addr:              ":" + httpPort,
		Handler:           router,
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

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Stop loops first so no batch lands on a closed pool.
	pool.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
