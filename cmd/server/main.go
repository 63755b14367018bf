// Package main runs the agentdeck server: a REST API for accounts,
// projects, and agents, plus the WebSocket bridge that drives claude
// CLI sessions for connected clients.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/api"
	"github.com/agentdeck/agentdeck/internal/auth"
	"github.com/agentdeck/agentdeck/internal/claude"
	"github.com/agentdeck/agentdeck/internal/common/config"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/events/bus"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/ws"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting agentdeck...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Initialize event bus (NATS if configured, in-memory otherwise)
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		log.Info("Connecting to NATS...", zap.String("url", cfg.NATS.URL))
		natsEventBus, err := bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		eventBus = natsEventBus
		defer natsEventBus.Close()
	} else {
		eventBus = bus.NewMemoryEventBus(log)
	}

	// 4. Initialize storage
	var repo store.Repository
	switch cfg.Database.Driver {
	case "postgres":
		repo, err = store.NewPostgresRepository(ctx, cfg.Database.DSN)
		if err != nil {
			log.Fatal("Failed to initialize Postgres", zap.Error(err))
		}
		log.Info("Postgres database initialized")
	default:
		repo, err = store.NewSQLiteRepository(cfg.Database.Path)
		if err != nil {
			log.Fatal("Failed to initialize SQLite database", zap.Error(err),
				zap.String("db_path", cfg.Database.Path))
		}
		log.Info("SQLite database initialized", zap.String("db_path", cfg.Database.Path))
	}
	defer repo.Close()

	// 5. Auth tokens
	tokens := auth.NewManager(cfg.Auth.Secret, cfg.Auth.TokenTTLDuration())

	// 6. Claude bridge: launcher, streamer, process registry
	registry := claude.NewRegistry()
	launcher := claude.NewLauncher(cfg.Claude.Binary, log)
	streamer := claude.NewStreamer(cfg.Claude.CLITimeout(), registry, log)
	history := claude.NewHistoryReader("")
	log.Info("Claude bridge configured",
		zap.String("binary", cfg.Claude.Binary),
		zap.Duration("timeout", cfg.Claude.CLITimeout()))

	// 7. WebSocket gateway and session coordinator
	hub := ws.NewHub(tokens, log)
	coordinator := ws.NewCoordinator(repo, launcher, streamer, history, registry, eventBus, log)
	hub.SetHandler(coordinator)
	go hub.Run()

	// 8. HTTP server
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(repo, tokens, log)
	router := api.Router(handler, tokens, hub.ServeWS, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	go func() {
		log.Info("Server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	log.Info("API configured",
		zap.String("websocket", "/ws"),
		zap.String("http", "/api/v1"),
		zap.String("health", "/health"))

	// 9. Graceful shutdown: stop accepting traffic, close every
	// connection, and kill any claude process still running
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down agentdeck...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	hub.Close()
	coordinator.Shutdown()

	log.Info("agentdeck stopped")
}
