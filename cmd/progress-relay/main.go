package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/finsight/finsight/internal/common/config"
	"github.com/finsight/finsight/internal/common/httpmw"
	"github.com/finsight/finsight/internal/common/logger"
	"github.com/finsight/finsight/internal/events/bus"
	"github.com/finsight/finsight/internal/progress/repository"
	"github.com/finsight/finsight/internal/relay"
	"github.com/finsight/finsight/internal/relay/api"
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
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetDefault(log)

	log.Info("Starting Progress Relay service...")

	// 3. Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 4. Connect to the event bus (NATS when configured, in-memory otherwise)
	var eventBus bus.EventBus
	if cfg.NATS.URL != "" {
		eventBus, err = bus.NewNATSEventBus(cfg.NATS, log)
		if err != nil {
			log.Fatal("Failed to connect to NATS", zap.Error(err))
		}
		log.Info("Connected to NATS event bus", zap.String("url", cfg.NATS.URL))
	} else {
		eventBus = bus.NewMemoryEventBus(log)
		log.Info("Using in-memory event bus")
	}
	defer eventBus.Close()

	// 5. Initialize the progress history store
	var repo repository.Repository
	switch strings.ToLower(cfg.Database.Driver) {
	case "sqlite":
		repo, err = repository.NewSQLiteRepository(cfg.Database.Path)
		if err != nil {
			log.Fatal("Failed to open SQLite history store", zap.Error(err))
		}
		log.Info("Using SQLite history store", zap.String("path", cfg.Database.Path))
	case "postgres":
		repo, err = repository.NewPostgresRepository(ctx, cfg.Database)
		if err != nil {
			log.Fatal("Failed to connect to Postgres history store", zap.Error(err))
		}
		log.Info("Using Postgres history store", zap.String("host", cfg.Database.Host))
	default:
		repo = repository.NewMemoryRepository()
		log.Info("Using in-memory history store")
	}
	defer repo.Close()

	// 6. Initialize the upstream client for the analysis backend
	upstream := relay.NewUpstream(cfg.Upstream, log)
	log.Info("Configured analysis backend", zap.String("base_url", cfg.Upstream.BaseURL))

	// 7. Start the relay service
	svc := relay.NewService(eventBus, repo, log)
	if err := svc.Start(); err != nil {
		log.Fatal("Failed to start relay service", zap.Error(err))
	}
	log.Info("Started relay service")

	// 8. Setup HTTP server with Gin
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(httpmw.RequestID())
	router.Use(httpmw.CORS())
	router.Use(httpmw.RequestLogger(log, "progress-relay"))

	// 9. Register API routes
	apiGroup := router.Group("/api")
	handler := api.SetupRoutes(apiGroup, svc, upstream, log)

	// Health check endpoint at root level
	router.GET("/health", handler.HealthCheck)

	// 10. Create HTTP server. No write timeout: event streams stay open for
	// the lifetime of an analysis run.
	server := &http.Server{
		Addr:        fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeoutDuration(),
	}

	// 11. Start server in goroutine
	go func() {
		log.Info("HTTP server listening", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start HTTP server", zap.Error(err))
		}
	}()

	// 12. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down Progress Relay service...")

	// 13. Graceful shutdown
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Stop the relay service (drops all live subscribers)
	svc.Stop()

	log.Info("Progress Relay service stopped")
}
