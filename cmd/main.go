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

	"github.com/etrid/flarebridge/internal/api/routes"
	"github.com/etrid/flarebridge/internal/infrastructure/alerting"
	"github.com/etrid/flarebridge/internal/infrastructure/config"
	"github.com/etrid/flarebridge/internal/infrastructure/database"
	"github.com/etrid/flarebridge/internal/infrastructure/di"
	"github.com/etrid/flarebridge/pkg/logger"
	"github.com/etrid/flarebridge/pkg/metrics"
	"github.com/etrid/flarebridge/pkg/tracing"
)

// @title FlareBridge Relayer API
// @version 1.0
// @description Cross-chain bridge relayer: watches source chains for bridge deposits, aggregates attester signatures into M-of-N attestations, and relays attested messages to destination ledgers.

// @contact.name Etrid Engineering
// @contact.email eng@etrid.io

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

// version is stamped at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)

	// Initialize Sentry for error capture. An empty DSN is a no-op.
	if err := alerting.InitSentry(cfg.Alerting.SentryDSN, cfg.Environment, version); err != nil {
		log.Fatal("Failed to initialize Sentry", "error", err)
	}
	defer alerting.FlushSentry(2 * time.Second)

	// Initialize OpenTelemetry tracing
	tracingConfig := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.OTLPEndpoint,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRatio,
		Insecure:     cfg.Environment != "production",
	}
	tracingShutdown, err := tracing.InitTracer(context.Background(), tracingConfig, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	// Initialize database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Warn("Failed to close database connection", "error", err)
		}
	}()

	// Run migrations
	if err := database.RunMigrations(cfg.Database.URL); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build dependency injection container
	container, err := di.NewContainer(cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}
	container.Version = version
	defer container.Close()

	// Initialize router with DI container
	router := routes.SetupRoutes(container)

	runCtx, stopPipeline := context.WithCancel(context.Background())
	defer stopPipeline()

	// Start chain monitors. A chain that cannot connect at startup aborts
	// the whole process; partial fleets are started only by operator pause.
	if err := container.Monitors.Start(runCtx); err != nil {
		log.Fatal("Failed to start chain monitors", "error", err)
	}
	log.Info("Chain monitors started")

	// Escalate monitors that exhaust their reconnect budget
	go func() {
		for ev := range container.Monitors.FatalErrors() {
			log.Error("Chain monitor stopped fatally", "chain", ev.Chain, "error", ev.Err)
			alertCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			container.Notifier.MonitorFatal(alertCtx, ev.Chain, ev.Err)
			cancel()
		}
	}()

	// Start the relay submitter
	if err := container.Submitter.Start(runCtx); err != nil {
		log.Fatal("Failed to start relay submitter", "error", err)
	}
	log.Info("Relay submitter started")

	// Start background workers
	go container.ExpiryWorker.Start(runCtx)
	go container.SweeperWorker.Start(runCtx)
	if err := container.PrunerWorker.Start(runCtx); err != nil {
		log.Fatal("Failed to start deposit pruner", "error", err)
	}
	log.Info("Background workers started")

	// Create server
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"version", version,
		)

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Periodically export database pool metrics
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for range ticker.C {
			stats := db.Stats()
			metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
			metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
			metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
		}
	}()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down...")

	// Stop intake first so nothing new enters the pipeline, then drain the
	// submitter, then the housekeeping workers.
	log.Info("Stopping chain monitors...")
	container.Monitors.Stop()

	log.Info("Stopping relay submitter...")
	container.Submitter.Stop()

	log.Info("Stopping background workers...")
	container.ExpiryWorker.Stop()
	container.SweeperWorker.Stop()
	container.PrunerWorker.Stop()

	// Give outstanding requests time to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown", "error", err)
	}

	log.Info("Server exited gracefully")
}
