package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/etrid/flarebridge/internal/api/handlers"
	"github.com/etrid/flarebridge/internal/api/middleware"
	"github.com/etrid/flarebridge/internal/infrastructure/di"
	"github.com/etrid/flarebridge/pkg/tracing"
)

// SetupRoutes configures all application routes
func SetupRoutes(container *di.Container) *gin.Engine {
	router := gin.New()

	// Global middleware - order matters
	router.Use(tracing.HTTPMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(container.Logger))
	router.Use(middleware.Recovery(container.Logger))
	router.Use(middleware.CORS(container.Config.Server.AllowedOrigins))
	router.Use(middleware.RateLimit(container.Config.Server.RateLimitPerMin))
	router.Use(middleware.SecurityHeaders())

	healthHandler := handlers.NewHealthHandler(
		container.LivenessChecker,
		container.ReadinessChecker,
		container.Monitors,
		container.ZapLog,
		container.Version,
	)
	attestationHandler := handlers.NewAttestationHandler(container.AttestationService, container.ZapLog)
	depositHandler := handlers.NewDepositHandler(container.DepositRepo, container.ZapLog)
	relayHandler := handlers.NewRelayHandler(container.Submitter, container.ZapLog)
	statsHandler := handlers.NewStatsHandler(
		container.DepositRepo,
		container.AttestationRepo,
		container.Submitter,
		container.ZapLog,
	)
	adminHandler := handlers.NewAdminHandler(
		container.AttestationService,
		container.Submitter,
		container.Monitors,
		container.AuditService,
		container.ZapLog,
	)

	// Probes and metrics (no auth required)
	router.GET("/health", healthHandler.Health)
	router.GET("/health/liveness", healthHandler.Liveness)
	router.GET("/health/readiness", healthHandler.Readiness)
	router.GET("/ping", healthHandler.Ping)
	router.GET("/version", healthHandler.Version)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Swagger documentation (development only)
	if container.Config.Environment != "production" {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// API v1 routes; everything below requires a bearer token
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Authentication(container.Config.JWT.Secret, container.Logger))
	v1.Use(middleware.SubjectRateLimit(container.SubjectLimiter, container.Logger))
	v1.Use(middleware.AuditContext())
	{
		v1.POST("/attestations/:messageHash/signatures", attestationHandler.SubmitSignature)
		v1.GET("/attestations", attestationHandler.ListAttestations)
		v1.GET("/attestations/:messageHash", attestationHandler.GetAttestation)
		v1.GET("/attestations/:messageHash/status", attestationHandler.GetAttestationStatus)
		v1.GET("/attesters", attestationHandler.GetAttesterSet)

		v1.GET("/deposits", depositHandler.ListDeposits)
		v1.GET("/deposits/lookup", depositHandler.LookupDeposit)
		v1.GET("/deposits/:id", depositHandler.GetDeposit)

		v1.GET("/relays", relayHandler.ListRelayJobs)
		v1.GET("/relays/:messageHash", relayHandler.GetRelayJob)
		v1.POST("/relays/:messageHash/submit", relayHandler.SubmitRelay)

		v1.GET("/monitors", healthHandler.ListMonitors)
		v1.GET("/stats", statsHandler.GetStats)

		// Operator endpoints: admin role plus a per-request TOTP code
		admin := v1.Group("/admin")
		admin.Use(middleware.AdminOnly())
		admin.Use(middleware.TOTPGuard(container.Config.Security.AdminTOTPSecret, container.Logger))
		{
			admin.POST("/relays/:messageHash/requeue", adminHandler.RequeueRelay)
			admin.POST("/attestations/:messageHash/expire", adminHandler.ForceExpireAttestation)
			admin.POST("/attesters/reload", adminHandler.ReloadAttesters)
			admin.POST("/monitors/:chain/pause", adminHandler.PauseMonitor)
			admin.POST("/monitors/:chain/resume", adminHandler.ResumeMonitor)
			admin.GET("/audit-logs", adminHandler.ListAuditLogs)
		}
	}

	return router
}
