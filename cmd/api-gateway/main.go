package main

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/devmatch-io/devmatch-api/api/swagger"
	"github.com/devmatch-io/devmatch-api/internal/handler"
	"github.com/devmatch-io/devmatch-api/internal/middleware"
	"github.com/devmatch-io/devmatch-api/internal/models"
	"github.com/devmatch-io/devmatch-api/internal/repository"
	"github.com/devmatch-io/devmatch-api/internal/service"
	"github.com/devmatch-io/devmatch-api/pkg/cache"
	"github.com/devmatch-io/devmatch-api/pkg/config"
	"github.com/devmatch-io/devmatch-api/pkg/database"
	"github.com/devmatch-io/devmatch-api/pkg/jobs"
	"github.com/devmatch-io/devmatch-api/pkg/logger"
	corsmiddleware "github.com/devmatch-io/devmatch-api/pkg/middleware/cors"
	reqidmiddleware "github.com/devmatch-io/devmatch-api/pkg/middleware/requestid"
	"github.com/devmatch-io/devmatch-api/pkg/storage"
)

// @title DevMatch API
// @version 0.1.0
// @description Developer assignment rotation, quota gating and contact reveal
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching disabled", "error", err)
		redisClient = nil
	}

	validate := validator.New()
	metricsSvc := service.NewMetricsService()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	developerRepo := repository.NewDeveloperRepository(db)
	projectRepo := repository.NewProjectRepository(db)
	assignmentRepo := repository.NewAssignmentRepository(db)
	contactRepo := repository.NewContactRepository(db)
	subscriptionRepo := repository.NewSubscriptionRepository(db)
	notificationRepo := repository.NewNotificationRepository(db)
	statementRepo := repository.NewStatementRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	// Ambient services.
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Rotation.PoolCacheTTL, logr, redisClient != nil)
	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "devmatch-api",
	})
	notificationSvc := service.NewNotificationService(notificationRepo, logr, jobs.QueueConfig{
		Workers:    cfg.Notifications.Workers,
		BufferSize: cfg.Notifications.BufferSize,
		MaxRetries: cfg.Notifications.MaxRetries,
		Logger:     logr,
	})

	// Domain services.
	quotaSvc := service.NewQuotaService(subscriptionRepo, metricsSvc, logr, service.QuotaConfig{
		FreeProjectsTotal: cfg.Billing.FreeProjectsTotal,
	})
	rotationSvc := service.NewRotationService(developerRepo, assignmentRepo, cacheSvc, metricsSvc, logr, service.RotationConfig{
		BatchSize:          cfg.Rotation.BatchSize,
		AcceptanceDeadline: cfg.Rotation.AcceptanceDeadline,
		PoolCacheEnabled:   cfg.Rotation.PoolCacheEnabled && redisClient != nil,
		PoolCacheTTL:       cfg.Rotation.PoolCacheTTL,
	})
	developerSvc := service.NewDeveloperService(developerRepo, cacheSvc, logr)
	assignmentSvc := service.NewAssignmentService(assignmentRepo, projectRepo, quotaSvc, rotationSvc, notificationSvc, metricsSvc, validate, logr, cfg.Rotation.AcceptanceDeadline)
	projectSvc := service.NewProjectService(projectRepo, developerRepo, assignmentRepo, quotaSvc, rotationSvc, notificationSvc, userRepo, metricsSvc, validate, logr, cfg.Rotation.AcceptanceDeadline)
	revealSvc := service.NewRevealService(contactRepo, developerRepo, projectRepo, userRepo, quotaSvc, notificationSvc, metricsSvc, validate, logr)

	// Statement export pipeline.
	store, err := storage.NewLocalStorage(cfg.Statements.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init statement storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Statements.SignedURLSecret, cfg.Statements.SignedURLTTL)
	exportSvc := service.NewStatementExportService(subscriptionRepo, store, signer, service.StatementExportConfig{
		APIPrefix: cfg.APIPrefix,
		ResultTTL: cfg.Statements.SignedURLTTL,
	}, logr, nil, nil)
	statementWorker := service.NewStatementWorker(statementRepo, exportSvc, cfg.Statements.WorkerRetries, logr)
	statementQueue := jobs.NewQueue("statements", statementWorker.Handle, jobs.QueueConfig{
		Workers:    cfg.Statements.WorkerConcurrency,
		MaxRetries: cfg.Statements.WorkerRetries,
		Logger:     logr,
	})
	billingSvc := service.NewBillingService(statementRepo, quotaSvc, statementQueue, exportSvc, cacheSvc, validate, logr, service.BillingServiceConfig{
		SnapshotTTL:     cfg.Billing.SnapshotCacheTTL,
		ResultTTL:       cfg.Statements.SignedURLTTL,
		CleanupInterval: cfg.Statements.CleanupInterval,
		MaxRetries:      cfg.Statements.WorkerRetries,
	})

	ctx := context.Background()
	notificationSvc.Start(ctx)
	defer notificationSvc.Stop()
	if cfg.Statements.Enabled {
		statementQueue.Start(ctx)
		defer statementQueue.Stop()
		billingSvc.RecoverPendingJobs(ctx)
		billingSvc.StartCleanup(ctx)
	}

	// Handlers.
	authHandler := handler.NewAuthHandler(authSvc)
	projectHandler := handler.NewProjectHandler(projectSvc, assignmentSvc, revealSvc)
	candidateHandler := handler.NewCandidateHandler(assignmentSvc, developerSvc)
	connectHandler := handler.NewConnectHandler(assignmentSvc)
	billingHandler := handler.NewBillingHandler(billingSvc)
	adminHandler := handler.NewAdminHandler(projectSvc, developerSvc, revealSvc)
	notificationHandler := handler.NewNotificationHandler(notificationSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)

	authed := api.Group("")
	authed.Use(middleware.JWT(authSvc))

	clients := authed.Group("")
	clients.Use(middleware.RequireRoles(models.RoleClient, models.RoleAdmin))
	clients.POST("/projects", projectHandler.Create)
	clients.GET("/projects", projectHandler.List)
	clients.GET("/projects/:id", projectHandler.Get)
	clients.GET("/projects/:id/assignment", projectHandler.Assignment)
	clients.POST("/projects/:id/contact-reveal", projectHandler.Reveal)
	clients.POST("/connects",
		middleware.Audit(userRepo, models.AuditActionConnectInvite, "candidate"),
		connectHandler.Invite)
	clients.GET("/billing/usage", billingHandler.Usage)
	clients.GET("/billing/quota", billingHandler.Quota)
	clients.POST("/billing/statements", billingHandler.RequestStatement)
	clients.GET("/billing/statements/status/:id", billingHandler.StatementStatus)

	developers := authed.Group("/candidates")
	developers.Use(middleware.RequireRoles(models.RoleDeveloper))
	developers.GET("/offers", candidateHandler.Offers)
	developers.POST("/:id/accept", candidateHandler.Accept)
	developers.POST("/:id/reject", candidateHandler.Reject)
	developers.PUT("/availability", candidateHandler.SetAvailability)

	authed.GET("/notifications", notificationHandler.List)
	authed.GET("/metrics/snapshot", middleware.RequireRoles(models.RoleAdmin), metricsHandler.Snapshot)

	admin := authed.Group("/admin")
	admin.Use(middleware.RequireRoles(models.RoleAdmin))
	admin.POST("/projects/:id/assign", adminHandler.AssignDeveloper)
	admin.PUT("/projects/:id/status", adminHandler.SetProjectStatus)
	admin.POST("/developers/:id/approve", adminHandler.ApproveDeveloper)
	admin.POST("/contacts/grants", adminHandler.GrantContact)

	// Token-gated, no session required.
	api.GET("/billing/statements/download/:token", billingHandler.Download)

	addr := fmt.Sprintf(":%d", cfg.Port)
	logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
	if err := r.Run(addr); err != nil {
		logr.Sugar().Fatalw("server failed", "error", err)
	}
}
