package main

import (
	"fmt"
	"log"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"

	"fitforge/internal/caching"
	"fitforge/internal/config"
	"fitforge/internal/handlers"
	"fitforge/internal/jobs/background"
	"fitforge/internal/middleware"
	"fitforge/internal/repositories"
	"fitforge/internal/services"
	"fitforge/pkg/database"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET environment variable is required")
	}

	pool, err := database.NewPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	cacheSvc := caching.NewRedisCacheService(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	archiveSvc, err := services.NewMinioArchiveService(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioUseSSL, cfg.MinioBucket)
	if err != nil {
		log.Fatalf("Failed to initialize archive service: %v", err)
	}

	if !cfg.StripeConfigured() {
		log.Printf("WARNING: Stripe secret key missing or malformed; checkout and portal run in demo mode")
	}
	processor := services.NewProcessorService(cfg.StripeSecretKey)

	// Repositories
	subscriptionRepo := repositories.NewSubscriptionRepo(pool)
	eventRepo := repositories.NewBillingEventRepo(pool)

	// Services
	billingSvc := services.NewBillingService(subscriptionRepo, processor, cacheSvc, cfg.BaseURL)
	reconciler := services.NewReconcilerService(subscriptionRepo, eventRepo, processor, cacheSvc)

	// Handlers
	billingHandlers := handlers.NewBillingHandlers(billingSvc, eventRepo)
	webhookHandlers := handlers.NewWebhookHandlers(reconciler, archiveSvc, cacheSvc, eventRepo, cfg.StripeWebhookSecret)
	healthHandlers := handlers.NewHealthHandlers(pool, cacheSvc)

	// Background jobs
	scheduler, err := background.NewJobScheduler(eventRepo)
	if err != nil {
		log.Fatalf("Failed to create job scheduler: %v", err)
	}
	scheduler.Start()
	defer func() {
		if err := scheduler.Stop(); err != nil {
			log.Printf("WARN: scheduler shutdown: %v", err)
		}
	}()

	e := echo.New()

	// Global middleware
	e.Use(echoMiddleware.Logger())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORS())
	e.Use(echoMiddleware.RemoveTrailingSlash())

	// Health endpoints (no auth required)
	e.GET("/health", healthHandlers.HealthCheck)
	e.GET("/health/ready", healthHandlers.ReadinessCheck)
	e.GET("/health/detailed", healthHandlers.HealthCheckDetailed)

	// Inbound processor events; authenticated by signature, not JWT.
	e.POST("/webhooks/stripe", webhookHandlers.StripeWebhook)

	v1 := e.Group("/v1")

	// Public catalog
	v1.GET("/billing/plans", billingHandlers.ListPlans)

	// Authenticated billing routes
	protected := v1.Group("/billing")
	protected.Use(middleware.JWTMiddleware(cfg.JWTSecret))
	protected.POST("/checkout-session", billingHandlers.CreateCheckoutSession)
	protected.POST("/portal-session", billingHandlers.CreatePortalSession)
	protected.GET("/subscription", billingHandlers.GetSubscription)
	protected.GET("/events", billingHandlers.ListBillingEvents)

	log.Printf("FitForge billing service v%s starting on port %s", version, cfg.Port)
	e.Logger.Fatal(e.Start(fmt.Sprintf(":%s", cfg.Port)))
}
