package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/akosterin/vk-bot-platform/environments"
	"github.com/akosterin/vk-bot-platform/handlers"
	"github.com/akosterin/vk-bot-platform/internal/repository"
	"github.com/akosterin/vk-bot-platform/internal/scheduler"
	"github.com/akosterin/vk-bot-platform/internal/service"
	"github.com/akosterin/vk-bot-platform/pkg/database"
	"github.com/akosterin/vk-bot-platform/pkg/logger"
	"github.com/akosterin/vk-bot-platform/pkg/redis"
	"github.com/akosterin/vk-bot-platform/pkg/validator"
	"github.com/akosterin/vk-bot-platform/pkg/vk"
	"github.com/akosterin/vk-bot-platform/routes"

	_ "github.com/akosterin/vk-bot-platform/docs" // swagger docs
)

// @title VK Community Bot Platform API
// @version 1.0
// @description Scheduled post publishing and broadcast campaigns for VK communities

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @host localhost:8080
// @BasePath /

// @schemes http https
func main() {
	logger.Init()

	// Load .env when present (local development), then config
	if err := godotenv.Load(); err != nil {
		logger.Debugf("No .env file found, using environment variables")
	}
	cfg := environments.Load()

	// Hard-fail if required secrets are missing
	if cfg.Auth.AdminAPIKey == "" {
		logger.Fatalf("ADMIN_API_KEY is required but not set")
	}
	if cfg.Auth.SchedulerAPIKey == "" {
		logger.Fatalf("SCHEDULER_API_KEY is required but not set")
	}

	logger.Infof("Starting VK Community Bot Platform...")

	// Init DB
	db, err := database.NewMySQLDB(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Run migrations
	if err := database.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Seed data
	if os.Getenv("SEED_DATA") == "true" {
		if err := database.SeedTestData(db); err != nil {
			logger.Warnf("Failed to seed test data: %v", err)
		}
	}

	// Init redis
	var redisClient *redis.Client
	redisClient, err = redis.NewRedisClient(cfg.Redis)
	if err != nil {
		logger.Warnf("Redis not available, progress caching disabled: %v", err)
		redisClient = nil
	}

	// Initialize VK API client
	vkClient := vk.NewClient(cfg.VK)
	logger.Infof("VK API configured: %s (v%s)", cfg.VK.BaseURL, cfg.VK.Version)

	// Initialize repositories
	campaignRepo := repository.NewCampaignRepository(db)
	postRepo := repository.NewPostRepository(db)
	memberRepo := repository.NewMemberRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	// Initialize services. The untyped nil keeps the progress cache a nil
	// interface when Redis is down.
	var dispatcher *service.Dispatcher
	if redisClient != nil {
		dispatcher = service.NewDispatcher(campaignRepo, memberRepo, vkClient, redisClient, cfg.Broadcast)
	} else {
		dispatcher = service.NewDispatcher(campaignRepo, memberRepo, vkClient, nil, cfg.Broadcast)
	}
	publisher := service.NewPublisher(postRepo, campaignRepo, tokenRepo, vkClient, dispatcher)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize scheduler
	sched := scheduler.NewScheduler(
		postRepo, campaignRepo, tokenRepo,
		publisher, dispatcher,
		cfg.Scheduler.TickInterval, cfg.Broadcast.StaleAfter,
	)

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(db, redisClient)
	campaignHandler := handlers.NewCampaignHandler(campaignRepo, redisClient)
	postHandler := handlers.NewPostHandler(postRepo)
	memberHandler := handlers.NewMemberHandler(memberRepo)
	schedulerHandler := handlers.NewSchedulerHandler(sched, ctx)

	// Auto-start scheduler
	if os.Getenv("AUTO_START_SCHEDULER") != "false" {
		logger.Infof("Auto-starting scheduler...")
		if err := sched.Start(ctx); err != nil {
			logger.Warnf("Failed to auto-start scheduler: %v", err)
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.Validator = validator.New()

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
			"x-vkbot-auth-key",
		},
	}))

	// Setup routes
	routes.RegisterRoutes(e, healthHandler, campaignHandler, postHandler, memberHandler, schedulerHandler, cfg)

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Infof("Server starting on http://localhost%s", addr)
		logger.Infof("Swagger docs available at http://localhost%s/swagger/index.html", addr)
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Infof("Shutting down gracefully...")

	// Cancel context to signal all goroutines to stop
	cancel()

	// Stop scheduler first (with timeout)
	if sched.IsRunning() {
		logger.Infof("Stopping scheduler...")
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()

		done := make(chan error, 1)
		go func() {
			done <- sched.Stop()
		}()

		select {
		case err := <-done:
			if err != nil {
				logger.Errorf("Error stopping scheduler: %v", err)
			} else {
				logger.Infof("Scheduler stopped successfully")
			}
		case <-stopCtx.Done():
			logger.Warnf("Scheduler stop timeout, forcing shutdown")
		}
	}

	// Shutdown HTTP server (with timeout)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	logger.Infof("Shutting down HTTP server...")
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	} else {
		logger.Infof("HTTP server stopped successfully")
	}

	// Close database connection
	logger.Infof("Closing database connection...")
	if err := db.Close(); err != nil {
		logger.Errorf("Error closing database: %v", err)
	}

	// Close Redis connection
	if redisClient != nil {
		logger.Infof("Closing Redis connection...")
		if err := redisClient.Close(); err != nil {
			logger.Errorf("Error closing Redis: %v", err)
		}
	}

	logger.Infof("Graceful shutdown completed")
}
