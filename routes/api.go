package routes

import (
	"github.com/labstack/echo/v4"
	echoSwagger "github.com/swaggo/echo-swagger"

	"github.com/akosterin/vk-bot-platform/environments"
	"github.com/akosterin/vk-bot-platform/handlers"
	"github.com/akosterin/vk-bot-platform/internal/middlewares"
)

// RegisterRoutes registers all API routes with middleware
func RegisterRoutes(
	e *echo.Echo,
	healthHandler *handlers.HealthHandler,
	campaignHandler *handlers.CampaignHandler,
	postHandler *handlers.PostHandler,
	memberHandler *handlers.MemberHandler,
	schedulerHandler *handlers.SchedulerHandler,
	cfg *environments.Config,
) {
	e.GET("/health", healthHandler.Health)
	e.GET("/swagger/*", echoSwagger.WrapHandler)

	// API v1 base group
	v1 := e.Group("/api/v1")

	// Campaign and post routes share the admin API key
	campaigns := v1.Group("/campaigns", middlewares.APIKeyAuth(cfg.Auth.AdminAPIKey))

	campaigns.GET("", campaignHandler.GetAllCampaigns)
	campaigns.POST("", campaignHandler.CreateCampaign)
	campaigns.GET("/:id", campaignHandler.GetCampaign)
	campaigns.POST("/:id/run", campaignHandler.RunCampaign)
	campaigns.GET("/:id/progress", campaignHandler.GetCampaignProgress)
	campaigns.GET("/:id/logs", campaignHandler.GetCampaignLogs)

	posts := v1.Group("/posts", middlewares.APIKeyAuth(cfg.Auth.AdminAPIKey))

	posts.GET("", postHandler.GetAllPosts)
	posts.POST("", postHandler.CreatePost)
	posts.GET("/:id", postHandler.GetPost)

	communities := v1.Group("/communities", middlewares.APIKeyAuth(cfg.Auth.AdminAPIKey))

	communities.GET("/:id/members", memberHandler.GetCommunityMembers)

	// Scheduler routes with their own API key
	schedulerGroup := v1.Group("/scheduler", middlewares.APIKeyAuth(cfg.Auth.SchedulerAPIKey))

	schedulerGroup.POST("/start", schedulerHandler.StartScheduler)
	schedulerGroup.POST("/stop", schedulerHandler.StopScheduler)
	schedulerGroup.GET("/status", schedulerHandler.GetSchedulerStatus)
}
