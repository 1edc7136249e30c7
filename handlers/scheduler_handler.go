package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/akosterin/vk-bot-platform/internal/scheduler"
	"github.com/akosterin/vk-bot-platform/pkg/response"
)

type SchedulerHandler struct {
	scheduler *scheduler.Scheduler
	ctx       context.Context
}

func NewSchedulerHandler(sched *scheduler.Scheduler, ctx context.Context) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: sched,
		ctx:       ctx,
	}
}

// StartScheduler godoc
// @Summary Start the scheduler
// @Description Starts the tick loop that publishes due posts and dispatches due campaigns
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Scheduler API key"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/start [post]
func (h *SchedulerHandler) StartScheduler(c echo.Context) error {
	if h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already running", h.scheduler.GetStatus())
	}

	if err := h.scheduler.Start(h.ctx); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler started successfully", h.scheduler.GetStatus())
}

// StopScheduler godoc
// @Summary Stop the scheduler
// @Description Stops the tick loop; in-flight dispatch tasks run to completion
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Scheduler API key"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/stop [post]
func (h *SchedulerHandler) StopScheduler(c echo.Context) error {
	if !h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already stopped", h.scheduler.GetStatus())
	}

	if err := h.scheduler.Stop(); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler stopped successfully", h.scheduler.GetStatus())
}

// GetSchedulerStatus godoc
// @Summary Get scheduler status
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Scheduler API key"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/scheduler/status [get]
func (h *SchedulerHandler) GetSchedulerStatus(c echo.Context) error {
	return response.Ok(c, h.scheduler.GetStatus())
}
