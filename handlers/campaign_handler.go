package handlers

import (
	"fmt"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/akosterin/vk-bot-platform/internal/domain"
	"github.com/akosterin/vk-bot-platform/internal/repository"
	"github.com/akosterin/vk-bot-platform/pkg/redis"
	"github.com/akosterin/vk-bot-platform/pkg/response"
	"github.com/akosterin/vk-bot-platform/pkg/validator"
)

type CampaignHandler struct {
	campaigns *repository.CampaignRepository
	cache     *redis.Client
}

func NewCampaignHandler(campaigns *repository.CampaignRepository, cache *redis.Client) *CampaignHandler {
	return &CampaignHandler{
		campaigns: campaigns,
		cache:     cache,
	}
}

type CreateCampaignRequest struct {
	CommunityID int64      `json:"communityId" validate:"required"`
	Message     string     `json:"message" validate:"required,max=4096"`
	ScheduledAt *time.Time `json:"scheduledAt,omitempty"`
}

// CreateCampaign godoc
// @Summary Create a broadcast campaign
// @Description Creates a campaign as draft, or as scheduled when scheduledAt is set
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Admin API key"
// @Param campaign body CreateCampaignRequest true "Campaign to create"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns [post]
func (h *CampaignHandler) CreateCampaign(c echo.Context) error {
	var req CreateCampaignRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	status := domain.CampaignStatusDraft
	if req.ScheduledAt != nil {
		status = domain.CampaignStatusScheduled
	}

	campaign, err := h.campaigns.Create(c.Request().Context(), req.CommunityID, req.Message, req.ScheduledAt, status)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Created(c, "Campaign created successfully", campaign)
}

// GetAllCampaigns godoc
// @Summary Get all campaigns
// @Description Retrieves a paginated list of campaigns with optional status filter
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Admin API key"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Param status query string false "Filter by status (draft, scheduled, running, completed, failed)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns [get]
func (h *CampaignHandler) GetAllCampaigns(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	statusStr := c.QueryParam("status")

	var status *domain.CampaignStatus
	if statusStr != "" {
		parsedStatus := domain.CampaignStatus(statusStr)
		status = &parsedStatus
	}

	campaigns, totalCount, err := h.campaigns.GetAll(c.Request().Context(), status, page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, campaigns, page, pageSize, totalCount)
}

// GetCampaign godoc
// @Summary Get one campaign
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Admin API key"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id} [get]
func (h *CampaignHandler) GetCampaign(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	campaign, err := h.campaigns.GetByID(c.Request().Context(), id)
	if err != nil {
		return response.InternalServerError(c, err)
	}
	if campaign == nil {
		return response.NotFound(c, fmt.Sprintf("no campaign found with id %d", id))
	}

	return response.Ok(c, campaign)
}

// RunCampaign godoc
// @Summary Run a campaign now
// @Description Requeues a draft or failed campaign as due now; the scheduler sweep dispatches it
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Admin API key"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/run [post]
func (h *CampaignHandler) RunCampaign(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	ctx := c.Request().Context()

	campaign, err := h.campaigns.GetByID(ctx, id)
	if err != nil {
		return response.InternalServerError(c, err)
	}
	if campaign == nil {
		return response.NotFound(c, fmt.Sprintf("no campaign found with id %d", id))
	}

	if campaign.Status != domain.CampaignStatusDraft && campaign.Status != domain.CampaignStatusFailed {
		return response.BadRequestWithMessage(c,
			fmt.Sprintf("campaign %d is %s, only draft or failed campaigns can be run", id, campaign.Status))
	}

	// Routed through the sweep rather than dispatched inline, so there is a
	// single dispatch path.
	now := time.Now()
	scheduled := domain.CampaignStatusScheduled
	if err := h.campaigns.Update(ctx, id, repository.CampaignUpdate{
		Status:      &scheduled,
		ScheduledAt: &now,
	}); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Campaign queued for dispatch", nil)
}

// GetCampaignProgress godoc
// @Summary Get campaign progress
// @Description Returns the cached in-flight progress snapshot, falling back to the stored counters
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Admin API key"
// @Param id path int true "Campaign ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/progress [get]
func (h *CampaignHandler) GetCampaignProgress(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	ctx := c.Request().Context()

	if h.cache != nil {
		progress, err := h.cache.GetCampaignProgress(ctx, id)
		if err == nil && progress != nil {
			return response.Ok(c, progress)
		}
	}

	campaign, err := h.campaigns.GetByID(ctx, id)
	if err != nil {
		return response.InternalServerError(c, err)
	}
	if campaign == nil {
		return response.NotFound(c, fmt.Sprintf("no campaign found with id %d", id))
	}

	return response.Ok(c, domain.CampaignProgress{
		Status:    campaign.Status,
		Sent:      campaign.SentCount,
		Failed:    campaign.FailedCount,
		Total:     campaign.TotalRecipients,
		UpdatedAt: campaign.UpdatedAt,
	})
}

// GetCampaignLogs godoc
// @Summary Get per-recipient outcomes
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Admin API key"
// @Param id path int true "Campaign ID"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/logs [get]
func (h *CampaignHandler) GetCampaignLogs(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	logs, totalCount, err := h.campaigns.GetLogs(c.Request().Context(), id, page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, logs, page, pageSize, totalCount)
}

func parseIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id")
	}
	return id, nil
}

func parsePaginationParams(c echo.Context) (int, int, error) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)

	pageStr := c.QueryParam("page")
	pageSizeStr := c.QueryParam("pageSize")

	page := defaultPage
	if pageStr != "" {
		p, err := strconv.Atoi(pageStr)
		if err != nil || p <= 0 {
			return 0, 0, fmt.Errorf("page must be a positive integer")
		}
		page = p
	}

	pageSize := defaultPageSize
	if pageSizeStr != "" {
		ps, err := strconv.Atoi(pageSizeStr)
		if err != nil || ps <= 0 || ps > maxPageSize {
			return 0, 0, fmt.Errorf("pageSize must be between 1 and %d", maxPageSize)
		}

		pageSize = ps
	}

	return page, pageSize, nil
}
