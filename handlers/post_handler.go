package handlers

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/akosterin/vk-bot-platform/internal/domain"
	"github.com/akosterin/vk-bot-platform/internal/repository"
	"github.com/akosterin/vk-bot-platform/pkg/response"
	"github.com/akosterin/vk-bot-platform/pkg/validator"
)

type PostHandler struct {
	posts *repository.PostRepository
}

func NewPostHandler(posts *repository.PostRepository) *PostHandler {
	return &PostHandler{posts: posts}
}

type CreatePostRequest struct {
	CommunityID int64     `json:"communityId" validate:"required"`
	Text        string    `json:"text" validate:"required,max=16000"`
	Attachments *string   `json:"attachments,omitempty"`
	ScheduledAt time.Time `json:"scheduledAt" validate:"required"`

	GameEnabled      bool   `json:"gameEnabled"`
	GameAttempts     int    `json:"gameAttempts" validate:"omitempty,min=0"`
	GameLives        int    `json:"gameLives" validate:"omitempty,min=0"`
	GamePrizeKeyword string `json:"gamePrizeKeyword" validate:"omitempty,max=255"`
	GamePromoCodes   string `json:"gamePromoCodes"`

	BroadcastEnabled      bool       `json:"broadcastEnabled"`
	BroadcastMessage      *string    `json:"broadcastMessage,omitempty" validate:"omitempty,max=4096"`
	BroadcastDelayMinutes *int       `json:"broadcastDelayMinutes,omitempty" validate:"omitempty,min=0"`
	BroadcastScheduledAt  *time.Time `json:"broadcastScheduledAt,omitempty"`
}

// CreatePost godoc
// @Summary Schedule a wall post
// @Description Creates a scheduled post with optional game settings and linked broadcast
// @Tags posts
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Admin API key"
// @Param post body CreatePostRequest true "Post to schedule"
// @Success 201 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/posts [post]
func (h *PostHandler) CreatePost(c echo.Context) error {
	var req CreatePostRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	if !req.ScheduledAt.After(time.Now()) {
		return response.BadRequestWithMessage(c, "scheduledAt must be in the future")
	}

	if req.BroadcastDelayMinutes != nil && req.BroadcastScheduledAt != nil {
		return response.BadRequestWithMessage(c,
			"broadcastDelayMinutes and broadcastScheduledAt are mutually exclusive")
	}

	if req.BroadcastEnabled && (req.BroadcastMessage == nil || *req.BroadcastMessage == "") {
		return response.BadRequestWithMessage(c, "broadcastMessage is required when broadcastEnabled is set")
	}

	post, err := h.posts.Create(c.Request().Context(), &domain.ScheduledPost{
		CommunityID:           req.CommunityID,
		Text:                  req.Text,
		Attachments:           req.Attachments,
		ScheduledAt:           req.ScheduledAt,
		GameEnabled:           req.GameEnabled,
		GameAttempts:          req.GameAttempts,
		GameLives:             req.GameLives,
		GamePrizeKeyword:      req.GamePrizeKeyword,
		GamePromoCodes:        req.GamePromoCodes,
		BroadcastEnabled:      req.BroadcastEnabled,
		BroadcastMessage:      req.BroadcastMessage,
		BroadcastDelayMinutes: req.BroadcastDelayMinutes,
		BroadcastScheduledAt:  req.BroadcastScheduledAt,
	})
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Created(c, "Post scheduled successfully", post)
}

// GetAllPosts godoc
// @Summary Get all scheduled posts
// @Description Retrieves a paginated list of posts with optional status filter
// @Tags posts
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Admin API key"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Param status query string false "Filter by status (scheduled, published, failed)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/posts [get]
func (h *PostHandler) GetAllPosts(c echo.Context) error {
	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	statusStr := c.QueryParam("status")

	var status *domain.PostStatus
	if statusStr != "" {
		parsedStatus := domain.PostStatus(statusStr)
		status = &parsedStatus
	}

	posts, totalCount, err := h.posts.GetAll(c.Request().Context(), status, page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, posts, page, pageSize, totalCount)
}

// GetPost godoc
// @Summary Get one scheduled post
// @Tags posts
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Admin API key"
// @Param id path int true "Post ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/posts/{id} [get]
func (h *PostHandler) GetPost(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	post, err := h.posts.GetByID(c.Request().Context(), id)
	if err != nil {
		return response.InternalServerError(c, err)
	}
	if post == nil {
		return response.NotFound(c, fmt.Sprintf("no post found with id %d", id))
	}

	return response.Ok(c, post)
}
