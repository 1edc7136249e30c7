package handlers

import (
	"github.com/labstack/echo/v4"

	"github.com/akosterin/vk-bot-platform/internal/repository"
	"github.com/akosterin/vk-bot-platform/pkg/response"
)

type MemberHandler struct {
	members *repository.MemberRepository
}

func NewMemberHandler(members *repository.MemberRepository) *MemberHandler {
	return &MemberHandler{members: members}
}

// GetCommunityMembers godoc
// @Summary Get community members
// @Description Retrieves the synced member roster of a community
// @Tags communities
// @Accept json
// @Produce json
// @Param x-vkbot-auth-key header string true "Admin API key"
// @Param id path int true "Community ID"
// @Param page query int false "Page number (default: 1)"
// @Param pageSize query int false "Page size (default: 20, max: 100)"
// @Success 200 {object} response.PaginatedResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/communities/{id}/members [get]
func (h *MemberHandler) GetCommunityMembers(c echo.Context) error {
	communityID, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	page, pageSize, err := parsePaginationParams(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	members, totalCount, err := h.members.GetAll(c.Request().Context(), communityID, page, pageSize)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Paginated(c, members, page, pageSize, totalCount)
}
