package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/akosterin/vk-bot-platform/internal/domain"
)

// MemberRepository reads community members. Rows are written by the external
// member-sync job; the dispatch engine never mutates them.
type MemberRepository struct {
	db *sqlx.DB
}

func NewMemberRepository(db *sqlx.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

const memberColumns = `
	id, community_id, vk_user_id, name, is_active, can_receive, last_sent_at,
	created_at, updated_at
`

// GetActiveSendable returns every member of the community eligible to
// receive a broadcast, in stable id order.
func (r *MemberRepository) GetActiveSendable(ctx context.Context, communityID int64) ([]domain.Member, error) {
	query := `
		SELECT ` + memberColumns + `
		FROM community_members
		WHERE community_id = ? AND is_active = TRUE AND can_receive = TRUE
		ORDER BY id ASC
	`

	var members []domain.Member
	if err := r.db.SelectContext(ctx, &members, query, communityID); err != nil {
		return nil, fmt.Errorf("failed to get sendable members: %w", err)
	}

	return members, nil
}

func (r *MemberRepository) GetAll(
	ctx context.Context,
	communityID int64,
	page, pageSize int,
) ([]domain.Member, int64, error) {
	offset := (page - 1) * pageSize

	var totalCount int64
	countQuery := "SELECT COUNT(*) FROM community_members WHERE community_id = ?"
	if err := r.db.GetContext(ctx, &totalCount, countQuery, communityID); err != nil {
		return nil, 0, fmt.Errorf("failed to count members: %w", err)
	}

	query := `
		SELECT ` + memberColumns + `
		FROM community_members
		WHERE community_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	var members []domain.Member
	if err := r.db.SelectContext(ctx, &members, query, communityID, pageSize, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to get members: %w", err)
	}

	return members, totalCount, nil
}
