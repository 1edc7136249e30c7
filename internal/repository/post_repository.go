package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/akosterin/vk-bot-platform/internal/domain"
)

// PostRepository handles database operations for scheduled wall posts and
// their game settings.
type PostRepository struct {
	db *sqlx.DB
}

func NewPostRepository(db *sqlx.DB) *PostRepository {
	return &PostRepository{db: db}
}

const postColumns = `
	id, community_id, text, attachments, scheduled_at, published_at, vk_post_id,
	status, game_enabled, game_attempts, game_lives, game_prize_keyword,
	game_promo_codes, broadcast_enabled, broadcast_message,
	broadcast_delay_minutes, broadcast_scheduled_at, error_message,
	created_at, updated_at
`

func (r *PostRepository) Create(ctx context.Context, post *domain.ScheduledPost) (*domain.ScheduledPost, error) {
	query := `
		INSERT INTO scheduled_posts
			(community_id, text, attachments, scheduled_at, status,
			 game_enabled, game_attempts, game_lives, game_prize_keyword, game_promo_codes,
			 broadcast_enabled, broadcast_message, broadcast_delay_minutes, broadcast_scheduled_at,
			 created_at, updated_at)
		VALUES (?, ?, ?, ?, 'scheduled', ?, ?, ?, ?, ?, ?, ?, ?, ?,
			CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	result, err := r.db.ExecContext(ctx, query,
		post.CommunityID, post.Text, post.Attachments, post.ScheduledAt,
		post.GameEnabled, post.GameAttempts, post.GameLives, post.GamePrizeKeyword, post.GamePromoCodes,
		post.BroadcastEnabled, post.BroadcastMessage, post.BroadcastDelayMinutes, post.BroadcastScheduledAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduled post: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *PostRepository) GetByID(ctx context.Context, id int64) (*domain.ScheduledPost, error) {
	query := `SELECT ` + postColumns + ` FROM scheduled_posts WHERE id = ?`

	var post domain.ScheduledPost
	if err := r.db.GetContext(ctx, &post, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get scheduled post: %w", err)
	}

	return &post, nil
}

// GetDue returns posts awaiting publication whose scheduled time has passed.
func (r *PostRepository) GetDue(ctx context.Context) ([]domain.ScheduledPost, error) {
	query := `
		SELECT ` + postColumns + `
		FROM scheduled_posts
		WHERE status = 'scheduled' AND scheduled_at <= CURRENT_TIMESTAMP
		ORDER BY scheduled_at ASC
	`

	var posts []domain.ScheduledPost
	if err := r.db.SelectContext(ctx, &posts, query); err != nil {
		return nil, fmt.Errorf("failed to get due posts: %w", err)
	}

	return posts, nil
}

// PostUpdate carries the partial fields of an update; nil fields are left
// untouched.
type PostUpdate struct {
	Status       *domain.PostStatus
	PublishedAt  *time.Time
	VKPostID     *int64
	ErrorMessage *string
}

func (r *PostRepository) Update(ctx context.Context, id int64, fields PostUpdate) error {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}

	if fields.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *fields.Status)
	}
	if fields.PublishedAt != nil {
		sets = append(sets, "published_at = ?")
		args = append(args, *fields.PublishedAt)
	}
	if fields.VKPostID != nil {
		sets = append(sets, "vk_post_id = ?")
		args = append(args, *fields.VKPostID)
	}
	if fields.ErrorMessage != nil {
		sets = append(sets, "error_message = ?")
		args = append(args, *fields.ErrorMessage)
	}

	query := "UPDATE scheduled_posts SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update scheduled post: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("no scheduled post found with id %d", id)
	}

	return nil
}

// SetGameSettings stores the "comment to win" configuration for a published
// post. The row is keyed by the post id, so a re-published post overwrites
// its previous settings.
func (r *PostRepository) SetGameSettings(
	ctx context.Context,
	postID int64,
	enabled bool,
	attempts, lives int,
	prizeKeyword, promoCodes string,
) error {
	query := `
		INSERT INTO post_game_settings
			(post_id, enabled, attempts, lives, prize_keyword, promo_codes, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		ON DUPLICATE KEY UPDATE
			enabled = VALUES(enabled),
			attempts = VALUES(attempts),
			lives = VALUES(lives),
			prize_keyword = VALUES(prize_keyword),
			promo_codes = VALUES(promo_codes),
			updated_at = CURRENT_TIMESTAMP
	`

	if _, err := r.db.ExecContext(ctx, query, postID, enabled, attempts, lives, prizeKeyword, promoCodes); err != nil {
		return fmt.Errorf("failed to set game settings: %w", err)
	}

	return nil
}

func (r *PostRepository) GetAll(
	ctx context.Context,
	status *domain.PostStatus,
	page, pageSize int,
) ([]domain.ScheduledPost, int64, error) {
	offset := (page - 1) * pageSize
	var totalCount int64
	var posts []domain.ScheduledPost

	if status != nil {
		countQuery := "SELECT COUNT(*) FROM scheduled_posts WHERE status = ?"
		if err := r.db.GetContext(ctx, &totalCount, countQuery, *status); err != nil {
			return nil, 0, fmt.Errorf("failed to count scheduled posts: %w", err)
		}

		query := `
			SELECT ` + postColumns + `
			FROM scheduled_posts
			WHERE status = ?
			ORDER BY scheduled_at DESC
			LIMIT ? OFFSET ?
		`
		if err := r.db.SelectContext(ctx, &posts, query, *status, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to get scheduled posts: %w", err)
		}
	} else {
		countQuery := "SELECT COUNT(*) FROM scheduled_posts"
		if err := r.db.GetContext(ctx, &totalCount, countQuery); err != nil {
			return nil, 0, fmt.Errorf("failed to count scheduled posts: %w", err)
		}

		query := `
			SELECT ` + postColumns + `
			FROM scheduled_posts
			ORDER BY scheduled_at DESC
			LIMIT ? OFFSET ?
		`
		if err := r.db.SelectContext(ctx, &posts, query, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to get scheduled posts: %w", err)
		}
	}

	return posts, totalCount, nil
}
