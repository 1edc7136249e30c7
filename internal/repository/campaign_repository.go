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

// CampaignRepository handles database operations for broadcast campaigns and
// their per-recipient log rows.
type CampaignRepository struct {
	db *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

const campaignColumns = `
	id, community_id, message, status, total_recipients, sent_count,
	failed_count, scheduled_at, started_at, completed_at, created_at, updated_at
`

func (r *CampaignRepository) Create(
	ctx context.Context,
	communityID int64,
	message string,
	scheduledAt *time.Time,
	status domain.CampaignStatus,
) (*domain.Campaign, error) {
	query := `
		INSERT INTO broadcast_campaigns
			(community_id, message, status, scheduled_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	result, err := r.db.ExecContext(ctx, query, communityID, message, status, scheduledAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get last insert id: %w", err)
	}

	return r.GetByID(ctx, id)
}

func (r *CampaignRepository) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM broadcast_campaigns WHERE id = ?`

	var campaign domain.Campaign
	if err := r.db.GetContext(ctx, &campaign, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &campaign, nil
}

// CampaignUpdate carries the partial fields of an update; nil fields are
// left untouched. updated_at is always bumped so staleness detection on
// running campaigns keeps working.
type CampaignUpdate struct {
	Status          *domain.CampaignStatus
	TotalRecipients *int
	SentCount       *int
	FailedCount     *int
	ScheduledAt     *time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
}

func (r *CampaignRepository) Update(ctx context.Context, id int64, fields CampaignUpdate) error {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	args := []any{}

	if fields.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, *fields.Status)
	}
	if fields.TotalRecipients != nil {
		sets = append(sets, "total_recipients = ?")
		args = append(args, *fields.TotalRecipients)
	}
	if fields.SentCount != nil {
		sets = append(sets, "sent_count = ?")
		args = append(args, *fields.SentCount)
	}
	if fields.FailedCount != nil {
		sets = append(sets, "failed_count = ?")
		args = append(args, *fields.FailedCount)
	}
	if fields.ScheduledAt != nil {
		sets = append(sets, "scheduled_at = ?")
		args = append(args, *fields.ScheduledAt)
	}
	if fields.StartedAt != nil {
		sets = append(sets, "started_at = ?")
		args = append(args, *fields.StartedAt)
	}
	if fields.CompletedAt != nil {
		sets = append(sets, "completed_at = ?")
		args = append(args, *fields.CompletedAt)
	}

	query := "UPDATE broadcast_campaigns SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	args = append(args, id)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("no campaign found with id %d", id)
	}

	return nil
}

// GetDue returns campaigns ready for dispatch: scheduled with a due
// scheduled_at. The filter is a pure function of stored state and the
// database clock, which is what makes the sweep naturally resumable.
func (r *CampaignRepository) GetDue(ctx context.Context) ([]domain.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM broadcast_campaigns
		WHERE status = 'scheduled' AND scheduled_at <= CURRENT_TIMESTAMP
		ORDER BY scheduled_at ASC
	`

	var campaigns []domain.Campaign
	if err := r.db.SelectContext(ctx, &campaigns, query); err != nil {
		return nil, fmt.Errorf("failed to get due campaigns: %w", err)
	}

	return campaigns, nil
}

// RequeueStale moves running campaigns whose updated_at is older than the
// threshold back to scheduled so the next sweep retries them. A healthy run
// checkpoints every few seconds, so only crashed runs ever match.
func (r *CampaignRepository) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
		UPDATE broadcast_campaigns
		SET status = 'scheduled',
		    scheduled_at = CURRENT_TIMESTAMP,
		    updated_at = CURRENT_TIMESTAMP
		WHERE status = 'running'
		  AND updated_at < DATE_SUB(CURRENT_TIMESTAMP, INTERVAL ? SECOND)
	`

	result, err := r.db.ExecContext(ctx, query, int64(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale campaigns: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

func (r *CampaignRepository) AddLog(
	ctx context.Context,
	campaignID, recipientID int64,
	outcome domain.LogOutcome,
	errorMessage *string,
) error {
	query := `
		INSERT INTO broadcast_logs
			(campaign_id, recipient_id, outcome, error_message, sent_at, created_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
	`

	if _, err := r.db.ExecContext(ctx, query, campaignID, recipientID, outcome, errorMessage); err != nil {
		return fmt.Errorf("failed to add broadcast log: %w", err)
	}

	return nil
}

// GetLoggedOutcomes returns recipient id -> outcome for every log row of the
// campaign. The dispatcher uses it to skip recipients that already have a
// terminal outcome when a requeued campaign resumes.
func (r *CampaignRepository) GetLoggedOutcomes(
	ctx context.Context,
	campaignID int64,
) (map[int64]domain.LogOutcome, error) {
	query := `SELECT recipient_id, outcome FROM broadcast_logs WHERE campaign_id = ?`

	var rows []struct {
		RecipientID int64             `db:"recipient_id"`
		Outcome     domain.LogOutcome `db:"outcome"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, campaignID); err != nil {
		return nil, fmt.Errorf("failed to get logged outcomes: %w", err)
	}

	outcomes := make(map[int64]domain.LogOutcome, len(rows))
	for _, row := range rows {
		outcomes[row.RecipientID] = row.Outcome
	}

	return outcomes, nil
}

func (r *CampaignRepository) GetLogs(
	ctx context.Context,
	campaignID int64,
	page, pageSize int,
) ([]domain.BroadcastLog, int64, error) {
	offset := (page - 1) * pageSize

	var totalCount int64
	countQuery := "SELECT COUNT(*) FROM broadcast_logs WHERE campaign_id = ?"
	if err := r.db.GetContext(ctx, &totalCount, countQuery, campaignID); err != nil {
		return nil, 0, fmt.Errorf("failed to count broadcast logs: %w", err)
	}

	query := `
		SELECT id, campaign_id, recipient_id, outcome, error_message, sent_at, created_at
		FROM broadcast_logs
		WHERE campaign_id = ?
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`

	var logs []domain.BroadcastLog
	if err := r.db.SelectContext(ctx, &logs, query, campaignID, pageSize, offset); err != nil {
		return nil, 0, fmt.Errorf("failed to get broadcast logs: %w", err)
	}

	return logs, totalCount, nil
}

func (r *CampaignRepository) GetAll(
	ctx context.Context,
	status *domain.CampaignStatus,
	page, pageSize int,
) ([]domain.Campaign, int64, error) {
	offset := (page - 1) * pageSize
	var totalCount int64
	var campaigns []domain.Campaign

	if status != nil {
		countQuery := "SELECT COUNT(*) FROM broadcast_campaigns WHERE status = ?"
		if err := r.db.GetContext(ctx, &totalCount, countQuery, *status); err != nil {
			return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
		}

		query := `
			SELECT ` + campaignColumns + `
			FROM broadcast_campaigns
			WHERE status = ?
			ORDER BY created_at DESC
			LIMIT ? OFFSET ?
		`
		if err := r.db.SelectContext(ctx, &campaigns, query, *status, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to get campaigns: %w", err)
		}
	} else {
		countQuery := "SELECT COUNT(*) FROM broadcast_campaigns"
		if err := r.db.GetContext(ctx, &totalCount, countQuery); err != nil {
			return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
		}

		query := `
			SELECT ` + campaignColumns + `
			FROM broadcast_campaigns
			ORDER BY created_at DESC
			LIMIT ? OFFSET ?
		`
		if err := r.db.SelectContext(ctx, &campaigns, query, pageSize, offset); err != nil {
			return nil, 0, fmt.Errorf("failed to get campaigns: %w", err)
		}
	}

	return campaigns, totalCount, nil
}
