package domain

import "time"

type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusScheduled CampaignStatus = "scheduled"
	CampaignStatusRunning   CampaignStatus = "running"
	CampaignStatusCompleted CampaignStatus = "completed"
	CampaignStatusFailed    CampaignStatus = "failed"
)

// Campaign is one mass direct-message operation targeting every sendable
// member of a community. sent_count + failed_count never exceeds
// total_recipients, and status only moves forward (except to failed).
type Campaign struct {
	ID              int64          `db:"id" json:"id"`
	CommunityID     int64          `db:"community_id" json:"communityId"`
	Message         string         `db:"message" json:"message"`
	Status          CampaignStatus `db:"status" json:"status"`
	TotalRecipients int            `db:"total_recipients" json:"totalRecipients"`
	SentCount       int            `db:"sent_count" json:"sentCount"`
	FailedCount     int            `db:"failed_count" json:"failedCount"`
	ScheduledAt     *time.Time     `db:"scheduled_at" json:"scheduledAt,omitempty"`
	StartedAt       *time.Time     `db:"started_at" json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `db:"completed_at" json:"completedAt,omitempty"`
	CreatedAt       time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time      `db:"updated_at" json:"updatedAt"`
}

type LogOutcome string

const (
	LogOutcomeSent   LogOutcome = "sent"
	LogOutcomeFailed LogOutcome = "failed"
)

// BroadcastLog is the terminal per-recipient outcome of one campaign send.
// Rows are append-only; at most one row exists per (campaign, recipient).
type BroadcastLog struct {
	ID           int64      `db:"id" json:"id"`
	CampaignID   int64      `db:"campaign_id" json:"campaignId"`
	RecipientID  int64      `db:"recipient_id" json:"recipientId"`
	Outcome      LogOutcome `db:"outcome" json:"outcome"`
	ErrorMessage *string    `db:"error_message" json:"errorMessage,omitempty"`
	SentAt       time.Time  `db:"sent_at" json:"sentAt"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
}

// SendSummary is returned by the dispatcher after a campaign run.
type SendSummary struct {
	CampaignID int64 `json:"campaignId"`
	Sent       int   `json:"sent"`
	Failed     int   `json:"failed"`
	Total      int   `json:"total"`
}

// CampaignProgress is the snapshot cached in Redis at every counter
// checkpoint so UI polling does not hit MySQL mid-broadcast.
type CampaignProgress struct {
	Status    CampaignStatus `json:"status"`
	Sent      int            `json:"sent"`
	Failed    int            `json:"failed"`
	Total     int            `json:"total"`
	UpdatedAt time.Time      `json:"updatedAt"`
}
