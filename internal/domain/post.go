package domain

import "time"

type PostStatus string

const (
	PostStatusScheduled PostStatus = "scheduled"
	PostStatusPublished PostStatus = "published"
	PostStatusFailed    PostStatus = "failed"
)

// ScheduledPost is one future wall publication, optionally carrying a linked
// broadcast and/or a "comment to win" game configuration. VKPostID and
// PublishedAt are set together, only on transition to published.
type ScheduledPost struct {
	ID          int64      `db:"id" json:"id"`
	CommunityID int64      `db:"community_id" json:"communityId"`
	Text        string     `db:"text" json:"text"`
	Attachments *string    `db:"attachments" json:"attachments,omitempty"`
	ScheduledAt time.Time  `db:"scheduled_at" json:"scheduledAt"`
	PublishedAt *time.Time `db:"published_at" json:"publishedAt,omitempty"`
	VKPostID    *int64     `db:"vk_post_id" json:"vkPostId,omitempty"`
	Status      PostStatus `db:"status" json:"status"`

	GameEnabled      bool   `db:"game_enabled" json:"gameEnabled"`
	GameAttempts     int    `db:"game_attempts" json:"gameAttempts"`
	GameLives        int    `db:"game_lives" json:"gameLives"`
	GamePrizeKeyword string `db:"game_prize_keyword" json:"gamePrizeKeyword"`
	GamePromoCodes   string `db:"game_promo_codes" json:"gamePromoCodes"`

	BroadcastEnabled      bool       `db:"broadcast_enabled" json:"broadcastEnabled"`
	BroadcastMessage      *string    `db:"broadcast_message" json:"broadcastMessage,omitempty"`
	BroadcastDelayMinutes *int       `db:"broadcast_delay_minutes" json:"broadcastDelayMinutes,omitempty"`
	BroadcastScheduledAt  *time.Time `db:"broadcast_scheduled_at" json:"broadcastScheduledAt,omitempty"`

	ErrorMessage *string   `db:"error_message" json:"errorMessage,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}
