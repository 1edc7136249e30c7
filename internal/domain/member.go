package domain

import "time"

// Member is one addressable community member. Rows are maintained by an
// external sync job; the dispatch engine only reads them.
type Member struct {
	ID          int64      `db:"id" json:"id"`
	CommunityID int64      `db:"community_id" json:"communityId"`
	VKUserID    int64      `db:"vk_user_id" json:"vkUserId"`
	Name        string     `db:"name" json:"name"`
	IsActive    bool       `db:"is_active" json:"isActive"`
	CanReceive  bool       `db:"can_receive" json:"canReceive"`
	LastSentAt  *time.Time `db:"last_sent_at" json:"lastSentAt,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}
