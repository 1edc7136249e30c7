package service

import (
	"context"
	"fmt"
	"time"

	"github.com/akosterin/vk-bot-platform/internal/domain"
	"github.com/akosterin/vk-bot-platform/internal/repository"
	"github.com/akosterin/vk-bot-platform/pkg/logger"
)

type postStore interface {
	Update(ctx context.Context, id int64, fields repository.PostUpdate) error
	SetGameSettings(
		ctx context.Context,
		postID int64,
		enabled bool,
		attempts, lives int,
		prizeKeyword, promoCodes string,
	) error
}

type campaignCreator interface {
	Create(
		ctx context.Context,
		communityID int64,
		message string,
		scheduledAt *time.Time,
		status domain.CampaignStatus,
	) (*domain.Campaign, error)
}

type tokenStore interface {
	GetAccessToken(ctx context.Context, communityID int64) (string, error)
}

type wallPoster interface {
	PublishPost(
		ctx context.Context,
		token string,
		communityID int64,
		text, attachments string,
		publishDate *time.Time,
	) (int64, error)
}

type broadcastDispatcher interface {
	Dispatch(
		ctx context.Context,
		communityID int64,
		token, message string,
		campaignID *int64,
	) (*domain.SendSummary, error)
}

// Publisher publishes exactly one scheduled post and, optionally, cascades
// into game configuration and a linked broadcast campaign.
type Publisher struct {
	posts      postStore
	campaigns  campaignCreator
	tokens     tokenStore
	vk         wallPoster
	dispatcher broadcastDispatcher
	now        func() time.Time
}

func NewPublisher(
	posts postStore,
	campaigns campaignCreator,
	tokens tokenStore,
	vkClient wallPoster,
	dispatcher broadcastDispatcher,
) *Publisher {
	return &Publisher{
		posts:      posts,
		campaigns:  campaigns,
		tokens:     tokens,
		vk:         vkClient,
		dispatcher: dispatcher,
		now:        time.Now,
	}
}

// Publish posts the wall publication and updates the record to published.
// A returned error means the post was not published and the caller should
// mark it failed; game configuration and broadcast creation after a
// successful publish are best-effort and only logged.
func (p *Publisher) Publish(ctx context.Context, post *domain.ScheduledPost) error {
	token, err := p.tokens.GetAccessToken(ctx, post.CommunityID)
	if err != nil {
		return fmt.Errorf("failed to resolve access token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("%w: community %d", ErrTokenNotFound, post.CommunityID)
	}

	now := p.now()

	// When the scheduled time is still in the future (a caller other than
	// the scheduler triggered the publish early), delegate the delay to
	// VK's native publish_date so the two scheduling mechanisms never race.
	var publishDate *time.Time
	if post.ScheduledAt.After(now) {
		publishDate = &post.ScheduledAt
	}

	attachments := ""
	if post.Attachments != nil {
		attachments = *post.Attachments
	}

	vkPostID, err := p.vk.PublishPost(ctx, token, post.CommunityID, post.Text, attachments, publishDate)
	if err != nil {
		return fmt.Errorf("failed to publish post %d: %w", post.ID, err)
	}

	publishedAt := p.now()
	published := domain.PostStatusPublished
	if err := p.posts.Update(ctx, post.ID, repository.PostUpdate{
		Status:      &published,
		PublishedAt: &publishedAt,
		VKPostID:    &vkPostID,
	}); err != nil {
		return fmt.Errorf("failed to mark post %d published: %w", post.ID, err)
	}

	logger.Infof("Post %d published to community %d (vk post id %d)", post.ID, post.CommunityID, vkPostID)

	if post.GameEnabled {
		if err := p.posts.SetGameSettings(
			ctx, post.ID, true,
			post.GameAttempts, post.GameLives,
			post.GamePrizeKeyword, post.GamePromoCodes,
		); err != nil {
			// Publish is the primary effect; game config stays best-effort.
			logger.Errorf("Post %d: failed to configure game: %v", post.ID, err)
		}
	}

	if post.BroadcastEnabled && post.BroadcastMessage != nil && *post.BroadcastMessage != "" {
		p.cascadeBroadcast(ctx, post, token, *post.BroadcastMessage, publishedAt)
	}

	return nil
}

func (p *Publisher) cascadeBroadcast(
	ctx context.Context,
	post *domain.ScheduledPost,
	token, message string,
	publishedAt time.Time,
) {
	effectiveAt, immediate := resolveBroadcastTiming(post.BroadcastDelayMinutes, post.BroadcastScheduledAt, publishedAt)

	if !immediate {
		if _, err := p.campaigns.Create(
			ctx, post.CommunityID, message, &effectiveAt, domain.CampaignStatusScheduled,
		); err != nil {
			logger.Errorf("Post %d: failed to schedule linked broadcast: %v", post.ID, err)
			return
		}

		logger.Infof("Post %d: linked broadcast scheduled for %s", post.ID, effectiveAt.Format(time.RFC3339))
		return
	}

	// Immediate cascade: scheduled_at stays NULL so the campaign sweep does
	// not pick the campaign up as well, and dispatch starts right away
	// without blocking the publish return.
	campaign, err := p.campaigns.Create(ctx, post.CommunityID, message, nil, domain.CampaignStatusDraft)
	if err != nil {
		logger.Errorf("Post %d: failed to create linked broadcast: %v", post.ID, err)
		return
	}

	dispatchCtx := context.WithoutCancel(ctx)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("Panic dispatching campaign %d: %v", campaign.ID, r)
			}
		}()

		if _, err := p.dispatcher.Dispatch(
			dispatchCtx, post.CommunityID, token, message, &campaign.ID,
		); err != nil {
			logger.Errorf("Post %d: linked broadcast %d failed: %v", post.ID, campaign.ID, err)
		}
	}()
}

// resolveBroadcastTiming decides when a post's linked broadcast runs. The
// delay is measured from the actual publish time, not from the post's
// original scheduled time. Precedence: delay-minutes wins over an absolute
// broadcast time; neither set means send now.
func resolveBroadcastTiming(delayMinutes *int, broadcastAt *time.Time, publishedAt time.Time) (time.Time, bool) {
	switch {
	case delayMinutes != nil && *delayMinutes <= 0:
		return publishedAt, true
	case delayMinutes != nil:
		return publishedAt.Add(time.Duration(*delayMinutes) * time.Minute), false
	case broadcastAt != nil && !broadcastAt.After(publishedAt):
		return publishedAt, true
	case broadcastAt != nil:
		return *broadcastAt, false
	default:
		return publishedAt, true
	}
}
