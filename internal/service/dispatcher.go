package service

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/time/rate"

	"github.com/akosterin/vk-bot-platform/environments"
	"github.com/akosterin/vk-bot-platform/internal/domain"
	"github.com/akosterin/vk-bot-platform/internal/repository"
	"github.com/akosterin/vk-bot-platform/pkg/logger"
)

// Small internal interfaces so we can test without touching real DB/Redis/VK.
type campaignStore interface {
	Create(
		ctx context.Context,
		communityID int64,
		message string,
		scheduledAt *time.Time,
		status domain.CampaignStatus,
	) (*domain.Campaign, error)
	GetByID(ctx context.Context, id int64) (*domain.Campaign, error)
	Update(ctx context.Context, id int64, fields repository.CampaignUpdate) error
	AddLog(ctx context.Context, campaignID, recipientID int64, outcome domain.LogOutcome, errorMessage *string) error
	GetLoggedOutcomes(ctx context.Context, campaignID int64) (map[int64]domain.LogOutcome, error)
}

type memberStore interface {
	GetActiveSendable(ctx context.Context, communityID int64) ([]domain.Member, error)
}

type messageSender interface {
	SendMessage(ctx context.Context, token string, peerID int64, text string, randomID int64) error
}

type progressCache interface {
	CacheCampaignProgress(ctx context.Context, campaignID int64, progress *domain.CampaignProgress) error
}

// pacer enforces the inter-send delay. The real implementation wraps
// rate.Limiter with burst 1, so the first Wait is free and every following
// Wait blocks for the configured delay.
type pacer interface {
	Wait(ctx context.Context) error
}

type limiterPacer struct {
	limiter *rate.Limiter
}

func (p *limiterPacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}

// Dispatcher performs the sequential, rate-limited fan-out send for one
// campaign. Sends are strictly sequential: VK's anti-spam enforcement is
// tied to request cadence per token, and concurrent sends risk community
// suspension, which is far worse than a slow broadcast.
type Dispatcher struct {
	campaigns campaignStore
	members   memberStore
	vk        messageSender
	cache     progressCache // nil when Redis is unavailable

	checkpointEvery int
	newPacer        func() pacer
	now             func() time.Time
}

func NewDispatcher(
	campaigns campaignStore,
	members memberStore,
	vkClient messageSender,
	cache progressCache,
	cfg environments.BroadcastConfig,
) *Dispatcher {
	return &Dispatcher{
		campaigns:       campaigns,
		members:         members,
		vk:              vkClient,
		cache:           cache,
		checkpointEvery: cfg.CheckpointEvery,
		newPacer: func() pacer {
			return &limiterPacer{limiter: rate.NewLimiter(rate.Every(cfg.SendDelay), 1)}
		},
		now: time.Now,
	}
}

// Dispatch runs one campaign to completion. With a nil campaignID a fresh
// campaign record is created; otherwise the existing record is resumed.
// Per-recipient send failures are counted and logged but never abort the
// run: campaign failure is reserved for precondition violations.
func (d *Dispatcher) Dispatch(
	ctx context.Context,
	communityID int64,
	token, message string,
	campaignID *int64,
) (*domain.SendSummary, error) {
	var campaign *domain.Campaign

	if campaignID != nil {
		existing, err := d.campaigns.GetByID(ctx, *campaignID)
		if err != nil {
			return nil, fmt.Errorf("failed to load campaign %d: %w", *campaignID, err)
		}
		if existing == nil {
			return nil, fmt.Errorf("%w: id %d", ErrCampaignNotFound, *campaignID)
		}
		campaign = existing
	} else {
		created, err := d.campaigns.Create(ctx, communityID, message, nil, domain.CampaignStatusDraft)
		if err != nil {
			return nil, fmt.Errorf("failed to create campaign: %w", err)
		}
		campaign = created
	}

	defer func() {
		if r := recover(); r != nil {
			d.markFailed(ctx, campaign.ID)
			panic(r)
		}
	}()

	startedAt := d.now()
	running := domain.CampaignStatusRunning
	if err := d.campaigns.Update(ctx, campaign.ID, repository.CampaignUpdate{
		Status:    &running,
		StartedAt: &startedAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to start campaign %d: %w", campaign.ID, err)
	}

	members, err := d.members.GetActiveSendable(ctx, communityID)
	if err != nil {
		d.markFailed(ctx, campaign.ID)
		return nil, fmt.Errorf("failed to load recipients: %w", err)
	}

	if len(members) == 0 {
		d.markFailed(ctx, campaign.ID)
		return nil, fmt.Errorf("%w: community %d", ErrNoRecipients, communityID)
	}

	total := len(members)
	if err := d.campaigns.Update(ctx, campaign.ID, repository.CampaignUpdate{
		TotalRecipients: &total,
	}); err != nil {
		d.markFailed(ctx, campaign.ID)
		return nil, fmt.Errorf("failed to persist recipient count: %w", err)
	}

	// Recipients with a terminal log row are skipped, so a requeued campaign
	// never re-messages anyone. Counters restart from the logged outcomes.
	logged, err := d.campaigns.GetLoggedOutcomes(ctx, campaign.ID)
	if err != nil {
		d.markFailed(ctx, campaign.ID)
		return nil, fmt.Errorf("failed to load logged outcomes: %w", err)
	}

	sent, failed := 0, 0
	for _, outcome := range logged {
		if outcome == domain.LogOutcomeSent {
			sent++
		} else {
			failed++
		}
	}
	if len(logged) > 0 {
		logger.Infof("Campaign %d resuming: %d of %d recipients already have outcomes",
			campaign.ID, len(logged), total)
	}

	logger.Infof("Campaign %d running: %d recipients for community %d", campaign.ID, total, communityID)

	p := d.newPacer()

	for _, member := range members {
		if _, done := logged[member.VKUserID]; done {
			continue
		}

		// Mandatory pacing between consecutive sends. VK rate-limits per
		// token; skipping or shrinking this delay trips abuse thresholds.
		if err := p.Wait(ctx); err != nil {
			// Context cancelled (process shutdown). Leave the campaign
			// running so the stale requeue picks it up later.
			return nil, fmt.Errorf("campaign %d interrupted: %w", campaign.ID, err)
		}

		randomID := rand.Int63()

		if sendErr := d.vk.SendMessage(ctx, token, member.VKUserID, message, randomID); sendErr != nil {
			failed++
			errMsg := sendErr.Error()
			logger.Warnf("Campaign %d: send to recipient %d failed: %v", campaign.ID, member.VKUserID, sendErr)

			if logErr := d.campaigns.AddLog(
				ctx, campaign.ID, member.VKUserID, domain.LogOutcomeFailed, &errMsg,
			); logErr != nil {
				d.markFailed(ctx, campaign.ID)
				return nil, fmt.Errorf("failed to log send outcome: %w", logErr)
			}
			continue
		}

		sent++
		if logErr := d.campaigns.AddLog(
			ctx, campaign.ID, member.VKUserID, domain.LogOutcomeSent, nil,
		); logErr != nil {
			d.markFailed(ctx, campaign.ID)
			return nil, fmt.Errorf("failed to log send outcome: %w", logErr)
		}

		// Checkpoint counters every Nth successful send. Bounds crash loss
		// to at most checkpointEvery-1 un-persisted increments without
		// paying a campaign-row write per message.
		if d.checkpointEvery > 0 && sent%d.checkpointEvery == 0 {
			d.checkpoint(ctx, campaign.ID, domain.CampaignStatusRunning, sent, failed, total)
		}
	}

	completedAt := d.now()
	completed := domain.CampaignStatusCompleted
	if err := d.campaigns.Update(ctx, campaign.ID, repository.CampaignUpdate{
		Status:      &completed,
		SentCount:   &sent,
		FailedCount: &failed,
		CompletedAt: &completedAt,
	}); err != nil {
		return nil, fmt.Errorf("failed to complete campaign %d: %w", campaign.ID, err)
	}

	d.cacheProgress(ctx, campaign.ID, completed, sent, failed, total)

	logger.Infof("Campaign %d completed: %d sent, %d failed of %d", campaign.ID, sent, failed, total)

	return &domain.SendSummary{
		CampaignID: campaign.ID,
		Sent:       sent,
		Failed:     failed,
		Total:      total,
	}, nil
}

func (d *Dispatcher) checkpoint(
	ctx context.Context,
	campaignID int64,
	status domain.CampaignStatus,
	sent, failed, total int,
) {
	if err := d.campaigns.Update(ctx, campaignID, repository.CampaignUpdate{
		SentCount:   &sent,
		FailedCount: &failed,
	}); err != nil {
		logger.Warnf("Campaign %d: checkpoint write failed: %v", campaignID, err)
	}

	d.cacheProgress(ctx, campaignID, status, sent, failed, total)
}

func (d *Dispatcher) cacheProgress(
	ctx context.Context,
	campaignID int64,
	status domain.CampaignStatus,
	sent, failed, total int,
) {
	if d.cache == nil {
		return
	}

	if err := d.cache.CacheCampaignProgress(ctx, campaignID, &domain.CampaignProgress{
		Status:    status,
		Sent:      sent,
		Failed:    failed,
		Total:     total,
		UpdatedAt: d.now(),
	}); err != nil {
		logger.Warnf("Campaign %d: failed to cache progress: %v", campaignID, err)
	}
}

func (d *Dispatcher) markFailed(ctx context.Context, campaignID int64) {
	failed := domain.CampaignStatusFailed
	if err := d.campaigns.Update(ctx, campaignID, repository.CampaignUpdate{Status: &failed}); err != nil {
		logger.Errorf("Campaign %d: failed to mark as failed: %v", campaignID, err)
	}
}
