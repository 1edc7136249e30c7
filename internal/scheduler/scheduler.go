package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/akosterin/vk-bot-platform/internal/domain"
	"github.com/akosterin/vk-bot-platform/internal/repository"
	"github.com/akosterin/vk-bot-platform/pkg/logger"
)

// Minimal internal interfaces for the scheduler. They match the repository
// and service types and let us unit test the sweeps with small fakes.
type postStore interface {
	GetDue(ctx context.Context) ([]domain.ScheduledPost, error)
	Update(ctx context.Context, id int64, fields repository.PostUpdate) error
}

type campaignStore interface {
	GetDue(ctx context.Context) ([]domain.Campaign, error)
	Update(ctx context.Context, id int64, fields repository.CampaignUpdate) error
	RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type tokenStore interface {
	GetAccessToken(ctx context.Context, communityID int64) (string, error)
}

type postPublisher interface {
	Publish(ctx context.Context, post *domain.ScheduledPost) error
}

type campaignDispatcher interface {
	Dispatch(
		ctx context.Context,
		communityID int64,
		token, message string,
		campaignID *int64,
	) (*domain.SendSummary, error)
}

// Scheduler drives time-based progression of due work. Every tick runs a
// post sweep and a campaign sweep; due items are handed to goroutines
// without joining, so a slow broadcast never delays other due items or the
// next tick. Due-filtering by status makes ticks naturally idempotent: a
// restarted process re-discovers the same due items from stored state.
type Scheduler struct {
	posts      postStore
	campaigns  campaignStore
	tokens     tokenStore
	publisher  postPublisher
	dispatcher campaignDispatcher

	interval   time.Duration
	staleAfter time.Duration

	// Internal state
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// Statistics
	lastTickAt          time.Time
	ticksCount          int64
	postsDispatched     int64
	campaignsDispatched int64

	wg sync.WaitGroup
}

func NewScheduler(
	posts postStore,
	campaigns campaignStore,
	tokens tokenStore,
	publisher postPublisher,
	dispatcher campaignDispatcher,
	interval, staleAfter time.Duration,
) *Scheduler {
	return &Scheduler{
		posts:      posts,
		campaigns:  campaigns,
		tokens:     tokens,
		publisher:  publisher,
		dispatcher: dispatcher,
		interval:   interval,
		staleAfter: staleAfter,
	}
}

// Start begins the tick loop. Calling Start while already running is a
// logged no-op.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is already running")
		return nil
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	s.mu.Unlock()

	logger.Infof("Starting scheduler with interval: %v", s.interval)

	go s.run(ctx)

	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneChan)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx)

		case <-s.stopChan:
			logger.Warnf("Scheduler received stop signal")
			return

		case <-ctx.Done():
			logger.Warnf("Scheduler context cancelled")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	s.lastTickAt = time.Now()
	s.ticksCount++
	tickNumber := s.ticksCount
	s.mu.Unlock()

	logger.Debugf("[Tick #%d] Sweeping due posts and campaigns", tickNumber)

	// The sweeps are independent: a failure in one must not prevent the
	// other from running.
	s.sweepPosts(ctx, tickNumber)
	s.sweepCampaigns(ctx, tickNumber)
}

func (s *Scheduler) sweepPosts(ctx context.Context, tickNumber int64) {
	posts, err := s.posts.GetDue(ctx)
	if err != nil {
		logger.Errorf("[Tick #%d] Failed to query due posts: %v", tickNumber, err)
		return
	}

	if len(posts) == 0 {
		return
	}

	logger.Infof("[Tick #%d] %d due posts", tickNumber, len(posts))

	for i := range posts {
		post := posts[i]

		s.mu.Lock()
		s.postsDispatched++
		s.mu.Unlock()

		s.spawn(func() {
			if err := s.publisher.Publish(ctx, &post); err != nil {
				logger.Errorf("Failed to publish post %d: %v", post.ID, err)

				failed := domain.PostStatusFailed
				errMsg := err.Error()
				if updErr := s.posts.Update(ctx, post.ID, repository.PostUpdate{
					Status:       &failed,
					ErrorMessage: &errMsg,
				}); updErr != nil {
					logger.Errorf("Failed to mark post %d as failed: %v", post.ID, updErr)
				}
			}
		})
	}
}

func (s *Scheduler) sweepCampaigns(ctx context.Context, tickNumber int64) {
	if s.staleAfter > 0 {
		requeued, err := s.campaigns.RequeueStale(ctx, s.staleAfter)
		if err != nil {
			logger.Errorf("[Tick #%d] Failed to requeue stale campaigns: %v", tickNumber, err)
		} else if requeued > 0 {
			logger.Warnf("[Tick #%d] Requeued %d stale running campaigns", tickNumber, requeued)
		}
	}

	campaigns, err := s.campaigns.GetDue(ctx)
	if err != nil {
		logger.Errorf("[Tick #%d] Failed to query due campaigns: %v", tickNumber, err)
		return
	}

	if len(campaigns) == 0 {
		return
	}

	logger.Infof("[Tick #%d] %d due campaigns", tickNumber, len(campaigns))

	for i := range campaigns {
		campaign := campaigns[i]

		token, err := s.tokens.GetAccessToken(ctx, campaign.CommunityID)
		if err != nil || token == "" {
			// Terminal for this campaign only; the sweep moves on.
			logger.Errorf("[Tick #%d] No access token for community %d, failing campaign %d (err: %v)",
				tickNumber, campaign.CommunityID, campaign.ID, err)

			failed := domain.CampaignStatusFailed
			if updErr := s.campaigns.Update(ctx, campaign.ID, repository.CampaignUpdate{
				Status: &failed,
			}); updErr != nil {
				logger.Errorf("Failed to mark campaign %d as failed: %v", campaign.ID, updErr)
			}
			continue
		}

		s.mu.Lock()
		s.campaignsDispatched++
		s.mu.Unlock()

		s.spawn(func() {
			if _, err := s.dispatcher.Dispatch(
				ctx, campaign.CommunityID, token, campaign.Message, &campaign.ID,
			); err != nil {
				logger.Errorf("Campaign %d dispatch failed: %v", campaign.ID, err)
			}
		})
	}
}

// spawn runs fn in a goroutine with panic recovery at the task boundary, so
// a bug in one due item cannot crash the process or the tick loop.
func (s *Scheduler) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("Panic in scheduled task: %v", r)
			}
		}()

		fn()
	}()
}

// Stop cancels the tick loop; safe to call when not running. In-flight
// dispatch tasks are not joined: they run to completion or process exit.
func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is not running")
		return nil
	}

	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	close(stopChan)
	<-doneChan

	logger.Infof("Scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

type Status struct {
	Running             bool          `json:"running"`
	LastTickAt          time.Time     `json:"lastTickAt,omitempty"`
	NextTickAt          time.Time     `json:"nextTickAt,omitempty"`
	TicksCount          int64         `json:"ticksCount"`
	PostsDispatched     int64         `json:"postsDispatched"`
	CampaignsDispatched int64         `json:"campaignsDispatched"`
	Interval            time.Duration `json:"interval"`
}

func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := Status{
		Running:             s.running,
		LastTickAt:          s.lastTickAt,
		TicksCount:          s.ticksCount,
		PostsDispatched:     s.postsDispatched,
		CampaignsDispatched: s.campaignsDispatched,
		Interval:            s.interval,
	}

	if s.running && !s.lastTickAt.IsZero() {
		status.NextTickAt = s.lastTickAt.Add(s.interval)
	}

	return status
}
