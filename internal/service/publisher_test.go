package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/akosterin/vk-bot-platform/internal/domain"
	"github.com/akosterin/vk-bot-platform/internal/repository"
)

//
// Test fakes - only for this file.
//

type gameSettingsCall struct {
	postID       int64
	enabled      bool
	attempts     int
	lives        int
	prizeKeyword string
	promoCodes   string
}

type fakePostStore struct {
	updates      []postUpdateCall
	gameSettings []gameSettingsCall

	gameErr error
}

type postUpdateCall struct {
	id     int64
	fields repository.PostUpdate
}

func (s *fakePostStore) Update(ctx context.Context, id int64, fields repository.PostUpdate) error {
	s.updates = append(s.updates, postUpdateCall{id: id, fields: fields})
	return nil
}

func (s *fakePostStore) SetGameSettings(
	ctx context.Context,
	postID int64,
	enabled bool,
	attempts, lives int,
	prizeKeyword, promoCodes string,
) error {
	if s.gameErr != nil {
		return s.gameErr
	}
	s.gameSettings = append(s.gameSettings, gameSettingsCall{
		postID:       postID,
		enabled:      enabled,
		attempts:     attempts,
		lives:        lives,
		prizeKeyword: prizeKeyword,
		promoCodes:   promoCodes,
	})
	return nil
}

type campaignCreateCall struct {
	communityID int64
	message     string
	scheduledAt *time.Time
	status      domain.CampaignStatus
}

type fakeCampaignCreator struct {
	nextID  int64
	creates []campaignCreateCall
}

func (s *fakeCampaignCreator) Create(
	ctx context.Context,
	communityID int64,
	message string,
	scheduledAt *time.Time,
	status domain.CampaignStatus,
) (*domain.Campaign, error) {
	s.nextID++
	s.creates = append(s.creates, campaignCreateCall{
		communityID: communityID,
		message:     message,
		scheduledAt: scheduledAt,
		status:      status,
	})
	return &domain.Campaign{
		ID:          s.nextID,
		CommunityID: communityID,
		Message:     message,
		Status:      status,
		ScheduledAt: scheduledAt,
	}, nil
}

type fakeTokenStore struct {
	token string
	err   error
}

func (s *fakeTokenStore) GetAccessToken(ctx context.Context, communityID int64) (string, error) {
	return s.token, s.err
}

type wallPostCall struct {
	communityID int64
	text        string
	attachments string
	publishDate *time.Time
}

type fakeWallPoster struct {
	postID int64
	err    error

	calls []wallPostCall
}

func (s *fakeWallPoster) PublishPost(
	ctx context.Context,
	token string,
	communityID int64,
	text, attachments string,
	publishDate *time.Time,
) (int64, error) {
	s.calls = append(s.calls, wallPostCall{
		communityID: communityID,
		text:        text,
		attachments: attachments,
		publishDate: publishDate,
	})
	if s.err != nil {
		return 0, s.err
	}
	return s.postID, nil
}

type dispatchCall struct {
	communityID int64
	token       string
	message     string
	campaignID  *int64
}

// fakeBroadcastDispatcher records calls and signals dispatched so tests can
// wait for the fire-and-forget goroutine.
type fakeBroadcastDispatcher struct {
	mu         sync.Mutex
	calls      []dispatchCall
	dispatched chan struct{}
}

func newFakeBroadcastDispatcher() *fakeBroadcastDispatcher {
	return &fakeBroadcastDispatcher{dispatched: make(chan struct{}, 1)}
}

func (s *fakeBroadcastDispatcher) Dispatch(
	ctx context.Context,
	communityID int64,
	token, message string,
	campaignID *int64,
) (*domain.SendSummary, error) {
	s.mu.Lock()
	s.calls = append(s.calls, dispatchCall{
		communityID: communityID,
		token:       token,
		message:     message,
		campaignID:  campaignID,
	})
	s.mu.Unlock()

	s.dispatched <- struct{}{}
	return &domain.SendSummary{}, nil
}

func (s *fakeBroadcastDispatcher) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func newTestPublisher(
	posts *fakePostStore,
	campaigns *fakeCampaignCreator,
	tokens *fakeTokenStore,
	wall *fakeWallPoster,
	dispatcher *fakeBroadcastDispatcher,
	now time.Time,
) *Publisher {
	p := NewPublisher(posts, campaigns, tokens, wall, dispatcher)
	p.now = func() time.Time { return now }
	return p
}

func intPtr(v int) *int              { return &v }
func strPtr(v string) *string        { return &v }
func timePtr(v time.Time) *time.Time { return &v }

//
// Tests
//

func TestResolveBroadcastTiming(t *testing.T) {
	publishedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := publishedAt.Add(2 * time.Hour)
	past := publishedAt.Add(-1 * time.Hour)

	tests := []struct {
		name          string
		delayMinutes  *int
		broadcastAt   *time.Time
		wantAt        time.Time
		wantImmediate bool
	}{
		{
			name:          "neither set sends now",
			wantAt:        publishedAt,
			wantImmediate: true,
		},
		{
			name:          "zero delay sends now",
			delayMinutes:  intPtr(0),
			wantAt:        publishedAt,
			wantImmediate: true,
		},
		{
			name:         "positive delay counts from actual publish time",
			delayMinutes: intPtr(10),
			wantAt:       publishedAt.Add(10 * time.Minute),
		},
		{
			name:         "delay wins over absolute broadcast time",
			delayMinutes: intPtr(10),
			broadcastAt:  timePtr(future),
			wantAt:       publishedAt.Add(10 * time.Minute),
		},
		{
			name:          "past broadcast time sends now",
			broadcastAt:   timePtr(past),
			wantAt:        publishedAt,
			wantImmediate: true,
		},
		{
			name:        "future broadcast time is honored",
			broadcastAt: timePtr(future),
			wantAt:      future,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotAt, gotImmediate := resolveBroadcastTiming(tt.delayMinutes, tt.broadcastAt, publishedAt)
			if gotImmediate != tt.wantImmediate {
				t.Fatalf("expected immediate=%v, got %v", tt.wantImmediate, gotImmediate)
			}
			if !gotAt.Equal(tt.wantAt) {
				t.Fatalf("expected effective time %v, got %v", tt.wantAt, gotAt)
			}
		})
	}
}

func TestPublish_MarksPostPublished(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	posts := &fakePostStore{}
	wall := &fakeWallPoster{postID: 5501}
	pub := newTestPublisher(posts, &fakeCampaignCreator{}, &fakeTokenStore{token: "vk-token"}, wall, newFakeBroadcastDispatcher(), now)

	post := &domain.ScheduledPost{
		ID:          1,
		CommunityID: 211001234,
		Text:        "Big announcement",
		ScheduledAt: now.Add(-1 * time.Minute),
	}

	if err := pub.Publish(ctx, post); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if len(wall.calls) != 1 {
		t.Fatalf("expected 1 wall.post call, got %d", len(wall.calls))
	}
	// Due posts publish right away; no native delay handed to VK.
	if wall.calls[0].publishDate != nil {
		t.Fatalf("expected no publish_date for a due post, got %v", wall.calls[0].publishDate)
	}

	if len(posts.updates) != 1 {
		t.Fatalf("expected 1 post update, got %d", len(posts.updates))
	}
	upd := posts.updates[0].fields
	if upd.Status == nil || *upd.Status != domain.PostStatusPublished {
		t.Errorf("expected status published, got %v", upd.Status)
	}
	if upd.VKPostID == nil || *upd.VKPostID != 5501 {
		t.Errorf("expected vk_post_id 5501, got %v", upd.VKPostID)
	}
	if upd.PublishedAt == nil || !upd.PublishedAt.Equal(now) {
		t.Errorf("expected published_at %v, got %v", now, upd.PublishedAt)
	}
}

func TestPublish_FutureScheduleDelegatesToNativeDelay(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	scheduledAt := now.Add(30 * time.Minute)

	wall := &fakeWallPoster{postID: 42}
	pub := newTestPublisher(&fakePostStore{}, &fakeCampaignCreator{}, &fakeTokenStore{token: "vk-token"}, wall, newFakeBroadcastDispatcher(), now)

	post := &domain.ScheduledPost{
		ID:          2,
		CommunityID: 211001234,
		Text:        "Early trigger",
		ScheduledAt: scheduledAt,
	}

	if err := pub.Publish(ctx, post); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if len(wall.calls) != 1 {
		t.Fatalf("expected 1 wall.post call, got %d", len(wall.calls))
	}
	got := wall.calls[0].publishDate
	if got == nil || !got.Equal(scheduledAt) {
		t.Fatalf("expected publish_date %v, got %v", scheduledAt, got)
	}
}

func TestPublish_MissingTokenFails(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	wall := &fakeWallPoster{}
	posts := &fakePostStore{}
	pub := newTestPublisher(posts, &fakeCampaignCreator{}, &fakeTokenStore{token: ""}, wall, newFakeBroadcastDispatcher(), now)

	post := &domain.ScheduledPost{ID: 3, CommunityID: 211001234, Text: "No token", ScheduledAt: now}

	err := pub.Publish(ctx, post)
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound, got %v", err)
	}

	if len(wall.calls) != 0 {
		t.Fatalf("expected no wall.post call without a token, got %d", len(wall.calls))
	}
	if len(posts.updates) != 0 {
		t.Fatalf("expected no post update, got %d", len(posts.updates))
	}
}

func TestPublish_WallPostErrorPropagates(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	posts := &fakePostStore{}
	wall := &fakeWallPoster{err: fmt.Errorf("simulated VK error")}
	pub := newTestPublisher(posts, &fakeCampaignCreator{}, &fakeTokenStore{token: "vk-token"}, wall, newFakeBroadcastDispatcher(), now)

	post := &domain.ScheduledPost{ID: 4, CommunityID: 211001234, Text: "Will fail", ScheduledAt: now}

	if err := pub.Publish(ctx, post); err == nil {
		t.Fatalf("expected an error when wall.post fails")
	}

	if len(posts.updates) != 0 {
		t.Fatalf("expected no post update after a failed publish, got %d", len(posts.updates))
	}
}

func TestPublish_GameSettingsConfigured(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	posts := &fakePostStore{}
	pub := newTestPublisher(posts, &fakeCampaignCreator{}, &fakeTokenStore{token: "vk-token"}, &fakeWallPoster{postID: 9}, newFakeBroadcastDispatcher(), now)

	post := &domain.ScheduledPost{
		ID:               5,
		CommunityID:      211001234,
		Text:             "Comment to win!",
		ScheduledAt:      now,
		GameEnabled:      true,
		GameAttempts:     3,
		GameLives:        2,
		GamePrizeKeyword: "winner",
		GamePromoCodes:   "CODE1,CODE2",
	}

	if err := pub.Publish(ctx, post); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if len(posts.gameSettings) != 1 {
		t.Fatalf("expected 1 game settings call, got %d", len(posts.gameSettings))
	}
	call := posts.gameSettings[0]
	if call.postID != 5 || !call.enabled || call.attempts != 3 || call.lives != 2 {
		t.Fatalf("unexpected game settings call: %+v", call)
	}
	if call.prizeKeyword != "winner" || call.promoCodes != "CODE1,CODE2" {
		t.Fatalf("unexpected game prize fields: %+v", call)
	}
}

func TestPublish_GameSettingsErrorIsNotFatal(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	posts := &fakePostStore{gameErr: fmt.Errorf("simulated insert error")}
	pub := newTestPublisher(posts, &fakeCampaignCreator{}, &fakeTokenStore{token: "vk-token"}, &fakeWallPoster{postID: 9}, newFakeBroadcastDispatcher(), now)

	post := &domain.ScheduledPost{
		ID:          6,
		CommunityID: 211001234,
		Text:        "Game config fails",
		ScheduledAt: now,
		GameEnabled: true,
	}

	// The publish itself succeeded; game config stays best-effort.
	if err := pub.Publish(ctx, post); err != nil {
		t.Fatalf("expected nil error despite game settings failure, got %v", err)
	}
}

func TestPublish_ImmediateBroadcastDispatches(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	campaigns := &fakeCampaignCreator{}
	dispatcher := newFakeBroadcastDispatcher()
	pub := newTestPublisher(&fakePostStore{}, campaigns, &fakeTokenStore{token: "vk-token"}, &fakeWallPoster{postID: 11}, dispatcher, now)

	post := &domain.ScheduledPost{
		ID:               7,
		CommunityID:      211001234,
		Text:             "Post with broadcast",
		ScheduledAt:      now,
		BroadcastEnabled: true,
		BroadcastMessage: strPtr("Check out our new post!"),
	}

	if err := pub.Publish(ctx, post); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	select {
	case <-dispatcher.dispatched:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for the broadcast dispatch")
	}

	if len(campaigns.creates) != 1 {
		t.Fatalf("expected 1 campaign create, got %d", len(campaigns.creates))
	}
	created := campaigns.creates[0]
	if created.status != domain.CampaignStatusDraft {
		t.Errorf("expected draft status for an immediate broadcast, got %q", created.status)
	}
	// NULL scheduled_at keeps the campaign invisible to the due sweep.
	if created.scheduledAt != nil {
		t.Errorf("expected nil scheduled_at for an immediate broadcast, got %v", created.scheduledAt)
	}
	if created.message != "Check out our new post!" {
		t.Errorf("unexpected broadcast message %q", created.message)
	}

	dispatcher.mu.Lock()
	call := dispatcher.calls[0]
	dispatcher.mu.Unlock()
	if call.communityID != 211001234 || call.token != "vk-token" {
		t.Errorf("unexpected dispatch call: %+v", call)
	}
	if call.campaignID == nil || *call.campaignID != 1 {
		t.Errorf("expected dispatch for campaign 1, got %v", call.campaignID)
	}
}

func TestPublish_DelayedBroadcastSchedulesCampaign(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	campaigns := &fakeCampaignCreator{}
	dispatcher := newFakeBroadcastDispatcher()
	pub := newTestPublisher(&fakePostStore{}, campaigns, &fakeTokenStore{token: "vk-token"}, &fakeWallPoster{postID: 12}, dispatcher, now)

	post := &domain.ScheduledPost{
		ID:                    8,
		CommunityID:           211001234,
		Text:                  "Post with delayed broadcast",
		ScheduledAt:           now,
		BroadcastEnabled:      true,
		BroadcastMessage:      strPtr("Delayed follow-up"),
		BroadcastDelayMinutes: intPtr(10),
	}

	if err := pub.Publish(ctx, post); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if len(campaigns.creates) != 1 {
		t.Fatalf("expected 1 campaign create, got %d", len(campaigns.creates))
	}
	created := campaigns.creates[0]
	if created.status != domain.CampaignStatusScheduled {
		t.Errorf("expected scheduled status, got %q", created.status)
	}
	wantAt := now.Add(10 * time.Minute)
	if created.scheduledAt == nil || !created.scheduledAt.Equal(wantAt) {
		t.Errorf("expected scheduled_at %v, got %v", wantAt, created.scheduledAt)
	}

	// The sweep owns delayed campaigns; nothing dispatches now.
	if dispatcher.callCount() != 0 {
		t.Fatalf("expected no immediate dispatch, got %d calls", dispatcher.callCount())
	}
}

func TestPublish_BroadcastWithoutMessageIsSkipped(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	campaigns := &fakeCampaignCreator{}
	dispatcher := newFakeBroadcastDispatcher()
	pub := newTestPublisher(&fakePostStore{}, campaigns, &fakeTokenStore{token: "vk-token"}, &fakeWallPoster{postID: 13}, dispatcher, now)

	post := &domain.ScheduledPost{
		ID:               9,
		CommunityID:      211001234,
		Text:             "Broadcast flag without message",
		ScheduledAt:      now,
		BroadcastEnabled: true,
		BroadcastMessage: strPtr(""),
	}

	if err := pub.Publish(ctx, post); err != nil {
		t.Fatalf("Publish returned error: %v", err)
	}

	if len(campaigns.creates) != 0 {
		t.Fatalf("expected no campaign for an empty broadcast message, got %d", len(campaigns.creates))
	}
	if dispatcher.callCount() != 0 {
		t.Fatalf("expected no dispatch, got %d calls", dispatcher.callCount())
	}
}
