package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/akosterin/vk-bot-platform/environments"
	"github.com/akosterin/vk-bot-platform/internal/domain"
	"github.com/akosterin/vk-bot-platform/internal/repository"
)

//
// Test fakes - only for this file.
//

type campaignUpdateCall struct {
	id     int64
	fields repository.CampaignUpdate
}

type addLogCall struct {
	campaignID   int64
	recipientID  int64
	outcome      domain.LogOutcome
	errorMessage *string
}

type fakeCampaignStore struct {
	nextID    int64
	campaigns map[int64]*domain.Campaign

	updates []campaignUpdateCall
	logs    []addLogCall
	logged  map[int64]domain.LogOutcome

	addLogErr error
}

func (s *fakeCampaignStore) Create(
	ctx context.Context,
	communityID int64,
	message string,
	scheduledAt *time.Time,
	status domain.CampaignStatus,
) (*domain.Campaign, error) {
	s.nextID++
	campaign := &domain.Campaign{
		ID:          s.nextID,
		CommunityID: communityID,
		Message:     message,
		Status:      status,
		ScheduledAt: scheduledAt,
	}
	if s.campaigns == nil {
		s.campaigns = make(map[int64]*domain.Campaign)
	}
	s.campaigns[campaign.ID] = campaign
	return campaign, nil
}

func (s *fakeCampaignStore) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	return s.campaigns[id], nil
}

func (s *fakeCampaignStore) Update(ctx context.Context, id int64, fields repository.CampaignUpdate) error {
	s.updates = append(s.updates, campaignUpdateCall{id: id, fields: fields})
	return nil
}

func (s *fakeCampaignStore) AddLog(
	ctx context.Context,
	campaignID, recipientID int64,
	outcome domain.LogOutcome,
	errorMessage *string,
) error {
	if s.addLogErr != nil {
		return s.addLogErr
	}
	s.logs = append(s.logs, addLogCall{
		campaignID:   campaignID,
		recipientID:  recipientID,
		outcome:      outcome,
		errorMessage: errorMessage,
	})
	return nil
}

func (s *fakeCampaignStore) GetLoggedOutcomes(ctx context.Context, campaignID int64) (map[int64]domain.LogOutcome, error) {
	if s.logged == nil {
		return map[int64]domain.LogOutcome{}, nil
	}
	return s.logged, nil
}

// lastStatus returns the status set by the most recent Update that carried one.
func (s *fakeCampaignStore) lastStatus() domain.CampaignStatus {
	for i := len(s.updates) - 1; i >= 0; i-- {
		if s.updates[i].fields.Status != nil {
			return *s.updates[i].fields.Status
		}
	}
	return ""
}

type fakeMemberStore struct {
	members []domain.Member
	err     error
}

func (s *fakeMemberStore) GetActiveSendable(ctx context.Context, communityID int64) ([]domain.Member, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.members, nil
}

type fakeMessageSender struct {
	failFor map[int64]bool

	peerIDs   []int64
	randomIDs []int64
}

func (s *fakeMessageSender) SendMessage(ctx context.Context, token string, peerID int64, text string, randomID int64) error {
	s.peerIDs = append(s.peerIDs, peerID)
	s.randomIDs = append(s.randomIDs, randomID)

	if s.failFor[peerID] {
		return fmt.Errorf("simulated send error for peer %d", peerID)
	}
	return nil
}

type fakePacer struct {
	waits int
	err   error
}

func (p *fakePacer) Wait(ctx context.Context) error {
	p.waits++
	return p.err
}

type fakeProgressCache struct {
	snapshots []domain.CampaignProgress
}

func (c *fakeProgressCache) CacheCampaignProgress(ctx context.Context, campaignID int64, progress *domain.CampaignProgress) error {
	c.snapshots = append(c.snapshots, *progress)
	return nil
}

func makeMembers(communityID int64, vkUserIDs ...int64) []domain.Member {
	members := make([]domain.Member, 0, len(vkUserIDs))
	for _, id := range vkUserIDs {
		members = append(members, domain.Member{
			CommunityID: communityID,
			VKUserID:    id,
			IsActive:    true,
			CanReceive:  true,
		})
	}
	return members
}

func newTestDispatcher(
	store *fakeCampaignStore,
	members *fakeMemberStore,
	sender *fakeMessageSender,
	cache *fakeProgressCache,
	fp *fakePacer,
) *Dispatcher {
	cfg := environments.BroadcastConfig{
		SendDelay:       500 * time.Millisecond,
		CheckpointEvery: 10,
	}

	var d *Dispatcher
	if cache != nil {
		d = NewDispatcher(store, members, sender, cache, cfg)
	} else {
		d = NewDispatcher(store, members, sender, nil, cfg)
	}

	d.newPacer = func() pacer { return fp }
	d.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	return d
}

//
// Tests
//

func TestDispatch_PartialFailureCompletesCampaign(t *testing.T) {
	ctx := context.Background()

	store := &fakeCampaignStore{}
	members := &fakeMemberStore{
		members: makeMembers(211001234, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10),
	}
	sender := &fakeMessageSender{
		failFor: map[int64]bool{3: true, 7: true},
	}
	p := &fakePacer{}

	d := newTestDispatcher(store, members, sender, nil, p)

	summary, err := d.Dispatch(ctx, 211001234, "token", "hello", nil)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	if summary.Sent != 8 || summary.Failed != 2 || summary.Total != 10 {
		t.Fatalf("expected summary 8/2/10, got %d/%d/%d", summary.Sent, summary.Failed, summary.Total)
	}

	if got := store.lastStatus(); got != domain.CampaignStatusCompleted {
		t.Fatalf("expected final status %q, got %q", domain.CampaignStatusCompleted, got)
	}

	if len(store.logs) != 10 {
		t.Fatalf("expected one log row per recipient (10), got %d", len(store.logs))
	}

	failedLogs := 0
	for _, log := range store.logs {
		if log.outcome == domain.LogOutcomeFailed {
			failedLogs++
			if log.errorMessage == nil || *log.errorMessage == "" {
				t.Errorf("failed log for recipient %d is missing the error message", log.recipientID)
			}
		} else if log.errorMessage != nil {
			t.Errorf("sent log for recipient %d should not carry an error message", log.recipientID)
		}
	}
	if failedLogs != 2 {
		t.Fatalf("expected 2 failed log rows, got %d", failedLogs)
	}

	// The final update must persist the exact counters.
	last := store.updates[len(store.updates)-1]
	if last.fields.SentCount == nil || *last.fields.SentCount != 8 {
		t.Errorf("expected final sent_count=8, got %v", last.fields.SentCount)
	}
	if last.fields.FailedCount == nil || *last.fields.FailedCount != 2 {
		t.Errorf("expected final failed_count=2, got %v", last.fields.FailedCount)
	}
	if last.fields.CompletedAt == nil {
		t.Errorf("expected completed_at to be set on the final update")
	}
}

func TestDispatch_NoRecipientsFailsCampaign(t *testing.T) {
	ctx := context.Background()

	store := &fakeCampaignStore{}
	members := &fakeMemberStore{}
	sender := &fakeMessageSender{}
	p := &fakePacer{}

	d := newTestDispatcher(store, members, sender, nil, p)

	_, err := d.Dispatch(ctx, 211001234, "token", "hello", nil)
	if !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}

	if got := store.lastStatus(); got != domain.CampaignStatusFailed {
		t.Fatalf("expected campaign marked failed, got status %q", got)
	}

	if len(store.logs) != 0 {
		t.Fatalf("expected no log rows, got %d", len(store.logs))
	}
	if p.waits != 0 {
		t.Fatalf("expected pacer never invoked, got %d waits", p.waits)
	}
	if len(sender.peerIDs) != 0 {
		t.Fatalf("expected no sends, got %d", len(sender.peerIDs))
	}
}

func TestDispatch_CheckpointEveryTenthSend(t *testing.T) {
	ctx := context.Background()

	ids := make([]int64, 0, 25)
	for i := int64(1); i <= 25; i++ {
		ids = append(ids, i)
	}

	store := &fakeCampaignStore{}
	members := &fakeMemberStore{members: makeMembers(211001234, ids...)}
	sender := &fakeMessageSender{}
	cache := &fakeProgressCache{}
	p := &fakePacer{}

	d := newTestDispatcher(store, members, sender, cache, p)

	summary, err := d.Dispatch(ctx, 211001234, "token", "hello", nil)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}
	if summary.Sent != 25 {
		t.Fatalf("expected 25 sent, got %d", summary.Sent)
	}

	// Counter-only writes (no status) are the mid-run checkpoints. With 25
	// successes and a checkpoint every 10th, they land at 10 and 20.
	var checkpoints []int
	for _, call := range store.updates {
		if call.fields.Status == nil && call.fields.SentCount != nil {
			checkpoints = append(checkpoints, *call.fields.SentCount)
		}
	}
	if len(checkpoints) != 2 || checkpoints[0] != 10 || checkpoints[1] != 20 {
		t.Fatalf("expected checkpoints at sent=10 and sent=20, got %v", checkpoints)
	}

	// Two checkpoint snapshots plus the completion snapshot.
	if len(cache.snapshots) != 3 {
		t.Fatalf("expected 3 cached progress snapshots, got %d", len(cache.snapshots))
	}
	final := cache.snapshots[len(cache.snapshots)-1]
	if final.Status != domain.CampaignStatusCompleted || final.Sent != 25 {
		t.Fatalf("expected final snapshot completed/25, got %s/%d", final.Status, final.Sent)
	}
}

func TestDispatch_ResumeSkipsLoggedRecipients(t *testing.T) {
	ctx := context.Background()

	store := &fakeCampaignStore{
		campaigns: map[int64]*domain.Campaign{
			7: {ID: 7, CommunityID: 211001234, Message: "hello", Status: domain.CampaignStatusScheduled},
		},
		logged: map[int64]domain.LogOutcome{
			1: domain.LogOutcomeSent,
			2: domain.LogOutcomeSent,
			3: domain.LogOutcomeFailed,
			4: domain.LogOutcomeSent,
		},
	}
	members := &fakeMemberStore{
		members: makeMembers(211001234, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10),
	}
	sender := &fakeMessageSender{}
	p := &fakePacer{}

	d := newTestDispatcher(store, members, sender, nil, p)

	campaignID := int64(7)
	summary, err := d.Dispatch(ctx, 211001234, "token", "hello", &campaignID)
	if err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	// Counters restart from the logged outcomes: 3 sent + 1 failed carried
	// over, 6 fresh sends.
	if summary.Sent != 9 || summary.Failed != 1 || summary.Total != 10 {
		t.Fatalf("expected summary 9/1/10, got %d/%d/%d", summary.Sent, summary.Failed, summary.Total)
	}

	if len(sender.peerIDs) != 6 {
		t.Fatalf("expected 6 sends for the unlogged recipients, got %d", len(sender.peerIDs))
	}
	for _, peerID := range sender.peerIDs {
		if _, done := store.logged[peerID]; done {
			t.Errorf("recipient %d already had an outcome and must not be re-sent", peerID)
		}
	}

	if p.waits != 6 {
		t.Fatalf("expected pacer invoked once per fresh send (6), got %d", p.waits)
	}
	if len(store.logs) != 6 {
		t.Fatalf("expected 6 new log rows, got %d", len(store.logs))
	}
}

func TestDispatch_PacesEveryProcessedRecipient(t *testing.T) {
	ctx := context.Background()

	store := &fakeCampaignStore{}
	members := &fakeMemberStore{members: makeMembers(211001234, 1, 2, 3, 4, 5)}
	sender := &fakeMessageSender{failFor: map[int64]bool{2: true}}
	p := &fakePacer{}

	d := newTestDispatcher(store, members, sender, nil, p)

	if _, err := d.Dispatch(ctx, 211001234, "token", "hello", nil); err != nil {
		t.Fatalf("Dispatch returned error: %v", err)
	}

	// Failures pace exactly like successes; the delay guards request cadence,
	// not outcomes.
	if p.waits != 5 {
		t.Fatalf("expected 5 pacer waits, got %d", p.waits)
	}
}

func TestDispatch_UnknownCampaignID(t *testing.T) {
	ctx := context.Background()

	store := &fakeCampaignStore{}
	d := newTestDispatcher(store, &fakeMemberStore{}, &fakeMessageSender{}, nil, &fakePacer{})

	missing := int64(999)
	_, err := d.Dispatch(ctx, 211001234, "token", "hello", &missing)
	if !errors.Is(err, ErrCampaignNotFound) {
		t.Fatalf("expected ErrCampaignNotFound, got %v", err)
	}

	if len(store.updates) != 0 {
		t.Fatalf("expected no status updates for an unknown campaign, got %d", len(store.updates))
	}
}

func TestDispatch_InterruptedWaitLeavesCampaignRunning(t *testing.T) {
	ctx := context.Background()

	store := &fakeCampaignStore{}
	members := &fakeMemberStore{members: makeMembers(211001234, 1, 2, 3)}
	sender := &fakeMessageSender{}
	p := &fakePacer{err: context.Canceled}

	d := newTestDispatcher(store, members, sender, nil, p)

	_, err := d.Dispatch(ctx, 211001234, "token", "hello", nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// The campaign stays running so the stale requeue can resume it later.
	if got := store.lastStatus(); got != domain.CampaignStatusRunning {
		t.Fatalf("expected campaign left running after interruption, got %q", got)
	}
	if len(sender.peerIDs) != 0 {
		t.Fatalf("expected no sends after the interrupted wait, got %d", len(sender.peerIDs))
	}
}

func TestDispatch_LogWriteFailureAborts(t *testing.T) {
	ctx := context.Background()

	store := &fakeCampaignStore{addLogErr: fmt.Errorf("simulated insert error")}
	members := &fakeMemberStore{members: makeMembers(211001234, 1, 2, 3)}
	sender := &fakeMessageSender{}
	p := &fakePacer{}

	d := newTestDispatcher(store, members, sender, nil, p)

	_, err := d.Dispatch(ctx, 211001234, "token", "hello", nil)
	if err == nil {
		t.Fatalf("expected an error when the outcome log cannot be written")
	}

	if got := store.lastStatus(); got != domain.CampaignStatusFailed {
		t.Fatalf("expected campaign marked failed, got %q", got)
	}
	// Without durable outcomes a resume would double-send, so the run stops
	// after the first recipient.
	if len(sender.peerIDs) != 1 {
		t.Fatalf("expected the run to stop after the first send, got %d sends", len(sender.peerIDs))
	}
}
