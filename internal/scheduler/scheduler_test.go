package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/lead-outreach-orchestrator/internal/config"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

type staticCampaigns struct {
	campaigns []*domain.Campaign
	err       error
	status    domain.CampaignStatus
}

func (s *staticCampaigns) ListByStatus(_ context.Context, status domain.CampaignStatus, _ int) ([]*domain.Campaign, error) {
	s.status = status
	return s.campaigns, s.err
}

type trackingRunner struct {
	mu       sync.Mutex
	active   map[string]int
	overlap  map[string]bool
	total    int
	peak     int
	failFor  map[uuid.UUID]bool
	runDelay time.Duration
}

func newTrackingRunner() *trackingRunner {
	return &trackingRunner{active: map[string]int{}, overlap: map[string]bool{}, failFor: map[uuid.UUID]bool{}}
}

func (r *trackingRunner) Run(_ context.Context, c *domain.Campaign) (domain.RunReport, error) {
	r.mu.Lock()
	r.active[c.TenantID]++
	if r.active[c.TenantID] > 1 {
		r.overlap[c.TenantID] = true
	}
	r.total++
	if r.total > r.peak {
		r.peak = r.total
	}
	r.mu.Unlock()

	time.Sleep(r.runDelay)

	r.mu.Lock()
	r.active[c.TenantID]--
	r.total--
	r.mu.Unlock()

	if r.failFor[c.ID] {
		return domain.RunReport{}, errors.New("lead store unavailable")
	}
	return domain.RunReport{CampaignID: c.ID, TenantID: c.TenantID, Outcome: domain.DispatchOutcomeCompleted}, nil
}

func campaignFor(tenant string) *domain.Campaign {
	return &domain.Campaign{ID: uuid.New(), TenantID: tenant, Status: domain.CampaignStatusActive}
}

func TestTickRunsActiveCampaigns(t *testing.T) {
	source := &staticCampaigns{campaigns: []*domain.Campaign{campaignFor("a"), campaignFor("b"), campaignFor("c")}}
	runner := newTrackingRunner()
	s := New(config.SchedulerConfig{MaxConcurrentRuns: 3}, source, runner, nil)

	reports, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, reports, 3)
	assert.Equal(t, domain.CampaignStatusActive, source.status)
}

func TestTickSerialisesRunsOfTheSameTenant(t *testing.T) {
	source := &staticCampaigns{campaigns: []*domain.Campaign{
		campaignFor("acme"), campaignFor("acme"), campaignFor("acme"), campaignFor("globex"),
	}}
	runner := newTrackingRunner()
	runner.runDelay = 20 * time.Millisecond
	s := New(config.SchedulerConfig{MaxConcurrentRuns: 4}, source, runner, nil)

	reports, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.Len(t, reports, 4)
	assert.False(t, runner.overlap["acme"])
	assert.GreaterOrEqual(t, runner.peak, 1)
}

func TestTickHonoursConcurrencyLimit(t *testing.T) {
	source := &staticCampaigns{campaigns: []*domain.Campaign{
		campaignFor("t1"), campaignFor("t2"), campaignFor("t3"), campaignFor("t4"), campaignFor("t5"),
	}}
	runner := newTrackingRunner()
	runner.runDelay = 10 * time.Millisecond
	s := New(config.SchedulerConfig{MaxConcurrentRuns: 2}, source, runner, nil)

	_, err := s.Tick(context.Background())
	require.NoError(t, err)
	assert.LessOrEqual(t, runner.peak, 2)
}

func TestTickContinuesPastFailedRun(t *testing.T) {
	failing := campaignFor("t1")
	source := &staticCampaigns{campaigns: []*domain.Campaign{failing, campaignFor("t2")}}
	runner := newTrackingRunner()
	runner.failFor[failing.ID] = true
	s := New(config.SchedulerConfig{}, source, runner, nil)

	reports, err := s.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "t2", reports[0].TenantID)
}

func TestTickPropagatesListError(t *testing.T) {
	source := &staticCampaigns{err: errors.New("postgres down")}
	s := New(config.SchedulerConfig{}, source, newTrackingRunner(), nil)

	_, err := s.Tick(context.Background())
	assert.Error(t, err)
}

func TestRunStopsOnCancel(t *testing.T) {
	source := &staticCampaigns{}
	s := New(config.SchedulerConfig{TickInterval: time.Hour}, source, newTrackingRunner(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
