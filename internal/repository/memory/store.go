// Package memory provides in-process repositories for local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/repository"
)

// LeadRepository implements repository.LeadRepository.
type LeadRepository struct {
	mu      sync.RWMutex
	leads   map[uuid.UUID]domain.Lead
	targets map[uuid.UUID]map[uuid.UUID]bool
}

// NewLeadRepository constructs an empty repository.
func NewLeadRepository() *LeadRepository {
	return &LeadRepository{
		leads:   make(map[uuid.UUID]domain.Lead),
		targets: make(map[uuid.UUID]map[uuid.UUID]bool),
	}
}

// Put stores a lead and, when campaignIDs are given, adds it to their target sets.
func (r *LeadRepository) Put(lead domain.Lead, campaignIDs ...uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leads[lead.ID] = lead
	for _, c := range campaignIDs {
		if r.targets[c] == nil {
			r.targets[c] = make(map[uuid.UUID]bool)
		}
		r.targets[c][lead.ID] = true
	}
}

// Get implements repository.LeadRepository.
func (r *LeadRepository) Get(_ context.Context, id uuid.UUID) (*domain.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	lead, ok := r.leads[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &lead, nil
}

// ListEligible implements repository.LeadRepository.
func (r *LeadRepository) ListEligible(_ context.Context, f repository.EligibleFilter) ([]*domain.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	statuses := make(map[domain.LeadStatus]bool, len(f.Statuses))
	for _, s := range f.Statuses {
		statuses[s] = true
	}

	var out []*domain.Lead
	for id := range r.targets[f.CampaignID] {
		lead := r.leads[id]
		if f.TenantID != "" && lead.TenantID != f.TenantID {
			continue
		}
		if !statuses[lead.Status] {
			continue
		}
		if lead.LastDispatchAt != nil && !lead.LastDispatchAt.Before(f.DispatchedBefore) {
			continue
		}
		if !lead.HasContactFor(f.Channel) {
			continue
		}
		l := lead
		out = append(out, &l)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// MarkDispatched implements repository.LeadRepository.
func (r *LeadRepository) MarkDispatched(_ context.Context, id uuid.UUID, status domain.LeadStatus, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lead, ok := r.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	lead.Status = status
	lead.LastDispatchAt = &at
	lead.UpdatedAt = at
	r.leads[id] = lead
	return nil
}

// UpdateStatus implements repository.LeadRepository.
func (r *LeadRepository) UpdateStatus(_ context.Context, id uuid.UUID, status domain.LeadStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	lead, ok := r.leads[id]
	if !ok {
		return repository.ErrNotFound
	}
	lead.Status = status
	lead.UpdatedAt = time.Now().UTC()
	r.leads[id] = lead
	return nil
}

// AssignToCampaign implements repository.CampaignTargetRepository.
func (r *LeadRepository) AssignToCampaign(_ context.Context, campaignID uuid.UUID, leadIDs []uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range leadIDs {
		if _, ok := r.leads[id]; !ok {
			return repository.ErrNotFound
		}
	}
	if r.targets[campaignID] == nil {
		r.targets[campaignID] = make(map[uuid.UUID]bool)
	}
	for _, id := range leadIDs {
		r.targets[campaignID][id] = true
	}
	return nil
}

// CampaignRepository implements repository.CampaignRepository.
type CampaignRepository struct {
	mu        sync.RWMutex
	campaigns map[uuid.UUID]domain.Campaign
}

// NewCampaignRepository constructs an empty repository.
func NewCampaignRepository() *CampaignRepository {
	return &CampaignRepository{campaigns: make(map[uuid.UUID]domain.Campaign)}
}

// Put stores a campaign.
func (r *CampaignRepository) Put(c domain.Campaign) {
	r.mu.Lock()
	r.campaigns[c.ID] = c
	r.mu.Unlock()
}

// Get implements repository.CampaignRepository.
func (r *CampaignRepository) Get(_ context.Context, id uuid.UUID) (*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &c, nil
}

// ListByStatus implements repository.CampaignRepository.
func (r *CampaignRepository) ListByStatus(_ context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Campaign
	for _, c := range r.campaigns {
		if c.Status != status {
			continue
		}
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Replace implements repository.AllowedHoursRepository on the stored campaign.
func (r *CampaignRepository) Replace(_ context.Context, campaignID uuid.UUID, windows []domain.BusinessHourWindow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return repository.ErrNotFound
	}
	c.Cadence.AllowedHours = append([]domain.BusinessHourWindow(nil), windows...)
	c.UpdatedAt = time.Now().UTC()
	r.campaigns[campaignID] = c
	return nil
}

// List implements repository.AllowedHoursRepository.
func (r *CampaignRepository) List(_ context.Context, campaignID uuid.UUID) ([]domain.BusinessHourWindow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.campaigns[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return append([]domain.BusinessHourWindow(nil), c.Cadence.AllowedHours...), nil
}

// StatisticsRepository implements repository.CampaignStatisticsRepository.
type StatisticsRepository struct {
	mu    sync.RWMutex
	stats map[uuid.UUID]domain.CampaignStats
}

// NewStatisticsRepository constructs an empty repository.
func NewStatisticsRepository() *StatisticsRepository {
	return &StatisticsRepository{stats: make(map[uuid.UUID]domain.CampaignStats)}
}

// Record implements repository.CampaignStatisticsRepository.
func (r *StatisticsRepository) Record(_ context.Context, report domain.RunReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats[report.CampaignID]
	s.CampaignID = report.CampaignID
	s.Runs++
	s.MessagesSent += report.Sent
	s.Failed += report.Failed
	s.Skipped += report.Skipped
	s.Deferred += report.Deferred
	s.LastOutcome = report.Outcome
	at := report.FinishedAt
	s.LastRunAt = &at
	r.stats[report.CampaignID] = s
	return nil
}

// Get implements repository.CampaignStatisticsRepository.
func (r *StatisticsRepository) Get(_ context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stats[campaignID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

// NegotiationRepository implements repository.NegotiationRepository.
type NegotiationRepository struct {
	mu    sync.RWMutex
	items []domain.ScheduleNegotiation
}

// NewNegotiationRepository constructs an empty repository.
func NewNegotiationRepository() *NegotiationRepository {
	return &NegotiationRepository{}
}

// Create implements repository.NegotiationRepository.
func (r *NegotiationRepository) Create(_ context.Context, n *domain.ScheduleNegotiation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.items {
		if existing.ID == n.ID {
			return repository.ErrConflict
		}
	}
	r.items = append(r.items, *n)
	return nil
}

// LatestProposed implements repository.NegotiationRepository.
func (r *NegotiationRepository) LatestProposed(_ context.Context, leadID uuid.UUID) (*domain.ScheduleNegotiation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.ScheduleNegotiation
	for i := range r.items {
		n := r.items[i]
		if n.LeadID != leadID || n.State != domain.NegotiationProposed {
			continue
		}
		if latest == nil || n.CreatedAt.After(latest.CreatedAt) {
			latest = &n
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	return latest, nil
}

// MarkConfirmed implements repository.NegotiationRepository.
func (r *NegotiationRepository) MarkConfirmed(_ context.Context, n *domain.ScheduleNegotiation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.items {
		if r.items[i].ID != n.ID {
			continue
		}
		if r.items[i].State != domain.NegotiationProposed {
			return repository.ErrConflict
		}
		r.items[i] = *n
		r.items[i].State = domain.NegotiationConfirmed
		return nil
	}
	return repository.ErrNotFound
}

// All returns a copy of every stored negotiation.
func (r *NegotiationRepository) All() []domain.ScheduleNegotiation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]domain.ScheduleNegotiation(nil), r.items...)
}

// InteractionStore implements repository.InteractionStore.
type InteractionStore struct {
	mu     sync.RWMutex
	byLead map[uuid.UUID][]domain.Interaction
}

// NewInteractionStore constructs an empty store.
func NewInteractionStore() *InteractionStore {
	return &InteractionStore{byLead: make(map[uuid.UUID][]domain.Interaction)}
}

// Append implements repository.InteractionStore.
func (s *InteractionStore) Append(_ context.Context, in domain.Interaction) error {
	s.mu.Lock()
	s.byLead[in.LeadID] = append(s.byLead[in.LeadID], in)
	s.mu.Unlock()
	return nil
}

// ListRecent implements repository.InteractionStore, newest first.
func (s *InteractionStore) ListRecent(_ context.Context, leadID uuid.UUID, limit int) ([]domain.Interaction, error) {
	s.mu.RLock()
	all := append([]domain.Interaction(nil), s.byLead[leadID]...)
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool { return all[i].OccurredAt.After(all[j].OccurredAt) })
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}
