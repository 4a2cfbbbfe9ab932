package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
)

var (
	// ErrNotFound indicates the entity was not located.
	ErrNotFound = apperrors.ErrNotFound
	// ErrConflict indicates a unique constraint violation.
	ErrConflict = apperrors.ErrConflict
)

// EligibleFilter selects leads a campaign may contact now.
type EligibleFilter struct {
	CampaignID uuid.UUID
	TenantID   string
	Statuses   []domain.LeadStatus
	// DispatchedBefore excludes leads contacted at or after this instant.
	DispatchedBefore time.Time
	Channel          domain.Channel
	Limit            int
}

// LeadRepository reads leads and updates the fields the orchestrator owns.
type LeadRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Lead, error)
	ListEligible(ctx context.Context, filter EligibleFilter) ([]*domain.Lead, error)
	MarkDispatched(ctx context.Context, id uuid.UUID, status domain.LeadStatus, at time.Time) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status domain.LeadStatus) error
}

// CampaignRepository reads campaign definitions.
type CampaignRepository interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
	ListByStatus(ctx context.Context, status domain.CampaignStatus, limit int) ([]*domain.Campaign, error)
}

// NegotiationRepository persists scheduling negotiations.
type NegotiationRepository interface {
	Create(ctx context.Context, n *domain.ScheduleNegotiation) error
	// LatestProposed returns the newest negotiation of the lead still in Proposed.
	LatestProposed(ctx context.Context, leadID uuid.UUID) (*domain.ScheduleNegotiation, error)
	// MarkConfirmed moves a Proposed negotiation to Confirmed. It fails with
	// ErrConflict if the record is no longer Proposed.
	MarkConfirmed(ctx context.Context, n *domain.ScheduleNegotiation) error
}

// InteractionStore is the append-only conversation log of a lead.
type InteractionStore interface {
	Append(ctx context.Context, interaction domain.Interaction) error
	ListRecent(ctx context.Context, leadID uuid.UUID, limit int) ([]domain.Interaction, error)
}

// CampaignStatisticsRepository keeps running dispatch totals per campaign.
type CampaignStatisticsRepository interface {
	Record(ctx context.Context, report domain.RunReport) error
	Get(ctx context.Context, campaignID uuid.UUID) (*domain.CampaignStats, error)
}

// CampaignTargetRepository maintains a campaign's target set.
type CampaignTargetRepository interface {
	AssignToCampaign(ctx context.Context, campaignID uuid.UUID, leadIDs []uuid.UUID) error
}

// AllowedHoursRepository stores the sending windows of a campaign.
type AllowedHoursRepository interface {
	Replace(ctx context.Context, campaignID uuid.UUID, windows []domain.BusinessHourWindow) error
	List(ctx context.Context, campaignID uuid.UUID) ([]domain.BusinessHourWindow, error)
}
