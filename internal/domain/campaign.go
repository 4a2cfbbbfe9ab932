package domain

import (
	"time"

	"github.com/google/uuid"
)

// CampaignStatus enumerates lifecycle states of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft     CampaignStatus = "draft"
	CampaignStatusActive    CampaignStatus = "active"
	CampaignStatusPaused    CampaignStatus = "paused"
	CampaignStatusCompleted CampaignStatus = "completed"
)

// Channel is the outbound medium a campaign uses.
type Channel string

const (
	ChannelChat  Channel = "chat"
	ChannelEmail Channel = "email"
	ChannelMulti Channel = "multi"
)

// Campaign models an outbound message campaign. It is read-only to the core.
type Campaign struct {
	ID        uuid.UUID
	TenantID  string
	Name      string
	Channel   Channel
	Status    CampaignStatus
	Variants  map[FunnelStage][]MessageVariant
	Cadence   Cadence
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cadence holds the timing rules of a campaign.
type Cadence struct {
	// AllowedHours optionally narrows the global business-hours gate.
	AllowedHours []BusinessHourWindow
	// MinInterval is the minimum time between two sends to the same lead.
	MinInterval time.Duration
}

// BusinessHourWindow captures an allowed sending window per day of week.
type BusinessHourWindow struct {
	DayOfWeek time.Weekday
	Start     time.Time
	End       time.Time
}

// MessageVariant is one copy of a message for a funnel stage and A/B bucket.
type MessageVariant struct {
	ID      string
	Bucket  Bucket
	Subject string
	Body    string
}

// DispatchOutcome summarises why a dispatch run ended.
type DispatchOutcome string

const (
	DispatchOutcomeCompleted      DispatchOutcome = "completed"
	DispatchOutcomeOutsideHours   DispatchOutcome = "outside_business_hours"
	DispatchOutcomeRateLimited    DispatchOutcome = "rate_limited"
	DispatchOutcomeRateLimitedMid DispatchOutcome = "rate_limited_mid_run"
	DispatchOutcomeCancelled      DispatchOutcome = "cancelled"
)

// RunReport aggregates the result of one campaign dispatch run.
type RunReport struct {
	CampaignID uuid.UUID
	TenantID   string
	Outcome    DispatchOutcome
	Selected   int
	Sent       int
	Failed     int
	Skipped    int
	Deferred   int
	StartedAt  time.Time
	FinishedAt time.Time
}

// CampaignStats are running totals over all dispatch runs of a campaign.
type CampaignStats struct {
	CampaignID   uuid.UUID
	Runs         int
	MessagesSent int
	Failed       int
	Skipped      int
	Deferred     int
	LastOutcome  DispatchOutcome
	LastRunAt    *time.Time
}
