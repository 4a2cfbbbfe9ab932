package domain

import (
	"time"

	"github.com/google/uuid"
)

// FunnelStage is a lead's position in the sales process.
type FunnelStage string

const (
	FunnelTop    FunnelStage = "top"
	FunnelMiddle FunnelStage = "middle"
	FunnelBottom FunnelStage = "bottom"
)

// Bucket is an A/B experiment variant identifier.
type Bucket string

const (
	BucketA Bucket = "A"
	BucketB Bucket = "B"
	BucketC Bucket = "C"
)

// LeadStatus enumerates lifecycle stages of a lead.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusEnriched  LeadStatus = "enriched"
	LeadStatusContacted LeadStatus = "contacted"
	LeadStatusReplied   LeadStatus = "replied"
	LeadStatusScheduled LeadStatus = "scheduled"
	LeadStatusOptedOut  LeadStatus = "opted_out"
	LeadStatusLost      LeadStatus = "lost"
)

// Lead is a prospect owned by the persistence layer. The core only mutates
// Status and LastDispatchAt.
type Lead struct {
	ID             uuid.UUID
	TenantID       string
	ContactName    string
	CompanyName    string
	Phone          string
	Email          string
	Segment        string
	CompanySize    string
	Objections     []string
	Stage          FunnelStage
	Bucket         Bucket
	Priority       int
	Status         LeadStatus
	LastDispatchAt *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// HasContactFor reports whether the lead can be reached on the channel.
func (l *Lead) HasContactFor(ch Channel) bool {
	switch ch {
	case ChannelChat:
		return l.Phone != ""
	case ChannelEmail:
		return l.Email != ""
	case ChannelMulti:
		return l.Phone != "" || l.Email != ""
	default:
		return false
	}
}

// NextStatusAfterDispatch returns the status a lead moves to after a successful send.
func NextStatusAfterDispatch(current LeadStatus) LeadStatus {
	switch current {
	case LeadStatusNew, LeadStatusEnriched:
		return LeadStatusContacted
	default:
		return current
	}
}

// InteractionDirection tells whether an interaction was sent or received.
type InteractionDirection string

const (
	DirectionOutbound InteractionDirection = "outbound"
	DirectionInbound  InteractionDirection = "inbound"
)

// Interaction is one row of a lead's conversation log.
type Interaction struct {
	ID         uuid.UUID
	LeadID     uuid.UUID
	CampaignID uuid.UUID
	Channel    Channel
	Direction  InteractionDirection
	Kind       string
	Body       string
	MessageID  string
	Metadata   map[string]string
	OccurredAt time.Time
}
