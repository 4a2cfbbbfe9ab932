package queue

import (
	"time"

	"github.com/google/uuid"
)

// Event names carried in the "event" field of outbound documents.
const (
	EventDispatchSent      = "disparo.sent"
	EventScheduleConfirmed = "agendamento.confirmed"
)

// ScheduleRequest asks the negotiator to propose slots to a lead.
type ScheduleRequest struct {
	LeadID          uuid.UUID `json:"lead_id"`
	CalendarID      string    `json:"calendar_id,omitempty"`
	DurationMinutes int       `json:"duration_minutes,omitempty"`
	TraceID         string    `json:"trace_id,omitempty"`
	RequestedAt     time.Time `json:"requested_at"`
}

// ScheduleConfirmation carries the slot a lead picked, by start time or by its
// 1-based position in the proposal.
type ScheduleConfirmation struct {
	LeadID    uuid.UUID  `json:"lead_id"`
	SlotStart *time.Time `json:"slot_start,omitempty"`
	SlotIndex int        `json:"slot_index,omitempty"`
	TraceID   string     `json:"trace_id,omitempty"`
}

// CampaignDispatchTrigger starts a dispatch run for one campaign.
type CampaignDispatchTrigger struct {
	CampaignID  uuid.UUID `json:"campaign_id"`
	TraceID     string    `json:"trace_id,omitempty"`
	TriggeredAt time.Time `json:"triggered_at"`
}

// TriggerRetry carries a failed trigger to a retry or dead-letter topic. The
// original coordinates are kept so the handler derives the same trace id.
type TriggerRetry struct {
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Key       []byte    `json:"key,omitempty"`
	Payload   []byte    `json:"payload"`
	Attempt   int       `json:"attempt"`
	LastError string    `json:"last_error"`
	FailedAt  time.Time `json:"failed_at"`
	NotBefore time.Time `json:"not_before"`
}

// InboundMessage is a reply received from a lead.
type InboundMessage struct {
	LeadID     uuid.UUID `json:"lead_id"`
	Channel    string    `json:"channel"`
	Body       string    `json:"body"`
	Language   string    `json:"language,omitempty"`
	MessageID  string    `json:"message_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// DispatchSentEvent is emitted after a campaign message was accepted by a channel.
type DispatchSentEvent struct {
	Event          string    `json:"event"`
	LeadID         uuid.UUID `json:"lead_id"`
	CampaignID     uuid.UUID `json:"campaign_id"`
	TenantID       string    `json:"tenant_id"`
	Channel        string    `json:"channel"`
	VariantID      string    `json:"variant_id"`
	MessageID      string    `json:"message_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	LeadStatus     string    `json:"lead_status"`
	SentAt         time.Time `json:"sent_at"`
}

// ScheduleConfirmedEvent is emitted once a meeting is booked.
type ScheduleConfirmedEvent struct {
	Event         string    `json:"event"`
	LeadID        uuid.UUID `json:"lead_id"`
	NegotiationID uuid.UUID `json:"negotiation_id"`
	EventID       string    `json:"event_id"`
	JoinLink      string    `json:"join_link,omitempty"`
	ChosenStart   time.Time `json:"chosen_start"`
	ChosenEnd     time.Time `json:"chosen_end"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// EmailOutbound is the outbox document consumed by the mail relay.
type EmailOutbound struct {
	LeadID         uuid.UUID `json:"lead_id"`
	To             string    `json:"to"`
	From           string    `json:"from"`
	Subject        string    `json:"subject"`
	Body           string    `json:"body"`
	IdempotencyKey string    `json:"idempotency_key"`
	TraceID        string    `json:"trace_id,omitempty"`
	QueuedAt       time.Time `json:"queued_at"`
}
