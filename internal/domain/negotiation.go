package domain

import (
	"time"

	"github.com/google/uuid"
)

// NegotiationState is the phase of a scheduling negotiation.
type NegotiationState string

const (
	NegotiationProposed  NegotiationState = "proposed"
	NegotiationConfirmed NegotiationState = "confirmed"
)

// Slot is a candidate meeting interval.
type Slot struct {
	Start time.Time
	End   time.Time
}

// ScheduleNegotiation records the propose/confirm exchange for one lead.
type ScheduleNegotiation struct {
	ID              uuid.UUID
	LeadID          uuid.UUID
	CalendarID      string
	State           NegotiationState
	ProposedSlots   []Slot
	ChosenSlot      *Slot
	ExternalEventID string
	JoinLink        string
	Briefing        string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Terminal reports whether the negotiation already has a booked event.
func (n *ScheduleNegotiation) Terminal() bool {
	return n.ExternalEventID != ""
}
