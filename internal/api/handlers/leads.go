package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/lead-outreach-orchestrator/internal/compliance"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/service/negotiation"
)

type proposeRequest struct {
	CalendarID      string `json:"calendar_id"`
	DurationMinutes int    `json:"duration_minutes"`
	TraceID         string `json:"trace_id"`
}

type confirmRequest struct {
	SlotStart *time.Time `json:"slot_start"`
	SlotIndex int        `json:"slot_index"`
	TraceID   string     `json:"trace_id"`
}

type inboundRequest struct {
	Channel    string    `json:"channel"`
	Body       string    `json:"body"`
	Language   string    `json:"language"`
	MessageID  string    `json:"message_id"`
	ReceivedAt time.Time `json:"received_at"`
}

type slotResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type negotiationResponse struct {
	ID              uuid.UUID               `json:"id"`
	LeadID          uuid.UUID               `json:"lead_id"`
	CalendarID      string                  `json:"calendar_id"`
	State           domain.NegotiationState `json:"state"`
	ProposedSlots   []slotResponse          `json:"proposed_slots"`
	ChosenSlot      *slotResponse           `json:"chosen_slot,omitempty"`
	ExternalEventID string                  `json:"external_event_id,omitempty"`
	JoinLink        string                  `json:"join_link,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

type proposalResponse struct {
	NoAvailability bool                 `json:"no_availability"`
	Notice         string               `json:"notice"`
	Negotiation    *negotiationResponse `json:"negotiation,omitempty"`
}

func (h *HandlerSet) proposeSchedule(ctx *fiber.Ctx) error {
	leadID, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return badRequest("invalid lead id")
	}
	var req proposeRequest
	if len(ctx.Body()) > 0 {
		if err := ctx.BodyParser(&req); err != nil {
			return badRequest("invalid payload")
		}
	}
	if req.DurationMinutes < 0 {
		return badRequest("duration_minutes must be positive")
	}

	proposal, err := h.deps.Negotiator.Propose(ctx.UserContext(), negotiation.ProposeRequest{
		LeadID:     leadID,
		CalendarID: req.CalendarID,
		Duration:   time.Duration(req.DurationMinutes) * time.Minute,
		TraceID:    req.TraceID,
	})
	if err != nil {
		return translateError(err)
	}

	resp := proposalResponse{NoAvailability: proposal.NoAvailability, Notice: proposal.Notice}
	if proposal.Negotiation != nil {
		n := toNegotiationResponse(proposal.Negotiation)
		resp.Negotiation = &n
	}
	status := fiber.StatusCreated
	if proposal.NoAvailability {
		status = fiber.StatusOK
	}
	return ctx.Status(status).JSON(resp)
}

func (h *HandlerSet) confirmSchedule(ctx *fiber.Ctx) error {
	leadID, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return badRequest("invalid lead id")
	}
	var req confirmRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest("invalid payload")
	}
	if req.SlotStart == nil && req.SlotIndex <= 0 {
		return badRequest("slot_start or slot_index is required")
	}

	n, err := h.deps.Negotiator.Confirm(ctx.UserContext(), negotiation.ConfirmRequest{
		LeadID:    leadID,
		SlotStart: req.SlotStart,
		SlotIndex: req.SlotIndex,
		TraceID:   req.TraceID,
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toNegotiationResponse(n))
}

func (h *HandlerSet) inboundMessage(ctx *fiber.Ctx) error {
	leadID, err := parseUUID(ctx.Params("id"))
	if err != nil {
		return badRequest("invalid lead id")
	}
	var req inboundRequest
	if err := ctx.BodyParser(&req); err != nil {
		return badRequest("invalid payload")
	}
	ch := domain.Channel(req.Channel)
	if ch == "" {
		ch = domain.ChannelChat
	}

	verdict, err := h.deps.Inbound.Handle(ctx.UserContext(), compliance.InboundMessage{
		LeadID:     leadID,
		Channel:    ch,
		Body:       req.Body,
		Language:   req.Language,
		MessageID:  req.MessageID,
		ReceivedAt: req.ReceivedAt,
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.JSON(toVerdictResponse(verdict))
}

func toNegotiationResponse(n *domain.ScheduleNegotiation) negotiationResponse {
	slots := make([]slotResponse, 0, len(n.ProposedSlots))
	for _, s := range n.ProposedSlots {
		slots = append(slots, slotResponse{Start: s.Start, End: s.End})
	}
	resp := negotiationResponse{
		ID:              n.ID,
		LeadID:          n.LeadID,
		CalendarID:      n.CalendarID,
		State:           n.State,
		ProposedSlots:   slots,
		ExternalEventID: n.ExternalEventID,
		JoinLink:        n.JoinLink,
		CreatedAt:       n.CreatedAt,
		UpdatedAt:       n.UpdatedAt,
	}
	if n.ChosenSlot != nil {
		resp.ChosenSlot = &slotResponse{Start: n.ChosenSlot.Start, End: n.ChosenSlot.End}
	}
	return resp
}
