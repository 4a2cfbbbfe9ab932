package compliance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/repository"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

// InboundMessage is a reply received from a lead.
type InboundMessage struct {
	LeadID     uuid.UUID
	Channel    domain.Channel
	Body       string
	Language   string
	MessageID  string
	ReceivedAt time.Time
}

// InboundHandler records replies and suppresses further outreach to leads that
// opt out.
type InboundHandler struct {
	gate         *Gate
	leads        repository.LeadRepository
	interactions repository.InteractionStore
	logger       *logger.Logger
}

// NewInboundHandler constructs an InboundHandler.
func NewInboundHandler(gate *Gate, leads repository.LeadRepository, interactions repository.InteractionStore, lg *logger.Logger) *InboundHandler {
	if lg == nil {
		lg = logger.Nop()
	}
	return &InboundHandler{gate: gate, leads: leads, interactions: interactions, logger: lg}
}

// Handle evaluates msg, appends it to the lead's history and updates the lead's
// status. A blocked verdict moves the lead to opted_out.
func (h *InboundHandler) Handle(ctx context.Context, msg InboundMessage) (domain.SentimentVerdict, error) {
	lead, err := h.leads.Get(ctx, msg.LeadID)
	if err != nil {
		return domain.SentimentVerdict{}, fmt.Errorf("inbound: get lead: %w", err)
	}

	verdict := h.gate.Evaluate(ctx, msg.Body, msg.Language)

	occurred := msg.ReceivedAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	interaction := domain.Interaction{
		ID:        uuid.New(),
		LeadID:    lead.ID,
		Channel:   msg.Channel,
		Direction: domain.DirectionInbound,
		Kind:      "reply",
		Body:      msg.Body,
		MessageID: msg.MessageID,
		Metadata: map[string]string{
			"sentiment":  string(verdict.Category),
			"confidence": strconv.Itoa(verdict.Confidence),
			"blocked":    strconv.FormatBool(verdict.Block),
			"degraded":   strconv.FormatBool(verdict.Degraded),
		},
		OccurredAt: occurred,
	}
	if verdict.BlockReason != "" {
		interaction.Metadata["block_reason"] = verdict.BlockReason
	}
	if err := h.interactions.Append(ctx, interaction); err != nil {
		h.logger.Error("inbound: append interaction failed", zap.String("lead_id", lead.ID.String()), zap.Error(err))
	}

	next := nextStatus(lead.Status, verdict)
	if next != lead.Status {
		if err := h.leads.UpdateStatus(ctx, lead.ID, next); err != nil {
			return verdict, fmt.Errorf("inbound: update lead status: %w", err)
		}
		h.logger.Info("inbound: lead status changed",
			zap.String("lead_id", lead.ID.String()),
			zap.String("previous_status", string(lead.Status)),
			zap.String("status", string(next)),
		)
	}
	return verdict, nil
}

func nextStatus(current domain.LeadStatus, verdict domain.SentimentVerdict) domain.LeadStatus {
	if verdict.Block {
		return domain.LeadStatusOptedOut
	}
	switch current {
	case domain.LeadStatusNew, domain.LeadStatusEnriched, domain.LeadStatusContacted:
		return domain.LeadStatusReplied
	default:
		return current
	}
}
