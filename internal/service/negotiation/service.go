// Package negotiation runs the two-phase meeting scheduling exchange with a lead:
// propose free slots, then book the one the lead confirms.
package negotiation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/lead-outreach-orchestrator/internal/calendar"
	"github.com/acme/lead-outreach-orchestrator/internal/channel"
	"github.com/acme/lead-outreach-orchestrator/internal/config"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/metrics"
	"github.com/acme/lead-outreach-orchestrator/internal/queue"
	"github.com/acme/lead-outreach-orchestrator/internal/repository"
	"github.com/acme/lead-outreach-orchestrator/internal/resilience"
	"github.com/acme/lead-outreach-orchestrator/internal/service/common"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

const (
	phasePropose        = "propose"
	phaseNoAvailability = "no_availability"
	phaseConfirm        = "confirm"
)

// Settings tune availability search and briefing.
type Settings struct {
	Location             *time.Location
	LookAheadDays        int
	WorkStart            calendar.Clock
	WorkEnd              calendar.Clock
	WorkingDays          []time.Weekday
	MeetingDuration      time.Duration
	MaxProposedSlots     int
	BriefingInteractions int
	BriefingTruncate     int
	DefaultCalendarID    string
}

// DefaultSettings returns the production defaults in loc.
func DefaultSettings(loc *time.Location) Settings {
	return Settings{
		Location:             loc,
		LookAheadDays:        7,
		WorkStart:            calendar.MustClock("09:00"),
		WorkEnd:              calendar.MustClock("18:00"),
		WorkingDays:          calendar.WorkWeek(),
		MeetingDuration:      60 * time.Minute,
		MaxProposedSlots:     3,
		BriefingInteractions: 10,
		BriefingTruncate:     280,
		DefaultCalendarID:    "primary",
	}
}

// SettingsFromConfig converts the negotiation and calendar configuration.
func SettingsFromConfig(cfg config.NegotiationConfig, cal config.CalendarConfig) (Settings, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return Settings{}, fmt.Errorf("negotiation: load time zone %q: %w", cfg.TimeZone, err)
	}
	s := DefaultSettings(loc)
	if cfg.LookAheadDays > 0 {
		s.LookAheadDays = cfg.LookAheadDays
	}
	if cfg.WorkStart != "" {
		if s.WorkStart, err = calendar.ParseClock(cfg.WorkStart); err != nil {
			return Settings{}, fmt.Errorf("negotiation: work start: %w", err)
		}
	}
	if cfg.WorkEnd != "" {
		if s.WorkEnd, err = calendar.ParseClock(cfg.WorkEnd); err != nil {
			return Settings{}, fmt.Errorf("negotiation: work end: %w", err)
		}
	}
	if len(cfg.WorkingDays) > 0 {
		if s.WorkingDays, err = calendar.ParseWeekdays(cfg.WorkingDays); err != nil {
			return Settings{}, fmt.Errorf("negotiation: working days: %w", err)
		}
	}
	if cfg.MeetingDuration > 0 {
		s.MeetingDuration = cfg.MeetingDuration
	}
	if cfg.MaxProposedSlots > 0 {
		s.MaxProposedSlots = cfg.MaxProposedSlots
	}
	if cfg.BriefingInteractions > 0 {
		s.BriefingInteractions = cfg.BriefingInteractions
	}
	if cfg.BriefingTruncate > 0 {
		s.BriefingTruncate = cfg.BriefingTruncate
	}
	if cal.DefaultCalendarID != "" {
		s.DefaultCalendarID = cal.DefaultCalendarID
	}
	return s, nil
}

// EventPublisher emits the scheduling-confirmed business event.
type EventPublisher interface {
	PublishScheduleConfirmed(ctx context.Context, evt queue.ScheduleConfirmedEvent) error
}

// ProposeRequest starts a negotiation. Zero Duration uses the default meeting length.
type ProposeRequest struct {
	LeadID     uuid.UUID
	CalendarID string
	Duration   time.Duration
	TraceID    string
}

// Proposal is the outcome of Propose. Negotiation is nil when no slot was free.
type Proposal struct {
	Negotiation    *domain.ScheduleNegotiation
	NoAvailability bool
	Notice         string
}

// ConfirmRequest books one of the proposed slots, chosen by start time or by its
// 1-based position in the proposal.
type ConfirmRequest struct {
	LeadID    uuid.UUID
	SlotStart *time.Time
	SlotIndex int
	TraceID   string
}

// Service negotiates meetings.
type Service struct {
	settings     Settings
	leads        repository.LeadRepository
	negotiations repository.NegotiationRepository
	interactions repository.InteractionStore
	availability calendar.AvailabilityQuerier
	events       calendar.EventCreator
	notifier     channel.Sender
	publisher    EventPublisher
	logger       *logger.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewService wires the negotiator. notifier delivers notices to the lead and
// should be idempotent by key.
func NewService(
	settings Settings,
	leads repository.LeadRepository,
	negotiations repository.NegotiationRepository,
	interactions repository.InteractionStore,
	availability calendar.AvailabilityQuerier,
	events calendar.EventCreator,
	notifier channel.Sender,
	publisher EventPublisher,
	lg *logger.Logger,
) *Service {
	if lg == nil {
		lg = logger.Nop()
	}
	return &Service{
		settings:     settings,
		leads:        leads,
		negotiations: negotiations,
		interactions: interactions,
		availability: availability,
		events:       events,
		notifier:     notifier,
		publisher:    publisher,
		logger:       lg,
		tracer:       otel.Tracer("outreach.negotiation"),
		now:          time.Now,
	}
}

// Propose looks up free slots and offers the first few to the lead.
func (s *Service) Propose(ctx context.Context, req ProposeRequest) (Proposal, error) {
	traceID := traceOrNew(req.TraceID)
	ctx = resilience.WithTraceID(ctx, traceID)
	ctx, span := s.tracer.Start(ctx, "negotiation.propose", trace.WithAttributes(
		attribute.String("lead.id", req.LeadID.String()),
		attribute.String("trace.id", traceID),
	))
	defer span.End()
	lg := s.logger.WithContext(ctx).With(zap.String("lead_id", req.LeadID.String()), zap.String("trace_id", traceID))

	lead, err := s.leads.Get(ctx, req.LeadID)
	if err != nil {
		return Proposal{}, s.fail(span, phasePropose, fmt.Errorf("negotiation: get lead: %w", err))
	}

	calendarID := req.CalendarID
	if calendarID == "" {
		calendarID = s.settings.DefaultCalendarID
	}
	duration := req.Duration
	if duration <= 0 {
		duration = s.settings.MeetingDuration
	}

	local := s.now().In(s.settings.Location)
	from := time.Date(local.Year(), local.Month(), local.Day()+1, 0, 0, 0, 0, s.settings.Location)
	slots, err := s.availability.Availability(ctx, calendar.AvailabilityRequest{
		CalendarID:  calendarID,
		From:        from,
		To:          from.AddDate(0, 0, s.settings.LookAheadDays),
		Duration:    duration,
		WorkStart:   s.settings.WorkStart,
		WorkEnd:     s.settings.WorkEnd,
		WorkingDays: s.settings.WorkingDays,
		Location:    s.settings.Location,
	})
	if err != nil {
		return Proposal{}, s.fail(span, phasePropose, fmt.Errorf("negotiation: query availability: %w", err))
	}
	span.SetAttributes(attribute.Int("slots.free", len(slots)))

	if len(slots) == 0 {
		notice := noAvailabilityNotice(lead)
		if err := s.notify(ctx, lead, phaseNoAvailability, traceID, notice); err != nil {
			return Proposal{}, s.fail(span, phaseNoAvailability, err)
		}
		metrics.NegotiationTransitions.WithLabelValues(phaseNoAvailability, "ok").Inc()
		lg.Info("negotiation: no availability in look-ahead window")
		return Proposal{NoAvailability: true, Notice: notice}, nil
	}

	if len(slots) > s.settings.MaxProposedSlots {
		slots = slots[:s.settings.MaxProposedSlots]
	}
	notice := proposalNotice(lead, slots, s.settings.Location)
	if err := s.notify(ctx, lead, phasePropose, traceID, notice); err != nil {
		return Proposal{}, s.fail(span, phasePropose, err)
	}

	now := s.now().UTC()
	n := &domain.ScheduleNegotiation{
		ID:            uuid.New(),
		LeadID:        lead.ID,
		CalendarID:    calendarID,
		State:         domain.NegotiationProposed,
		ProposedSlots: slots,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.negotiations.Create(ctx, n); err != nil {
		return Proposal{}, s.fail(span, phasePropose, fmt.Errorf("negotiation: persist proposal: %w", err))
	}

	metrics.NegotiationTransitions.WithLabelValues(phasePropose, "ok").Inc()
	lg.Info("negotiation: slots proposed", zap.String("negotiation_id", n.ID.String()), zap.Int("slots", len(slots)))
	return Proposal{Negotiation: n, Notice: notice}, nil
}

// Confirm books the chosen slot of the lead's latest proposal. A missing lead or
// a missing proposal is reported as ErrNotFound without touching the calendar.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*domain.ScheduleNegotiation, error) {
	traceID := traceOrNew(req.TraceID)
	ctx = resilience.WithTraceID(ctx, traceID)
	ctx, span := s.tracer.Start(ctx, "negotiation.confirm", trace.WithAttributes(
		attribute.String("lead.id", req.LeadID.String()),
		attribute.String("trace.id", traceID),
	))
	defer span.End()
	lg := s.logger.WithContext(ctx).With(zap.String("lead_id", req.LeadID.String()), zap.String("trace_id", traceID))

	lead, err := s.leads.Get(ctx, req.LeadID)
	if err != nil {
		return nil, s.fail(span, phaseConfirm, fmt.Errorf("negotiation: get lead: %w", err))
	}

	n, err := s.negotiations.LatestProposed(ctx, lead.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			lg.Error("negotiation: confirmation without a pending proposal")
		}
		return nil, s.fail(span, phaseConfirm, fmt.Errorf("negotiation: latest proposal: %w", err))
	}

	slot, err := chooseSlot(n.ProposedSlots, req)
	if err != nil {
		return nil, s.fail(span, phaseConfirm, err)
	}

	history, err := s.interactions.ListRecent(ctx, lead.ID, s.settings.BriefingInteractions)
	if err != nil {
		lg.Warn("negotiation: interaction history unavailable for briefing", zap.Error(err))
		history = nil
	}

	briefing := buildBriefing(lead, history, s.settings.BriefingTruncate, s.settings.Location)
	var attendees []string
	if lead.Email != "" {
		attendees = append(attendees, lead.Email)
	}
	created, err := s.events.CreateEvent(ctx, calendar.EventRequest{
		CalendarID:  n.CalendarID,
		Summary:     eventSummary(lead),
		Description: briefing,
		Slot:        slot,
		Attendees:   attendees,
		RequestID:   n.ID.String(),
	})
	if err != nil {
		return nil, s.fail(span, phaseConfirm, fmt.Errorf("negotiation: create event: %w", err))
	}

	now := s.now().UTC()
	n.ChosenSlot = &slot
	n.ExternalEventID = created.EventID
	n.JoinLink = created.JoinLink
	n.Briefing = briefing
	n.UpdatedAt = now
	if err := s.negotiations.MarkConfirmed(ctx, n); err != nil {
		return nil, s.fail(span, phaseConfirm, fmt.Errorf("negotiation: mark confirmed (event %s): %w", created.EventID, err))
	}
	n.State = domain.NegotiationConfirmed

	if err := s.leads.UpdateStatus(ctx, lead.ID, domain.LeadStatusScheduled); err != nil {
		lg.Error("negotiation: advance lead to scheduled", zap.Error(err))
	}

	// The meeting is booked; a notice or event failure must not undo it.
	notice := confirmationNotice(lead, slot, created.JoinLink, s.settings.Location)
	if err := s.notify(ctx, lead, phaseConfirm, traceID, notice); err != nil {
		lg.Error("negotiation: confirmation notice failed", zap.Error(err))
	}
	if err := s.publisher.PublishScheduleConfirmed(ctx, queue.ScheduleConfirmedEvent{
		Event:         queue.EventScheduleConfirmed,
		LeadID:        lead.ID,
		NegotiationID: n.ID,
		EventID:       created.EventID,
		JoinLink:      created.JoinLink,
		ChosenStart:   slot.Start,
		ChosenEnd:     slot.End,
		ConfirmedAt:   now,
	}); err != nil {
		lg.Error("negotiation: publish confirmed event", zap.Error(err))
	}

	metrics.NegotiationTransitions.WithLabelValues(phaseConfirm, "ok").Inc()
	span.SetAttributes(attribute.String("calendar.event_id", created.EventID))
	lg.Info("negotiation: meeting confirmed",
		zap.String("negotiation_id", n.ID.String()),
		zap.String("event_id", created.EventID),
		zap.Time("start", slot.Start),
	)
	return n, nil
}

// notify delivers a notice on the lead's preferred channel. Leads without any
// contact are logged and skipped.
func (s *Service) notify(ctx context.Context, lead *domain.Lead, phase, traceID, body string) error {
	ch, address, ok := channel.Resolve(domain.ChannelMulti, *lead)
	if !ok {
		s.logger.Warn("negotiation: lead has no contact for notice",
			zap.String("lead_id", lead.ID.String()), zap.String("phase", phase))
		return nil
	}

	key := noticeKey(lead.ID, phase, traceID)
	receipt, err := s.notifier.Send(ctx, channel.SendRequest{
		Channel:        ch,
		LeadID:         lead.ID,
		To:             address,
		Subject:        "Agendamento de reunião",
		Body:           body,
		IdempotencyKey: key,
	})
	if err != nil {
		return fmt.Errorf("negotiation: send %s notice: %w", phase, err)
	}

	occurred := receipt.SentAt
	if occurred.IsZero() {
		occurred = s.now().UTC()
	}
	if err := s.interactions.Append(ctx, domain.Interaction{
		ID:         uuid.New(),
		LeadID:     lead.ID,
		Channel:    ch,
		Direction:  domain.DirectionOutbound,
		Kind:       "schedule_" + phase,
		Body:       body,
		MessageID:  receipt.MessageID,
		Metadata:   map[string]string{"idempotency_key": key},
		OccurredAt: occurred,
	}); err != nil {
		s.logger.Warn("negotiation: append notice interaction", zap.String("lead_id", lead.ID.String()), zap.Error(err))
	}
	return nil
}

func (s *Service) fail(span trace.Span, phase string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	metrics.NegotiationTransitions.WithLabelValues(phase, "error").Inc()
	return err
}

func chooseSlot(proposed []domain.Slot, req ConfirmRequest) (domain.Slot, error) {
	if req.SlotStart != nil {
		for _, s := range proposed {
			if s.Start.Equal(*req.SlotStart) {
				return s, nil
			}
		}
		return domain.Slot{}, fmt.Errorf("negotiation: %w: %s is not one of the proposed slots",
			apperrors.ErrValidation, req.SlotStart.Format(time.RFC3339))
	}
	if req.SlotIndex >= 1 && req.SlotIndex <= len(proposed) {
		return proposed[req.SlotIndex-1], nil
	}
	return domain.Slot{}, fmt.Errorf("negotiation: %w: slot option %d out of range 1..%d",
		apperrors.ErrValidation, req.SlotIndex, len(proposed))
}

func eventSummary(lead *domain.Lead) string {
	if lead.CompanyName != "" {
		return "Reunião com " + lead.CompanyName
	}
	return "Reunião com " + orDash(lead.ContactName)
}

// noticeKey is stable for one trigger delivery, so a redelivered trigger does not
// notify the lead twice.
func noticeKey(leadID uuid.UUID, phase, traceID string) string {
	return common.DeriveKey("negotiation", leadID.String(), phase, traceID)
}

func traceOrNew(traceID string) string {
	if traceID != "" {
		return traceID
	}
	return uuid.NewString()
}
