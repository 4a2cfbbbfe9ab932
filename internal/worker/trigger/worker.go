package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/acme/lead-outreach-orchestrator/internal/compliance"
	"github.com/acme/lead-outreach-orchestrator/internal/config"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/metrics"
	"github.com/acme/lead-outreach-orchestrator/internal/queue"
	"github.com/acme/lead-outreach-orchestrator/internal/service/negotiation"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

// Negotiator runs the two scheduling phases.
type Negotiator interface {
	Propose(ctx context.Context, req negotiation.ProposeRequest) (negotiation.Proposal, error)
	Confirm(ctx context.Context, req negotiation.ConfirmRequest) (*domain.ScheduleNegotiation, error)
}

// CampaignLoader reads a campaign definition.
type CampaignLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Campaign, error)
}

// Dispatcher executes a campaign dispatch run.
type Dispatcher interface {
	Run(ctx context.Context, campaign *domain.Campaign) (domain.RunReport, error)
}

// InboundHandler processes a lead's reply.
type InboundHandler interface {
	Handle(ctx context.Context, msg compliance.InboundMessage) (domain.SentimentVerdict, error)
}

// Reader is the subset of *kafka.Reader the worker uses.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Retrier hands failed triggers to the delayed retry topics or the dead-letter topic.
type Retrier interface {
	Stages() int
	Topics() []string
	ScheduleRetry(ctx context.Context, attempt int, msg queue.TriggerRetry) error
	DeadLetter(ctx context.Context, msg queue.TriggerRetry) error
}

// Handlers groups the services a trigger can invoke.
type Handlers struct {
	Negotiator Negotiator
	Campaigns  CampaignLoader
	Dispatcher Dispatcher
	Inbound    InboundHandler
}

// Worker consumes the trigger topics and invokes the matching service.
type Worker struct {
	topics   config.TriggerTopics
	handlers Handlers
	retries  Retrier
	logger   *logger.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New constructs a trigger worker. Without a retrier a failed trigger is left
// uncommitted and stops its consumer.
func New(topics config.TriggerTopics, handlers Handlers, retries Retrier, lg *logger.Logger) *Worker {
	if lg == nil {
		lg = logger.Nop()
	}
	return &Worker{
		topics:   topics,
		handlers: handlers,
		retries:  retries,
		logger:   lg,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

// Topics lists the topics the worker consumes.
func (w *Worker) Topics() []string {
	return []string{
		w.topics.ScheduleRequest,
		w.topics.ScheduleConfirmation,
		w.topics.CampaignDispatch,
		w.topics.InboundMessage,
	}
}

// Run opens one reader per trigger topic, plus one per retry stage under
// retryGroupID, and consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, k *queue.Kafka, retryGroupID string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, topic := range w.Topics() {
		reader := k.NewReader(topic, k.GroupID())
		g.Go(func() error {
			defer reader.Close()
			return w.Consume(gctx, reader)
		})
	}
	if w.retries != nil {
		for _, topic := range w.retries.Topics() {
			reader := k.NewReader(topic, retryGroupID)
			g.Go(func() error {
				defer reader.Close()
				return w.ConsumeRetries(gctx, reader)
			})
		}
	}
	return g.Wait()
}

// Consume processes messages from reader until ctx is cancelled. A message is
// committed once it succeeded, was dropped as invalid, or was handed to the
// retry or dead-letter topic. If the handoff fails the message stays
// uncommitted and Consume returns.
func (w *Worker) Consume(ctx context.Context, reader Reader) error {
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("trigger worker: fetch message", zap.Error(err))
			continue
		}

		herr := w.Handle(ctx, m)
		if herr != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.settle(ctx, m, 0, herr); err != nil {
			return err
		}
		if err := w.commit(ctx, reader, m); err != nil {
			return err
		}
	}
}

// ConsumeRetries re-handles triggers from a retry topic once they are due. The
// original topic and coordinates are restored before handling.
func (w *Worker) ConsumeRetries(ctx context.Context, reader Reader) error {
	for {
		m, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Error("trigger worker: fetch retry", zap.Error(err))
			continue
		}

		var envelope queue.TriggerRetry
		if err := json.Unmarshal(m.Value, &envelope); err != nil || envelope.Topic == "" {
			w.logger.Warn("trigger worker: dropping malformed retry",
				zap.String("topic", m.Topic),
				zap.Int64("offset", m.Offset),
				zap.Error(err),
			)
			if err := w.commit(ctx, reader, m); err != nil {
				return err
			}
			continue
		}

		if wait := envelope.NotBefore.Sub(w.now()); wait > 0 {
			if err := w.sleep(ctx, wait); err != nil {
				return err
			}
		}

		original := kafka.Message{
			Topic:     envelope.Topic,
			Partition: envelope.Partition,
			Offset:    envelope.Offset,
			Key:       envelope.Key,
			Value:     envelope.Payload,
		}
		herr := w.Handle(ctx, original)
		if herr != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		if err := w.settle(ctx, original, envelope.Attempt, herr); err != nil {
			return err
		}
		if err := w.commit(ctx, reader, m); err != nil {
			return err
		}
	}
}

// settle decides what happens to a handled message. Invalid payloads are
// dropped. Transient failures move to the next retry stage; everything else,
// and anything past the last stage, goes to the dead-letter topic.
func (w *Worker) settle(ctx context.Context, m kafka.Message, attempt int, herr error) error {
	if herr == nil {
		return nil
	}
	fields := []zap.Field{
		zap.String("topic", m.Topic),
		zap.Int("partition", m.Partition),
		zap.Int64("offset", m.Offset),
		zap.Int("attempt", attempt),
		zap.Error(herr),
	}
	if errors.Is(herr, apperrors.ErrValidation) {
		w.logger.Warn("trigger worker: dropping invalid message", fields...)
		return nil
	}
	if w.retries == nil {
		w.logger.Error("trigger worker: process", fields...)
		return fmt.Errorf("trigger worker: %s offset %d left uncommitted: %w", m.Topic, m.Offset, herr)
	}

	envelope := queue.TriggerRetry{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Key:       m.Key,
		Payload:   m.Value,
		Attempt:   attempt,
		LastError: herr.Error(),
		FailedAt:  w.now().UTC(),
	}
	if retryable(herr) && attempt < w.retries.Stages() {
		if err := w.retries.ScheduleRetry(ctx, attempt+1, envelope); err != nil {
			return fmt.Errorf("trigger worker: schedule retry for %s offset %d: %w", m.Topic, m.Offset, err)
		}
		w.logger.Warn("trigger worker: retry scheduled", fields...)
		return nil
	}
	if err := w.retries.DeadLetter(ctx, envelope); err != nil {
		return fmt.Errorf("trigger worker: dead-letter %s offset %d: %w", m.Topic, m.Offset, err)
	}
	w.logger.Error("trigger worker: dead-lettered", fields...)
	return nil
}

func (w *Worker) commit(ctx context.Context, reader Reader, m kafka.Message) error {
	if err := reader.CommitMessages(ctx, m); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Error("trigger worker: commit message", zap.String("topic", m.Topic), zap.Error(err))
	}
	return nil
}

// Handle routes one message by topic.
func (w *Worker) Handle(ctx context.Context, m kafka.Message) error {
	tracer := otel.Tracer("outreach.eventworker")
	sctx, span := tracer.Start(ctx, "trigger.handle", trace.WithAttributes(
		attribute.String("messaging.destination", m.Topic),
		attribute.Int64("messaging.offset", m.Offset),
	))
	defer span.End()

	var err error
	switch m.Topic {
	case w.topics.ScheduleRequest:
		err = w.handleScheduleRequest(sctx, m)
	case w.topics.ScheduleConfirmation:
		err = w.handleScheduleConfirmation(sctx, m)
	case w.topics.CampaignDispatch:
		err = w.handleCampaignDispatch(sctx, m)
	case w.topics.InboundMessage:
		err = w.handleInbound(sctx, m)
	default:
		err = fmt.Errorf("trigger worker: unexpected topic %q: %w", m.Topic, apperrors.ErrValidation)
	}
	kind := kindOf(w.topics, m.Topic)

	metrics.TriggersConsumed.WithLabelValues(kind, resultLabel(err)).Inc()
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (w *Worker) handleScheduleRequest(ctx context.Context, m kafka.Message) error {
	var msg queue.ScheduleRequest
	if err := decode(m, &msg); err != nil {
		return err
	}
	if msg.LeadID == uuid.Nil {
		return fmt.Errorf("trigger worker: schedule request without lead: %w", apperrors.ErrValidation)
	}

	proposal, err := w.handlers.Negotiator.Propose(ctx, negotiation.ProposeRequest{
		LeadID:     msg.LeadID,
		CalendarID: msg.CalendarID,
		Duration:   time.Duration(msg.DurationMinutes) * time.Minute,
		TraceID:    traceFor(msg.TraceID, m),
	})
	if err != nil {
		return fmt.Errorf("trigger worker: propose: %w", err)
	}
	w.logger.Info("trigger worker: slots proposed",
		zap.String("lead_id", msg.LeadID.String()),
		zap.Bool("no_availability", proposal.NoAvailability),
	)
	return nil
}

func (w *Worker) handleScheduleConfirmation(ctx context.Context, m kafka.Message) error {
	var msg queue.ScheduleConfirmation
	if err := decode(m, &msg); err != nil {
		return err
	}
	if msg.LeadID == uuid.Nil {
		return fmt.Errorf("trigger worker: confirmation without lead: %w", apperrors.ErrValidation)
	}

	n, err := w.handlers.Negotiator.Confirm(ctx, negotiation.ConfirmRequest{
		LeadID:    msg.LeadID,
		SlotStart: msg.SlotStart,
		SlotIndex: msg.SlotIndex,
		TraceID:   traceFor(msg.TraceID, m),
	})
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			w.logger.Error("trigger worker: confirmation has no open proposal",
				zap.String("lead_id", msg.LeadID.String()),
				zap.Error(err),
			)
		}
		return fmt.Errorf("trigger worker: confirm: %w", err)
	}
	w.logger.Info("trigger worker: meeting confirmed",
		zap.String("lead_id", msg.LeadID.String()),
		zap.String("event_id", n.ExternalEventID),
	)
	return nil
}

func (w *Worker) handleCampaignDispatch(ctx context.Context, m kafka.Message) error {
	var msg queue.CampaignDispatchTrigger
	if err := decode(m, &msg); err != nil {
		return err
	}
	campaign, err := w.handlers.Campaigns.Get(ctx, msg.CampaignID)
	if err != nil {
		return fmt.Errorf("trigger worker: load campaign %s: %w", msg.CampaignID, err)
	}
	report, err := w.handlers.Dispatcher.Run(ctx, campaign)
	if err != nil {
		return fmt.Errorf("trigger worker: dispatch: %w", err)
	}
	w.logger.Info("trigger worker: dispatch run finished",
		zap.String("campaign_id", msg.CampaignID.String()),
		zap.String("trace_id", traceFor(msg.TraceID, m)),
		zap.String("outcome", string(report.Outcome)),
		zap.Int("sent", report.Sent),
	)
	return nil
}

func (w *Worker) handleInbound(ctx context.Context, m kafka.Message) error {
	var msg queue.InboundMessage
	if err := decode(m, &msg); err != nil {
		return err
	}
	verdict, err := w.handlers.Inbound.Handle(ctx, compliance.InboundMessage{
		LeadID:     msg.LeadID,
		Channel:    domain.Channel(msg.Channel),
		Body:       msg.Body,
		Language:   msg.Language,
		MessageID:  msg.MessageID,
		ReceivedAt: msg.ReceivedAt,
	})
	if err != nil {
		return fmt.Errorf("trigger worker: inbound: %w", err)
	}
	w.logger.Info("trigger worker: inbound evaluated",
		zap.String("lead_id", msg.LeadID.String()),
		zap.String("sentiment", string(verdict.Category)),
		zap.Bool("blocked", verdict.Block),
	)
	return nil
}

func decode(m kafka.Message, v any) error {
	if err := json.Unmarshal(m.Value, v); err != nil {
		return fmt.Errorf("trigger worker: decode %s: %w: %w", m.Topic, apperrors.ErrValidation, err)
	}
	return nil
}

// traceFor falls back to the message coordinates so a redelivered trigger keeps
// its trace id.
func traceFor(traceID string, m kafka.Message) string {
	if traceID != "" {
		return traceID
	}
	return fmt.Sprintf("%s-%d-%d", m.Topic, m.Partition, m.Offset)
}

func kindOf(topics config.TriggerTopics, topic string) string {
	switch topic {
	case topics.ScheduleRequest:
		return "schedule_request"
	case topics.ScheduleConfirmation:
		return "schedule_confirmation"
	case topics.CampaignDispatch:
		return "campaign_dispatch"
	case topics.InboundMessage:
		return "inbound_message"
	default:
		return "unknown"
	}
}

// retryable treats missing, conflicting and opted-out targets as permanent, and
// trusts the kind of a classified failure. Anything else is assumed transient.
func retryable(err error) bool {
	if errors.Is(err, apperrors.ErrNotFound) ||
		errors.Is(err, apperrors.ErrConflict) ||
		errors.Is(err, apperrors.ErrOptedOut) {
		return false
	}
	var ce *apperrors.ClassifiedError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperrors.ErrNotFound):
		return "not_found"
	case errors.Is(err, apperrors.ErrValidation):
		return "invalid"
	default:
		return "failed"
	}
}
