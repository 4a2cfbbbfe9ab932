// Package dispatch runs one pass of a campaign over its eligible leads.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
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
	"github.com/acme/lead-outreach-orchestrator/internal/ratelimit"
	"github.com/acme/lead-outreach-orchestrator/internal/repository"
	"github.com/acme/lead-outreach-orchestrator/internal/service/common"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

// Settings tune a dispatch run.
type Settings struct {
	Hours              BusinessHours
	JitterMax          time.Duration
	JitterFloor        time.Duration
	MaxLeadsPerRun     int
	ActionableStatuses []domain.LeadStatus
}

// DefaultSettings returns the production defaults in loc.
func DefaultSettings(loc *time.Location) Settings {
	return Settings{
		Hours:          DefaultBusinessHours(loc),
		JitterMax:      5 * time.Minute,
		JitterFloor:    10 * time.Second,
		MaxLeadsPerRun: 50,
		ActionableStatuses: []domain.LeadStatus{
			domain.LeadStatusEnriched,
			domain.LeadStatusContacted,
			domain.LeadStatusReplied,
		},
	}
}

// SettingsFromConfig converts the dispatch configuration.
func SettingsFromConfig(cfg config.DispatchConfig) (Settings, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return Settings{}, fmt.Errorf("dispatch: load time zone %q: %w", cfg.TimeZone, err)
	}
	s := DefaultSettings(loc)

	if len(cfg.BusinessDays) > 0 {
		days, err := calendar.ParseWeekdays(cfg.BusinessDays)
		if err != nil {
			return Settings{}, fmt.Errorf("dispatch: business days: %w", err)
		}
		s.Hours.Days = days
	}
	if cfg.BusinessStart != "" {
		if s.Hours.Start, err = calendar.ParseClock(cfg.BusinessStart); err != nil {
			return Settings{}, fmt.Errorf("dispatch: business start: %w", err)
		}
	}
	if cfg.BusinessEnd != "" {
		if s.Hours.End, err = calendar.ParseClock(cfg.BusinessEnd); err != nil {
			return Settings{}, fmt.Errorf("dispatch: business end: %w", err)
		}
	}
	if s.Hours.End <= s.Hours.Start {
		return Settings{}, fmt.Errorf("dispatch: business end must be after start")
	}
	if cfg.JitterMax > 0 {
		s.JitterMax = cfg.JitterMax
	}
	if cfg.JitterFloor > 0 {
		s.JitterFloor = cfg.JitterFloor
	}
	if cfg.MaxLeadsPerRun > 0 {
		s.MaxLeadsPerRun = cfg.MaxLeadsPerRun
	}
	if len(cfg.ActionableStatuses) > 0 {
		s.ActionableStatuses = make([]domain.LeadStatus, 0, len(cfg.ActionableStatuses))
		for _, st := range cfg.ActionableStatuses {
			s.ActionableStatuses = append(s.ActionableStatuses, domain.LeadStatus(st))
		}
	}
	return s, nil
}

// EventPublisher emits the dispatch-sent business event.
type EventPublisher interface {
	PublishDispatchSent(ctx context.Context, evt queue.DispatchSentEvent) error
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithSleep overrides how jitter delays are waited out.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Engine) { e.sleep = sleep }
}

// WithStats records every finished run into stats.
func WithStats(stats repository.CampaignStatisticsRepository) Option {
	return func(e *Engine) { e.stats = stats }
}

// WithRand fixes the jitter source.
func WithRand(r *rand.Rand) Option {
	return func(e *Engine) { e.rng = r }
}

// Engine dispatches campaign messages.
type Engine struct {
	settings     Settings
	leads        repository.LeadRepository
	interactions repository.InteractionStore
	sender       channel.Sender
	limiter      ratelimit.Limiter
	events       EventPublisher
	stats        repository.CampaignStatisticsRepository
	logger       *logger.Logger
	tracer       trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu  sync.Mutex
	rng *rand.Rand
}

// NewEngine wires the engine. limiter is the per-tenant campaign limiter.
func NewEngine(
	settings Settings,
	leads repository.LeadRepository,
	interactions repository.InteractionStore,
	sender channel.Sender,
	limiter ratelimit.Limiter,
	events EventPublisher,
	lg *logger.Logger,
	opts ...Option,
) *Engine {
	if lg == nil {
		lg = logger.Nop()
	}
	e := &Engine{
		settings:     settings,
		leads:        leads,
		interactions: interactions,
		sender:       sender,
		limiter:      limiter,
		events:       events,
		logger:       lg,
		tracer:       otel.Tracer("outreach.dispatch"),
		now:          time.Now,
		sleep:        sleepContext,
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type leadResult int

const (
	leadSent leadResult = iota
	leadFailed
	leadSkipped
	leadRateLimited
	leadCancelled
)

// Run executes one dispatch pass. Gate refusals are reported through the
// outcome, not as errors. Errors are returned only when the run could not start.
func (e *Engine) Run(ctx context.Context, campaign *domain.Campaign) (domain.RunReport, error) {
	if campaign == nil {
		return domain.RunReport{}, fmt.Errorf("dispatch: %w: campaign is required", apperrors.ErrValidation)
	}

	started := e.now()
	report := domain.RunReport{
		CampaignID: campaign.ID,
		TenantID:   campaign.TenantID,
		Outcome:    domain.DispatchOutcomeCompleted,
		StartedAt:  started,
	}

	ctx, span := e.tracer.Start(ctx, "dispatch.run", trace.WithAttributes(
		attribute.String("campaign.id", campaign.ID.String()),
		attribute.String("tenant.id", campaign.TenantID),
		attribute.String("campaign.channel", string(campaign.Channel)),
	))
	defer span.End()

	lg := e.logger.WithContext(ctx).With(
		zap.String("campaign_id", campaign.ID.String()),
		zap.String("tenant_id", campaign.TenantID),
	)

	if campaign.Status != domain.CampaignStatusActive {
		err := fmt.Errorf("dispatch: %w: campaign %s is %s", apperrors.ErrValidation, campaign.ID, campaign.Status)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}

	finish := func() (domain.RunReport, error) {
		report.FinishedAt = e.now()
		metrics.DispatchRuns.WithLabelValues(string(report.Outcome)).Inc()
		metrics.DispatchRunDuration.Observe(report.FinishedAt.Sub(report.StartedAt).Seconds())
		span.SetAttributes(
			attribute.String("dispatch.outcome", string(report.Outcome)),
			attribute.Int("dispatch.selected", report.Selected),
			attribute.Int("dispatch.sent", report.Sent),
			attribute.Int("dispatch.failed", report.Failed),
			attribute.Int("dispatch.skipped", report.Skipped),
			attribute.Int("dispatch.deferred", report.Deferred),
		)
		lg.Info("dispatch: run finished",
			zap.String("outcome", string(report.Outcome)),
			zap.Int("selected", report.Selected),
			zap.Int("sent", report.Sent),
			zap.Int("failed", report.Failed),
			zap.Int("skipped", report.Skipped),
			zap.Int("deferred", report.Deferred),
		)
		if e.stats != nil {
			if err := e.stats.Record(context.WithoutCancel(ctx), report); err != nil {
				lg.Warn("dispatch: record run statistics", zap.Error(err))
			}
		}
		return report, nil
	}

	if !e.settings.Hours.Open(started) || !isWithinAllowedHours(started, e.settings.Hours.location(), campaign.Cadence.AllowedHours) {
		report.Outcome = domain.DispatchOutcomeOutsideHours
		return finish()
	}

	ok, err := e.limiter.Check(ctx, campaign.TenantID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("dispatch: tenant limit check: %w", err)
	}
	if !ok {
		report.Outcome = domain.DispatchOutcomeRateLimited
		return finish()
	}

	leads, err := e.leads.ListEligible(ctx, repository.EligibleFilter{
		CampaignID:       campaign.ID,
		TenantID:         campaign.TenantID,
		Statuses:         e.settings.ActionableStatuses,
		DispatchedBefore: started.Add(-campaign.Cadence.MinInterval),
		Channel:          campaign.Channel,
		Limit:            e.settings.MaxLeadsPerRun,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, fmt.Errorf("dispatch: list eligible leads: %w", err)
	}
	report.Selected = len(leads)
	lg.Info("dispatch: eligible leads selected", zap.Int("count", len(leads)))

	for i, lead := range leads {
		if ctx.Err() != nil {
			report.Outcome = domain.DispatchOutcomeCancelled
			report.Deferred = len(leads) - i
			break
		}

		switch e.dispatchLead(ctx, lg, campaign, lead) {
		case leadSent:
			report.Sent++
		case leadFailed:
			report.Failed++
		case leadSkipped:
			report.Skipped++
		case leadRateLimited:
			report.Outcome = domain.DispatchOutcomeRateLimitedMid
			report.Deferred = len(leads) - i
		case leadCancelled:
			report.Outcome = domain.DispatchOutcomeCancelled
			report.Deferred = len(leads) - i
		}
		if report.Outcome != domain.DispatchOutcomeCompleted {
			break
		}
	}

	return finish()
}

func (e *Engine) dispatchLead(ctx context.Context, lg *logger.Logger, campaign *domain.Campaign, lead *domain.Lead) leadResult {
	ctx, span := e.tracer.Start(ctx, "dispatch.lead", trace.WithAttributes(
		attribute.String("lead.id", lead.ID.String()),
	))
	defer span.End()
	lg = lg.With(zap.String("lead_id", lead.ID.String()))

	variant, ok := selectVariant(campaign.Variants, lead.Stage, lead.Bucket)
	if !ok {
		lg.Warn("dispatch: no variant for funnel stage", zap.String("stage", string(lead.Stage)))
		return leadSkipped
	}
	span.SetAttributes(attribute.String("variant.id", variant.ID))

	body := personalize(variant.Body, lead)
	subject := personalize(variant.Subject, lead)

	if d := e.jitter(); d >= e.settings.JitterFloor {
		if err := e.sleep(ctx, d); err != nil {
			return leadCancelled
		}
	}

	// Opt-outs may land while the run is waiting.
	current, err := e.leads.Get(ctx, lead.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			lg.Warn("dispatch: lead disappeared before send")
			return leadSkipped
		}
		span.RecordError(err)
		lg.Error("dispatch: reload lead", zap.Error(err))
		e.recordFailure(campaign.Channel)
		return leadFailed
	}
	if !e.actionable(current.Status) {
		lg.Info("dispatch: lead no longer actionable", zap.String("status", string(current.Status)))
		return leadSkipped
	}

	ch, address, ok := channel.Resolve(campaign.Channel, *current)
	if !ok {
		lg.Info("dispatch: lead has no contact for channel", zap.String("channel", string(campaign.Channel)))
		return leadSkipped
	}

	key := idempotencyKey(current.ID, campaign.ID, variant.ID, e.now().In(e.settings.Hours.location()))
	if rc, ok := e.sender.(channel.ReplayChecker); ok {
		seen, err := rc.Seen(ctx, key)
		if err != nil {
			lg.Warn("dispatch: idempotency lookup", zap.Error(err))
		}
		if seen {
			lg.Info("dispatch: already sent today", zap.String("variant_id", variant.ID))
			return leadSkipped
		}
	}

	admitted, err := e.limiter.Admit(ctx, campaign.TenantID)
	if err != nil {
		span.RecordError(err)
		lg.Error("dispatch: tenant admit", zap.Error(err))
		e.recordFailure(ch)
		return leadFailed
	}
	if !admitted {
		lg.Info("dispatch: tenant limit reached mid-run")
		return leadRateLimited
	}

	receipt, err := e.sender.Send(ctx, channel.SendRequest{
		Channel:        ch,
		LeadID:         current.ID,
		To:             address,
		Subject:        subject,
		Body:           body,
		IdempotencyKey: key,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		lg.Error("dispatch: send failed", zap.String("channel", string(ch)), zap.Error(err))
		e.recordFailure(ch)
		return leadFailed
	}
	if receipt.Replayed {
		lg.Info("dispatch: send answered from idempotency record", zap.String("message_id", receipt.MessageID))
		return leadSkipped
	}
	metrics.MessagesSent.WithLabelValues(string(ch)).Inc()

	sentAt := receipt.SentAt
	if sentAt.IsZero() {
		sentAt = e.now()
	}
	status := domain.NextStatusAfterDispatch(current.Status)
	if err := e.leads.MarkDispatched(ctx, current.ID, status, sentAt); err != nil {
		lg.Error("dispatch: mark lead dispatched", zap.Error(err))
	}

	if err := e.interactions.Append(ctx, domain.Interaction{
		ID:         uuid.New(),
		LeadID:     current.ID,
		CampaignID: campaign.ID,
		Channel:    ch,
		Direction:  domain.DirectionOutbound,
		Kind:       "campaign_message",
		Body:       body,
		MessageID:  receipt.MessageID,
		Metadata: map[string]string{
			"variant_id":      variant.ID,
			"bucket":          string(variant.Bucket),
			"idempotency_key": key,
		},
		OccurredAt: sentAt,
	}); err != nil {
		lg.Error("dispatch: append interaction", zap.Error(err))
	}

	if err := e.events.PublishDispatchSent(ctx, queue.DispatchSentEvent{
		Event:          queue.EventDispatchSent,
		LeadID:         current.ID,
		CampaignID:     campaign.ID,
		TenantID:       campaign.TenantID,
		Channel:        string(ch),
		VariantID:      variant.ID,
		MessageID:      receipt.MessageID,
		IdempotencyKey: key,
		LeadStatus:     string(status),
		SentAt:         sentAt,
	}); err != nil {
		lg.Error("dispatch: publish sent event", zap.Error(err))
	}

	lg.Info("dispatch: message sent",
		zap.String("channel", string(ch)),
		zap.String("variant_id", variant.ID),
		zap.String("message_id", receipt.MessageID),
	)
	return leadSent
}

func (e *Engine) actionable(status domain.LeadStatus) bool {
	for _, s := range e.settings.ActionableStatuses {
		if s == status {
			return true
		}
	}
	return false
}

func (e *Engine) recordFailure(ch domain.Channel) {
	metrics.DispatchFailures.WithLabelValues(string(ch)).Inc()
}

// jitter draws uniformly from [0, JitterMax).
func (e *Engine) jitter() time.Duration {
	if e.settings.JitterMax <= 0 {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return time.Duration(e.rng.Int63n(int64(e.settings.JitterMax)))
}

// idempotencyKey is stable for a lead, campaign and variant within one calendar
// day of the reference zone, so a re-trigger on the same day sends nothing new.
func idempotencyKey(leadID, campaignID uuid.UUID, variantID string, day time.Time) string {
	return common.DeriveKey("dispatch", leadID.String(), campaignID.String(), variantID, day.Format("2006-01-02"))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
