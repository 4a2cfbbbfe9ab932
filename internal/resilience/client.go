// Package resilience wraps every external-tool invocation with a per-attempt
// timeout, jittered exponential backoff and error classification.
package resilience

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/lead-outreach-orchestrator/internal/config"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/metrics"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

// Policy bounds a logical call.
type Policy struct {
	Timeout      time.Duration
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Jitter       float64
}

// DefaultPolicy mirrors the documented defaults.
func DefaultPolicy() Policy {
	return Policy{
		Timeout:      30 * time.Second,
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Jitter:       0.25,
	}
}

// PolicyFromConfig converts the resilience config section.
func PolicyFromConfig(cfg config.ResilienceConfig) Policy {
	return Policy{
		Timeout:      cfg.Timeout,
		MaxAttempts:  cfg.MaxAttempts,
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Jitter:       cfg.Jitter,
	}.normalize()
}

func (p Policy) normalize() Policy {
	def := DefaultPolicy()
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.MaxDelay < p.InitialDelay {
		p.MaxDelay = p.InitialDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Call identifies a logical remote invocation.
type Call struct {
	Server string
	Method string
	Params map[string]any
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Client executes calls under a Policy. It is safe for concurrent use.
type Client struct {
	policy Policy
	logger *logger.Logger
	sleep  SleepFunc
	tracer trace.Tracer

	mu  sync.Mutex
	rng *rand.Rand
}

// Option customises a Client.
type Option func(*Client)

// WithSleep replaces the backoff sleeper.
func WithSleep(fn SleepFunc) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithRand seeds the jitter source.
func WithRand(rng *rand.Rand) Option {
	return func(c *Client) { c.rng = rng }
}

// NewClient constructs a resilient call client.
func NewClient(policy Policy, lg *logger.Logger, opts ...Option) *Client {
	if lg == nil {
		lg = logger.Nop()
	}
	c := &Client{
		policy: policy.normalize(),
		logger: lg,
		sleep:  sleepContext,
		tracer: otel.Tracer("outreach.resilience"),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Policy returns the effective policy.
func (c *Client) Policy() Policy {
	return c.policy
}

type traceKey struct{}

// TraceID returns the trace id of the logical call running in ctx.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok {
		return v
	}
	return ""
}

// WithTraceID pins the trace id used by calls made with ctx.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the attempt
// ceiling is reached. The returned error is always a *ClassifiedError.
func Do[T any](ctx context.Context, c *Client, call Call, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	traceID := TraceID(ctx)
	if traceID == "" {
		traceID = uuid.NewString()
		ctx = WithTraceID(ctx, traceID)
	}

	ctx, span := c.tracer.Start(ctx, call.Server+"."+call.Method, trace.WithAttributes(
		attribute.String("call.server", call.Server),
		attribute.String("call.method", call.Method),
		attribute.String("call.trace_id", traceID),
	))
	defer span.End()

	lg := c.logger.With(
		zap.String("trace_id", traceID),
		zap.String("server", call.Server),
		zap.String("method", call.Method),
	)
	lg.Debug("resilient call: start", zap.Int("max_attempts", c.policy.MaxAttempts))

	for attempt := 1; ; attempt++ {
		rec := domain.CallAttempt{
			Server:  call.Server,
			Method:  call.Method,
			Params:  call.Params,
			TraceID: traceID,
			Attempt: attempt,
			Started: time.Now(),
		}

		result, err := runAttempt(ctx, c.policy.Timeout, fn)
		rec.Duration = time.Since(rec.Started)

		if err == nil {
			metrics.ResilientAttempts.WithLabelValues(call.Server, call.Method, "success").Inc()
			lg.Debug("resilient call: attempt succeeded", zap.Int("attempt", attempt), zap.Duration("duration", rec.Duration))
			lg.Info("resilient call: completed", zap.Int("attempts", attempt))
			return result, nil
		}

		classified := classifyAttempt(ctx, err).WithOrigin(call.Server, call.Method, traceID)
		metrics.ResilientAttempts.WithLabelValues(call.Server, call.Method, string(classified.Kind)).Inc()
		lg.Warn("resilient call: attempt failed",
			zap.Int("attempt", rec.Attempt),
			zap.Duration("duration", rec.Duration),
			zap.String("kind", string(classified.Kind)),
			zap.Bool("retryable", classified.Retryable),
			zap.Error(err),
		)

		if !classified.Retryable || attempt >= c.policy.MaxAttempts {
			span.RecordError(classified)
			span.SetStatus(codes.Error, string(classified.Kind))
			lg.Error("resilient call: giving up",
				zap.Int("attempts", attempt),
				zap.String("kind", string(classified.Kind)),
			)
			return zero, classified
		}

		delay := c.backoff(attempt)
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Int64("delay_ms", delay.Milliseconds()),
		))
		if err := c.sleep(ctx, delay); err != nil {
			lg.Warn("resilient call: cancelled during backoff", zap.Error(err))
			return zero, classified
		}
	}
}

func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := fn(attemptCtx)
	if err != nil && attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return result, apperrors.NewClassified(apperrors.KindTimeout, "attempt exceeded timeout", err)
	}
	return result, err
}

// classifyAttempt turns a cancelled parent context into a non-retryable error so
// that shutdown is never retried.
func classifyAttempt(ctx context.Context, err error) *apperrors.ClassifiedError {
	if ctx.Err() == context.Canceled {
		return apperrors.NewClassified(apperrors.KindUnexpected, "call cancelled", err)
	}
	return apperrors.Classify(err)
}

// backoff computes initial*2^(attempt-1), jittered by +-Jitter and then capped.
func (c *Client) backoff(attempt int) time.Duration {
	base := float64(c.policy.InitialDelay)
	for i := 1; i < attempt; i++ {
		base *= 2
		if base > float64(c.policy.MaxDelay)*2 {
			break
		}
	}

	c.mu.Lock()
	r := c.rng.Float64()
	c.mu.Unlock()

	delay := base * (1 + c.policy.Jitter*(2*r-1))
	if delay > float64(c.policy.MaxDelay) {
		delay = float64(c.policy.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
