// Package ratelimit provides windowed admission control shared by the dispatch
// engine (per tenant) and the chat channel client (global).
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/acme/lead-outreach-orchestrator/internal/config"
	"github.com/acme/lead-outreach-orchestrator/internal/metrics"
)

// Window is one counting window. The counter resets once Period has elapsed since
// the window started.
type Window struct {
	Period  time.Duration
	Ceiling int
}

// Limiter admits or rejects a unit of work for a key.
type Limiter interface {
	// Admit checks every window and, only if none is exhausted, consumes one unit
	// from all of them.
	Admit(ctx context.Context, key string) (bool, error)
	// Check reports whether Admit would currently succeed without consuming.
	Check(ctx context.Context, key string) (bool, error)
}

// ChannelWindows are the default ceilings of the chat channel client.
func ChannelWindows() []Window {
	return []Window{
		{Period: time.Second, Ceiling: 80},
		{Period: time.Minute, Ceiling: 1000},
		{Period: time.Hour, Ceiling: 10000},
	}
}

// CampaignWindows are the default per-tenant dispatch ceilings.
func CampaignWindows() []Window {
	return []Window{
		{Period: time.Hour, Ceiling: 100},
		{Period: 24 * time.Hour, Ceiling: 500},
	}
}

// WindowsFromConfig converts configured ceilings, skipping invalid entries.
func WindowsFromConfig(cfgs []config.WindowConfig) []Window {
	out := make([]Window, 0, len(cfgs))
	for _, c := range cfgs {
		if c.Period <= 0 || c.Ceiling <= 0 {
			continue
		}
		out = append(out, Window{Period: c.Period, Ceiling: c.Ceiling})
	}
	return out
}

type counter struct {
	start time.Time
	count int
}

// MemoryLimiter keeps window counters in process memory.
type MemoryLimiter struct {
	name    string
	windows []Window
	now     func() time.Time

	mu    sync.Mutex
	state map[string][]counter
}

// MemoryOption customises a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) { l.now = now }
}

// NewMemoryLimiter builds an in-process limiter. name labels its metrics.
func NewMemoryLimiter(name string, windows []Window, opts ...MemoryOption) *MemoryLimiter {
	l := &MemoryLimiter{
		name:    name,
		windows: append([]Window(nil), windows...),
		now:     time.Now,
		state:   make(map[string][]counter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit implements Limiter.
func (l *MemoryLimiter) Admit(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	counters := l.roll(key)
	if !l.fits(counters) {
		metrics.RateLimitDecisions.WithLabelValues(l.name, "rejected").Inc()
		return false, nil
	}
	for i := range counters {
		counters[i].count++
	}
	metrics.RateLimitDecisions.WithLabelValues(l.name, "admitted").Inc()
	return true, nil
}

// Check implements Limiter.
func (l *MemoryLimiter) Check(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fits(l.roll(key)), nil
}

// Reset drops every counter for key.
func (l *MemoryLimiter) Reset(key string) {
	l.mu.Lock()
	delete(l.state, key)
	l.mu.Unlock()
}

// roll must be called with mu held.
func (l *MemoryLimiter) roll(key string) []counter {
	now := l.now()
	counters, ok := l.state[key]
	if !ok {
		counters = make([]counter, len(l.windows))
		for i := range counters {
			counters[i].start = now
		}
		l.state[key] = counters
		return counters
	}
	for i, w := range l.windows {
		if now.Sub(counters[i].start) >= w.Period {
			counters[i].start = now
			counters[i].count = 0
		}
	}
	return counters
}

func (l *MemoryLimiter) fits(counters []counter) bool {
	for i, w := range l.windows {
		if counters[i].count >= w.Ceiling {
			return false
		}
	}
	return true
}

// AwaitSlot polls Admit every interval until it succeeds or ctx ends.
func AwaitSlot(ctx context.Context, l Limiter, key string, interval time.Duration) error {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := l.Admit(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
