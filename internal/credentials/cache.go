package credentials

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/acme/lead-outreach-orchestrator/internal/metrics"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

// DefaultTTL applies to secrets without a configured TTL.
const DefaultTTL = 5 * time.Minute

type cached struct {
	value     string
	expiresAt time.Time
}

// Cache fronts a Source with per-secret TTLs.
type Cache struct {
	source Source
	ttls   map[string]time.Duration
	logger *logger.Logger
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]cached
}

// NewCache constructs a Cache. ttls maps secret names to their lifetime.
func NewCache(source Source, ttls map[string]time.Duration, lg *logger.Logger) *Cache {
	if lg == nil {
		lg = logger.Nop()
	}
	return &Cache{
		source:  source,
		ttls:    ttls,
		logger:  lg,
		now:     time.Now,
		entries: make(map[string]cached),
	}
}

// Get returns the secret, fetching it when absent or expired. A fetch failure is
// reported as a non-retryable auth error.
func (c *Cache) Get(ctx context.Context, name string) (string, error) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[name]
	c.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.value, nil
	}

	value, err := c.source.Fetch(ctx, name)
	if err != nil {
		metrics.CredentialFetches.WithLabelValues(name, "error").Inc()
		c.logger.Warn("credential fetch failed", zap.String("name", name), zap.Error(err))
		ce := apperrors.NewClassified(apperrors.KindAuth, "credential fetch failed", err)
		ce.Context = map[string]string{"secret_name": name}
		return "", ce
	}
	metrics.CredentialFetches.WithLabelValues(name, "ok").Inc()

	c.mu.Lock()
	c.entries[name] = cached{value: value, expiresAt: now.Add(c.ttl(name))}
	c.mu.Unlock()

	c.logger.Debug("credential refreshed", zap.String("name", name), zap.Duration("ttl", c.ttl(name)))
	return value, nil
}

// Invalidate forgets a cached secret, e.g. after the provider rejected it.
func (c *Cache) Invalidate(name string) {
	c.mu.Lock()
	delete(c.entries, name)
	c.mu.Unlock()
}

func (c *Cache) ttl(name string) time.Duration {
	if d, ok := c.ttls[name]; ok && d > 0 {
		return d
	}
	return DefaultTTL
}
