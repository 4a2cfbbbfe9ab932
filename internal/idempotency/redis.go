package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
)

// RedisStore shares receipts across processes. SETNX keeps the first receipt.
type RedisStore struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisStore constructs a RedisStore.
func NewRedisStore(client redis.Cmdable, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "outreach:idempotency"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, key string) (domain.DeliveryReceipt, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.DeliveryReceipt{}, false, nil
	}
	if err != nil {
		return domain.DeliveryReceipt{}, false, fmt.Errorf("idempotency get: %w", err)
	}

	var receipt domain.DeliveryReceipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return domain.DeliveryReceipt{}, false, fmt.Errorf("idempotency decode: %w", err)
	}
	return receipt, true, nil
}

// Put implements Store.
func (s *RedisStore) Put(ctx context.Context, key string, receipt domain.DeliveryReceipt) error {
	raw, err := json.Marshal(receipt)
	if err != nil {
		return fmt.Errorf("idempotency encode: %w", err)
	}
	if err := s.client.SetNX(ctx, s.key(key), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency put: %w", err)
	}
	return nil
}

func (s *RedisStore) key(k string) string {
	return s.prefix + ":" + k
}
