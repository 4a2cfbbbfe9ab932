package channel

import (
	"context"

	"go.uber.org/zap"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/idempotency"
	"github.com/acme/lead-outreach-orchestrator/internal/metrics"
	"github.com/acme/lead-outreach-orchestrator/pkg/logger"
)

// IdempotentSender answers repeated keys from the store without calling next.
type IdempotentSender struct {
	next   Sender
	store  idempotency.Store
	logger *logger.Logger
}

// NewIdempotentSender decorates next.
func NewIdempotentSender(next Sender, store idempotency.Store, lg *logger.Logger) *IdempotentSender {
	if lg == nil {
		lg = logger.Nop()
	}
	return &IdempotentSender{next: next, store: store, logger: lg}
}

// Send implements Sender. Store failures degrade to a plain send; two concurrent
// sends with the same key may both reach the channel.
func (s *IdempotentSender) Send(ctx context.Context, req SendRequest) (domain.DeliveryReceipt, error) {
	if req.IdempotencyKey == "" {
		return s.next.Send(ctx, req)
	}

	prior, ok, err := s.store.Get(ctx, req.IdempotencyKey)
	if err != nil {
		s.logger.Warn("idempotency lookup failed", zap.String("idempotency_key", req.IdempotencyKey), zap.Error(err))
	}
	if ok {
		metrics.IdempotencyHits.Inc()
		s.logger.Info("send short-circuited by idempotency record",
			zap.String("idempotency_key", req.IdempotencyKey),
			zap.String("message_id", prior.MessageID),
		)
		prior.Replayed = true
		return prior, nil
	}

	receipt, err := s.next.Send(ctx, req)
	if err != nil {
		return domain.DeliveryReceipt{}, err
	}
	if err := s.store.Put(ctx, req.IdempotencyKey, receipt); err != nil {
		s.logger.Warn("idempotency record not stored", zap.String("idempotency_key", req.IdempotencyKey), zap.Error(err))
	}
	return receipt, nil
}

// Seen reports whether key already has a stored receipt.
func (s *IdempotentSender) Seen(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	_, ok, err := s.store.Get(ctx, key)
	return ok, err
}
