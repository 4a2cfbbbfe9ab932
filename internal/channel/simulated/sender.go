// Package simulated provides a chat sender for local runs without provider
// credentials.
package simulated

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-outreach-orchestrator/internal/channel"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
)

// Sender accepts messages with a configurable success rate. Failures are
// reported as retryable server errors.
type Sender struct {
	successRate float64
	latency     time.Duration

	mu       sync.Mutex
	rng      *rand.Rand
	statuses map[string]string
}

// NewSender constructs a simulated sender.
func NewSender(successRate float64, latency time.Duration) *Sender {
	if successRate <= 0 || successRate > 1 {
		successRate = 1
	}
	return &Sender{
		successRate: successRate,
		latency:     latency,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		statuses:    make(map[string]string),
	}
}

// Send implements channel.Sender.
func (s *Sender) Send(ctx context.Context, req channel.SendRequest) (domain.DeliveryReceipt, error) {
	if s.latency > 0 {
		select {
		case <-ctx.Done():
			return domain.DeliveryReceipt{}, ctx.Err()
		case <-time.After(s.latency):
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng.Float64() > s.successRate {
		return domain.DeliveryReceipt{}, &apperrors.StatusError{Code: 503, Body: "simulated failure"}
	}

	id := "sim." + uuid.NewString()
	s.statuses[id] = "delivered"
	ch := req.Channel
	if ch == "" {
		ch = domain.ChannelChat
	}
	return domain.DeliveryReceipt{MessageID: id, Status: "accepted", Channel: ch, SentAt: time.Now().UTC()}, nil
}

// Status implements channel.StatusChecker.
func (s *Sender) Status(_ context.Context, messageID string) (channel.DeliveryStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[messageID]
	if !ok {
		return channel.DeliveryStatus{}, apperrors.ErrNotFound
	}
	return channel.DeliveryStatus{MessageID: messageID, Status: st}, nil
}
