// Package channel defines the outbound messaging capabilities and the decorators
// shared by every concrete channel.
package channel

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
)

// SendRequest is one message to one recipient.
type SendRequest struct {
	Channel        domain.Channel
	LeadID         uuid.UUID
	To             string
	Subject        string
	Body           string
	IdempotencyKey string
}

// Sender delivers a message and returns the channel's receipt.
type Sender interface {
	Send(ctx context.Context, req SendRequest) (domain.DeliveryReceipt, error)
}

// ReplayChecker is implemented by senders that can tell whether an
// idempotency key was already delivered.
type ReplayChecker interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// DeliveryStatus is the provider's view of an earlier message.
type DeliveryStatus struct {
	MessageID string
	Status    string
	ErrorCode string
}

// StatusChecker looks up the delivery status of a message.
type StatusChecker interface {
	Status(ctx context.Context, messageID string) (DeliveryStatus, error)
}

// Router picks the concrete Sender by request channel.
type Router struct {
	senders map[domain.Channel]Sender
}

// NewRouter builds a router. Channels without a sender are rejected at send time.
func NewRouter(senders map[domain.Channel]Sender) *Router {
	return &Router{senders: senders}
}

// Send implements Sender.
func (r *Router) Send(ctx context.Context, req SendRequest) (domain.DeliveryReceipt, error) {
	s, ok := r.senders[req.Channel]
	if !ok {
		return domain.DeliveryReceipt{}, apperrors.NewClassified(apperrors.KindValidation,
			fmt.Sprintf("no sender for channel %q", req.Channel), nil)
	}
	return s.Send(ctx, req)
}

// Resolve picks the concrete channel for a lead. Multi-channel campaigns prefer
// chat when a phone number is known.
func Resolve(ch domain.Channel, lead domain.Lead) (domain.Channel, string, bool) {
	switch ch {
	case domain.ChannelChat:
		return domain.ChannelChat, lead.Phone, lead.Phone != ""
	case domain.ChannelEmail:
		return domain.ChannelEmail, lead.Email, lead.Email != ""
	case domain.ChannelMulti:
		if lead.Phone != "" {
			return domain.ChannelChat, lead.Phone, true
		}
		return domain.ChannelEmail, lead.Email, lead.Email != ""
	}
	return "", "", false
}
