// Package email delivers email by publishing to the outbox topic consumed by the
// mail relay.
package email

import (
	"context"
	"net/mail"
	"time"

	"github.com/google/uuid"

	"github.com/acme/lead-outreach-orchestrator/internal/channel"
	"github.com/acme/lead-outreach-orchestrator/internal/config"
	"github.com/acme/lead-outreach-orchestrator/internal/domain"
	"github.com/acme/lead-outreach-orchestrator/internal/queue"
	"github.com/acme/lead-outreach-orchestrator/internal/resilience"
	apperrors "github.com/acme/lead-outreach-orchestrator/pkg/errors"
)

// Publisher is satisfied by *queue.Publisher.
type Publisher interface {
	Publish(ctx context.Context, key string, v any) error
}

// Outbox implements channel.Sender over the message bus.
type Outbox struct {
	publisher      Publisher
	from           string
	defaultSubject string
	calls          *resilience.Client
}

// NewOutbox constructs an email outbox sender.
func NewOutbox(cfg config.EmailConfig, publisher Publisher, calls *resilience.Client) *Outbox {
	return &Outbox{
		publisher:      publisher,
		from:           cfg.FromAddress,
		defaultSubject: cfg.Subject,
		calls:          calls,
	}
}

// Send implements channel.Sender. The message id is the outbox record id.
func (o *Outbox) Send(ctx context.Context, req channel.SendRequest) (domain.DeliveryReceipt, error) {
	if _, err := mail.ParseAddress(req.To); err != nil {
		return domain.DeliveryReceipt{}, apperrors.NewClassified(apperrors.KindValidation, "invalid recipient address", err)
	}
	subject := req.Subject
	if subject == "" {
		subject = o.defaultSubject
	}

	call := resilience.Call{Server: "email", Method: "outbox.publish", Params: map[string]any{"lead_id": req.LeadID.String()}}
	return resilience.Do(ctx, o.calls, call, func(ctx context.Context) (domain.DeliveryReceipt, error) {
		now := time.Now().UTC()
		msg := queue.EmailOutbound{
			LeadID:         req.LeadID,
			To:             req.To,
			From:           o.from,
			Subject:        subject,
			Body:           req.Body,
			IdempotencyKey: req.IdempotencyKey,
			TraceID:        resilience.TraceID(ctx),
			QueuedAt:       now,
		}
		key := req.IdempotencyKey
		if key == "" {
			key = uuid.NewString()
		}
		if err := o.publisher.Publish(ctx, key, msg); err != nil {
			return domain.DeliveryReceipt{}, apperrors.NewClassified(apperrors.KindNetwork, "outbox publish failed", err)
		}
		return domain.DeliveryReceipt{
			MessageID: key,
			Status:    "queued",
			Channel:   domain.ChannelEmail,
			SentAt:    now,
		}, nil
	})
}
