package domain

import "time"

// CallAttempt describes one attempt of a remote call. It lives only for the
// duration of the call.
type CallAttempt struct {
	Server   string
	Method   string
	Params   map[string]any
	TraceID  string
	Attempt  int
	Started  time.Time
	Duration time.Duration
}

// DeliveryReceipt is what a channel returns for an accepted message.
type DeliveryReceipt struct {
	MessageID string
	Status    string
	Channel   Channel
	SentAt    time.Time
	// Replayed marks a receipt answered from an idempotency record; nothing
	// was sent.
	Replayed bool
}
