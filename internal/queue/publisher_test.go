package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *memoryWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memoryWriter) Close() error { return nil }

func TestEventsPublishDispatchSentIsFlatAndKeyedByLead(t *testing.T) {
	sent := &memoryWriter{}
	confirmed := &memoryWriter{}
	events := NewEvents(NewPublisherWithWriter("disparo.sent", sent), NewPublisherWithWriter("agendamento.confirmed", confirmed))

	leadID := uuid.New()
	require.NoError(t, events.PublishDispatchSent(context.Background(), DispatchSentEvent{LeadID: leadID, TenantID: "t1", MessageID: "wamid.1"}))

	require.Len(t, sent.msgs, 1)
	assert.Empty(t, confirmed.msgs)
	assert.Equal(t, leadID.String(), string(sent.msgs[0].Key))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(sent.msgs[0].Value, &doc))
	assert.Equal(t, EventDispatchSent, doc["event"])
	assert.Equal(t, "wamid.1", doc["message_id"])
	for k, v := range doc {
		_, nested := v.(map[string]any)
		assert.False(t, nested, "field %s must be flat", k)
	}
}

func TestPublisherWrapsWriteErrors(t *testing.T) {
	p := NewPublisherWithWriter("email.outbound", &memoryWriter{err: errors.New("broker down")})

	err := p.Publish(context.Background(), "k", EmailOutbound{To: "a@b.c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email.outbound")
}
