package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acme/lead-outreach-orchestrator/internal/config"
)

func TestRetrySchedulerStampsDueTimePerStage(t *testing.T) {
	first, second, dead := &memoryWriter{}, &memoryWriter{}, &memoryWriter{}
	stages := []config.RetryStageConfig{
		{Topic: "outreach.trigger.retry.1", Delay: 30 * time.Second},
		{Topic: "outreach.trigger.retry.2", Delay: 5 * time.Minute},
	}
	r := NewRetrySchedulerWithWriters(stages, []MessageWriter{first, second}, dead)
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	require.Equal(t, 2, r.Stages())
	assert.Equal(t, []string{"outreach.trigger.retry.1", "outreach.trigger.retry.2"}, r.Topics())

	msg := TriggerRetry{Topic: "agendamento.request", Partition: 2, Offset: 41, Key: []byte("lead-1"), Payload: []byte(`{}`)}
	require.NoError(t, r.ScheduleRetry(context.Background(), 2, msg))

	assert.Empty(t, first.msgs)
	require.Len(t, second.msgs, 1)
	assert.Equal(t, "lead-1", string(second.msgs[0].Key))
	var got TriggerRetry
	require.NoError(t, json.Unmarshal(second.msgs[0].Value, &got))
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, now.Add(5*time.Minute), got.NotBefore)
	assert.Equal(t, int64(41), got.Offset)
	assert.Equal(t, "agendamento.request", got.Topic)
}

func TestRetrySchedulerRejectsAttemptOutOfRange(t *testing.T) {
	r := NewRetrySchedulerWithWriters([]config.RetryStageConfig{{Topic: "r1", Delay: time.Second}}, []MessageWriter{&memoryWriter{}}, &memoryWriter{})

	assert.Error(t, r.ScheduleRetry(context.Background(), 0, TriggerRetry{}))
	assert.Error(t, r.ScheduleRetry(context.Background(), 2, TriggerRetry{}))
}

func TestRetrySchedulerDeadLetter(t *testing.T) {
	dead := &memoryWriter{}
	r := NewRetrySchedulerWithWriters(nil, nil, dead)

	require.NoError(t, r.DeadLetter(context.Background(), TriggerRetry{Topic: "disparo.campaign", LastError: "not found"}))
	require.Len(t, dead.msgs, 1)
	var got TriggerRetry
	require.NoError(t, json.Unmarshal(dead.msgs[0].Value, &got))
	assert.Equal(t, "not found", got.LastError)

	assert.Error(t, NewRetrySchedulerWithWriters(nil, nil, nil).DeadLetter(context.Background(), TriggerRetry{}))
}
