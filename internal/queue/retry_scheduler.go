package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/lead-outreach-orchestrator/internal/config"
)

type retryStage struct {
	topic  string
	delay  time.Duration
	writer MessageWriter
}

// RetryScheduler publishes failed triggers to delayed retry topics, one per
// attempt, and to a dead-letter topic once they are exhausted.
type RetryScheduler struct {
	stages     []retryStage
	deadLetter MessageWriter
	now        func() time.Time
}

// NewRetryScheduler constructs a scheduler from the configured retry stages.
func NewRetryScheduler(k *Kafka, cfg config.RetryConfig) *RetryScheduler {
	writers := make([]MessageWriter, 0, len(cfg.Stages))
	for _, stage := range cfg.Stages {
		writers = append(writers, k.NewWriter(stage.Topic))
	}
	return NewRetrySchedulerWithWriters(cfg.Stages, writers, k.NewWriter(cfg.DeadLetterTopic))
}

// NewRetrySchedulerWithWriters wraps existing writers; writers[i] serves stages[i].
func NewRetrySchedulerWithWriters(stages []config.RetryStageConfig, writers []MessageWriter, deadLetter MessageWriter) *RetryScheduler {
	r := &RetryScheduler{deadLetter: deadLetter, now: time.Now}
	for i, stage := range stages {
		if i >= len(writers) {
			break
		}
		r.stages = append(r.stages, retryStage{topic: stage.Topic, delay: stage.Delay, writer: writers[i]})
	}
	return r
}

// Stages is the number of retry attempts available.
func (r *RetryScheduler) Stages() int {
	return len(r.stages)
}

// Topics lists the retry topics in attempt order.
func (r *RetryScheduler) Topics() []string {
	topics := make([]string, 0, len(r.stages))
	for _, s := range r.stages {
		topics = append(topics, s.topic)
	}
	return topics
}

// ScheduleRetry publishes msg to the retry topic of attempt (1-based) and
// stamps when it becomes due.
func (r *RetryScheduler) ScheduleRetry(ctx context.Context, attempt int, msg TriggerRetry) error {
	if attempt <= 0 || attempt > len(r.stages) {
		return fmt.Errorf("retry scheduler: attempt %d out of range", attempt)
	}
	stage := r.stages[attempt-1]
	msg.Attempt = attempt
	msg.NotBefore = r.now().UTC().Add(stage.delay)
	return write(ctx, stage.writer, "retry scheduler", msg)
}

// DeadLetter parks msg for manual inspection.
func (r *RetryScheduler) DeadLetter(ctx context.Context, msg TriggerRetry) error {
	if r.deadLetter == nil {
		return fmt.Errorf("retry scheduler: no dead-letter topic configured")
	}
	return write(ctx, r.deadLetter, "dead letter", msg)
}

// Close closes all writers.
func (r *RetryScheduler) Close() error {
	var err error
	for _, s := range r.stages {
		if cerr := s.writer.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if r.deadLetter != nil {
		if cerr := r.deadLetter.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func write(ctx context.Context, w MessageWriter, scope string, msg TriggerRetry) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("%s: marshal message: %w", scope, err)
	}
	record := kafka.Message{
		Key:   msg.Key,
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := w.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("%s: write: %w", scope, err)
	}
	return nil
}
