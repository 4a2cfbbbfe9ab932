package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer the publishers need.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes JSON documents to a single topic.
type Publisher struct {
	topic  string
	writer MessageWriter
}

// NewPublisher constructs a publisher for the given topic.
func NewPublisher(k *Kafka, topic string) *Publisher {
	return &Publisher{topic: topic, writer: k.NewWriter(topic)}
}

// NewPublisherWithWriter wraps an existing writer.
func NewPublisherWithWriter(topic string, w MessageWriter) *Publisher {
	return &Publisher{topic: topic, writer: w}
}

// Publish marshals v and writes it keyed by key.
func (p *Publisher) Publish(ctx context.Context, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("publisher %s: marshal message: %w", p.topic, err)
	}
	record := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("publisher %s: write message: %w", p.topic, err)
	}
	return nil
}

// Close closes the publisher.
func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Events publishes the orchestrator's outbound domain events.
type Events struct {
	dispatchSent      *Publisher
	scheduleConfirmed *Publisher
}

// NewEvents constructs the event publisher pair.
func NewEvents(dispatchSent, scheduleConfirmed *Publisher) *Events {
	return &Events{dispatchSent: dispatchSent, scheduleConfirmed: scheduleConfirmed}
}

// PublishDispatchSent emits disparo.sent.
func (e *Events) PublishDispatchSent(ctx context.Context, evt DispatchSentEvent) error {
	evt.Event = EventDispatchSent
	return e.dispatchSent.Publish(ctx, evt.LeadID.String(), evt)
}

// PublishScheduleConfirmed emits agendamento.confirmed.
func (e *Events) PublishScheduleConfirmed(ctx context.Context, evt ScheduleConfirmedEvent) error {
	evt.Event = EventScheduleConfirmed
	return e.scheduleConfirmed.Publish(ctx, evt.LeadID.String(), evt)
}

// Close closes both writers.
func (e *Events) Close() error {
	err1 := e.dispatchSent.Close()
	err2 := e.scheduleConfirmed.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
