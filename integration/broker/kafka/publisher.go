package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Header keys set on every relayed message.
const (
	HeaderEventID       = "event_id"
	HeaderEventType     = "event_type"
	HeaderCorrelationID = "correlation_id"
)

// Writer is the part of *kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes events to topics derived from their type.
type Publisher struct {
	writer       Writer
	topicPrefix  string
	topicByEvent map[string]string
	now          func() time.Time
}

// PublisherOption configures a Publisher.
type PublisherOption func(*Publisher)

// WithWriter replaces the kafka writer, e.g. with a fake in tests.
func WithWriter(w Writer) PublisherOption {
	return func(p *Publisher) {
		if w != nil {
			p.writer = w
		}
	}
}

// WithTopics maps event types to explicit topic names.
func WithTopics(topicByEvent map[string]string) PublisherOption {
	return func(p *Publisher) {
		p.topicByEvent = topicByEvent
	}
}

// WithPublisherClock overrides the message timestamp source.
func WithPublisherClock(now func() time.Time) PublisherOption {
	return func(p *Publisher) {
		if now != nil {
			p.now = now
		}
	}
}

// NewPublisher creates a publisher for cfg.Brokers. Messages are keyed by
// correlation id, so events of one aggregate keep their order within a
// partition.
func NewPublisher(cfg Config, opts ...PublisherOption) (*Publisher, error) {
	p := &Publisher{
		topicPrefix: cfg.TopicPrefix,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.writer == nil {
		if len(cfg.Brokers) == 0 {
			return nil, ErrNoBrokers
		}
		p.writer = &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			RequiredAcks: kafka.RequireAll,
			Balancer:     &kafka.Hash{},
			WriteTimeout: cfg.WriteTimeout,
		}
	}
	return p, nil
}

// Topic returns the topic for eventType.
func (p *Publisher) Topic(eventType string) string {
	if mapped, ok := p.topicByEvent[eventType]; ok && mapped != "" {
		return mapped
	}
	return p.topicPrefix + eventType
}

// Event is one message to publish.
type Event struct {
	ID            string
	Type          string
	CorrelationID string
	Payload       []byte
}

// Publish writes ev and waits for all in-sync replicas to acknowledge it.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if ev.Type == "" {
		return ErrEmptyEventType
	}
	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: p.Topic(ev.Type),
		Key:   []byte(ev.CorrelationID),
		Value: ev.Payload,
		Time:  p.now().UTC(),
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(ev.ID)},
			{Key: HeaderEventType, Value: []byte(ev.Type)},
			{Key: HeaderCorrelationID, Value: []byte(ev.CorrelationID)},
		},
	})
	if err != nil {
		return errors.Join(ErrPublishFailed, fmt.Errorf("topic %s: %w", p.Topic(ev.Type), err))
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
