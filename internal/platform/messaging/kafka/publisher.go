package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/linkflow-ai/dbmigrate/internal/platform/logger"
	"github.com/linkflow-ai/dbmigrate/internal/platform/resilience"
	"github.com/linkflow-ai/dbmigrate/internal/shared/events"
)

// EventPublisher publishes events to Kafka
type EventPublisher struct {
	producer sarama.SyncProducer
	topic    string
	breaker  *resilience.CircuitBreaker
}

// Config holds Kafka configuration
type Config struct {
	Brokers []string
	Topic   string
}

// PublisherOption configures an EventPublisher
type PublisherOption func(*EventPublisher)

// WithCircuitBreaker routes every send through cb
func WithCircuitBreaker(cb *resilience.CircuitBreaker) PublisherOption {
	return func(p *EventPublisher) { p.breaker = cb }
}

// ProducerConfig returns the sarama settings used for migration events
func ProducerConfig() *sarama.Config {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.RequiredAcks = sarama.WaitForAll
	saramaConfig.Producer.Retry.Max = 5
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.Compression = sarama.CompressionSnappy
	saramaConfig.Producer.Timeout = 10 * time.Second
	saramaConfig.Version = sarama.V3_3_1_0
	return saramaConfig
}

// NewEventPublisher creates a new Kafka event publisher
func NewEventPublisher(cfg *Config, opts ...PublisherOption) (*EventPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}

	return NewEventPublisherWithProducer(producer, cfg.Topic, opts...), nil
}

// NewEventPublisherWithProducer wraps an existing producer
func NewEventPublisherWithProducer(producer sarama.SyncProducer, topic string, opts ...PublisherOption) *EventPublisher {
	p := &EventPublisher{producer: producer, topic: topic}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends event and waits for the broker acknowledgement. Events of the
// same source share a key, so they land on one partition in order.
func (p *EventPublisher) Publish(ctx context.Context, event *events.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.CorrelationID == "" {
		if runID, ok := ctx.Value(logger.RunIDKey).(string); ok {
			event.CorrelationID = runID
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	message := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(event.AggregateID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("eventType"), Value: []byte(event.EventType)},
			{Key: []byte("correlationId"), Value: []byte(event.CorrelationID)},
			{Key: []byte("aggregateType"), Value: []byte(event.AggregateType)},
		},
		Timestamp: event.Timestamp,
	}

	send := func(context.Context) error {
		_, _, err := p.producer.SendMessage(message)
		return err
	}
	if p.breaker != nil {
		err = p.breaker.Execute(ctx, send)
	} else {
		err = send(ctx)
	}
	if err != nil {
		return fmt.Errorf("failed to publish event %s: %w", event.EventType, err)
	}
	return nil
}

// Close closes the publisher
func (p *EventPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close producer: %w", err)
	}
	return nil
}

var _ events.Publisher = (*EventPublisher)(nil)
