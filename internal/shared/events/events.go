package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published by the migration runner
const (
	MigrationApplied     = "migration.applied"
	MigrationFailed      = "migration.failed"
	RunCompleted         = "migration.run_completed"
	WatermarkInitialized = "watermark.initialized"
)

// AggregateType of all migration events
const AggregateType = "migration_source"

// Event represents a domain event
type Event struct {
	ID            string                 `json:"id"`
	AggregateID   string                 `json:"aggregateId"`
	AggregateType string                 `json:"aggregateType"`
	EventType     string                 `json:"eventType"`
	EventVersion  int                    `json:"eventVersion"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlationId"`
	Metadata      map[string]interface{} `json:"metadata"`
	Payload       json.RawMessage        `json:"payload"`
}

// NewEvent creates a new event
func NewEvent(aggregateID, aggregateType, eventType string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventVersion:  1,
		Timestamp:     time.Now().UTC(),
		Metadata:      make(map[string]interface{}),
		Payload:       payloadBytes,
	}, nil
}

// Publisher delivers events to subscribers
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event *Event) error { return nil }

func (NoopPublisher) Close() error { return nil }

// MigrationAppliedPayload is sent after a migration and its watermark
// advance have both been committed.
type MigrationAppliedPayload struct {
	RunID      string `json:"runId"`
	Source     string `json:"source"`
	Filename   string `json:"filename"`
	Kind       string `json:"kind"`
	Watermark  string `json:"watermark"`
	DurationMs int64  `json:"durationMs"`
}

// MigrationFailedPayload is sent when a migration fails to apply
type MigrationFailedPayload struct {
	RunID    string `json:"runId"`
	Source   string `json:"source"`
	Filename string `json:"filename"`
	Kind     string `json:"kind"`
	Error    string `json:"error"`
}

// RunCompletedPayload summarises a finished run
type RunCompletedPayload struct {
	RunID      string            `json:"runId"`
	Applied    int               `json:"applied"`
	Failed     bool              `json:"failed"`
	Watermarks map[string]string `json:"watermarks"`
	DurationMs int64             `json:"durationMs"`
}

// WatermarkInitializedPayload is sent for every watermark created by bootstrap
type WatermarkInitializedPayload struct {
	Source    string `json:"source"`
	Watermark string `json:"watermark"`
}
