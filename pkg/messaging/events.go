package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTypeCandidateAdded     = "candidate.added"
	EventTypeCandidateRescored  = "candidate.rescored"
	EventTypeCandidateEvicted   = "candidate.evicted"
	EventTypeSessionScheduled   = "session.scheduled"
	EventTypeSessionCompleted   = "session.completed"
	EventTypeLifeSafetyPreempt  = "life_safety.preempted"
	EventTypeRoundCompleted     = "round.completed"
)

// Event is the base event structure carried over the ingest bus.
type Event struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	AggregateID string          `json:"aggregate_id"`
	Timestamp   time.Time       `json:"timestamp"`
	Version     int             `json:"version"`
	Data        json.RawMessage `json:"data"`
	Metadata    EventMetadata   `json:"metadata"`
}

// EventMetadata contains event metadata
type EventMetadata struct {
	CorrelationID string `json:"correlation_id"`
	CausationID   string `json:"causation_id"`
	UserID        string `json:"user_id,omitempty"`
	Source        string `json:"source"`
}

// CandidateAddedEvent is published when a new event candidate is admitted
// to the store.
type CandidateAddedEvent struct {
	EventID  string  `json:"event_id"`
	HomeID   string  `json:"home_id"`
	Tier     string  `json:"tier"`
	Priority string  `json:"priority"`
	Score    float64 `json:"score"`
}

// SessionScheduledEvent is published by the scheduler when it hands a
// session to a worker queue.
type SessionScheduledEvent struct {
	SessionID    string   `json:"session_id"`
	HomeID       string   `json:"home_id"`
	Tier         string   `json:"tier"`
	EventIDs     []string `json:"event_ids"`
	BypassReason string   `json:"bypass_reason,omitempty"`
}

// SessionCompletedEvent is published by a worker once a session finishes
// (successfully or not).
type SessionCompletedEvent struct {
	SessionID         string  `json:"session_id"`
	HomeID            string  `json:"home_id"`
	Success           bool    `json:"success"`
	RiskScore         float64 `json:"risk_score"`
	ProcessingMs      int64   `json:"processing_duration_ms"`
	ThreatIndicators  int     `json:"threat_indicators"`
}

// LifeSafetyPreemptEvent is published the moment a life-safety event is
// pulled out of band and placed on the emergency queue.
type LifeSafetyPreemptEvent struct {
	EventID string `json:"event_id"`
	HomeID  string `json:"home_id"`
	Reason  string `json:"reason"`
}

// RoundCompletedEvent carries one scheduler round's stats for operator
// consumption. The admin WebSocket streams model.RoundStats, not this
// type.
type RoundCompletedEvent struct {
	Scheduled   int     `json:"scheduled"`
	Backlog     int     `json:"backlog"`
	Throttled   bool    `json:"throttled"`
	DurationMs  int64   `json:"duration_ms"`
}

// NewEvent creates a new envelope event with a fresh ID and timestamp.
func NewEvent(eventType string, aggregateID string, data interface{}, metadata EventMetadata) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:          uuid.New(),
		Type:        eventType,
		AggregateID: aggregateID,
		Timestamp:   time.Now(),
		Version:     1,
		Data:        dataBytes,
		Metadata:    metadata,
	}, nil
}

// ParseEventData parses event data into the specified type.
func ParseEventData[T any](event *Event) (*T, error) {
	var data T
	if err := json.Unmarshal(event.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// EventBus is the publish side used by core components to announce state
// transitions without taking a direct dependency on the transport.
type EventBus interface {
	Publish(ctx interface{}, event Event) error
}

// NATSEventBus is the production EventBus: every lifecycle event goes
// out on one fixed subject so any operator tool can subscribe to the
// whole stream without knowing every event type up front.
type NATSEventBus struct {
	client  *Client
	subject string
}

// NewNATSEventBus wires an EventBus over an existing NATS client.
func NewNATSEventBus(client *Client, subject string) *NATSEventBus {
	return &NATSEventBus{client: client, subject: subject}
}

func (b *NATSEventBus) Publish(ctx interface{}, event Event) error {
	c, ok := ctx.(context.Context)
	if !ok {
		c = context.Background()
	}
	return b.client.Publish(c, b.subject, event)
}
