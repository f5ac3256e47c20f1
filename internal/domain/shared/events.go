// Package shared contains common domain types, errors, and events.
package shared

import (
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types. Each event represents something significant that
// happened during a proctoring session.
const (
	// Session lifecycle events
	EventSessionStarted   EventType = "session.started"
	EventSessionActivated EventType = "session.activated"
	EventSessionFinalized EventType = "session.finalized"
	EventSessionClosed    EventType = "session.closed"
	EventSessionExpired   EventType = "session.expired"

	// Violation events
	EventViolationRecorded EventType = "violation.recorded"
	EventPenaltyApplied    EventType = "violation.penalty_applied"

	// Score events
	EventScoreUpdated EventType = "score.updated"

	// Verdict events
	EventVerdictPersisted   EventType = "verdict.persisted"
	EventCertificateIssued  EventType = "verdict.certificate_issued"
	EventCertificateDenied  EventType = "verdict.certificate_denied"
	EventPersistenceFailure EventType = "verdict.persistence_failed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	// For proctoring events this is the session ID.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a domain event.
type EventHandler func(Event) error

// EventBus routes domain events to subscribed handlers.
type EventBus interface {
	Subscribe(eventType EventType, handler EventHandler) error
	SubscribeAll(handler EventHandler) error
	Publish(event Event) error
	Close() error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Data        map[string]interface{}
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// Payload implements Event interface.
func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

// NewEvent creates a new event with the given type, session ID and payload.
func NewEvent(eventType EventType, sessionID string, payload map[string]interface{}) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: sessionID,
		Data:        payload,
	}
}
