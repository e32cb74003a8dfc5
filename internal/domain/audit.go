package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is a handler side-write recording a lifecycle transition or
// cascade effect, keyed back to the event that produced it.
type AuditEntry struct {
	ID            uuid.UUID      `json:"id"`
	EventID       uuid.UUID      `json:"event_id"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   uuid.UUID      `json:"aggregate_id"`
	Action        string         `json:"action"`
	ActorID       string         `json:"actor_id"`
	CorrelationID string         `json:"correlation_id"`
	Detail        map[string]any `json:"detail,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
