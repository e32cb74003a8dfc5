package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Stream types routed by the event router. The set is closed: every stream
// type has a declared policy and a registered handler table.
const (
	StreamOrganization     = "organization"
	StreamOrganizationUnit = "organization_unit"
	StreamMedication       = "medication"
	StreamPrescription     = "prescription"
	StreamContact          = "contact"
	StreamInvitation       = "invitation"
)

// Metadata carries the tracing and audit context recorded alongside every
// event. correlation_id spans a whole multi-step business transaction;
// trace_id/span_id identify a single request span.
type Metadata struct {
	CorrelationID string `json:"correlation_id"`
	TraceID       string `json:"trace_id"`
	SpanID        string `json:"span_id"`
	ParentSpanID  string `json:"parent_span_id,omitempty"`
	UserID        string `json:"user_id"`
	Reason        string `json:"reason,omitempty"`
}

// Event is one immutable fact in the append-only ledger. Once inserted,
// only ProcessedAt and ProcessingError are ever updated.
type Event struct {
	ID              uuid.UUID      `json:"id"`
	StreamID        uuid.UUID      `json:"stream_id"`
	StreamType      string         `json:"stream_type"`
	StreamVersion   int64          `json:"stream_version"`
	EventType       string         `json:"event_type"`
	EventData       map[string]any `json:"event_data"`
	EventMetadata   Metadata       `json:"event_metadata"`
	CreatedAt       time.Time      `json:"created_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
	ProcessingError *string        `json:"processing_error,omitempty"`
}

// Validate checks the fields required before an append. Failures reject the
// emit before any row is written.
func (e Event) Validate() error {
	if e.StreamID == uuid.Nil {
		return &ValidationError{Field: "stream_id", Message: "stream id is required"}
	}
	if strings.TrimSpace(e.StreamType) == "" {
		return &ValidationError{Field: "stream_type", Message: "stream type is required"}
	}
	if strings.TrimSpace(e.EventType) == "" {
		return &ValidationError{Field: "event_type", Message: "event type is required"}
	}
	if !strings.Contains(e.EventType, ".") {
		return &ValidationError{Field: "event_type", Message: "event type must be namespaced, e.g. medication.prescribed"}
	}
	if e.EventData == nil {
		return &ValidationError{Field: "event_data", Message: "event data is required"}
	}
	return nil
}
