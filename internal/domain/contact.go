package domain

import (
	"time"

	"github.com/google/uuid"
)

// Contact event types.
const (
	EventContactCreated     = "contact.created"
	EventContactUpdated     = "contact.updated"
	EventContactDeactivated = "contact.deactivated"
	EventContactReactivated = "contact.reactivated"
	EventContactDeleted     = "contact.deleted"
)

// Contact is a denormalized contact-point projection (phone, email and
// postal address pre-joined into one row).
type Contact struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	Kind           string         `json:"kind"`
	Name           string         `json:"name"`
	PhoneNumber    string         `json:"phone_number,omitempty"`
	Email          string         `json:"email,omitempty"`
	AddressLine    string         `json:"address_line,omitempty"`
	City           string         `json:"city,omitempty"`
	PostalCode     string         `json:"postal_code,omitempty"`
	Path           string         `json:"path"`
	IsActive       bool           `json:"is_active"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ContactPatch is a partial update with COALESCE semantics.
type ContactPatch struct {
	Name        *string
	PhoneNumber *string
	Email       *string
	AddressLine *string
	City        *string
	PostalCode  *string
	Metadata    map[string]any
}
