package domain

import (
	"time"

	"github.com/google/uuid"
)

// Organization event types.
const (
	EventOrganizationCreated     = "organization.created"
	EventOrganizationUpdated     = "organization.updated"
	EventOrganizationDeactivated = "organization.deactivated"
	EventOrganizationReactivated = "organization.reactivated"
	EventOrganizationDeleted     = "organization.deleted"
)

// Organization is the root tenant projection. Its path is a single root
// label (the slug) and every tenant-scoped row lives beneath it.
type Organization struct {
	ID        uuid.UUID      `json:"id"`
	Slug      string         `json:"slug"`
	Name      string         `json:"name"`
	Path      string         `json:"path"`
	IsActive  bool           `json:"is_active"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// OrganizationPatch is a partial update. Nil fields keep the existing
// value (COALESCE semantics); Metadata is merged, not replaced.
type OrganizationPatch struct {
	Name     *string
	Metadata map[string]any
}
