package domain

import (
	"time"

	"github.com/google/uuid"
)

// Organization unit event types.
const (
	EventOrganizationUnitCreated     = "organization_unit.created"
	EventOrganizationUnitUpdated     = "organization_unit.updated"
	EventOrganizationUnitDeactivated = "organization_unit.deactivated"
	EventOrganizationUnitReactivated = "organization_unit.reactivated"
	EventOrganizationUnitDeleted     = "organization_unit.deleted"
)

// OrganizationUnit is a node in a tenant's hierarchy (hospital, department,
// ward). Its path is the materialized ancestor chain rooted at the owning
// organization's slug; deactivating a unit cascades to active descendants,
// reactivating never does.
type OrganizationUnit struct {
	ID             uuid.UUID      `json:"id"`
	OrganizationID uuid.UUID      `json:"organization_id"`
	Slug           string         `json:"slug"`
	Name           string         `json:"name"`
	Path           string         `json:"path"`
	ParentPath     string         `json:"parent_path"`
	IsActive       bool           `json:"is_active"`
	DeletedAt      *time.Time     `json:"deleted_at,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// OrganizationUnitPatch is a partial update with COALESCE semantics.
type OrganizationUnitPatch struct {
	Name     *string
	Metadata map[string]any
}
