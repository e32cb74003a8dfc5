package domain

import (
	"time"

	"github.com/google/uuid"
)

// Medication event types.
const (
	EventMedicationPrescribed   = "medication.prescribed"
	EventMedicationUpdated      = "medication.updated"
	EventMedicationDiscontinued = "medication.discontinued"
)

// Medication statuses.
const (
	MedicationStatusActive       = "active"
	MedicationStatusDiscontinued = "discontinued"
)

// Medication is the patient-facing medication record projection built from
// the medication stream. Reference is the natural key used by the
// idempotent-create contract.
type Medication struct {
	ID                uuid.UUID      `json:"id"`
	OrganizationID    uuid.UUID      `json:"organization_id"`
	Reference         string         `json:"reference"`
	PatientName       string         `json:"patient_name"`
	MedicationName    string         `json:"medication_name"`
	Dosage            string         `json:"dosage"`
	PrescriberName    string         `json:"prescriber_name"`
	Status            string         `json:"status"`
	DiscontinueReason string         `json:"discontinue_reason,omitempty"`
	Path              string         `json:"path"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// MedicationPatch is a partial update with COALESCE semantics: a thin
// event payload never blanks out unrelated fields such as PrescriberName.
type MedicationPatch struct {
	PatientName       *string
	MedicationName    *string
	Dosage            *string
	PrescriberName    *string
	Status            *string
	DiscontinueReason *string
	Metadata          map[string]any
}
