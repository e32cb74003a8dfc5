package domain

import (
	"time"

	"github.com/google/uuid"
)

// Prescription event types.
const (
	EventPrescriptionWritten   = "prescription.written"
	EventPrescriptionFilled    = "prescription.filled"
	EventPrescriptionCancelled = "prescription.cancelled"
)

// Prescription statuses.
const (
	PrescriptionStatusWritten   = "written"
	PrescriptionStatusFilled    = "filled"
	PrescriptionStatusCancelled = "cancelled"
)

// Prescription is an order/refill ledger entry referencing a medication
// record.
type Prescription struct {
	ID               uuid.UUID `json:"id"`
	MedicationID     uuid.UUID `json:"medication_id"`
	OrganizationID   uuid.UUID `json:"organization_id"`
	Quantity         int64     `json:"quantity"`
	RefillsRemaining int64     `json:"refills_remaining"`
	Status           string    `json:"status"`
	Path             string    `json:"path"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// PrescriptionPatch is a partial update with COALESCE semantics.
type PrescriptionPatch struct {
	Quantity         *int64
	RefillsRemaining *int64
	Status           *string
}
