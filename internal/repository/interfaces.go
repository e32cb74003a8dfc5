package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/db"
	"github.com/carebridge/carebridge/internal/domain"
)

// EventRepository is the append-only event store. Append computes the next
// stream version inside the caller's transaction; a version collision
// surfaces as domain.ErrConcurrencyConflict. Only the bookkeeping fields
// (processed_at, processing_error) are ever updated after insert.
type EventRepository interface {
	Append(ctx context.Context, event domain.Event) (domain.Event, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.Event, error)
	ListByStream(ctx context.Context, streamID uuid.UUID, streamType string) ([]domain.Event, error)
	ListByCorrelation(ctx context.Context, correlationID string) ([]domain.Event, error)
	ListFailed(ctx context.Context, limit int) ([]domain.Event, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID, message string) error
	ClearProcessing(ctx context.Context, id uuid.UUID) error
}

// OrganizationRepository maintains the root tenant projection. Every read
// and write re-evaluates the scope-path containment predicate for the
// actor on the context.
type OrganizationRepository interface {
	InsertIfAbsent(ctx context.Context, org domain.Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error)
	GetBySlug(ctx context.Context, slug string) (domain.Organization, error)
	List(ctx context.Context) ([]domain.Organization, error)
	UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.OrganizationPatch) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}

// OrganizationUnitRepository maintains the unit hierarchy projection.
type OrganizationUnitRepository interface {
	InsertIfAbsent(ctx context.Context, unit domain.OrganizationUnit) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.OrganizationUnit, error)
	GetBySlug(ctx context.Context, organizationID uuid.UUID, slug string) (domain.OrganizationUnit, error)
	List(ctx context.Context, organizationID uuid.UUID) ([]domain.OrganizationUnit, error)
	ListActiveDescendants(ctx context.Context, path string) ([]domain.OrganizationUnit, error)
	UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.OrganizationUnitPatch) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}

// MedicationRepository maintains the medication record projection.
// Reference is the natural key for the idempotent-create contract.
type MedicationRepository interface {
	InsertIfAbsent(ctx context.Context, med domain.Medication) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.Medication, error)
	GetByReference(ctx context.Context, organizationID uuid.UUID, reference string) (domain.Medication, error)
	List(ctx context.Context, organizationID uuid.UUID) ([]domain.Medication, error)
	UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.MedicationPatch) error
}

// PrescriptionRepository maintains the order/refill projection.
type PrescriptionRepository interface {
	InsertIfAbsent(ctx context.Context, p domain.Prescription) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.Prescription, error)
	ListByMedication(ctx context.Context, medicationID uuid.UUID) ([]domain.Prescription, error)
	UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.PrescriptionPatch) error
}

// ContactRepository maintains the denormalized contact projection.
type ContactRepository interface {
	InsertIfAbsent(ctx context.Context, c domain.Contact) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.Contact, error)
	List(ctx context.Context, organizationID uuid.UUID) ([]domain.Contact, error)
	UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.ContactPatch) error
	SetActive(ctx context.Context, id uuid.UUID, active bool) error
	SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error
}

// InvitationRepository maintains the invitation projection that anchors
// multi-step onboarding transactions and their correlation ids.
type InvitationRepository interface {
	InsertIfAbsent(ctx context.Context, inv domain.Invitation) error
	GetByID(ctx context.Context, id uuid.UUID) (domain.Invitation, error)
	GetByEmail(ctx context.Context, organizationID uuid.UUID, email string) (domain.Invitation, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string, acceptedAt *time.Time) error
}

// AuditRepository stores handler side-writes.
type AuditRepository interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
	ListByCorrelation(ctx context.Context, correlationID string) ([]domain.AuditEntry, error)
	ListByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]domain.AuditEntry, error)
}

// Set bundles every repository bound to one DBTX. Projection handlers
// receive a Set built from the emit transaction so appends and projection
// writes commit atomically.
type Set struct {
	Events        EventRepository
	Organizations OrganizationRepository
	Units         OrganizationUnitRepository
	Medications   MedicationRepository
	Prescriptions PrescriptionRepository
	Contacts      ContactRepository
	Invitations   InvitationRepository
	Audit         AuditRepository
}

// Factory builds a Set bound to the given DBTX.
type Factory func(db.DBTX) Set

// NewPostgresSet builds the production Set over pgx.
func NewPostgresSet(dbtx db.DBTX) Set {
	return Set{
		Events:        NewEventRepository(dbtx),
		Organizations: NewOrganizationRepository(dbtx),
		Units:         NewOrganizationUnitRepository(dbtx),
		Medications:   NewMedicationRepository(dbtx),
		Prescriptions: NewPrescriptionRepository(dbtx),
		Contacts:      NewContactRepository(dbtx),
		Invitations:   NewInvitationRepository(dbtx),
		Audit:         NewAuditRepository(dbtx),
	}
}
