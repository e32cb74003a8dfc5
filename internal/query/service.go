package query

import (
	"context"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/db"
	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/repository"
)

// TxRunner executes a function inside one transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(db.DBTX) error) error
}

// Service serves the read side: projection rows scoped to the calling
// actor. Every repository read re-checks path containment, so the service
// only routes.
type Service struct {
	runner  TxRunner
	factory repository.Factory
}

// NewService creates the query service.
func NewService(runner TxRunner, factory repository.Factory) *Service {
	return &Service{runner: runner, factory: factory}
}

func (s *Service) read(ctx context.Context, fn func(repository.Set) error) error {
	return s.runner.RunInTx(ctx, func(tx db.DBTX) error {
		return fn(s.factory(tx))
	})
}

// ListOrganizations returns the organizations visible to the actor.
func (s *Service) ListOrganizations(ctx context.Context) ([]domain.Organization, error) {
	var orgs []domain.Organization
	err := s.read(ctx, func(repos repository.Set) error {
		var err error
		orgs, err = repos.Organizations.List(ctx)
		return err
	})
	return orgs, err
}

// GetOrganization returns one organization by id.
func (s *Service) GetOrganization(ctx context.Context, id uuid.UUID) (domain.Organization, error) {
	var org domain.Organization
	err := s.read(ctx, func(repos repository.Set) error {
		var err error
		org, err = repos.Organizations.GetByID(ctx, id)
		return err
	})
	return org, err
}

// ListOrganizationUnits returns the units of one organization.
func (s *Service) ListOrganizationUnits(ctx context.Context, organizationID uuid.UUID) ([]domain.OrganizationUnit, error) {
	var units []domain.OrganizationUnit
	err := s.read(ctx, func(repos repository.Set) error {
		var err error
		units, err = repos.Units.List(ctx, organizationID)
		return err
	})
	return units, err
}

// GetOrganizationUnit returns one unit by id.
func (s *Service) GetOrganizationUnit(ctx context.Context, id uuid.UUID) (domain.OrganizationUnit, error) {
	var unit domain.OrganizationUnit
	err := s.read(ctx, func(repos repository.Set) error {
		var err error
		unit, err = repos.Units.GetByID(ctx, id)
		return err
	})
	return unit, err
}

// ListMedications returns the medication records of one organization.
func (s *Service) ListMedications(ctx context.Context, organizationID uuid.UUID) ([]domain.Medication, error) {
	var meds []domain.Medication
	err := s.read(ctx, func(repos repository.Set) error {
		var err error
		meds, err = repos.Medications.List(ctx, organizationID)
		return err
	})
	return meds, err
}

// GetMedication returns one medication record by id.
func (s *Service) GetMedication(ctx context.Context, id uuid.UUID) (domain.Medication, error) {
	var med domain.Medication
	err := s.read(ctx, func(repos repository.Set) error {
		var err error
		med, err = repos.Medications.GetByID(ctx, id)
		return err
	})
	return med, err
}

// ListPrescriptions returns the order ledger of one medication record,
// oldest first.
func (s *Service) ListPrescriptions(ctx context.Context, medicationID uuid.UUID) ([]domain.Prescription, error) {
	var scripts []domain.Prescription
	err := s.read(ctx, func(repos repository.Set) error {
		var err error
		scripts, err = repos.Prescriptions.ListByMedication(ctx, medicationID)
		return err
	})
	return scripts, err
}

// ListContacts returns the contacts of one organization.
func (s *Service) ListContacts(ctx context.Context, organizationID uuid.UUID) ([]domain.Contact, error) {
	var contacts []domain.Contact
	err := s.read(ctx, func(repos repository.Set) error {
		var err error
		contacts, err = repos.Contacts.List(ctx, organizationID)
		return err
	})
	return contacts, err
}

// GetInvitation returns one invitation by id.
func (s *Service) GetInvitation(ctx context.Context, id uuid.UUID) (domain.Invitation, error) {
	var inv domain.Invitation
	err := s.read(ctx, func(repos repository.Set) error {
		var err error
		inv, err = repos.Invitations.GetByID(ctx, id)
		return err
	})
	return inv, err
}

// ListAuditByAggregate returns the audit trail of one aggregate.
func (s *Service) ListAuditByAggregate(ctx context.Context, aggregateID uuid.UUID) ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	err := s.read(ctx, func(repos repository.Set) error {
		var err error
		entries, err = repos.Audit.ListByAggregate(ctx, aggregateID)
		return err
	})
	return entries, err
}
