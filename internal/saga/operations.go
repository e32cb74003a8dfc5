package saga

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/db"
	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/emitter"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/tracing"
	"github.com/carebridge/carebridge/pkg/hierarchy"
)

// Service exposes the multi-step workflow building blocks. Forward
// operations are idempotent by natural key: calling one again with the
// same key returns the existing aggregate instead of failing, so a
// coordinator can safely re-run a partially completed workflow.
// Compensations are best effort: compensating something that no longer
// exists logs and succeeds.
type Service struct {
	emitter *emitter.Service
	runner  emitter.TxRunner
	factory repository.Factory
}

// NewService creates the saga operation service.
func NewService(em *emitter.Service, runner emitter.TxRunner, factory repository.Factory) *Service {
	return &Service{emitter: em, runner: runner, factory: factory}
}

func (s *Service) lookup(ctx context.Context, fn func(repository.Set) error) error {
	return s.runner.RunInTx(ctx, func(tx db.DBTX) error {
		return fn(s.factory(tx))
	})
}

// CreateOrganization provisions a tenant. The slug is the natural key: a
// repeated call returns the existing organization's id.
func (s *Service) CreateOrganization(ctx context.Context, slug, name string) (uuid.UUID, error) {
	slug = hierarchy.Slugify(slug)
	if err := hierarchy.ValidateLabel(slug); err != nil {
		return uuid.Nil, &domain.ValidationError{Field: "slug", Message: err.Error()}
	}

	var existing domain.Organization
	err := s.lookup(ctx, func(repos repository.Set) error {
		var err error
		existing, err = repos.Organizations.GetBySlug(ctx, slug)
		return err
	})
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return uuid.Nil, err
	}

	orgID := uuid.New()
	_, err = s.emitter.Emit(ctx, emitter.EmitRequest{
		StreamID:   orgID,
		StreamType: domain.StreamOrganization,
		EventType:  domain.EventOrganizationCreated,
		EventData:  map[string]any{"slug": slug, "name": name},
	})
	if err != nil {
		return uuid.Nil, err
	}
	return orgID, nil
}

// CreateOrganizationUnit provisions a hierarchy node. (organization, slug)
// is the natural key. An empty parentPath nests the unit directly under
// the organization root.
func (s *Service) CreateOrganizationUnit(ctx context.Context, orgID uuid.UUID, slug, name, parentPath string) (uuid.UUID, error) {
	slug = hierarchy.Slugify(slug)
	if err := hierarchy.ValidateLabel(slug); err != nil {
		return uuid.Nil, &domain.ValidationError{Field: "slug", Message: err.Error()}
	}

	var existing domain.OrganizationUnit
	err := s.lookup(ctx, func(repos repository.Set) error {
		var err error
		existing, err = repos.Units.GetBySlug(ctx, orgID, slug)
		return err
	})
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return uuid.Nil, err
	}

	data := map[string]any{
		"organization_id": orgID.String(),
		"slug":            slug,
		"name":            name,
	}
	if parentPath != "" {
		data["parent_path"] = parentPath
	}

	unitID := uuid.New()
	_, err = s.emitter.Emit(ctx, emitter.EmitRequest{
		StreamID:   unitID,
		StreamType: domain.StreamOrganizationUnit,
		EventType:  domain.EventOrganizationUnitCreated,
		EventData:  data,
	})
	if err != nil {
		return uuid.Nil, err
	}
	return unitID, nil
}

// MedicationRequest describes a medication record to create.
type MedicationRequest struct {
	OrganizationID uuid.UUID
	Reference      string
	PatientName    string
	MedicationName string
	Dosage         string
	PrescriberName string
	Path           string
}

// RecordMedication creates a medication record, idempotent on the
// per-organization reference.
func (s *Service) RecordMedication(ctx context.Context, req MedicationRequest) (uuid.UUID, error) {
	if req.Reference == "" {
		return uuid.Nil, &domain.ValidationError{Field: "reference", Message: "medication reference is required"}
	}

	var existing domain.Medication
	err := s.lookup(ctx, func(repos repository.Set) error {
		var err error
		existing, err = repos.Medications.GetByReference(ctx, req.OrganizationID, req.Reference)
		return err
	})
	if err == nil {
		return existing.ID, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return uuid.Nil, err
	}

	medID := uuid.New()
	_, err = s.emitter.Emit(ctx, emitter.EmitRequest{
		StreamID:   medID,
		StreamType: domain.StreamMedication,
		EventType:  domain.EventMedicationPrescribed,
		EventData: map[string]any{
			"organization_id": req.OrganizationID.String(),
			"reference":       req.Reference,
			"patient_name":    req.PatientName,
			"medication_name": req.MedicationName,
			"dosage":          req.Dosage,
			"prescriber_name": req.PrescriberName,
			"path":            req.Path,
		},
	})
	if err != nil {
		return uuid.Nil, err
	}
	return medID, nil
}

// SendInvitation starts an onboarding transaction. A fresh correlation id
// is minted here and anchored on the invitation projection; the pending
// invitation for the same email is the natural key.
func (s *Service) SendInvitation(ctx context.Context, orgID uuid.UUID, email string) (uuid.UUID, error) {
	if email == "" {
		return uuid.Nil, &domain.ValidationError{Field: "email", Message: "email is required"}
	}

	var existing domain.Invitation
	err := s.lookup(ctx, func(repos repository.Set) error {
		var err error
		existing, err = repos.Invitations.GetByEmail(ctx, orgID, email)
		return err
	})
	if err == nil && existing.Status == domain.InvitationStatusPending {
		return existing.ID, nil
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return uuid.Nil, err
	}

	invID := uuid.New()
	ctx = tracing.WithCorrelationID(ctx, uuid.NewString())
	_, err = s.emitter.Emit(ctx, emitter.EmitRequest{
		StreamID:   invID,
		StreamType: domain.StreamInvitation,
		EventType:  domain.EventInvitationSent,
		EventData: map[string]any{
			"organization_id": orgID.String(),
			"email":           email,
		},
	})
	if err != nil {
		return uuid.Nil, err
	}
	return invID, nil
}

// AcceptInvitation completes onboarding: the accepted and user_created
// events reuse the correlation id stored when the invitation was sent, so
// the whole transaction reads back as one correlated sequence.
func (s *Service) AcceptInvitation(ctx context.Context, invitationID uuid.UUID, userID string) error {
	var inv domain.Invitation
	err := s.lookup(ctx, func(repos repository.Set) error {
		var err error
		inv, err = repos.Invitations.GetByID(ctx, invitationID)
		return err
	})
	if err != nil {
		return err
	}
	if inv.Status == domain.InvitationStatusRevoked {
		return &domain.ValidationError{Field: "invitation", Message: "revoked invitations cannot be accepted"}
	}

	ctx = tracing.WithCorrelationID(ctx, inv.CorrelationID)
	if _, err := s.emitter.Emit(ctx, emitter.EmitRequest{
		StreamID:   invitationID,
		StreamType: domain.StreamInvitation,
		EventType:  domain.EventInvitationAccepted,
		EventData:  map[string]any{"email": inv.Email},
	}); err != nil {
		return err
	}

	_, err = s.emitter.Emit(ctx, emitter.EmitRequest{
		StreamID:   invitationID,
		StreamType: domain.StreamInvitation,
		EventType:  domain.EventInvitationUserCreated,
		EventData:  map[string]any{"user_id": userID, "email": inv.Email},
	})
	return err
}

// DeleteOrganization is the compensation for CreateOrganization: it
// deactivates and then soft-deletes the tenant. A missing or already
// deleted organization is treated as success.
func (s *Service) DeleteOrganization(ctx context.Context, orgID uuid.UUID) error {
	var org domain.Organization
	err := s.lookup(ctx, func(repos repository.Set) error {
		var err error
		org, err = repos.Organizations.GetByID(ctx, orgID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("saga: compensation skipped, organization %s does not exist", orgID)
		return nil
	}
	if err != nil {
		return err
	}
	if org.DeletedAt != nil {
		log.Printf("saga: compensation skipped, organization %s already deleted", org.Slug)
		return nil
	}

	if org.IsActive {
		if _, err := s.emitter.Emit(ctx, emitter.EmitRequest{
			StreamID:   orgID,
			StreamType: domain.StreamOrganization,
			EventType:  domain.EventOrganizationDeactivated,
			EventData:  map[string]any{},
			Metadata:   domain.Metadata{Reason: "saga compensation"},
		}); err != nil {
			return err
		}
	}

	_, err = s.emitter.Emit(ctx, emitter.EmitRequest{
		StreamID:   orgID,
		StreamType: domain.StreamOrganization,
		EventType:  domain.EventOrganizationDeleted,
		EventData:  map[string]any{},
		Metadata:   domain.Metadata{Reason: "saga compensation"},
	})
	return err
}

// DeleteOrganizationUnit compensates CreateOrganizationUnit the same way.
func (s *Service) DeleteOrganizationUnit(ctx context.Context, unitID uuid.UUID) error {
	var unit domain.OrganizationUnit
	err := s.lookup(ctx, func(repos repository.Set) error {
		var err error
		unit, err = repos.Units.GetByID(ctx, unitID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("saga: compensation skipped, organization unit %s does not exist", unitID)
		return nil
	}
	if err != nil {
		return err
	}
	if unit.DeletedAt != nil {
		log.Printf("saga: compensation skipped, organization unit %s already deleted", unit.Path)
		return nil
	}

	if unit.IsActive {
		if _, err := s.emitter.Emit(ctx, emitter.EmitRequest{
			StreamID:   unitID,
			StreamType: domain.StreamOrganizationUnit,
			EventType:  domain.EventOrganizationUnitDeactivated,
			EventData:  map[string]any{},
			Metadata:   domain.Metadata{Reason: "saga compensation"},
		}); err != nil {
			return err
		}
	}

	_, err = s.emitter.Emit(ctx, emitter.EmitRequest{
		StreamID:   unitID,
		StreamType: domain.StreamOrganizationUnit,
		EventType:  domain.EventOrganizationUnitDeleted,
		EventData:  map[string]any{},
		Metadata:   domain.Metadata{Reason: "saga compensation"},
	})
	return err
}

// RevokeInvitation compensates SendInvitation. Revoking an invitation that
// does not exist, or that was already accepted or revoked, logs and
// succeeds: the workflow moved on and there is nothing left to undo.
func (s *Service) RevokeInvitation(ctx context.Context, invitationID uuid.UUID) error {
	var inv domain.Invitation
	err := s.lookup(ctx, func(repos repository.Set) error {
		var err error
		inv, err = repos.Invitations.GetByID(ctx, invitationID)
		return err
	})
	if errors.Is(err, domain.ErrNotFound) {
		log.Printf("saga: compensation skipped, invitation %s does not exist", invitationID)
		return nil
	}
	if err != nil {
		return err
	}
	if inv.Status != domain.InvitationStatusPending {
		log.Printf("saga: compensation skipped, invitation %s is %s", invitationID, inv.Status)
		return nil
	}

	ctx = tracing.WithCorrelationID(ctx, inv.CorrelationID)
	_, err = s.emitter.Emit(ctx, emitter.EmitRequest{
		StreamID:   invitationID,
		StreamType: domain.StreamInvitation,
		EventType:  domain.EventInvitationRevoked,
		EventData:  map[string]any{"email": inv.Email},
		Metadata:   domain.Metadata{Reason: "saga compensation"},
	})
	if err != nil {
		return fmt.Errorf("revoking invitation %s: %w", invitationID, err)
	}
	return nil
}
