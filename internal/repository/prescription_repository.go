package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/db"
	"github.com/carebridge/carebridge/internal/domain"
)

// prescriptionRepository implements PrescriptionRepository over Postgres.
type prescriptionRepository struct {
	dbtx db.DBTX
}

// NewPrescriptionRepository creates a new prescription repository.
func NewPrescriptionRepository(dbtx db.DBTX) PrescriptionRepository {
	return &prescriptionRepository{dbtx: dbtx}
}

const prescriptionColumns = "id, medication_id, organization_id, quantity, refills_remaining, status, path, created_at, updated_at"

// InsertIfAbsent creates the prescription ledger entry unless it exists.
func (r *prescriptionRepository) InsertIfAbsent(ctx context.Context, p domain.Prescription) error {
	if err := auth.Authorize(ctx, p.Path); err != nil {
		return err
	}
	_, err := r.dbtx.Exec(ctx, `
		INSERT INTO prescriptions (id, medication_id, organization_id, quantity, refills_remaining, status, path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		p.ID, p.MedicationID, p.OrganizationID, p.Quantity, p.RefillsRemaining,
		p.Status, p.Path, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert prescription: %w", err)
	}
	return nil
}

// GetByID retrieves a prescription within the actor's scope.
func (r *prescriptionRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Prescription, error) {
	row := r.dbtx.QueryRow(ctx,
		"SELECT "+prescriptionColumns+" FROM prescriptions WHERE id = $1", id)
	return r.scanAuthorized(ctx, row)
}

// ListByMedication returns the ledger for one medication record, oldest
// first.
func (r *prescriptionRepository) ListByMedication(ctx context.Context, medicationID uuid.UUID) ([]domain.Prescription, error) {
	actor, ok := auth.ActorFromContext(ctx)
	if !ok {
		return nil, &domain.AuthorizationError{Reason: "no actor on context"}
	}

	var (
		rows pgx.Rows
		err  error
	)
	if actor.IsSuperAdmin {
		rows, err = r.dbtx.Query(ctx,
			"SELECT "+prescriptionColumns+" FROM prescriptions WHERE medication_id = $1 ORDER BY created_at ASC",
			medicationID)
	} else {
		rows, err = r.dbtx.Query(ctx,
			"SELECT "+prescriptionColumns+" FROM prescriptions WHERE medication_id = $1 AND path <@ $2::ltree ORDER BY created_at ASC",
			medicationID, actor.ScopePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list prescriptions: %w", err)
	}
	defer rows.Close()

	var list []domain.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prescriptions: %w", err)
	}
	return list, nil
}

// UpdatePartial applies COALESCE semantics.
func (r *prescriptionRepository) UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.PrescriptionPatch) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	_, err := r.dbtx.Exec(ctx, `
		UPDATE prescriptions SET
			quantity = COALESCE($2, quantity),
			refills_remaining = COALESCE($3, refills_remaining),
			status = COALESCE($4, status),
			updated_at = $5
		WHERE id = $1`,
		id, patch.Quantity, patch.RefillsRemaining, patch.Status, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update prescription: %w", err)
	}
	return nil
}

func (r *prescriptionRepository) scanAuthorized(ctx context.Context, row pgx.Row) (domain.Prescription, error) {
	p, err := scanPrescription(row)
	if err != nil {
		return domain.Prescription{}, err
	}
	if err := auth.Authorize(ctx, p.Path); err != nil {
		return domain.Prescription{}, err
	}
	return p, nil
}

func scanPrescription(row pgx.Row) (domain.Prescription, error) {
	var p domain.Prescription
	err := row.Scan(
		&p.ID, &p.MedicationID, &p.OrganizationID, &p.Quantity, &p.RefillsRemaining,
		&p.Status, &p.Path, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Prescription{}, domain.ErrNotFound
		}
		return domain.Prescription{}, fmt.Errorf("failed to scan prescription: %w", err)
	}
	return p, nil
}
