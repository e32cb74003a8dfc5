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

// medicationRepository implements MedicationRepository over Postgres.
type medicationRepository struct {
	dbtx db.DBTX
}

// NewMedicationRepository creates a new medication repository.
func NewMedicationRepository(dbtx db.DBTX) MedicationRepository {
	return &medicationRepository{dbtx: dbtx}
}

const medicationColumns = "id, organization_id, reference, patient_name, medication_name, dosage, prescriber_name, status, discontinue_reason, path, metadata, created_at, updated_at"

// InsertIfAbsent creates the medication record unless one already exists.
// The unique constraint on (organization_id, reference) makes duplicate
// prescribed events converge on the first row.
func (r *medicationRepository) InsertIfAbsent(ctx context.Context, med domain.Medication) error {
	if err := auth.Authorize(ctx, med.Path); err != nil {
		return err
	}
	metaJSON, err := marshalMetadata(med.Metadata)
	if err != nil {
		return err
	}
	_, err = r.dbtx.Exec(ctx, `
		INSERT INTO medications (id, organization_id, reference, patient_name, medication_name, dosage, prescriber_name, status, discontinue_reason, path, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT DO NOTHING`,
		med.ID, med.OrganizationID, med.Reference, med.PatientName, med.MedicationName,
		med.Dosage, med.PrescriberName, med.Status, med.DiscontinueReason, med.Path,
		metaJSON, med.CreatedAt, med.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert medication: %w", err)
	}
	return nil
}

// GetByID retrieves a medication record within the actor's scope.
func (r *medicationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Medication, error) {
	row := r.dbtx.QueryRow(ctx,
		"SELECT "+medicationColumns+" FROM medications WHERE id = $1", id)
	return r.scanAuthorized(ctx, row)
}

// GetByReference retrieves a medication record by its natural key.
func (r *medicationRepository) GetByReference(ctx context.Context, organizationID uuid.UUID, reference string) (domain.Medication, error) {
	row := r.dbtx.QueryRow(ctx,
		"SELECT "+medicationColumns+" FROM medications WHERE organization_id = $1 AND reference = $2",
		organizationID, reference)
	return r.scanAuthorized(ctx, row)
}

// List returns an organization's medication records contained in the
// actor's scope.
func (r *medicationRepository) List(ctx context.Context, organizationID uuid.UUID) ([]domain.Medication, error) {
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
			"SELECT "+medicationColumns+" FROM medications WHERE organization_id = $1 ORDER BY reference ASC",
			organizationID)
	} else {
		rows, err = r.dbtx.Query(ctx,
			"SELECT "+medicationColumns+" FROM medications WHERE organization_id = $1 AND path <@ $2::ltree ORDER BY reference ASC",
			organizationID, actor.ScopePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list medications: %w", err)
	}
	defer rows.Close()

	var meds []domain.Medication
	for rows.Next() {
		med, err := scanMedication(rows)
		if err != nil {
			return nil, err
		}
		meds = append(meds, med)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate medications: %w", err)
	}
	return meds, nil
}

// UpdatePartial applies COALESCE semantics so a thin update payload never
// blanks unrelated columns.
func (r *medicationRepository) UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.MedicationPatch) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	metaJSON, err := marshalMetadata(patch.Metadata)
	if err != nil {
		return err
	}
	_, err = r.dbtx.Exec(ctx, `
		UPDATE medications SET
			patient_name = COALESCE($2, patient_name),
			medication_name = COALESCE($3, medication_name),
			dosage = COALESCE($4, dosage),
			prescriber_name = COALESCE($5, prescriber_name),
			status = COALESCE($6, status),
			discontinue_reason = COALESCE($7, discontinue_reason),
			metadata = metadata || $8,
			updated_at = $9
		WHERE id = $1`,
		id, patch.PatientName, patch.MedicationName, patch.Dosage, patch.PrescriberName,
		patch.Status, patch.DiscontinueReason, metaJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update medication: %w", err)
	}
	return nil
}

func (r *medicationRepository) scanAuthorized(ctx context.Context, row pgx.Row) (domain.Medication, error) {
	med, err := scanMedication(row)
	if err != nil {
		return domain.Medication{}, err
	}
	if err := auth.Authorize(ctx, med.Path); err != nil {
		return domain.Medication{}, err
	}
	return med, nil
}

func scanMedication(row pgx.Row) (domain.Medication, error) {
	var (
		med      domain.Medication
		metaJSON []byte
	)
	err := row.Scan(
		&med.ID, &med.OrganizationID, &med.Reference, &med.PatientName, &med.MedicationName,
		&med.Dosage, &med.PrescriberName, &med.Status, &med.DiscontinueReason, &med.Path,
		&metaJSON, &med.CreatedAt, &med.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Medication{}, domain.ErrNotFound
		}
		return domain.Medication{}, fmt.Errorf("failed to scan medication: %w", err)
	}
	if err := unmarshalMetadata(metaJSON, &med.Metadata); err != nil {
		return domain.Medication{}, fmt.Errorf("failed to decode medication metadata for %s: %w", med.ID, err)
	}
	return med, nil
}
