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

// organizationUnitRepository implements OrganizationUnitRepository over
// Postgres. Hierarchy queries use ltree containment rather than recursive
// joins.
type organizationUnitRepository struct {
	dbtx db.DBTX
}

// NewOrganizationUnitRepository creates a new organization unit repository.
func NewOrganizationUnitRepository(dbtx db.DBTX) OrganizationUnitRepository {
	return &organizationUnitRepository{dbtx: dbtx}
}

const unitColumns = "id, organization_id, slug, name, path, parent_path, is_active, deleted_at, metadata, created_at, updated_at"

// InsertIfAbsent creates the projection row unless it already exists.
// Units always live below an organization root, so the sub-unit write
// predicate applies.
func (r *organizationUnitRepository) InsertIfAbsent(ctx context.Context, unit domain.OrganizationUnit) error {
	if err := auth.AuthorizeSubUnitWrite(ctx, unit.Path); err != nil {
		return err
	}
	metaJSON, err := marshalMetadata(unit.Metadata)
	if err != nil {
		return err
	}
	_, err = r.dbtx.Exec(ctx, `
		INSERT INTO organization_units (id, organization_id, slug, name, path, parent_path, is_active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT DO NOTHING`,
		unit.ID, unit.OrganizationID, unit.Slug, unit.Name, unit.Path, unit.ParentPath,
		unit.IsActive, metaJSON, unit.CreatedAt, unit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert organization unit: %w", err)
	}
	return nil
}

// GetByID retrieves a unit within the actor's scope.
func (r *organizationUnitRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.OrganizationUnit, error) {
	row := r.dbtx.QueryRow(ctx,
		"SELECT "+unitColumns+" FROM organization_units WHERE id = $1", id)
	return r.scanAuthorized(ctx, row)
}

// GetBySlug retrieves a unit by its natural key within one organization.
func (r *organizationUnitRepository) GetBySlug(ctx context.Context, organizationID uuid.UUID, slug string) (domain.OrganizationUnit, error) {
	row := r.dbtx.QueryRow(ctx,
		"SELECT "+unitColumns+" FROM organization_units WHERE organization_id = $1 AND slug = $2",
		organizationID, slug)
	return r.scanAuthorized(ctx, row)
}

// List returns an organization's units contained in the actor's scope.
func (r *organizationUnitRepository) List(ctx context.Context, organizationID uuid.UUID) ([]domain.OrganizationUnit, error) {
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
			"SELECT "+unitColumns+" FROM organization_units WHERE organization_id = $1 ORDER BY path ASC",
			organizationID)
	} else {
		rows, err = r.dbtx.Query(ctx,
			"SELECT "+unitColumns+" FROM organization_units WHERE organization_id = $1 AND path <@ $2::ltree ORDER BY path ASC",
			organizationID, actor.ScopePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list organization units: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// ListActiveDescendants returns the live set of active units strictly below
// the given path. Cascade handlers re-query this at processing time; any
// descendant snapshot carried in an event payload is for audit display only.
func (r *organizationUnitRepository) ListActiveDescendants(ctx context.Context, path string) ([]domain.OrganizationUnit, error) {
	if err := auth.Authorize(ctx, path); err != nil {
		return nil, err
	}
	rows, err := r.dbtx.Query(ctx, `
		SELECT `+unitColumns+` FROM organization_units
		WHERE path <@ $1::ltree AND path <> $1::ltree AND is_active = TRUE AND deleted_at IS NULL
		ORDER BY path ASC`,
		path)
	if err != nil {
		return nil, fmt.Errorf("failed to list active descendants: %w", err)
	}
	defer rows.Close()
	return scanUnits(rows)
}

// UpdatePartial applies COALESCE semantics.
func (r *organizationUnitRepository) UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.OrganizationUnitPatch) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	metaJSON, err := marshalMetadata(patch.Metadata)
	if err != nil {
		return err
	}
	_, err = r.dbtx.Exec(ctx, `
		UPDATE organization_units SET
			name = COALESCE($2, name),
			metadata = metadata || $3,
			updated_at = $4
		WHERE id = $1`,
		id, patch.Name, metaJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update organization unit: %w", err)
	}
	return nil
}

// SetActive flips the activation flag on a single unit. Cascade fan-out is
// the handler's responsibility, not the repository's.
func (r *organizationUnitRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	_, err := r.dbtx.Exec(ctx,
		"UPDATE organization_units SET is_active = $2, updated_at = $3 WHERE id = $1",
		id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set organization unit active flag: %w", err)
	}
	return nil
}

// SoftDelete marks the row deleted.
func (r *organizationUnitRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	_, err := r.dbtx.Exec(ctx,
		"UPDATE organization_units SET deleted_at = $2, is_active = FALSE, updated_at = $2 WHERE id = $1",
		id, at)
	if err != nil {
		return fmt.Errorf("failed to soft delete organization unit: %w", err)
	}
	return nil
}

func (r *organizationUnitRepository) scanAuthorized(ctx context.Context, row pgx.Row) (domain.OrganizationUnit, error) {
	unit, err := scanUnit(row)
	if err != nil {
		return domain.OrganizationUnit{}, err
	}
	if err := auth.Authorize(ctx, unit.Path); err != nil {
		return domain.OrganizationUnit{}, err
	}
	return unit, nil
}

func scanUnit(row pgx.Row) (domain.OrganizationUnit, error) {
	var (
		unit     domain.OrganizationUnit
		metaJSON []byte
	)
	err := row.Scan(
		&unit.ID, &unit.OrganizationID, &unit.Slug, &unit.Name, &unit.Path, &unit.ParentPath,
		&unit.IsActive, &unit.DeletedAt, &metaJSON, &unit.CreatedAt, &unit.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OrganizationUnit{}, domain.ErrNotFound
		}
		return domain.OrganizationUnit{}, fmt.Errorf("failed to scan organization unit: %w", err)
	}
	if err := unmarshalMetadata(metaJSON, &unit.Metadata); err != nil {
		return domain.OrganizationUnit{}, fmt.Errorf("failed to decode unit metadata for %s: %w", unit.ID, err)
	}
	return unit, nil
}

func scanUnits(rows pgx.Rows) ([]domain.OrganizationUnit, error) {
	var units []domain.OrganizationUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organization units: %w", err)
	}
	return units, nil
}
