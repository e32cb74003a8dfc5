package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/db"
	"github.com/carebridge/carebridge/internal/domain"
)

// organizationRepository implements OrganizationRepository over Postgres.
type organizationRepository struct {
	dbtx db.DBTX
}

// NewOrganizationRepository creates a new organization repository.
func NewOrganizationRepository(dbtx db.DBTX) OrganizationRepository {
	return &organizationRepository{dbtx: dbtx}
}

const organizationColumns = "id, slug, name, path, is_active, deleted_at, metadata, created_at, updated_at"

// InsertIfAbsent creates the projection row unless it already exists, so
// duplicate delivery of a creation event is a no-op.
func (r *organizationRepository) InsertIfAbsent(ctx context.Context, org domain.Organization) error {
	if err := auth.Authorize(ctx, org.Path); err != nil {
		return err
	}
	metaJSON, err := marshalMetadata(org.Metadata)
	if err != nil {
		return err
	}
	_, err = r.dbtx.Exec(ctx, `
		INSERT INTO organizations (id, slug, name, path, is_active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT DO NOTHING`,
		org.ID, org.Slug, org.Name, org.Path, org.IsActive, metaJSON, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert organization: %w", err)
	}
	return nil
}

// GetByID retrieves an organization within the actor's scope.
func (r *organizationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Organization, error) {
	row := r.dbtx.QueryRow(ctx,
		"SELECT "+organizationColumns+" FROM organizations WHERE id = $1", id)
	return r.scanAuthorized(ctx, row)
}

// GetBySlug retrieves an organization by its natural key.
func (r *organizationRepository) GetBySlug(ctx context.Context, slug string) (domain.Organization, error) {
	row := r.dbtx.QueryRow(ctx,
		"SELECT "+organizationColumns+" FROM organizations WHERE slug = $1", slug)
	return r.scanAuthorized(ctx, row)
}

// List returns the organizations contained in the actor's scope.
func (r *organizationRepository) List(ctx context.Context) ([]domain.Organization, error) {
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
			"SELECT "+organizationColumns+" FROM organizations ORDER BY slug ASC")
	} else {
		rows, err = r.dbtx.Query(ctx,
			"SELECT "+organizationColumns+" FROM organizations WHERE path <@ $1::ltree ORDER BY slug ASC",
			actor.ScopePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var orgs []domain.Organization
	for rows.Next() {
		org, err := scanOrganization(rows)
		if err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate organizations: %w", err)
	}
	return orgs, nil
}

// UpdatePartial applies COALESCE semantics: nil patch fields keep existing
// values and metadata is merged, never replaced.
func (r *organizationRepository) UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.OrganizationPatch) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	metaJSON, err := marshalMetadata(patch.Metadata)
	if err != nil {
		return err
	}
	_, err = r.dbtx.Exec(ctx, `
		UPDATE organizations SET
			name = COALESCE($2, name),
			metadata = metadata || $3,
			updated_at = $4
		WHERE id = $1`,
		id, patch.Name, metaJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	return nil
}

// SetActive flips the activation flag.
func (r *organizationRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	_, err := r.dbtx.Exec(ctx,
		"UPDATE organizations SET is_active = $2, updated_at = $3 WHERE id = $1",
		id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set organization active flag: %w", err)
	}
	return nil
}

// SoftDelete marks the row deleted. Projection rows are never physically
// removed.
func (r *organizationRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	_, err := r.dbtx.Exec(ctx,
		"UPDATE organizations SET deleted_at = $2, is_active = FALSE, updated_at = $2 WHERE id = $1",
		id, at)
	if err != nil {
		return fmt.Errorf("failed to soft delete organization: %w", err)
	}
	return nil
}

func (r *organizationRepository) scanAuthorized(ctx context.Context, row pgx.Row) (domain.Organization, error) {
	org, err := scanOrganization(row)
	if err != nil {
		return domain.Organization{}, err
	}
	if err := auth.Authorize(ctx, org.Path); err != nil {
		return domain.Organization{}, err
	}
	return org, nil
}

func scanOrganization(row pgx.Row) (domain.Organization, error) {
	var (
		org      domain.Organization
		metaJSON []byte
	)
	err := row.Scan(
		&org.ID, &org.Slug, &org.Name, &org.Path, &org.IsActive,
		&org.DeletedAt, &metaJSON, &org.CreatedAt, &org.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Organization{}, domain.ErrNotFound
		}
		return domain.Organization{}, fmt.Errorf("failed to scan organization: %w", err)
	}
	if err := unmarshalMetadata(metaJSON, &org.Metadata); err != nil {
		return domain.Organization{}, fmt.Errorf("failed to decode organization metadata for %s: %w", org.ID, err)
	}
	return org, nil
}

func marshalMetadata(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte, out *map[string]any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
