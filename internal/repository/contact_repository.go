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

// contactRepository implements ContactRepository over Postgres.
type contactRepository struct {
	dbtx db.DBTX
}

// NewContactRepository creates a new contact repository.
func NewContactRepository(dbtx db.DBTX) ContactRepository {
	return &contactRepository{dbtx: dbtx}
}

const contactColumns = "id, organization_id, kind, name, phone_number, email, address_line, city, postal_code, path, is_active, deleted_at, metadata, created_at, updated_at"

// InsertIfAbsent creates the contact projection row unless it exists.
func (r *contactRepository) InsertIfAbsent(ctx context.Context, c domain.Contact) error {
	if err := auth.Authorize(ctx, c.Path); err != nil {
		return err
	}
	metaJSON, err := marshalMetadata(c.Metadata)
	if err != nil {
		return err
	}
	_, err = r.dbtx.Exec(ctx, `
		INSERT INTO contacts (id, organization_id, kind, name, phone_number, email, address_line, city, postal_code, path, is_active, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT DO NOTHING`,
		c.ID, c.OrganizationID, c.Kind, c.Name, c.PhoneNumber, c.Email,
		c.AddressLine, c.City, c.PostalCode, c.Path, c.IsActive,
		metaJSON, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert contact: %w", err)
	}
	return nil
}

// GetByID retrieves a contact within the actor's scope.
func (r *contactRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Contact, error) {
	row := r.dbtx.QueryRow(ctx,
		"SELECT "+contactColumns+" FROM contacts WHERE id = $1", id)
	return r.scanAuthorized(ctx, row)
}

// List returns an organization's contacts contained in the actor's scope.
func (r *contactRepository) List(ctx context.Context, organizationID uuid.UUID) ([]domain.Contact, error) {
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
			"SELECT "+contactColumns+" FROM contacts WHERE organization_id = $1 ORDER BY name ASC",
			organizationID)
	} else {
		rows, err = r.dbtx.Query(ctx,
			"SELECT "+contactColumns+" FROM contacts WHERE organization_id = $1 AND path <@ $2::ltree ORDER BY name ASC",
			organizationID, actor.ScopePath)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	var contacts []domain.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contacts: %w", err)
	}
	return contacts, nil
}

// UpdatePartial applies COALESCE semantics.
func (r *contactRepository) UpdatePartial(ctx context.Context, id uuid.UUID, patch domain.ContactPatch) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	metaJSON, err := marshalMetadata(patch.Metadata)
	if err != nil {
		return err
	}
	_, err = r.dbtx.Exec(ctx, `
		UPDATE contacts SET
			name = COALESCE($2, name),
			phone_number = COALESCE($3, phone_number),
			email = COALESCE($4, email),
			address_line = COALESCE($5, address_line),
			city = COALESCE($6, city),
			postal_code = COALESCE($7, postal_code),
			metadata = metadata || $8,
			updated_at = $9
		WHERE id = $1`,
		id, patch.Name, patch.PhoneNumber, patch.Email, patch.AddressLine,
		patch.City, patch.PostalCode, metaJSON, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	return nil
}

// SetActive flips the activation flag.
func (r *contactRepository) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	_, err := r.dbtx.Exec(ctx,
		"UPDATE contacts SET is_active = $2, updated_at = $3 WHERE id = $1",
		id, active, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set contact active flag: %w", err)
	}
	return nil
}

// SoftDelete marks the row deleted.
func (r *contactRepository) SoftDelete(ctx context.Context, id uuid.UUID, at time.Time) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	_, err := r.dbtx.Exec(ctx,
		"UPDATE contacts SET deleted_at = $2, is_active = FALSE, updated_at = $2 WHERE id = $1",
		id, at)
	if err != nil {
		return fmt.Errorf("failed to soft delete contact: %w", err)
	}
	return nil
}

func (r *contactRepository) scanAuthorized(ctx context.Context, row pgx.Row) (domain.Contact, error) {
	c, err := scanContact(row)
	if err != nil {
		return domain.Contact{}, err
	}
	if err := auth.Authorize(ctx, c.Path); err != nil {
		return domain.Contact{}, err
	}
	return c, nil
}

func scanContact(row pgx.Row) (domain.Contact, error) {
	var (
		c        domain.Contact
		metaJSON []byte
	)
	err := row.Scan(
		&c.ID, &c.OrganizationID, &c.Kind, &c.Name, &c.PhoneNumber, &c.Email,
		&c.AddressLine, &c.City, &c.PostalCode, &c.Path, &c.IsActive,
		&c.DeletedAt, &metaJSON, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Contact{}, domain.ErrNotFound
		}
		return domain.Contact{}, fmt.Errorf("failed to scan contact: %w", err)
	}
	if err := unmarshalMetadata(metaJSON, &c.Metadata); err != nil {
		return domain.Contact{}, fmt.Errorf("failed to decode contact metadata for %s: %w", c.ID, err)
	}
	return c, nil
}
