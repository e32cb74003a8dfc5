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

// invitationRepository implements InvitationRepository over Postgres.
type invitationRepository struct {
	dbtx db.DBTX
}

// NewInvitationRepository creates a new invitation repository.
func NewInvitationRepository(dbtx db.DBTX) InvitationRepository {
	return &invitationRepository{dbtx: dbtx}
}

const invitationColumns = "id, organization_id, email, status, correlation_id, invited_by, path, accepted_at, created_at, updated_at"

// InsertIfAbsent stores the invitation and its anchoring correlation id.
// Later steps of the same onboarding transaction read the correlation id
// back from this row instead of generating a new one.
func (r *invitationRepository) InsertIfAbsent(ctx context.Context, inv domain.Invitation) error {
	if err := auth.Authorize(ctx, inv.Path); err != nil {
		return err
	}
	_, err := r.dbtx.Exec(ctx, `
		INSERT INTO invitations (id, organization_id, email, status, correlation_id, invited_by, path, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		inv.ID, inv.OrganizationID, inv.Email, inv.Status, inv.CorrelationID,
		inv.InvitedBy, inv.Path, inv.CreatedAt, inv.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert invitation: %w", err)
	}
	return nil
}

// GetByID retrieves an invitation within the actor's scope.
func (r *invitationRepository) GetByID(ctx context.Context, id uuid.UUID) (domain.Invitation, error) {
	row := r.dbtx.QueryRow(ctx,
		"SELECT "+invitationColumns+" FROM invitations WHERE id = $1", id)
	return r.scanAuthorized(ctx, row)
}

// GetByEmail retrieves the most recent invitation for an email within one
// organization.
func (r *invitationRepository) GetByEmail(ctx context.Context, organizationID uuid.UUID, email string) (domain.Invitation, error) {
	row := r.dbtx.QueryRow(ctx, `
		SELECT `+invitationColumns+` FROM invitations
		WHERE organization_id = $1 AND email = $2
		ORDER BY created_at DESC LIMIT 1`,
		organizationID, email)
	return r.scanAuthorized(ctx, row)
}

// UpdateStatus moves the invitation through its lifecycle. The correlation
// id column is deliberately untouched.
func (r *invitationRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status string, acceptedAt *time.Time) error {
	if _, err := r.GetByID(ctx, id); err != nil {
		return err
	}
	_, err := r.dbtx.Exec(ctx, `
		UPDATE invitations SET
			status = $2,
			accepted_at = COALESCE($3, accepted_at),
			updated_at = $4
		WHERE id = $1`,
		id, status, acceptedAt, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update invitation status: %w", err)
	}
	return nil
}

func (r *invitationRepository) scanAuthorized(ctx context.Context, row pgx.Row) (domain.Invitation, error) {
	inv, err := scanInvitation(row)
	if err != nil {
		return domain.Invitation{}, err
	}
	if err := auth.Authorize(ctx, inv.Path); err != nil {
		return domain.Invitation{}, err
	}
	return inv, nil
}

func scanInvitation(row pgx.Row) (domain.Invitation, error) {
	var inv domain.Invitation
	err := row.Scan(
		&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Status, &inv.CorrelationID,
		&inv.InvitedBy, &inv.Path, &inv.AcceptedAt, &inv.CreatedAt, &inv.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Invitation{}, domain.ErrNotFound
		}
		return domain.Invitation{}, fmt.Errorf("failed to scan invitation: %w", err)
	}
	return inv, nil
}
