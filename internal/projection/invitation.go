package projection

import (
	"context"

	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/router"
)

// RegisterInvitationHandlers installs the onboarding transaction handlers.
func RegisterInvitationHandlers(r *router.Router) {
	r.Register(domain.StreamInvitation, domain.EventInvitationSent, handleInvitationSent)
	r.Register(domain.StreamInvitation, domain.EventInvitationAccepted, handleInvitationAccepted)
	r.Register(domain.StreamInvitation, domain.EventInvitationUserCreated, handleInvitationUserCreated)
	r.Register(domain.StreamInvitation, domain.EventInvitationRevoked, handleInvitationRevoked)
}

// handleInvitationSent anchors the onboarding transaction: the correlation
// id assigned to this event is persisted on the projection row so every
// later step reuses it instead of generating a fresh one.
func handleInvitationSent(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	orgID, err := payloadUUID(p, "organization_id")
	if err != nil {
		return err
	}
	email := p.String("email")
	if email == "" {
		return &domain.ValidationError{Field: "email", Message: "invitation email is required"}
	}
	path := p.String("path")
	if path == "" {
		org, err := repos.Organizations.GetByID(ctx, orgID)
		if err != nil {
			return err
		}
		path = org.Path
	}

	inv := domain.Invitation{
		ID:             evt.StreamID,
		OrganizationID: orgID,
		Email:          email,
		Status:         domain.InvitationStatusPending,
		CorrelationID:  evt.EventMetadata.CorrelationID,
		InvitedBy:      evt.EventMetadata.UserID,
		Path:           path,
		CreatedAt:      eventTime(evt),
		UpdatedAt:      eventTime(evt),
	}
	if err := repos.Invitations.InsertIfAbsent(ctx, inv); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamInvitation, inv.ID, "sent", map[string]any{"email": email})
}

func handleInvitationAccepted(ctx context.Context, repos repository.Set, evt domain.Event) error {
	at := eventTime(evt)
	if err := repos.Invitations.UpdateStatus(ctx, evt.StreamID, domain.InvitationStatusAccepted, &at); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamInvitation, evt.StreamID, "accepted", nil)
}

// handleInvitationUserCreated records the final step of the onboarding
// transaction. The invitation row itself is already accepted; the audit
// trail ties the created user back to the shared correlation id.
func handleInvitationUserCreated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	detail := map[string]any{"user_id": p.String("user_id")}
	return recordAudit(ctx, repos, evt, domain.StreamInvitation, evt.StreamID, "user_created", detail)
}

func handleInvitationRevoked(ctx context.Context, repos repository.Set, evt domain.Event) error {
	if err := repos.Invitations.UpdateStatus(ctx, evt.StreamID, domain.InvitationStatusRevoked, nil); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamInvitation, evt.StreamID, "revoked", nil)
}
