package projection

import (
	"testing"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/domain"
)

func TestInvitationSent_StoresAnchorCorrelation(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	orgID := uuid.New()
	createOrganization(t, r, repos, ctx, orgID, "acme")

	invID := uuid.New()
	evt := makeEvent(invID, domain.StreamInvitation, domain.EventInvitationSent, map[string]any{
		"organization_id": orgID.String(),
		"email":           "nurse@example.org",
	})
	evt.EventMetadata.CorrelationID = "onboarding-77"
	if err := r.Dispatch(ctx, repos, evt); err != nil {
		t.Fatalf("sent: %v", err)
	}

	inv, err := repos.Invitations.GetByID(ctx, invID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if inv.CorrelationID != "onboarding-77" {
		t.Fatalf("anchor correlation not stored: %q", inv.CorrelationID)
	}
	if inv.Status != domain.InvitationStatusPending {
		t.Fatalf("status: %q", inv.Status)
	}
	if inv.Path != "acme" {
		t.Fatalf("path must default to the organization root, got %q", inv.Path)
	}
}

func TestInvitationAccepted_SetsStatusAndTimestamp(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	orgID := uuid.New()
	createOrganization(t, r, repos, ctx, orgID, "acme")

	invID := uuid.New()
	sent := makeEvent(invID, domain.StreamInvitation, domain.EventInvitationSent, map[string]any{
		"organization_id": orgID.String(),
		"email":           "nurse@example.org",
	})
	if err := r.Dispatch(ctx, repos, sent); err != nil {
		t.Fatalf("sent: %v", err)
	}

	accepted := makeEvent(invID, domain.StreamInvitation, domain.EventInvitationAccepted, map[string]any{})
	if err := r.Dispatch(ctx, repos, accepted); err != nil {
		t.Fatalf("accepted: %v", err)
	}

	inv, err := repos.Invitations.GetByID(ctx, invID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if inv.Status != domain.InvitationStatusAccepted {
		t.Fatalf("status: %q", inv.Status)
	}
	if inv.AcceptedAt == nil {
		t.Fatalf("accepted_at must be set")
	}
}
