package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/carebridge/carebridge/internal/domain"
)

func TestAuthorizeActor_Containment(t *testing.T) {
	actor := domain.Actor{UserID: "u1", ScopePath: "acme"}

	if err := AuthorizeActor(actor, "acme"); err != nil {
		t.Fatalf("scope should contain itself: %v", err)
	}
	if err := AuthorizeActor(actor, "acme.cardiology.ward1"); err != nil {
		t.Fatalf("scope should contain descendant: %v", err)
	}

	err := AuthorizeActor(actor, "beta.cardiology")
	var authErr *domain.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
}

func TestAuthorizeActor_SuperAdminBypass(t *testing.T) {
	actor := domain.Actor{UserID: "root", IsSuperAdmin: true}
	if err := AuthorizeActor(actor, "anything.at.all"); err != nil {
		t.Fatalf("super admin must bypass containment: %v", err)
	}
}

func TestAuthorizeActor_PrefixIsNotContainment(t *testing.T) {
	actor := domain.Actor{UserID: "u1", ScopePath: "acme"}
	if err := AuthorizeActor(actor, "acmeville"); err == nil {
		t.Fatalf("label prefix must not count as containment")
	}
}

func TestAuthorize_MissingActor(t *testing.T) {
	err := Authorize(context.Background(), "acme")
	var authErr *domain.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError for missing actor, got %v", err)
	}
}

func TestAuthorizeSubUnitWrite_RejectsRootPath(t *testing.T) {
	ctx := WithActor(context.Background(), domain.Actor{UserID: "root", IsSuperAdmin: true})
	if err := AuthorizeSubUnitWrite(ctx, "acme"); err == nil {
		t.Fatalf("root-level path must be rejected from sub-unit writes")
	}
	if err := AuthorizeSubUnitWrite(ctx, "acme.cardiology"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestActorRoundTrip(t *testing.T) {
	ctx := WithActor(context.Background(), domain.Actor{UserID: "u1", ScopePath: "acme"})
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.UserID != "u1" {
		t.Fatalf("actor did not round-trip: %+v ok=%v", actor, ok)
	}
	if _, ok := ActorFromContext(context.Background()); ok {
		t.Fatalf("empty context must not yield an actor")
	}
}
