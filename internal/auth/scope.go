package auth

import (
	"context"

	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/pkg/hierarchy"
)

// The containment predicate below is the tenant isolation layer. It is
// re-evaluated on every read and write of a tenant-scoped row inside the
// repositories, so a bug in a caller cannot leak cross-tenant data.

// Authorize checks that the acting identity's scope path contains the
// entity path. Super admins bypass the check.
func Authorize(ctx context.Context, path string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return &domain.AuthorizationError{Path: path, Reason: "no actor on context"}
	}
	return AuthorizeActor(actor, path)
}

// AuthorizeActor is the containment predicate itself: actor.ScopePath must
// be an ancestor of, or equal to, the entity path.
func AuthorizeActor(actor domain.Actor, path string) error {
	if actor.IsSuperAdmin {
		return nil
	}
	if actor.ScopePath == "" {
		return &domain.AuthorizationError{UserID: actor.UserID, Path: path, Reason: "actor has no scope path"}
	}
	if !hierarchy.Contains(actor.ScopePath, path) {
		return &domain.AuthorizationError{UserID: actor.UserID, Path: path}
	}
	return nil
}

// RequireSuperAdmin guards surfaces that are cross-tenant by construction,
// such as the failed-event backlog and correlation-wide ledger reads.
func RequireSuperAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return &domain.AuthorizationError{Reason: "no actor on context"}
	}
	if !actor.IsSuperAdmin {
		return &domain.AuthorizationError{UserID: actor.UserID, Reason: "super admin required"}
	}
	return nil
}

// AuthorizeSubUnitWrite guards mutation paths that only accept sub-unit
// entities: root-level paths are rejected outright, and the resulting path
// must stay inside the actor's scope.
func AuthorizeSubUnitWrite(ctx context.Context, path string) error {
	if hierarchy.Depth(path) < 2 {
		actor, _ := ActorFromContext(ctx)
		return &domain.AuthorizationError{
			UserID: actor.UserID,
			Path:   path,
			Reason: "root-level entities are not accepted here",
		}
	}
	return Authorize(ctx, path)
}
