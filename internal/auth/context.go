package auth

import (
	"context"

	"github.com/carebridge/carebridge/internal/domain"
)

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a new context carrying the authenticated actor identity.
func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, actorKey, actor)
}

// ActorFromContext retrieves the authenticated actor from the context, if any.
func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	if ctx == nil {
		return domain.Actor{}, false
	}
	value := ctx.Value(actorKey)
	if value == nil {
		return domain.Actor{}, false
	}
	actor, ok := value.(domain.Actor)
	if !ok {
		return domain.Actor{}, false
	}
	if actor.UserID == "" {
		return domain.Actor{}, false
	}
	return actor, true
}

// SystemActor is the identity used for internal administrative operations
// such as replay. It bypasses containment checks like any super admin.
func SystemActor() domain.Actor {
	return domain.Actor{UserID: "system", IsSuperAdmin: true}
}
