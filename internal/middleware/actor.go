package middleware

import (
	"net/http"
	"strings"

	"github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/domain"
)

// Identity headers set by the upstream gateway after token verification.
const (
	HeaderUserID     = "X-User-ID"
	HeaderScopePath  = "X-Scope-Path"
	HeaderSuperAdmin = "X-Super-Admin"
)

// ActorMiddleware reads the gateway identity headers and attaches the
// resulting actor to the request context. Requests without an X-User-ID
// header pass through unauthenticated; the authorization layer rejects
// them when they reach a scoped operation.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}

		actor := domain.Actor{
			UserID:       userID,
			ScopePath:    strings.TrimSpace(r.Header.Get(HeaderScopePath)),
			IsSuperAdmin: strings.EqualFold(r.Header.Get(HeaderSuperAdmin), "true"),
		}
		ctx := auth.WithActor(r.Context(), actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
