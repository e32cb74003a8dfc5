package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/domain"
)

func TestActorMiddleware_ExtractsHeaders(t *testing.T) {
	var got domain.Actor
	var ok bool
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = auth.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	req.Header.Set(HeaderUserID, "user-7")
	req.Header.Set(HeaderScopePath, "acme.cardiology")
	req.Header.Set(HeaderSuperAdmin, "true")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !ok {
		t.Fatal("actor must be present in context")
	}
	if got.UserID != "user-7" || got.ScopePath != "acme.cardiology" || !got.IsSuperAdmin {
		t.Fatalf("unexpected actor: %+v", got)
	}
}

func TestActorMiddleware_AnonymousPassesThrough(t *testing.T) {
	var ok bool
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok = auth.ActorFromContext(r.Context())
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/events", nil))

	if ok {
		t.Fatal("request without identity headers must stay anonymous")
	}
}
