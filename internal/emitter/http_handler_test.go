package emitter

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/domain"
)

func TestHTTPListStream_WithoutActorForbidden(t *testing.T) {
	service, _, _, ctx := newTestService(t)
	orgID := uuid.New()
	mustEmit(t, service, ctx, createOrgRequest(orgID, "acme"))

	handler := NewHTTPHandler(service)
	req := httptest.NewRequest(http.MethodGet,
		"/events?stream_id="+orgID.String()+"&stream_type="+domain.StreamOrganization, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("ledger read without an actor must be forbidden, got %d", rec.Code)
	}
}

func TestHTTPGetEvent_WithoutActorForbidden(t *testing.T) {
	service, _, _, ctx := newTestService(t)
	evt := mustEmit(t, service, ctx, createOrgRequest(uuid.New(), "acme"))

	handler := NewHTTPHandler(service)
	req := httptest.NewRequest(http.MethodGet, "/events/"+evt.ID.String(), nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("event read without an actor must be forbidden, got %d", rec.Code)
	}
}
