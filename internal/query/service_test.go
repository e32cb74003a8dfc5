package query

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/emitter"
	"github.com/carebridge/carebridge/internal/projection"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/router"
)

func newTestQuery(t *testing.T) (*Service, *emitter.Service, context.Context) {
	t.Helper()
	store := repository.NewMemoryStore()
	r := router.New()
	projection.RegisterAll(r)
	runner := &repository.MemoryRunner{Store: store}
	em := emitter.NewService(runner, store.Set, r)
	ctx := auth.WithActor(context.Background(), auth.SystemActor())
	return NewService(runner, store.Set), em, ctx
}

func createOrg(t *testing.T, em *emitter.Service, ctx context.Context, slug string) uuid.UUID {
	t.Helper()
	id := uuid.New()
	if _, err := em.Emit(ctx, emitter.EmitRequest{
		StreamID:   id,
		StreamType: domain.StreamOrganization,
		EventType:  domain.EventOrganizationCreated,
		EventData:  map[string]any{"slug": slug, "name": slug},
	}); err != nil {
		t.Fatalf("create organization %s: %v", slug, err)
	}
	return id
}

func TestListOrganizations_ScopedToActor(t *testing.T) {
	service, em, ctx := newTestQuery(t)
	acmeID := createOrg(t, em, ctx, "acme")
	createOrg(t, em, ctx, "mercy")

	scoped := auth.WithActor(context.Background(), domain.Actor{UserID: "user-1", ScopePath: "acme"})
	orgs, err := service.ListOrganizations(scoped)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orgs) != 1 || orgs[0].ID != acmeID {
		t.Fatalf("scoped actor must only see its own tenant: %+v", orgs)
	}
}

func TestGetOrganization_OutOfScopeRejected(t *testing.T) {
	service, em, ctx := newTestQuery(t)
	mercyID := createOrg(t, em, ctx, "mercy")

	scoped := auth.WithActor(context.Background(), domain.Actor{UserID: "user-1", ScopePath: "acme"})
	_, err := service.GetOrganization(scoped, mercyID)
	var authErr *domain.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected authorization error, got %v", err)
	}
}

func TestListPrescriptions_OrderedByCreation(t *testing.T) {
	service, em, ctx := newTestQuery(t)
	orgID := createOrg(t, em, ctx, "acme")

	medID := uuid.New()
	if _, err := em.Emit(ctx, emitter.EmitRequest{
		StreamID:   medID,
		StreamType: domain.StreamMedication,
		EventType:  domain.EventMedicationPrescribed,
		EventData: map[string]any{
			"organization_id": orgID.String(),
			"reference":       "rx-1",
			"patient_name":    "Jordan Lee",
			"medication_name": "Lisinopril",
			"path":            "acme",
		},
	}); err != nil {
		t.Fatalf("prescribe: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := em.Emit(ctx, emitter.EmitRequest{
			StreamID:   uuid.New(),
			StreamType: domain.StreamPrescription,
			EventType:  domain.EventPrescriptionWritten,
			EventData: map[string]any{
				"medication_id":   medID.String(),
				"organization_id": orgID.String(),
				"quantity":        30,
			},
		}); err != nil {
			t.Fatalf("write prescription %d: %v", i, err)
		}
	}

	scripts, err := service.ListPrescriptions(ctx, medID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(scripts) != 2 {
		t.Fatalf("expected two prescriptions, got %d", len(scripts))
	}
	if scripts[0].CreatedAt.After(scripts[1].CreatedAt) {
		t.Fatalf("prescriptions must be ordered oldest first")
	}
}
