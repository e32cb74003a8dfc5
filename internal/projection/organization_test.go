package projection

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/router"
)

func newTestRouter(t *testing.T) (*router.Router, repository.Set, context.Context) {
	t.Helper()
	r := router.New()
	RegisterAll(r)
	store := repository.NewMemoryStore()
	ctx := auth.WithActor(context.Background(), auth.SystemActor())
	return r, store.Set(nil), ctx
}

func makeEvent(streamID uuid.UUID, streamType, eventType string, data map[string]any) domain.Event {
	return domain.Event{
		ID:            uuid.New(),
		StreamID:      streamID,
		StreamType:    streamType,
		EventType:     eventType,
		EventData:     data,
		EventMetadata: domain.Metadata{CorrelationID: "corr-1", UserID: "tester"},
		CreatedAt:     time.Now().UTC(),
	}
}

func createOrganization(t *testing.T, r *router.Router, repos repository.Set, ctx context.Context, orgID uuid.UUID, slug string) domain.Organization {
	t.Helper()
	evt := makeEvent(orgID, domain.StreamOrganization, domain.EventOrganizationCreated,
		map[string]any{"slug": slug, "name": slug})
	if err := r.Dispatch(ctx, repos, evt); err != nil {
		t.Fatalf("create organization: %v", err)
	}
	org, err := repos.Organizations.GetByID(ctx, orgID)
	if err != nil {
		t.Fatalf("read organization: %v", err)
	}
	return org
}

func createUnit(t *testing.T, r *router.Router, repos repository.Set, ctx context.Context, orgID, unitID uuid.UUID, slug, parentPath string) domain.OrganizationUnit {
	t.Helper()
	data := map[string]any{"organization_id": orgID.String(), "slug": slug, "name": slug}
	if parentPath != "" {
		data["parent_path"] = parentPath
	}
	evt := makeEvent(unitID, domain.StreamOrganizationUnit, domain.EventOrganizationUnitCreated, data)
	if err := r.Dispatch(ctx, repos, evt); err != nil {
		t.Fatalf("create unit %s: %v", slug, err)
	}
	unit, err := repos.Units.GetByID(ctx, unitID)
	if err != nil {
		t.Fatalf("read unit %s: %v", slug, err)
	}
	return unit
}

func TestOrganizationCreated_Idempotent(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	orgID := uuid.New()
	evt := makeEvent(orgID, domain.StreamOrganization, domain.EventOrganizationCreated,
		map[string]any{"slug": "acme", "name": "Acme Health"})

	if err := r.Dispatch(ctx, repos, evt); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := r.Dispatch(ctx, repos, evt); err != nil {
		t.Fatalf("redelivery must be a no-op: %v", err)
	}

	orgs, err := repos.Organizations.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orgs) != 1 {
		t.Fatalf("expected exactly one organization, got %d", len(orgs))
	}
	if orgs[0].Name != "Acme Health" || orgs[0].Path != "acme" {
		t.Fatalf("unexpected projection row: %+v", orgs[0])
	}
}

func TestOrganizationUpdated_PartialPatch(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	orgID := uuid.New()
	createOrganization(t, r, repos, ctx, orgID, "acme")

	evt := makeEvent(orgID, domain.StreamOrganization, domain.EventOrganizationUpdated,
		map[string]any{"metadata": map[string]any{"region": "north"}})
	if err := r.Dispatch(ctx, repos, evt); err != nil {
		t.Fatalf("update: %v", err)
	}

	org, err := repos.Organizations.GetByID(ctx, orgID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if org.Name != "acme" {
		t.Fatalf("name must survive a metadata-only update, got %q", org.Name)
	}
	if org.Metadata["region"] != "north" {
		t.Fatalf("metadata not merged: %v", org.Metadata)
	}
}

func TestOrganizationDeactivation_CascadesToActiveDescendants(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	orgID := uuid.New()
	org := createOrganization(t, r, repos, ctx, orgID, "acme")

	cardiology := createUnit(t, r, repos, ctx, orgID, uuid.New(), "cardiology", "")
	ward := createUnit(t, r, repos, ctx, orgID, uuid.New(), "ward_3", cardiology.Path)

	// A unit already inactive before the cascade must not appear in it.
	pharmacy := createUnit(t, r, repos, ctx, orgID, uuid.New(), "pharmacy", "")
	deact := makeEvent(pharmacy.ID, domain.StreamOrganizationUnit, domain.EventOrganizationUnitDeactivated, map[string]any{})
	if err := r.Dispatch(ctx, repos, deact); err != nil {
		t.Fatalf("pre-deactivate pharmacy: %v", err)
	}

	evt := makeEvent(orgID, domain.StreamOrganization, domain.EventOrganizationDeactivated, map[string]any{})
	if err := r.Dispatch(ctx, repos, evt); err != nil {
		t.Fatalf("deactivate organization: %v", err)
	}

	for _, id := range []uuid.UUID{cardiology.ID, ward.ID} {
		unit, err := repos.Units.GetByID(ctx, id)
		if err != nil {
			t.Fatalf("read unit: %v", err)
		}
		if unit.IsActive {
			t.Fatalf("unit %s must be deactivated by the cascade", unit.Path)
		}
	}

	entries, err := repos.Audit.ListByAggregate(ctx, ward.ID)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	var cascaded bool
	for _, entry := range entries {
		if entry.Action == "deactivated_cascade" {
			cascaded = true
			if entry.Detail["cause_path"] != org.Path {
				t.Fatalf("cascade audit must name the cause path: %v", entry.Detail)
			}
		}
	}
	if !cascaded {
		t.Fatalf("cascade must leave an audit entry on each affected unit")
	}
}

func TestOrganizationReactivation_DoesNotCascade(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	orgID := uuid.New()
	createOrganization(t, r, repos, ctx, orgID, "acme")
	unit := createUnit(t, r, repos, ctx, orgID, uuid.New(), "cardiology", "")

	deact := makeEvent(orgID, domain.StreamOrganization, domain.EventOrganizationDeactivated, map[string]any{})
	if err := r.Dispatch(ctx, repos, deact); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	react := makeEvent(orgID, domain.StreamOrganization, domain.EventOrganizationReactivated, map[string]any{})
	if err := r.Dispatch(ctx, repos, react); err != nil {
		t.Fatalf("reactivate: %v", err)
	}

	org, err := repos.Organizations.GetByID(ctx, orgID)
	if err != nil {
		t.Fatalf("read org: %v", err)
	}
	if !org.IsActive {
		t.Fatalf("organization must be active again")
	}

	got, err := repos.Units.GetByID(ctx, unit.ID)
	if err != nil {
		t.Fatalf("read unit: %v", err)
	}
	if got.IsActive {
		t.Fatalf("reactivation must never cascade: unit %s came back active", got.Path)
	}
}

func TestOrganizationDeleted_OnlyFromDeactivated(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	orgID := uuid.New()
	createOrganization(t, r, repos, ctx, orgID, "acme")

	del := makeEvent(orgID, domain.StreamOrganization, domain.EventOrganizationDeleted, map[string]any{})
	if err := r.Dispatch(ctx, repos, del); err == nil {
		t.Fatalf("deleting an active organization must fail")
	}

	deact := makeEvent(orgID, domain.StreamOrganization, domain.EventOrganizationDeactivated, map[string]any{})
	if err := r.Dispatch(ctx, repos, deact); err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	del2 := makeEvent(orgID, domain.StreamOrganization, domain.EventOrganizationDeleted, map[string]any{})
	if err := r.Dispatch(ctx, repos, del2); err != nil {
		t.Fatalf("delete after deactivation: %v", err)
	}

	org, err := repos.Organizations.GetByID(ctx, orgID)
	if err != nil {
		t.Fatalf("soft-deleted row must stay readable: %v", err)
	}
	if org.DeletedAt == nil {
		t.Fatalf("deleted_at must be set")
	}
}

func TestUnitCreated_RootLevelPathRejected(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	unitID := uuid.New()
	// No parent resolvable and a root-level path: the sub-unit write
	// predicate rejects it before any row is written.
	evt := makeEvent(unitID, domain.StreamOrganizationUnit, domain.EventOrganizationUnitCreated,
		map[string]any{"organization_id": uuid.New().String(), "slug": "acme"})
	if err := r.Dispatch(ctx, repos, evt); err == nil {
		t.Fatalf("unit creation without a resolvable parent must fail")
	}
}

func TestUnitDeactivation_SubtreeCascade(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	orgID := uuid.New()
	createOrganization(t, r, repos, ctx, orgID, "acme")
	cardiology := createUnit(t, r, repos, ctx, orgID, uuid.New(), "cardiology", "")
	ward := createUnit(t, r, repos, ctx, orgID, uuid.New(), "ward_3", cardiology.Path)
	pharmacy := createUnit(t, r, repos, ctx, orgID, uuid.New(), "pharmacy", "")

	evt := makeEvent(cardiology.ID, domain.StreamOrganizationUnit, domain.EventOrganizationUnitDeactivated, map[string]any{})
	if err := r.Dispatch(ctx, repos, evt); err != nil {
		t.Fatalf("deactivate subtree: %v", err)
	}

	got, _ := repos.Units.GetByID(ctx, ward.ID)
	if got.IsActive {
		t.Fatalf("descendant must be deactivated")
	}
	sibling, _ := repos.Units.GetByID(ctx, pharmacy.ID)
	if !sibling.IsActive {
		t.Fatalf("sibling subtree must be untouched")
	}
}
