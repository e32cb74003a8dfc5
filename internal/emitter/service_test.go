package emitter

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/projection"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/router"
)

func newTestService(t *testing.T) (*Service, *repository.MemoryStore, repository.Set, context.Context) {
	t.Helper()
	store := repository.NewMemoryStore()
	r := router.New()
	projection.RegisterAll(r)
	service := NewService(&repository.MemoryRunner{Store: store}, store.Set, r)
	ctx := auth.WithActor(context.Background(), auth.SystemActor())
	return service, store, store.Set(nil), ctx
}

func mustEmit(t *testing.T, s *Service, ctx context.Context, req EmitRequest) domain.Event {
	t.Helper()
	evt, err := s.Emit(ctx, req)
	if err != nil {
		t.Fatalf("emit %s: %v", req.EventType, err)
	}
	return evt
}

func createOrgRequest(orgID uuid.UUID, slug string) EmitRequest {
	return EmitRequest{
		StreamID:   orgID,
		StreamType: domain.StreamOrganization,
		EventType:  domain.EventOrganizationCreated,
		EventData:  map[string]any{"slug": slug, "name": slug},
	}
}

func TestEmit_AssignsGapFreeVersions(t *testing.T) {
	service, _, _, ctx := newTestService(t)
	orgID := uuid.New()

	first := mustEmit(t, service, ctx, createOrgRequest(orgID, "acme"))
	if first.StreamVersion != 1 {
		t.Fatalf("first event version: %d", first.StreamVersion)
	}

	for want := int64(2); want <= 4; want++ {
		evt := mustEmit(t, service, ctx, EmitRequest{
			StreamID:   orgID,
			StreamType: domain.StreamOrganization,
			EventType:  domain.EventOrganizationUpdated,
			EventData:  map[string]any{"metadata": map[string]any{"rev": want}},
		})
		if evt.StreamVersion != want {
			t.Fatalf("expected version %d, got %d", want, evt.StreamVersion)
		}
	}
}

func TestEmit_SetsTracingMetadata(t *testing.T) {
	service, _, _, ctx := newTestService(t)

	evt := mustEmit(t, service, ctx, createOrgRequest(uuid.New(), "acme"))
	if evt.EventMetadata.CorrelationID == "" || evt.EventMetadata.TraceID == "" || evt.EventMetadata.SpanID == "" {
		t.Fatalf("tracing identifiers must be populated: %+v", evt.EventMetadata)
	}
	if evt.EventMetadata.UserID != "system" {
		t.Fatalf("actor must be stamped on the event: %q", evt.EventMetadata.UserID)
	}
	if evt.ProcessedAt == nil {
		t.Fatalf("successfully projected event must be marked processed")
	}
}

func TestEmit_ConcurrencyConflictSurfacesAndRetrySucceeds(t *testing.T) {
	service, store, _, ctx := newTestService(t)
	orgID := uuid.New()
	mustEmit(t, service, ctx, createOrgRequest(orgID, "acme"))

	store.FailAppend = func(domain.Event) error {
		store.FailAppend = nil
		return domain.ErrConcurrencyConflict
	}

	req := EmitRequest{
		StreamID:   orgID,
		StreamType: domain.StreamOrganization,
		EventType:  domain.EventOrganizationUpdated,
		EventData:  map[string]any{"name": "Acme Health"},
	}
	if _, err := service.Emit(ctx, req); !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}

	// The losing writer retries with the same payload and wins.
	evt := mustEmit(t, service, ctx, req)
	if evt.StreamVersion != 2 {
		t.Fatalf("retry must land on the next version, got %d", evt.StreamVersion)
	}
}

func TestEmit_StrictStreamRejectsUnknownTypeAtomically(t *testing.T) {
	service, _, repos, ctx := newTestService(t)
	orgID := uuid.New()
	mustEmit(t, service, ctx, createOrgRequest(orgID, "acme"))

	_, err := service.Emit(ctx, EmitRequest{
		StreamID:   orgID,
		StreamType: domain.StreamOrganization,
		EventType:  "organization.renamed",
		EventData:  map[string]any{"name": "x"},
	})
	var unknownErr *domain.UnknownEventTypeError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownEventTypeError, got %v", err)
	}

	events, err := repos.Events.ListByStream(ctx, orgID, domain.StreamOrganization)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("rejected event must not be appended: %d events", len(events))
	}
}

func TestEmit_LenientStreamAcknowledgesUnknownType(t *testing.T) {
	store := repository.NewMemoryStore()
	r := router.New()
	projection.RegisterAll(r)
	r.SetPolicy(domain.StreamContact, router.PolicyLenient)
	service := NewService(&repository.MemoryRunner{Store: store}, store.Set, r)
	ctx := auth.WithActor(context.Background(), auth.SystemActor())

	contactID := uuid.New()
	evt, err := service.Emit(ctx, EmitRequest{
		StreamID:   contactID,
		StreamType: domain.StreamContact,
		EventType:  "contact.synced_from_crm",
		EventData:  map[string]any{"source": "crm"},
	})
	if err != nil {
		t.Fatalf("lenient stream must accept unknown types: %v", err)
	}
	if evt.StreamVersion != 1 {
		t.Fatalf("event must be appended, got version %d", evt.StreamVersion)
	}
	if evt.ProcessedAt == nil {
		t.Fatalf("skipped event must still be acknowledged as processed")
	}
}

func TestEmit_ProjectionFailureCommitsAppend(t *testing.T) {
	service, _, repos, ctx := newTestService(t)
	medID := uuid.New()

	// Update for a medication that was never prescribed: the handler fails,
	// the append survives, and the failure lands on the event row.
	evt, err := service.Emit(ctx, EmitRequest{
		StreamID:   medID,
		StreamType: domain.StreamMedication,
		EventType:  domain.EventMedicationUpdated,
		EventData:  map[string]any{"dosage": "20mg"},
	})
	if err != nil {
		t.Fatalf("emit must succeed despite projection failure: %v", err)
	}
	if evt.ProcessingError == nil {
		t.Fatalf("projection failure must be recorded on the event")
	}
	if evt.ProcessedAt != nil {
		t.Fatalf("failed event must not be marked processed")
	}

	failed, err := repos.Events.ListFailed(ctx, 10)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != evt.ID {
		t.Fatalf("failed event must be visible to the monitor: %v", failed)
	}
}

func TestRetryEvent_SucceedsOnceCauseIsFixed(t *testing.T) {
	service, _, repos, ctx := newTestService(t)
	medID := uuid.New()

	failedEvt, err := service.Emit(ctx, EmitRequest{
		StreamID:   medID,
		StreamType: domain.StreamMedication,
		EventType:  domain.EventMedicationUpdated,
		EventData:  map[string]any{"dosage": "20mg"},
	})
	if err != nil {
		t.Fatalf("emit: %v", err)
	}

	mustEmit(t, service, ctx, EmitRequest{
		StreamID:   medID,
		StreamType: domain.StreamMedication,
		EventType:  domain.EventMedicationPrescribed,
		EventData: map[string]any{
			"organization_id": uuid.New().String(),
			"reference":       "rx-9",
			"medication_name": "Metformin",
			"dosage":          "10mg",
			"path":            "acme",
		},
	})

	retried, err := service.RetryEvent(ctx, failedEvt.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retried.ProcessingError != nil {
		t.Fatalf("retry must clear the processing error: %v", *retried.ProcessingError)
	}
	if retried.ProcessedAt == nil {
		t.Fatalf("retried event must be marked processed")
	}

	med, err := repos.Medications.GetByID(ctx, medID)
	if err != nil {
		t.Fatalf("read medication: %v", err)
	}
	if med.Dosage != "20mg" {
		t.Fatalf("retried update must apply: %q", med.Dosage)
	}
}

func TestReplayStream_ConvergesOnSameState(t *testing.T) {
	service, _, repos, ctx := newTestService(t)
	orgID := uuid.New()
	mustEmit(t, service, ctx, createOrgRequest(orgID, "acme"))
	mustEmit(t, service, ctx, EmitRequest{
		StreamID:   orgID,
		StreamType: domain.StreamOrganization,
		EventType:  domain.EventOrganizationUpdated,
		EventData:  map[string]any{"name": "Acme Health"},
	})

	before, err := repos.Organizations.GetByID(ctx, orgID)
	if err != nil {
		t.Fatalf("read before replay: %v", err)
	}

	summary, err := service.ReplayStream(ctx, orgID, domain.StreamOrganization)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if summary.Replayed != 2 {
		t.Fatalf("expected 2 replayed events, got %d", summary.Replayed)
	}

	after, err := repos.Organizations.GetByID(ctx, orgID)
	if err != nil {
		t.Fatalf("read after replay: %v", err)
	}
	if after.Name != before.Name || after.Slug != before.Slug || after.IsActive != before.IsActive {
		t.Fatalf("replay must converge on the incremental state: before %+v after %+v", before, after)
	}

	orgs, err := repos.Organizations.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orgs) != 1 {
		t.Fatalf("replay must not duplicate rows: %d organizations", len(orgs))
	}
}

func TestEmit_OrganizationCreationRequiresSuperAdmin(t *testing.T) {
	service, _, repos, _ := newTestService(t)
	scoped := auth.WithActor(context.Background(), domain.Actor{UserID: "u1", ScopePath: "acme"})

	orgID := uuid.New()
	_, err := service.Emit(scoped, createOrgRequest(orgID, "newco"))
	var authErr *domain.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}

	admin := auth.WithActor(context.Background(), auth.SystemActor())
	events, err := repos.Events.ListByStream(admin, orgID, domain.StreamOrganization)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("rejected emit must leave no events, got %d", len(events))
	}
}

func TestListStream_CrossTenantRejected(t *testing.T) {
	service, _, _, admin := newTestService(t)
	mustEmit(t, service, admin, createOrgRequest(uuid.New(), "acme"))

	medID := uuid.New()
	mustEmit(t, service, admin, EmitRequest{
		StreamID:   medID,
		StreamType: domain.StreamMedication,
		EventType:  domain.EventMedicationPrescribed,
		EventData: map[string]any{
			"organization_id": uuid.New().String(),
			"reference":       "rx-7",
			"patient_name":    "Pat Doe",
			"medication_name": "Amoxicillin",
			"path":            "acme",
		},
	})

	var authErr *domain.AuthorizationError

	outsider := auth.WithActor(context.Background(), domain.Actor{UserID: "u9", ScopePath: "other"})
	if _, err := service.ListStream(outsider, medID, domain.StreamMedication); !errors.As(err, &authErr) {
		t.Fatalf("cross-tenant ledger read must be rejected, got %v", err)
	}

	if _, err := service.ListStream(context.Background(), medID, domain.StreamMedication); !errors.As(err, &authErr) {
		t.Fatalf("actor-less ledger read must be rejected, got %v", err)
	}

	insider := auth.WithActor(context.Background(), domain.Actor{UserID: "u1", ScopePath: "acme"})
	events, err := service.ListStream(insider, medID, domain.StreamMedication)
	if err != nil {
		t.Fatalf("in-scope read: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected the prescribed event, got %d", len(events))
	}
}

func TestGetEvent_ScopedToStreamPath(t *testing.T) {
	service, _, _, admin := newTestService(t)
	orgID := uuid.New()
	evt := mustEmit(t, service, admin, createOrgRequest(orgID, "acme"))

	outsider := auth.WithActor(context.Background(), domain.Actor{UserID: "u9", ScopePath: "other"})
	var authErr *domain.AuthorizationError
	if _, err := service.GetEvent(outsider, evt.ID); !errors.As(err, &authErr) {
		t.Fatalf("cross-tenant event read must be rejected, got %v", err)
	}

	insider := auth.WithActor(context.Background(), domain.Actor{UserID: "u1", ScopePath: "acme"})
	got, err := service.GetEvent(insider, evt.ID)
	if err != nil {
		t.Fatalf("in-scope read: %v", err)
	}
	if got.ID != evt.ID {
		t.Fatalf("unexpected event: %s", got.ID)
	}
}

func TestListCorrelation_SuperAdminOnly(t *testing.T) {
	service, _, _, admin := newTestService(t)
	evt := mustEmit(t, service, admin, createOrgRequest(uuid.New(), "acme"))

	scoped := auth.WithActor(context.Background(), domain.Actor{UserID: "u1", ScopePath: "acme"})
	var authErr *domain.AuthorizationError
	if _, err := service.ListCorrelation(scoped, evt.EventMetadata.CorrelationID); !errors.As(err, &authErr) {
		t.Fatalf("correlation-wide read must be super-admin only, got %v", err)
	}

	events, err := service.ListCorrelation(admin, evt.EventMetadata.CorrelationID)
	if err != nil {
		t.Fatalf("super admin read: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected one event, got %d", len(events))
	}
}

func TestListFailed_SuperAdminOnly(t *testing.T) {
	service, _, _, _ := newTestService(t)

	scoped := auth.WithActor(context.Background(), domain.Actor{UserID: "u1", ScopePath: "acme"})
	var authErr *domain.AuthorizationError
	if _, err := service.ListFailed(scoped, 10); !errors.As(err, &authErr) {
		t.Fatalf("failed-event backlog must be super-admin only, got %v", err)
	}
}

func TestEmit_FailedHandlerLeavesNoPartialProjectionWrites(t *testing.T) {
	store := repository.NewMemoryStore()
	r := router.New()
	r.Register(domain.StreamOrganization, domain.EventOrganizationCreated,
		func(ctx context.Context, repos repository.Set, evt domain.Event) error {
			org := domain.Organization{
				ID:        evt.StreamID,
				Slug:      "acme",
				Name:      "Acme",
				Path:      "acme",
				IsActive:  true,
				CreatedAt: evt.CreatedAt,
				UpdatedAt: evt.CreatedAt,
			}
			if err := repos.Organizations.InsertIfAbsent(ctx, org); err != nil {
				return err
			}
			return errors.New("projection interrupted")
		})
	service := NewService(&repository.MemoryRunner{Store: store}, store.Set, r)
	ctx := auth.WithActor(context.Background(), auth.SystemActor())

	orgID := uuid.New()
	evt, err := service.Emit(ctx, createOrgRequest(orgID, "acme"))
	if err != nil {
		t.Fatalf("emit must succeed despite projection failure: %v", err)
	}
	if evt.ProcessingError == nil {
		t.Fatalf("projection failure must be recorded on the event")
	}

	repos := store.Set(nil)
	if _, err := repos.Organizations.GetByID(ctx, orgID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("partial projection write must roll back with the handler, got %v", err)
	}
	events, err := repos.Events.ListByStream(ctx, orgID, domain.StreamOrganization)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || events[0].ProcessingError == nil {
		t.Fatalf("append must stay durable with the failure recorded: %+v", events)
	}
}

func TestEmit_OutOfScopeWriteRejected(t *testing.T) {
	service, _, _, admin := newTestService(t)
	orgID := uuid.New()
	mustEmit(t, service, admin, createOrgRequest(orgID, "acme"))

	outsider := auth.WithActor(context.Background(), domain.Actor{UserID: "u9", ScopePath: "other"})
	_, err := service.Emit(outsider, EmitRequest{
		StreamID:   orgID,
		StreamType: domain.StreamOrganization,
		EventType:  domain.EventOrganizationUpdated,
		EventData:  map[string]any{"name": "Hijacked"},
	})
	var authErr *domain.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
}
