package router

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/repository"
)

func testEvent(streamType, eventType string) domain.Event {
	return domain.Event{
		ID:         uuid.New(),
		StreamID:   uuid.New(),
		StreamType: streamType,
		EventType:  eventType,
		EventData:  map[string]any{},
	}
}

func TestDispatch_RoutesToHandler(t *testing.T) {
	r := New()
	var got domain.Event
	r.Register(domain.StreamContact, domain.EventContactCreated,
		func(ctx context.Context, repos repository.Set, evt domain.Event) error {
			got = evt
			return nil
		})

	evt := testEvent(domain.StreamContact, domain.EventContactCreated)
	if err := r.Dispatch(context.Background(), repository.Set{}, evt); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got.ID != evt.ID {
		t.Fatalf("handler not invoked with event")
	}
}

func TestDispatch_StrictUnknownType(t *testing.T) {
	r := New()
	evt := testEvent(domain.StreamContact, "contact.unheard_of")

	err := r.Dispatch(context.Background(), repository.Set{}, evt)
	var unknownErr *domain.UnknownEventTypeError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("expected UnknownEventTypeError, got %v", err)
	}
	if unknownErr.EventType != "contact.unheard_of" {
		t.Fatalf("wrong event type in error: %q", unknownErr.EventType)
	}
}

func TestDispatch_LenientUnknownType(t *testing.T) {
	r := New()
	r.SetPolicy(domain.StreamContact, PolicyLenient)
	evt := testEvent(domain.StreamContact, "contact.unheard_of")

	if err := r.Dispatch(context.Background(), repository.Set{}, evt); err != nil {
		t.Fatalf("lenient stream must acknowledge unknown types, got %v", err)
	}
}

func TestDispatch_HandlerErrorWrapped(t *testing.T) {
	r := New()
	boom := errors.New("projection table missing")
	r.Register(domain.StreamContact, domain.EventContactCreated,
		func(ctx context.Context, repos repository.Set, evt domain.Event) error {
			return boom
		})

	evt := testEvent(domain.StreamContact, domain.EventContactCreated)
	err := r.Dispatch(context.Background(), repository.Set{}, evt)
	var projErr *domain.ProjectionError
	if !errors.As(err, &projErr) {
		t.Fatalf("expected ProjectionError, got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("wrapped error must unwrap to the handler error")
	}
	if projErr.EventID != evt.ID {
		t.Fatalf("wrong event id in projection error")
	}
}

func TestDispatch_AuthorizationErrorPassesThrough(t *testing.T) {
	r := New()
	r.Register(domain.StreamContact, domain.EventContactCreated,
		func(ctx context.Context, repos repository.Set, evt domain.Event) error {
			return &domain.AuthorizationError{UserID: "u1", Path: "acme"}
		})

	evt := testEvent(domain.StreamContact, domain.EventContactCreated)
	err := r.Dispatch(context.Background(), repository.Set{}, evt)
	var authErr *domain.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}
	var projErr *domain.ProjectionError
	if errors.As(err, &projErr) {
		t.Fatalf("authorization failures must not be wrapped as projection errors")
	}
}

func TestDispatch_HandlerPanicRecovered(t *testing.T) {
	r := New()
	r.Register(domain.StreamContact, domain.EventContactCreated,
		func(ctx context.Context, repos repository.Set, evt domain.Event) error {
			panic("nil map write")
		})

	evt := testEvent(domain.StreamContact, domain.EventContactCreated)
	err := r.Dispatch(context.Background(), repository.Set{}, evt)
	var projErr *domain.ProjectionError
	if !errors.As(err, &projErr) {
		t.Fatalf("expected ProjectionError from panic, got %v", err)
	}
}

func TestRegister_DuplicatePanics(t *testing.T) {
	r := New()
	handler := func(ctx context.Context, repos repository.Set, evt domain.Event) error { return nil }
	r.Register(domain.StreamContact, domain.EventContactCreated, handler)

	defer func() {
		if recover() == nil {
			t.Fatalf("duplicate registration must panic")
		}
	}()
	r.Register(domain.StreamContact, domain.EventContactCreated, handler)
}

func TestConfigurePolicies(t *testing.T) {
	r := New()
	err := r.ConfigurePolicies(map[string]string{
		domain.StreamContact:      "lenient",
		domain.StreamOrganization: "strict",
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if r.PolicyFor(domain.StreamContact) != PolicyLenient {
		t.Fatalf("contact stream must be lenient")
	}
	if r.PolicyFor(domain.StreamOrganization) != PolicyStrict {
		t.Fatalf("organization stream must be strict")
	}

	if err := r.ConfigurePolicies(map[string]string{"x": "permissive"}); err == nil {
		t.Fatalf("unknown policy name must be rejected")
	}
}
