package router

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"

	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/repository"
)

// Policy controls how a stream type treats event types with no registered
// handler.
type Policy int

const (
	// PolicyStrict fails the whole dispatch on an unknown event type. This
	// is the default: an unknown type on a core stream is a deployment bug,
	// not data to be skipped.
	PolicyStrict Policy = iota
	// PolicyLenient logs a warning and acknowledges the event unchanged.
	// Used for streams that external systems append to.
	PolicyLenient
)

func (p Policy) String() string {
	if p == PolicyLenient {
		return "lenient"
	}
	return "strict"
}

// ParsePolicy reads a policy name from configuration.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "strict":
		return PolicyStrict, nil
	case "lenient":
		return PolicyLenient, nil
	default:
		return PolicyStrict, fmt.Errorf("unknown router policy %q", name)
	}
}

// HandlerFunc applies one event to the projections through the repository
// Set bound to the dispatch transaction. Handlers must be idempotent:
// replay and retry deliver the same event again.
type HandlerFunc func(ctx context.Context, repos repository.Set, event domain.Event) error

// Router maps (stream type, event type) pairs to projection handlers. The
// handler table is closed at startup; there is no reflective or dynamic
// lookup at dispatch time.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]map[string]HandlerFunc
	policies map[string]Policy
}

// New creates an empty router. Every stream type defaults to PolicyStrict.
func New() *Router {
	return &Router{
		handlers: make(map[string]map[string]HandlerFunc),
		policies: make(map[string]Policy),
	}
}

// Register installs a handler for one event type on one stream type.
// Registering the same pair twice is a programming error and panics, the
// same way duplicate patterns do on an http.ServeMux.
func (r *Router) Register(streamType, eventType string, handler HandlerFunc) {
	if handler == nil {
		panic(fmt.Sprintf("router: nil handler for %s/%s", streamType, eventType))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	byType, ok := r.handlers[streamType]
	if !ok {
		byType = make(map[string]HandlerFunc)
		r.handlers[streamType] = byType
	}
	if _, dup := byType[eventType]; dup {
		panic(fmt.Sprintf("router: duplicate handler for %s/%s", streamType, eventType))
	}
	byType[eventType] = handler
}

// SetPolicy overrides the unknown-event policy for one stream type.
func (r *Router) SetPolicy(streamType string, policy Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[streamType] = policy
}

// ConfigurePolicies applies a stream-type-to-policy-name map from the
// configuration file.
func (r *Router) ConfigurePolicies(policies map[string]string) error {
	for streamType, name := range policies {
		policy, err := ParsePolicy(name)
		if err != nil {
			return fmt.Errorf("stream type %q: %w", streamType, err)
		}
		r.SetPolicy(streamType, policy)
	}
	return nil
}

// PolicyFor reports the effective policy for a stream type.
func (r *Router) PolicyFor(streamType string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.policies[streamType]
}

// EventTypes returns the registered event types for a stream type, sorted.
func (r *Router) EventTypes(streamType string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers[streamType]))
	for eventType := range r.handlers[streamType] {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}

// Dispatch routes one event to its handler. An unknown event type under
// PolicyStrict returns *domain.UnknownEventTypeError so the caller can roll
// the transaction back; under PolicyLenient it logs and acknowledges. A
// handler failure (error or panic) is wrapped in *domain.ProjectionError.
func (r *Router) Dispatch(ctx context.Context, repos repository.Set, event domain.Event) (err error) {
	r.mu.RLock()
	handler, ok := r.handlers[event.StreamType][event.EventType]
	policy := r.policies[event.StreamType]
	r.mu.RUnlock()

	if !ok {
		if policy == PolicyLenient {
			log.Printf("router: skipping unknown event type %s on lenient stream %s (event %s)",
				event.EventType, event.StreamType, event.ID)
			return nil
		}
		return &domain.UnknownEventTypeError{StreamType: event.StreamType, EventType: event.EventType}
	}

	defer func() {
		if p := recover(); p != nil {
			err = &domain.ProjectionError{
				EventID:   event.ID,
				EventType: event.EventType,
				Err:       fmt.Errorf("handler panic: %v", p),
			}
		}
	}()

	if err := handler(ctx, repos, event); err != nil {
		// Authorization failures must abort the surrounding transaction,
		// not land in the event's processing_error bookkeeping.
		var authErr *domain.AuthorizationError
		if errors.As(err, &authErr) {
			return err
		}
		return &domain.ProjectionError{EventID: event.ID, EventType: event.EventType, Err: err}
	}
	return nil
}
