package emitter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/auth"
	"github.com/carebridge/carebridge/internal/db"
	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/projection"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/router"
	"github.com/carebridge/carebridge/internal/tracing"
)

// TxRunner executes a function inside one transaction. db.Connection
// provides the Postgres implementation; repository.MemoryRunner provides
// the in-memory one.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(db.DBTX) error) error
}

// Service is the write side: it appends events and dispatches them to the
// projection handlers synchronously, inside the same transaction as the
// append. Projection failures are recorded on the event row and do not
// fail the emit; unknown event types on strict streams and authorization
// failures roll the whole transaction back.
type Service struct {
	runner  TxRunner
	factory repository.Factory
	router  *router.Router
}

// NewService creates the emitter.
func NewService(runner TxRunner, factory repository.Factory, r *router.Router) *Service {
	return &Service{runner: runner, factory: factory, router: r}
}

// EmitRequest describes one event to append.
type EmitRequest struct {
	StreamID   uuid.UUID       `json:"stream_id"`
	StreamType string          `json:"stream_type"`
	EventType  string          `json:"event_type"`
	EventData  map[string]any  `json:"event_data"`
	Metadata   domain.Metadata `json:"event_metadata"`
}

// Emit validates, authorizes, appends and dispatches one event. The
// returned event carries its assigned stream version and processing state.
func (s *Service) Emit(ctx context.Context, req EmitRequest) (domain.Event, error) {
	event := domain.Event{
		ID:         uuid.New(),
		StreamID:   req.StreamID,
		StreamType: req.StreamType,
		EventType:  req.EventType,
		EventData:  req.EventData,
		CreatedAt:  time.Now().UTC(),
	}
	if err := event.Validate(); err != nil {
		return domain.Event{}, err
	}
	event.EventMetadata = tracing.Resolve(ctx, req.Metadata)

	var stored domain.Event
	err := s.runner.RunInTx(ctx, func(tx db.DBTX) error {
		repos := s.factory(tx)

		if err := s.authorizeEmit(ctx, repos, event); err != nil {
			return err
		}

		var err error
		stored, err = repos.Events.Append(ctx, event)
		if err != nil {
			return err
		}

		if dispatchErr := s.dispatch(ctx, tx, stored); dispatchErr != nil {
			var authErr *domain.AuthorizationError
			var unknownErr *domain.UnknownEventTypeError
			if errors.As(dispatchErr, &authErr) || errors.As(dispatchErr, &unknownErr) {
				return dispatchErr
			}
			// The fact is kept; only the projection is behind. The error
			// lands on the event row for the failed-event monitor.
			log.Printf("emitter: projection failed for event %s (%s): %v", stored.ID, stored.EventType, dispatchErr)
			msg := dispatchErr.Error()
			if err := repos.Events.MarkFailed(ctx, stored.ID, msg); err != nil {
				return err
			}
			stored.ProcessingError = &msg
			return nil
		}

		now := time.Now().UTC()
		if err := repos.Events.MarkProcessed(ctx, stored.ID, now); err != nil {
			return err
		}
		stored.ProcessedAt = &now
		return nil
	})
	if err != nil {
		return domain.Event{}, err
	}
	return stored, nil
}

// dispatch runs the projection handlers for one event. When the transaction
// supports savepoints the handlers run inside one, so a handler that fails
// midway leaves the append durable but none of its partial projection
// writes behind.
func (s *Service) dispatch(ctx context.Context, tx db.DBTX, event domain.Event) error {
	starter, ok := tx.(db.SavepointStarter)
	if !ok {
		return s.router.Dispatch(ctx, s.factory(tx), event)
	}
	sp, err := starter.BeginSavepoint(ctx)
	if err != nil {
		return fmt.Errorf("begin projection savepoint: %w", err)
	}
	if dispatchErr := s.router.Dispatch(ctx, s.factory(sp), event); dispatchErr != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			log.Printf("emitter: savepoint rollback failed for event %s: %v", event.ID, rbErr)
		}
		return dispatchErr
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("commit projection savepoint: %w", err)
	}
	return nil
}

// authorizeEmit rejects an out-of-scope emit before any row is written.
// The projection repositories re-check containment on every write, so this
// is the first gate, not the only one.
func (s *Service) authorizeEmit(ctx context.Context, repos repository.Set, event domain.Event) error {
	if event.StreamType == domain.StreamOrganization && event.EventType == domain.EventOrganizationCreated {
		actor, ok := auth.ActorFromContext(ctx)
		if !ok {
			return &domain.AuthorizationError{Reason: "no actor on context"}
		}
		if !actor.IsSuperAdmin {
			return &domain.AuthorizationError{UserID: actor.UserID, Reason: "only super admins can create organizations"}
		}
		return nil
	}

	path, err := s.emitTargetPath(ctx, repos, event)
	if err != nil {
		var authErr *domain.AuthorizationError
		if errors.As(err, &authErr) {
			return err
		}
		if errors.Is(err, domain.ErrNotFound) {
			// No projection row yet: the dispatch handlers decide what a
			// reference to a missing aggregate means.
			return nil
		}
		return fmt.Errorf("resolving emit target path: %w", err)
	}
	if path == "" {
		return nil
	}
	return auth.Authorize(ctx, path)
}

// emitTargetPath resolves the tenant path an emit touches: the payload path
// for creation events, the projected row's path for everything else.
func (s *Service) emitTargetPath(ctx context.Context, repos repository.Set, event domain.Event) (string, error) {
	p := projection.Payload(event.EventData)
	lookup := auth.WithActor(ctx, auth.SystemActor())

	switch event.StreamType {
	case domain.StreamOrganization:
		org, err := repos.Organizations.GetByID(lookup, event.StreamID)
		if err != nil {
			return "", err
		}
		return org.Path, nil

	case domain.StreamOrganizationUnit:
		if event.EventType == domain.EventOrganizationUnitCreated {
			if parent := p.String("parent_path"); parent != "" {
				return parent, nil
			}
			orgID, err := uuid.Parse(p.String("organization_id"))
			if err != nil {
				// Unparseable reference: the handler owns rejecting it.
				return "", nil
			}
			org, err := repos.Organizations.GetByID(lookup, orgID)
			if err != nil {
				return "", err
			}
			return org.Path, nil
		}
		unit, err := repos.Units.GetByID(lookup, event.StreamID)
		if err != nil {
			return "", err
		}
		return unit.Path, nil

	case domain.StreamMedication:
		if event.EventType == domain.EventMedicationPrescribed {
			return p.String("path"), nil
		}
		med, err := repos.Medications.GetByID(lookup, event.StreamID)
		if err != nil {
			return "", err
		}
		return med.Path, nil

	case domain.StreamPrescription:
		if event.EventType == domain.EventPrescriptionWritten {
			if path := p.String("path"); path != "" {
				return path, nil
			}
			medID, err := uuid.Parse(p.String("medication_id"))
			if err != nil {
				// Unparseable reference: the handler owns rejecting it.
				return "", nil
			}
			med, err := repos.Medications.GetByID(lookup, medID)
			if err != nil {
				return "", err
			}
			return med.Path, nil
		}
		prescription, err := repos.Prescriptions.GetByID(lookup, event.StreamID)
		if err != nil {
			return "", err
		}
		return prescription.Path, nil

	case domain.StreamContact:
		if event.EventType == domain.EventContactCreated {
			return s.orgRootOrPayloadPath(lookup, repos, p)
		}
		contact, err := repos.Contacts.GetByID(lookup, event.StreamID)
		if err != nil {
			return "", err
		}
		return contact.Path, nil

	case domain.StreamInvitation:
		if event.EventType == domain.EventInvitationSent {
			return s.orgRootOrPayloadPath(lookup, repos, p)
		}
		inv, err := repos.Invitations.GetByID(lookup, event.StreamID)
		if err != nil {
			return "", err
		}
		return inv.Path, nil
	}
	return "", nil
}

func (s *Service) orgRootOrPayloadPath(ctx context.Context, repos repository.Set, p projection.Payload) (string, error) {
	if path := p.String("path"); path != "" {
		return path, nil
	}
	orgID, err := uuid.Parse(p.String("organization_id"))
	if err != nil {
		// Unparseable reference: the handler owns rejecting it.
		return "", nil
	}
	org, err := repos.Organizations.GetByID(ctx, orgID)
	if err != nil {
		return "", err
	}
	return org.Path, nil
}

// streamPath resolves the tenant path of a stream from its projection row.
func (s *Service) streamPath(ctx context.Context, repos repository.Set, streamID uuid.UUID, streamType string) (string, error) {
	lookup := auth.WithActor(ctx, auth.SystemActor())

	switch streamType {
	case domain.StreamOrganization:
		org, err := repos.Organizations.GetByID(lookup, streamID)
		return org.Path, err
	case domain.StreamOrganizationUnit:
		unit, err := repos.Units.GetByID(lookup, streamID)
		return unit.Path, err
	case domain.StreamMedication:
		med, err := repos.Medications.GetByID(lookup, streamID)
		return med.Path, err
	case domain.StreamPrescription:
		prescription, err := repos.Prescriptions.GetByID(lookup, streamID)
		return prescription.Path, err
	case domain.StreamContact:
		contact, err := repos.Contacts.GetByID(lookup, streamID)
		return contact.Path, err
	case domain.StreamInvitation:
		inv, err := repos.Invitations.GetByID(lookup, streamID)
		return inv.Path, err
	}
	return "", nil
}

// authorizeStreamRead gates ledger reads with the same containment
// predicate that guards the projection rows the events describe. Event
// payloads carry the full aggregate state, so a stream is only readable by
// actors whose scope contains its tenant path. Streams without a
// projection row, and stream types the projection does not know, stay
// restricted to super admins.
func (s *Service) authorizeStreamRead(ctx context.Context, repos repository.Set, streamID uuid.UUID, streamType string) error {
	if actor, ok := auth.ActorFromContext(ctx); ok && actor.IsSuperAdmin {
		return nil
	}
	path, err := s.streamPath(ctx, repos, streamID, streamType)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return auth.RequireSuperAdmin(ctx)
		}
		return err
	}
	if path == "" {
		return auth.RequireSuperAdmin(ctx)
	}
	return auth.Authorize(ctx, path)
}

// GetEvent reads one event, scoped to the actor's tenant subtree.
func (s *Service) GetEvent(ctx context.Context, id uuid.UUID) (domain.Event, error) {
	var evt domain.Event
	err := s.runner.RunInTx(ctx, func(tx db.DBTX) error {
		repos := s.factory(tx)
		var err error
		evt, err = repos.Events.GetByID(ctx, id)
		if err != nil {
			return err
		}
		return s.authorizeStreamRead(ctx, repos, evt.StreamID, evt.StreamType)
	})
	if err != nil {
		return domain.Event{}, err
	}
	return evt, nil
}

// ListStream returns one stream's events in version order, scoped to the
// actor's tenant subtree.
func (s *Service) ListStream(ctx context.Context, streamID uuid.UUID, streamType string) ([]domain.Event, error) {
	var events []domain.Event
	err := s.runner.RunInTx(ctx, func(tx db.DBTX) error {
		repos := s.factory(tx)
		if err := s.authorizeStreamRead(ctx, repos, streamID, streamType); err != nil {
			return err
		}
		var err error
		events, err = repos.Events.ListByStream(ctx, streamID, streamType)
		return err
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// ListCorrelation returns every event of one business transaction. A
// correlation can span tenants, so the surface is super-admin only.
func (s *Service) ListCorrelation(ctx context.Context, correlationID string) ([]domain.Event, error) {
	if err := auth.RequireSuperAdmin(ctx); err != nil {
		return nil, err
	}
	var events []domain.Event
	err := s.runner.RunInTx(ctx, func(tx db.DBTX) error {
		var err error
		events, err = s.factory(tx).Events.ListByCorrelation(ctx, correlationID)
		return err
	})
	return events, err
}

// ListFailed returns events whose projection is behind the ledger. The
// backlog is cross-tenant by construction, so the surface is super-admin
// only.
func (s *Service) ListFailed(ctx context.Context, limit int) ([]domain.Event, error) {
	if err := auth.RequireSuperAdmin(ctx); err != nil {
		return nil, err
	}
	var events []domain.Event
	err := s.runner.RunInTx(ctx, func(tx db.DBTX) error {
		var err error
		events, err = s.factory(tx).Events.ListFailed(ctx, limit)
		return err
	})
	return events, err
}
