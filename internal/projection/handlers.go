package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/router"
)

// RegisterAll installs every projection handler on the router. The handler
// table is assembled once at startup; adding an event type means adding a
// registration here, never extending a switch at dispatch time.
func RegisterAll(r *router.Router) {
	RegisterOrganizationHandlers(r)
	RegisterOrganizationUnitHandlers(r)
	RegisterMedicationHandlers(r)
	RegisterPrescriptionHandlers(r)
	RegisterContactHandlers(r)
	RegisterInvitationHandlers(r)
}

// recordAudit writes one audit side-entry inside the dispatch transaction.
func recordAudit(ctx context.Context, repos repository.Set, evt domain.Event, aggregateType string, aggregateID uuid.UUID, action string, detail map[string]any) error {
	return repos.Audit.Record(ctx, domain.AuditEntry{
		ID:            uuid.New(),
		EventID:       evt.ID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Action:        action,
		ActorID:       evt.EventMetadata.UserID,
		CorrelationID: evt.EventMetadata.CorrelationID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	})
}

func payloadUUID(p Payload, key string) (uuid.UUID, error) {
	raw := p.String(key)
	if raw == "" {
		return uuid.Nil, &domain.ValidationError{Field: key, Message: "required uuid field is missing"}
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &domain.ValidationError{Field: key, Message: fmt.Sprintf("invalid uuid %q", raw)}
	}
	return id, nil
}

func eventTime(evt domain.Event) time.Time {
	if evt.CreatedAt.IsZero() {
		return time.Now().UTC()
	}
	return evt.CreatedAt
}
