package projection

import (
	"context"
	"fmt"

	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/router"
)

// RegisterContactHandlers installs the denormalized contact handlers.
func RegisterContactHandlers(r *router.Router) {
	r.Register(domain.StreamContact, domain.EventContactCreated, handleContactCreated)
	r.Register(domain.StreamContact, domain.EventContactUpdated, handleContactUpdated)
	r.Register(domain.StreamContact, domain.EventContactDeactivated, handleContactDeactivated)
	r.Register(domain.StreamContact, domain.EventContactReactivated, handleContactReactivated)
	r.Register(domain.StreamContact, domain.EventContactDeleted, handleContactDeleted)
}

func handleContactCreated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	orgID, err := payloadUUID(p, "organization_id")
	if err != nil {
		return err
	}
	path := p.String("path")
	if path == "" {
		org, err := repos.Organizations.GetByID(ctx, orgID)
		if err != nil {
			return err
		}
		path = org.Path
	}

	contact := domain.Contact{
		ID:             evt.StreamID,
		OrganizationID: orgID,
		Kind:           p.StringDefault("kind", "general"),
		Name:           p.String("name"),
		PhoneNumber:    p.StringFallback("phone_number", "phone"),
		Email:          p.String("email"),
		AddressLine:    p.String("address_line"),
		City:           p.String("city"),
		PostalCode:     p.String("postal_code"),
		Path:           path,
		IsActive:       true,
		Metadata:       p.Map("metadata"),
		CreatedAt:      eventTime(evt),
		UpdatedAt:      eventTime(evt),
	}
	if err := repos.Contacts.InsertIfAbsent(ctx, contact); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamContact, contact.ID, "created", nil)
}

// handleContactUpdated applies present fields only. The phone number is
// accepted under both its current and its legacy payload key.
func handleContactUpdated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	patch := domain.ContactPatch{
		Name:        p.StringPtr("name"),
		PhoneNumber: p.StringPtr("phone_number"),
		Email:       p.StringPtr("email"),
		AddressLine: p.StringPtr("address_line"),
		City:        p.StringPtr("city"),
		PostalCode:  p.StringPtr("postal_code"),
		Metadata:    p.Map("metadata"),
	}
	if patch.PhoneNumber == nil {
		patch.PhoneNumber = p.StringPtr("phone")
	}
	if err := repos.Contacts.UpdatePartial(ctx, evt.StreamID, patch); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamContact, evt.StreamID, "updated", nil)
}

func handleContactDeactivated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	if err := repos.Contacts.SetActive(ctx, evt.StreamID, false); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamContact, evt.StreamID, "deactivated", nil)
}

func handleContactReactivated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	if err := repos.Contacts.SetActive(ctx, evt.StreamID, true); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamContact, evt.StreamID, "reactivated", nil)
}

func handleContactDeleted(ctx context.Context, repos repository.Set, evt domain.Event) error {
	contact, err := repos.Contacts.GetByID(ctx, evt.StreamID)
	if err != nil {
		return err
	}
	if contact.IsActive {
		return fmt.Errorf("contact %s is active and cannot be deleted", contact.ID)
	}
	if err := repos.Contacts.SoftDelete(ctx, contact.ID, eventTime(evt)); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamContact, contact.ID, "deleted", nil)
}
