package projection

import (
	"context"
	"fmt"
	"log"

	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/router"
	"github.com/carebridge/carebridge/pkg/hierarchy"
)

// RegisterOrganizationHandlers installs the root-tenant projection handlers.
func RegisterOrganizationHandlers(r *router.Router) {
	r.Register(domain.StreamOrganization, domain.EventOrganizationCreated, handleOrganizationCreated)
	r.Register(domain.StreamOrganization, domain.EventOrganizationUpdated, handleOrganizationUpdated)
	r.Register(domain.StreamOrganization, domain.EventOrganizationDeactivated, handleOrganizationDeactivated)
	r.Register(domain.StreamOrganization, domain.EventOrganizationReactivated, handleOrganizationReactivated)
	r.Register(domain.StreamOrganization, domain.EventOrganizationDeleted, handleOrganizationDeleted)
}

// handleOrganizationCreated materializes the root tenant row. The slug
// doubles as the root path label, so every descendant path starts with it.
func handleOrganizationCreated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	slug := p.StringDefault("slug", hierarchy.Slugify(p.String("name")))
	if err := hierarchy.ValidateLabel(slug); err != nil {
		return &domain.ValidationError{Field: "slug", Message: err.Error()}
	}

	org := domain.Organization{
		ID:        evt.StreamID,
		Slug:      slug,
		Name:      p.StringDefault("name", slug),
		Path:      slug,
		IsActive:  true,
		Metadata:  p.Map("metadata"),
		CreatedAt: eventTime(evt),
		UpdatedAt: eventTime(evt),
	}
	if err := repos.Organizations.InsertIfAbsent(ctx, org); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamOrganization, org.ID, "created", nil)
}

func handleOrganizationUpdated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	patch := domain.OrganizationPatch{
		Name:     p.StringPtr("name"),
		Metadata: p.Map("metadata"),
	}
	if err := repos.Organizations.UpdatePartial(ctx, evt.StreamID, patch); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamOrganization, evt.StreamID, "updated", nil)
}

// handleOrganizationDeactivated deactivates the tenant and cascades to its
// currently active unit descendants. The affected set is re-queried at
// processing time; a descendant list carried in the event payload is kept
// only as audit detail.
func handleOrganizationDeactivated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	org, err := repos.Organizations.GetByID(ctx, evt.StreamID)
	if err != nil {
		return err
	}
	if err := repos.Organizations.SetActive(ctx, org.ID, false); err != nil {
		return err
	}

	descendants, err := repos.Units.ListActiveDescendants(ctx, org.Path)
	if err != nil {
		return err
	}
	for _, unit := range descendants {
		if err := repos.Units.SetActive(ctx, unit.ID, false); err != nil {
			return err
		}
		detail := map[string]any{"cause_path": org.Path, "unit_path": unit.Path}
		if err := recordAudit(ctx, repos, evt, domain.StreamOrganizationUnit, unit.ID, "deactivated_cascade", detail); err != nil {
			return err
		}
	}
	if len(descendants) > 0 {
		log.Printf("projection: deactivation of organization %s cascaded to %d units", org.Slug, len(descendants))
	}

	detail := map[string]any{"reason": evt.EventMetadata.Reason, "cascaded_units": len(descendants)}
	return recordAudit(ctx, repos, evt, domain.StreamOrganization, org.ID, "deactivated", detail)
}

// handleOrganizationReactivated reactivates only the tenant itself. Units
// deactivated by the cascade stay inactive until reactivated individually.
func handleOrganizationReactivated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	if err := repos.Organizations.SetActive(ctx, evt.StreamID, true); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamOrganization, evt.StreamID, "reactivated", nil)
}

// handleOrganizationDeleted soft-deletes a tenant. Deletion is terminal and
// only legal from the deactivated state.
func handleOrganizationDeleted(ctx context.Context, repos repository.Set, evt domain.Event) error {
	org, err := repos.Organizations.GetByID(ctx, evt.StreamID)
	if err != nil {
		return err
	}
	if org.IsActive {
		return fmt.Errorf("organization %s is active and cannot be deleted", org.Slug)
	}
	if err := repos.Organizations.SoftDelete(ctx, org.ID, eventTime(evt)); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamOrganization, org.ID, "deleted", nil)
}
