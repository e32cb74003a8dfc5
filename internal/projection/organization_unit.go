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

// RegisterOrganizationUnitHandlers installs the unit hierarchy handlers.
func RegisterOrganizationUnitHandlers(r *router.Router) {
	r.Register(domain.StreamOrganizationUnit, domain.EventOrganizationUnitCreated, handleUnitCreated)
	r.Register(domain.StreamOrganizationUnit, domain.EventOrganizationUnitUpdated, handleUnitUpdated)
	r.Register(domain.StreamOrganizationUnit, domain.EventOrganizationUnitDeactivated, handleUnitDeactivated)
	r.Register(domain.StreamOrganizationUnit, domain.EventOrganizationUnitReactivated, handleUnitReactivated)
	r.Register(domain.StreamOrganizationUnit, domain.EventOrganizationUnitDeleted, handleUnitDeleted)
}

// handleUnitCreated materializes a hierarchy node. The path is fixed at
// creation: parent_path from the payload when nesting under another unit,
// otherwise the owning organization's root path.
func handleUnitCreated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	orgID, err := payloadUUID(p, "organization_id")
	if err != nil {
		return err
	}

	parentPath := p.String("parent_path")
	if parentPath == "" {
		org, err := repos.Organizations.GetByID(ctx, orgID)
		if err != nil {
			return fmt.Errorf("resolving parent for unit %s: %w", evt.StreamID, err)
		}
		parentPath = org.Path
	}

	slug := p.StringDefault("slug", hierarchy.Slugify(p.String("name")))
	if err := hierarchy.ValidateLabel(slug); err != nil {
		return &domain.ValidationError{Field: "slug", Message: err.Error()}
	}

	unit := domain.OrganizationUnit{
		ID:             evt.StreamID,
		OrganizationID: orgID,
		Slug:           slug,
		Name:           p.StringDefault("name", slug),
		Path:           hierarchy.Join(parentPath, slug),
		ParentPath:     parentPath,
		IsActive:       true,
		Metadata:       p.Map("metadata"),
		CreatedAt:      eventTime(evt),
		UpdatedAt:      eventTime(evt),
	}
	if err := repos.Units.InsertIfAbsent(ctx, unit); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamOrganizationUnit, unit.ID, "created", map[string]any{"path": unit.Path})
}

func handleUnitUpdated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	patch := domain.OrganizationUnitPatch{
		Name:     p.StringPtr("name"),
		Metadata: p.Map("metadata"),
	}
	if err := repos.Units.UpdatePartial(ctx, evt.StreamID, patch); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamOrganizationUnit, evt.StreamID, "updated", nil)
}

// handleUnitDeactivated deactivates a subtree root and every active unit
// below it. The descendant set is always the live one at processing time.
func handleUnitDeactivated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	unit, err := repos.Units.GetByID(ctx, evt.StreamID)
	if err != nil {
		return err
	}
	if err := repos.Units.SetActive(ctx, unit.ID, false); err != nil {
		return err
	}

	descendants, err := repos.Units.ListActiveDescendants(ctx, unit.Path)
	if err != nil {
		return err
	}
	for _, child := range descendants {
		if err := repos.Units.SetActive(ctx, child.ID, false); err != nil {
			return err
		}
		detail := map[string]any{"cause_path": unit.Path, "unit_path": child.Path}
		if err := recordAudit(ctx, repos, evt, domain.StreamOrganizationUnit, child.ID, "deactivated_cascade", detail); err != nil {
			return err
		}
	}
	if len(descendants) > 0 {
		log.Printf("projection: deactivation of unit %s cascaded to %d descendants", unit.Path, len(descendants))
	}

	detail := map[string]any{"reason": evt.EventMetadata.Reason, "cascaded_units": len(descendants)}
	return recordAudit(ctx, repos, evt, domain.StreamOrganizationUnit, unit.ID, "deactivated", detail)
}

// handleUnitReactivated reactivates exactly one node. Descendants that the
// earlier cascade turned off remain off until each is reactivated itself.
func handleUnitReactivated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	if err := repos.Units.SetActive(ctx, evt.StreamID, true); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamOrganizationUnit, evt.StreamID, "reactivated", nil)
}

func handleUnitDeleted(ctx context.Context, repos repository.Set, evt domain.Event) error {
	unit, err := repos.Units.GetByID(ctx, evt.StreamID)
	if err != nil {
		return err
	}
	if unit.IsActive {
		return fmt.Errorf("organization unit %s is active and cannot be deleted", unit.Path)
	}
	if err := repos.Units.SoftDelete(ctx, unit.ID, eventTime(evt)); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamOrganizationUnit, unit.ID, "deleted", nil)
}
