package projection

import (
	"context"

	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/router"
)

// RegisterPrescriptionHandlers installs the order/refill ledger handlers.
func RegisterPrescriptionHandlers(r *router.Router) {
	r.Register(domain.StreamPrescription, domain.EventPrescriptionWritten, handlePrescriptionWritten)
	r.Register(domain.StreamPrescription, domain.EventPrescriptionFilled, handlePrescriptionFilled)
	r.Register(domain.StreamPrescription, domain.EventPrescriptionCancelled, handlePrescriptionCancelled)
}

func handlePrescriptionWritten(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	medID, err := payloadUUID(p, "medication_id")
	if err != nil {
		return err
	}
	orgID, err := payloadUUID(p, "organization_id")
	if err != nil {
		return err
	}
	path := p.String("path")
	if path == "" {
		// The referenced medication record carries the tenant path.
		med, err := repos.Medications.GetByID(ctx, medID)
		if err != nil {
			return err
		}
		path = med.Path
	}

	prescription := domain.Prescription{
		ID:               evt.StreamID,
		MedicationID:     medID,
		OrganizationID:   orgID,
		Quantity:         p.Int("quantity"),
		RefillsRemaining: p.Int("refills_remaining"),
		Status:           domain.PrescriptionStatusWritten,
		Path:             path,
		CreatedAt:        eventTime(evt),
		UpdatedAt:        eventTime(evt),
	}
	if err := repos.Prescriptions.InsertIfAbsent(ctx, prescription); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamPrescription, prescription.ID, "written", nil)
}

func handlePrescriptionFilled(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	status := domain.PrescriptionStatusFilled
	patch := domain.PrescriptionPatch{
		Status:           &status,
		RefillsRemaining: p.IntPtr("refills_remaining"),
	}
	if err := repos.Prescriptions.UpdatePartial(ctx, evt.StreamID, patch); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamPrescription, evt.StreamID, "filled", nil)
}

func handlePrescriptionCancelled(ctx context.Context, repos repository.Set, evt domain.Event) error {
	status := domain.PrescriptionStatusCancelled
	patch := domain.PrescriptionPatch{Status: &status}
	if err := repos.Prescriptions.UpdatePartial(ctx, evt.StreamID, patch); err != nil {
		return err
	}
	reason := Payload(evt.EventData).StringFallback("cancel_reason", "reason")
	return recordAudit(ctx, repos, evt, domain.StreamPrescription, evt.StreamID, "cancelled", map[string]any{"reason": reason})
}
