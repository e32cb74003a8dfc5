package projection

import (
	"context"

	"github.com/carebridge/carebridge/internal/domain"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/router"
)

// RegisterMedicationHandlers installs the medication record handlers.
func RegisterMedicationHandlers(r *router.Router) {
	r.Register(domain.StreamMedication, domain.EventMedicationPrescribed, handleMedicationPrescribed)
	r.Register(domain.StreamMedication, domain.EventMedicationUpdated, handleMedicationUpdated)
	r.Register(domain.StreamMedication, domain.EventMedicationDiscontinued, handleMedicationDiscontinued)
}

func handleMedicationPrescribed(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	orgID, err := payloadUUID(p, "organization_id")
	if err != nil {
		return err
	}
	path := p.String("path")
	if path == "" {
		return &domain.ValidationError{Field: "path", Message: "medication events must carry the tenant path"}
	}

	med := domain.Medication{
		ID:             evt.StreamID,
		OrganizationID: orgID,
		Reference:      p.String("reference"),
		PatientName:    p.String("patient_name"),
		MedicationName: p.String("medication_name"),
		Dosage:         p.String("dosage"),
		PrescriberName: p.String("prescriber_name"),
		Status:         domain.MedicationStatusActive,
		Path:           path,
		Metadata:       p.Map("metadata"),
		CreatedAt:      eventTime(evt),
		UpdatedAt:      eventTime(evt),
	}
	if med.Reference == "" {
		return &domain.ValidationError{Field: "reference", Message: "medication reference is required"}
	}
	if err := repos.Medications.InsertIfAbsent(ctx, med); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamMedication, med.ID, "prescribed", nil)
}

// handleMedicationUpdated applies only the fields present in the payload.
// A dosage-only update leaves patient and prescriber columns untouched.
func handleMedicationUpdated(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	patch := domain.MedicationPatch{
		PatientName:    p.StringPtr("patient_name"),
		MedicationName: p.StringPtr("medication_name"),
		Dosage:         p.StringPtr("dosage"),
		PrescriberName: p.StringPtr("prescriber_name"),
		Metadata:       p.Map("metadata"),
	}
	if err := repos.Medications.UpdatePartial(ctx, evt.StreamID, patch); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamMedication, evt.StreamID, "updated", nil)
}

// handleMedicationDiscontinued closes the record. Older producers sent the
// reason under "reason"; newer ones use "discontinue_reason".
func handleMedicationDiscontinued(ctx context.Context, repos repository.Set, evt domain.Event) error {
	p := Payload(evt.EventData)
	status := domain.MedicationStatusDiscontinued
	reason := p.StringFallback("discontinue_reason", "reason")

	patch := domain.MedicationPatch{Status: &status}
	if reason != "" {
		patch.DiscontinueReason = &reason
	}
	if err := repos.Medications.UpdatePartial(ctx, evt.StreamID, patch); err != nil {
		return err
	}
	return recordAudit(ctx, repos, evt, domain.StreamMedication, evt.StreamID, "discontinued", map[string]any{"reason": reason})
}
