package projection

import (
	"testing"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/domain"
)

func TestMedicationPrescribed_Idempotent(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	medID := uuid.New()
	orgID := uuid.New()
	evt := makeEvent(medID, domain.StreamMedication, domain.EventMedicationPrescribed, map[string]any{
		"organization_id": orgID.String(),
		"reference":       "rx-1001",
		"patient_name":    "Jordan Lee",
		"medication_name": "Lisinopril",
		"dosage":          "10mg",
		"prescriber_name": "Dr. Okafor",
		"path":            "acme.cardiology",
	})

	if err := r.Dispatch(ctx, repos, evt); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if err := r.Dispatch(ctx, repos, evt); err != nil {
		t.Fatalf("redelivery: %v", err)
	}

	meds, err := repos.Medications.List(ctx, orgID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(meds) != 1 {
		t.Fatalf("expected one record, got %d", len(meds))
	}
	if meds[0].Status != domain.MedicationStatusActive {
		t.Fatalf("new record must be active, got %q", meds[0].Status)
	}
}

func TestMedicationUpdated_DosageOnlyKeepsPrescriber(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	medID := uuid.New()
	orgID := uuid.New()
	create := makeEvent(medID, domain.StreamMedication, domain.EventMedicationPrescribed, map[string]any{
		"organization_id": orgID.String(),
		"reference":       "rx-1001",
		"patient_name":    "Jordan Lee",
		"medication_name": "Lisinopril",
		"dosage":          "10mg",
		"prescriber_name": "Dr. Okafor",
		"path":            "acme.cardiology",
	})
	if err := r.Dispatch(ctx, repos, create); err != nil {
		t.Fatalf("create: %v", err)
	}

	update := makeEvent(medID, domain.StreamMedication, domain.EventMedicationUpdated,
		map[string]any{"dosage": "20mg"})
	if err := r.Dispatch(ctx, repos, update); err != nil {
		t.Fatalf("update: %v", err)
	}

	med, err := repos.Medications.GetByID(ctx, medID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if med.Dosage != "20mg" {
		t.Fatalf("dosage not updated: %q", med.Dosage)
	}
	if med.PrescriberName != "Dr. Okafor" {
		t.Fatalf("thin update must not blank the prescriber, got %q", med.PrescriberName)
	}
	if med.PatientName != "Jordan Lee" {
		t.Fatalf("thin update must not blank the patient, got %q", med.PatientName)
	}
}

func TestMedicationDiscontinued_ReasonFieldFallback(t *testing.T) {
	r, repos, ctx := newTestRouter(t)
	orgID := uuid.New()

	cases := []struct {
		name string
		data map[string]any
		want string
	}{
		{"current key", map[string]any{"discontinue_reason": "adverse reaction"}, "adverse reaction"},
		{"legacy key", map[string]any{"reason": "superseded"}, "superseded"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			medID := uuid.New()
			create := makeEvent(medID, domain.StreamMedication, domain.EventMedicationPrescribed, map[string]any{
				"organization_id": orgID.String(),
				"reference":       "rx-" + medID.String()[:8],
				"medication_name": "Metformin",
				"path":            "acme",
			})
			if err := r.Dispatch(ctx, repos, create); err != nil {
				t.Fatalf("create: %v", err)
			}

			disc := makeEvent(medID, domain.StreamMedication, domain.EventMedicationDiscontinued, tc.data)
			if err := r.Dispatch(ctx, repos, disc); err != nil {
				t.Fatalf("discontinue: %v", err)
			}

			med, err := repos.Medications.GetByID(ctx, medID)
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if med.Status != domain.MedicationStatusDiscontinued {
				t.Fatalf("status: %q", med.Status)
			}
			if med.DiscontinueReason != tc.want {
				t.Fatalf("reason: got %q want %q", med.DiscontinueReason, tc.want)
			}
		})
	}
}
