package saga

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/domain"
)

// Handler exposes the saga participant operations over HTTP. Forward
// operations are POSTs keyed by natural key, compensations are DELETEs;
// both are safe for the orchestrator to retry.
type Handler struct {
	service *Service
	mux     *http.ServeMux
}

// NewHTTPHandler wires the saga endpoints.
func NewHTTPHandler(service *Service) http.Handler {
	h := &Handler{service: service, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /sagas/organizations", h.createOrganization)
	h.mux.HandleFunc("DELETE /sagas/organizations/{id}", h.deleteOrganization)
	h.mux.HandleFunc("POST /sagas/organization-units", h.createUnit)
	h.mux.HandleFunc("DELETE /sagas/organization-units/{id}", h.deleteUnit)
	h.mux.HandleFunc("POST /sagas/medications", h.recordMedication)
	h.mux.HandleFunc("POST /sagas/invitations", h.sendInvitation)
	h.mux.HandleFunc("POST /sagas/invitations/{id}/accept", h.acceptInvitation)
	h.mux.HandleFunc("DELETE /sagas/invitations/{id}", h.revokeInvitation)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type createOrganizationRequest struct {
	Slug string `json:"slug"`
	Name string `json:"name"`
}

func (h *Handler) createOrganization(w http.ResponseWriter, r *http.Request) {
	var req createOrganizationRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.service.CreateOrganization(r.Context(), req.Slug, req.Name)
	if err != nil {
		writeSagaError(w, err)
		return
	}
	writeID(w, id)
}

func (h *Handler) deleteOrganization(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid organization id", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteOrganization(r.Context(), id); err != nil {
		writeSagaError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createUnitRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Slug           string    `json:"slug"`
	Name           string    `json:"name"`
	ParentPath     string    `json:"parent_path,omitempty"`
}

func (h *Handler) createUnit(w http.ResponseWriter, r *http.Request) {
	var req createUnitRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.service.CreateOrganizationUnit(r.Context(), req.OrganizationID, req.Slug, req.Name, req.ParentPath)
	if err != nil {
		writeSagaError(w, err)
		return
	}
	writeID(w, id)
}

func (h *Handler) deleteUnit(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid organization unit id", http.StatusBadRequest)
		return
	}
	if err := h.service.DeleteOrganizationUnit(r.Context(), id); err != nil {
		writeSagaError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type recordMedicationRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Reference      string    `json:"reference"`
	PatientName    string    `json:"patient_name"`
	MedicationName string    `json:"medication_name"`
	Dosage         string    `json:"dosage"`
	PrescriberName string    `json:"prescriber_name,omitempty"`
	Path           string    `json:"path,omitempty"`
}

func (h *Handler) recordMedication(w http.ResponseWriter, r *http.Request) {
	var req recordMedicationRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.service.RecordMedication(r.Context(), MedicationRequest{
		OrganizationID: req.OrganizationID,
		Reference:      req.Reference,
		PatientName:    req.PatientName,
		MedicationName: req.MedicationName,
		Dosage:         req.Dosage,
		PrescriberName: req.PrescriberName,
		Path:           req.Path,
	})
	if err != nil {
		writeSagaError(w, err)
		return
	}
	writeID(w, id)
}

type sendInvitationRequest struct {
	OrganizationID uuid.UUID `json:"organization_id"`
	Email          string    `json:"email"`
}

func (h *Handler) sendInvitation(w http.ResponseWriter, r *http.Request) {
	var req sendInvitationRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	id, err := h.service.SendInvitation(r.Context(), req.OrganizationID, req.Email)
	if err != nil {
		writeSagaError(w, err)
		return
	}
	writeID(w, id)
}

type acceptInvitationRequest struct {
	UserID string `json:"user_id"`
}

func (h *Handler) acceptInvitation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid invitation id", http.StatusBadRequest)
		return
	}
	var req acceptInvitationRequest
	if err := decode(r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.service.AcceptInvitation(r.Context(), id, req.UserID); err != nil {
		writeSagaError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeInvitation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid invitation id", http.StatusBadRequest)
		return
	}
	if err := h.service.RevokeInvitation(r.Context(), id); err != nil {
		writeSagaError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeID(w http.ResponseWriter, id uuid.UUID) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(map[string]string{"id": id.String()})
}

func writeSagaError(w http.ResponseWriter, err error) {
	var (
		validationErr *domain.ValidationError
		authErr       *domain.AuthorizationError
	)
	switch {
	case errors.As(err, &validationErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &authErr):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrConcurrencyConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
