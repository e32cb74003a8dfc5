package query

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/domain"
)

// Handler exposes the projection read side over HTTP.
type Handler struct {
	service *Service
	mux     *http.ServeMux
}

// NewHTTPHandler wires the read endpoints.
func NewHTTPHandler(service *Service) http.Handler {
	h := &Handler{service: service, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /organizations", h.listOrganizations)
	h.mux.HandleFunc("GET /organizations/{id}", h.getOrganization)
	h.mux.HandleFunc("GET /organizations/{id}/units", h.listUnits)
	h.mux.HandleFunc("GET /organizations/{id}/medications", h.listMedications)
	h.mux.HandleFunc("GET /organizations/{id}/contacts", h.listContacts)
	h.mux.HandleFunc("GET /organization-units/{id}", h.getUnit)
	h.mux.HandleFunc("GET /medications/{id}", h.getMedication)
	h.mux.HandleFunc("GET /medications/{id}/prescriptions", h.listPrescriptions)
	h.mux.HandleFunc("GET /invitations/{id}", h.getInvitation)
	h.mux.HandleFunc("GET /aggregates/{id}/audit", h.listAudit)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) listOrganizations(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.service.ListOrganizations(r.Context())
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryJSON(w, orgs)
}

func (h *Handler) getOrganization(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	org, err := h.service.GetOrganization(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryJSON(w, org)
}

func (h *Handler) listUnits(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	units, err := h.service.ListOrganizationUnits(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryJSON(w, units)
}

func (h *Handler) listMedications(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	meds, err := h.service.ListMedications(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryJSON(w, meds)
}

func (h *Handler) listContacts(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	contacts, err := h.service.ListContacts(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryJSON(w, contacts)
}

func (h *Handler) getUnit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	unit, err := h.service.GetOrganizationUnit(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryJSON(w, unit)
}

func (h *Handler) getMedication(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	med, err := h.service.GetMedication(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryJSON(w, med)
}

func (h *Handler) listPrescriptions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	scripts, err := h.service.ListPrescriptions(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryJSON(w, scripts)
}

func (h *Handler) getInvitation(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	inv, err := h.service.GetInvitation(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryJSON(w, inv)
}

func (h *Handler) listAudit(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListAuditByAggregate(r.Context(), id)
	if err != nil {
		writeQueryError(w, err)
		return
	}
	writeQueryJSON(w, entries)
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func writeQueryError(w http.ResponseWriter, err error) {
	var authErr *domain.AuthorizationError
	switch {
	case errors.As(err, &authErr):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeQueryJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
