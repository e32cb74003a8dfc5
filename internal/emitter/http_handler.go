package emitter

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/carebridge/carebridge/internal/domain"
)

// Handler exposes the emitter over HTTP.
type Handler struct {
	service *Service
	mux     *http.ServeMux
}

// NewHTTPHandler builds the event API: emit, query, retry and replay.
func NewHTTPHandler(service *Service) http.Handler {
	h := &Handler{service: service, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /events", h.emit)
	h.mux.HandleFunc("GET /events", h.query)
	h.mux.HandleFunc("GET /events/{id}", h.get)
	h.mux.HandleFunc("POST /events/{id}/retry", h.retry)
	h.mux.HandleFunc("POST /streams/{type}/{id}/replay", h.replay)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) emit(w http.ResponseWriter, r *http.Request) {
	var req EmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	event, err := h.service.Emit(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, event)
}

func (h *Handler) query(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if correlationID := strings.TrimSpace(q.Get("correlation_id")); correlationID != "" {
		events, err := h.service.ListCorrelation(r.Context(), correlationID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}

	if q.Has("failed") {
		limit, _ := strconv.Atoi(q.Get("limit"))
		events, err := h.service.ListFailed(r.Context(), limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}

	streamID, err := uuid.Parse(q.Get("stream_id"))
	if err != nil {
		http.Error(w, "stream_id or correlation_id is required", http.StatusBadRequest)
		return
	}
	streamType := strings.TrimSpace(q.Get("stream_type"))
	if streamType == "" {
		http.Error(w, "stream_type is required", http.StatusBadRequest)
		return
	}

	events, err := h.service.ListStream(r.Context(), streamID, streamType)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	event, err := h.service.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handler) retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid event id", http.StatusBadRequest)
		return
	}
	event, err := h.service.RetryEvent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid stream id", http.StatusBadRequest)
		return
	}
	summary, err := h.service.ReplayStream(r.Context(), id, r.PathValue("type"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func writeError(w http.ResponseWriter, err error) {
	var (
		validationErr *domain.ValidationError
		authErr       *domain.AuthorizationError
		unknownErr    *domain.UnknownEventTypeError
	)
	switch {
	case errors.As(err, &validationErr), errors.As(err, &unknownErr):
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

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
