package export

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/carebridge/carebridge/internal/domain"
)

// Handler exposes the report exports over HTTP.
type Handler struct {
	service *Service
	mux     *http.ServeMux
}

// NewHTTPHandler wires the export endpoints.
func NewHTTPHandler(service *Service) http.Handler {
	h := &Handler{service: service, mux: http.NewServeMux()}
	h.mux.HandleFunc("GET /exports/correlations/{id}", h.correlation)
	h.mux.HandleFunc("GET /exports/failed-events", h.failedEvents)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) correlation(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("id")
	f, err := h.service.CorrelationWorkbook(r.Context(), correlationID)
	if err != nil {
		writeExportError(w, err)
		return
	}
	name := fmt.Sprintf("transaction-%s.xlsx", sanitizeFileComponent(correlationID))
	serveWorkbook(w, f, name)
}

func (h *Handler) failedEvents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	f, err := h.service.FailedEventsWorkbook(r.Context(), limit)
	if err != nil {
		writeExportError(w, err)
		return
	}
	serveWorkbook(w, f, "failed-events.xlsx")
}

func serveWorkbook(w http.ResponseWriter, f *excelize.File, filename string) {
	defer f.Close()
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	if err := f.Write(w); err != nil {
		// Headers are already gone; all we can do is log via the server.
		http.Error(w, fmt.Sprintf("write workbook: %v", err), http.StatusInternalServerError)
	}
}

func writeExportError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var authErr *domain.AuthorizationError
	switch {
	case errors.As(err, &validationErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &authErr):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func sanitizeFileComponent(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	builder := strings.Builder{}
	for _, r := range value {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			builder.WriteRune(r)
		default:
			builder.WriteRune('-')
		}
	}
	result := strings.Trim(builder.String(), "-")
	if result == "" {
		return "export"
	}
	return result
}
