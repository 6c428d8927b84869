package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"logiesync/internal/applier"
	"logiesync/internal/domain"

	"github.com/google/uuid"
)

// ChangeReader is the changelog query surface exposed over HTTP.
type ChangeReader interface {
	ChangesByRun(ctx context.Context, runID uuid.UUID) ([]domain.ChangeRecord, error)
	EntityHistory(ctx context.Context, table, entityID string) ([]domain.ChangeRecord, error)
	ChangesInWindow(ctx context.Context, from, to time.Time) ([]domain.ChangeRecord, error)
	Summary(ctx context.Context, runID uuid.UUID) (map[string]domain.OperationCounts, error)
}

// CaptureControl toggles change capture per table for bulk maintenance.
type CaptureControl interface {
	Enable(ctx context.Context, table string) error
	Disable(ctx context.Context, table string) error
}

// Handler exposes the reconciliation engine as an HTTP API.
type Handler struct {
	service *Service
	changes ChangeReader
	capture CaptureControl
}

// NewHTTPHandler builds the API routes.
func NewHTTPHandler(service *Service, changes ChangeReader, capture CaptureControl) http.Handler {
	h := &Handler{service: service, changes: changes, capture: capture}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /reconcile", h.reconcile)
	mux.HandleFunc("GET /runs", h.listRuns)
	mux.HandleFunc("GET /runs/{id}", h.getRun)
	mux.HandleFunc("GET /runs/{id}/changes", h.runChanges)
	mux.HandleFunc("GET /runs/{id}/summary", h.runSummary)
	mux.HandleFunc("GET /changes", h.changesInWindow)
	mux.HandleFunc("GET /entities/{table}/{id}/history", h.entityHistory)
	mux.HandleFunc("POST /capture/{table}/enable", h.enableCapture)
	mux.HandleFunc("POST /capture/{table}/disable", h.disableCapture)
	return mux
}

type reconcileRequest struct {
	Mode   string                  `json:"mode"`
	Source domain.SourceDescriptor `json:"source"`
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	mode := applier.Commit
	switch strings.ToUpper(strings.TrimSpace(req.Mode)) {
	case "", string(applier.Commit):
	case string(applier.DryRun):
		mode = applier.DryRun
	default:
		http.Error(w, fmt.Sprintf("unknown mode %q", req.Mode), http.StatusBadRequest)
		return
	}

	result, err := h.service.Reconcile(r.Context(), req.Source, mode)
	if err != nil {
		// The run record, when one was opened, documents the failure too.
		writeJSON(w, statusForError(err), map[string]any{
			"error": err.Error(),
			"run":   result.Run,
		})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	runs, err := h.service.RecentRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	runRecord, err := h.service.GetRun(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, runRecord)
}

func (h *Handler) runChanges(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	records, err := h.changes.ChangesByRun(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": records})
}

func (h *Handler) runSummary(w http.ResponseWriter, r *http.Request) {
	runID, ok := parseRunID(w, r)
	if !ok {
		return
	}

	summary, err := h.changes.Summary(r.Context(), runID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (h *Handler) changesInWindow(w http.ResponseWriter, r *http.Request) {
	to := time.Now()
	from := to.Add(-24 * time.Hour)

	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, fmt.Sprintf("invalid from: %v", err), http.StatusBadRequest)
			return
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse(time.RFC3339, raw); err != nil {
			http.Error(w, fmt.Sprintf("invalid to: %v", err), http.StatusBadRequest)
			return
		}
	}

	records, err := h.changes.ChangesInWindow(r.Context(), from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": records})
}

func (h *Handler) entityHistory(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	entityID := r.PathValue("id")

	records, err := h.changes.EntityHistory(r.Context(), table, entityID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

func (h *Handler) enableCapture(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	if err := h.capture.Enable(r.Context(), table); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "capture": "enabled"})
}

func (h *Handler) disableCapture(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")
	if err := h.capture.Disable(r.Context(), table); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"table": table, "capture": "disabled"})
}

func parseRunID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid run id: %v", err), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return runID, true
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, domain.ErrStaleChangeSet),
		errors.Is(err, domain.ErrDuplicateKey),
		errors.Is(err, domain.ErrRunAlreadyClosed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSchemaMismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSourceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrRunCancelled), errors.Is(err, context.Canceled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
