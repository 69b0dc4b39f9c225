package bulkactions

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"selectcore/internal/core"
	"selectcore/pkg/domain"
)

// DefaultSyncThreshold caps the estimated selection size a synchronous
// execution request may carry; larger selections always run async.
const DefaultSyncThreshold = 500

// Handler provides HTTP access to selections and bulk executions.
type Handler struct {
	Service  *core.Service
	Jobs     Scheduler
	Registry *Registry

	// SyncThreshold overrides DefaultSyncThreshold when positive.
	SyncThreshold int
}

// NewHandler constructs the API handler.
func NewHandler(service *core.Service, jobs Scheduler, registry *Registry) *Handler {
	return &Handler{Service: service, Jobs: jobs, Registry: registry}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Service == nil {
		writeError(w, http.StatusInternalServerError, "selection service not configured")
		return
	}

	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/api/v1/selections":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleCreateSelection(w, r)
	case strings.HasPrefix(path, "/api/v1/selections/"):
		h.handleSelection(w, r, strings.TrimPrefix(path, "/api/v1/selections/"))
	case path == "/api/v1/bulk-actions":
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleExecute(w, r)
	case strings.HasPrefix(path, "/api/v1/bulk-actions/"):
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleJobStatus(w, strings.TrimPrefix(path, "/api/v1/bulk-actions/"))
	case path == "/api/v1/actions":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		h.handleListActions(w)
	default:
		http.NotFound(w, r)
	}
}

type createSelectionRequest struct {
	Filter    domain.FilterDescriptor `json:"filter"`
	Selection json.RawMessage         `json:"selection,omitempty"`
	Pin       bool                    `json:"pin,omitempty"`
	SingleUse bool                    `json:"single_use,omitempty"`
}

type selectionResponse struct {
	Token     string            `json:"token"`
	Mode      string            `json:"mode"`
	Basis     basisPayload      `json:"basis"`
	SingleUse bool              `json:"single_use,omitempty"`
	Estimate  *int              `json:"estimate,omitempty"`
	IDs       []domain.RecordID `json:"ids,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type basisPayload struct {
	Kind    string                 `json:"kind"`
	Version domain.SnapshotVersion `json:"version,omitempty"`
}

func (h *Handler) handleCreateSelection(w http.ResponseWriter, r *http.Request) {
	var req createSelectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid selection request payload")
		return
	}

	selection := domain.NewSelection()
	if len(req.Selection) > 0 {
		decoded, err := domain.DecodeSelection(req.Selection)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		selection = decoded
	}

	token, err := h.Service.CreateSelection(r.Context(), core.CreateSelectionInput{
		Filter:    req.Filter,
		Selection: selection,
		Pin:       req.Pin,
		SingleUse: req.SingleUse,
	})
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}

	resp := selectionTokenResponse(token)
	if estimate, err := h.Service.EstimateCount(r.Context(), token.ID); err == nil {
		resp.Estimate = &estimate
	}
	writeJSON(w, http.StatusCreated, map[string]any{"selection": resp})
}

func (h *Handler) handleSelection(w http.ResponseWriter, r *http.Request, remainder string) {
	segments := strings.Split(remainder, "/")
	id := segments[0]
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if len(segments) == 2 && segments[1] == "estimate" {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		estimate, err := h.Service.EstimateCount(r.Context(), id)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"token": id, "estimate": estimate})
		return
	}
	if len(segments) != 1 {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		token, err := h.Service.ResolveToken(r.Context(), id)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"selection": selectionTokenResponse(token)})
	case http.MethodDelete:
		if err := h.Service.InvalidateSelection(r.Context(), id); err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

type executeRequest struct {
	Token       string         `json:"token"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params,omitempty"`
	Sync        bool           `json:"sync,omitempty"`
	Concurrency int            `json:"concurrency,omitempty"`
	TimeoutMS   int            `json:"timeout_ms,omitempty"`
	Dedupe      bool           `json:"dedupe,omitempty"`
	RequestedBy string         `json:"requested_by,omitempty"`
	Reason      string         `json:"reason,omitempty"`
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	if h.Jobs == nil {
		writeError(w, http.StatusInternalServerError, "execution scheduler not configured")
		return
	}
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid execution request payload")
		return
	}
	if req.Token == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "token and action required")
		return
	}

	input := JobInput{
		Token:       req.Token,
		Action:      req.Action,
		Params:      req.Params,
		RequestedBy: req.RequestedBy,
		Reason:      req.Reason,
		Concurrency: req.Concurrency,
		Timeout:     time.Duration(req.TimeoutMS) * time.Millisecond,
		Dedupe:      req.Dedupe,
	}

	if req.Sync && h.withinSyncThreshold(r, req.Token) {
		record, err := h.Jobs.RunSync(r.Context(), input)
		if err != nil {
			writeError(w, statusForError(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"job": record})
		return
	}

	record, err := h.Jobs.EnqueueJob(r.Context(), input)
	if err != nil {
		writeError(w, statusForError(err), err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"job": record})
}

// withinSyncThreshold gates synchronous execution on the advisory
// estimate. Estimate failures fall through to async; the background path
// surfaces the real error.
func (h *Handler) withinSyncThreshold(r *http.Request, token string) bool {
	threshold := h.SyncThreshold
	if threshold <= 0 {
		threshold = DefaultSyncThreshold
	}
	estimate, err := h.Service.EstimateCount(r.Context(), token)
	return err == nil && estimate <= threshold
}

func (h *Handler) handleJobStatus(w http.ResponseWriter, id string) {
	if h.Jobs == nil || id == "" {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	record, ok := h.Jobs.GetJob(id)
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": record})
}

func (h *Handler) handleListActions(w http.ResponseWriter) {
	var kinds []string
	if h.Registry != nil {
		kinds = h.Registry.Kinds()
	}
	sort.Strings(kinds)
	writeJSON(w, http.StatusOK, map[string]any{"actions": kinds})
}

func selectionTokenResponse(token domain.SelectionToken) selectionResponse {
	return selectionResponse{
		Token:     token.ID,
		Mode:      string(token.Selection.Mode()),
		Basis:     basisPayload{Kind: string(token.Basis.Kind), Version: token.Basis.Version},
		SingleUse: token.SingleUse,
		IDs:       token.Selection.ActiveIDs(),
		CreatedAt: token.CreatedAt,
		ExpiresAt: token.ExpiresAt,
	}
}

func statusForError(err error) int {
	var notFound domain.TokenNotFoundError
	var expired domain.TokenExpiredError
	var invalid domain.InvalidFilterError
	var snapMissing domain.SnapshotNotFoundError
	var unavailable domain.StoreUnavailableError
	switch {
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &expired):
		return http.StatusGone
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &snapMissing):
		return http.StatusConflict
	case errors.As(err, &unavailable), errors.Is(err, ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": message})
}
