package admission

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/casemark/gatekeeper/internal/api"
	"github.com/casemark/gatekeeper/internal/auth"
	"github.com/casemark/gatekeeper/internal/hitlog"
	"github.com/casemark/gatekeeper/internal/ratelimit"
)

// Handler exposes the admission service over HTTP.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type chatRequest struct {
	Prompt string `json:"prompt,omitempty"`
	Units  int    `json:"units,omitempty"`
}

type commitRequest struct {
	Units int `json:"units"`
}

type jobRequest struct {
	ContentType string `json:"content_type"`
	SizeBytes   int64  `json:"size_bytes"`
	Pages       int    `json:"pages"`
}

// AdmitChat decides a chat request. 200 with the allowance, or 429 with the
// structured denial.
func (h *Handler) AdmitChat(w http.ResponseWriter, r *http.Request) {
	ident := auth.GetIdentity(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid request body"))
		return
	}
	if req.Units < 0 {
		api.HandleError(w, api.NewBadRequestError("units must be non-negative"))
		return
	}

	allowance, denial := h.svc.AdmitChat(r.Context(),
		ident.CallerID, sessionID(r, ident), ident.Tier,
		req.Prompt, req.Units, r.Header.Get("X-Override-Key"))
	if denial != nil {
		WriteDenial(w, denial)
		return
	}
	api.JSON(w, http.StatusOK, allowance)
}

// CommitChat records actual consumption after the completion call.
func (h *Handler) CommitChat(w http.ResponseWriter, r *http.Request) {
	ident := auth.GetIdentity(r.Context())

	var req commitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Units <= 0 {
		api.HandleError(w, api.NewBadRequestError("units must be a positive integer"))
		return
	}

	h.svc.CommitChat(ident.CallerID, sessionID(r, ident), req.Units)
	api.JSONMessage(w, http.StatusOK, "usage committed")
}

// Usage returns the caller's quota snapshot.
func (h *Handler) Usage(w http.ResponseWriter, r *http.Request) {
	ident := auth.GetIdentity(r.Context())
	api.JSON(w, http.StatusOK, h.svc.UsageStats(ident.CallerID, sessionID(r, ident)))
}

// ResetSession zeroes the session's counters ("start new chat").
func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	if id == "" {
		api.HandleError(w, api.NewBadRequestError("session id required"))
		return
	}
	h.svc.ResetSession(id)
	api.JSONMessage(w, http.StatusOK, "session reset")
}

// CreateJob validates the file and admits a new OCR job.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	ident := auth.GetIdentity(r.Context())

	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Pages <= 0 {
		api.HandleError(w, api.NewBadRequestError("content_type, size_bytes, and a positive pages count are required"))
		return
	}

	view, denial := h.svc.AdmitOCRJob(r.Context(),
		ident.CallerID, sessionID(r, ident), ident.Tier,
		req.ContentType, req.SizeBytes, req.Pages, r.Header.Get("X-Override-Key"))
	if denial != nil {
		WriteDenial(w, denial)
		return
	}
	api.JSON(w, http.StatusCreated, view)
}

// GetJob returns a job snapshot for polling.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	view, found := h.svc.GetJob(id)
	if !found {
		api.HandleError(w, api.NewNotFoundError("job not found"))
		return
	}
	api.JSON(w, http.StatusOK, view)
}

// StartJob moves a queued job to processing. An illegal transition is
// reported as a conflict, not an error state change.
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (any, bool) {
		v, ok := h.svc.StartJob(id)
		return v, ok
	})
}

// CompleteJob finishes a job, committing its actual page count.
func (h *Handler) CompleteJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActualPages int `json:"actual_pages"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActualPages < 0 {
		api.HandleError(w, api.NewBadRequestError("actual_pages must be non-negative"))
		return
	}
	h.transition(w, r, func(id uuid.UUID) (any, bool) {
		v, ok := h.svc.CompleteJob(id, req.ActualPages)
		return v, ok
	})
}

// FailJob marks a job failed; no usage is committed.
func (h *Handler) FailJob(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	h.transition(w, r, func(id uuid.UUID) (any, bool) {
		v, ok := h.svc.FailJob(id, req.Error)
		return v, ok
	})
}

// CancelJob aborts a queued or processing job.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(id uuid.UUID) (any, bool) {
		v, ok := h.svc.CancelJob(id)
		return v, ok
	})
}

// ListHits returns recent denials, optionally filtered by caller or kind.
func (h *Handler) ListHits(w http.ResponseWriter, r *http.Request) {
	log := h.svc.Hits()

	if caller := r.URL.Query().Get("caller"); caller != "" {
		api.JSON(w, http.StatusOK, log.ByCaller(caller))
		return
	}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		api.JSON(w, http.StatusOK, log.ByKind(hitlog.Kind(kind)))
		return
	}

	n := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			n = parsed
		}
	}
	api.JSON(w, http.StatusOK, log.Recent(n))
}

// HitStats returns today's denial aggregate.
func (h *Handler) HitStats(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, h.svc.Hits().Stats())
}

// ClearHits drops all retained denials. Admin tier only.
func (h *Handler) ClearHits(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	h.svc.Hits().Clear()
	api.JSONMessage(w, http.StatusOK, "hit log cleared")
}

// RefreshConfig reloads ceilings from the environment. Admin tier only.
func (h *Handler) RefreshConfig(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	if err := h.svc.RefreshConfig(); err != nil {
		api.HandleError(w, api.ErrInternalServer)
		return
	}
	api.JSONMessage(w, http.StatusOK, "config refreshed")
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(uuid.UUID) (any, bool)) {
	id, ok := jobID(w, r)
	if !ok {
		return
	}
	view, applied := op(id)
	if !applied {
		// Unknown job or illegal transition; both are no-ops for the queue.
		api.HandleError(w, api.ErrConflict)
		return
	}
	api.JSON(w, http.StatusOK, view)
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if auth.GetIdentity(r.Context()).Tier != ratelimit.TierAdmin {
		api.HandleError(w, api.ErrForbidden)
		return false
	}
	return true
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		api.HandleError(w, api.NewBadRequestError("invalid job id"))
		return uuid.Nil, false
	}
	return id, true
}

// sessionID prefers the X-Session-ID header; without one the caller ID
// doubles as a single implicit session.
func sessionID(r *http.Request, ident auth.Identity) string {
	if sid := r.Header.Get("X-Session-ID"); sid != "" {
		return sid
	}
	return ident.CallerID
}
