package controllers

import (
	"errors"
	"net/http"

	"github.com/rzbill/herald/internal/retryqueue"
)

// QueueController exposes the email retry queue to operators. Every route
// is privileged.
type QueueController struct {
	q          *retryqueue.Queue
	p          *retryqueue.Processor
	batchLimit int
	admin      adminGuard
}

// NewQueueController creates a queue controller.
func NewQueueController(q *retryqueue.Queue, p *retryqueue.Processor, batchLimit int, admin adminGuard) *QueueController {
	if batchLimit <= 0 {
		batchLimit = 20
	}
	return &QueueController{q: q, p: p, batchLimit: batchLimit, admin: admin}
}

// RegisterRoutes registers queue routes with the given mux.
func (c *QueueController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/queue", c.handleList)
	mux.HandleFunc("/v1/queue/process", c.handleProcess)
	mux.HandleFunc("/v1/queue/requeue", c.handleRequeue)
	mux.HandleFunc("/v1/queue/purge", c.handlePurge)
}

// handleList returns queue items, optionally filtered by ?state=pending|dead
// and capped by ?limit=.
func (c *QueueController) handleList(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !c.admin.allow(w, r) {
		return
	}
	state := retryqueue.State(r.URL.Query().Get("state"))
	switch state {
	case "", retryqueue.StatePending, retryqueue.StateDead:
	default:
		writeError(w, http.StatusBadRequest, "state must be pending or dead")
		return
	}
	items, err := c.q.List(r.Context(), state)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list queue")
		return
	}
	if limit := parseLimit(r.URL.Query().Get("limit")); limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if items == nil {
		items = []retryqueue.Item{}
	}
	stats, err := c.q.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}
	writeJSON(w, map[string]any{"items": items, "stats": stats})
}

type processReq struct {
	Limit int `json:"limit"`
}

// handleProcess runs one retry pass now. It answers 409 while a timer pass
// is still running.
func (c *QueueController) handleProcess(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !c.admin.allow(w, r) {
		return
	}
	var req processReq
	if err := decodeJSON(r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = c.batchLimit
	}
	sent, err := c.p.TryProcess(r.Context(), limit)
	switch {
	case errors.Is(err, retryqueue.ErrBusy):
		writeError(w, http.StatusConflict, "a retry pass is already running")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "Retry pass failed")
		return
	}
	writeJSON(w, map[string]int{"sent": sent})
}

type requeueReq struct {
	ID string `json:"id"`
}

func (c *QueueController) handleRequeue(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !c.admin.allow(w, r) {
		return
	}
	var req requeueReq
	if err := decodeJSON(r, &req, false); err != nil || req.ID == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if err := c.q.Requeue(r.Context(), req.ID); err != nil {
		if errors.Is(err, retryqueue.ErrNotFound) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to requeue")
		return
	}
	writeNoContent(w)
}

func (c *QueueController) handlePurge(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !c.admin.allow(w, r) {
		return
	}
	n, err := c.q.Purge(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to purge")
		return
	}
	writeJSON(w, map[string]int{"purged": n})
}
