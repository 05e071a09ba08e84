package controllers

import (
	"net/http"

	"github.com/rzbill/herald/internal/livehub"
	"github.com/rzbill/herald/internal/runtime"
)

// GeneralController handles health and stats endpoints.
type GeneralController struct {
	rt  *runtime.Runtime
	hub *livehub.Hub
}

// NewGeneralController creates a new general controller.
func NewGeneralController(rt *runtime.Runtime, hub *livehub.Hub) *GeneralController {
	return &GeneralController{rt: rt, hub: hub}
}

// RegisterRoutes registers general routes with the given mux.
func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/stats", c.handleStats)
}

// handleHealth returns the health status of the service.
//
// Returns 200 OK with {"status": "ok"} if healthy, 503 Service Unavailable otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type liveStats struct {
	Connections int            `json:"connections"`
	ByRole      map[string]int `json:"byRole"`
}

// handleStats reports live connections, stored subscriptions and queue depth.
func (c *GeneralController) handleStats(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	subs, err := c.rt.Subscriptions().Len(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count subscriptions")
		return
	}
	qs, err := c.rt.Queue().Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to read queue stats")
		return
	}
	live := liveStats{ByRole: map[string]int{}}
	if c.hub != nil {
		for _, s := range c.hub.Snapshot() {
			live.Connections++
			role := s.Meta.Role
			if role == "" {
				role = "none"
			}
			live.ByRole[role]++
		}
	}
	writeJSON(w, map[string]any{
		"live":          live,
		"subscriptions": subs,
		"queue":         qs,
	})
}
