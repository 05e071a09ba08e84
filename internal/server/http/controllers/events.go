package controllers

import (
	"errors"
	"net/http"

	"github.com/rzbill/herald/internal/fanout"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// EventsController accepts booking events from the booking service.
type EventsController struct {
	orch   *fanout.Orchestrator
	logger logpkg.Logger
}

// NewEventsController creates an events controller.
func NewEventsController(o *fanout.Orchestrator, logger logpkg.Logger) *EventsController {
	return &EventsController{orch: o, logger: logger.WithComponent("http.events")}
}

// RegisterRoutes registers the intake route with the given mux.
func (c *EventsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/events", c.handlePublish)
}

// handlePublish hands the event to the orchestrator and answers 202 without
// waiting for any delivery.
func (c *EventsController) handlePublish(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var ev fanout.Event
	if err := decodeJSON(r, &ev, false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := c.orch.Publish(r.Context(), ev); err != nil {
		if errors.Is(err, fanout.ErrClosed) {
			writeError(w, http.StatusServiceUnavailable, "shutting down")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
