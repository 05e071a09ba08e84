package controllers

import (
	"net/http"
	"time"

	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/livehub"
	"github.com/rzbill/herald/internal/match"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// StreamController serves the live Server-Sent Events stream.
type StreamController struct {
	hub          *livehub.Hub
	writeTimeout time.Duration
	logger       logpkg.Logger
}

// NewStreamController creates a stream controller. writeTimeout bounds each
// frame; zero uses delivery.DefaultWriteTimeout.
func NewStreamController(hub *livehub.Hub, writeTimeout time.Duration, logger logpkg.Logger) *StreamController {
	if writeTimeout <= 0 {
		writeTimeout = delivery.DefaultWriteTimeout
	}
	return &StreamController{hub: hub, writeTimeout: writeTimeout, logger: logger.WithComponent("http.stream")}
}

// RegisterRoutes registers the stream route with the given mux.
func (c *StreamController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/stream", c.handleStream)
}

// handleStream registers the connection with the hub and holds it open
// until the client disconnects or the hub evicts it. Query parameters role,
// ownerIdentity and correlationId set its routing metadata.
func (c *StreamController) handleStream(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	q := r.URL.Query()
	meta := match.Meta{
		Role:          q.Get("role"),
		OwnerIdentity: q.Get("ownerIdentity"),
		CorrelationID: q.Get("correlationId"),
	}
	sse, err := delivery.NewSSEWriter(w, delivery.WithWriteTimeout(c.writeTimeout))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}
	// w is recycled once the handler returns; fan-outs that picked this
	// subscriber before Unregister must see a closed writer.
	defer sse.Close()
	sub := c.hub.Register(sse, meta)
	defer c.hub.Unregister(sub)

	select {
	case <-r.Context().Done():
	case <-sub.Done():
	}
}
