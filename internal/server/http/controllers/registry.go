package controllers

import (
	"net/http"
	"time"

	"github.com/rzbill/herald/internal/fanout"
	"github.com/rzbill/herald/internal/livehub"
	"github.com/rzbill/herald/internal/retryqueue"
	"github.com/rzbill/herald/internal/runtime"
	"github.com/rzbill/herald/internal/subscriptions"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// Deps are the components the controllers serve.
type Deps struct {
	Runtime      *runtime.Runtime
	Hub          *livehub.Hub
	Dispatcher   *subscriptions.Dispatcher
	Orchestrator *fanout.Orchestrator
	Processor    *retryqueue.Processor
	// VAPIDPublicKey is handed to browsers before they subscribe.
	VAPIDPublicKey string
	// AdminToken guards privileged endpoints; empty disables them.
	AdminToken string
	// BatchLimit is the default for manual queue passes.
	BatchLimit int
	// StreamWriteTimeout bounds each SSE frame write; zero uses the
	// delivery default.
	StreamWriteTimeout time.Duration
	Logger             logpkg.Logger
}

// ControllerRegistry manages all HTTP controllers.
//
// It provides a centralized way to register all controller routes
// and manages the lifecycle of individual controllers.
type ControllerRegistry struct {
	general *GeneralController
	push    *PushController
	stream  *StreamController
	events  *EventsController
	queue   *QueueController
}

// NewControllerRegistry creates a new controller registry.
func NewControllerRegistry(d Deps) *ControllerRegistry {
	if d.Logger == nil {
		d.Logger = logpkg.NewNop()
	}
	admin := adminGuard{token: d.AdminToken}
	return &ControllerRegistry{
		general: NewGeneralController(d.Runtime, d.Hub),
		push:    NewPushController(d.Runtime.Subscriptions(), d.Dispatcher, d.Hub, d.VAPIDPublicKey, admin, d.Logger),
		stream:  NewStreamController(d.Hub, d.StreamWriteTimeout, d.Logger),
		events:  NewEventsController(d.Orchestrator, d.Logger),
		queue:   NewQueueController(d.Runtime.Queue(), d.Processor, d.BatchLimit, admin),
	}
}

// RegisterAllRoutes registers all controller routes with the given mux.
//
// This covers health and stats, push subscription management, the live
// event stream, event intake and the retry queue admin surface.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.push.RegisterRoutes(mux)
	r.stream.RegisterRoutes(mux)
	r.events.RegisterRoutes(mux)
	r.queue.RegisterRoutes(mux)
}
