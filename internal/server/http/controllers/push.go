package controllers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/livehub"
	"github.com/rzbill/herald/internal/match"
	"github.com/rzbill/herald/internal/subscriptions"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// PushController manages browser push subscriptions and ad-hoc notifies.
type PushController struct {
	store      *subscriptions.Store
	dispatcher *subscriptions.Dispatcher
	hub        *livehub.Hub
	publicKey  string
	admin      adminGuard
	logger     logpkg.Logger
}

// NewPushController creates a push controller.
func NewPushController(store *subscriptions.Store, d *subscriptions.Dispatcher, hub *livehub.Hub, publicKey string, admin adminGuard, logger logpkg.Logger) *PushController {
	return &PushController{
		store:      store,
		dispatcher: d,
		hub:        hub,
		publicKey:  publicKey,
		admin:      admin,
		logger:     logger.WithComponent("http.push"),
	}
}

// RegisterRoutes registers push routes with the given mux.
func (c *PushController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/push/subscribe", c.handleSubscribe)
	mux.HandleFunc("/v1/push/unsubscribe", c.handleUnsubscribe)
	mux.HandleFunc("/v1/push/clear", c.handleClear)
	mux.HandleFunc("/v1/push/subscriptions", c.handleList)
	mux.HandleFunc("/v1/push/vapid-public-key", c.handlePublicKey)
	mux.HandleFunc("/v1/notify", c.handleNotify)
}

type subscribeReq struct {
	Subscription struct {
		Endpoint string `json:"endpoint"`
		Keys     struct {
			P256dh string `json:"p256dh"`
			Auth   string `json:"auth"`
		} `json:"keys"`
	} `json:"subscription"`
	OwnerIdentity string `json:"ownerIdentity"`
	Role          string `json:"role"`
}

// handleSubscribe stores the browser's PushSubscription. Re-subscribing an
// endpoint updates it in place.
func (c *PushController) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req subscribeReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	target := delivery.PushTarget{
		Endpoint: req.Subscription.Endpoint,
		P256dh:   req.Subscription.Keys.P256dh,
		Auth:     req.Subscription.Keys.Auth,
	}
	sub, err := c.store.Subscribe(r.Context(), target, req.OwnerIdentity, req.Role)
	if err != nil {
		if errors.Is(err, subscriptions.ErrInvalidSubscription) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		c.logger.Error("subscribe failed", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to save subscription")
		return
	}
	writeJSONStatus(w, http.StatusCreated, sub)
}

type unsubscribeReq struct {
	Endpoint string `json:"endpoint"`
}

func (c *PushController) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req unsubscribeReq
	if err := decodeJSON(r, &req, false); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "endpoint is required")
		return
	}
	if _, err := c.store.Unsubscribe(r.Context(), req.Endpoint); err != nil {
		c.logger.Error("unsubscribe failed", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to remove subscription")
		return
	}
	writeNoContent(w)
}

// handleClear drops every subscription, typically after rotating VAPID keys.
func (c *PushController) handleClear(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !c.admin.allow(w, r) {
		return
	}
	if err := c.store.ClearAll(r.Context()); err != nil {
		c.logger.Error("clear subscriptions failed", logpkg.Err(err))
		writeError(w, http.StatusInternalServerError, "Failed to clear subscriptions")
		return
	}
	c.logger.Warn("all push subscriptions cleared")
	writeNoContent(w)
}

func (c *PushController) handleList(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) || !c.admin.allow(w, r) {
		return
	}
	subs, err := c.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list subscriptions")
		return
	}
	if subs == nil {
		subs = []subscriptions.Subscription{}
	}
	writeJSON(w, map[string]any{"subscriptions": subs})
}

func (c *PushController) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if c.publicKey == "" {
		writeError(w, http.StatusNotFound, "push is not configured")
		return
	}
	writeJSON(w, map[string]string{"publicKey": c.publicKey})
}

type notifyReq struct {
	// Match is a CEL expression over role, ownerIdentity and correlationId.
	Match string `json:"match"`
	// Event, when set, is written to matching live connections with Payload.
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	// Notification, when it has a title, is pushed to matching subscriptions.
	Notification *delivery.Notification `json:"notification"`
}

type notifyResp struct {
	Live int                   `json:"live"`
	Push *subscriptions.Report `json:"push,omitempty"`
}

// handleNotify sends an operator-authored message to the recipients a CEL
// expression selects.
func (c *PushController) handleNotify(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) || !c.admin.allow(w, r) {
		return
	}
	var req notifyReq
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Match == "" {
		req.Match = "true"
	}
	m, err := match.Compile(req.Match)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid match expression: "+err.Error())
		return
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		writeError(w, http.StatusBadRequest, "payload must be JSON")
		return
	}
	var resp notifyResp
	if req.Event != "" && c.hub != nil {
		payload := req.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		resp.Live = c.hub.SendTo(m, req.Event, payload)
	}
	if req.Notification != nil && req.Notification.Title != "" && c.dispatcher != nil {
		rep, err := c.dispatcher.Dispatch(r.Context(), m, *req.Notification)
		if err != nil {
			c.logger.Error("notify dispatch failed", logpkg.Err(err))
			writeError(w, http.StatusInternalServerError, "Failed to dispatch push")
			return
		}
		resp.Push = &rep
	}
	writeJSON(w, resp)
}
