package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// PushTarget is the addressable part of a browser push subscription.
type PushTarget struct {
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// Notification is the JSON document handed to the service worker.
type Notification struct {
	Title              string          `json:"title"`
	Body               string          `json:"body,omitempty"`
	Icon               string          `json:"icon,omitempty"`
	Badge              string          `json:"badge,omitempty"`
	Tag                string          `json:"tag,omitempty"`
	URL                string          `json:"url,omitempty"`
	Vibrate            []int           `json:"vibrate,omitempty"`
	RequireInteraction *bool           `json:"requireInteraction,omitempty"`
	Data               json.RawMessage `json:"data,omitempty"`
}

// Merge returns defaults overlaid with every field n sets.
func (n Notification) Merge(defaults Notification) Notification {
	out := defaults
	if n.Title != "" {
		out.Title = n.Title
	}
	if n.Body != "" {
		out.Body = n.Body
	}
	if n.Icon != "" {
		out.Icon = n.Icon
	}
	if n.Badge != "" {
		out.Badge = n.Badge
	}
	if n.Tag != "" {
		out.Tag = n.Tag
	}
	if n.URL != "" {
		out.URL = n.URL
	}
	if n.Vibrate != nil {
		out.Vibrate = n.Vibrate
	}
	if n.RequireInteraction != nil {
		out.RequireInteraction = n.RequireInteraction
	}
	if n.Data != nil {
		out.Data = n.Data
	}
	return out
}

// PushClient sends one encrypted push message.
type PushClient interface {
	Send(ctx context.Context, target PushTarget, payload []byte) error
}

// WebPushConfig carries the VAPID identity and send tuning.
type WebPushConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	// Subscriber is the contact (email or https URL) sent in the VAPID claim.
	Subscriber  string
	TTL         time.Duration
	SendTimeout time.Duration
	HTTPClient  *http.Client
}

// WebPushClient delivers messages through the Web Push protocol.
type WebPushClient struct {
	cfg WebPushConfig
}

// NewWebPushClient returns a client. With either VAPID key missing every Send
// returns ErrNotConfigured.
func NewWebPushClient(cfg WebPushConfig) *WebPushClient {
	if cfg.TTL <= 0 {
		cfg.TTL = 60 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	// webpush-go adds the mailto: scheme itself
	cfg.Subscriber = strings.TrimPrefix(cfg.Subscriber, "mailto:")
	return &WebPushClient{cfg: cfg}
}

// Configured reports whether VAPID keys are present.
func (c *WebPushClient) Configured() bool {
	return c.cfg.VAPIDPublicKey != "" && c.cfg.VAPIDPrivateKey != ""
}

// PublicKey returns the VAPID application server key browsers subscribe with.
func (c *WebPushClient) PublicKey() string { return c.cfg.VAPIDPublicKey }

func (c *WebPushClient) Send(ctx context.Context, target PushTarget, payload []byte) error {
	if !c.Configured() {
		return ErrNotConfigured
	}
	if c.cfg.SendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.SendTimeout)
		defer cancel()
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: target.Endpoint,
		Keys:     webpush.Keys{P256dh: target.P256dh, Auth: target.Auth},
	}, &webpush.Options{
		HTTPClient:      c.cfg.HTTPClient,
		Subscriber:      c.cfg.Subscriber,
		VAPIDPublicKey:  c.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: c.cfg.VAPIDPrivateKey,
		TTL:             int(c.cfg.TTL / time.Second),
		Urgency:         webpush.UrgencyHigh,
	})
	if err != nil {
		return transient("push", 0, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return classifyStatus(resp.StatusCode)
}

// GenerateVAPIDKeys returns a fresh base64url-encoded VAPID key pair.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	privateKey, publicKey, err = webpush.GenerateVAPIDKeys()
	return publicKey, privateKey, err
}
