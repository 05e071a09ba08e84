package subscriptions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/match"
	"github.com/rzbill/herald/internal/metrics"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// Report summarizes one dispatch pass.
type Report struct {
	Matched int `json:"matched"`
	Sent    int `json:"sent"`
	Pruned  int `json:"pruned"`
	Failed  int `json:"failed"`
	// Skipped is set when push is not configured and nothing was attempted.
	Skipped bool `json:"skipped,omitempty"`
}

// Dispatcher sends push notifications to the subscriptions a matcher selects.
type Dispatcher struct {
	store    *Store
	client   delivery.PushClient
	defaults delivery.Notification
	logger   logpkg.Logger
	metrics  metrics.Recorder

	notConfigured sync.Once
}

// NewDispatcher wires a dispatcher. defaults supplies the notification
// fields callers leave empty.
func NewDispatcher(store *Store, client delivery.PushClient, defaults delivery.Notification, logger logpkg.Logger, rec metrics.Recorder) *Dispatcher {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Dispatcher{
		store:    store,
		client:   client,
		defaults: defaults,
		logger:   logger.WithComponent("push"),
		metrics:  metrics.OrNop(rec),
	}
}

// Dispatch sends n to every subscription matching m, in endpoint order.
// Subscriptions reported gone are removed together in one write after the
// pass, even when the pass ends early. Other failures are logged and
// counted; they never stop the pass.
func (d *Dispatcher) Dispatch(ctx context.Context, m match.Matcher, n delivery.Notification) (Report, error) {
	ctx, span := otel.Tracer("herald/push").Start(ctx, "push.dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("match", m.String()))

	var rep Report
	subs, err := d.store.List(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load subscriptions")
		return rep, err
	}
	payload, err := json.Marshal(n.Merge(d.defaults))
	if err != nil {
		return rep, fmt.Errorf("push: encode notification: %w", err)
	}
	log := d.logger.WithContext(ctx)

	var gone []string
send:
	for _, sub := range subs {
		if !m.Match(sub.Meta()) {
			continue
		}
		rep.Matched++
		err := d.client.Send(ctx, sub.Target(), payload)
		d.metrics.PushResult(delivery.Kind(err))
		switch {
		case err == nil:
			rep.Sent++
		case errors.Is(err, delivery.ErrNotConfigured):
			d.notConfigured.Do(func() {
				log.Warn("push not configured; skipping push notifications")
			})
			rep.Matched = 0
			rep.Skipped = true
			span.SetAttributes(attribute.Bool("skipped", true))
			break send
		case errors.Is(err, delivery.ErrGone):
			gone = append(gone, sub.Endpoint)
			log.Info("push subscription gone", logpkg.Str("endpoint", sub.Endpoint))
		default:
			rep.Failed++
			log.Warn("push send failed", logpkg.Str("endpoint", sub.Endpoint), logpkg.Err(err))
		}
		if ctx.Err() != nil {
			break
		}
	}

	if len(gone) > 0 {
		// prune even if the dispatch context was cancelled mid-pass
		pruned, err := d.store.Remove(context.WithoutCancel(ctx), gone)
		if err != nil {
			log.Error("prune gone subscriptions failed", logpkg.Int("count", len(gone)), logpkg.Err(err))
			span.RecordError(err)
		}
		rep.Pruned = pruned
		d.metrics.PushPruned(pruned)
	}
	span.SetAttributes(
		attribute.Int("matched", rep.Matched),
		attribute.Int("sent", rep.Sent),
		attribute.Int("pruned", rep.Pruned),
		attribute.Int("failed", rep.Failed),
	)
	return rep, nil
}
