package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/match"
	"github.com/rzbill/herald/internal/metrics"
	"github.com/rzbill/herald/internal/retryqueue"
	"github.com/rzbill/herald/internal/subscriptions"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("fanout: orchestrator closed")

// Live writes events to open connections.
type Live interface {
	SendTo(m match.Matcher, event string, payload []byte) int
	Broadcast(event string, payload []byte) int
}

// Push sends browser push notifications.
type Push interface {
	Dispatch(ctx context.Context, m match.Matcher, n delivery.Notification) (subscriptions.Report, error)
}

// Enqueuer stores mail for a later retry.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg delivery.Message, relatedID string) (retryqueue.Item, error)
}

// Options tune an Orchestrator.
type Options struct {
	// OperatorAddress receives booking.created mail. Empty skips that mail.
	OperatorAddress string
	// MailTimeout bounds the direct send. Default 15s.
	MailTimeout time.Duration
	// BroadcastFallback additionally broadcasts FallbackEvent to every live
	// connection on confirmation.
	BroadcastFallback bool
	FallbackEvent     string
	Templates         *Templates
	Logger            logpkg.Logger
	Metrics           metrics.Recorder
}

// Orchestrator fans one booking event out to live connections, push
// subscriptions and email. The three branches run on their own goroutines
// and never affect each other or the publisher.
type Orchestrator struct {
	live  Live
	push  Push
	mail  delivery.MailClient
	queue Enqueuer
	opts  Options
	log   logpkg.Logger
	rec   metrics.Recorder

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	mailNotConfigured atomic.Bool
	noOperatorInbox   atomic.Bool
}

// New wires an orchestrator. Any channel may be nil to disable it.
func New(live Live, push Push, mail delivery.MailClient, queue Enqueuer, opts Options) *Orchestrator {
	if opts.MailTimeout <= 0 {
		opts.MailTimeout = 15 * time.Second
	}
	if opts.FallbackEvent == "" {
		opts.FallbackEvent = "bookings.changed"
	}
	if opts.Templates == nil {
		opts.Templates = DefaultTemplates()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Orchestrator{
		live:  live,
		push:  push,
		mail:  mail,
		queue: queue,
		opts:  opts,
		log:   logger.WithComponent("fanout"),
		rec:   metrics.OrNop(opts.Metrics),
	}
}

// Publish validates ev and schedules its delivery. It does not wait for any
// channel; the returned error only reports an invalid event or a closed
// orchestrator. Cancelling ctx after Publish returns does not stop delivery.
func (o *Orchestrator) Publish(ctx context.Context, ev Event) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}

	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	o.rec.EventPublished(string(ev.Kind))

	ctx = context.WithoutCancel(ctx)
	ctx, span := otel.Tracer("herald/fanout").Start(ctx, "fanout.publish",
		trace.WithAttributes(
			attribute.String("kind", string(ev.Kind)),
			attribute.String("booking_id", ev.BookingID),
		))
	branches := []func(context.Context, Event){o.sendLive, o.sendPush, o.sendMail}
	var pending sync.WaitGroup
	pending.Add(len(branches))
	o.wg.Add(len(branches))
	for _, fn := range branches {
		go func(fn func(context.Context, Event)) {
			defer o.wg.Done()
			defer pending.Done()
			fn(ctx, ev)
		}(fn)
	}
	go func() {
		pending.Wait()
		span.End()
	}()
	return nil
}

// Wait blocks until every scheduled branch has finished or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close rejects further events and waits for in-flight ones like Wait.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()
	return o.Wait(ctx)
}

func (o *Orchestrator) sendLive(ctx context.Context, ev Event) {
	if o.live == nil {
		return
	}
	body := ev.Body()
	var n int
	switch ev.Kind {
	case KindCreated:
		n = o.live.SendTo(match.Role(match.RoleOperator), string(ev.Kind), body)
	case KindConfirmed:
		n = o.live.SendTo(confirmedAudience(ev), string(ev.Kind), body)
		if o.opts.BroadcastFallback {
			fb, _ := json.Marshal(map[string]string{"bookingId": ev.BookingID, "kind": string(ev.Kind)})
			o.live.Broadcast(o.opts.FallbackEvent, fb)
		}
	}
	o.log.WithContext(ctx).Debug("live delivery done",
		logpkg.Str("kind", string(ev.Kind)),
		logpkg.Str("booking_id", ev.BookingID),
		logpkg.Int("delivered", n),
	)
}

func (o *Orchestrator) sendPush(ctx context.Context, ev Event) {
	if o.push == nil {
		return
	}
	var m match.Matcher = match.Role(match.RoleOperator)
	if ev.Kind == KindConfirmed {
		m = match.Identity(ev.OwnerIdentity)
	}
	rep, err := o.push.Dispatch(ctx, m, o.opts.Templates.Push(ev))
	log := o.log.WithContext(ctx).With(logpkg.Str("kind", string(ev.Kind)), logpkg.Str("booking_id", ev.BookingID))
	if err != nil {
		log.Error("push dispatch failed", logpkg.Err(err))
		return
	}
	log.Debug("push dispatch done",
		logpkg.Int("matched", rep.Matched),
		logpkg.Int("sent", rep.Sent),
		logpkg.Int("pruned", rep.Pruned),
		logpkg.Int("failed", rep.Failed),
	)
}

func (o *Orchestrator) sendMail(ctx context.Context, ev Event) {
	if o.mail == nil {
		return
	}
	log := o.log.WithContext(ctx).With(logpkg.Str("kind", string(ev.Kind)), logpkg.Str("booking_id", ev.BookingID))

	to := ev.contact()
	if ev.Kind == KindCreated {
		to = o.opts.OperatorAddress
		if to == "" {
			if o.noOperatorInbox.CompareAndSwap(false, true) {
				log.Warn("operator mail address not configured; skipping booking.created mail")
			}
			return
		}
	}
	if to == "" {
		log.Debug("no contact address; skipping mail")
		return
	}
	msg, err := o.opts.Templates.Mail(ev, to)
	if err != nil {
		log.Error("render mail failed", logpkg.Err(err))
		return
	}

	sctx, cancel := context.WithTimeout(ctx, o.opts.MailTimeout)
	err = o.mail.Send(sctx, msg)
	cancel()
	o.rec.MailResult("direct", delivery.Kind(err))
	switch {
	case err == nil:
		log.Debug("mail sent", logpkg.Str("to", to))
		return
	case errors.Is(err, delivery.ErrNotConfigured):
		if o.mailNotConfigured.CompareAndSwap(false, true) {
			log.Warn("mail not configured; skipping email notifications")
		}
		return
	}

	if o.queue == nil {
		log.Warn("mail send failed", logpkg.Str("to", to), logpkg.Err(err))
		return
	}
	it, qerr := o.queue.Enqueue(ctx, msg, ev.BookingID)
	if qerr != nil {
		log.Error("mail send failed and could not be queued",
			logpkg.Str("to", to), logpkg.Err(err), logpkg.Str("queue_error", qerr.Error()))
		return
	}
	o.rec.QueueEnqueued()
	log.Warn("mail send failed; queued for retry",
		logpkg.Str("to", to),
		logpkg.Str("item_id", it.ID),
		logpkg.Err(err),
	)
}

// confirmedAudience selects the booking owner, every operator and any tab
// following the booking.
func confirmedAudience(ev Event) match.Matcher {
	return match.AnyOf{
		match.Identity(ev.OwnerIdentity),
		match.Role(match.RoleOperator),
		match.Correlation(ev.BookingID),
	}
}
