package retryqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/metrics"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// ErrBusy is returned by TryProcess while another pass is running.
var ErrBusy = errors.New("retryqueue: pass already running")

// Options tune a Processor.
type Options struct {
	// Interval between timer-driven passes. Default 30s.
	Interval time.Duration
	// BatchLimit caps items per pass. Default 20.
	BatchLimit int
	// SendTimeout bounds each send. Default 15s.
	SendTimeout time.Duration
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MaxAttempts moves an item to the dead state once it has failed this
	// many times. Zero retries forever.
	MaxAttempts int
	Logger      logpkg.Logger
	Metrics     metrics.Recorder
}

// Processor drains due queue items through a mail client.
type Processor struct {
	q      *Queue
	client delivery.MailClient
	opts   Options
	logger logpkg.Logger
	rec    metrics.Recorder
	busy   atomic.Bool
}

// NewProcessor wires a processor for q.
func NewProcessor(q *Queue, client delivery.MailClient, opts Options) *Processor {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.BatchLimit <= 0 {
		opts.BatchLimit = 20
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 15 * time.Second
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Processor{
		q:      q,
		client: client,
		opts:   opts,
		logger: logger.WithComponent("retryqueue"),
		rec:    metrics.OrNop(opts.Metrics),
	}
}

// Run processes the queue once immediately and then on every tick until ctx
// is done. A tick that fires while a pass is still running is skipped.
func (p *Processor) Run(ctx context.Context) {
	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()
	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.tick(ctx)
		}
	}
}

func (p *Processor) tick(ctx context.Context) {
	n, err := p.TryProcess(ctx, p.opts.BatchLimit)
	switch {
	case errors.Is(err, ErrBusy):
		p.logger.Debug("retry pass still running; tick skipped")
	case err != nil && ctx.Err() == nil:
		p.logger.Error("retry pass failed", logpkg.Err(err))
	case n > 0:
		p.logger.Info("retry pass delivered", logpkg.Int("sent", n))
	}
	if st, err := p.q.Stats(ctx); err == nil {
		p.rec.QueueDepth(st.Pending, st.Dead)
	}
}

// TryProcess runs ProcessQueue unless a pass is already in flight, in which
// case it returns ErrBusy without touching the queue.
func (p *Processor) TryProcess(ctx context.Context, batchLimit int) (int, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return 0, ErrBusy
	}
	defer p.busy.Store(false)
	return p.ProcessQueue(ctx, batchLimit)
}

// ProcessQueue sends up to batchLimit due items, oldest first. Sent items
// are deleted; failed ones are rescheduled with Backoff or, past
// MaxAttempts or on a permanent error, marked dead. It returns the number
// of items sent. Callers must not run passes concurrently; use TryProcess.
func (p *Processor) ProcessQueue(ctx context.Context, batchLimit int) (int, error) {
	ctx, span := otel.Tracer("herald/retryqueue").Start(ctx, "retryqueue.process")
	defer span.End()

	due, err := p.q.Due(ctx, batchLimit)
	if err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	results := make(map[string]outcome, len(due))
	sent := 0
	for _, it := range due {
		if ctx.Err() != nil {
			break
		}
		err := p.send(ctx, it)
		at := p.q.now()
		p.rec.MailResult("retry", delivery.Kind(err))
		if err == nil {
			sent++
			results[it.ID] = outcome{sent: true, attempt: at}
			continue
		}
		if errors.Is(err, delivery.ErrNotConfigured) {
			// relay removed since enqueue; leave items untouched
			p.logger.Warn("mail not configured; retry pass stopped")
			break
		}
		dead := delivery.IsPermanent(err) || (p.opts.MaxAttempts > 0 && it.Attempts+1 >= p.opts.MaxAttempts)
		results[it.ID] = outcome{err: err, dead: dead, attempt: at}
		log := p.logger.With(logpkg.Str("id", it.ID), logpkg.Int("attempts", it.Attempts+1), logpkg.Err(err))
		if dead {
			log.Error("email abandoned")
		} else {
			log.Warn("email retry failed")
		}
	}
	span.SetAttributes(attribute.Int("due", len(due)), attribute.Int("sent", sent))

	if len(results) == 0 {
		return 0, nil
	}
	// results must be recorded even if ctx was cancelled during sends
	if err := p.q.apply(context.WithoutCancel(ctx), results, p.backoff); err != nil {
		return sent, err
	}
	return sent, nil
}

func (p *Processor) send(ctx context.Context, it Item) error {
	sctx, cancel := context.WithTimeout(ctx, p.opts.SendTimeout)
	defer cancel()
	err := p.client.Send(sctx, it.Message)
	if err == nil && sctx.Err() != nil {
		return sctx.Err()
	}
	return err
}

func (p *Processor) backoff(attempts int) time.Duration {
	return Backoff(attempts, p.opts.BaseDelay, p.opts.MaxDelay)
}
