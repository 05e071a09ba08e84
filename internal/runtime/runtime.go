package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	cfgpkg "github.com/rzbill/herald/internal/config"
	"github.com/rzbill/herald/internal/retryqueue"
	pebblestore "github.com/rzbill/herald/internal/storage/pebble"
	"github.com/rzbill/herald/internal/subscriptions"
)

// Options for building the Runtime.
type Options struct {
	DataDir       string
	Fsync         pebblestore.FsyncMode
	FsyncInterval time.Duration
	Config        cfgpkg.Config
	// Metrics observes storage latencies. Optional.
	Metrics pebblestore.MetricsHook
	// AllowInsecurePush accepts http:// push endpoints (tests, local dev).
	AllowInsecurePush bool
}

// Runtime owns the durable state of a herald instance: the push
// subscription store and the email retry queue, both kept in one Pebble
// database.
type Runtime struct {
	db     *pebblestore.DB
	config cfgpkg.Config
	subs   *subscriptions.Store
	queue  *retryqueue.Queue
}

// Open initializes the underlying storage and returns a Runtime.
func Open(opts Options) (*Runtime, error) {
	db, err := pebblestore.Open(pebblestore.Options{
		DataDir:       opts.DataDir,
		Fsync:         opts.Fsync,
		FsyncInterval: opts.FsyncInterval,
		Metrics:       opts.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("runtime: open store: %w", err)
	}
	var storeOpts []subscriptions.StoreOption
	if opts.AllowInsecurePush {
		storeOpts = append(storeOpts, subscriptions.WithInsecureEndpoints())
	}
	rt := &Runtime{
		db:     db,
		config: opts.Config,
		subs:   subscriptions.NewStore(db, storeOpts...),
		queue:  retryqueue.Open(db),
	}
	return rt, nil
}

// Close closes underlying resources.
func (r *Runtime) Close() error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// CheckHealth verifies the store is open and readable.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if r.db == nil {
		return errors.New("db not open")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// Subscriptions returns the push subscription store.
func (r *Runtime) Subscriptions() *subscriptions.Store { return r.subs }

// Queue returns the email retry queue.
func (r *Runtime) Queue() *retryqueue.Queue { return r.queue }

// DB exposes the underlying DB for advanced operations (internal use only).
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Config returns the runtime configuration.
func (r *Runtime) Config() cfgpkg.Config { return r.config }
