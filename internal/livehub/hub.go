package livehub

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/match"
	"github.com/rzbill/herald/internal/metrics"
	logpkg "github.com/rzbill/herald/pkg/log"
)

// EventConnected is sent to every connection right after Register.
const EventConnected = "connected"

// Subscriber is one registered live connection.
type Subscriber struct {
	ID          string
	Meta        match.Meta
	ConnectedAt time.Time

	conn     delivery.StreamConn
	done     chan struct{}
	doneOnce sync.Once

	mu        sync.Mutex
	lastWrite time.Time
}

// Done is closed when the hub evicts the subscriber. Transports should stop
// serving the connection once it fires.
func (s *Subscriber) Done() <-chan struct{} { return s.done }

func (s *Subscriber) close() { s.doneOnce.Do(func() { close(s.done) }) }

func (s *Subscriber) touch(t time.Time) {
	s.mu.Lock()
	s.lastWrite = t
	s.mu.Unlock()
}

// LastWrite returns when a write last succeeded.
func (s *Subscriber) LastWrite() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWrite
}

// Info is a read-only view of a subscriber.
type Info struct {
	ID          string     `json:"id"`
	Meta        match.Meta `json:"meta"`
	ConnectedAt time.Time  `json:"connectedAt"`
	LastWriteAt time.Time  `json:"lastWriteAt"`
}

// Options tune a Hub.
type Options struct {
	// HeartbeatInterval between keep-alive frames. Zero disables Run's ticker.
	HeartbeatInterval time.Duration
	// StaleAfter evicts subscribers with no successful write for this long.
	// Zero keeps them until Unregister.
	StaleAfter time.Duration
	Logger     logpkg.Logger
	Metrics    metrics.Recorder
	Now        func() time.Time
}

// Hub is the in-memory registry of live connections.
type Hub struct {
	opts   Options
	logger logpkg.Logger
	rec    metrics.Recorder

	mu   sync.RWMutex
	subs map[string]*Subscriber
}

// New returns an empty hub.
func New(opts Options) *Hub {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Hub{
		opts:   opts,
		logger: logger.WithComponent("livehub"),
		rec:    metrics.OrNop(opts.Metrics),
		subs:   make(map[string]*Subscriber),
	}
}

// Register adds conn with its routing metadata and immediately sends it a
// connected acknowledgement carrying the subscriber id.
func (h *Hub) Register(conn delivery.StreamConn, meta match.Meta) *Subscriber {
	now := h.opts.Now()
	sub := &Subscriber{
		ID:          uuid.NewString(),
		Meta:        meta,
		ConnectedAt: now,
		conn:        conn,
		done:        make(chan struct{}),
		lastWrite:   now,
	}
	h.mu.Lock()
	h.subs[sub.ID] = sub
	n := len(h.subs)
	h.mu.Unlock()
	h.rec.LiveConnections(n)

	ack, _ := json.Marshal(map[string]any{"id": sub.ID, "meta": meta, "connectedAt": now})
	h.write(sub, EventConnected, ack)
	h.logger.Debug("live subscriber registered",
		logpkg.Str("id", sub.ID),
		logpkg.Str("role", meta.Role),
		logpkg.Int("connections", n),
	)
	return sub
}

// Unregister removes sub. Safe to call more than once.
func (h *Hub) Unregister(sub *Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	_, ok := h.subs[sub.ID]
	delete(h.subs, sub.ID)
	n := len(h.subs)
	h.mu.Unlock()
	sub.close()
	if ok {
		h.rec.LiveConnections(n)
		h.logger.Debug("live subscriber unregistered", logpkg.Str("id", sub.ID), logpkg.Int("connections", n))
	}
}

// Broadcast writes event to every subscriber and returns how many writes
// succeeded. A failed write is logged; the subscriber stays registered.
func (h *Hub) Broadcast(event string, payload []byte) int {
	return h.SendTo(match.Everyone{}, event, payload)
}

// SendTo writes event to every subscriber whose metadata satisfies m and
// returns how many writes succeeded. Writes run concurrently, so a stalled
// connection only delays its own frame.
func (h *Hub) SendTo(m match.Matcher, event string, payload []byte) int {
	delivered, failed := each(h.selectSubs(m), func(sub *Subscriber) bool {
		return h.write(sub, event, payload)
	})
	h.rec.LiveWrite(event, delivered, failed)
	return delivered
}

// Len returns the number of registered subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Snapshot lists the registered subscribers ordered by connect time.
func (h *Hub) Snapshot() []Info {
	subs := h.selectSubs(match.Everyone{})
	out := make([]Info, len(subs))
	for i, s := range subs {
		out[i] = Info{ID: s.ID, Meta: s.Meta, ConnectedAt: s.ConnectedAt, LastWriteAt: s.LastWrite()}
	}
	return out
}

// Run sends heartbeats every HeartbeatInterval and, when StaleAfter is set,
// evicts subscribers whose writes have been failing for longer than that.
// It returns when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	if h.opts.HeartbeatInterval <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTicker(h.opts.HeartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.Heartbeat()
		}
	}
}

// Heartbeat writes a keep-alive comment to every subscriber and then evicts
// stale ones. It returns the number evicted.
func (h *Hub) Heartbeat() int {
	each(h.selectSubs(match.Everyone{}), func(sub *Subscriber) bool {
		if err := sub.conn.Comment("ping"); err != nil {
			return false
		}
		sub.touch(h.opts.Now())
		return true
	})
	return h.EvictStale()
}

// EvictStale unregisters subscribers with no successful write within
// StaleAfter. It is a no-op when StaleAfter is zero.
func (h *Hub) EvictStale() int {
	if h.opts.StaleAfter <= 0 {
		return 0
	}
	cutoff := h.opts.Now().Add(-h.opts.StaleAfter)
	evicted := 0
	for _, sub := range h.selectSubs(match.Everyone{}) {
		if sub.LastWrite().Before(cutoff) {
			h.Unregister(sub)
			evicted++
			h.logger.Info("evicted stale live subscriber", logpkg.Str("id", sub.ID), logpkg.Time("last_write", sub.LastWrite()))
		}
	}
	return evicted
}

// Close evicts every subscriber.
func (h *Hub) Close() {
	for _, sub := range h.selectSubs(match.Everyone{}) {
		h.Unregister(sub)
	}
}

func (h *Hub) selectSubs(m match.Matcher) []*Subscriber {
	h.mu.RLock()
	out := make([]*Subscriber, 0, len(h.subs))
	for _, s := range h.subs {
		if m.Match(s.Meta) {
			out = append(out, s)
		}
	}
	h.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].ConnectedAt.Equal(out[j].ConnectedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].ConnectedAt.Before(out[j].ConnectedAt)
	})
	return out
}

func (h *Hub) write(sub *Subscriber, event string, payload []byte) bool {
	if err := sub.conn.Send(event, payload); err != nil {
		h.logger.Warn("live write failed",
			logpkg.Str("id", sub.ID),
			logpkg.Str("event", event),
			logpkg.Err(err),
		)
		return false
	}
	sub.touch(h.opts.Now())
	return true
}

// each calls fn for every subscriber, one goroutine per subscriber, and
// returns once all calls have finished.
func each(subs []*Subscriber, fn func(*Subscriber) bool) (ok, failed int) {
	if len(subs) == 1 {
		if fn(subs[0]) {
			return 1, 0
		}
		return 0, 1
	}
	var (
		wg sync.WaitGroup
		n  atomic.Int64
	)
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscriber) {
			defer wg.Done()
			if fn(sub) {
				n.Add(1)
			}
		}(sub)
	}
	wg.Wait()
	ok = int(n.Load())
	return ok, len(subs) - ok
}
