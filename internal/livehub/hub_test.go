package livehub

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/match"
)

type frame struct {
	event string
	data  string
}

type fakeConn struct {
	mu       sync.Mutex
	frames   []frame
	comments int
	err      error
}

func (c *fakeConn) Send(event string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, frame{event, string(data)})
	return nil
}

func (c *fakeConn) Comment(string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.comments++
	return nil
}

func (c *fakeConn) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
}

func (c *fakeConn) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, f := range c.frames {
		out[i] = f.event
	}
	return out
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestRegisterSendsConnectedAck(t *testing.T) {
	h := New(Options{})
	conn := &fakeConn{}
	sub := h.Register(conn, match.Meta{Role: match.RoleOperator})

	require.Len(t, conn.frames, 1)
	assert.Equal(t, EventConnected, conn.frames[0].event)
	var ack struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal([]byte(conn.frames[0].data), &ack))
	assert.Equal(t, sub.ID, ack.ID)
	assert.Equal(t, 1, h.Len())
}

func TestUnregisterIdempotent(t *testing.T) {
	h := New(Options{})
	sub := h.Register(&fakeConn{}, match.Meta{})
	h.Unregister(sub)
	h.Unregister(sub)
	assert.Equal(t, 0, h.Len())
	select {
	case <-sub.Done():
	default:
		t.Fatal("Done should be closed after Unregister")
	}
}

func TestBroadcastKeepsFailingSubscriber(t *testing.T) {
	h := New(Options{})
	good := &fakeConn{}
	bad := &fakeConn{}
	h.Register(good, match.Meta{})
	h.Register(bad, match.Meta{})
	bad.fail(errors.New("broken pipe"))

	n := h.Broadcast("booking.created", []byte(`{"id":"b1"}`))
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, h.Len(), "failing subscriber must stay registered")
	assert.Equal(t, []string{EventConnected, "booking.created"}, good.events())
}

func TestBroadcastEmptyHub(t *testing.T) {
	h := New(Options{})
	assert.Equal(t, 0, h.Broadcast("x", nil))
}

func TestSendToMatcher(t *testing.T) {
	h := New(Options{})
	op := &fakeConn{}
	owner := &fakeConn{}
	other := &fakeConn{}
	corr := &fakeConn{}
	h.Register(op, match.Meta{Role: match.RoleOperator})
	h.Register(owner, match.Meta{Role: match.RoleClient, OwnerIdentity: "Ana@Example.com"})
	h.Register(other, match.Meta{Role: match.RoleClient, OwnerIdentity: "bob@example.com"})
	h.Register(corr, match.Meta{CorrelationID: "b-42"})

	m := match.AnyOf{
		match.Identity("ana@example.com"),
		match.Role(match.RoleOperator),
		match.Correlation("b-42"),
	}
	n := h.SendTo(m, "booking.confirmed", []byte(`{}`))
	assert.Equal(t, 3, n)
	assert.Contains(t, op.events(), "booking.confirmed")
	assert.Contains(t, owner.events(), "booking.confirmed")
	assert.Contains(t, corr.events(), "booking.confirmed")
	assert.NotContains(t, other.events(), "booking.confirmed")
}

func TestHeartbeatAndStaleEviction(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	h := New(Options{HeartbeatInterval: time.Second, StaleAfter: time.Minute, Now: clk.Now})
	alive := &fakeConn{}
	dead := &fakeConn{}
	h.Register(alive, match.Meta{})
	deadSub := h.Register(dead, match.Meta{})
	dead.fail(errors.New("reset"))

	clk.Advance(30 * time.Second)
	assert.Equal(t, 0, h.Heartbeat())
	assert.Equal(t, 1, alive.comments)

	clk.Advance(45 * time.Second)
	assert.Equal(t, 1, h.Heartbeat())
	assert.Equal(t, 1, h.Len())
	select {
	case <-deadSub.Done():
	default:
		t.Fatal("evicted subscriber should be done")
	}
}

func TestNoEvictionWhenDisabled(t *testing.T) {
	clk := &clock{t: time.Now()}
	h := New(Options{Now: clk.Now})
	c := &fakeConn{}
	h.Register(c, match.Meta{})
	c.fail(errors.New("gone"))
	clk.Advance(24 * time.Hour)
	assert.Equal(t, 0, h.Heartbeat())
	assert.Equal(t, 1, h.Len())
}

func TestRunHeartbeats(t *testing.T) {
	h := New(Options{HeartbeatInterval: 5 * time.Millisecond})
	c := &fakeConn{}
	h.Register(c, match.Meta{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.comments >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestSnapshotOrdered(t *testing.T) {
	clk := &clock{t: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	h := New(Options{Now: clk.Now})
	a := h.Register(&fakeConn{}, match.Meta{Role: match.RoleOperator})
	clk.Advance(time.Second)
	b := h.Register(&fakeConn{}, match.Meta{Role: match.RoleClient})

	snap := h.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, a.ID, snap[0].ID)
	assert.Equal(t, b.ID, snap[1].ID)
}

// stallConn blocks every non-ack Send until release is closed.
type stallConn struct {
	fakeConn
	release chan struct{}
}

func (c *stallConn) Send(event string, data []byte) error {
	if event != EventConnected {
		<-c.release
	}
	return c.fakeConn.Send(event, data)
}

func TestStalledSubscriberDoesNotBlockOthers(t *testing.T) {
	h := New(Options{})
	stalled := &stallConn{release: make(chan struct{})}
	h.Register(stalled, match.Meta{Role: "operator"})
	a, b := &fakeConn{}, &fakeConn{}
	h.Register(a, match.Meta{Role: "operator"})
	h.Register(b, match.Meta{Role: "operator"})

	result := make(chan int, 1)
	go func() { result <- h.Broadcast("booking.confirmed", []byte(`{}`)) }()

	require.Eventually(t, func() bool {
		return len(a.events()) == 2 && len(b.events()) == 2
	}, 2*time.Second, 5*time.Millisecond)
	select {
	case <-result:
		t.Fatal("broadcast returned while a write was still blocked")
	default:
	}

	close(stalled.release)
	select {
	case n := <-result:
		assert.Equal(t, 3, n)
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast did not finish after release")
	}
}

func TestWriteAfterStreamHandlerReturned(t *testing.T) {
	h := New(Options{})
	subs := make(chan *Subscriber, 1)
	returned := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(returned)
		func() {
			sse, err := delivery.NewSSEWriter(w)
			if err != nil {
				return
			}
			defer sse.Close()
			sub := h.Register(sse, match.Meta{Role: "operator"})
			defer h.Unregister(sub)
			subs <- sub
			select {
			case <-r.Context().Done():
			case <-sub.Done():
			}
		}()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "event: connected\n", line)

	sub := <-subs
	cancel()
	_ = resp.Body.Close()
	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after disconnect")
	}

	// a fan-out that selected sub just before it left
	assert.False(t, h.write(sub, "booking.confirmed", []byte(`{}`)))
	assert.Equal(t, 0, h.Len())
}
