package httpserver

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cfgpkg "github.com/rzbill/herald/internal/config"
	"github.com/rzbill/herald/internal/delivery"
	"github.com/rzbill/herald/internal/fanout"
	"github.com/rzbill/herald/internal/livehub"
	"github.com/rzbill/herald/internal/metrics"
	"github.com/rzbill/herald/internal/retryqueue"
	"github.com/rzbill/herald/internal/runtime"
	"github.com/rzbill/herald/internal/server/http/controllers"
	pebblestore "github.com/rzbill/herald/internal/storage/pebble"
	"github.com/rzbill/herald/internal/subscriptions"
	logpkg "github.com/rzbill/herald/pkg/log"
)

const adminToken = "s3cret"

type fakePush struct {
	mu   sync.Mutex
	sent []string
}

func (p *fakePush) Send(_ context.Context, t delivery.PushTarget, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, t.Endpoint)
	return nil
}

type fakeMail struct{ err error }

func (m *fakeMail) Send(context.Context, delivery.Message) error { return m.err }

type harness struct {
	rt   *runtime.Runtime
	hub  *livehub.Hub
	push *fakePush
	orch *fanout.Orchestrator
	srv  *Server
}

func newHarness(t *testing.T, token string) *harness {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{
		DataDir:           t.TempDir(),
		Fsync:             pebblestore.FsyncModeAlways,
		Config:            cfgpkg.Default(),
		AllowInsecurePush: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	logger, _ := logpkg.ApplyConfig(&logpkg.Config{Level: "error", Format: "text"})
	hub := livehub.New(livehub.Options{Logger: logger})
	push := &fakePush{}
	disp := subscriptions.NewDispatcher(rt.Subscriptions(), push, delivery.Notification{}, logger, nil)
	mail := &fakeMail{err: &delivery.TransientError{Channel: "mail", Err: errors.New("connection refused")}}
	orch := fanout.New(hub, disp, mail, rt.Queue(), fanout.Options{OperatorAddress: "ops@example.com", Logger: logger})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Close(ctx)
	})
	proc := retryqueue.NewProcessor(rt.Queue(), mail, retryqueue.Options{Logger: logger})

	srv := New(controllers.Deps{
		Runtime:        rt,
		Hub:            hub,
		Dispatcher:     disp,
		Orchestrator:   orch,
		Processor:      proc,
		VAPIDPublicKey: "BPublicKey",
		AdminToken:     token,
	}, Options{Metrics: metrics.New()}, logger)
	return &harness{rt: rt, hub: hub, push: push, orch: orch, srv: srv}
}

func (h *harness) do(t *testing.T, method, path, body string, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer "+adminToken)
	}
	w := httptest.NewRecorder()
	h.srv.Handler().ServeHTTP(w, req)
	return w
}

func TestHealthHandler(t *testing.T) {
	h := newHarness(t, adminToken)
	w := h.do(t, http.MethodGet, "/v1/healthz", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestSubscribeIsIdempotent(t *testing.T) {
	h := newHarness(t, adminToken)
	body := `{"subscription":{"endpoint":"http://push.local/a","keys":{"p256dh":"k","auth":"a"}},"ownerIdentity":"ana@example.com"}`
	for i := 0; i < 2; i++ {
		w := h.do(t, http.MethodPost, "/v1/push/subscribe", body, false)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}
	n, err := h.rt.Subscriptions().Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSubscribeRejectsBadInput(t *testing.T) {
	h := newHarness(t, adminToken)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/v1/push/subscribe", `{`, false).Code)
	assert.Equal(t, http.StatusBadRequest,
		h.do(t, http.MethodPost, "/v1/push/subscribe", `{"subscription":{"endpoint":"http://push.local/a"}}`, false).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, h.do(t, http.MethodGet, "/v1/push/subscribe", "", false).Code)
}

func TestUnsubscribe(t *testing.T) {
	h := newHarness(t, adminToken)
	h.do(t, http.MethodPost, "/v1/push/subscribe",
		`{"subscription":{"endpoint":"http://push.local/a","keys":{"p256dh":"k","auth":"a"}}}`, false)
	w := h.do(t, http.MethodPost, "/v1/push/unsubscribe", `{"endpoint":"http://push.local/a"}`, false)
	assert.Equal(t, http.StatusNoContent, w.Code)
	n, _ := h.rt.Subscriptions().Len(context.Background())
	assert.Equal(t, 0, n)
}

func TestClearRequiresAdmin(t *testing.T) {
	h := newHarness(t, adminToken)
	h.do(t, http.MethodPost, "/v1/push/subscribe",
		`{"subscription":{"endpoint":"http://push.local/a","keys":{"p256dh":"k","auth":"a"}}}`, false)

	assert.Equal(t, http.StatusUnauthorized, h.do(t, http.MethodPost, "/v1/push/clear", "", false).Code)
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodPost, "/v1/push/clear", "", true).Code)
	n, _ := h.rt.Subscriptions().Len(context.Background())
	assert.Equal(t, 0, n)
}

func TestAdminDisabledWithoutToken(t *testing.T) {
	h := newHarness(t, "")
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodPost, "/v1/push/clear", "", true).Code)
	assert.Equal(t, http.StatusForbidden, h.do(t, http.MethodGet, "/v1/queue", "", true).Code)
}

func TestVAPIDPublicKey(t *testing.T) {
	h := newHarness(t, adminToken)
	w := h.do(t, http.MethodGet, "/v1/push/vapid-public-key", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"publicKey":"BPublicKey"}`, w.Body.String())
}

func TestEventsQueueMailOnRelayFailure(t *testing.T) {
	h := newHarness(t, adminToken)
	w := h.do(t, http.MethodPost, "/v1/events", `{"kind":"booking.created","bookingId":"b-1"}`, false)
	require.Equal(t, http.StatusAccepted, w.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.Wait(ctx))

	w = h.do(t, http.MethodGet, "/v1/queue?state=pending", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Items []retryqueue.Item `json:"items"`
		Stats retryqueue.Stats  `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "b-1", resp.Items[0].RelatedID)
	assert.Equal(t, 1, resp.Stats.Pending)

	w = h.do(t, http.MethodPost, "/v1/queue/process", `{"limit":5}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"sent":0}`, w.Body.String())
}

func TestEventsRejectsUnknownKind(t *testing.T) {
	h := newHarness(t, adminToken)
	w := h.do(t, http.MethodPost, "/v1/events", `{"kind":"booking.deleted","bookingId":"b-1"}`, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueueRequeueUnknown(t *testing.T) {
	h := newHarness(t, adminToken)
	w := h.do(t, http.MethodPost, "/v1/queue/requeue", `{"id":"nope"}`, true)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNotifyWithExpression(t *testing.T) {
	h := newHarness(t, adminToken)
	h.do(t, http.MethodPost, "/v1/push/subscribe",
		`{"subscription":{"endpoint":"http://push.local/op","keys":{"p256dh":"k","auth":"a"}},"role":"operator"}`, false)
	h.do(t, http.MethodPost, "/v1/push/subscribe",
		`{"subscription":{"endpoint":"http://push.local/cl","keys":{"p256dh":"k","auth":"a"}},"role":"client"}`, false)

	w := h.do(t, http.MethodPost, "/v1/notify",
		`{"match":"role == \"operator\"","notification":{"title":"Shift change"}}`, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"http://push.local/op"}, h.push.sent)

	w = h.do(t, http.MethodPost, "/v1/notify", `{"match":"role +"}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestStatsAndMetrics(t *testing.T) {
	h := newHarness(t, adminToken)
	w := h.do(t, http.MethodGet, "/v1/stats", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Contains(t, stats, "live")
	assert.Contains(t, stats, "queue")

	w = h.do(t, http.MethodGet, "/metrics", "", false)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "herald_http_requests_total")
}

func TestStreamReceivesTargetedEvents(t *testing.T) {
	h := newHarness(t, adminToken)
	ts := httptest.NewServer(h.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/v1/stream?role=operator", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	lines := make(chan string, 32)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()
	expectLine(t, lines, "event: connected")

	require.Eventually(t, func() bool { return h.hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	w := h.do(t, http.MethodPost, "/v1/events", `{"kind":"booking.created","bookingId":"b-9"}`, false)
	require.Equal(t, http.StatusAccepted, w.Code)
	expectLine(t, lines, "event: booking.created")

	cancel()
	require.Eventually(t, func() bool { return h.hub.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func expectLine(t *testing.T, lines <-chan string, want string) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case l, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed before %q", want)
			}
			if l == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}
