package client

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   map[string]any
}

// fakeAPI answers every route with canned JSON and records the last request.
func fakeAPI(t *testing.T, status int, reply string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.query = r.URL.RawQuery
		rec.auth = r.Header.Get("Authorization")
		rec.body = nil
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		if status == http.StatusNoContent {
			w.WriteHeader(status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func run(t *testing.T, baseURL string, args ...string) (string, error) {
	t.Helper()
	root := NewRoot(func() string { return baseURL })
	buf := &bytes.Buffer{}
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(args)
	err := root.Execute()
	return buf.String(), err
}

func TestQueueList_SendsFiltersAndToken(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, `{"items":[{"id":"a","state":"dead","attempts":3}],"stats":{"pending":0,"due":0,"dead":1}}`)

	out, err := run(t, srv.URL, "queue", "list", "--state", "dead", "--limit", "5", "--token", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, rec.method)
	assert.Equal(t, "/v1/queue", rec.path)
	assert.Equal(t, "limit=5&state=dead", rec.query)
	assert.Equal(t, "Bearer s3cret", rec.auth)
	assert.Contains(t, out, `"dead": 1`)
	assert.Contains(t, out, `"id": "a"`)
}

func TestAdminToken_FromEnv(t *testing.T) {
	t.Setenv("HERALD_ADMIN_TOKEN", "from-env")
	srv, rec := fakeAPI(t, http.StatusOK, `{"purged":2}`)

	out, err := run(t, srv.URL, "queue", "purge")
	require.NoError(t, err)
	assert.Equal(t, "Bearer from-env", rec.auth)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Contains(t, out, "purged: 2")
}

func TestQueueProcessAndRequeue(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, `{"sent":4}`)
	out, err := run(t, srv.URL, "queue", "process", "--limit", "10")
	require.NoError(t, err)
	assert.Equal(t, "/v1/queue/process", rec.path)
	assert.EqualValues(t, 10, rec.body["limit"])
	assert.Contains(t, out, "sent: 4")

	srv2, rec2 := fakeAPI(t, http.StatusNoContent, "")
	out, err = run(t, srv2.URL, "queue", "requeue", "item-1")
	require.NoError(t, err)
	assert.Equal(t, "/v1/queue/requeue", rec2.path)
	assert.Equal(t, "item-1", rec2.body["id"])
	assert.Contains(t, out, "status: OK")
}

func TestAPIError_Surfaced(t *testing.T) {
	srv, _ := fakeAPI(t, http.StatusNotFound, `{"error":"item not found"}`)
	_, err := run(t, srv.URL, "queue", "requeue", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Contains(t, err.Error(), "item not found")
}

func TestSubscriptionsClear_RequiresConfirm(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusNoContent, "")
	_, err := run(t, srv.URL, "subscriptions", "clear")
	require.Error(t, err)
	assert.Empty(t, rec.path)

	out, err := run(t, srv.URL, "subscriptions", "clear", "--confirm")
	require.NoError(t, err)
	assert.Equal(t, "/v1/push/clear", rec.path)
	assert.Contains(t, out, "status: OK")
}

func TestEventsPublish_BuildsEvent(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusAccepted, `{"status":"accepted"}`)
	out, err := run(t, srv.URL, "events", "publish",
		"--kind", "booking.confirmed", "--booking-id", "b-9",
		"--owner", "rider@example.com", "--data", `{"seats":2}`)
	require.NoError(t, err)
	assert.Equal(t, "/v1/events", rec.path)
	assert.Equal(t, "booking.confirmed", rec.body["kind"])
	assert.Equal(t, "b-9", rec.body["bookingId"])
	assert.Equal(t, map[string]any{"seats": float64(2)}, rec.body["payload"])
	assert.Contains(t, out, "status: accepted")
}

func TestEventsPublish_RejectsLocally(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusAccepted, `{"status":"accepted"}`)
	_, err := run(t, srv.URL, "events", "publish", "--kind", "booking.cancelled", "--booking-id", "b-1")
	require.Error(t, err)
	_, err = run(t, srv.URL, "events", "publish", "--booking-id", "b-1", "--data", "{nope")
	require.Error(t, err)
	assert.Empty(t, rec.path)
}

func TestNotify_SendsMatchAndNotification(t *testing.T) {
	srv, rec := fakeAPI(t, http.StatusOK, `{"live":1,"push":{"matched":2,"sent":2,"pruned":0,"failed":0}}`)
	out, err := run(t, srv.URL, "notify", "--match", `role == "operator"`, "--title", "Heads up")
	require.NoError(t, err)
	assert.Equal(t, "/v1/notify", rec.path)
	assert.Equal(t, `role == "operator"`, rec.body["match"])
	n, ok := rec.body["notification"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Heads up", n["title"])
	assert.Contains(t, out, `"live": 1`)

	_, err = run(t, srv.URL, "notify")
	require.Error(t, err)
}

func TestVAPIDGenerate(t *testing.T) {
	out, err := run(t, "http://unused", "vapid", "generate")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "HERALD_PUSH_VAPID_PUBLIC_KEY="))
	assert.True(t, strings.HasPrefix(lines[1], "HERALD_PUSH_VAPID_PRIVATE_KEY="))
	assert.Greater(t, len(lines[0]), len("HERALD_PUSH_VAPID_PUBLIC_KEY=")+40)
}

func TestHealth_OverGRPC(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)
	t.Setenv("HERALD_GRPC", lis.Addr().String())

	out, err := run(t, "http://unused", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "status: SERVING")

	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	out, err = run(t, "http://unused", "health")
	require.Error(t, err)
	assert.Contains(t, out, "NOT_SERVING")
}
