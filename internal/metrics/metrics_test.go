package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounters(t *testing.T) {
	p := New()
	p.PushResult("gone")
	p.PushResult("gone")
	p.PushPruned(2)
	p.MailResult("retry", "ok")
	p.QueueDepth(3, 1)
	p.BreakerState("smtp", "open")
	p.ObserveBatchCommit(time.Millisecond, 2, 128)

	assert.Equal(t, 2.0, testutil.ToFloat64(p.push.WithLabelValues("gone")))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.pruned))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.mail.WithLabelValues("retry", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(p.queueDepth.WithLabelValues("pending")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.breaker.WithLabelValues("smtp")))
	assert.Equal(t, 128.0, testutil.ToFloat64(p.storeBytes.WithLabelValues("commit")))
}

func TestHandlerAndMiddleware(t *testing.T) {
	p := New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/ping", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h := p.Middleware(mux)
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/ping", nil))

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `herald_http_requests_total{method="GET",path="GET /v1/ping",status="418"} 1`), body)
}

func TestOrNop(t *testing.T) {
	assert.Equal(t, Nop{}, OrNop(nil))
	p := New()
	assert.Same(t, p, OrNop(p))
}
