package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder receives delivery observations from the fan-out components.
type Recorder interface {
	EventPublished(kind string)
	PushResult(result string)
	PushPruned(n int)
	MailResult(path, result string)
	LiveWrite(event string, delivered, failed int)
	LiveConnections(n int)
	QueueEnqueued()
	QueueDepth(pending, dead int)
	BreakerState(name, state string)
}

// Nop discards every observation.
type Nop struct{}

func (Nop) EventPublished(string)       {}
func (Nop) PushResult(string)           {}
func (Nop) PushPruned(int)              {}
func (Nop) MailResult(string, string)   {}
func (Nop) LiveWrite(string, int, int)  {}
func (Nop) LiveConnections(int)         {}
func (Nop) QueueEnqueued()              {}
func (Nop) QueueDepth(int, int)         {}
func (Nop) BreakerState(string, string) {}

// OrNop returns r, or Nop when r is nil.
func OrNop(r Recorder) Recorder {
	if r == nil {
		return Nop{}
	}
	return r
}

// Prometheus implements Recorder and the Pebble store's MetricsHook on a
// dedicated registry.
type Prometheus struct {
	reg *prometheus.Registry

	events      *prometheus.CounterVec
	push        *prometheus.CounterVec
	pruned      prometheus.Counter
	mail        *prometheus.CounterVec
	live        *prometheus.CounterVec
	liveConns   prometheus.Gauge
	enqueued    prometheus.Counter
	queueDepth  *prometheus.GaugeVec
	breaker     *prometheus.GaugeVec
	storeOps    *prometheus.HistogramVec
	storeBytes  *prometheus.CounterVec
	httpTotal   *prometheus.CounterVec
	httpLatency *prometheus.HistogramVec
}

// New registers herald's collectors plus the Go and process collectors.
func New() *Prometheus {
	p := &Prometheus{
		reg: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_events_published_total",
			Help: "Booking events accepted for fan-out",
		}, []string{"kind"}),
		push: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_push_sends_total",
			Help: "Web Push send attempts by result",
		}, []string{"result"}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_push_subscriptions_pruned_total",
			Help: "Push subscriptions removed after a gone response",
		}),
		mail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_mail_sends_total",
			Help: "Email send attempts by path (direct|retry) and result",
		}, []string{"path", "result"}),
		live: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_live_writes_total",
			Help: "Live stream writes by event and outcome",
		}, []string{"event", "outcome"}),
		liveConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "herald_live_connections",
			Help: "Open live stream connections",
		}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "herald_retry_enqueued_total",
			Help: "Emails placed on the retry queue",
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "herald_retry_queue_depth",
			Help: "Retry queue items by state",
		}, []string{"state"}),
		breaker: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "herald_breaker_open",
			Help: "1 while the named circuit breaker is not closed",
		}, []string{"name"}),
		storeOps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "herald_store_op_seconds",
			Help:    "Pebble operation latency",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}, []string{"op"}),
		storeBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_store_bytes_total",
			Help: "Bytes moved through Pebble",
		}, []string{"op"}),
		httpTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "herald_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "herald_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	p.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		p.events, p.push, p.pruned, p.mail, p.live, p.liveConns,
		p.enqueued, p.queueDepth, p.breaker, p.storeOps, p.storeBytes,
		p.httpTotal, p.httpLatency,
	)
	return p
}

// Registry exposes the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry { return p.reg }

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

func (p *Prometheus) EventPublished(kind string) { p.events.WithLabelValues(kind).Inc() }
func (p *Prometheus) PushResult(result string)   { p.push.WithLabelValues(result).Inc() }
func (p *Prometheus) PushPruned(n int)           { p.pruned.Add(float64(n)) }
func (p *Prometheus) QueueEnqueued()             { p.enqueued.Inc() }
func (p *Prometheus) LiveConnections(n int)      { p.liveConns.Set(float64(n)) }

func (p *Prometheus) MailResult(path, result string) {
	p.mail.WithLabelValues(path, result).Inc()
}

func (p *Prometheus) LiveWrite(event string, delivered, failed int) {
	p.live.WithLabelValues(event, "delivered").Add(float64(delivered))
	p.live.WithLabelValues(event, "failed").Add(float64(failed))
}

func (p *Prometheus) QueueDepth(pending, dead int) {
	p.queueDepth.WithLabelValues("pending").Set(float64(pending))
	p.queueDepth.WithLabelValues("dead").Set(float64(dead))
}

func (p *Prometheus) BreakerState(name, state string) {
	v := 0.0
	if state != "closed" {
		v = 1
	}
	p.breaker.WithLabelValues(name).Set(v)
}

// ObserveRead and ObserveBatchCommit satisfy pebblestore.MetricsHook.
func (p *Prometheus) ObserveRead(elapsed time.Duration, bytes int) {
	p.storeOps.WithLabelValues("read").Observe(elapsed.Seconds())
	p.storeBytes.WithLabelValues("read").Add(float64(bytes))
}

func (p *Prometheus) ObserveBatchCommit(elapsed time.Duration, _ int, bytes int) {
	p.storeOps.WithLabelValues("commit").Observe(elapsed.Seconds())
	p.storeBytes.WithLabelValues("commit").Add(float64(bytes))
}

// Middleware counts requests and observes latency per route pattern.
func (p *Prometheus) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		p.httpTotal.WithLabelValues(r.Method, path, strconv.Itoa(sw.status)).Inc()
		p.httpLatency.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer for flushes
// and write deadlines.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// Flush keeps event streams working through the middleware.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
