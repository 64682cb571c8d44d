package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentnet",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentnet",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentnet",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	authEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentnet",
			Subsystem: "auth",
			Name:      "events_total",
			Help:      "Wallet auth events by outcome.",
		},
		[]string{"event", "outcome"},
	)

	taskRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentnet",
			Subsystem: "scheduler",
			Name:      "task_runs_total",
			Help:      "Agent task executions by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	taskDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "agentnet",
			Subsystem: "scheduler",
			Name:      "task_duration_seconds",
			Help:      "Duration of agent task executions.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"kind"},
	)

	schedulerTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agentnet",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Scheduler loop iterations.",
		},
	)

	purged = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentnet",
			Subsystem: "scheduler",
			Name:      "purged_total",
			Help:      "Expired auth rows removed.",
		},
		[]string{"kind"},
	)

	streamClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentnet",
			Subsystem: "activity",
			Name:      "stream_clients",
			Help:      "Connected activity stream clients.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		authEvents,
		taskRuns,
		taskDuration,
		schedulerTicks,
		purged,
		streamClients,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
// Routes are labelled with the chi pattern so ids do not explode cardinality.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := routePattern(r)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	})
}

func RecordAuth(event string, ok bool) {
	authEvents.WithLabelValues(event, outcome(ok)).Inc()
}

func RecordTaskRun(kind string, duration time.Duration, ok bool) {
	if kind == "" {
		kind = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	taskRuns.WithLabelValues(kind, outcome(ok)).Inc()
	taskDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

func RecordTaskSkipped(kind string) {
	taskRuns.WithLabelValues(kind, "skipped").Inc()
}

func RecordTick() {
	schedulerTicks.Inc()
}

func RecordPurge(nonces, sessions int64) {
	purged.WithLabelValues("nonce").Add(float64(nonces))
	purged.WithLabelValues("session").Add(float64(sessions))
}

func StreamClientConnected() { streamClients.Inc() }

func StreamClientGone() { streamClients.Dec() }

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}
