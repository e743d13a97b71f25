// Package telemetry holds the Prometheus metrics of the HTTP API and the rule engine.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	httpDur = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	ruleExecutions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dietrules_executions_total",
			Help: "Rule executions written to the ledger",
		},
		[]string{"trigger", "status"},
	)
	pendingConfirmations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dietrules_pending_confirmations_total",
			Help: "Event matches held back for coach confirmation",
		},
		[]string{"event_type"},
	)
	eventsDispatched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dietrules_events_dispatched_total",
			Help: "Business events dispatched to the rule engine",
		},
		[]string{"event_type"},
	)
	sweepDur = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dietrules_sweep_duration_seconds",
			Help:    "Duration of the recurring rules sweep",
			Buckets: prometheus.DefBuckets,
		},
	)
	batchErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dietrules_batch_errors_total",
			Help: "Per-diet failures isolated inside a sweep or dispatch",
		},
		[]string{"source"},
	)
	notifyErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dietrules_notify_errors_total",
			Help: "Coach notifications that could not be delivered",
		},
	)

	ActiveRules = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dietrules_active_rules",
		Help: "Number of active rules seen by the last sweep or dispatch",
	})
)

var initOnce sync.Once

// Init registers the collectors with the default registry. Safe to call more than once.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(httpReqs, httpDur, ruleExecutions, pendingConfirmations,
			eventsDispatched, sweepDur, batchErrors, notifyErrors, ActiveRules)
	})
}

// RecordExecution counts one ledger entry
func RecordExecution(trigger, status string) {
	ruleExecutions.WithLabelValues(trigger, status).Inc()
}

// RecordPending counts one held-back event match
func RecordPending(eventType string) {
	pendingConfirmations.WithLabelValues(eventType).Inc()
}

// RecordDispatch counts one dispatched event
func RecordDispatch(eventType string) {
	eventsDispatched.WithLabelValues(eventType).Inc()
}

// ObserveSweep records the duration of a recurring sweep
func ObserveSweep(d time.Duration) {
	sweepDur.Observe(d.Seconds())
}

// RecordBatchError counts a failure isolated inside a batch ("sweep" or "dispatch")
func RecordBatchError(source string) {
	batchErrors.WithLabelValues(source).Inc()
}

// RecordNotifyError counts a failed notification
func RecordNotifyError() {
	notifyErrors.Inc()
}

// Middleware counts requests and observes their latency per route pattern
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(ww, r)

		// the route pattern is only known once the router has matched
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}

		httpReqs.WithLabelValues(route, r.Method, strconv.Itoa(ww.status)).Inc()
		httpDur.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
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

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
