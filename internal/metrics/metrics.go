// Package metrics exposes Prometheus collectors for orchestration runs, ledger
// stages, relay calls and the HTTP API.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "meshforge"

// Metrics holds the collectors of one registry. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	stages      *prometheus.CounterVec
	disputes    *prometheus.CounterVec
	relayCalls  *prometheus.CounterVec

	httpInFlight prometheus.Gauge
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New creates the collectors and registers them on a fresh registry. With
// withRuntime the Go and process collectors are registered too.
func New(withRuntime bool) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "runs_total",
				Help:      "Total number of orchestration runs.",
			},
			[]string{"risk_profile", "outcome"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "run_duration_seconds",
				Help:      "Duration of orchestration runs.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~80s
			},
			[]string{"outcome"},
		),
		stages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "stage_outcomes_total",
				Help:      "Stage outcomes recorded by the orchestrator.",
			},
			[]string{"stage", "outcome"},
		),
		disputes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "orchestrator",
				Name:      "auto_disputes_total",
				Help:      "Automatic disputes opened, by risk profile.",
			},
			[]string{"risk_profile"},
		),
		relayCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "relay",
				Name:      "calls_total",
				Help:      "Ledger calls forwarded to the payment relay.",
			},
			[]string{"function", "result"},
		),

		httpInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "inflight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests handled.",
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Duration of HTTP requests.",
				Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
			},
			[]string{"method", "path"},
		),
	}

	m.registry.MustRegister(
		m.runs,
		m.runDuration,
		m.stages,
		m.disputes,
		m.relayCalls,
		m.httpInFlight,
		m.httpRequests,
		m.httpDuration,
	)
	if withRuntime {
		m.registry.MustRegister(
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			collectors.NewGoCollector(),
		)
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler exposing the registered metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRun records a finished orchestration run.
func (m *Metrics) RecordRun(riskProfile, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if riskProfile == "" {
		riskProfile = "unknown"
	}
	if duration <= 0 {
		duration = time.Millisecond
	}
	m.runs.WithLabelValues(riskProfile, outcome).Inc()
	m.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordStage records one stage outcome (reached, skipped or error).
func (m *Metrics) RecordStage(stage, outcome string) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(stage, outcome).Inc()
}

// RecordDispute records an automatic dispute.
func (m *Metrics) RecordDispute(riskProfile string) {
	if m == nil {
		return
	}
	m.disputes.WithLabelValues(riskProfile).Inc()
}

// RecordRelay records a relay attempt for a ledger function.
func (m *Metrics) RecordRelay(function string, success bool) {
	if m == nil {
		return
	}
	result := "false"
	if success {
		result = "true"
	}
	m.relayCalls.WithLabelValues(function, result).Inc()
}

// InstrumentHandler wraps next with HTTP metrics collection.
func (m *Metrics) InstrumentHandler(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		m.httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		m.httpDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// canonicalPath collapses intent ids so that label cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) >= 3 && parts[0] == "v1" && parts[1] == "intents" {
		return "/v1/intents/:id"
	}
	if len(parts) > 2 {
		parts = parts[:2]
	}
	return "/" + strings.Join(parts, "/")
}
