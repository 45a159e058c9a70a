package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors exposed on /metrics.
type Metrics struct {
	handlerCalls    *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	runsTotal       *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	chainsLoaded    prometheus.Gauge
	configReloads   *prometheus.CounterVec
	sessionsActive  prometheus.GaugeFunc

	registry *prometheus.Registry
}

// NewMetrics creates a registry holding the chain collectors plus the Go
// runtime and process collectors. activeSessions, when non-nil, backs the
// active session gauge.
func NewMetrics(activeSessions func() int) *Metrics {
	registry := prometheus.NewRegistry()
	if activeSessions == nil {
		activeSessions = func() int { return 0 }
	}

	m := &Metrics{
		handlerCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polis_chain_handler_invocations_total",
				Help: "Handler invocations by chain, handler and outcome status",
			},
			[]string{"chain", "handler", "status"},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polis_chain_handler_duration_seconds",
				Help:    "Handler latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"chain", "handler"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polis_chain_runs_total",
				Help: "Chain runs by chain and outcome status",
			},
			[]string{"chain", "status"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polis_chain_http_requests_total",
				Help: "HTTP requests served by the chain server",
			},
			[]string{"method", "status_code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polis_chain_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method"},
		),
		chainsLoaded: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "polis_chain_chains_loaded",
				Help: "Number of chains in the active configuration",
			},
		),
		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polis_chain_config_reloads_total",
				Help: "Configuration reload attempts by status",
			},
			[]string{"status"},
		),
		sessionsActive: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name: "polis_chain_sessions_active",
				Help: "Sessions held by the session store",
			},
			func() float64 { return float64(activeSessions()) },
		),
		registry: registry,
	}

	registry.MustRegister(
		m.handlerCalls,
		m.handlerDuration,
		m.runsTotal,
		m.httpRequests,
		m.httpDuration,
		m.chainsLoaded,
		m.configReloads,
		m.sessionsActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// RecordHandler records one handler invocation.
func (m *Metrics) RecordHandler(chain, handler string, status int, d time.Duration) {
	m.handlerCalls.WithLabelValues(chain, handler, strconv.Itoa(status)).Inc()
	m.handlerDuration.WithLabelValues(chain, handler).Observe(d.Seconds())
}

// RecordRun records one chain run.
func (m *Metrics) RecordRun(chain string, status int) {
	m.runsTotal.WithLabelValues(chain, strconv.Itoa(status)).Inc()
}

// RecordHTTPRequest records one served HTTP request.
func (m *Metrics) RecordHTTPRequest(method string, status int, d time.Duration) {
	m.httpRequests.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetChainsLoaded sets the loaded chain gauge.
func (m *Metrics) SetChainsLoaded(n int) { m.chainsLoaded.Set(float64(n)) }

// RecordConfigReload counts a reload attempt; status is "success" or "error".
func (m *Metrics) RecordConfigReload(status string) {
	m.configReloads.WithLabelValues(status).Inc()
}

// Handler returns the /metrics handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Middleware records request counts and latency for next.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		m.RecordHTTPRequest(r.Method, sw.status, time.Since(start))
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

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
