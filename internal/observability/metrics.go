// Package observability exposes the Prometheus registry of the HTTP process.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/caseflow/caseflow/internal/authz"
	"github.com/caseflow/caseflow/internal/security"
)

// Metrics collects the Prometheus metrics of the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	throttleTotal   *prometheus.CounterVec
	verdictsTotal   *prometheus.CounterVec
}

// NewMetrics initialises the registry with the HTTP, throttle and authorization collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caseflow_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "caseflow_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	throttle := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caseflow_security_throttle_total",
		Help: "Requests denied by the login and email throttle, by security type and outcome.",
	}, []string{"type", "outcome"})
	verdicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "caseflow_authz_verdicts_total",
		Help: "Privilege verdicts computed, by resource kind and privilege token.",
	}, []string{"kind", "privilege"})
	registry.MustRegister(requests, duration, throttle, verdicts)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		throttleTotal:   throttle,
		verdictsTotal:   verdicts,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records request counts and durations keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveThrottle counts a throttle denial.
func (m *Metrics) ObserveThrottle(typ security.SecurityType, delay security.Delay) {
	if m == nil {
		return
	}
	outcome := "delay"
	if delay.IsCaptcha() {
		outcome = security.CaptchaToken
	}
	m.throttleTotal.WithLabelValues(typ.String(), outcome).Inc()
}

// ObserveVerdict counts a computed privilege verdict.
func (m *Metrics) ObserveVerdict(kind authz.ResourceKind, privilege authz.Privilege) {
	if m == nil {
		return
	}
	m.verdictsTotal.WithLabelValues(string(kind), privilege.String()).Inc()
}

// Registerer exposes the registry for additional collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

var (
	_ security.Observer     = (*Metrics)(nil)
	_ authz.VerdictObserver = (*Metrics)(nil)
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
