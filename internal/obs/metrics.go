// Package obs holds the prometheus collectors shared by the API client, the
// session manager and the stub API.
package obs

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	apiInFlight        prometheus.Gauge
	apiRequestsTotal   *prometheus.CounterVec
	apiRequestDuration *prometheus.HistogramVec
	sessionTransitions *prometheus.CounterVec
	serverRequests     *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		apiInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "klinners_api_in_flight_requests",
			Help: "Outgoing API requests awaiting a response.",
		}),
		apiRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klinners_api_requests_total",
			Help: "Outgoing API requests by outcome. status is 0 when no response arrived.",
		}, []string{"method", "path", "status"}),
		apiRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "klinners_api_request_duration_seconds",
			Help:    "Outgoing API request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klinners_session_transitions_total",
			Help: "Session state changes by target state and cause.",
		}, []string{"state", "cause"}),
		serverRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "klinners_stubapi_requests_total",
			Help: "Requests served by the stub API.",
		}, []string{"method", "route", "status"}),
	}
	if reg != nil {
		reg.MustRegister(m.apiInFlight, m.apiRequestsTotal, m.apiRequestDuration, m.sessionTransitions, m.serverRequests)
	}
	return m
}

// APIRequestStarted marks a request in flight and returns the completion hook.
func (m *Metrics) APIRequestStarted(method, path string) func(status int) {
	if m == nil {
		return func(int) {}
	}
	m.apiInFlight.Inc()
	start := time.Now()
	return func(status int) {
		m.apiInFlight.Dec()
		m.apiRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		m.apiRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	}
}

// SessionTransition counts a move into state.
func (m *Metrics) SessionTransition(state, cause string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(state, cause).Inc()
}

// ServerRequest counts one request handled by the stub API.
func (m *Metrics) ServerRequest(method, route string, status int) {
	if m == nil {
		return
	}
	m.serverRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}
