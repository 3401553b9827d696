// Package telemetry exposes bridge activity as Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yourorg/unified-bridge/internal/circuitbreaker"
	"github.com/yourorg/unified-bridge/internal/model"
)

// Metrics holds the Prometheus collectors for bridge attempts and protocol health
type Metrics struct {
	attempts            *prometheus.CounterVec
	attemptDuration     *prometheus.HistogramVec
	fallbacks           *prometheus.CounterVec
	successRate         *prometheus.GaugeVec
	consecutiveFailures *prometheus.GaugeVec
	loadState           *prometheus.GaugeVec
	requests            *prometheus.CounterVec
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_attempts_total",
				Help: "Total number of bridge attempts by protocol, role and outcome",
			},
			[]string{"protocol", "attempt", "outcome", "error_code"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "bridge_attempt_duration_seconds",
				Help: "Bridge attempt duration in seconds",
				// attestation-bound transfers run for tens of minutes
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 900, 1800, 3600},
			},
			[]string{"protocol", "outcome"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_fallbacks_total",
				Help: "Total number of fallbacks from one protocol to another",
			},
			[]string{"from", "to", "error_code"},
		),
		successRate: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bridge_protocol_success_rate",
				Help: "Smoothed success rate of each protocol",
			},
			[]string{"protocol"},
		),
		consecutiveFailures: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bridge_protocol_consecutive_failures",
				Help: "Current run of consecutive failures of each protocol",
			},
			[]string{"protocol"},
		),
		loadState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bridge_protocol_load_state",
				Help: "Protocol load cache state (0=closed, 1=open, 2=half-open)",
			},
			[]string{"protocol"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_http_requests_total",
				Help: "Total number of API requests by route and status",
			},
			[]string{"route", "status"},
		),
	}

	reg.MustRegister(
		m.attempts,
		m.attemptDuration,
		m.fallbacks,
		m.successRate,
		m.consecutiveFailures,
		m.loadState,
		m.requests,
	)
	return m
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// ObserveAttempt records one bridge attempt
func (m *Metrics) ObserveAttempt(protocol string, attempt model.AttemptRole, success bool, code model.ErrorCode, duration time.Duration) {
	m.attempts.WithLabelValues(protocol, string(attempt), outcome(success), string(code)).Inc()
	m.attemptDuration.WithLabelValues(protocol, outcome(success)).Observe(duration.Seconds())
}

// ObserveFallback records a switch from one protocol to another
func (m *Metrics) ObserveFallback(from, to string, code model.ErrorCode) {
	m.fallbacks.WithLabelValues(from, to, string(code)).Inc()
}

// ObserveHealth publishes a protocol's current health
func (m *Metrics) ObserveHealth(h model.ProtocolHealth) {
	m.successRate.WithLabelValues(h.Protocol).Set(h.SuccessRate)
	m.consecutiveFailures.WithLabelValues(h.Protocol).Set(float64(h.ConsecutiveFailures))
}

// ObserveLoadState publishes a protocol's load cache state
func (m *Metrics) ObserveLoadState(protocol string, state circuitbreaker.State) {
	m.loadState.WithLabelValues(protocol).Set(float64(state))
}

// ObserveRequest counts one API request
func (m *Metrics) ObserveRequest(route, status string) {
	m.requests.WithLabelValues(route, status).Inc()
}
