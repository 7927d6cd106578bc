// Package metrics provides prometheus instrumentation for conversation turns.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Turn outcome labels that are not engine outcomes.
const (
	OutcomeFailed    = "failed"
	OutcomeDuplicate = "duplicate"
	// OutcomeDropped counts inbound messages discarded before a turn could start.
	OutcomeDropped = "dropped"
)

// Metrics tracks turn throughput, effect failures, and OTP issuance.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	TurnsTotal     *prometheus.CounterVec
	EffectFailures *prometheus.CounterVec
	OTPIssued      *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
}

// New registers all chatbot metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TurnsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_turns_total",
			Help: "Total number of processed turns by outcome",
		}, []string{"outcome"}),
		EffectFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_effect_failures_total",
			Help: "Total number of failed effects by kind",
		}, []string{"kind"}),
		OTPIssued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chatbot_otp_issued_total",
			Help: "Total number of one-time codes issued by reason",
		}, []string{"reason"}),
		TurnDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chatbot_turn_duration_seconds",
			Help:    "Duration of a full turn including lock wait and dispatch",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// IncrementTurn records a finished turn.
func (m *Metrics) IncrementTurn(outcome string) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// IncrementEffectFailure records a failed effect of the given kind.
func (m *Metrics) IncrementEffectFailure(kind string) {
	if m == nil {
		return
	}
	m.EffectFailures.WithLabelValues(kind).Inc()
}

// IncrementOTPIssued records a code issued for reason (the turn outcome).
func (m *Metrics) IncrementOTPIssued(reason string) {
	if m == nil {
		return
	}
	m.OTPIssued.WithLabelValues(reason).Inc()
}

// ObserveTurn records the duration of a turn.
// Call with time.Now() at the start of the turn.
func (m *Metrics) ObserveTurn(start time.Time) {
	if m == nil {
		return
	}
	m.TurnDuration.Observe(time.Since(start).Seconds())
}
