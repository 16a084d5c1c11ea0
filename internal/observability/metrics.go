package observability

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the Prometheus collectors for quiz operations. It
// satisfies the observer interfaces of the lifecycle machine, the scheduler,
// the settlement engine and the attempt tracker.
type Metrics struct {
	stateTransitions  *prometheus.CounterVec
	questionAdvances  *prometheus.CounterVec
	activeSchedulers  prometheus.Gauge
	settlementLatency *prometheus.HistogramVec
	fencingConflicts  *prometheus.CounterVec
	antiCheatEvents   *prometheus.CounterVec
}

// NewMetrics builds and registers the collectors on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		stateTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_state_transitions_total",
				Help: "Total number of quiz lifecycle transitions",
			},
			[]string{"from", "to"},
		),
		questionAdvances: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_question_advances_total",
				Help: "Total number of shared question cursor advances",
			},
			[]string{"date"},
		),
		activeSchedulers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quiz_active_schedulers",
				Help: "Number of quizzes with a running advancement loop",
			},
		),
		settlementLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quiz_settlement_duration_seconds",
				Help:    "Duration of winner settlement runs",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"success"},
		),
		fencingConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_settlement_fencing_conflicts_total",
				Help: "Settlement attempts rejected by the fencing token",
			},
			[]string{"date"},
		),
		antiCheatEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_anti_cheat_events_total",
				Help: "Integrity violations detected during answer submission",
			},
			[]string{"kind"},
		),
	}

	reg.MustRegister(
		m.stateTransitions,
		m.questionAdvances,
		m.activeSchedulers,
		m.settlementLatency,
		m.fencingConflicts,
		m.antiCheatEvents,
	)
	return m
}

func (m *Metrics) RecordStateChange(_ context.Context, _, fromState, toState string, _ time.Time) {
	m.stateTransitions.WithLabelValues(fromState, toState).Inc()
}

func (m *Metrics) RecordQuestionAdvanced(date string, _ int) {
	m.questionAdvances.WithLabelValues(date).Inc()
}

func (m *Metrics) SetActiveSchedulers(n int) {
	m.activeSchedulers.Set(float64(n))
}

func (m *Metrics) RecordSettlement(_ string, latency time.Duration, success bool) {
	label := "false"
	if success {
		label = "true"
	}
	m.settlementLatency.WithLabelValues(label).Observe(latency.Seconds())
}

func (m *Metrics) RecordFencingConflict(date string) {
	m.fencingConflicts.WithLabelValues(date).Inc()
}

func (m *Metrics) RecordAntiCheatEvent(_ context.Context, _ uuid.UUID, _ string, kind string, _ map[string]any) {
	m.antiCheatEvents.WithLabelValues(kind).Inc()
}
