// Package metrics exposes Prometheus instrumentation for the decision engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks decision engine activity.
//
// Metrics:
//   - kestrel_decisions_total: decisions by entity and outcome
//   - kestrel_rule_matches_total: rule matches by rule and tier
//   - kestrel_evaluation_duration_seconds: evaluation latency by entity
//   - kestrel_risk_score: risk score distribution by entity
//   - kestrel_invalid_scenarios_total: payloads rejected before evaluation
//
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisionsTotal     *prometheus.CounterVec
	ruleMatchesTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	riskScore          *prometheus.HistogramVec
	invalidTotal       prometheus.Counter
}

// New creates and registers the metrics with registry.
func New(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Name:      "decisions_total",
				Help:      "Total decisions by entity and outcome",
			},
			[]string{"entity", "decision"},
		),
		ruleMatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Name:      "rule_matches_total",
				Help:      "Total rule matches by rule and tier",
			},
			[]string{"rule_id", "tier"},
		),
		evaluationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kestrel",
				Name:      "evaluation_duration_seconds",
				Help:      "Duration of a single evaluation in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15), // 10µs to 160ms
			},
			[]string{"entity"},
		),
		riskScore: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kestrel",
				Name:      "risk_score",
				Help:      "Distribution of risk scores",
				Buckets:   []float64{10, 25, 40, 50, 60, 75, 90, 100},
			},
			[]string{"entity"},
		),
		invalidTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "kestrel",
				Name:      "invalid_scenarios_total",
				Help:      "Total payloads rejected by validation",
			},
		),
	}

	registry.MustRegister(
		m.decisionsTotal,
		m.ruleMatchesTotal,
		m.evaluationDuration,
		m.riskScore,
		m.invalidTotal,
	)

	return m
}

// RecordDecision records one completed evaluation.
func (m *Metrics) RecordDecision(entity, decision string, score int, d time.Duration) {
	if m == nil {
		return
	}
	m.decisionsTotal.WithLabelValues(entity, decision).Inc()
	m.evaluationDuration.WithLabelValues(entity).Observe(d.Seconds())
	m.riskScore.WithLabelValues(entity).Observe(float64(score))
}

// RecordRuleMatch records a matched rule.
func (m *Metrics) RecordRuleMatch(ruleID, tier string) {
	if m == nil {
		return
	}
	m.ruleMatchesTotal.WithLabelValues(ruleID, tier).Inc()
}

// RecordInvalid records a payload that failed validation.
func (m *Metrics) RecordInvalid() {
	if m == nil {
		return
	}
	m.invalidTotal.Inc()
}
