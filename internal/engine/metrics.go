package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the engine. A nil *Metrics is valid and records nothing.
type Metrics struct {
	telemetryReceived prometheus.Counter
	telemetryDropped  prometheus.Counter
	evaluations       *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	actionsExecuted   *prometheus.CounterVec
	actionsDropped    *prometheus.CounterVec
	timers            *prometheus.GaugeVec
	rules             prometheus.Gauge
}

// NewMetrics creates and registers engine metrics; a nil registerer disables metrics
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		telemetryReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaygate",
			Subsystem: "engine",
			Name:      "telemetry_received_total",
			Help:      "Telemetry messages received",
		}),
		telemetryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "relaygate",
			Subsystem: "engine",
			Name:      "telemetry_invalid_total",
			Help:      "Telemetry messages ignored because they could not be parsed",
		}),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaygate",
			Subsystem: "engine",
			Name:      "evaluations_total",
			Help:      "Rule evaluations by result",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaygate",
			Subsystem: "engine",
			Name:      "transitions_total",
			Help:      "Rule activation and deactivation edges",
		}, []string{"rule_id", "edge"}),
		actionsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaygate",
			Subsystem: "engine",
			Name:      "actions_executed_total",
			Help:      "Actions dispatched",
		}, []string{"kind"}),
		actionsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaygate",
			Subsystem: "engine",
			Name:      "actions_dropped_total",
			Help:      "Actions dropped without delivery",
		}, []string{"kind", "reason"}),
		timers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "relaygate",
			Subsystem: "engine",
			Name:      "timers",
			Help:      "Tracked delay timers",
		}, []string{"kind"}),
		rules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relaygate",
			Subsystem: "engine",
			Name:      "rules",
			Help:      "Rules in the rule store",
		}),
	}

	reg.MustRegister(
		m.telemetryReceived,
		m.telemetryDropped,
		m.evaluations,
		m.transitions,
		m.actionsExecuted,
		m.actionsDropped,
		m.timers,
		m.rules,
	)
	return m
}

func (m *Metrics) telemetry() {
	if m == nil {
		return
	}
	m.telemetryReceived.Inc()
}

func (m *Metrics) telemetryInvalid() {
	if m == nil {
		return
	}
	m.telemetryDropped.Inc()
}

func (m *Metrics) evaluation(result bool) {
	if m == nil {
		return
	}
	label := "false"
	if result {
		label = "true"
	}
	m.evaluations.WithLabelValues(label).Inc()
}

func (m *Metrics) transition(ruleID, edge string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(ruleID, edge).Inc()
}

// forgetRule drops the per-rule series of a rule that no longer exists
func (m *Metrics) forgetRule(ruleID string) {
	if m == nil {
		return
	}
	m.transitions.DeletePartialMatch(prometheus.Labels{"rule_id": ruleID})
}

func (m *Metrics) actionExecuted(kind string) {
	if m == nil {
		return
	}
	m.actionsExecuted.WithLabelValues(kind).Inc()
}

func (m *Metrics) actionDropped(kind, reason string) {
	if m == nil {
		return
	}
	m.actionsDropped.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) setTimers(actions, triggers int) {
	if m == nil {
		return
	}
	m.timers.WithLabelValues("action").Set(float64(actions))
	m.timers.WithLabelValues("trigger").Set(float64(triggers))
}

func (m *Metrics) setRules(n int) {
	if m == nil {
		return
	}
	m.rules.Set(float64(n))
}
