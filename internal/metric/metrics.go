package metric

import "github.com/prometheus/client_golang/prometheus"

const namespace = "tripwire"

// Metrics are the interpreter-level counters and gauges.
type Metrics struct {
	MessagesReceived *prometheus.CounterVec   // input
	RoutingErrors    *prometheus.CounterVec   // code
	Cycles           *prometheus.CounterVec   // model, trigger
	CycleDuration    *prometheus.HistogramVec // model, method
	Transitions      *prometheus.CounterVec   // model, from, to
	ConditionErrors  *prometheus.CounterVec   // model
	Actions          *prometheus.CounterVec   // kind, status
	Detectors        *prometheus.GaugeVec     // model
	TimersFired      *prometheus.CounterVec   // model
}

// NewMetrics creates the metric set. It is not registered.
func NewMetrics() *Metrics {
	return &Metrics{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "received_total",
			Help:      "Messages accepted by BatchPutMessage",
		}, []string{"input"}),

		RoutingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "routing_errors_total",
			Help:      "Messages dropped because they could not be routed",
		}, []string{"code"}),

		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "cycles_total",
			Help:      "Evaluation cycles run",
		}, []string{"model", "trigger"}),

		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "cycle_duration_seconds",
			Help:      "Time spent evaluating one cycle",
			Buckets:   []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}, []string{"model", "method"}),

		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "transitions_total",
			Help:      "State transitions taken",
		}, []string{"model", "from", "to"}),

		ConditionErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "condition_errors_total",
			Help:      "Conditions that failed to evaluate and were treated as false",
		}, []string{"model"}),

		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "executed_total",
			Help:      "Action executions by kind and outcome",
		}, []string{"kind", "status"}),

		Detectors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "detector",
			Name:      "instances",
			Help:      "Live detector instances",
		}, []string{"model"}),

		TimersFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "timers",
			Name:      "fired_total",
			Help:      "Timer expirations delivered to detectors",
		}, []string{"model"}),
	}
}

func (m *Metrics) mustRegister(r prometheus.Registerer) {
	r.MustRegister(
		m.MessagesReceived,
		m.RoutingErrors,
		m.Cycles,
		m.CycleDuration,
		m.Transitions,
		m.ConditionErrors,
		m.Actions,
		m.Detectors,
		m.TimersFired,
	)
}
