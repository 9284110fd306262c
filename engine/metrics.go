package engine

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Turn outcomes reported by Metrics.
const (
	OutcomeAnswered = "answered"
	OutcomeRefused  = "refused"
	OutcomeFailed   = "failed"
)

// Metrics exposes Prometheus collectors for turns, tool calls and trace
// persistence. A nil *Metrics records nothing.
type Metrics struct {
	turns         *prometheus.CounterVec
	turnDuration  *prometheus.HistogramVec
	toolCalls     *prometheus.CounterVec
	reconcileErrs prometheus.Counter
	activeTurns   prometheus.Gauge
}

// NewMetrics registers the engine collectors with reg. Collectors already
// registered by an earlier engine are reused.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		turns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bankmesh",
			Subsystem: "engine",
			Name:      "turns_total",
			Help:      "Turns handled, by specialist and outcome.",
		}, []string{"agent", "outcome"}),
		turnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bankmesh",
			Subsystem: "engine",
			Name:      "turn_duration_seconds",
			Help:      "Duration of a turn including trace persistence.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"agent"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bankmesh",
			Subsystem: "engine",
			Name:      "tool_calls_total",
			Help:      "Tool results observed in turns, by tool and status.",
		}, []string{"tool", "status"}),
		reconcileErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "bankmesh",
			Subsystem: "engine",
			Name:      "reconcile_failures_total",
			Help:      "Turns whose trace could not be persisted.",
		}),
		activeTurns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "bankmesh",
			Subsystem: "engine",
			Name:      "turns_active",
			Help:      "Turns currently in flight.",
		}),
	}

	var err error
	if m.turns, err = register(reg, m.turns); err != nil {
		return nil, err
	}
	if m.turnDuration, err = register(reg, m.turnDuration); err != nil {
		return nil, err
	}
	if m.toolCalls, err = register(reg, m.toolCalls); err != nil {
		return nil, err
	}
	if m.reconcileErrs, err = register(reg, m.reconcileErrs); err != nil {
		return nil, err
	}
	if m.activeTurns, err = register(reg, m.activeTurns); err != nil {
		return nil, err
	}

	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) turnStarted() {
	if m == nil {
		return
	}
	m.activeTurns.Inc()
}

func (m *Metrics) turnDone(agent, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.activeTurns.Dec()
	if agent == "" {
		agent = "none"
	}
	m.turns.WithLabelValues(agent, outcome).Inc()
	m.turnDuration.WithLabelValues(agent).Observe(d.Seconds())
}

func (m *Metrics) toolCall(tool, status string) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) reconcileFailed() {
	if m == nil {
		return
	}
	m.reconcileErrs.Inc()
}
