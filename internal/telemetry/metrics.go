// Package telemetry exposes Prometheus collectors for workflow handler
// activity.
package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "taskgate"

// Metrics records handler calls, tool completions and restarts.
type Metrics struct {
	calls       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	completions *prometheus.CounterVec
	restarts    *prometheus.CounterVec
}

// New registers the collectors on reg. Collectors already registered with
// the same descriptors are reused so several handlers can share a registry.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handler",
			Name:      "calls_total",
			Help:      "Workflow handler calls by tool and outcome.",
		}, []string{"tool", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "handler",
			Name:      "call_duration_seconds",
			Help:      "Time spent executing a workflow handler call, lock wait included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "completions_total",
			Help:      "Tools that reached their terminal state, by exit status.",
		}, []string{"tool", "exit_status"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "restarts_total",
			Help:      "Caller-initiated tool restarts.",
		}, []string{"tool"}),
	}
	var err error
	if m.calls, err = register(reg, m.calls); err != nil {
		return nil, err
	}
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.completions, err = register(reg, m.completions); err != nil {
		return nil, err
	}
	if m.restarts, err = register(reg, m.restarts); err != nil {
		return nil, err
	}
	return m, nil
}

// MustNew panics when registration fails.
func MustNew(reg prometheus.Registerer) *Metrics {
	m, err := New(reg)
	if err != nil {
		panic(err)
	}
	return m
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

// ObserveCall records one handler call. outcome is "ok" or a failure kind.
func (m *Metrics) ObserveCall(tool, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(tool, outcome).Inc()
	m.duration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveCompletion records a tool reaching its terminal state.
func (m *Metrics) ObserveCompletion(tool, exitStatus string) {
	if m == nil {
		return
	}
	m.completions.WithLabelValues(tool, exitStatus).Inc()
}

// ObserveRestart records a caller-initiated restart.
func (m *Metrics) ObserveRestart(tool string) {
	if m == nil {
		return
	}
	m.restarts.WithLabelValues(tool).Inc()
}
