package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordCalls(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := New(registry)
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.ObserveCall("plan", "ok", 20*time.Millisecond)
	m.ObserveCall("plan", "ok", 10*time.Millisecond)
	m.ObserveCall("plan", "entry_status_invalid", time.Millisecond)
	m.ObserveCompletion("plan", "development")
	m.ObserveRestart("plan")

	if got := testutil.ToFloat64(m.calls.WithLabelValues("plan", "ok")); got != 2 {
		t.Fatalf("expected 2 ok calls, got %v", got)
	}
	if got := testutil.ToFloat64(m.calls.WithLabelValues("plan", "entry_status_invalid")); got != 1 {
		t.Fatalf("expected 1 failed call, got %v", got)
	}
	if got := testutil.ToFloat64(m.completions.WithLabelValues("plan", "development")); got != 1 {
		t.Fatalf("expected 1 completion, got %v", got)
	}
	if got := testutil.ToFloat64(m.restarts.WithLabelValues("plan")); got != 1 {
		t.Fatalf("expected 1 restart, got %v", got)
	}
	if n := testutil.CollectAndCount(m.duration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
}

func TestMetricsReuseRegisteredCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	first := MustNew(registry)
	second, err := New(registry)
	if err != nil {
		t.Fatalf("second registration: %v", err)
	}
	first.ObserveCompletion("develop", "review")
	if got := testutil.ToFloat64(second.completions.WithLabelValues("develop", "review")); got != 1 {
		t.Fatalf("expected shared collector, got %v", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCall("plan", "ok", time.Second)
	m.ObserveCompletion("plan", "done")
	m.ObserveRestart("plan")
}
