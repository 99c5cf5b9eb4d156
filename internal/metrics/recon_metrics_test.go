package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewReconMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newReconMetricsWithRegisterer(reg)

	if metrics == nil {
		t.Fatal("newReconMetricsWithRegisterer should not return nil")
	}
	if metrics.eventsReceived == nil {
		t.Error("eventsReceived counter should not be nil")
	}
	if metrics.eventsApplied == nil {
		t.Error("eventsApplied counter should not be nil")
	}
	if metrics.eventsIgnored == nil {
		t.Error("eventsIgnored counter should not be nil")
	}
	if metrics.eventsRejected == nil {
		t.Error("eventsRejected counter vec should not be nil")
	}
	if metrics.handleDuration == nil {
		t.Error("handleDuration histogram should not be nil")
	}
	if metrics.inFlight == nil {
		t.Error("inFlight gauge should not be nil")
	}
}

func TestReconMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	// Повторная регистрация на том же registry должна вернуть существующие коллекторы.
	first := newReconMetricsWithRegisterer(reg)
	second := newReconMetricsWithRegisterer(reg)

	if first == nil || second == nil {
		t.Fatal("both metric sets must be constructed")
	}
}

func TestReconMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := newReconMetricsWithRegisterer(reg)

	metrics.RecordEventReceived()
	metrics.RecordEventApplied()
	metrics.RecordEventIgnored()
	metrics.RecordEventRejected("invalid_transition")
	metrics.RecordEventReplayed()
	metrics.RecordCommitConflict()
	metrics.RecordHandleDuration(50 * time.Millisecond)
	metrics.RecordEventFinished()

	if got := counterValue(t, metrics.eventsApplied); got != 1 {
		t.Fatalf("events applied = %v, want 1", got)
	}
	if got := counterValue(t, metrics.eventsRejected.WithLabelValues("invalid_transition")); got != 1 {
		t.Fatalf("events rejected = %v, want 1", got)
	}
	if got := gaugeValue(t, metrics.inFlight); got != 0 {
		t.Fatalf("in flight = %v, want 0 after finish", got)
	}
}

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := counter.Write(&m); err != nil {
		t.Fatalf("write counter: %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, gauge prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	if err := gauge.Write(&m); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	return m.GetGauge().GetValue()
}
