package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveQueueStatsSetsLabels(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveQueueStats(3, 1, 2, 0)

	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("pending")); got != 3 {
		t.Errorf("pending depth = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.QueueDepth.WithLabelValues("signing")); got != 1 {
		t.Errorf("signing depth = %v, want 1", got)
	}
}

func TestCountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.SeedingVerified.Inc()
	m.SeedingFailed.Inc()
	m.SeedingFailed.Inc()

	if got := testutil.ToFloat64(m.SeedingVerified); got != 1 {
		t.Errorf("SeedingVerified = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SeedingFailed); got != 2 {
		t.Errorf("SeedingFailed = %v, want 2", got)
	}
}
