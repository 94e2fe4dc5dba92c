package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.IncSessions()
	m.IncSessions()
	m.DecSessions()
	if got := testutil.ToFloat64(m.activeSessions); got != 1 {
		t.Fatalf("active sessions gauge = %v, want 1", got)
	}

	m.ObserveResult(0)
	m.ObserveResult(0)
	m.ObserveResult(1)
	if got := testutil.ToFloat64(m.resultsTotal.WithLabelValues("0")); got != 2 {
		t.Fatalf("results{code=0} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.resultsTotal.WithLabelValues("1")); got != 1 {
		t.Fatalf("results{code=1} = %v, want 1", got)
	}

	m.ObserveDispatch("busy")
	if got := testutil.ToFloat64(m.dispatchOutcomes.WithLabelValues("busy")); got != 1 {
		t.Fatalf("dispatch{outcome=busy} = %v, want 1", got)
	}
}

func TestTwoRegistriesDoNotCollide(t *testing.T) {
	// Two managers in one process must be able to carry independent
	// collector sets; a second New over a fresh registry must not panic.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}
