package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/lethe/pkg/config"
)

func newTestCollector() *Collector {
	return NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "lethe"}, nil)
}

// TestNilCollector tests that recording on a nil collector is a no-op.
func TestNilCollector(t *testing.T) {
	var c *Collector
	c.RecordDecision("archive", "normal", false, false, time.Millisecond)
	c.RecordDenial("cooldown")
	c.RecordBudget("global", 10, "normal")
	c.RecordLedgerAppend("decision", nil)
}

// TestRecordDecision tests decision counters.
func TestRecordDecision(t *testing.T) {
	c := newTestCollector()
	c.RecordDecision("archive", "elevated", false, false, time.Millisecond)
	c.RecordDecision("archive", "elevated", true, true, time.Millisecond)

	if got := testutil.ToFloat64(c.decisions.decisions.WithLabelValues("archive", "elevated")); got != 2 {
		t.Errorf("Expected 2 decisions, got %v", got)
	}
	if got := testutil.ToFloat64(c.decisions.downgrades); got != 1 {
		t.Errorf("Expected 1 downgrade, got %v", got)
	}
	if got := testutil.ToFloat64(c.decisions.violations); got != 1 {
		t.Errorf("Expected 1 violation, got %v", got)
	}
}

// TestRecordBudgetTier tests that exactly one tier gauge is set.
func TestRecordBudgetTier(t *testing.T) {
	c := newTestCollector()
	c.RecordBudget("global", 900, "critical")
	c.RecordBudget("global", 500, "elevated")

	if got := testutil.ToFloat64(c.budget.tier.WithLabelValues("global", "elevated")); got != 1 {
		t.Errorf("Expected elevated=1, got %v", got)
	}
	if got := testutil.ToFloat64(c.budget.tier.WithLabelValues("global", "critical")); got != 0 {
		t.Errorf("Expected critical=0, got %v", got)
	}
	if got := testutil.ToFloat64(c.budget.volume.WithLabelValues("global")); got != 500 {
		t.Errorf("Expected volume 500, got %v", got)
	}
}

// TestRecordExecutionRetries tests that retries exclude the first attempt.
func TestRecordExecutionRetries(t *testing.T) {
	c := newTestCollector()
	c.RecordExecution("compress", "ok", 3, time.Millisecond)
	if got := testutil.ToFloat64(c.execution.retries.WithLabelValues("compress")); got != 2 {
		t.Errorf("Expected 2 retries, got %v", got)
	}
}

// TestDisabledCollector tests that a disabled config records nothing.
func TestDisabledCollector(t *testing.T) {
	c := NewCollector(&config.MetricsConfig{Enabled: false}, nil)
	c.RecordLedgerAppend("decision", errors.New("boom"))
	if got := testutil.ToFloat64(c.ledgerOpen.WithLabelValues("decision", "error")); got != 0 {
		t.Errorf("Expected 0, got %v", got)
	}
}

// TestHandler tests the exposition endpoint.
func TestHandler(t *testing.T) {
	c := newTestCollector()
	c.RecordDenial("no_approval")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `lethe_gate_denials_total{reason="no_approval"} 1`) {
		t.Errorf("Expected denial metric in output")
	}
}
