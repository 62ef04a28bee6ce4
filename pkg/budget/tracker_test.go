package budget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/state"
)

var testLimits = Limits{Capacity: 1000, Low: 600, High: 800}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	tr := NewTracker()
	if err := tr.Register(GlobalScope, Limits{Capacity: 10000, Low: 6000, High: 8000}); err != nil {
		t.Fatalf("Register global: %v", err)
	}
	if err := tr.Register("table:orders", testLimits); err != nil {
		t.Fatalf("Register: %v", err)
	}
	return tr
}

// ============================================================================
// Limits
// ============================================================================

// TestLimitsValidate tests watermark ordering.
func TestLimitsValidate(t *testing.T) {
	tests := []struct {
		name    string
		limits  Limits
		wantErr bool
	}{
		{"valid", testLimits, false},
		{"low equals high", Limits{Capacity: 100, Low: 50, High: 50}, true},
		{"high over capacity", Limits{Capacity: 100, Low: 50, High: 150}, true},
		{"zero low", Limits{Capacity: 100, Low: 0, High: 50}, true},
		{"zero capacity", Limits{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.limits.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

// TestTierFor tests tier boundaries.
func TestTierFor(t *testing.T) {
	tests := []struct {
		volume int64
		want   Tier
	}{
		{0, TierNormal},
		{599, TierNormal},
		{600, TierElevated},
		{799, TierElevated},
		{800, TierCritical},
		{1200, TierCritical},
	}
	for _, tt := range tests {
		if got := testLimits.TierFor(tt.volume); got != tt.want {
			t.Errorf("volume %d: expected %s, got %s", tt.volume, tt.want, got)
		}
	}
}

// ============================================================================
// Tracker
// ============================================================================

// TestTrackerAddRollsIntoGlobal tests that scope deltas reach the global scope.
func TestTrackerAddRollsIntoGlobal(t *testing.T) {
	tr := newTestTracker(t)

	if err := tr.Add("table:orders", 500); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := tr.Add("table:orders", -200); err != nil {
		t.Fatalf("Add: %v", err)
	}

	st, _ := tr.State("table:orders")
	if st.Volume != 300 {
		t.Errorf("Expected volume 300, got %d", st.Volume)
	}
	g, _ := tr.State(GlobalScope)
	if g.Volume != 300 {
		t.Errorf("Expected global volume 300, got %d", g.Volume)
	}

	if err := tr.Add("table:missing", 1); !errors.Is(err, ErrUnknownScope) {
		t.Errorf("Expected ErrUnknownScope, got %v", err)
	}
	if err := tr.Add("table:orders", -10000); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if st, _ := tr.State("table:orders"); st.Volume != 0 {
		t.Errorf("Expected volume floored at 0, got %d", st.Volume)
	}
}

// TestEvaluateHysteresis tests trigger start at high and stop at low.
func TestEvaluateHysteresis(t *testing.T) {
	tr := newTestTracker(t)

	tr.Set("table:orders", 700)
	if trig := tr.Evaluate(); len(trig) != 0 {
		t.Fatalf("Expected no triggers between watermarks, got %v", trig)
	}

	tr.Set("table:orders", 850)
	trig := tr.Evaluate()
	if len(trig) != 1 || trig[0].Scope != "table:orders" || trig[0].Target != 600 {
		t.Fatalf("Expected one trigger to 600, got %+v", trig)
	}
	if trig[0].Excess() != 250 || trig[0].Tier != TierCritical {
		t.Errorf("Unexpected trigger: %+v", trig[0])
	}

	// Still above low: keep draining even though below high.
	tr.Set("table:orders", 700)
	if trig := tr.Evaluate(); len(trig) != 1 {
		t.Errorf("Expected continued trigger above low watermark, got %v", trig)
	}

	tr.Set("table:orders", 590)
	if trig := tr.Evaluate(); len(trig) != 0 {
		t.Errorf("Expected trigger cleared at low watermark, got %v", trig)
	}
	if st, _ := tr.State("table:orders"); st.Evicting {
		t.Error("Expected evicting cleared")
	}
}

// TestTrackerConcurrentAdds tests per-scope locking under contention.
func TestTrackerConcurrentAdds(t *testing.T) {
	tr := newTestTracker(t)
	tr.Register("log:audit", testLimits)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); tr.Add("table:orders", 2) }()
		go func() { defer wg.Done(); tr.Add("log:audit", 3) }()
	}
	wg.Wait()

	if st, _ := tr.State("table:orders"); st.Volume != 100 {
		t.Errorf("Expected 100, got %d", st.Volume)
	}
	if st, _ := tr.State("log:audit"); st.Volume != 150 {
		t.Errorf("Expected 150, got %d", st.Volume)
	}
	if g, _ := tr.State(GlobalScope); g.Volume != 250 {
		t.Errorf("Expected global 250, got %d", g.Volume)
	}
}

// TestTrackerSaveRestore tests persistence of counters.
func TestTrackerSaveRestore(t *testing.T) {
	ctx := context.Background()
	backend := state.NewMemoryBackend()

	tr := newTestTracker(t)
	tr.Set("table:orders", 900)
	tr.Evaluate()
	if err := tr.Save(ctx, backend); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := newTestTracker(t)
	if err := restored.Restore(ctx, backend); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	st, _ := restored.State("table:orders")
	if st.Volume != 900 || !st.Evicting {
		t.Errorf("Expected restored 900/evicting, got %d/%v", st.Volume, st.Evicting)
	}
}

// ============================================================================
// Rolling window
// ============================================================================

// TestRollingWindow tests expiry of old slots.
func TestRollingWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	w := NewRollingWindow(time.Minute, 10*time.Second, clock.Now)

	w.Add(100)
	clock.Advance(20 * time.Second)
	w.Add(50)
	w.Add(-500) // reclaim is not ingestion

	if got := w.Sum(); got != 150 {
		t.Errorf("Expected 150, got %d", got)
	}

	clock.Advance(50 * time.Second)
	if got := w.Sum(); got != 50 {
		t.Errorf("Expected first slot expired, got %d", got)
	}

	clock.Advance(time.Minute)
	if got := w.Sum(); got != 0 {
		t.Errorf("Expected empty window, got %d", got)
	}
	if got := w.Rate(); got != 0 {
		t.Errorf("Expected zero rate, got %v", got)
	}
}
