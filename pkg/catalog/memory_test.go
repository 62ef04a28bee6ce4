package catalog

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/scoring"
)

type stageMap map[string]forgetting.Stage

func (s stageMap) Stage(_ context.Context, id string) (forgetting.Stage, error) {
	return s[id], nil
}

func item(id, scope string, size int64) forgetting.Item {
	return forgetting.Item{ID: id, Meta: forgetting.Meta{Class: forgetting.ClassDocument, Scope: scope, SizeBytes: size}}
}

func newTracker(t *testing.T, scopes ...string) *budget.Tracker {
	t.Helper()
	tr := budget.NewTracker()
	for _, s := range append([]string{budget.GlobalScope}, scopes...) {
		if err := tr.Register(s, budget.Limits{Capacity: 10000, Low: 5000, High: 8000}); err != nil {
			t.Fatalf("Register(%s): %v", s, err)
		}
	}
	return tr
}

func volume(t *testing.T, tr *budget.Tracker, scope string) int64 {
	t.Helper()
	st, err := tr.State(scope)
	if err != nil {
		t.Fatalf("State(%s): %v", scope, err)
	}
	return st.Volume
}

// TestPutCharges tests size accounting on insert, resize, and scope moves.
func TestPutCharges(t *testing.T) {
	ctx := context.Background()
	tr := newTracker(t, "table:events")
	m := NewMemory(nil, WithBudgets(tr))

	steps := []struct {
		name       string
		item       forgetting.Item
		wantScope  int64
		wantGlobal int64
	}{
		{"insert", item("a", "table:events", 100), 100, 100},
		{"grow", item("a", "table:events", 250), 250, 250},
		{"move to global", item("a", "", 250), 0, 250},
		{"unknown scope falls back", item("b", "table:missing", 50), 0, 300},
	}
	for _, s := range steps {
		if err := m.Put(ctx, s.item, scoring.Signals{}); err != nil {
			t.Fatalf("%s: Put: %v", s.name, err)
		}
		if got := volume(t, tr, "table:events"); got != s.wantScope {
			t.Errorf("%s: expected scope volume %d, got %d", s.name, s.wantScope, got)
		}
		if got := volume(t, tr, budget.GlobalScope); got != s.wantGlobal {
			t.Errorf("%s: expected global volume %d, got %d", s.name, s.wantGlobal, got)
		}
	}
}

// TestPutInvalid tests that invalid items are rejected.
func TestPutInvalid(t *testing.T) {
	m := NewMemory(nil)
	if err := m.Put(context.Background(), forgetting.Item{}, scoring.Signals{}); err == nil {
		t.Error("Expected error for item without id")
	}
	if m.Len() != 0 {
		t.Errorf("Expected empty catalog, got %d", m.Len())
	}
}

// TestCandidates tests scope filtering, terminal exclusion, ordering, and
// limits.
func TestCandidates(t *testing.T) {
	ctx := context.Background()
	stages := stageMap{"c": forgetting.StageKeyDestroyed, "d": forgetting.StageKeyDependent}
	m := NewMemory(stages)
	for _, it := range []forgetting.Item{
		item("d", "log:app", 1), item("b", "table:x", 1), item("a", "table:x", 1), item("c", "table:x", 1),
	} {
		if err := m.Put(ctx, it, scoring.Signals{}); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	tests := []struct {
		scope string
		limit int
		want  []string
	}{
		{budget.GlobalScope, 0, []string{"a", "b", "d"}},
		{"table:x", 0, []string{"a", "b"}},
		{"log:app", 0, []string{"d"}},
		{budget.GlobalScope, 2, []string{"a", "b"}},
		{"cache:none", 0, nil},
	}
	for _, tt := range tests {
		got, err := m.Candidates(ctx, tt.scope, tt.limit)
		if err != nil {
			t.Fatalf("Candidates(%s): %v", tt.scope, err)
		}
		if len(got) != len(tt.want) {
			t.Errorf("Candidates(%s, %d): expected %v, got %d items", tt.scope, tt.limit, tt.want, len(got))
			continue
		}
		for i, id := range tt.want {
			if got[i].Item.ID != id {
				t.Errorf("Candidates(%s, %d)[%d]: expected %s, got %s", tt.scope, tt.limit, i, id, got[i].Item.ID)
			}
		}
	}
}

// TestLookupAndTouch tests access tracking.
func TestLookupAndTouch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory(nil, WithClock(func() time.Time { return now }))

	if _, err := m.Lookup(ctx, "a"); !errors.Is(err, forgetting.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := m.Touch(ctx, "a"); !errors.Is(err, forgetting.ErrNotFound) {
		t.Errorf("Expected ErrNotFound from Touch, got %v", err)
	}
	if err := m.Put(ctx, item("a", "", 1), scoring.Signals{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := m.Touch(ctx, "a"); err != nil {
		t.Fatalf("Touch: %v", err)
	}
	c, err := m.Lookup(ctx, "a")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !c.Signals.LastAccess.Equal(now) {
		t.Errorf("Expected last access %v, got %v", now, c.Signals.LastAccess)
	}
	if !c.Item.Meta.CreatedAt.Equal(now) {
		t.Errorf("Expected created at defaulted to %v, got %v", now, c.Item.Meta.CreatedAt)
	}

	m.Remove("a")
	if m.Len() != 0 {
		t.Errorf("Expected empty catalog after Remove, got %d", m.Len())
	}
}
