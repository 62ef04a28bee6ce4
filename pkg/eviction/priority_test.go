package eviction

import (
	"testing"

	"mercator-hq/lethe/pkg/forgetting"
)

func vector(risk, redundancy float64) forgetting.ScoreVector {
	return forgetting.Uniform(0.5).Set(forgetting.AxisRisk, risk).Set(forgetting.AxisRedundancy, redundancy)
}

// TestFactorsPriority tests the risk and redundancy adjustments.
func TestFactorsPriority(t *testing.T) {
	f := Factors{Risk: 0.5, Redundancy: 0.5}

	tests := []struct {
		name      string
		composite float64
		v         forgetting.ScoreVector
		want      float64
	}{
		{"no adjustment", 0.4, vector(0, 0), 0.4},
		{"risk protects", 0.4, vector(1, 0), 0.6},
		{"redundancy hastens", 0.4, vector(0, 1), 0.2},
		{"both", 0.4, vector(1, 1), 0.3},
		{"zero composite", 0, vector(1, 0), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.Priority(tt.composite, tt.v)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Errorf("Expected priority %v, got %v", tt.want, got)
			}
		})
	}
}

// TestHeapOrder tests that the heap pops the lowest priority first and
// breaks ties by item ID.
func TestHeapOrder(t *testing.T) {
	h := newHeap()
	for _, e := range []struct {
		id string
		p  float64
	}{
		{"d", 0.9}, {"b", 0.2}, {"c", 0.2}, {"a", 0.5}, {"e", 0.1},
	} {
		h.push(&entry{candidate: Candidate{Item: forgetting.Item{ID: e.id}}, priority: e.p})
	}

	want := []string{"e", "b", "c", "a", "d"}
	for i, id := range want {
		e, ok := h.pop()
		if !ok {
			t.Fatalf("Pop %d: heap empty", i)
		}
		if e.candidate.Item.ID != id {
			t.Errorf("Pop %d: expected %s, got %s", i, id, e.candidate.Item.ID)
		}
	}
	if _, ok := h.pop(); ok {
		t.Error("Expected empty heap")
	}
}
