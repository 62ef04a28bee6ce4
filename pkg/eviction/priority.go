package eviction

import (
	"strings"

	"github.com/emirpasic/gods/queues/priorityqueue"

	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/scoring"
)

// Candidate is an item eligible for a sweep together with its raw signals.
type Candidate struct {
	Item    forgetting.Item
	Signals scoring.Signals
}

// Factors scale the risk and redundancy adjustments of the priority.
type Factors struct {
	Risk       float64
	Redundancy float64
}

// Priority returns the adjusted eviction priority of a scored item.
// Lower values are evicted first.
func (f Factors) Priority(composite float64, v forgetting.ScoreVector) float64 {
	p := composite * (1 + f.Risk*v.Get(forgetting.AxisRisk)) * (1 - f.Redundancy*v.Get(forgetting.AxisRedundancy))
	if p < 0 {
		return 0
	}
	return p
}

type entry struct {
	candidate Candidate
	score     forgetting.ScoreVector
	composite float64
	priority  float64
}

func byPriority(a, b interface{}) int {
	x, y := a.(*entry), b.(*entry)
	switch {
	case x.priority < y.priority:
		return -1
	case x.priority > y.priority:
		return 1
	}
	return strings.Compare(x.candidate.Item.ID, y.candidate.Item.ID)
}

// heap is a min-heap of scored candidates.
type heap struct {
	q *priorityqueue.Queue
}

func newHeap() *heap {
	return &heap{q: priorityqueue.NewWith(byPriority)}
}

func (h *heap) push(e *entry) {
	h.q.Enqueue(e)
}

func (h *heap) pop() (*entry, bool) {
	v, ok := h.q.Dequeue()
	if !ok {
		return nil, false
	}
	return v.(*entry), true
}

func (h *heap) len() int {
	return h.q.Size()
}
