package budget

import (
	"sync"
	"time"
)

// RollingWindow sums ingested bytes over a sliding time window.
//
// The window is split into fixed-size slots held in a ring. A slot older
// than the window is cleared lazily on the next Add or Sum, so the ring
// never grows.
type RollingWindow struct {
	span  time.Duration
	slot  time.Duration
	slots []slot
	now   func() time.Time
	mu    sync.Mutex
}

type slot struct {
	start time.Time
	bytes int64
}

// NewRollingWindow creates a window of the given span with slots of the
// given granularity. A nil clock means time.Now.
func NewRollingWindow(span, granularity time.Duration, now func() time.Time) *RollingWindow {
	if granularity <= 0 || granularity > span {
		granularity = span
	}
	n := int(span / granularity)
	if n < 1 {
		n = 1
	}
	if now == nil {
		now = time.Now
	}
	return &RollingWindow{
		span:  span,
		slot:  granularity,
		slots: make([]slot, n),
		now:   now,
	}
}

// Add records bytes ingested now. Non-positive values are ignored; reclaim
// does not count against ingestion.
func (w *RollingWindow) Add(bytes int64) {
	if bytes <= 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	start := now.Truncate(w.slot)
	idx := int((start.UnixNano() / int64(w.slot)) % int64(len(w.slots)))
	if idx < 0 {
		idx += len(w.slots)
	}
	if !w.slots[idx].start.Equal(start) {
		w.slots[idx] = slot{start: start}
	}
	w.slots[idx].bytes += bytes
}

// Sum returns the bytes ingested within the window.
func (w *RollingWindow) Sum() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-w.span)
	var total int64
	for i := range w.slots {
		s := &w.slots[i]
		if s.start.IsZero() {
			continue
		}
		if !s.start.After(cutoff) {
			*s = slot{}
			continue
		}
		total += s.bytes
	}
	return total
}

// Rate returns the mean ingestion rate in bytes per second over the window.
func (w *RollingWindow) Rate() float64 {
	return float64(w.Sum()) / w.span.Seconds()
}

// Reset clears every slot.
func (w *RollingWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.slots)
}
