package eviction

import (
	"context"
	"sync"
	"time"
)

// CooldownStore quarantines items that hard constraints refused, so the
// next sweeps do not pick them again right away.
type CooldownStore interface {
	// Quarantine excludes itemID for d.
	Quarantine(ctx context.Context, itemID string, d time.Duration) error
	// Cooling reports whether itemID is still quarantined.
	Cooling(ctx context.Context, itemID string) (bool, error)
}

// MemoryCooldowns is an in-process CooldownStore.
type MemoryCooldowns struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

// NewMemoryCooldowns creates an empty store.
func NewMemoryCooldowns() *MemoryCooldowns {
	return &MemoryCooldowns{until: make(map[string]time.Time), now: time.Now}
}

// SetClock overrides the time source.
func (m *MemoryCooldowns) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Quarantine implements CooldownStore.
func (m *MemoryCooldowns) Quarantine(_ context.Context, itemID string, d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.until[itemID] = m.now().Add(d)
	return nil
}

// Cooling implements CooldownStore. Expired entries are dropped on read.
func (m *MemoryCooldowns) Cooling(_ context.Context, itemID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	until, ok := m.until[itemID]
	if !ok {
		return false, nil
	}
	if !m.now().Before(until) {
		delete(m.until, itemID)
		return false, nil
	}
	return true, nil
}

// Len returns the number of tracked entries, expired or not.
func (m *MemoryCooldowns) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.until)
}
