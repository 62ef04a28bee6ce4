package state

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mercator-hq/lethe/pkg/forgetting"
)

// MemoryBackend implements Backend in process memory.
type MemoryBackend struct {
	mu        sync.RWMutex
	items     map[string]ItemRecord
	budgets   map[string]BudgetRecord
	keys      map[string]KeyRecord
	tunables  *forgetting.Tunables
	snapshots map[string]Snapshot
	closed    bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items:     make(map[string]ItemRecord),
		budgets:   make(map[string]BudgetRecord),
		keys:      make(map[string]KeyRecord),
		snapshots: make(map[string]Snapshot),
	}
}

func (m *MemoryBackend) check() error {
	if m.closed {
		return forgetting.ErrClosed
	}
	return nil
}

// LoadItem implements Backend.
func (m *MemoryBackend) LoadItem(ctx context.Context, itemID string) (ItemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return ItemRecord{}, err
	}
	rec, ok := m.items[itemID]
	if !ok {
		return ItemRecord{}, fmt.Errorf("item %s: %w", itemID, forgetting.ErrNotFound)
	}
	return rec, nil
}

// CompareAndSwapItem implements Backend.
func (m *MemoryBackend) CompareAndSwapItem(ctx context.Context, rec ItemRecord, expected int64) (ItemRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return ItemRecord{}, err
	}

	cur, ok := m.items[rec.ItemID]
	var curVersion int64
	if ok {
		curVersion = cur.Version
	}
	if curVersion != expected {
		return ItemRecord{}, fmt.Errorf("item %s: have version %d, expected %d: %w",
			rec.ItemID, curVersion, expected, forgetting.ErrVersionConflict)
	}
	rec.Version = expected + 1
	m.items[rec.ItemID] = rec
	return rec, nil
}

// ListItems implements Backend.
func (m *MemoryBackend) ListItems(ctx context.Context) ([]ItemRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	out := make([]ItemRecord, 0, len(m.items))
	for _, rec := range m.items {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// SaveBudget implements Backend.
func (m *MemoryBackend) SaveBudget(ctx context.Context, rec BudgetRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	m.budgets[rec.Scope] = rec
	return nil
}

// LoadBudgets implements Backend.
func (m *MemoryBackend) LoadBudgets(ctx context.Context) ([]BudgetRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	out := make([]BudgetRecord, 0, len(m.budgets))
	for _, rec := range m.budgets {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out, nil
}

// SaveKey implements Backend.
func (m *MemoryBackend) SaveKey(ctx context.Context, rec KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	rec.Salt = append([]byte(nil), rec.Salt...)
	m.keys[rec.ItemID] = rec
	return nil
}

// LoadKey implements Backend.
func (m *MemoryBackend) LoadKey(ctx context.Context, itemID string) (KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return KeyRecord{}, err
	}
	rec, ok := m.keys[itemID]
	if !ok {
		return KeyRecord{}, fmt.Errorf("key %s: %w", itemID, forgetting.ErrNotFound)
	}
	rec.Salt = append([]byte(nil), rec.Salt...)
	return rec, nil
}

// SaveTunables implements Backend.
func (m *MemoryBackend) SaveTunables(ctx context.Context, t forgetting.Tunables) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	c := t.Clone()
	m.tunables = &c
	return nil
}

// LoadTunables implements Backend.
func (m *MemoryBackend) LoadTunables(ctx context.Context) (forgetting.Tunables, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return forgetting.Tunables{}, err
	}
	if m.tunables == nil {
		return forgetting.Tunables{}, fmt.Errorf("tunables: %w", forgetting.ErrNotFound)
	}
	return m.tunables.Clone(), nil
}

// SaveSnapshot implements Backend.
func (m *MemoryBackend) SaveSnapshot(ctx context.Context, s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	s.Tunables = s.Tunables.Clone()
	m.snapshots[s.ID] = s
	return nil
}

// LoadSnapshot implements Backend.
func (m *MemoryBackend) LoadSnapshot(ctx context.Context, id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return Snapshot{}, err
	}
	s, ok := m.snapshots[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("snapshot %s: %w", id, forgetting.ErrNotFound)
	}
	s.Tunables = s.Tunables.Clone()
	return s, nil
}

// ListSnapshots implements Backend.
func (m *MemoryBackend) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.check(); err != nil {
		return nil, err
	}
	out := make([]Snapshot, 0, len(m.snapshots))
	for _, s := range m.snapshots {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Tunables.Version < out[j].Tunables.Version
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// DeleteSnapshot implements Backend.
func (m *MemoryBackend) DeleteSnapshot(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check(); err != nil {
		return err
	}
	delete(m.snapshots, id)
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
