package storage

import (
	"context"
	"slices"
	"sync"

	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/ledger"
)

// MemoryStorage keeps ledger entries in memory. It is meant for tests and
// local runs; nothing survives a restart.
type MemoryStorage struct {
	mu      sync.RWMutex
	entries []*ledger.Entry
	last    map[string]*ledger.Entry
	closed  bool
	failure error
}

// NewMemoryStorage creates an empty in-memory ledger store.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{last: make(map[string]*ledger.Entry)}
}

// Append implements ledger.Storage.
func (m *MemoryStorage) Append(ctx context.Context, entry *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ledger.NewStorageError("memory", "append", forgetting.ErrClosed)
	}
	if m.failure != nil {
		return ledger.NewStorageError("memory", "append", m.failure)
	}
	c := *entry
	// Keep entries sorted by seq; appends almost always arrive in order.
	i, _ := slices.BinarySearchFunc(m.entries, c.Seq, func(e *ledger.Entry, seq uint64) int {
		switch {
		case e.Seq < seq:
			return -1
		case e.Seq > seq:
			return 1
		}
		return 0
	})
	m.entries = slices.Insert(m.entries, i, &c)
	if prev, ok := m.last[c.ChainKey()]; !ok || prev.Seq < c.Seq {
		m.last[c.ChainKey()] = &c
	}
	return nil
}

func matches(e *ledger.Entry, q *ledger.Query) bool {
	if q == nil {
		return true
	}
	if q.ItemID != "" && e.ItemID != q.ItemID {
		return false
	}
	if len(q.Kinds) > 0 && !slices.Contains(q.Kinds, e.Kind) {
		return false
	}
	if !q.Since.IsZero() && e.Time.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && !e.Time.Before(q.Until) {
		return false
	}
	return e.Seq > q.AfterSeq
}

// Query implements ledger.Storage.
func (m *MemoryStorage) Query(ctx context.Context, q *ledger.Query) ([]*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ledger.NewStorageError("memory", "query", forgetting.ErrClosed)
	}
	var out []*ledger.Entry
	for _, e := range m.entries {
		if !matches(e, q) {
			continue
		}
		c := *e
		out = append(out, &c)
		if q != nil && q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// Count implements ledger.Storage.
func (m *MemoryStorage) Count(ctx context.Context, q *ledger.Query) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int64
	for _, e := range m.entries {
		if matches(e, q) {
			n++
		}
	}
	return n, nil
}

// Last implements ledger.Storage.
func (m *MemoryStorage) Last(ctx context.Context, chainKey string) (*ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.last[chainKey]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

// MaxSeq implements ledger.Storage.
func (m *MemoryStorage) MaxSeq(ctx context.Context) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.entries) == 0 {
		return 0, nil
	}
	return m.entries[len(m.entries)-1].Seq, nil
}

// SetFailure makes every later Append fail with err until cleared with nil.
// Tests use it to simulate a ledger outage.
func (m *MemoryStorage) SetFailure(err error) {
	m.mu.Lock()
	m.failure = err
	m.mu.Unlock()
}

// Close implements ledger.Storage.
func (m *MemoryStorage) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Tamper replaces the reason of the entry with the given seq. It exists so
// tests can check chain verification.
func (m *MemoryStorage) Tamper(seq uint64, reason string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Seq == seq {
			e.Reason = reason
			return true
		}
	}
	return false
}
