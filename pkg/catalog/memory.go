package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/eviction"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/scoring"
)

// StageReader reports an item's current stage.
type StageReader interface {
	Stage(ctx context.Context, itemID string) (forgetting.Stage, error)
}

// Budgets receives size changes.
type Budgets interface {
	Add(id string, delta int64) error
}

// Memory is an in-memory catalog. It is safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	items map[string]eviction.Candidate

	stages  StageReader
	budgets Budgets
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Memory catalog.
type Option func(*Memory)

// WithBudgets charges size changes to budget scopes.
func WithBudgets(b Budgets) Option {
	return func(m *Memory) { m.budgets = b }
}

// WithClock overrides the time source used by Touch.
func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) { m.logger = l.With("component", "catalog") }
}

// NewMemory creates a catalog. stages filters out terminal items from
// candidate lists; it may be nil.
func NewMemory(stages StageReader, opts ...Option) *Memory {
	m := &Memory{
		items:  make(map[string]eviction.Candidate),
		stages: stages,
		now:    time.Now,
		logger: slog.Default().With("component", "catalog"),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Put adds or replaces an item and charges the size difference to its
// scope.
func (m *Memory) Put(ctx context.Context, item forgetting.Item, sig scoring.Signals) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if item.Meta.CreatedAt.IsZero() {
		item.Meta.CreatedAt = m.now()
	}

	m.mu.Lock()
	prev, existed := m.items[item.ID]
	m.items[item.ID] = eviction.Candidate{Item: item, Signals: sig}
	m.mu.Unlock()

	var prevSize int64
	if existed {
		prevSize = prev.Item.Meta.SizeBytes
		if prev.Item.Meta.Scope != item.Meta.Scope {
			m.charge(ctx, prev.Item.Meta.Scope, -prevSize)
			prevSize = 0
		}
	}
	m.charge(ctx, item.Meta.Scope, item.Meta.SizeBytes-prevSize)
	return nil
}

// Touch records an access.
func (m *Memory) Touch(_ context.Context, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.items[itemID]
	if !ok {
		return fmt.Errorf("item %s: %w", itemID, forgetting.ErrNotFound)
	}
	c.Signals.LastAccess = m.now()
	m.items[itemID] = c
	return nil
}

// Remove drops an item without charging its scope. Reclaimed space is
// released by the pipeline when a plan executes.
func (m *Memory) Remove(itemID string) {
	m.mu.Lock()
	delete(m.items, itemID)
	m.mu.Unlock()
}

// Len returns the number of items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Lookup implements eviction.Catalog.
func (m *Memory) Lookup(_ context.Context, itemID string) (eviction.Candidate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.items[itemID]
	if !ok {
		return eviction.Candidate{}, fmt.Errorf("item %s: %w", itemID, forgetting.ErrNotFound)
	}
	return c, nil
}

// Candidates implements eviction.Catalog. The global scope lists every
// item. Results are ordered by item id.
func (m *Memory) Candidates(ctx context.Context, scope string, limit int) ([]eviction.Candidate, error) {
	m.mu.RLock()
	out := make([]eviction.Candidate, 0, len(m.items))
	for _, c := range m.items {
		if scope == "" || scope == budget.GlobalScope || c.Item.Meta.Scope == scope {
			out = append(out, c)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Item.ID < out[j].Item.ID })

	if m.stages != nil {
		kept := out[:0]
		for _, c := range out {
			s, err := m.stages.Stage(ctx, c.Item.ID)
			if err != nil {
				return nil, forgetting.NewDependencyUnavailableError("state", err)
			}
			if !s.Terminal() {
				kept = append(kept, c)
			}
		}
		out = kept
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) charge(ctx context.Context, scope string, delta int64) {
	if m.budgets == nil || delta == 0 {
		return
	}
	if scope == "" {
		scope = budget.GlobalScope
	}
	err := m.budgets.Add(scope, delta)
	if errors.Is(err, budget.ErrUnknownScope) && scope != budget.GlobalScope {
		err = m.budgets.Add(budget.GlobalScope, delta)
	}
	if err != nil {
		m.logger.DebugContext(ctx, "size change not charged", "scope", scope, "delta", delta, "error", err)
	}
}
