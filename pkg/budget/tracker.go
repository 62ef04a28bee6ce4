package budget

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mercator-hq/lethe/pkg/state"
)

// Tracker holds the live volume of every budget scope.
//
// Each scope has its own mutex, so ingestion on one table never waits on
// another. The scope map itself is guarded by a read-write lock that is
// only taken for writing on Register.
//
// Eviction state uses hysteresis: a scope starts evicting when its volume
// reaches the high watermark and keeps evicting until it is at or below the
// low watermark.
type Tracker struct {
	mu     sync.RWMutex
	scopes map[string]*scope

	window      time.Duration
	granularity time.Duration
	now         func() time.Time
	logger      *slog.Logger
}

type scope struct {
	mu       sync.Mutex
	id       string
	limits   Limits
	volume   int64
	evicting bool
	updated  time.Time
	ingest   *RollingWindow
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithIngestWindow sets the span and granularity of the ingestion window.
func WithIngestWindow(span, granularity time.Duration) Option {
	return func(t *Tracker) {
		t.window = span
		t.granularity = granularity
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// NewTracker creates an empty tracker.
func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		scopes:      make(map[string]*scope),
		window:      time.Hour,
		granularity: time.Minute,
		now:         time.Now,
		logger:      slog.Default().With("component", "budget.tracker"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Register adds a scope or replaces its limits, keeping the current volume.
func (t *Tracker) Register(id string, limits Limits) error {
	if id == "" {
		return fmt.Errorf("scope id is required")
	}
	if err := limits.Validate(); err != nil {
		return fmt.Errorf("scope %s: %w", id, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.scopes[id]; ok {
		s.mu.Lock()
		s.limits = limits
		s.mu.Unlock()
		return nil
	}
	t.scopes[id] = &scope{
		id:      id,
		limits:  limits,
		updated: t.now(),
		ingest:  NewRollingWindow(t.window, t.granularity, t.now),
	}
	return nil
}

func (t *Tracker) lookup(id string) (*scope, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.scopes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownScope, id)
	}
	return s, nil
}

// Add applies delta bytes to a scope: positive for ingestion, negative for
// reclaimed space. The delta also rolls into the global scope when one is
// registered. Volumes never go below zero.
func (t *Tracker) Add(id string, delta int64) error {
	s, err := t.lookup(id)
	if err != nil {
		return err
	}
	t.apply(s, delta)

	if id != GlobalScope {
		if g, err := t.lookup(GlobalScope); err == nil {
			t.apply(g, delta)
		}
	}
	return nil
}

func (t *Tracker) apply(s *scope, delta int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volume += delta
	if s.volume < 0 {
		s.volume = 0
	}
	s.updated = t.now()
	s.ingest.Add(delta)
}

// Set overwrites a scope's volume, e.g. after an external recount.
func (t *Tracker) Set(id string, volume int64) error {
	s, err := t.lookup(id)
	if err != nil {
		return err
	}
	if volume < 0 {
		volume = 0
	}
	s.mu.Lock()
	s.volume = volume
	s.updated = t.now()
	s.mu.Unlock()
	return nil
}

// State returns the current view of one scope.
func (t *Tracker) State(id string) (State, error) {
	s, err := t.lookup(id)
	if err != nil {
		return State{}, err
	}
	return s.snapshot(), nil
}

func (s *scope) snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		Scope:      s.id,
		Limits:     s.limits,
		Volume:     s.volume,
		Tier:       s.limits.TierFor(s.volume),
		Evicting:   s.evicting,
		IngestRate: s.ingest.Rate(),
		UpdatedAt:  s.updated,
	}
}

// States returns every scope, sorted by id.
func (t *Tracker) States() []State {
	t.mu.RLock()
	list := make([]*scope, 0, len(t.scopes))
	for _, s := range t.scopes {
		list = append(list, s)
	}
	t.mu.RUnlock()

	out := make([]State, 0, len(list))
	for _, s := range list {
		out = append(out, s.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

// Tier returns the tier of a scope, or normal for unknown scopes.
func (t *Tracker) Tier(id string) Tier {
	st, err := t.State(id)
	if err != nil {
		return TierNormal
	}
	return st.Tier
}

// Evaluate updates eviction state and returns a trigger for every scope
// that should be drained. A scope triggers once its volume reaches the high
// watermark and keeps triggering on each call until it is at or below the
// low watermark.
func (t *Tracker) Evaluate() []Trigger {
	t.mu.RLock()
	list := make([]*scope, 0, len(t.scopes))
	for _, s := range t.scopes {
		list = append(list, s)
	}
	t.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].id < list[j].id })

	now := t.now()
	var triggers []Trigger
	for _, s := range list {
		s.mu.Lock()
		switch {
		case !s.evicting && s.volume >= s.limits.High:
			s.evicting = true
			t.logger.Info("budget high watermark reached",
				"scope", s.id,
				"volume", s.volume,
				"high_watermark", s.limits.High,
			)
		case s.evicting && s.volume <= s.limits.Low:
			s.evicting = false
			t.logger.Info("budget drained to low watermark",
				"scope", s.id,
				"volume", s.volume,
				"low_watermark", s.limits.Low,
			)
		}
		if s.evicting {
			triggers = append(triggers, Trigger{
				Scope:  s.id,
				Volume: s.volume,
				Target: s.limits.Low,
				Tier:   s.limits.TierFor(s.volume),
				At:     now,
			})
		}
		s.mu.Unlock()
	}
	return triggers
}

// Persister stores budget counters.
type Persister interface {
	SaveBudget(ctx context.Context, rec state.BudgetRecord) error
	LoadBudgets(ctx context.Context) ([]state.BudgetRecord, error)
}

// Save writes every scope's counter to p.
func (t *Tracker) Save(ctx context.Context, p Persister) error {
	for _, st := range t.States() {
		rec := state.BudgetRecord{
			Scope:     st.Scope,
			Volume:    st.Volume,
			Evicting:  st.Evicting,
			UpdatedAt: st.UpdatedAt,
		}
		if err := p.SaveBudget(ctx, rec); err != nil {
			return fmt.Errorf("failed to save scope %s: %w", st.Scope, err)
		}
	}
	return nil
}

// Restore loads counters from p into registered scopes. Records for scopes
// that are no longer configured are skipped.
func (t *Tracker) Restore(ctx context.Context, p Persister) error {
	recs, err := p.LoadBudgets(ctx)
	if err != nil {
		return fmt.Errorf("failed to load budgets: %w", err)
	}
	for _, rec := range recs {
		s, err := t.lookup(rec.Scope)
		if err != nil {
			t.logger.Warn("skipping persisted budget for unknown scope", "scope", rec.Scope)
			continue
		}
		s.mu.Lock()
		s.volume = rec.Volume
		s.evicting = rec.Evicting
		s.updated = rec.UpdatedAt
		s.mu.Unlock()
	}
	return nil
}
