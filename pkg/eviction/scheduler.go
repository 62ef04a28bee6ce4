package eviction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/policy"
	"mercator-hq/lethe/pkg/scoring"
	"mercator-hq/lethe/pkg/telemetry/logging"
	"mercator-hq/lethe/pkg/telemetry/tracing"
)

// Sweep outcomes.
const (
	OutcomeConverged    = "converged"
	OutcomeExhausted    = "exhausted"
	OutcomeCancelled    = "cancelled"
	OutcomeBackpressure = "backpressure"
	OutcomeError        = "error"
)

// Catalog lists the items stored under a budget scope.
type Catalog interface {
	// Candidates returns at most limit non-terminal items of scope.
	Candidates(ctx context.Context, scope string, limit int) ([]Candidate, error)
	// Lookup returns one item, or forgetting.ErrNotFound.
	Lookup(ctx context.Context, itemID string) (Candidate, error)
}

// Scorer computes score vectors and composites.
type Scorer interface {
	Analyze(ctx context.Context, item forgetting.Item, sig scoring.Signals) forgetting.ScoreVector
	Composite(v forgetting.ScoreVector) float64
}

// Router selects and schedules a plan for a scored item. A
// forgetting.ErrQueueFull error stops the sweep.
type Router interface {
	Route(ctx context.Context, item forgetting.Item, score forgetting.ScoreVector, bs budget.State) (policy.Decision, error)
}

// Budgets is the budget tracker view the scheduler needs.
type Budgets interface {
	Evaluate() []budget.Trigger
	State(id string) (budget.State, error)
	States() []budget.State
}

// Metrics is the subset of the metrics collector the scheduler records to.
type Metrics interface {
	RecordSweep(scope, outcome string, scheduled int, d time.Duration)
	RecordBudget(scope string, volume int64, tier string)
}

// Report summarizes one sweep.
type Report struct {
	ID             string        `json:"id"`
	Scope          string        `json:"scope"`
	Volume         int64         `json:"volume"`
	Target         int64         `json:"target"`
	Candidates     int           `json:"candidates"`
	Scheduled      int           `json:"scheduled"`
	Deferred       int           `json:"deferred"`
	Quarantined    int           `json:"quarantined"`
	Cooling        int           `json:"cooling"`
	Failed         int           `json:"failed"`
	InFlight       int           `json:"in_flight"`
	PendingReclaim int64         `json:"pending_reclaim"`
	Outcome        string        `json:"outcome"`
	StartedAt      time.Time     `json:"started_at"`
	Duration       time.Duration `json:"duration"`
}

// tick is the shared view of one Tick's sweeps. An item is routed by at
// most one sweep per tick, and its pending reclaim counts toward its own
// scope and toward global.
type tick struct {
	routed  map[string]struct{}
	pending map[string]int64
}

func newTick() *tick {
	return &tick{routed: make(map[string]struct{}), pending: make(map[string]int64)}
}

func (t *tick) credit(item forgetting.Item, bytes int64) {
	t.routed[item.ID] = struct{}{}
	scope := item.Meta.Scope
	if scope == "" {
		scope = budget.GlobalScope
	}
	t.pending[scope] += bytes
	if scope != budget.GlobalScope {
		t.pending[budget.GlobalScope] += bytes
	}
}

// Scheduler runs eviction sweeps.
type Scheduler struct {
	catalog   Catalog
	scorer    Scorer
	router    Router
	budgets   Budgets
	cooldowns CooldownStore

	factors       Factors
	cooldown      time.Duration
	maxCandidates int
	schedule      string

	mu       sync.Mutex
	requeued map[string]struct{}
	cron     *cron.Cron
	running  bool
	last     []Report

	now     func() time.Time
	logger  *slog.Logger
	metrics Metrics
	tracer  *tracing.Tracer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithCooldownStore sets the quarantine store. The default is in memory.
func WithCooldownStore(c CooldownStore) Option {
	return func(s *Scheduler) { s.cooldowns = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l.With("component", "eviction") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// NewScheduler creates a scheduler. Zero config fields take defaults.
func NewScheduler(catalog Catalog, scorer Scorer, router Router, budgets Budgets, cfg config.EvictionConfig, opts ...Option) *Scheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = config.DefaultEvictionSchedule
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = config.DefaultMaxCandidates
	}
	s := &Scheduler{
		catalog:       catalog,
		scorer:        scorer,
		router:        router,
		budgets:       budgets,
		factors:       Factors{Risk: cfg.RiskFactor, Redundancy: cfg.RedundancyFactor},
		cooldown:      cfg.Cooldown,
		maxCandidates: cfg.MaxCandidates,
		schedule:      cfg.Schedule,
		requeued:      make(map[string]struct{}),
		now:           time.Now,
		logger:        slog.Default().With("component", "eviction"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cooldowns == nil {
		mc := NewMemoryCooldowns()
		mc.SetClock(s.now)
		s.cooldowns = mc
	}
	return s
}

// Sweep drains trigger's scope until the volume minus the pending reclaim
// estimate is at or below the target, the candidates run out, or ctx is
// cancelled. Individual item failures are counted and do not stop it.
func (s *Scheduler) Sweep(ctx context.Context, trigger budget.Trigger) (Report, error) {
	return s.sweepIn(ctx, trigger, newTick())
}

func (s *Scheduler) sweepIn(ctx context.Context, trigger budget.Trigger, tk *tick) (Report, error) {
	start := time.Now()
	rep := Report{
		ID:        uuid.NewString(),
		Scope:     trigger.Scope,
		Volume:    trigger.Volume,
		Target:    trigger.Target,
		StartedAt: s.now(),
	}
	ctx = logging.WithSweepID(logging.WithScope(ctx, trigger.Scope), rep.ID)
	ctx, span := s.tracer.Start(ctx, "eviction.Sweep")
	defer span.End()

	err := s.sweep(ctx, trigger, tk, &rep)
	if err != nil {
		rep.Outcome = OutcomeError
	}
	rep.Duration = time.Since(start)

	tracing.SetSweepAttributes(span, rep.ID, rep.Scope, rep.Scheduled)
	tracing.SetStatus(span, err)
	if s.metrics != nil {
		s.metrics.RecordSweep(rep.Scope, rep.Outcome, rep.Scheduled, rep.Duration)
	}
	s.logger.InfoContext(ctx, "sweep finished",
		"outcome", rep.Outcome,
		"volume", rep.Volume,
		"target", rep.Target,
		"candidates", rep.Candidates,
		"scheduled", rep.Scheduled,
		"deferred", rep.Deferred,
		"quarantined", rep.Quarantined,
		"in_flight", rep.InFlight,
		"pending_reclaim", rep.PendingReclaim,
		"duration", rep.Duration,
	)
	return rep, err
}

func (s *Scheduler) sweep(ctx context.Context, trigger budget.Trigger, tk *tick, rep *Report) error {
	bs, err := s.budgets.State(trigger.Scope)
	if err != nil {
		return fmt.Errorf("failed to read budget %s: %w", trigger.Scope, err)
	}
	bs.Tier = trigger.Tier

	cands, err := s.catalog.Candidates(ctx, trigger.Scope, s.maxCandidates)
	if err != nil {
		return fmt.Errorf("failed to load candidates of %s: %w", trigger.Scope, err)
	}

	// Reclaim already scheduled earlier in this tick counts here too.
	rep.PendingReclaim = tk.pending[trigger.Scope]

	h := newHeap()
	for _, c := range cands {
		if err := ctx.Err(); err != nil {
			rep.Outcome = OutcomeCancelled
			return nil
		}
		if _, done := tk.routed[c.Item.ID]; done {
			continue
		}
		cooling, err := s.cooldowns.Cooling(ctx, c.Item.ID)
		if err != nil {
			// Unknown quarantine state is treated as cooling.
			s.logger.WarnContext(ctx, "cooldown lookup failed", "item_id", c.Item.ID, "error", err)
			cooling = true
		}
		if cooling {
			rep.Cooling++
			continue
		}
		v := s.scorer.Analyze(ctx, c.Item, c.Signals)
		j := s.scorer.Composite(v)
		h.push(&entry{candidate: c, score: v, composite: j, priority: s.factors.Priority(j, v)})
	}
	rep.Candidates = h.len()

	for {
		if trigger.Volume-rep.PendingReclaim <= trigger.Target {
			rep.Outcome = OutcomeConverged
			return nil
		}
		if ctx.Err() != nil {
			rep.Outcome = OutcomeCancelled
			return nil
		}
		e, ok := h.pop()
		if !ok {
			rep.Outcome = OutcomeExhausted
			return nil
		}
		item := e.candidate.Item
		d, err := s.router.Route(logging.WithItemID(ctx, item.ID), item, e.score, bs)
		if err != nil {
			if errors.Is(err, forgetting.ErrInFlight) {
				// Submitted by an earlier tick; its reclaim is still pending.
				rep.InFlight++
				s.credit(tk, rep, item, d.Plan.EstimatedReclaim(item.Meta.SizeBytes))
				continue
			}
			if errors.Is(err, forgetting.ErrQueueFull) {
				s.Requeue(item.ID)
				rep.Outcome = OutcomeBackpressure
				return nil
			}
			rep.Failed++
			s.logger.WarnContext(ctx, "routing failed", "item_id", item.ID, "error", err)
			continue
		}
		s.account(ctx, tk, rep, item, d)
	}
}

func (s *Scheduler) credit(tk *tick, rep *Report, item forgetting.Item, bytes int64) {
	rep.PendingReclaim += bytes
	tk.credit(item, bytes)
}

func (s *Scheduler) account(ctx context.Context, tk *tick, rep *Report, item forgetting.Item, d policy.Decision) {
	tk.routed[item.ID] = struct{}{}
	switch {
	case d.Violation != nil:
		rep.Quarantined++
		if err := s.cooldowns.Quarantine(ctx, item.ID, s.cooldown); err != nil {
			s.logger.WarnContext(ctx, "failed to quarantine item", "item_id", item.ID, "error", err)
		}
	case d.Plan.Kind == forgetting.StrategyDefer:
		rep.Deferred++
	default:
		rep.Scheduled++
		s.credit(tk, rep, item, d.Plan.EstimatedReclaim(item.Meta.SizeBytes))
	}
}

// Requeue marks an item for reconsideration on the next tick, whether or
// not its scope is over budget then.
func (s *Scheduler) Requeue(itemID string) {
	s.mu.Lock()
	s.requeued[itemID] = struct{}{}
	s.mu.Unlock()
}

// Requeued returns the IDs waiting for reconsideration, sorted.
func (s *Scheduler) Requeued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.requeued))
	for id := range s.requeued {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// drainRequeued routes every requeued item once. Items the router cannot
// accept stay queued. Items a sweep already routed during tk count as
// reconsidered.
func (s *Scheduler) drainRequeued(ctx context.Context, tk *tick) int {
	routed := 0
	for _, id := range s.Requeued() {
		if ctx.Err() != nil {
			return routed
		}
		if _, done := tk.routed[id]; done {
			s.forget(id)
			continue
		}
		c, err := s.catalog.Lookup(ctx, id)
		if errors.Is(err, forgetting.ErrNotFound) {
			s.forget(id)
			continue
		}
		if err != nil {
			s.logger.WarnContext(ctx, "requeued item lookup failed", "item_id", id, "error", err)
			continue
		}
		scope := c.Item.Meta.Scope
		if scope == "" {
			scope = budget.GlobalScope
		}
		bs, err := s.budgets.State(scope)
		if err != nil {
			bs, _ = s.budgets.State(budget.GlobalScope)
		}
		v := s.scorer.Analyze(ctx, c.Item, c.Signals)
		if _, err := s.router.Route(logging.WithItemID(ctx, id), c.Item, v, bs); err != nil {
			if errors.Is(err, forgetting.ErrQueueFull) {
				return routed
			}
			if errors.Is(err, forgetting.ErrInFlight) {
				continue
			}
			s.logger.WarnContext(ctx, "requeued item routing failed", "item_id", id, "error", err)
			continue
		}
		tk.routed[id] = struct{}{}
		s.forget(id)
		routed++
	}
	return routed
}

func (s *Scheduler) forget(id string) {
	s.mu.Lock()
	delete(s.requeued, id)
	s.mu.Unlock()
}

// Tick evaluates every budget scope, sweeps the triggered ones, and drains
// requeued items.
func (s *Scheduler) Tick(ctx context.Context) []Report {
	if s.metrics != nil {
		for _, st := range s.budgets.States() {
			s.metrics.RecordBudget(st.Scope, st.Volume, string(st.Tier))
		}
	}
	var reports []Report
	tk := newTick()
	for _, trig := range s.budgets.Evaluate() {
		if ctx.Err() != nil {
			break
		}
		rep, err := s.sweepIn(ctx, trig, tk)
		if err != nil {
			s.logger.ErrorContext(ctx, "sweep failed", "scope", trig.Scope, "error", err)
		}
		reports = append(reports, rep)
	}
	if n := s.drainRequeued(ctx, tk); n > 0 {
		s.logger.InfoContext(ctx, "requeued items reconsidered", "count", n)
	}

	s.mu.Lock()
	s.last = reports
	s.mu.Unlock()
	return reports
}

// LastReports returns the reports of the most recent tick.
func (s *Scheduler) LastReports() []Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Report(nil), s.last...)
}

// Start runs Tick on the configured cron schedule until ctx is cancelled
// or Stop is called. Overlapping ticks are skipped.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid eviction schedule %q: %w", s.schedule, err)
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(s.schedule, func() { s.Tick(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule sweeps: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("eviction scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop stops the schedule and waits for a running tick to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	c, running := s.cron, s.running
	s.running = false
	s.mu.Unlock()
	if c == nil || !running {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("eviction scheduler stopped")
}

// Running reports whether the schedule is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
