package policy

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/scoring"
	"mercator-hq/lethe/pkg/telemetry/tracing"
)

// TunableSource supplies the live learned thresholds.
type TunableSource interface {
	Tunables() forgetting.Tunables
}

// StaticTunables is a fixed TunableSource.
type StaticTunables forgetting.Tunables

// Tunables implements TunableSource.
func (s StaticTunables) Tunables() forgetting.Tunables {
	return forgetting.Tunables(s)
}

// ApprovalLookup reports an existing key destruction grant for an item.
type ApprovalLookup interface {
	ApprovalFor(ctx context.Context, itemID string) (token string, ok bool)
}

// Metrics is the subset of the metrics collector the engine records to.
type Metrics interface {
	RecordDecision(strategy, budgetTier string, downgraded, violation bool, d time.Duration)
}

// Decision is the outcome of Select.
type Decision struct {
	Plan        forgetting.StrategyPlan         `json:"plan"`
	Composite   float64                         `json:"composite"`
	Rule        string                          `json:"rule,omitempty"`
	BudgetTier  budget.Tier                     `json:"budget_tier"`
	Constraints []string                        `json:"constraints,omitempty"`
	Violation   *forgetting.ConstraintViolation `json:"violation,omitempty"`
	Downgraded  bool                            `json:"downgraded,omitempty"`
}

// Engine selects strategy plans. It holds no per-item state and is safe
// for concurrent use.
type Engine struct {
	table       atomic.Pointer[Table]
	compositor  scoring.Compositor
	tunables    TunableSource
	constraints *Constraints
	approvals   ApprovalLookup

	now     func() time.Time
	logger  *slog.Logger
	metrics Metrics
	tracer  *tracing.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithTunables sets the threshold source. The default is DefaultTunables.
func WithTunables(t TunableSource) Option {
	return func(e *Engine) { e.tunables = t }
}

// WithConstraints sets the hard constraint registry.
func WithConstraints(c *Constraints) Option {
	return func(e *Engine) { e.constraints = c }
}

// WithApprovals sets the approval lookup used for key_destroy plans.
// Without one every key_destroy plan is downgraded.
func WithApprovals(a ApprovalLookup) Option {
	return func(e *Engine) { e.approvals = a }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l.With("component", "policy") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// NewEngine creates an engine over table. A nil table uses DefaultTable.
func NewEngine(table *Table, compositor scoring.Compositor, opts ...Option) (*Engine, error) {
	if compositor == nil {
		return nil, fmt.Errorf("compositor is required")
	}
	if table == nil {
		table = DefaultTable()
	}
	e := &Engine{
		compositor: compositor,
		tunables:   StaticTunables(forgetting.DefaultTunables()),
		now:        time.Now,
		logger:     slog.Default().With("component", "policy"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.constraints == nil {
		c, _ := NewConstraints(nil)
		e.constraints = c
	}
	e.table.Store(table)
	return e, nil
}

// Table returns the active table.
func (e *Engine) Table() *Table {
	return e.table.Load()
}

// SetTable swaps the active table. In-flight selections finish on the table
// they started with.
func (e *Engine) SetTable(t *Table) {
	if t == nil {
		return
	}
	old := e.table.Swap(t)
	e.logger.Info("policy table replaced", "version", t.Version, "rules", len(t.Rules), "previous", old.Version)
}

// Constraints returns the hard constraint registry.
func (e *Engine) Constraints() *Constraints {
	return e.constraints
}

// Select chooses a plan for item given its scores, the budget state of its
// scope, and its current stage. It never fails; defer is the fallback.
func (e *Engine) Select(ctx context.Context, item forgetting.Item, score forgetting.ScoreVector, bs budget.State, stage forgetting.Stage) Decision {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "policy.Select")
	defer span.End()

	d := e.selectPlan(ctx, item, score, bs, stage)

	tracing.SetDecisionAttributes(span, item.ID, string(item.Meta.Class), d.Plan.Kind.String(), string(d.BudgetTier), d.Composite)
	if e.metrics != nil {
		e.metrics.RecordDecision(d.Plan.Kind.String(), string(d.BudgetTier), d.Downgraded, d.Violation != nil, time.Since(start))
	}
	e.logger.DebugContext(ctx, "strategy selected",
		"item_id", item.ID,
		"strategy", d.Plan.Kind.String(),
		"composite", d.Composite,
		"rule", d.Rule,
		"budget_tier", string(d.BudgetTier),
		"downgraded", d.Downgraded,
	)
	return d
}

func (e *Engine) selectPlan(ctx context.Context, item forgetting.Item, score forgetting.ScoreVector, bs budget.State, stage forgetting.Stage) Decision {
	now := e.now()
	j := e.compositor.Compose(score)
	tier := bs.Tier
	if tier == budget.TierAny {
		tier = bs.Limits.TierFor(bs.Volume)
	}
	critical := tier == budget.TierCritical

	d := Decision{Composite: j, BudgetTier: tier}

	if stage.Terminal() {
		d.Plan = e.plan(item, forgetting.StrategyDefer, forgetting.Params{}, stage, now, "item is terminal")
		return d
	}

	ev := e.constraints.Evaluate(item.Meta, now)
	d.Constraints = ev.All()
	threshold := e.tunables.Tunables().Threshold(item.Meta.Class)

	var (
		chosen   *Rule
		rejected []forgetting.StrategyKind
	)
	table := e.table.Load()
	for _, r := range table.Candidates(item.Meta.Class, item.Meta.Risk, stage.Tier(), tier, j) {
		if r.Soft && critical {
			continue
		}
		if !r.Strategy.ApplicableAt(stage) {
			continue
		}
		if ev.Active() && !permittedUnder(r.Strategy, r.Params) {
			rejected = append(rejected, r.Strategy)
			continue
		}
		if r.Strategy == forgetting.StrategyKeyDestroy && len(ev.ShredBlocking) > 0 {
			rejected = append(rejected, r.Strategy)
			continue
		}
		if r.Strategy.Destructive() && !critical && j >= threshold {
			continue
		}
		chosen = &r
		break
	}

	// Constraints that rejected every strategy but defer are a violation,
	// whether or not a defer rule matched.
	if len(rejected) > 0 && (chosen == nil || chosen.Strategy == forgetting.StrategyDefer) {
		d.Violation = &forgetting.ConstraintViolation{
			ItemID:      item.ID,
			Constraints: d.Constraints,
			Rejected:    rejected,
		}
	}
	if chosen == nil {
		reason := "no matching rule"
		if d.Violation != nil {
			reason = d.Violation.Error()
		}
		d.Plan = e.plan(item, forgetting.StrategyDefer, forgetting.Params{}, stage, now, reason)
		return d
	}

	d.Rule = chosen.Name
	kind, params := chosen.Strategy, chosen.Params
	rationale := fmt.Sprintf("rule %s, composite %.3f", chosen.Name, j)
	var approvalRef string

	if kind == forgetting.StrategyKeyDestroy {
		token, ok := "", false
		if e.approvals != nil {
			token, ok = e.approvals.ApprovalFor(ctx, item.ID)
		}
		if ok {
			approvalRef = token
		} else {
			d.Downgraded = true
			if forgetting.StrategyDelete.ApplicableAt(stage) {
				kind = forgetting.StrategyDelete
			} else {
				kind = forgetting.StrategyDefer
			}
			params = forgetting.Params{}
			rationale += ", downgraded: no approval"
		}
	}

	d.Plan = e.plan(item, kind, params, stage, now, rationale)
	d.Plan.ApprovalRef = approvalRef
	d.Plan.Downgraded = d.Downgraded
	return d
}

func (e *Engine) plan(item forgetting.Item, kind forgetting.StrategyKind, params forgetting.Params, stage forgetting.Stage, now time.Time, rationale string) forgetting.StrategyPlan {
	target, ok := kind.TargetStage()
	if !ok {
		target = stage
	}
	return forgetting.StrategyPlan{
		ID:          uuid.NewString(),
		ItemID:      item.ID,
		Kind:        kind,
		Params:      params,
		FromStage:   stage,
		TargetStage: target,
		Rationale:   rationale,
		CreatedAt:   now,
	}
}
