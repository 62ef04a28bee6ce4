package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/ledger"
	"mercator-hq/lethe/pkg/policy"
	"mercator-hq/lethe/pkg/scoring"
	"mercator-hq/lethe/pkg/telemetry/logging"
	"mercator-hq/lethe/pkg/telemetry/tracing"
)

// Scorer computes score vectors.
type Scorer interface {
	Analyze(ctx context.Context, item forgetting.Item, sig scoring.Signals) forgetting.ScoreVector
}

// Selector chooses strategy plans.
type Selector interface {
	Select(ctx context.Context, item forgetting.Item, score forgetting.ScoreVector, bs budget.State, stage forgetting.Stage) policy.Decision
}

// Budgets is the budget tracker view the pipeline needs.
type Budgets interface {
	State(id string) (budget.State, error)
	Add(id string, delta int64) error
}

// Recorder appends ledger entries.
type Recorder interface {
	Log(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
}

// Submitter accepts plans for asynchronous execution.
type Submitter interface {
	Submit(item forgetting.Item, plan forgetting.StrategyPlan) error
}

// Learner consumes feedback.
type Learner interface {
	Update(ctx context.Context, ev forgetting.FeedbackEvent) (forgetting.Tunables, error)
}

// Requeuer reconsiders an item on the next sweep.
type Requeuer interface {
	Requeue(itemID string)
}

// Metrics is the subset of the metrics collector the pipeline records to.
type Metrics interface {
	RecordReclaimed(scope string, bytes int64)
	RecordDegradedAxis(axis string)
}

// Deps are the collaborators of a Pipeline. Learner and Requeuer are
// optional.
type Deps struct {
	Scorer   Scorer
	Selector Selector
	Budgets  Budgets
	Gate     Transitioner
	Ledger   Recorder
	Queue    Submitter
	Learner  Learner
	Requeuer Requeuer
}

// Pipeline runs items through scoring, selection, and execution.
type Pipeline struct {
	deps Deps

	mu       sync.RWMutex
	requeuer Requeuer

	// inflight holds the submitted plan of every item whose outcome has
	// not arrived yet.
	flightMu sync.Mutex
	inflight map[string]forgetting.StrategyPlan

	logger  *slog.Logger
	metrics Metrics
	tracer  *tracing.Tracer
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l.With("component", "pipeline") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// New creates a pipeline. Queue may be nil at construction and attached
// later with SetQueue, since the queue's outcome callback usually points
// back at the pipeline.
func New(deps Deps, opts ...Option) (*Pipeline, error) {
	switch {
	case deps.Scorer == nil:
		return nil, errors.New("pipeline: scorer is required")
	case deps.Selector == nil:
		return nil, errors.New("pipeline: selector is required")
	case deps.Budgets == nil:
		return nil, errors.New("pipeline: budgets are required")
	case deps.Gate == nil:
		return nil, errors.New("pipeline: gate is required")
	case deps.Ledger == nil:
		return nil, errors.New("pipeline: ledger is required")
	}
	p := &Pipeline{
		deps:     deps,
		requeuer: deps.Requeuer,
		inflight: make(map[string]forgetting.StrategyPlan),
		logger:   slog.Default().With("component", "pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SetQueue attaches the executor queue.
func (p *Pipeline) SetQueue(q Submitter) {
	p.mu.Lock()
	p.deps.Queue = q
	p.mu.Unlock()
}

// SetRequeuer attaches the component that reconsiders failed items.
func (p *Pipeline) SetRequeuer(r Requeuer) {
	p.mu.Lock()
	p.requeuer = r
	p.mu.Unlock()
}

func (p *Pipeline) queue() Submitter {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.deps.Queue
}

// budgetState returns the state of the item's scope, falling back to the
// global scope and then to an unconstrained normal tier.
func (p *Pipeline) budgetState(item forgetting.Item) budget.State {
	scope := item.Meta.Scope
	if scope == "" {
		scope = budget.GlobalScope
	}
	if st, err := p.deps.Budgets.State(scope); err == nil {
		return st
	}
	if st, err := p.deps.Budgets.State(budget.GlobalScope); err == nil {
		return st
	}
	return budget.State{Scope: scope, Tier: budget.TierNormal}
}

// Process scores item and routes it against its scope's budget state.
func (p *Pipeline) Process(ctx context.Context, item forgetting.Item, sig scoring.Signals) (policy.Decision, error) {
	if err := item.Validate(); err != nil {
		return policy.Decision{}, err
	}
	ctx = logging.WithItemID(ctx, item.ID)
	ctx, span := p.tracer.Start(ctx, "pipeline.Process")
	defer span.End()

	score := p.deps.Scorer.Analyze(ctx, item, sig)
	if p.metrics != nil {
		for _, is := range score.Issues {
			p.metrics.RecordDegradedAxis(is.Axis.String())
		}
	}
	d, err := p.Route(ctx, item, score, p.budgetState(item))
	tracing.SetStatus(span, err)
	return d, err
}

// Route selects a plan for a scored item, records the decision, and
// submits the plan. Defer plans are recorded but not submitted. A decision
// that cannot be recorded is not executed.
//
// An item is submitted at most once until its outcome arrives. Routing it
// again in the meantime returns forgetting.ErrInFlight with the pending
// plan in the decision, and records nothing.
func (p *Pipeline) Route(ctx context.Context, item forgetting.Item, score forgetting.ScoreVector, bs budget.State) (policy.Decision, error) {
	if plan, ok := p.pending(item.ID); ok {
		return policy.Decision{Plan: plan, BudgetTier: bs.Tier}, fmt.Errorf("item %s: %w", item.ID, forgetting.ErrInFlight)
	}
	stage, err := p.deps.Gate.Stage(ctx, item.ID)
	if err != nil {
		return policy.Decision{}, forgetting.NewDependencyUnavailableError("state", err)
	}
	d := p.deps.Selector.Select(ctx, item, score, bs, stage)
	if d.Plan.Kind == forgetting.StrategyDefer {
		return d, p.record(ctx, item, score, d)
	}

	q := p.queue()
	if q == nil {
		return d, fmt.Errorf("pipeline: no executor queue attached")
	}
	// Claim the item before recording so a concurrent route cannot record
	// a second plan for it.
	if !p.claim(item.ID, d.Plan) {
		plan, _ := p.pending(item.ID)
		return policy.Decision{Plan: plan, BudgetTier: bs.Tier}, fmt.Errorf("item %s: %w", item.ID, forgetting.ErrInFlight)
	}
	if err := p.record(ctx, item, score, d); err != nil {
		p.settle(item.ID, d.Plan.ID)
		return d, err
	}
	if err := q.Submit(item, d.Plan); err != nil {
		p.settle(item.ID, d.Plan.ID)
		p.logger.WarnContext(ctx, "plan not submitted",
			"plan_id", d.Plan.ID,
			"strategy", d.Plan.Kind.String(),
			"error", err,
		)
		return d, err
	}
	return d, nil
}

// InFlight reports whether itemID has a submitted plan awaiting its
// outcome.
func (p *Pipeline) InFlight(itemID string) bool {
	_, ok := p.pending(itemID)
	return ok
}

func (p *Pipeline) pending(itemID string) (forgetting.StrategyPlan, bool) {
	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	plan, ok := p.inflight[itemID]
	return plan, ok
}

func (p *Pipeline) claim(itemID string, plan forgetting.StrategyPlan) bool {
	p.flightMu.Lock()
	defer p.flightMu.Unlock()
	if _, ok := p.inflight[itemID]; ok {
		return false
	}
	p.inflight[itemID] = plan
	return true
}

// settle releases the claim of planID. Outcomes of plans that no longer
// hold the claim are ignored.
func (p *Pipeline) settle(itemID, planID string) {
	p.flightMu.Lock()
	if cur, ok := p.inflight[itemID]; ok && cur.ID == planID {
		delete(p.inflight, itemID)
	}
	p.flightMu.Unlock()
}

func (p *Pipeline) record(ctx context.Context, item forgetting.Item, score forgetting.ScoreVector, d policy.Decision) error {
	composite := d.Composite
	meta := item.Meta
	plan := d.Plan
	entry := ledger.Entry{
		Kind:      ledger.KindDecision,
		ItemID:    item.ID,
		Scores:    &score,
		Composite: &composite,
		Meta:      &meta,
		Plan:      &plan,
		Reason:    d.Plan.Rationale,
		Attributes: map[string]string{
			"budget_tier": string(d.BudgetTier),
		},
	}
	if d.Rule != "" {
		entry.Attributes["rule"] = d.Rule
	}
	if d.Downgraded {
		entry.Attributes["downgraded"] = "true"
	}
	if _, err := p.deps.Ledger.Log(ctx, entry); err != nil {
		return forgetting.NewDependencyUnavailableError("ledger", err)
	}
	if d.Violation == nil {
		return nil
	}
	if _, err := p.deps.Ledger.Log(ctx, ledger.Entry{
		Kind:   ledger.KindViolation,
		ItemID: item.ID,
		Plan:   &plan,
		Reason: d.Violation.Error(),
	}); err != nil {
		return forgetting.NewDependencyUnavailableError("ledger", err)
	}
	return nil
}

// Input is one item of a batch.
type Input struct {
	Item    forgetting.Item
	Signals scoring.Signals
}

// BatchResult is the decision for one batch input, in input order.
type BatchResult struct {
	ItemID   string
	Decision policy.Decision
	Err      error
}

// ProcessBatch processes items with at most workers in flight. Results
// keep the input order; one item's failure does not affect the others.
func (p *Pipeline) ProcessBatch(ctx context.Context, inputs []Input, workers int) []BatchResult {
	if workers <= 0 {
		workers = 1
	}
	results := make([]BatchResult, len(inputs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, in := range inputs {
		results[i].ItemID = in.Item.ID
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			results[i].Err = ctx.Err()
			continue
		}
		wg.Add(1)
		go func(i int, in Input) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i].Decision, results[i].Err = p.Process(ctx, in.Item, in.Signals)
		}(i, in)
	}
	wg.Wait()
	return results
}

// Feedback forwards an outcome observation to the learner.
func (p *Pipeline) Feedback(ctx context.Context, ev forgetting.FeedbackEvent) (forgetting.Tunables, error) {
	if p.deps.Learner == nil {
		return forgetting.Tunables{}, errors.New("pipeline: learning is not configured")
	}
	return p.deps.Learner.Update(ctx, ev)
}
