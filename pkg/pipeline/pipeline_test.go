package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/budget"
	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/executor"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/gate"
	"mercator-hq/lethe/pkg/gate/keyvault"
	"mercator-hq/lethe/pkg/ledger"
	"mercator-hq/lethe/pkg/ledger/storage"
	"mercator-hq/lethe/pkg/pipeline"
	"mercator-hq/lethe/pkg/policy"
	"mercator-hq/lethe/pkg/scoring"
	"mercator-hq/lethe/pkg/state"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// valueScorer scores every axis with the value registered for the item.
type valueScorer map[string]float64

func (s valueScorer) Analyze(_ context.Context, item forgetting.Item, _ scoring.Signals) forgetting.ScoreVector {
	return forgetting.Uniform(s[item.ID])
}

type requeued struct {
	mu  sync.Mutex
	ids []string
}

func (r *requeued) Requeue(id string) {
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

// failingDelete fails every delete and dry-runs everything else.
type failingDelete struct {
	executor.DryRun
}

func (failingDelete) Delete(context.Context, forgetting.Item, forgetting.StrategyPlan) (executor.Result, error) {
	return executor.Result{}, errors.New("object store unavailable")
}

type fixture struct {
	pipe      *pipeline.Pipeline
	queue     *executor.Queue
	gate      *gate.Gate
	vault     *keyvault.Vault
	approvals *gate.MemoryApprovals
	ledger    *ledger.Ledger
	store     *storage.MemoryStorage
	budgets   *budget.Tracker
	requeue   *requeued
	scores    valueScorer
	clock     *clock
}

var limits = budget.Limits{Capacity: 10000, Low: 5000, High: 8000}

func newFixture(t *testing.T, handler executor.Handler, cfg config.ExecutorConfig) *fixture {
	t.Helper()
	ctx := context.Background()
	c := &clock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}

	st := storage.NewMemoryStorage()
	l, err := ledger.Open(ctx, st)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	vault, err := keyvault.NewRandom(3)
	if err != nil {
		t.Fatalf("keyvault.NewRandom: %v", err)
	}
	approvals := gate.NewMemoryApprovals(72 * time.Hour)
	approvals.SetClock(c.Now)
	g := gate.New(state.NewMemoryBackend(), l, vault, approvals, gate.WithClock(c.Now), gate.WithCooldown(time.Hour))

	importance := scoring.CompositorFunc(func(v forgetting.ScoreVector) float64 { return v.Importance })
	engine, err := policy.NewEngine(nil, importance, policy.WithClock(c.Now), policy.WithApprovals(g))
	if err != nil {
		t.Fatalf("policy.NewEngine: %v", err)
	}

	budgets := budget.NewTracker(budget.WithClock(c.Now))
	if err := budgets.Register(budget.GlobalScope, limits); err != nil {
		t.Fatalf("Register: %v", err)
	}

	f := &fixture{
		gate:      g,
		vault:     vault,
		approvals: approvals,
		ledger:    l,
		store:     st,
		budgets:   budgets,
		requeue:   &requeued{},
		scores:    valueScorer{},
		clock:     c,
	}
	f.pipe, err = pipeline.New(pipeline.Deps{
		Scorer:   f.scores,
		Selector: engine,
		Budgets:  budgets,
		Gate:     g,
		Ledger:   l,
		Requeuer: f.requeue,
	})
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	f.queue = executor.NewQueue(pipeline.GateHandler(handler, g), cfg, executor.WithOutcome(f.pipe.OnOutcome))
	f.pipe.SetQueue(f.queue)
	return f
}

func fastConfig() config.ExecutorConfig {
	return config.ExecutorConfig{
		Workers:         2,
		QueueSize:       16,
		MaxAttempts:     2,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
	}
}

func doc(id string, risk forgetting.RiskLevel, tags ...string) forgetting.Item {
	return forgetting.Item{ID: id, Location: "s3://bucket/" + id, Meta: forgetting.Meta{
		Class:     forgetting.ClassDocument,
		Risk:      risk,
		Tags:      tags,
		SizeBytes: 1000,
	}}
}

func (f *fixture) count(t *testing.T, id string, kind ledger.EventKind) int {
	t.Helper()
	entries, err := f.ledger.Query(context.Background(), &ledger.Query{ItemID: id, Kinds: []ledger.EventKind{kind}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return len(entries)
}

func (f *fixture) stage(t *testing.T, id string) forgetting.Stage {
	t.Helper()
	s, err := f.gate.Stage(context.Background(), id)
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	return s
}

func (f *fixture) volume(t *testing.T) int64 {
	t.Helper()
	st, err := f.budgets.State(budget.GlobalScope)
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	return st.Volume
}

// run processes items with a started queue and waits for every outcome.
func (f *fixture) run(t *testing.T, items ...forgetting.Item) []policy.Decision {
	t.Helper()
	ctx := context.Background()
	f.queue.Start(ctx)
	var out []policy.Decision
	for _, it := range items {
		d, err := f.pipe.Process(ctx, it, scoring.Signals{})
		if err != nil {
			t.Fatalf("Process(%s): %v", it.ID, err)
		}
		out = append(out, d)
	}
	f.queue.Close()
	return out
}

// ============================================================================
// Scenarios
// ============================================================================

// TestProcessHeldItemDefers tests that a held critical-risk item is deferred
// and flagged even under critical budget pressure.
func TestProcessHeldItemDefers(t *testing.T) {
	f := newFixture(t, executor.DryRun{}, fastConfig())
	if err := f.budgets.Set(budget.GlobalScope, 9000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	it := doc("held", forgetting.RiskCritical, "GDPR-hold")
	f.scores["held"] = 0.1

	d := f.run(t, it)[0]
	if d.Plan.Kind != forgetting.StrategyDefer {
		t.Errorf("Expected defer, got %s", d.Plan.Kind)
	}
	if d.Violation == nil {
		t.Error("Expected constraint violation")
	}
	if n := f.count(t, "held", ledger.KindDecision); n != 1 {
		t.Errorf("Expected 1 decision entry, got %d", n)
	}
	if n := f.count(t, "held", ledger.KindViolation); n != 1 {
		t.Errorf("Expected 1 violation entry, got %d", n)
	}
	if n := f.count(t, "held", ledger.KindExecution); n != 0 {
		t.Errorf("Expected no execution for defer, got %d", n)
	}
	if v := f.volume(t); v != 9000 {
		t.Errorf("Expected volume unchanged at 9000, got %d", v)
	}
}

// TestProcessCriticalBudgetDeletes tests that a low-value item under
// critical pressure is deleted, moved to stage 8, and releases budget.
func TestProcessCriticalBudgetDeletes(t *testing.T) {
	f := newFixture(t, executor.DryRun{}, fastConfig())
	if err := f.budgets.Set(budget.GlobalScope, 9000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f.scores["cold"] = 0.05

	d := f.run(t, doc("cold", forgetting.RiskLow))[0]
	if d.Plan.Kind != forgetting.StrategyDelete {
		t.Fatalf("Expected delete, got %s", d.Plan.Kind)
	}
	if d.BudgetTier != budget.TierCritical {
		t.Errorf("Expected critical tier, got %s", d.BudgetTier)
	}
	if n := f.count(t, "cold", ledger.KindExecution); n != 1 {
		t.Errorf("Expected 1 execution entry, got %d", n)
	}
	if s := f.stage(t, "cold"); s != forgetting.StageKeyDependent {
		t.Errorf("Expected stage 8, got %s", s)
	}
	if v := f.volume(t); v != 8000 {
		t.Errorf("Expected volume 8000 after reclaim, got %d", v)
	}
}

// TestProcessNormalBudgetKeepsValuable tests that a valuable item under
// normal pressure is deferred without submission.
func TestProcessNormalBudgetKeepsValuable(t *testing.T) {
	f := newFixture(t, executor.DryRun{}, fastConfig())
	f.scores["hot"] = 0.9

	d := f.run(t, doc("hot", forgetting.RiskLow))[0]
	if d.Plan.Kind != forgetting.StrategyDefer {
		t.Errorf("Expected defer, got %s", d.Plan.Kind)
	}
	if d.BudgetTier != budget.TierNormal {
		t.Errorf("Expected normal tier, got %s", d.BudgetTier)
	}
	if s := f.stage(t, "hot"); s != forgetting.StageOriginal {
		t.Errorf("Expected stage 0, got %s", s)
	}
}

// TestProcessKeyDestroyWithoutApproval tests that a key dependent item
// without an approval is not shredded.
func TestProcessKeyDestroyWithoutApproval(t *testing.T) {
	f := newFixture(t, executor.DryRun{}, fastConfig())
	ctx := context.Background()
	it := doc("kd", forgetting.RiskLow)
	f.scores["kd"] = 0.1
	if _, err := f.gate.RequestTransition(ctx, it, forgetting.StageKeyDependent, ""); err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}
	f.clock.Advance(2 * time.Hour)

	d := f.run(t, it)[0]
	if d.Plan.Kind != forgetting.StrategyDefer || !d.Downgraded {
		t.Errorf("Expected downgraded defer, got %s (downgraded=%v)", d.Plan.Kind, d.Downgraded)
	}
	if s := f.stage(t, "kd"); s != forgetting.StageKeyDependent {
		t.Errorf("Expected stage 8, got %s", s)
	}
}

// TestProcessKeyDestroyOnce tests that an approved key destruction runs
// through the gate once and replays afterwards.
func TestProcessKeyDestroyOnce(t *testing.T) {
	f := newFixture(t, executor.DryRun{}, fastConfig())
	ctx := context.Background()
	it := doc("kd", forgetting.RiskLow)
	f.scores["kd"] = 0.1
	if _, err := f.vault.Seal(ctx, "kd", []byte("payload")); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if _, err := f.gate.RequestTransition(ctx, it, forgetting.StageKeyDependent, ""); err != nil {
		t.Fatalf("RequestTransition: %v", err)
	}
	f.clock.Advance(2 * time.Hour)
	if _, err := f.approvals.Grant(ctx, "kd", "dpo@example.com", "erasure request"); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	d := f.run(t, it)[0]
	if d.Plan.Kind != forgetting.StrategyKeyDestroy {
		t.Fatalf("Expected key_destroy, got %s (%s)", d.Plan.Kind, d.Plan.Rationale)
	}
	if d.Plan.ApprovalRef == "" {
		t.Error("Expected approval reference on plan")
	}
	if s := f.stage(t, "kd"); s != forgetting.StageKeyDestroyed {
		t.Fatalf("Expected stage 9, got %s", s)
	}

	again := f.queue.Execute(ctx, it, d.Plan)
	if again.Err != nil {
		t.Fatalf("Expected replayed success, got %v", again.Err)
	}
	if again.Result.Detail["replayed"] != "true" {
		t.Errorf("Expected replayed result, got %v", again.Result.Detail)
	}

	next, err := f.pipe.Process(ctx, it, scoring.Signals{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if next.Plan.Kind != forgetting.StrategyDefer {
		t.Errorf("Expected defer for terminal item, got %s", next.Plan.Kind)
	}
}

// ============================================================================
// Failure handling
// ============================================================================

// TestOutcomeFailureRequeues tests that an exhausted plan is flagged and
// requeued without touching stage or budget.
func TestOutcomeFailureRequeues(t *testing.T) {
	f := newFixture(t, failingDelete{}, fastConfig())
	if err := f.budgets.Set(budget.GlobalScope, 9000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f.scores["cold"] = 0.05

	f.run(t, doc("cold", forgetting.RiskLow))
	if n := f.count(t, "cold", ledger.KindExecutionFailed); n != 1 {
		t.Errorf("Expected 1 execution_failed entry, got %d", n)
	}
	if len(f.requeue.ids) != 1 || f.requeue.ids[0] != "cold" {
		t.Errorf("Expected cold requeued, got %v", f.requeue.ids)
	}
	if s := f.stage(t, "cold"); s != forgetting.StageOriginal {
		t.Errorf("Expected stage 0, got %s", s)
	}
	if v := f.volume(t); v != 9000 {
		t.Errorf("Expected volume unchanged at 9000, got %d", v)
	}
}

// TestRouteLedgerFailure tests that an unrecorded decision is not executed.
func TestRouteLedgerFailure(t *testing.T) {
	f := newFixture(t, executor.DryRun{}, fastConfig())
	if err := f.budgets.Set(budget.GlobalScope, 9000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f.scores["cold"] = 0.05
	f.store.SetFailure(errors.New("disk full"))

	_, err := f.pipe.Process(context.Background(), doc("cold", forgetting.RiskLow), scoring.Signals{})
	var du *forgetting.DependencyUnavailableError
	if !errors.As(err, &du) {
		t.Fatalf("Expected DependencyUnavailableError, got %v", err)
	}
	if du.Dependency != "ledger" {
		t.Errorf("Expected ledger dependency, got %s", du.Dependency)
	}
	if n := f.queue.Len(); n != 0 {
		t.Errorf("Expected nothing submitted, got %d", n)
	}
}

// TestRouteQueueFull tests that a full executor queue surfaces to the caller.
func TestRouteQueueFull(t *testing.T) {
	cfg := fastConfig()
	cfg.QueueSize = 1
	f := newFixture(t, executor.DryRun{}, cfg)
	if err := f.budgets.Set(budget.GlobalScope, 9000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f.scores["a"], f.scores["b"] = 0.05, 0.05
	ctx := context.Background()

	if _, err := f.pipe.Process(ctx, doc("a", forgetting.RiskLow), scoring.Signals{}); err != nil {
		t.Fatalf("Process(a): %v", err)
	}
	_, err := f.pipe.Process(ctx, doc("b", forgetting.RiskLow), scoring.Signals{})
	if !errors.Is(err, forgetting.ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
	f.queue.Close()
}

// TestRouteInFlight tests that an item with a submitted plan is not
// submitted again before its outcome arrives, and that its reclaimed bytes
// are released once.
func TestRouteInFlight(t *testing.T) {
	f := newFixture(t, executor.DryRun{}, fastConfig())
	if err := f.budgets.Set(budget.GlobalScope, 9000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	f.scores["cold"] = 0.05
	ctx := context.Background()
	it := doc("cold", forgetting.RiskLow)

	first, err := f.pipe.Process(ctx, it, scoring.Signals{})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if !f.pipe.InFlight("cold") {
		t.Fatal("Expected cold in flight after submission")
	}
	second, err := f.pipe.Process(ctx, it, scoring.Signals{})
	if !errors.Is(err, forgetting.ErrInFlight) {
		t.Fatalf("Expected ErrInFlight, got %v", err)
	}
	if second.Plan.ID != first.Plan.ID {
		t.Errorf("Expected pending plan %s, got %s", first.Plan.ID, second.Plan.ID)
	}
	if n := f.count(t, "cold", ledger.KindDecision); n != 1 {
		t.Errorf("Expected 1 decision entry, got %d", n)
	}
	if n := f.queue.Len(); n != 1 {
		t.Errorf("Expected 1 queued plan, got %d", n)
	}

	f.queue.Start(ctx)
	f.queue.Close()

	if f.pipe.InFlight("cold") {
		t.Error("Expected cold settled after its outcome")
	}
	if n := f.count(t, "cold", ledger.KindExecution); n != 1 {
		t.Errorf("Expected 1 execution entry, got %d", n)
	}
	if v := f.volume(t); v != 8000 {
		t.Errorf("Expected volume 8000 after one reclaim, got %d", v)
	}
}

// TestProcessInvalidItem tests that an item without an id is rejected.
func TestProcessInvalidItem(t *testing.T) {
	f := newFixture(t, executor.DryRun{}, fastConfig())
	if _, err := f.pipe.Process(context.Background(), forgetting.Item{}, scoring.Signals{}); err == nil {
		t.Error("Expected error for item without id")
	}
}

// ============================================================================
// Batches
// ============================================================================

// TestProcessBatch tests that batch results keep input order and isolate
// failures.
func TestProcessBatch(t *testing.T) {
	f := newFixture(t, executor.DryRun{}, fastConfig())
	if err := f.budgets.Set(budget.GlobalScope, 9000); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ctx := context.Background()
	f.queue.Start(ctx)

	inputs := []pipeline.Input{
		{Item: doc("a", forgetting.RiskLow)},
		{Item: forgetting.Item{}},
		{Item: doc("c", forgetting.RiskLow)},
		{Item: doc("d", forgetting.RiskLow)},
	}
	f.scores["a"], f.scores["c"], f.scores["d"] = 0.05, 0.9, 0.45

	results := f.pipe.ProcessBatch(ctx, inputs, 2)
	f.queue.Close()

	if len(results) != len(inputs) {
		t.Fatalf("Expected %d results, got %d", len(inputs), len(results))
	}
	tests := []struct {
		want    forgetting.StrategyKind
		wantErr bool
	}{
		{want: forgetting.StrategyDelete},
		{wantErr: true},
		{want: forgetting.StrategyDefer},
		{want: forgetting.StrategyCompress},
	}
	for i, tt := range tests {
		r := results[i]
		if r.ItemID != inputs[i].Item.ID {
			t.Errorf("Result %d: expected item %q, got %q", i, inputs[i].Item.ID, r.ItemID)
		}
		if tt.wantErr {
			if r.Err == nil {
				t.Errorf("Result %d: expected error", i)
			}
			continue
		}
		if r.Err != nil {
			t.Errorf("Result %d: unexpected error %v", i, r.Err)
			continue
		}
		if r.Decision.Plan.Kind != tt.want {
			t.Errorf("Result %d: expected %s, got %s", i, tt.want, r.Decision.Plan.Kind)
		}
	}
}

// TestNewRequiresDeps tests that missing collaborators are rejected.
func TestNewRequiresDeps(t *testing.T) {
	if _, err := pipeline.New(pipeline.Deps{}); err == nil {
		t.Error("Expected error for empty deps")
	}
}
