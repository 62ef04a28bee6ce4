package learning

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/ledger"
	"mercator-hq/lethe/pkg/ledger/storage"
	"mercator-hq/lethe/pkg/state"
)

func testConfig() config.LearningConfig {
	return config.LearningConfig{
		Enabled:       true,
		LearningRate:  0.05,
		MaxStep:       0.1,
		RiskFloor:     0.05,
		TauMin:        time.Hour,
		TauMax:        365 * 24 * time.Hour,
		TauFactor:     1.1,
		ThresholdMin:  0.05,
		ThresholdMax:  0.6,
		ThresholdStep: 0.01,
		SnapshotEvery: 100,
		MaxSnapshots:  20,
	}
}

type fixture struct {
	opt     *Optimizer
	backend *state.MemoryBackend
	ledger  *ledger.Ledger
	store   *storage.MemoryStorage
	now     time.Time
}

func newFixture(t *testing.T, cfg config.LearningConfig) *fixture {
	t.Helper()
	f := &fixture{
		backend: state.NewMemoryBackend(),
		store:   storage.NewMemoryStorage(),
		now:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	l, err := ledger.Open(context.Background(), f.store)
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	f.ledger = l
	f.opt, err = New(context.Background(), f.backend, l, cfg, WithClock(func() time.Time {
		f.now = f.now.Add(time.Second)
		return f.now
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func (f *fixture) count(t *testing.T, kind ledger.EventKind) int {
	t.Helper()
	entries, err := f.ledger.Query(context.Background(), &ledger.Query{Kinds: []ledger.EventKind{kind}})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	return len(entries)
}

// importantItem scores 1 on importance and 0 on every other effective axis.
func importantItem(outcome forgetting.Outcome) forgetting.FeedbackEvent {
	scores := forgetting.Uniform(0).
		Set(forgetting.AxisImportance, 1).
		Set(forgetting.AxisRedundancy, 1)
	return forgetting.FeedbackEvent{
		ItemID:  "doc-1",
		Class:   forgetting.ClassDocument,
		Plan:    forgetting.StrategyPlan{ID: "p1", ItemID: "doc-1", Kind: forgetting.StrategyDelete},
		Outcome: outcome,
		Scores:  scores,
	}
}

func checkInvariants(t *testing.T, p forgetting.Tunables, cfg config.LearningConfig) {
	t.Helper()
	if err := p.Weights.Validate(); err != nil {
		t.Fatalf("Invalid weights %v: %v", p.Weights, err)
	}
	if p.Weights[forgetting.AxisRisk] < cfg.RiskFloor-1e-12 {
		t.Fatalf("Risk weight %v below floor %v", p.Weights[forgetting.AxisRisk], cfg.RiskFloor)
	}
	if p.Tau < cfg.TauMin || p.Tau > cfg.TauMax {
		t.Fatalf("Tau %v outside [%v, %v]", p.Tau, cfg.TauMin, cfg.TauMax)
	}
	for class, th := range p.Thresholds {
		if th < cfg.ThresholdMin-1e-12 || th > cfg.ThresholdMax+1e-12 {
			t.Fatalf("Threshold of %s is %v, outside [%v, %v]", class, th, cfg.ThresholdMin, cfg.ThresholdMax)
		}
	}
}

// ============================================================================
// Projection
// ============================================================================

// TestProject tests projection onto the floored simplex.
func TestProject(t *testing.T) {
	tests := []struct {
		name  string
		in    forgetting.Weights
		floor float64
	}{
		{"already valid", forgetting.DefaultWeights, 0.05},
		{"negative components", forgetting.Weights{0.5, -0.2, 0.3, 0.1, 0.1, 0.1, 0.1}, 0.05},
		{"all zero", forgetting.Weights{}, 0.05},
		{"not normalized", forgetting.Weights{2, 2, 2, 2, 2, 2, 2}, 0.05},
		{"risk below floor", forgetting.Weights{0.5, 0.5, 0, 0, 0, 0, 0}, 0.2},
		{"nan component", forgetting.Weights{math.NaN(), 1, 0, 0, 0, 0, 0}, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Project(tt.in, tt.floor)
			if err := got.Validate(); err != nil {
				t.Fatalf("Expected valid weights, got %v: %v", got, err)
			}
			if got[forgetting.AxisRisk] < tt.floor-1e-12 {
				t.Errorf("Expected risk >= %v, got %v", tt.floor, got[forgetting.AxisRisk])
			}
		})
	}
}

// TestProjectKeepsRatios tests that raising the risk weight scales the
// other axes proportionally.
func TestProjectKeepsRatios(t *testing.T) {
	got := Project(forgetting.Weights{0.6, 0.4, 0, 0, 0, 0, 0}, 0.2)
	if math.Abs(got[forgetting.AxisImportance]-0.48) > 1e-9 {
		t.Errorf("Expected importance 0.48, got %v", got[forgetting.AxisImportance])
	}
	if math.Abs(got[forgetting.AxisUsage]-0.32) > 1e-9 {
		t.Errorf("Expected usage 0.32, got %v", got[forgetting.AxisUsage])
	}
}

// ============================================================================
// Update
// ============================================================================

// TestUpdateDirection tests how each outcome moves the tunables.
func TestUpdateDirection(t *testing.T) {
	cfg := testConfig()

	tests := []struct {
		name          string
		outcome       forgetting.Outcome
		wantImportant float64
		wantTau       time.Duration
		wantThreshold float64
	}{
		{
			name:          "false positive forget",
			outcome:       forgetting.OutcomeFalsePositiveForget,
			wantImportant: 1,
			wantTau:       time.Duration(float64(30*24*time.Hour) * 1.1),
			wantThreshold: 0.34,
		},
		{
			name:          "false positive retain",
			outcome:       forgetting.OutcomeFalsePositiveRetain,
			wantImportant: -1,
			wantTau:       time.Duration(float64(30*24*time.Hour) / 1.1),
			wantThreshold: 0.36,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, cfg)
			before := f.opt.Tunables()
			after, err := f.opt.Update(context.Background(), importantItem(tt.outcome))
			if err != nil {
				t.Fatalf("Update: %v", err)
			}

			delta := after.Weights[forgetting.AxisImportance] - before.Weights[forgetting.AxisImportance]
			if math.Signbit(delta) != math.Signbit(tt.wantImportant) || delta == 0 {
				t.Errorf("Expected importance to move with sign %v, moved %v", tt.wantImportant, delta)
			}
			if after.Tau != tt.wantTau {
				t.Errorf("Expected tau %v, got %v", tt.wantTau, after.Tau)
			}
			if th := after.Threshold(forgetting.ClassDocument); math.Abs(th-tt.wantThreshold) > 1e-9 {
				t.Errorf("Expected threshold %v, got %v", tt.wantThreshold, th)
			}
			if after.Version != before.Version+1 {
				t.Errorf("Expected version %d, got %d", before.Version+1, after.Version)
			}
			checkInvariants(t, after, cfg)
		})
	}
}

// TestUpdateStepBound tests that a single event cannot move a weight far.
func TestUpdateStepBound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxStep = 0.001
	f := newFixture(t, cfg)

	before := f.opt.Tunables().Weights
	after, err := f.opt.Update(context.Background(), importantItem(forgetting.OutcomeFalsePositiveForget))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	for i := range before {
		if d := math.Abs(after.Weights[i] - before[i]); d > 2*cfg.MaxStep {
			t.Errorf("Axis %s moved %v, more than twice the max step", forgetting.Axis(i), d)
		}
	}
}

// TestUpdateInvariantsUnderRandomFeedback tests that the invariants hold
// after a long random feedback stream.
func TestUpdateInvariantsUnderRandomFeedback(t *testing.T) {
	cfg := testConfig()
	cfg.LearningRate = 0.5
	cfg.RiskFloor = 0.1
	f := newFixture(t, cfg)

	rng := rand.New(rand.NewSource(7))
	outcomes := []forgetting.Outcome{
		forgetting.OutcomeFalsePositiveForget,
		forgetting.OutcomeFalsePositiveRetain,
		forgetting.OutcomeNeutral,
	}
	for i := 0; i < 500; i++ {
		var scores forgetting.ScoreVector
		for _, a := range forgetting.Axes {
			scores = scores.Set(a, rng.Float64())
		}
		ev := forgetting.FeedbackEvent{
			ItemID:  "item",
			Class:   forgetting.Classes[rng.Intn(len(forgetting.Classes))],
			Outcome: outcomes[rng.Intn(len(outcomes))],
			Cost:    rng.Float64() * 10,
			Benefit: rng.Float64() * 10,
			Scores:  scores,
		}
		p, err := f.opt.Update(context.Background(), ev)
		if err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
		checkInvariants(t, p, cfg)
	}
}

// TestUpdateNoChange tests events that are logged but leave the tunables.
func TestUpdateNoChange(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		outcome forgetting.Outcome
	}{
		{"neutral outcome", true, forgetting.OutcomeNeutral},
		{"learning disabled", false, forgetting.OutcomeFalsePositiveForget},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.Enabled = tt.enabled
			f := newFixture(t, cfg)
			before := f.opt.Tunables()

			after, err := f.opt.Update(context.Background(), importantItem(tt.outcome))
			if err != nil {
				t.Fatalf("Update: %v", err)
			}
			if after.Version != before.Version || after.Weights != before.Weights {
				t.Error("Expected tunables to be unchanged")
			}
			if n := f.count(t, ledger.KindFeedback); n != 1 {
				t.Errorf("Expected 1 feedback entry, got %d", n)
			}
			if n := f.count(t, ledger.KindLearningUpdate); n != 0 {
				t.Errorf("Expected no learning update entry, got %d", n)
			}
		})
	}
}

// TestUpdateInvalidEvent tests that malformed feedback is rejected.
func TestUpdateInvalidEvent(t *testing.T) {
	f := newFixture(t, testConfig())
	ev := importantItem("surprised")
	if _, err := f.opt.Update(context.Background(), ev); err == nil {
		t.Error("Expected unknown outcome to fail")
	}
	if n := f.count(t, ledger.KindFeedback); n != 0 {
		t.Errorf("Expected nothing logged, got %d entries", n)
	}
}

type failingStore struct {
	*state.MemoryBackend
	err error
}

func (s *failingStore) SaveTunables(ctx context.Context, t forgetting.Tunables) error {
	if s.err != nil {
		return s.err
	}
	return s.MemoryBackend.SaveTunables(ctx, t)
}

// TestUpdatePersistFailure tests that a failed save leaves the live
// tunables untouched.
func TestUpdatePersistFailure(t *testing.T) {
	store := &failingStore{MemoryBackend: state.NewMemoryBackend(), err: errors.New("disk full")}
	l, _ := ledger.Open(context.Background(), storage.NewMemoryStorage())
	opt, err := New(context.Background(), store, l, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	before := opt.Tunables()

	_, err = opt.Update(context.Background(), importantItem(forgetting.OutcomeFalsePositiveForget))
	var dep *forgetting.DependencyUnavailableError
	if !errors.As(err, &dep) || dep.Dependency != "state" {
		t.Fatalf("Expected state dependency error, got %v", err)
	}
	if got := opt.Tunables(); got.Version != before.Version || got.Weights != before.Weights {
		t.Error("Expected live tunables to be unchanged")
	}
}

// TestUpdateLedgerFailure tests that feedback is not applied when it
// cannot be recorded.
func TestUpdateLedgerFailure(t *testing.T) {
	f := newFixture(t, testConfig())
	f.store.SetFailure(errors.New("ledger offline"))

	_, err := f.opt.Update(context.Background(), importantItem(forgetting.OutcomeFalsePositiveForget))
	var dep *forgetting.DependencyUnavailableError
	if !errors.As(err, &dep) || dep.Dependency != "ledger" {
		t.Fatalf("Expected ledger dependency error, got %v", err)
	}
	if f.opt.Tunables().Version != 0 {
		t.Error("Expected no update to be applied")
	}
}

// ============================================================================
// Snapshots
// ============================================================================

// TestSnapshotCadence tests periodic snapshots and pruning.
func TestSnapshotCadence(t *testing.T) {
	cfg := testConfig()
	cfg.SnapshotEvery = 2
	cfg.MaxSnapshots = 2
	f := newFixture(t, cfg)

	for i := 0; i < 6; i++ {
		if _, err := f.opt.Update(context.Background(), importantItem(forgetting.OutcomeFalsePositiveForget)); err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
	}
	snaps, err := f.opt.Snapshots(context.Background())
	if err != nil {
		t.Fatalf("Snapshots: %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("Expected 2 retained snapshots, got %d", len(snaps))
	}
	if snaps[0].Tunables.Version != 4 || snaps[1].Tunables.Version != 6 {
		t.Errorf("Expected snapshot versions 4 and 6, got %d and %d", snaps[0].Tunables.Version, snaps[1].Tunables.Version)
	}
	if n := f.count(t, ledger.KindLearningSnapshot); n != 3 {
		t.Errorf("Expected 3 snapshot entries, got %d", n)
	}
}

// TestRollback tests restoring a snapshot.
func TestRollback(t *testing.T) {
	cfg := testConfig()
	f := newFixture(t, cfg)
	ctx := context.Background()

	snap, err := f.opt.Snapshot(ctx, "before experiment")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := f.opt.Update(ctx, importantItem(forgetting.OutcomeFalsePositiveRetain)); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	drifted := f.opt.Tunables()
	if drifted.Weights == snap.Tunables.Weights {
		t.Fatal("Expected weights to drift before rollback")
	}

	restored, err := f.opt.Rollback(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if restored.Weights != snap.Tunables.Weights {
		t.Errorf("Expected weights %v, got %v", snap.Tunables.Weights, restored.Weights)
	}
	if restored.Tau != snap.Tunables.Tau {
		t.Errorf("Expected tau %v, got %v", snap.Tunables.Tau, restored.Tau)
	}
	if restored.Version != drifted.Version+1 {
		t.Errorf("Expected version %d, got %d", drifted.Version+1, restored.Version)
	}
	persisted, err := f.backend.LoadTunables(ctx)
	if err != nil || persisted.Version != restored.Version {
		t.Errorf("Expected persisted version %d, got %d (err=%v)", restored.Version, persisted.Version, err)
	}
	if n := f.count(t, ledger.KindLearningRollback); n != 1 {
		t.Errorf("Expected 1 rollback entry, got %d", n)
	}

	if _, err := f.opt.Rollback(ctx, "missing"); !errors.Is(err, forgetting.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

// TestNewLoadsPersisted tests that a restarted optimizer resumes from the
// stored tunables.
func TestNewLoadsPersisted(t *testing.T) {
	f := newFixture(t, testConfig())
	want, err := f.opt.Update(context.Background(), importantItem(forgetting.OutcomeFalsePositiveForget))
	if err != nil {
		t.Fatalf("Update: %v", err)
	}

	again, err := New(context.Background(), f.backend, f.ledger, testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got := again.Tunables()
	if got.Version != want.Version || got.Weights != want.Weights {
		t.Errorf("Expected version %d weights %v, got %d %v", want.Version, want.Weights, got.Version, got.Weights)
	}
	if tau, _ := again.Temporal(); tau != want.Tau {
		t.Errorf("Expected tau %v, got %v", want.Tau, tau)
	}
}
