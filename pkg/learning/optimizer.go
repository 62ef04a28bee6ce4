package learning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/lethe/pkg/config"
	"mercator-hq/lethe/pkg/forgetting"
	"mercator-hq/lethe/pkg/ledger"
	"mercator-hq/lethe/pkg/state"
)

// Store persists tunables and snapshots.
type Store interface {
	SaveTunables(ctx context.Context, t forgetting.Tunables) error
	LoadTunables(ctx context.Context) (forgetting.Tunables, error)
	SaveSnapshot(ctx context.Context, s state.Snapshot) error
	LoadSnapshot(ctx context.Context, id string) (state.Snapshot, error)
	ListSnapshots(ctx context.Context) ([]state.Snapshot, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// Recorder appends ledger entries.
type Recorder interface {
	Log(ctx context.Context, e ledger.Entry) (ledger.Entry, error)
}

// Metrics is the subset of the metrics collector the optimizer records to.
type Metrics interface {
	RecordLearningUpdate(outcome string, weights map[string]float64)
	RecordLearningRollback()
}

// Optimizer owns the live tunables. Reads never block on persistence of
// an update in progress beyond the swap itself.
type Optimizer struct {
	store  Store
	ledger Recorder
	cfg    config.LearningConfig

	mu      sync.RWMutex
	params  forgetting.Tunables
	applied int

	now     func() time.Time
	logger  *slog.Logger
	metrics Metrics
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Optimizer) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Optimizer) { o.logger = l.With("component", "learning") }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *Optimizer) { o.metrics = m }
}

// New creates an optimizer, loading persisted tunables from store or
// starting from the defaults.
func New(ctx context.Context, store Store, rec Recorder, cfg config.LearningConfig, opts ...Option) (*Optimizer, error) {
	if cfg.RiskFloor < 0 || cfg.RiskFloor >= 1 {
		return nil, fmt.Errorf("risk floor must be in [0, 1), got %v", cfg.RiskFloor)
	}
	o := &Optimizer{
		store:  store,
		ledger: rec,
		cfg:    cfg,
		now:    time.Now,
		logger: slog.Default().With("component", "learning"),
	}
	for _, opt := range opts {
		opt(o)
	}

	params, err := store.LoadTunables(ctx)
	switch {
	case errors.Is(err, forgetting.ErrNotFound):
		params = forgetting.DefaultTunables()
		params.Weights = Project(params.Weights, cfg.RiskFloor)
	case err != nil:
		return nil, fmt.Errorf("failed to load tunables: %w", err)
	default:
		if params.Thresholds == nil {
			params.Thresholds = forgetting.DefaultTunables().Thresholds
		}
		params.Weights = Project(params.Weights, cfg.RiskFloor)
	}
	o.params = params
	o.logger.Info("learning optimizer ready", "version", params.Version, "enabled", cfg.Enabled)
	return o, nil
}

// Tunables returns a copy of the live tunables.
func (o *Optimizer) Tunables() forgetting.Tunables {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.params.Clone()
}

// Weights returns the live composite weights.
func (o *Optimizer) Weights() forgetting.Weights {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.params.Weights
}

// Temporal returns the live decay constant and blend factor.
func (o *Optimizer) Temporal() (time.Duration, float64) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.params.Tau, o.params.Alpha
}

// Update applies one feedback event. The event is recorded in the ledger
// before the tunables change; if the new tunables cannot be persisted the
// live ones are left untouched.
func (o *Optimizer) Update(ctx context.Context, ev forgetting.FeedbackEvent) (forgetting.Tunables, error) {
	if err := ev.Validate(); err != nil {
		return o.Tunables(), err
	}
	if ev.ObservedAt.IsZero() {
		ev.ObservedAt = o.now()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	plan := ev.Plan
	scores := ev.Scores
	if _, err := o.ledger.Log(ctx, ledger.Entry{
		Kind:   ledger.KindFeedback,
		ItemID: ev.ItemID,
		Plan:   &plan,
		Scores: &scores,
		Reason: string(ev.Outcome),
		Attributes: map[string]string{
			"cost":    strconv.FormatFloat(ev.Cost, 'g', -1, 64),
			"benefit": strconv.FormatFloat(ev.Benefit, 'g', -1, 64),
			"class":   string(ev.Class),
		},
	}); err != nil {
		return o.params.Clone(), forgetting.NewDependencyUnavailableError("ledger", err)
	}

	if !o.cfg.Enabled || ev.Outcome == forgetting.OutcomeNeutral {
		if o.metrics != nil {
			o.metrics.RecordLearningUpdate(string(ev.Outcome), o.params.Weights.Map())
		}
		return o.params.Clone(), nil
	}

	next := o.step(o.params, ev)
	if err := o.store.SaveTunables(ctx, next); err != nil {
		return o.params.Clone(), forgetting.NewDependencyUnavailableError("state", err)
	}
	prev := o.params
	o.params = next
	o.applied++

	if _, err := o.ledger.Log(ctx, ledger.Entry{
		Kind:       ledger.KindLearningUpdate,
		Reason:     string(ev.Outcome),
		Attributes: describe(prev, next),
	}); err != nil {
		o.logger.ErrorContext(ctx, "failed to log learning update", "version", next.Version, "error", err)
	}
	if o.metrics != nil {
		o.metrics.RecordLearningUpdate(string(ev.Outcome), next.Weights.Map())
	}
	o.logger.DebugContext(ctx, "tunables updated",
		"version", next.Version,
		"outcome", string(ev.Outcome),
		"tau", next.Tau,
	)

	if o.cfg.SnapshotEvery > 0 && o.applied%o.cfg.SnapshotEvery == 0 {
		if _, err := o.snapshot(ctx, fmt.Sprintf("after %d updates", o.applied)); err != nil {
			o.logger.WarnContext(ctx, "periodic snapshot failed", "error", err)
		}
	}
	return next.Clone(), nil
}

// step computes the tunables after ev. It does not modify cur.
func (o *Optimizer) step(cur forgetting.Tunables, ev forgetting.FeedbackEvent) forgetting.Tunables {
	next := cur.Clone()
	next.Version = cur.Version + 1

	// Forgetting something later needed pushes weight toward the axes on
	// which the item scored high, so similar items rank higher next time.
	dir := 1.0
	if ev.Outcome == forgetting.OutcomeFalsePositiveRetain {
		dir = -1
	}

	vals := ev.Scores.Values()
	vals[forgetting.AxisRedundancy] = 1 - vals[forgetting.AxisRedundancy]
	var (
		sum float64
		n   int
	)
	for i, x := range vals {
		if ev.Scores.Degraded(forgetting.Axis(i)) {
			continue
		}
		sum += x
		n++
	}
	if n > 0 {
		mean := sum / float64(n)
		scale := o.cfg.LearningRate * magnitude(ev)
		for i, x := range vals {
			if ev.Scores.Degraded(forgetting.Axis(i)) {
				continue
			}
			delta := clamp(dir*scale*(x-mean), -o.cfg.MaxStep, o.cfg.MaxStep)
			next.Weights[i] += delta
		}
	}
	next.Weights = Project(next.Weights, o.cfg.RiskFloor)

	factor := o.cfg.TauFactor
	if factor <= 1 {
		factor = 1
	}
	tau := float64(cur.Tau)
	if dir > 0 {
		tau *= factor
	} else {
		tau /= factor
	}
	next.Tau = time.Duration(clamp(tau, float64(o.cfg.TauMin), float64(o.cfg.TauMax)))

	class := ev.Class
	if class == "" {
		class = forgetting.ClassOther
	}
	th := cur.Threshold(class) - dir*o.cfg.ThresholdStep
	next.Thresholds[class] = clamp(th, o.cfg.ThresholdMin, o.cfg.ThresholdMax)
	return next
}

// magnitude scales the step by how costly the mistake was relative to its
// benefit. Events without cost or benefit take a full step.
func magnitude(ev forgetting.FeedbackEvent) float64 {
	total := ev.Cost + ev.Benefit
	if total == 0 {
		return 1
	}
	return ev.Cost / total
}

func describe(prev, next forgetting.Tunables) map[string]string {
	attrs := map[string]string{
		"version":      strconv.FormatInt(next.Version, 10),
		"prev_version": strconv.FormatInt(prev.Version, 10),
		"tau":          next.Tau.String(),
	}
	for axis, w := range next.Weights.Map() {
		attrs["weight."+axis] = strconv.FormatFloat(w, 'f', 6, 64)
	}
	for class, th := range next.Thresholds {
		attrs["threshold."+string(class)] = strconv.FormatFloat(th, 'f', 4, 64)
	}
	return attrs
}

// Snapshot stores a copy of the live tunables.
func (o *Optimizer) Snapshot(ctx context.Context, reason string) (state.Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot(ctx, reason)
}

func (o *Optimizer) snapshot(ctx context.Context, reason string) (state.Snapshot, error) {
	snap := state.Snapshot{
		ID:        uuid.NewString(),
		Reason:    reason,
		CreatedAt: o.now(),
		Tunables:  o.params.Clone(),
	}
	if err := o.store.SaveSnapshot(ctx, snap); err != nil {
		return state.Snapshot{}, fmt.Errorf("failed to save snapshot: %w", err)
	}
	if _, err := o.ledger.Log(ctx, ledger.Entry{
		Kind:   ledger.KindLearningSnapshot,
		Reason: reason,
		Attributes: map[string]string{
			"snapshot_id": snap.ID,
			"version":     strconv.FormatInt(snap.Tunables.Version, 10),
		},
	}); err != nil {
		o.logger.ErrorContext(ctx, "failed to log snapshot", "snapshot_id", snap.ID, "error", err)
	}
	o.prune(ctx)
	return snap, nil
}

// prune drops the oldest snapshots beyond MaxSnapshots.
func (o *Optimizer) prune(ctx context.Context) {
	if o.cfg.MaxSnapshots <= 0 {
		return
	}
	snaps, err := o.store.ListSnapshots(ctx)
	if err != nil {
		o.logger.WarnContext(ctx, "failed to list snapshots", "error", err)
		return
	}
	for i := 0; i < len(snaps)-o.cfg.MaxSnapshots; i++ {
		if err := o.store.DeleteSnapshot(ctx, snaps[i].ID); err != nil {
			o.logger.WarnContext(ctx, "failed to delete snapshot", "snapshot_id", snaps[i].ID, "error", err)
		}
	}
}

// Snapshots lists retained snapshots, oldest first.
func (o *Optimizer) Snapshots(ctx context.Context) ([]state.Snapshot, error) {
	return o.store.ListSnapshots(ctx)
}

// Rollback restores the tunables of snapshot id. The version keeps
// increasing so readers can tell the restore from the snapshot itself.
func (o *Optimizer) Rollback(ctx context.Context, id string) (forgetting.Tunables, error) {
	snap, err := o.store.LoadSnapshot(ctx, id)
	if err != nil {
		return forgetting.Tunables{}, fmt.Errorf("snapshot %s: %w", id, err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	restored := snap.Tunables.Clone()
	restored.Weights = Project(restored.Weights, o.cfg.RiskFloor)
	restored.Version = o.params.Version + 1
	if err := o.store.SaveTunables(ctx, restored); err != nil {
		return o.params.Clone(), forgetting.NewDependencyUnavailableError("state", err)
	}
	prev := o.params
	o.params = restored

	attrs := describe(prev, restored)
	attrs["snapshot_id"] = id
	if _, err := o.ledger.Log(ctx, ledger.Entry{
		Kind:       ledger.KindLearningRollback,
		Reason:     snap.Reason,
		Attributes: attrs,
	}); err != nil {
		o.logger.ErrorContext(ctx, "failed to log rollback", "snapshot_id", id, "error", err)
	}
	if o.metrics != nil {
		o.metrics.RecordLearningRollback()
	}
	o.logger.InfoContext(ctx, "tunables rolled back", "snapshot_id", id, "version", restored.Version)
	return restored.Clone(), nil
}
