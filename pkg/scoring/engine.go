package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"mercator-hq/lethe/pkg/forgetting"
)

// DefaultPredictorTimeout bounds a single future-access prediction.
const DefaultPredictorTimeout = 200 * time.Millisecond

// Signals are the raw inputs for one item. Raw holds per-axis values for
// every axis except temporal, which is derived from LastAccess (or
// Meta.UpdatedAt when LastAccess is zero). A missing risk signal is derived
// from Meta.Risk.
type Signals struct {
	Raw        map[forgetting.Axis]float64
	LastAccess time.Time
}

// Predictor estimates the probability that an item is accessed again.
type Predictor interface {
	Predict(ctx context.Context, item forgetting.Item) (float64, error)
}

// PredictorFunc adapts a function to Predictor.
type PredictorFunc func(ctx context.Context, item forgetting.Item) (float64, error)

// Predict implements Predictor.
func (f PredictorFunc) Predict(ctx context.Context, item forgetting.Item) (float64, error) {
	return f(ctx, item)
}

// TemporalSource supplies the learned decay constant τ and blend factor α.
type TemporalSource interface {
	Temporal() (tau time.Duration, alpha float64)
}

// StaticTemporal is a TemporalSource with fixed values.
type StaticTemporal struct {
	Tau   time.Duration
	Alpha float64
}

// Temporal implements TemporalSource.
func (s StaticTemporal) Temporal() (time.Duration, float64) {
	return s.Tau, s.Alpha
}

// Config configures an Engine.
type Config struct {
	Axes             map[forgetting.Axis]AxisConfig
	PredictorTimeout time.Duration
}

// Engine computes score vectors. It holds no per-item state and is safe for
// concurrent use.
type Engine struct {
	axes       map[forgetting.Axis]AxisConfig
	temporal   TemporalSource
	predictor  Predictor
	compositor Compositor
	timeout    time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithPredictor sets the future-access predictor. Without one, P_future is
// always 0.5.
func WithPredictor(p Predictor) Option {
	return func(e *Engine) { e.predictor = p }
}

// WithCompositor sets the compositor used by Composite.
func WithCompositor(c Compositor) Option {
	return func(e *Engine) { e.compositor = c }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a scoring engine. Axes missing from cfg use
// DefaultAxisConfigs.
func NewEngine(cfg Config, temporal TemporalSource, opts ...Option) (*Engine, error) {
	if temporal == nil {
		return nil, errors.New("scoring: temporal source is required")
	}
	axes := DefaultAxisConfigs()
	for a, c := range cfg.Axes {
		if a == forgetting.AxisTemporal {
			return nil, errors.New("scoring: temporal axis is derived and cannot be configured")
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("scoring: axis %s: %w", a, err)
		}
		axes[a] = c
	}
	timeout := cfg.PredictorTimeout
	if timeout <= 0 {
		timeout = DefaultPredictorTimeout
	}

	e := &Engine{
		axes:     axes,
		temporal: temporal,
		timeout:  timeout,
		now:      time.Now,
		logger:   slog.Default().With("component", "scoring.engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.compositor == nil {
		e.compositor = NewLinear(StaticWeights(forgetting.DefaultWeights))
	}
	return e, nil
}

// Analyze scores an item. It never fails: invalid or missing signals
// produce the neutral value on that axis and an entry in the vector's
// Issues.
func (e *Engine) Analyze(ctx context.Context, item forgetting.Item, sig Signals) forgetting.ScoreVector {
	var v forgetting.ScoreVector
	for _, a := range forgetting.Axes {
		var (
			x     float64
			issue string
		)
		switch a {
		case forgetting.AxisTemporal:
			x, issue = e.temporalScore(ctx, item, sig)
		case forgetting.AxisRisk:
			if _, ok := sig.Raw[a]; !ok {
				x = item.Meta.Risk.Score()
				break
			}
			x, issue = e.axisScore(item, a, sig)
		default:
			x, issue = e.axisScore(item, a, sig)
		}
		v = v.Set(a, x)
		if issue != "" {
			v.Issues = append(v.Issues, forgetting.AxisIssue{Axis: a, Reason: issue})
		}
	}
	return v
}

// Composite returns the composite value of v.
func (e *Engine) Composite(v forgetting.ScoreVector) float64 {
	return e.compositor.Compose(v)
}

// Compositor returns the engine's compositor.
func (e *Engine) Compositor() Compositor {
	return e.compositor
}

func (e *Engine) axisScore(item forgetting.Item, a forgetting.Axis, sig Signals) (float64, string) {
	raw, ok := sig.Raw[a]
	if !ok {
		return forgetting.NeutralScore, "absent"
	}
	x, err := Normalize(a, raw, e.axes[a])
	if err != nil {
		e.logger.Warn("invalid signal, using neutral score",
			"item_id", item.ID,
			"axis", a.String(),
			"error", err,
		)
		return forgetting.NeutralScore, err.Error()
	}
	return x, ""
}

func (e *Engine) temporalScore(ctx context.Context, item forgetting.Item, sig Signals) (float64, string) {
	last := sig.LastAccess
	if last.IsZero() {
		last = item.Meta.UpdatedAt
	}
	if last.IsZero() {
		return forgetting.NeutralScore, "absent"
	}
	elapsed := e.now().Sub(last)
	if elapsed < 0 {
		err := forgetting.NewInvalidSignalError(forgetting.AxisTemporal, elapsed.Seconds(), "last access is in the future")
		e.logger.Warn("invalid signal, using neutral score", "item_id", item.ID, "axis", "temporal", "error", err)
		return forgetting.NeutralScore, err.Error()
	}

	tau, alpha := e.temporal.Temporal()
	decay := 0.0
	if tau > 0 {
		decay = math.Exp(-float64(elapsed) / float64(tau))
	}
	return clamp01(alpha*decay + (1-alpha)*e.predict(ctx, item)), ""
}

// predict fails open to the neutral probability.
func (e *Engine) predict(ctx context.Context, item forgetting.Item) float64 {
	if e.predictor == nil {
		return forgetting.NeutralScore
	}
	pctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type prediction struct {
		p   float64
		err error
	}
	done := make(chan prediction, 1)
	go func() {
		p, err := e.predictor.Predict(pctx, item)
		done <- prediction{p, err}
	}()

	var (
		p   float64
		err error
	)
	select {
	case r := <-done:
		p, err = r.p, r.err
	case <-pctx.Done():
		err = pctx.Err()
	}
	if err != nil {
		e.logger.Warn("predictor unavailable, failing open",
			"item_id", item.ID,
			"error", forgetting.NewDependencyUnavailableError("predictor", err),
		)
		return forgetting.NeutralScore
	}
	if math.IsNaN(p) || p < 0 || p > 1 {
		e.logger.Warn("predictor returned out-of-range probability", "item_id", item.ID, "value", p)
		return forgetting.NeutralScore
	}
	return p
}
