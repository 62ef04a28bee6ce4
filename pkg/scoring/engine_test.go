package scoring

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"mercator-hq/lethe/pkg/forgetting"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)
	e, err := NewEngine(Config{}, StaticTemporal{Tau: 24 * time.Hour, Alpha: 1}, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func testItem() forgetting.Item {
	return forgetting.Item{
		ID: "item-1",
		Meta: forgetting.Meta{
			Class:     forgetting.ClassLog,
			Risk:      forgetting.RiskMedium,
			CreatedAt: testNow.Add(-48 * time.Hour),
			UpdatedAt: testNow.Add(-24 * time.Hour),
		},
	}
}

// ============================================================================
// Normalization
// ============================================================================

// TestNormalize tests each normalization method.
func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		raw     float64
		cfg     AxisConfig
		want    float64
		wantErr bool
	}{
		{"minmax mid", 5, AxisConfig{Method: MethodMinMax, Min: 0, Max: 10, DomainMax: 10}, 0.5, false},
		{"minmax signed", 0, AxisConfig{Method: MethodMinMax, Min: -1, Max: 1, DomainMin: -1, DomainMax: 1}, 0.5, false},
		{"log top", 99, AxisConfig{Method: MethodLog, Min: 0, Max: 99, DomainMax: 1000}, 1, false},
		{"log clipped", 500, AxisConfig{Method: MethodLog, Min: 0, Max: 99, DomainMax: 1000}, 1, false},
		{"winsor clipped", 20, AxisConfig{Method: MethodWinsor, Min: 0, Max: 10, DomainMax: 100}, 1, false},
		{"out of domain", 11, AxisConfig{Method: MethodMinMax, Min: 0, Max: 10, DomainMax: 10}, 0.5, true},
		{"nan", math.NaN(), AxisConfig{Method: MethodMinMax, Min: 0, Max: 1, DomainMax: 1}, 0.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(forgetting.AxisUsage, tt.raw, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if err != nil {
				var inv *forgetting.InvalidSignalError
				if !errors.As(err, &inv) {
					t.Errorf("Expected InvalidSignalError, got %T", err)
				}
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

// TestAxisConfigValidate tests configuration rejection.
func TestAxisConfigValidate(t *testing.T) {
	if err := (AxisConfig{Method: "cubic", Min: 0, Max: 1}).Validate(); err == nil {
		t.Error("Expected error for unknown method")
	}
	if err := (AxisConfig{Method: MethodMinMax, Min: 1, Max: 1}).Validate(); err == nil {
		t.Error("Expected error for empty range")
	}
	if _, err := NewEngine(Config{Axes: map[forgetting.Axis]AxisConfig{
		forgetting.AxisTemporal: {Method: MethodMinMax, Max: 1},
	}}, StaticTemporal{}); err == nil {
		t.Error("Expected error configuring the temporal axis")
	}
}

// ============================================================================
// Analyze
// ============================================================================

// TestAnalyzeRange tests that every axis is in [0,1] for arbitrary inputs.
func TestAnalyzeRange(t *testing.T) {
	e := newTestEngine(t)
	inputs := []float64{-1e9, -1, 0, 0.3, 1, 42, 1e12, math.Inf(1), math.NaN()}

	for _, x := range inputs {
		raw := map[forgetting.Axis]float64{}
		for _, a := range forgetting.Axes {
			raw[a] = x
		}
		v := e.Analyze(context.Background(), testItem(), Signals{Raw: raw})
		if !v.InRange() {
			t.Errorf("input %v: vector out of range: %+v", x, v)
		}
	}
}

// TestAnalyzeInvalidSignal tests neutral fallback and issue flagging.
func TestAnalyzeInvalidSignal(t *testing.T) {
	e := newTestEngine(t)
	v := e.Analyze(context.Background(), testItem(), Signals{Raw: map[forgetting.Axis]float64{
		forgetting.AxisImportance: 7, // domain is [0,1]
		forgetting.AxisContext:    0.8,
	}})

	if v.Importance != forgetting.NeutralScore {
		t.Errorf("Expected neutral importance, got %v", v.Importance)
	}
	if !v.Degraded(forgetting.AxisImportance) {
		t.Error("Expected importance flagged as degraded")
	}
	if v.Context != 0.8 || v.Degraded(forgetting.AxisContext) {
		t.Errorf("Expected context 0.8 without issue, got %v", v.Context)
	}
	if !v.Degraded(forgetting.AxisUsage) {
		t.Error("Expected absent usage flagged")
	}
}

// TestAnalyzeRiskFromMeta tests risk derivation from the risk level.
func TestAnalyzeRiskFromMeta(t *testing.T) {
	e := newTestEngine(t)
	item := testItem()
	item.Meta.Risk = forgetting.RiskCritical
	v := e.Analyze(context.Background(), item, Signals{})
	if v.Risk != 1.0 || v.Degraded(forgetting.AxisRisk) {
		t.Errorf("Expected risk 1.0 from CRITICAL, got %v", v.Risk)
	}
}

// TestTemporalDecay tests recency decay with α=1.
func TestTemporalDecay(t *testing.T) {
	e := newTestEngine(t)
	v := e.Analyze(context.Background(), testItem(), Signals{})
	want := math.Exp(-1) // one τ elapsed
	if math.Abs(v.Temporal-want) > 1e-9 {
		t.Errorf("Expected %v, got %v", want, v.Temporal)
	}

	future := e.Analyze(context.Background(), testItem(), Signals{LastAccess: testNow.Add(time.Hour)})
	if !future.Degraded(forgetting.AxisTemporal) || future.Temporal != forgetting.NeutralScore {
		t.Errorf("Expected neutral temporal for future access, got %v", future.Temporal)
	}
}

// TestPredictorFailOpen tests that predictor errors and timeouts yield 0.5.
func TestPredictorFailOpen(t *testing.T) {
	tests := []struct {
		name      string
		predictor Predictor
		want      float64
	}{
		{
			name:      "healthy",
			predictor: PredictorFunc(func(context.Context, forgetting.Item) (float64, error) { return 0.9, nil }),
			want:      0.9,
		},
		{
			name: "error",
			predictor: PredictorFunc(func(context.Context, forgetting.Item) (float64, error) {
				return 0, errors.New("model offline")
			}),
			want: 0.5,
		},
		{
			name: "timeout",
			predictor: PredictorFunc(func(ctx context.Context, _ forgetting.Item) (float64, error) {
				time.Sleep(time.Second)
				return 0.9, nil
			}),
			want: 0.5,
		},
		{
			name:      "out of range",
			predictor: PredictorFunc(func(context.Context, forgetting.Item) (float64, error) { return 3, nil }),
			want:      0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEngine(
				Config{PredictorTimeout: 20 * time.Millisecond},
				StaticTemporal{Tau: time.Hour, Alpha: 0},
				WithClock(func() time.Time { return testNow }),
				WithPredictor(tt.predictor),
			)
			if err != nil {
				t.Fatalf("NewEngine: %v", err)
			}
			v := e.Analyze(context.Background(), testItem(), Signals{})
			if math.Abs(v.Temporal-tt.want) > 1e-9 {
				t.Errorf("Expected temporal %v, got %v", tt.want, v.Temporal)
			}
		})
	}
}

// ============================================================================
// Composite
// ============================================================================

// TestLinearComposite tests the weighted sum with inverted redundancy.
func TestLinearComposite(t *testing.T) {
	c := NewLinear(StaticWeights(forgetting.DefaultWeights))

	// Redundancy 1-x makes a uniform vector compose to x.
	for _, x := range []float64{0, 0.05, 0.4, 1} {
		v := forgetting.Uniform(x).Set(forgetting.AxisRedundancy, 1-x)
		if got := c.Compose(v); math.Abs(got-x) > 1e-9 {
			t.Errorf("Expected %v, got %v", x, got)
		}
	}

	redundant := forgetting.Uniform(0.5).Set(forgetting.AxisRedundancy, 1)
	unique := forgetting.Uniform(0.5).Set(forgetting.AxisRedundancy, 0)
	if c.Compose(redundant) >= c.Compose(unique) {
		t.Error("Expected redundancy to lower the composite")
	}
}

// TestCompositorFuncClamps tests custom compositors stay in range.
func TestCompositorFuncClamps(t *testing.T) {
	c := CompositorFunc(func(v forgetting.ScoreVector) float64 { return v.Importance * 3 })
	if got := c.Compose(forgetting.Uniform(0.9)); got != 1 {
		t.Errorf("Expected clamp to 1, got %v", got)
	}
}
