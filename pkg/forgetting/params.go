package forgetting

import (
	"fmt"
	"maps"
	"math"
	"time"
)

// Weights are the composite weights indexed by Axis. A valid weight vector
// is non-negative and sums to 1.
type Weights [NumAxes]float64

// DefaultWeights mirrors the production defaults: importance leads, and the
// risk axis keeps a non-zero share.
var DefaultWeights = Weights{
	AxisImportance: 0.25,
	AxisUsage:      0.20,
	AxisSemantic:   0.15,
	AxisTemporal:   0.15,
	AxisContext:    0.10,
	AxisRisk:       0.10,
	AxisRedundancy: 0.05,
}

// Sum returns the total weight.
func (w Weights) Sum() float64 {
	var s float64
	for _, x := range w {
		s += x
	}
	return s
}

// Validate checks non-negativity and unit sum within tolerance.
func (w Weights) Validate() error {
	for i, x := range w {
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			return fmt.Errorf("weight %s is %v", Axis(i), x)
		}
	}
	if s := w.Sum(); math.Abs(s-1) > 1e-9 {
		return fmt.Errorf("weights sum to %v, want 1", s)
	}
	return nil
}

// WeightsFromMap builds weights from axis names; missing axes are zero.
func WeightsFromMap(m map[string]float64) (Weights, error) {
	var w Weights
	for name, x := range m {
		a, err := ParseAxis(name)
		if err != nil {
			return w, err
		}
		w[a] = x
	}
	return w, nil
}

// Map returns the weights keyed by axis name.
func (w Weights) Map() map[string]float64 {
	out := make(map[string]float64, NumAxes)
	for i, x := range w {
		out[Axis(i).String()] = x
	}
	return out
}

// Tunables are the parameters the learning optimizer owns and the scoring and
// policy engines read: composite weights, the temporal decay constant and
// blend factor, and per-class forgetting thresholds.
type Tunables struct {
	Version    int64                 `json:"version"`
	Weights    Weights               `json:"weights"`
	Tau        time.Duration         `json:"tau"`
	Alpha      float64               `json:"alpha"`
	Thresholds map[DataClass]float64 `json:"thresholds"`
}

// DefaultThreshold is the per-class composite ceiling for destructive
// strategies when no learned value exists.
const DefaultThreshold = 0.35

// Threshold returns the learned threshold for class c.
func (p Tunables) Threshold(c DataClass) float64 {
	if t, ok := p.Thresholds[c]; ok {
		return t
	}
	return DefaultThreshold
}

// Clone returns a deep copy.
func (p Tunables) Clone() Tunables {
	out := p
	out.Thresholds = maps.Clone(p.Thresholds)
	return out
}

// DefaultTunables returns the starting tunables.
func DefaultTunables() Tunables {
	th := make(map[DataClass]float64, len(Classes))
	for _, c := range Classes {
		th[c] = DefaultThreshold
	}
	return Tunables{
		Weights:    DefaultWeights,
		Tau:        30 * 24 * time.Hour,
		Alpha:      0.7,
		Thresholds: th,
	}
}
