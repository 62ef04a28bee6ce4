package scoring

import "mercator-hq/lethe/pkg/forgetting"

// Compositor folds a score vector into a composite retention value in [0,1].
// Higher means more worth keeping.
type Compositor interface {
	Compose(v forgetting.ScoreVector) float64
}

// WeightSource supplies the live composite weights.
type WeightSource interface {
	Weights() forgetting.Weights
}

// StaticWeights is a WeightSource with fixed weights.
type StaticWeights forgetting.Weights

// Weights implements WeightSource.
func (s StaticWeights) Weights() forgetting.Weights {
	return forgetting.Weights(s)
}

// Linear is the weighted-sum compositor J = Σ wᵢ·sᵢ, with the redundancy
// axis entering as 1 - redundancy.
type Linear struct {
	Source WeightSource
}

// NewLinear creates a Linear compositor over source.
func NewLinear(source WeightSource) *Linear {
	return &Linear{Source: source}
}

// Compose implements Compositor.
func (l *Linear) Compose(v forgetting.ScoreVector) float64 {
	w := l.Source.Weights()
	vals := v.Values()
	vals[forgetting.AxisRedundancy] = 1 - vals[forgetting.AxisRedundancy]

	var j float64
	for i, x := range vals {
		j += w[i] * x
	}
	return clamp01(j)
}

// CompositorFunc adapts a function to Compositor.
type CompositorFunc func(forgetting.ScoreVector) float64

// Compose implements Compositor.
func (f CompositorFunc) Compose(v forgetting.ScoreVector) float64 {
	return clamp01(f(v))
}
