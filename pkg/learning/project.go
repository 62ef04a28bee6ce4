package learning

import (
	"math"

	"mercator-hq/lethe/pkg/forgetting"
)

// Project returns the closest valid weight vector to w: non-negative,
// summing to 1, with the risk weight at least floor. A vector with no
// positive weight resets to the defaults.
func Project(w forgetting.Weights, floor float64) forgetting.Weights {
	floor = math.Max(0, math.Min(floor, 1))
	if w.Validate() == nil && w[forgetting.AxisRisk] >= floor {
		return w
	}

	var total float64
	for i, x := range w {
		if x < 0 || math.IsNaN(x) || math.IsInf(x, 0) {
			w[i] = 0
			continue
		}
		total += x
	}
	if total == 0 {
		w = forgetting.DefaultWeights
		total = w.Sum()
	}
	for i := range w {
		w[i] /= total
	}

	risk := w[forgetting.AxisRisk]
	if risk >= floor {
		return w
	}
	rest := 1 - risk
	for i := range w {
		if forgetting.Axis(i) == forgetting.AxisRisk {
			continue
		}
		w[i] *= (1 - floor) / rest
	}
	w[forgetting.AxisRisk] = floor
	return w
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(x, hi))
}
