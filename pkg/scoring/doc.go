// Package scoring turns raw per-item signals into a normalized, seven-axis
// ScoreVector and folds vectors into composite retention values.
//
// # Normalization
//
// Each axis has a declared domain and a normalizer:
//
//   - minmax: (x - min) / (max - min)
//   - log: log1p(x - min) / log1p(max - min), for heavy-tailed counts
//   - winsor: clip to [min, max] first, then min-max
//
// Results are always clipped to [0,1]. A signal outside its declared domain,
// or not finite, yields an InvalidSignalError; the axis falls back to 0.5
// and the vector records the issue, so one bad signal never aborts scoring.
//
// # Temporal Axis
//
// The temporal score blends exponential recency decay with a predicted
// probability of future access:
//
//	temporal = α·exp(-Δt/τ) + (1-α)·P_future
//
// τ and α are learned; the engine reads them from a TemporalSource (the
// learning optimizer) on every call. P_future comes from an external
// Predictor bounded by a timeout, and any predictor failure fails open to
// 0.5.
//
// # Composites
//
// A Compositor maps a vector to a single value J in [0,1]. The default
// Linear compositor reads live weights from a WeightSource and inverts the
// redundancy axis before summing.
package scoring
