// Package learning adapts the composite weights, the temporal decay
// constant, and the per-class forgetting thresholds from feedback on
// executed plans.
//
// Every update is bounded: each weight moves at most MaxStep per event, τ
// is scaled by a fixed factor within [TauMin, TauMax], and thresholds move
// by ThresholdStep within [ThresholdMin, ThresholdMax]. After each update
// the weights are projected back onto the simplex with the risk weight held
// at or above RiskFloor.
//
// Snapshots of the tunables are taken every SnapshotEvery updates and can
// be restored with Rollback.
package learning
