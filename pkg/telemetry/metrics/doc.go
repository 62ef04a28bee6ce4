// Package metrics provides Prometheus metrics for the forgetting core.
//
// # Metrics Categories
//
//   - Decision metrics: selected strategies, downgrades, constraint violations
//   - Gate metrics: committed transitions, denials by reason, shred latency
//   - Budget metrics: scope volume and tier, sweeps, reclaimed bytes
//   - Execution metrics: executor outcomes, retries, queue depth
//   - Learning metrics: applied feedback, current weights, rollbacks
//   - Ledger metrics: appends by kind and status
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	collector.RecordDecision("archive", "elevated", false, false, d)
//	router.Handle("/metrics", collector.Handler())
//
// Every Record method is a no-op on a nil collector.
package metrics
