// Package budget tracks stored data volume per scope and decides when a
// scope must be drained.
//
// A scope is the global total or a domain, table, cache, or log, each with a
// capacity and a low/high watermark pair. The tracker reports a tier for the
// policy engine (normal, elevated, critical) and, through Evaluate, emits
// eviction triggers with hysteresis between the watermarks so sweeps do not
// flap around a single threshold.
//
// Per-scope ingestion rate is measured with a RollingWindow and exposed on
// State for dashboards and for sweep sizing.
package budget
