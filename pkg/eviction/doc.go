// Package eviction drains budget scopes that have crossed their high
// watermark.
//
// A sweep loads candidates for the scope from a Catalog, scores them, and
// orders them on a min-heap by adjusted priority
//
//	s_adj = J * (1 + κr*risk) * (1 - κd*redundancy)
//
// so low-value, redundant items are considered first and risky items last.
// Each popped item is routed through the policy pipeline until the volume
// minus the pending reclaim estimate reaches the trigger's target or the
// heap is empty. Items refused by hard constraints are quarantined in a
// CooldownStore and skipped by later sweeps until the cooldown expires.
//
// Scheduler.Start drives budget evaluation and sweeps on a cron schedule.
package eviction
