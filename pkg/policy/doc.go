// Package policy maps a scored item to a strategy plan.
//
// Selection has four steps. The composite value J is computed from the
// score vector. Hard constraints (legal holds, minimum retention periods)
// are evaluated from the item's tags; while any is active only defer,
// cache_retain, and lossless compress remain allowed. The policy table is
// then consulted: rules are keyed on data class, risk level, stage tier,
// and budget tier, each key optionally a wildcard, and carry a composite
// band. The most specific matching rule wins; equally specific rules are
// ordered by least irreversibility. Finally, a key_destroy plan without an
// existing approval is downgraded to its stage-8 equivalent.
//
// At critical budget pressure soft rules and per-class thresholds are
// relaxed. Hard constraints never are. Select always returns a plan; defer
// is the fallback.
//
// The table is plain data. It loads from YAML and can be hot-reloaded with
// a Watcher.
package policy
