// Package ledger is the append-only audit log of the forgetting core.
//
// Every decision (with the score vector and metadata it was made on), every
// execution result, every stage transition or denial (with its approval
// reference), every feedback event, and every learning update is written to
// the ledger. A write is durable before Log returns; components treat a
// failed write as "decision not committed" and do not act on it.
//
// # Ordering and Integrity
//
// Entries carry a logical timestamp (Seq) taken from an atomic counter, so
// concurrent writers never contend on a global lock. Entries belonging to
// one item form a SHA-256 hash chain: each entry's hash covers its content
// and the previous entry's hash. Verify walks a chain and reports the first
// broken link.
//
// # Storage
//
// The Storage interface is implemented by storage.MemoryStorage and
// storage.SQLiteStorage. Entries can be exported with package export.
package ledger
