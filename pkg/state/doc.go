// Package state persists the committed state of the forgetting core: the
// reversibility stage of every item, budget counters, and the learned
// tunables with their versioned snapshots.
//
// Two backends are provided. MemoryBackend is for tests and single-process
// experiments. SQLiteBackend (modernc.org/sqlite, WAL mode) is durable; each
// write is a single statement or transaction, so a crash leaves every item
// at its last committed stage.
//
// Item records carry a version. The reversibility gate commits transitions
// with CompareAndSwapItem, so two processes racing on the same item cannot
// both succeed.
package state
