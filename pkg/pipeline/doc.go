// Package pipeline connects the forgetting core end to end.
//
// An item is scored, a plan is selected against the budget state of its
// scope and its current stage, the decision is recorded in the ledger, and
// the plan is handed to the executor work queue. Execution outcomes come
// back through OnOutcome: successful plans commit their stage transition
// through the gate and release budget, while exhausted plans fall back to
// defer, are flagged in the ledger, and are requeued for the next sweep.
//
// Key destruction is special. The gate runs the crypto-shred sequence
// before the executor's KeyDestroy is called, so the handler only cleans
// up ciphertext for an item that is already terminal.
package pipeline
