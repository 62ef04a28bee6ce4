// Package gate implements the reversibility gate: the only component that
// moves an item between stages.
//
// Forward transitions 0 to 8 are monotonic and committed with a
// compare-and-set on the persisted item record. Rollback is allowed from
// any stage below 8 to a lower stage with a stated reason. The final 8 to 9
// transition destroys the item's key and is the only irreversible step:
// it requires a valid approval, the absence of blocking tags, and an
// elapsed cooldown, and then runs the crypto-shred sequence through a
// KeyManager:
//
//	pre_verify -> key_distribution -> confirm_encryption -> destroy_key -> final_verify
//
// A failure at any step aborts the sequence, asks the KeyManager to restore
// the key, and leaves the item at stage 8. Once started the sequence runs to
// completion or abort regardless of caller cancellation.
//
// Every success and every denial is written to the ledger.
package gate
