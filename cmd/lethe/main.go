// Lethe decides when and how stored data is forgotten.
//
// It scores items, selects a forgetting strategy under budget pressure,
// gates irreversible transitions behind approvals and a crypto-shred
// sequence, and records every decision in a hash-chained ledger.
//
// Usage:
//
//	# Start the core with the admin API
//	lethe run --config lethe.yaml
//
//	# Validate a configuration and policy table
//	lethe validate --config lethe.yaml --table policy.yaml
//
//	# Verify an item's ledger chain
//	lethe ledger verify --item doc-42
//
//	# Export the ledger as CSV
//	lethe ledger export --format csv --output ledger.csv
//
//	# Show version information
//	lethe version
package main

func main() {
	Execute()
}
