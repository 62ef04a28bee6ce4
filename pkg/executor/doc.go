// Package executor is the boundary to the external strategy executor.
//
// Handler has one method per strategy kind and Dispatch is the only place
// plans are routed to it, so adding a kind fails to compile until every
// handler supports it. Queue decouples decisions from execution: Submit
// never blocks, and a fixed pool of workers runs plans with bounded
// exponential-backoff retries before reporting each Outcome.
package executor
