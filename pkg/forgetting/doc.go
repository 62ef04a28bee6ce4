// Package forgetting defines the shared data model of the Lethe forgetting
// core: stored items and their metadata, multi-axis score vectors, the
// staged-reversibility ladder, strategy plans, feedback events, and the
// error taxonomy every other package reports through.
//
// # Reversibility Ladder
//
// Every item sits on exactly one stage of a ten-step ladder:
//
//	0 original          5 key split
//	1 compressed        6 key escrowed
//	2 masked            7 key distributed
//	3 core extracted    8 key dependent
//	4 encrypted         9 key destroyed (terminal)
//
// Stages 0 through 8 are reversible with progressively more effort. Stage 9
// is terminal: the item's key material is gone and the data is
// unrecoverable. Only the reversibility gate (package gate) moves an item
// into stage 9.
//
// # Strategies
//
// A StrategyPlan names one of a closed set of strategy kinds. The kinds are
// ranked by irreversibility, which policy selection uses to break ties:
//
//	defer < cache_retain < compress < semantic_preserve < mask < archive < delete < key_destroy
//
// Executors handle the set exhaustively through executor.Handler; there is no
// string-keyed dispatch.
//
// # Values, Not Mutation
//
// ScoreVector, Meta, and StrategyPlan are value types. Operations that
// change them return a modified copy, so a vector logged to the ledger is the
// vector the decision was made with.
package forgetting
