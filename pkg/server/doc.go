// Package server exposes the forgetting core over a small HTTP admin API.
//
// The router is built on go-chi/chi. It serves probes and metrics for the
// process and a read-mostly view of the core:
//
//	GET  /healthz                      liveness
//	GET  /readyz                       readiness (503 when a critical check fails)
//	GET  /version                      build information
//	GET  /metrics                      Prometheus exposition
//	GET  /v1/items/{itemID}            gate state of one item
//	GET  /v1/items/{itemID}/history    ledger entries of one item
//	GET  /v1/items/{itemID}/verify     hash chain verification
//	POST /v1/items/{itemID}/rollback   move a reversible item to a lower stage
//	POST /v1/items/{itemID}/approvals  grant a key destruction approval
//	GET  /v1/budgets                   every budget scope
//	POST /v1/feedback                  submit an outcome observation
//	GET  /v1/learning/snapshots        learned parameter snapshots
//	POST /v1/learning/rollback         restore a snapshot
//
// Routes whose collaborator is not configured are not mounted.
//
// # Basic Usage
//
//	srv := server.New(cfg.Server, server.Deps{
//	    Health:  checker,
//	    Metrics: collector.Handler(),
//	    Gate:    g,
//	    Ledger:  l,
//	    Budgets: tracker,
//	})
//	if err := srv.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// Start blocks until ctx is cancelled and then shuts down gracefully within
// the configured shutdown timeout.
package server
