// Package health provides liveness and readiness checks for the daemon.
//
// The daemon registers one check per dependency:
//
//	checker := health.New(5 * time.Second)
//	checker.RegisterCheck("ledger", true, ledgerPing)
//	checker.RegisterCheck("state", true, statePing)
//	checker.RegisterCheck("cooldown_store", false, redisPing)
//
// Readiness is "ready" when every check passes, "degraded" when only
// non-critical checks fail, and "unhealthy" (HTTP 503) when a critical
// check fails.
package health
