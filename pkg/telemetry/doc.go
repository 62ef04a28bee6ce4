// Package telemetry groups the observability packages of Lethe.
//
//   - logging: slog setup with context fields and secret redaction
//   - metrics: Prometheus collector for decisions, transitions, budgets, and learning
//   - tracing: OpenTelemetry spans over OTLP gRPC
//   - health: liveness and readiness checks for the admin server
package telemetry
