// Package tracing provides OpenTelemetry tracing for the pipeline, the
// reversibility gate, and eviction sweeps.
//
// Spans are exported over OTLP gRPC. When tracing is disabled the tracer is
// a noop and adds negligible overhead.
//
//	tracer, err := tracing.New(ctx, &cfg.Telemetry.Tracing)
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, "gate.request_transition")
//	tracing.SetTransitionAttributes(span, item.ID, "key_dependent", "key_destroyed")
//	defer span.End()
package tracing
