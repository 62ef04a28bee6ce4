package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys use the "lethe.*" namespace.
const (
	AttrItemID       = "lethe.item_id"
	AttrClass        = "lethe.class"
	AttrStrategy     = "lethe.strategy"
	AttrComposite    = "lethe.composite"
	AttrBudgetTier   = "lethe.budget.tier"
	AttrScope        = "lethe.budget.scope"
	AttrFromStage    = "lethe.stage.from"
	AttrToStage      = "lethe.stage.to"
	AttrDenialReason = "lethe.gate.denial_reason"
	AttrShredStep    = "lethe.gate.shred_step"
	AttrSweepID      = "lethe.sweep.id"
	AttrScheduled    = "lethe.sweep.scheduled"
	AttrAttempts     = "lethe.executor.attempts"
)

// SetDecisionAttributes records a policy decision on span.
func SetDecisionAttributes(span trace.Span, itemID, class, strategy, budgetTier string, composite float64) {
	span.SetAttributes(
		attribute.String(AttrItemID, itemID),
		attribute.String(AttrClass, class),
		attribute.String(AttrStrategy, strategy),
		attribute.String(AttrBudgetTier, budgetTier),
		attribute.Float64(AttrComposite, composite),
	)
}

// SetTransitionAttributes records a requested stage transition on span.
func SetTransitionAttributes(span trace.Span, itemID, from, to string) {
	span.SetAttributes(
		attribute.String(AttrItemID, itemID),
		attribute.String(AttrFromStage, from),
		attribute.String(AttrToStage, to),
	)
}

// SetSweepAttributes records an eviction sweep on span.
func SetSweepAttributes(span trace.Span, sweepID, scope string, scheduled int) {
	span.SetAttributes(
		attribute.String(AttrSweepID, sweepID),
		attribute.String(AttrScope, scope),
		attribute.Int(AttrScheduled, scheduled),
	)
}

// SetExecutionAttributes records an executor run on span.
func SetExecutionAttributes(span trace.Span, itemID, strategy string, attempts int) {
	span.SetAttributes(
		attribute.String(AttrItemID, itemID),
		attribute.String(AttrStrategy, strategy),
		attribute.Int(AttrAttempts, attempts),
	)
}

// SetStatus sets the span status from err and records it.
func SetStatus(span trace.Span, err error) {
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
