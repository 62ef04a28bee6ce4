package tracing

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"mercator-hq/lethe/pkg/config"
)

// TestNewDisabled tests the noop path.
func TestNewDisabled(t *testing.T) {
	if _, err := New(context.Background(), nil); err == nil {
		t.Error("Expected error for nil config")
	}
	tr, err := New(context.Background(), &config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.Enabled() {
		t.Error("Expected disabled tracer")
	}
	_, span := tr.Start(context.Background(), "noop")
	span.End()
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown: %v", err)
	}
}

// TestCreateSampler tests sampler strategies.
func TestCreateSampler(t *testing.T) {
	tests := []struct {
		strategy string
		ratio    float64
		wantErr  bool
	}{
		{SamplerAlways, 0, false},
		{SamplerNever, 0, false},
		{SamplerRatio, 0.5, false},
		{SamplerRatio, 1.5, true},
		{"sometimes", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.strategy, func(t *testing.T) {
			_, err := createSampler(tt.strategy, tt.ratio)
			if (err != nil) != tt.wantErr {
				t.Errorf("createSampler(%s, %v) error = %v, wantErr %v", tt.strategy, tt.ratio, err, tt.wantErr)
			}
		})
	}
}

// TestSpanAttributes tests recorded attributes and status.
func TestSpanAttributes(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tr := NewWithProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	defer tr.Shutdown(context.Background())

	ctx, span := tr.Start(context.Background(), "gate.request_transition")
	if TraceID(ctx) == "" {
		t.Error("Expected trace id on context")
	}
	SetTransitionAttributes(span, "item-1", "key_dependent", "key_destroyed")
	SetStatus(span, errors.New("denied"))
	span.End()

	ended := rec.Ended()
	if len(ended) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error {
		t.Errorf("Expected error status, got %v", ended[0].Status())
	}
	found := false
	for _, kv := range ended[0].Attributes() {
		if string(kv.Key) == AttrToStage && kv.Value.AsString() == "key_destroyed" {
			found = true
		}
	}
	if !found {
		t.Error("Expected to-stage attribute")
	}
}

// TestNilTracer tests that a nil tracer starts noop spans.
func TestNilTracer(t *testing.T) {
	var tr *Tracer
	_, span := tr.Start(context.Background(), "x")
	span.End()
	if tr.Enabled() {
		t.Error("Expected nil tracer to be disabled")
	}
}
