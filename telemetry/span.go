package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/agentflow/core"
)

// InstrumentationName names the tracer used when none is configured.
const InstrumentationName = "github.com/hupe1980/agentflow"

// Span wraps an OpenTelemetry span. A nil *Span is valid and records nothing,
// so callers never need to check whether tracing is enabled.
type Span struct {
	span     trace.Span
	settings *Settings
}

// StartSpan starts a span named operation when settings are enabled. It
// returns ctx unchanged and a nil span otherwise.
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	settings *Settings,
	operation string,
	attrs ...attribute.KeyValue,
) (context.Context, *Span) {
	if !settings.IsEnabled() {
		return ctx, nil
	}

	if tracer == nil {
		tracer = otel.Tracer(InstrumentationName)
	}

	functionID := settings.FunctionID
	if functionID == "" {
		functionID = operation
	}

	base := []attribute.KeyValue{
		attribute.String("ai.operationId", operation),
		attribute.String("ai.telemetry.functionId", functionID),
	}

	for k, v := range settings.Metadata {
		base = append(base, metadataAttr("ai.telemetry.metadata."+k, v))
	}

	ctx, span := tracer.Start(ctx, operation, trace.WithAttributes(append(base, attrs...)...))

	return ctx, &Span{span: span, settings: settings}
}

func metadataAttr(key string, v any) attribute.KeyValue {
	switch val := v.(type) {
	case string:
		return attribute.String(key, val)
	case int:
		return attribute.Int(key, val)
	case int64:
		return attribute.Int64(key, val)
	case float64:
		return attribute.Float64(key, val)
	case bool:
		return attribute.Bool(key, val)
	default:
		return attribute.String(key, fmt.Sprint(val))
	}
}

// SetAttributes adds attributes to the span.
func (s *Span) SetAttributes(kv ...attribute.KeyValue) {
	if s == nil {
		return
	}

	s.span.SetAttributes(kv...)
}

// RecordInput records a prompt attribute unless inputs are excluded.
func (s *Span) RecordInput(key, value string) {
	if s == nil || !s.settings.recordsInputs() {
		return
	}

	s.span.SetAttributes(attribute.String(key, value))
}

// RecordOutput records a generated value unless outputs are excluded.
func (s *Span) RecordOutput(key, value string) {
	if s == nil || !s.settings.recordsOutputs() {
		return
	}

	s.span.SetAttributes(attribute.String(key, value))
}

// RecordUsage records token usage.
func (s *Span) RecordUsage(u core.Usage) {
	if s == nil {
		return
	}

	s.span.SetAttributes(
		attribute.Int("ai.usage.promptTokens", u.PromptTokens),
		attribute.Int("ai.usage.completionTokens", u.CompletionTokens),
	)
}

// End finishes the span, recording err when non-nil.
func (s *Span) End(err error) {
	if s == nil {
		return
	}

	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	} else {
		s.span.SetStatus(codes.Ok, "")
	}

	s.span.End()
}
