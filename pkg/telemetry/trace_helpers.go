package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer returns a named tracer from the global provider
// If the name is empty, it uses "lalia" as the default
func Tracer(name string) trace.Tracer {
	if name == "" {
		name = "lalia"
	}
	return otel.GetTracerProvider().Tracer(name)
}

// WithSpan wraps a function with a span
// It automatically sets the status and records errors
func WithSpan(ctx context.Context, name string, f func(context.Context) error, attrs ...attribute.KeyValue) error {
	tracer := Tracer("lalia")
	ctx, span := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	defer span.End()

	err := f(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}

	return err
}

// WithGenerateSpan wraps a single LLM round trip ("generate" a completion).
func WithGenerateSpan(ctx context.Context, model string, iteration int, f func(context.Context) error) error {
	return WithSpan(ctx, "lalia.generate", f,
		attribute.String("lalia.model", model),
		attribute.Int("lalia.iteration", iteration),
	)
}

// WithExecuteSpan wraps a single function-call invocation.
func WithExecuteSpan(ctx context.Context, functionName string, f func(context.Context) error) error {
	return WithSpan(ctx, "lalia.execute", f,
		attribute.String("lalia.function_name", functionName),
	)
}

// WithParseSpan wraps a single parse-with-repair attempt.
func WithParseSpan(ctx context.Context, targetType string, attempt int, f func(context.Context) error) error {
	return WithSpan(ctx, "lalia.parse", f,
		attribute.String("lalia.target_type", targetType),
		attribute.Int("lalia.attempt", attempt),
	)
}
