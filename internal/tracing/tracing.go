// Package tracing wires OpenTelemetry into the service.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/vvakame/libraryql/internal/execute"
)

const instrumentationName = "github.com/vvakame/libraryql"

// Setup installs a global tracer provider exporting to endpoint over OTLP
// gRPC and returns its shutdown func. An empty endpoint configures nothing.
func Setup(ctx context.Context, endpoint, service string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(service),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentationName)
}

// FieldMiddleware starts one span per resolver call, named Type.field.
func FieldMiddleware(tracer trace.Tracer) execute.FieldMiddleware {
	return func(ctx context.Context, p execute.ResolveParams, next execute.FieldResolveFn) (any, error) {
		ctx, span := tracer.Start(ctx, p.Info.ParentType.Name+"."+p.Info.FieldName,
			trace.WithAttributes(
				attribute.String("graphql.field.path", p.Info.Path.String()),
				attribute.String("graphql.field.type", p.Info.ReturnType.String()),
			),
		)
		defer span.End()

		v, err := next(ctx, p)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return v, err
	}
}
