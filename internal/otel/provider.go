// Package otel provides OpenTelemetry tracer provider initialization and management.
package otel

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mrzor/frame-relay/internal/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// endpointOption accepts both host:port and full URLs.
func endpointOption(endpoint string) otlptracehttp.Option {
	if strings.Contains(endpoint, "://") {
		return otlptracehttp.WithEndpointURL(endpoint)
	}
	return otlptracehttp.WithEndpoint(endpoint)
}

// Resource builds the resource describing this relay instance.
func Resource(ctx context.Context, cfg *config.OTELConfig, versionInfo string) (*resource.Resource, error) {
	opts := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(versionInfo),
			semconv.ServiceInstanceID(uuid.NewString()),
		),
	}

	// OTEL_RESOURCE_ATTRIBUTES may override the instance id.
	if customAttrs := cfg.ResourceKeyValues(); len(customAttrs) > 0 {
		opts = append(opts, resource.WithAttributes(customAttrs...))
	}

	res, err := resource.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// InitProvider initializes the OpenTelemetry tracer provider exporting over
// OTLP/HTTP. When traceID is valid, every root span of the session uses it.
//
// The HTTP client honors HTTP_PROXY, HTTPS_PROXY, and NO_PROXY through Go's
// standard net/http transport.
func InitProvider(cfg *config.OTELConfig, versionInfo string, traceID trace.TraceID) (*sdktrace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	endpoint := cfg.Endpoint()

	log.Printf("OTEL Configuration:")
	log.Printf("  Service Name: %s", cfg.ServiceName)
	log.Printf("  Endpoint: %s", endpoint)
	if cfg.ResourceAttributes != "" {
		log.Printf("  Resource Attributes: %s", cfg.ResourceAttributes)
	}

	exporter, err := otlptracehttp.New(ctx,
		endpointOption(endpoint),
		otlptracehttp.WithInsecure(),
		otlptracehttp.WithTimeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	res, err := Resource(ctx, cfg, versionInfo)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	}
	if traceID.IsValid() {
		opts = append(opts, sdktrace.WithIDGenerator(NewFixedTraceIDGenerator(traceID)))
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

// ShutdownProvider gracefully shuts down the tracer provider, flushing any remaining spans.
func ShutdownProvider(tp *sdktrace.TracerProvider, ctx context.Context) error {
	if tp == nil {
		return nil
	}

	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}

	return nil
}
