// Package otel provides OpenTelemetry tracer provider initialization and management.
package otel

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"github.com/mrzor/exec-tracer/internal/config"
	"github.com/mrzor/exec-tracer/internal/log"
)

// exportTimeout bounds a single OTLP request.
const exportTimeout = 10 * time.Second

// logProxy reports the proxy the HTTP exporter will go through, since a
// collector unreachable through a proxy only shows up on first export.
func logProxy() {
	for _, name := range []string{"HTTPS_PROXY", "https_proxy", "HTTP_PROXY", "http_proxy"} {
		if v := os.Getenv(name); v != "" {
			log.Debug("otlp exporter uses proxy", "var", name, "proxy", v)
			return
		}
	}
}

// exporterOptions translates the environment configuration into exporter
// options. An endpoint with a scheme is used as a URL; a bare host:port is
// plain HTTP.
func exporterOptions(cfg *config.OTELConfig) []otlptracehttp.Option {
	opts := []otlptracehttp.Option{otlptracehttp.WithTimeout(exportTimeout)}
	if cfg.EndpointIsURL() {
		opts = append(opts, otlptracehttp.WithEndpointURL(cfg.GetEndpoint()))
	} else {
		opts = append(opts,
			otlptracehttp.WithEndpoint(cfg.GetEndpoint()),
			otlptracehttp.WithInsecure(),
		)
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
	}
	return opts
}

// InitProvider initializes the OpenTelemetry tracer provider exporting over
// OTLP/HTTP. The HTTP client honors HTTP_PROXY, HTTPS_PROXY and NO_PROXY.
// opts are appended to the provider options.
func InitProvider(ctx context.Context, cfg *config.OTELConfig, version string, opts ...sdktrace.TracerProviderOption) (*sdktrace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(ctx, exportTimeout)
	defer cancel()

	log.Debug("otel configuration",
		"service", cfg.ServiceName,
		"endpoint", cfg.GetEndpoint(),
		"resource_attributes", cfg.ResourceAttributes,
	)
	logProxy()

	exporter, err := otlptracehttp.New(ctx, exporterOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	attrs := append([]resource.Option{
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(version),
		),
		resource.WithHost(),
	}, resource.WithAttributes(cfg.ParseResourceAttributes()...))

	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	}, opts...)...), nil
}

// ShutdownProvider gracefully shuts down the tracer provider, flushing any remaining spans.
func ShutdownProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown tracer provider: %w", err)
	}
	return nil
}
