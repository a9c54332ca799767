// Package tracing configures the OpenTelemetry tracer provider. With no
// endpoint configured every tracer is a no-op.
package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// InstrumentationName is the tracer name used across the module.
const InstrumentationName = "github.com/nextlevelbuilder/webpilot"

const previewMaxLen = 500

// Span attribute keys.
const (
	AttrRunID      = attribute.Key("webpilot.run_id")
	AttrSession    = attribute.Key("webpilot.session")
	AttrTurn       = attribute.Key("webpilot.turn")
	AttrToolName   = attribute.Key("webpilot.tool.name")
	AttrToolCallID = attribute.Key("webpilot.tool.call_id")
	AttrBackend    = attribute.Key("webpilot.backend")
	AttrStatus     = attribute.Key("webpilot.status")
	AttrPreview    = attribute.Key("webpilot.output_preview")

	AttrModel        = attribute.Key("gen_ai.request.model")
	AttrSystem       = attribute.Key("gen_ai.system")
	AttrInputTokens  = attribute.Key("gen_ai.usage.input_tokens")
	AttrOutputTokens = attribute.Key("gen_ai.usage.output_tokens")
	AttrFinish       = attribute.Key("gen_ai.response.finish_reason")
)

// Config configures the OTLP exporter.
type Config struct {
	Endpoint    string            `json:"endpoint,omitempty"` // e.g. "localhost:4317"; empty disables tracing
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"` // skip TLS for local collectors
	ServiceName string            `json:"serviceName,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// Shutdown flushes and stops the provider.
type Shutdown func(context.Context) error

// Setup installs a global tracer provider for cfg and returns it with its
// shutdown function.
func Setup(ctx context.Context, cfg Config, version string) (trace.TracerProvider, Shutdown, error) {
	if cfg.Endpoint == "" {
		tp := noop.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp, func(context.Context) error { return nil }, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "webpilot"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(version),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("otel resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Protocol {
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		exporter, err = otlptracegrpc.New(ctx, opts...)
	default:
		return nil, nil, fmt.Errorf("otel: unknown protocol %q (want grpc or http)", cfg.Protocol)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("otel exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(100),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("otel tracing enabled", "endpoint", cfg.Endpoint, "protocol", cfg.Protocol, "service", serviceName)

	return tp, func(ctx context.Context) error {
		slog.Info("otel exporter shutting down")
		return tp.Shutdown(ctx)
	}, nil
}

// Tracer returns the module tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(InstrumentationName)
}

// Preview truncates s for use as a span attribute.
func Preview(s string) string {
	if len(s) <= previewMaxLen {
		return s
	}
	cut := previewMaxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
