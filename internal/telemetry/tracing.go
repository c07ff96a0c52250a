/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	pinningTracer = "github.com/friendsincode/collexions/pinning"
	catalogTracer = "github.com/friendsincode/collexions/catalog"
)

// Span attributes recorded on pinning runs and Plex calls.
const (
	AttrRunID       = attribute.Key("collexions.run_id")
	AttrDryRun      = attribute.Key("collexions.dry_run")
	AttrMode        = attribute.Key("collexions.mode")
	AttrLibrary     = attribute.Key("collexions.library")
	AttrEligible    = attribute.Key("collexions.eligible")
	AttrPicks       = attribute.Key("collexions.picks")
	AttrWithheld    = attribute.Key("collexions.withheld")
	AttrCollections = attribute.Key("plex.collections")
	AttrCollection  = attribute.Key("plex.collection")

	attrInstanceID    = attribute.Key("service.instance.id")
	attrLedgerBackend = attribute.Key("collexions.ledger_backend")
)

// TracerConfig contains configuration for OpenTelemetry tracing.
type TracerConfig struct {
	ServiceName    string
	ServiceVersion string
	InstanceID     string
	LedgerBackend  string
	OTLPEndpoint   string // e.g., "localhost:4317"
	Enabled        bool
	SampleRate     float64 // 0.0 to 1.0
}

// TracerProvider wraps the OpenTelemetry tracer provider.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	logger   zerolog.Logger
}

// InitTracer initializes OpenTelemetry tracing with OTLP exporter.
func InitTracer(ctx context.Context, cfg TracerConfig, logger zerolog.Logger) (*TracerProvider, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "collexions"
	}
	if !cfg.Enabled {
		logger.Info().Msg("tracing disabled")
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		return &TracerProvider{logger: logger}, nil
	}

	logger.Info().
		Str("service_name", cfg.ServiceName).
		Str("otlp_endpoint", cfg.OTLPEndpoint).
		Float64("sample_rate", cfg.SampleRate).
		Msg("initializing OpenTelemetry tracing")

	res, err := resource.New(ctx, resource.WithAttributes(resourceAttributes(cfg)...))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
		otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		otlptracegrpc.WithTimeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger.Info().Msg("OpenTelemetry tracing initialized successfully")
	return &TracerProvider{provider: tp, logger: logger}, nil
}

// resourceAttributes describes this process; empty optional fields are omitted.
func resourceAttributes(cfg TracerConfig) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}
	if cfg.InstanceID != "" {
		attrs = append(attrs, attrInstanceID.String(cfg.InstanceID))
	}
	if cfg.LedgerBackend != "" {
		attrs = append(attrs, attrLedgerBackend.String(cfg.LedgerBackend))
	}
	return attrs
}

// samplerFor maps a 0..1 rate to a sampler; out-of-range rates clamp.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1.0:
		return sdktrace.AlwaysSample()
	case rate <= 0.0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.TraceIDRatioBased(rate)
	}
}

// Shutdown gracefully shuts down the tracer provider.
func (tp *TracerProvider) Shutdown(ctx context.Context) error {
	if tp.provider == nil {
		return nil
	}

	tp.logger.Info().Msg("shutting down tracer provider")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := tp.provider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}

	tp.logger.Info().Msg("tracer provider shutdown complete")
	return nil
}

// StartRunSpan opens the root span of a pinning run.
func StartRunSpan(ctx context.Context, runID string, dryRun bool) (context.Context, trace.Span) {
	return otel.Tracer(pinningTracer).Start(ctx, "pinning.run",
		trace.WithAttributes(AttrRunID.String(runID), AttrDryRun.Bool(dryRun)))
}

// StartLibrarySpan opens the span covering one library within a run.
func StartLibrarySpan(ctx context.Context, library string, dryRun bool) (context.Context, trace.Span) {
	return otel.Tracer(pinningTracer).Start(ctx, "pinning.library",
		trace.WithAttributes(AttrLibrary.String(library), AttrDryRun.Bool(dryRun)))
}

// StartCatalogSpan opens a client span for a Plex operation such as
// "collections" or "promote".
func StartCatalogSpan(ctx context.Context, op, library string) (context.Context, trace.Span) {
	return otel.Tracer(catalogTracer).Start(ctx, "plex."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrLibrary.String(library)))
}

// SetSelectionAttributes records the outcome of the selection engine.
func SetSelectionAttributes(span trace.Span, mode string, eligible, picks, withheld int) {
	span.SetAttributes(
		AttrMode.String(mode),
		AttrEligible.Int(eligible),
		AttrPicks.Int(picks),
		AttrWithheld.Int(withheld),
	)
}

// EndSpan records err, if any, and ends span.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
