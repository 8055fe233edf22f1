package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Endpoint       string
	Headers        string
	ServiceName    string
	ServiceVersion string
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// Provider owns the tracer provider lifecycle behind an OTel sink.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
}

func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracerProvider == nil {
		return nil
	}
	if err := p.tracerProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracer shutdown: %w", err)
	}
	return nil
}

// Setup wires an OTLP HTTP trace exporter and returns a sink emitting one
// span per recorded event. A nil provider with a Noop sink is returned when
// no endpoint is configured.
func Setup(ctx context.Context, cfg Config, logger *slog.Logger) (*Provider, Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled() {
		return nil, Noop{}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(strings.TrimRight(cfg.Endpoint, "/")+"/v1/traces"),
		otlptracehttp.WithHeaders(parseHeaders(cfg.Headers)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	sink := &OTelSink{
		tracer: tracerProvider.Tracer("databot"),
		logger: logger,
	}
	return &Provider{tracerProvider: tracerProvider}, sink, nil
}

// OTelSink emits one short span per event, tags as attributes.
type OTelSink struct {
	tracer trace.Tracer
	logger *slog.Logger
}

func NewOTelSink(tracer trace.Tracer, logger *slog.Logger) *OTelSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &OTelSink{tracer: tracer, logger: logger}
}

func (s *OTelSink) RecordEvent(ctx context.Context, name string, tags map[string]string, metadata map[string]any) {
	if s == nil || s.tracer == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	attrs := make([]attribute.KeyValue, 0, len(tags)+len(metadata))
	for k, v := range tags {
		attrs = append(attrs, attribute.String("tag."+k, v))
	}
	for k, v := range metadata {
		attrs = append(attrs, attribute.String("meta."+k, fmt.Sprintf("%v", v)))
	}
	_, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	span.End()
}

func (s *OTelSink) RecordFeedback(ctx context.Context, runID string, score int, comment string, categories []string) {
	if s == nil || s.tracer == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	attrs := []attribute.KeyValue{
		attribute.Int("feedback.score", score),
	}
	runID = strings.TrimSpace(runID)
	if runID == "" {
		// Degraded: still recorded, just not attachable to a trace.
		attrs = append(attrs, attribute.Bool("feedback.unattached", true))
	} else {
		attrs = append(attrs, attribute.String("feedback.run_id", runID))
	}
	if strings.TrimSpace(comment) != "" {
		attrs = append(attrs, attribute.String("feedback.comment", comment))
	}
	if len(categories) > 0 {
		attrs = append(attrs, attribute.StringSlice("feedback.categories", categories))
	}
	_, span := s.tracer.Start(ctx, "user_feedback", trace.WithAttributes(attrs...))
	span.End()
}

func parseHeaders(s string) map[string]string {
	headers := make(map[string]string)
	if s == "" {
		return headers
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			headers[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}
	return headers
}
