package telemetry

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/openfroyo/launchpad/pkg/engine"
)

// Span attribute keys.
var (
	AttrEvaluatorID   = attribute.Key("evaluator.id")
	AttrProcessType   = attribute.Key("evaluator.process_type")
	AttrResourceCount = attribute.Key("evaluator.resource_count")
	AttrProviderName  = attribute.Key("provider.name")
	AttrDispatcher    = attribute.Key("dispatch.chain")
	AttrErrorClass    = attribute.Key("error.class")
	AttrErrorCode     = attribute.Key("error.code")
)

// Tracer starts the spans of the launch path. A disabled tracer hands out
// non-recording spans and installs nothing globally.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer creates a tracer. When tracing is enabled it becomes the global
// tracer provider and W3C trace context is propagated.
func NewTracer(cfg TracingConfig, serviceName, serviceVersion, environment string) (*Tracer, error) {
	if !cfg.Enabled {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer(serviceName)}, nil
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			attribute.String("deployment.environment", environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	}

	exporter, err := newSpanExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", cfg.Exporter, err)
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter,
			sdktrace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			sdktrace.WithExportTimeout(cfg.ExportTimeout),
		))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Tracer{
		provider: provider,
		tracer:   provider.Tracer(serviceName),
	}, nil
}

// newSpanExporter returns nil for the "none" exporter: spans are sampled and
// carried in logs but never exported. The stdout exporter writes to stderr
// so it never interleaves with launch messages on standard output.
func newSpanExporter(cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		if len(cfg.Headers) > 0 {
			opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
		}
		if cfg.ExportTimeout > 0 {
			opts = append(opts, otlptracegrpc.WithTimeout(cfg.ExportTimeout))
		}
		return otlptracegrpc.New(context.Background(), opts...)
	case "stdout":
		return stdouttrace.New(stdouttrace.WithWriter(os.Stderr))
	case "none":
		return nil, nil
	}
	return nil, errors.New("unsupported exporter")
}

// StartSpan starts a span named operation.
func (t *Tracer) StartSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, operation, trace.WithAttributes(attrs...))
}

// StartLaunchSpan starts the span covering one evaluator launch.
func (t *Tracer) StartLaunchSpan(ctx context.Context, evaluatorID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "evaluator.launch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrEvaluatorID.String(evaluatorID)),
	)
}

// StartProviderSpan starts a span for one provider call during composition.
func (t *Tracer) StartProviderSpan(ctx context.Context, providerName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "provider.configuration",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(AttrProviderName.String(providerName)),
	)
}

// StartDispatchSpan starts a span for handing a descriptor to a dispatcher
// chain.
func (t *Tracer) StartDispatchSpan(ctx context.Context, chain, evaluatorID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "dispatch "+chain,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			AttrDispatcher.String(chain),
			AttrEvaluatorID.String(evaluatorID),
		),
	)
}

// RecordError marks span as failed. Classified errors also record their
// class and code.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		span.SetAttributes(AttrErrorClass.String(string(ee.Class)))
		if ee.Code != "" {
			span.SetAttributes(AttrErrorCode.String(ee.Code))
		}
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// RecordSuccess marks the span as successful.
func RecordSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Shutdown flushes pending spans and stops the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
