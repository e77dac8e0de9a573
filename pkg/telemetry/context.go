package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the logger, tracer, metrics and event publisher of one
// driver. It travels in the context so the launch path can reach it without
// threading it through every call.
type Telemetry struct {
	Logger  *Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config
}

type telemetryKey struct{}

// NewTelemetry validates cfg and builds every component. Components built
// before a failure are released.
func NewTelemetry(cfg *Config) (_ *Telemetry, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	t := &Telemetry{Config: cfg}
	defer func() {
		if err != nil {
			_ = t.Shutdown(context.Background())
		}
	}()

	if t.Logger, err = NewLogger(cfg.Logging); err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	if t.Tracer, err = NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion, cfg.Environment); err != nil {
		return nil, fmt.Errorf("tracing: %w", err)
	}
	if t.Metrics, err = NewMetrics(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	if t.Events, err = NewEventPublisher(cfg.Events); err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	return t, nil
}

// WithContext stores t and its logger in ctx.
func (t *Telemetry) WithContext(ctx context.Context) context.Context {
	return t.Logger.WithContext(context.WithValue(ctx, telemetryKey{}, t))
}

// FromTelemetryContext returns the Telemetry stored in ctx, or nil.
func FromTelemetryContext(ctx context.Context) *Telemetry {
	t, _ := ctx.Value(telemetryKey{}).(*Telemetry)
	return t
}

// Shutdown drains pending events first so subscribers still see them, then
// stops tracing and metrics. The logger is closed last. Components that were
// never built are skipped.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.Events != nil {
		errs = append(errs, t.Events.Shutdown(ctx))
	}
	if t.Tracer != nil {
		errs = append(errs, t.Tracer.Shutdown(ctx))
	}
	if t.Metrics != nil {
		errs = append(errs, t.Metrics.Shutdown(ctx))
	}
	if t.Logger != nil {
		errs = append(errs, t.Logger.Close())
	}
	return errors.Join(errs...)
}

// StartMetricsServer serves metrics when they are enabled.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer(t.Logger)
}

// InstrumentedContext is one traced, timed operation. Ctx carries the span
// and a logger annotated for the operation.
type InstrumentedContext struct {
	Ctx    context.Context
	Span   trace.Span
	Logger *Logger
	Start  time.Time

	onEnd func(err error, elapsed time.Duration)
	ended bool
}

// StartOperation begins a span named operation. Without Telemetry in ctx
// only the timing and the context logger are kept.
func StartOperation(ctx context.Context, operation string, attrs ...attribute.KeyValue) *InstrumentedContext {
	ic := &InstrumentedContext{Ctx: ctx, Start: time.Now()}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		ic.Logger = FromContext(ctx)
		return ic
	}

	ic.Ctx, ic.Span = tel.Tracer.StartSpan(ctx, operation, attrs...)
	ic.Logger = tel.Logger.WithField("operation", operation).WithSpan(ic.Span)
	return ic
}

// End records the outcome on the span and logs the elapsed time. Only the
// first call has an effect.
func (ic *InstrumentedContext) End(err error) {
	if ic.ended {
		return
	}
	ic.ended = true
	elapsed := time.Since(ic.Start)

	if ic.Span != nil {
		if err != nil {
			RecordError(ic.Span, err)
		} else {
			RecordSuccess(ic.Span)
		}
		ic.Span.End()
	}
	if ic.onEnd != nil {
		ic.onEnd(err, elapsed)
	}

	if err != nil {
		ic.Logger.WithError(err).Debugf("Operation failed after %s", elapsed)
		return
	}
	ic.Logger.Debugf("Operation finished in %s", elapsed)
}

// StartLaunch instruments one evaluator launch: a launch span, a logger
// carrying the evaluator ID and process type, the launch counters, and a
// launch_failed event when it ends in error. End must be called on every
// path.
func StartLaunch(ctx context.Context, evaluatorID, processType string) *InstrumentedContext {
	ic := &InstrumentedContext{Start: time.Now()}

	tel := FromTelemetryContext(ctx)
	if tel == nil {
		ic.Logger = FromContext(ctx).WithEvaluatorID(evaluatorID).WithProcessType(processType)
		ic.Ctx = ic.Logger.WithContext(ctx)
		return ic
	}

	ctx, ic.Span = tel.Tracer.StartLaunchSpan(ctx, evaluatorID)
	ic.Span.SetAttributes(AttrProcessType.String(processType))
	ic.Logger = tel.Logger.WithEvaluatorID(evaluatorID).WithProcessType(processType).WithSpan(ic.Span)
	ic.Ctx = ic.Logger.WithContext(ctx)

	tel.Metrics.RecordLaunchStarted(processType)
	ic.onEnd = func(err error, elapsed time.Duration) {
		status := "dispatched"
		if err != nil {
			status = "failed"
			_ = tel.Events.PublishLaunchFailed(evaluatorID, err.Error())
		}
		tel.Metrics.RecordLaunchCompleted(status, elapsed)
	}
	return ic
}

// RecordProviderCall runs fn as one provider call. With Telemetry in ctx the
// call gets a span, and its duration or failure is counted.
func RecordProviderCall(ctx context.Context, providerName string, fn func(ctx context.Context) error) error {
	tel := FromTelemetryContext(ctx)
	if tel == nil {
		return fn(ctx)
	}

	ctx, span := tel.Tracer.StartProviderSpan(ctx, providerName)
	defer span.End()

	start := time.Now()
	if err := fn(ctx); err != nil {
		tel.Metrics.RecordProviderError(providerName)
		RecordError(span, err)
		return err
	}
	tel.Metrics.RecordProviderMerge(providerName, time.Since(start))
	RecordSuccess(span)
	return nil
}
