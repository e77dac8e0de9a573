// Package telemetry provides the observability stack of the launch driver.
//
// It combines structured logging (zerolog), distributed tracing
// (OpenTelemetry), metrics (Prometheus) and an evaluator lifecycle event
// publisher behind one Telemetry value.
//
// # Usage
//
// Initialize telemetry at startup and attach it to the context:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	ctx = tel.WithContext(ctx)
//
// # Launch Instrumentation
//
// A launch is wrapped by StartLaunch. It opens a span tagged with the
// evaluator identifier and counts the launch by process type. End records
// the duration and outcome:
//
//	ic := telemetry.StartLaunch(ctx, "e1", "managed")
//	defer func() { ic.End(err) }()
//	err = dispatcher.Dispatch(ic.Ctx, descriptor)
//
// Provider calls made while composing the root context go through
// RecordProviderCall, which adds a child span and per-provider metrics.
//
// # Events
//
// The publisher delivers evaluator.allocated, evaluator.launch_requested,
// evaluator.launch_failed, evaluator.running, evaluator.closed,
// provider.failed and policy.violation events to subscribers. With
// EnableAsync the events are buffered and delivered in publish order by one
// goroutine; otherwise they are delivered on the publishing goroutine.
//
// # Exporters
//
// Traces can be exported with otlp (gRPC) or stdout, or generated and
// dropped with none.
package telemetry
