package telemetry_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/launchpad/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	ctx := tel.WithContext(context.Background())

	logger := telemetry.FromContext(ctx)
	logger.Info("Driver started")

	// Output varies, no output specified
}

// Example_eventPublishing demonstrates event publishing and subscription.
func Example_eventPublishing() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Printf("%s %s\n", event.Type, event.EvaluatorID)
	}, nil)

	_ = tel.Events.PublishAllocated("e1")
	_ = tel.Events.PublishLaunchRequested("e1", "managed", 2)
	_ = tel.Events.PublishClosed("e1", "SUBMITTED")

	// Output:
	// evaluator.allocated e1
	// evaluator.launch_requested e1
	// evaluator.closed e1
}

// Example_eventFiltering demonstrates subscriber filters.
func Example_eventFiltering() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Println(event.Message)
	}, telemetry.FilterByLevel(telemetry.EventLevelError))

	_ = tel.Events.PublishAllocated("e1")
	_ = tel.Events.PublishLaunchFailed("e1", "dispatcher unavailable")

	// Output: Launch of evaluator e1 failed: dispatcher unavailable
}

// Example_launchInstrumentation demonstrates wrapping a launch.
func Example_launchInstrumentation() {
	cfg := telemetry.DefaultConfig()
	cfg.Events.EnableAsync = false
	cfg.Logging.Level = "error"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	tel.Events.Subscribe(func(event telemetry.Event) {
		fmt.Println(event.Type)
	}, telemetry.FilterByEvaluatorID("e2"))

	ctx := tel.WithContext(context.Background())

	ic := telemetry.StartLaunch(ctx, "e1", "managed")
	ic.End(nil)

	ic = telemetry.StartLaunch(ctx, "e2", "alternate")
	ic.End(errors.New("no capacity"))

	// Output: evaluator.launch_failed
}
