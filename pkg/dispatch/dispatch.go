package dispatch

import (
	"context"
	"errors"

	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/launch"
)

// Dispatcher hands a launch descriptor to whatever starts the process. It has
// the same method set as evaluator.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, d *launch.Descriptor) error
}

// Func adapts a function to the Dispatcher interface.
type Func func(ctx context.Context, d *launch.Descriptor) error

// Dispatch calls f.
func (f Func) Dispatch(ctx context.Context, d *launch.Descriptor) error {
	return f(ctx, d)
}

// Name returns the metrics label of a dispatcher.
func Name(d Dispatcher) string {
	if n, ok := d.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}

// dispatchError builds a DISPATCH_FAILED error. Retryable failures are
// transient, everything else is permanent.
func dispatchError(evaluatorID, operation, message string, err error, retryable bool) *engine.EngineError {
	var ee *engine.EngineError
	if retryable {
		ee = engine.NewTransientError(message, err)
	} else {
		ee = engine.NewPermanentError(message, err)
	}
	return ee.WithCode(engine.ErrCodeDispatchFailed).
		WithResource(evaluatorID).
		WithOperation(operation)
}

// contextError maps a cancelled or expired context to an engine error.
func contextError(evaluatorID, operation string, err error) *engine.EngineError {
	if errors.Is(err, context.DeadlineExceeded) {
		return engine.NewTransientError("dispatch timed out", err).
			WithCode(engine.ErrCodeTimeout).
			WithResource(evaluatorID).
			WithOperation(operation)
	}
	return dispatchError(evaluatorID, operation, "dispatch cancelled", err, true)
}

func requireDescriptor(d *launch.Descriptor) error {
	if d == nil {
		return engine.NewPermanentError("nil launch descriptor", nil).
			WithCode(engine.ErrCodeValidation).
			WithOperation("dispatch")
	}
	return nil
}
