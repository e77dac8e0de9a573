package evaluator

import (
	"github.com/openfroyo/launchpad/pkg/engine"
)

// Sentinel errors for errors.Is. Engine errors match on class and code, so a
// detailed error returned by this package matches the sentinel with the same
// code. The sentinels themselves must never be modified.
var (
	// ErrAlreadyLaunched is returned by a second launch of the same evaluator.
	ErrAlreadyLaunched = &engine.EngineError{
		Class:   engine.ErrorClassConflict,
		Code:    engine.ErrCodeAlreadyLaunched,
		Message: "evaluator already launched",
	}

	// ErrProcessAlreadyAssigned is returned by SetType after SetProcess.
	ErrProcessAlreadyAssigned = &engine.EngineError{
		Class:   engine.ErrorClassConflict,
		Code:    engine.ErrCodeProcessAssigned,
		Message: "process already assigned",
	}

	// ErrSealed is returned when adding resources after launch.
	ErrSealed = &engine.EngineError{
		Class:   engine.ErrorClassConflict,
		Code:    engine.ErrCodeSealed,
		Message: "resources sealed",
	}

	// ErrClosed is returned when using a closed evaluator.
	ErrClosed = &engine.EngineError{
		Class:   engine.ErrorClassConflict,
		Code:    engine.ErrCodeClosed,
		Message: "evaluator closed",
	}

	// ErrBadConfiguration is returned when a fragment cannot be serialized.
	ErrBadConfiguration = &engine.EngineError{
		Class:   engine.ErrorClassPermanent,
		Code:    engine.ErrCodeBadConfiguration,
		Message: "bad evaluator configuration",
	}

	// ErrConfigurationMerge is returned when a provider fragment cannot be
	// merged into the root context.
	ErrConfigurationMerge = &engine.EngineError{
		Class:   engine.ErrorClassPermanent,
		Code:    engine.ErrCodeConfigMerge,
		Message: "configuration merge failed",
	}
)

func alreadyLaunchedError(id string) *engine.EngineError {
	return engine.NewConflictError("evaluator already launched", nil).
		WithCode(engine.ErrCodeAlreadyLaunched).
		WithResource(id)
}

func closedError(id string) *engine.EngineError {
	return engine.NewConflictError("evaluator closed", nil).
		WithCode(engine.ErrCodeClosed).
		WithResource(id)
}

func badConfigurationError(id, fragment string, err error) *engine.EngineError {
	return engine.NewPermanentError("bad evaluator configuration", err).
		WithCode(engine.ErrCodeBadConfiguration).
		WithResource(id).
		WithOperation("serialize").
		WithDetail("fragment", fragment)
}

func mergeError(provider string, err error) *engine.EngineError {
	return engine.NewPermanentError("failed to merge configuration from provider "+provider, err).
		WithCode(engine.ErrCodeConfigMerge).
		WithResource(provider).
		WithOperation("compose")
}
