package dispatch

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"

	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/stores"
)

// LaunchStore is the part of the ledger store a Ledger writes to.
type LaunchStore interface {
	CreateLaunch(ctx context.Context, l *stores.Launch) error
	UpdateLaunchStatus(ctx context.Context, evaluatorID string, status stores.LaunchStatus, errMsg *string) error
}

// Ledger persists each descriptor before forwarding it and records the
// outcome afterwards. An evaluator id is accepted once; a second descriptor
// for the same evaluator fails with ALREADY_LAUNCHED without reaching next.
type Ledger struct {
	store  LaunchStore
	next   Dispatcher
	logger zerolog.Logger
}

// NewLedger wraps next with a launch ledger.
func NewLedger(store LaunchStore, next Dispatcher, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		next:   next,
		logger: logger.With().Str("component", "launch-ledger").Logger(),
	}
}

// Name returns "ledger>" followed by the next dispatcher's name.
func (l *Ledger) Name() string { return "ledger>" + Name(l.next) }

// Dispatch records d, forwards it and stores the result.
func (l *Ledger) Dispatch(ctx context.Context, d *launch.Descriptor) error {
	if err := requireDescriptor(d); err != nil {
		return err
	}

	data, err := json.Marshal(d)
	if err != nil {
		return dispatchError(d.Identifier, "record", "failed to encode descriptor", err, false)
	}

	record := &stores.Launch{
		EvaluatorID: d.Identifier,
		ProcessType: string(d.Process.Type),
		MemoryMB:    d.Process.MemoryMB,
		FileCount:   len(d.Files),
		Dispatcher:  Name(l.next),
		Status:      stores.LaunchStatusPending,
		Descriptor:  string(data),
	}
	if err := l.store.CreateLaunch(ctx, record); err != nil {
		if engine.HasCode(err, engine.ErrCodeAlreadyExists) {
			return engine.NewConflictError("evaluator already recorded a launch", err).
				WithCode(engine.ErrCodeAlreadyLaunched).
				WithResource(d.Identifier).
				WithOperation("record")
		}
		return dispatchError(d.Identifier, "record", "failed to record launch", err, true)
	}

	dispatchErr := l.next.Dispatch(ctx, d)

	status := stores.LaunchStatusDispatched
	var msg *string
	if dispatchErr != nil {
		status = stores.LaunchStatusFailed
		text := dispatchErr.Error()
		msg = &text
	}

	// The outcome is recorded even when ctx was what failed the dispatch.
	if err := l.store.UpdateLaunchStatus(context.WithoutCancel(ctx), d.Identifier, status, msg); err != nil {
		l.logger.Error().Err(err).
			Str("evaluator_id", d.Identifier).
			Str("status", string(status)).
			Msg("Failed to record launch outcome")
	}

	return dispatchErr
}
