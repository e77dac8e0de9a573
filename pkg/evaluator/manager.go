package evaluator

import (
	"context"
	"errors"
	"sync"

	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/telemetry"
)

// Dispatcher hands a launch descriptor to whatever starts the process.
type Dispatcher interface {
	Dispatch(ctx context.Context, d *launch.Descriptor) error
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, d *launch.Descriptor) error

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, d *launch.Descriptor) error {
	return f(ctx, d)
}

// dispatcherName returns the metrics label of a dispatcher.
func dispatcherName(d Dispatcher) string {
	if n, ok := d.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}

// Manager owns the lifecycle of one evaluator. It accepts at most one launch
// descriptor; a second launch fails with ErrAlreadyLaunched whether the first
// one succeeded or not.
type Manager struct {
	id         string
	dispatcher Dispatcher
	tel        *telemetry.Telemetry
	logger     *telemetry.Logger

	mu         sync.Mutex
	state      State
	descriptor *launch.Descriptor
	lastErr    error
}

// NewManager creates a manager in StateAllocated. tel may be nil.
func NewManager(id string, dispatcher Dispatcher, tel *telemetry.Telemetry) *Manager {
	logger := telemetry.Nop()
	if tel != nil {
		logger = tel.Logger.NewComponentLogger("evaluator-manager")
		tel.Metrics.RecordTransition("", string(StateAllocated))
	}
	return &Manager{
		id:         id,
		dispatcher: dispatcher,
		tel:        tel,
		logger:     logger.WithEvaluatorID(id),
		state:      StateAllocated,
	}
}

// ID returns the evaluator identifier.
func (m *Manager) ID() string {
	return m.id
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Descriptor returns the accepted launch descriptor, or nil before launch.
func (m *Manager) Descriptor() *launch.Descriptor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.descriptor
}

// Err returns the error that moved the evaluator to StateFailed.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// OnResourceLaunch accepts the launch descriptor and dispatches it. The state
// moves to StateSubmitted before the dispatcher is called, so a concurrent
// second launch fails immediately. A dispatch error moves the state to
// StateFailed.
func (m *Manager) OnResourceLaunch(ctx context.Context, d *launch.Descriptor) error {
	if d == nil {
		return engine.NewPermanentError("nil launch descriptor", nil).
			WithCode(engine.ErrCodeValidation).
			WithResource(m.id)
	}

	m.mu.Lock()
	switch {
	case m.state == StateClosed:
		m.mu.Unlock()
		return closedError(m.id)
	case m.state != StateAllocated:
		m.mu.Unlock()
		return alreadyLaunchedError(m.id)
	}
	m.transitionLocked(StateSubmitted)
	m.descriptor = d
	m.mu.Unlock()

	if m.tel != nil {
		_ = m.tel.Events.PublishLaunchRequested(m.id, string(d.Process.Type), len(d.Files))
	}

	err := m.dispatch(ctx, d)
	if err != nil {
		m.fail(err)
		return err
	}

	m.logger.Infof("Evaluator submitted with %s and %d files", d.Process, len(d.Files))
	return nil
}

func (m *Manager) dispatch(ctx context.Context, d *launch.Descriptor) error {
	name := dispatcherName(m.dispatcher)

	var err error
	if m.tel != nil {
		spanCtx, span := m.tel.Tracer.StartDispatchSpan(ctx, name, m.id)
		span.SetAttributes(
			telemetry.AttrProcessType.String(string(d.Process.Type)),
			telemetry.AttrResourceCount.Int(len(d.Files)),
		)
		ctx = spanCtx
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
		}()
	}

	err = m.dispatcher.Dispatch(ctx, d)
	if m.tel != nil {
		m.tel.Metrics.RecordDispatch(name, err)
	}
	if err == nil {
		return nil
	}

	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		ee = engine.NewTransientError("dispatch failed", err).
			WithCode(engine.ErrCodeDispatchFailed).
			WithResource(m.id).
			WithOperation("dispatch")
		err = ee
	}
	if m.tel != nil {
		m.tel.Metrics.RecordError(string(ee.Class), ee.Code)
	}
	return err
}

// Running records that the runtime reported the evaluator as started.
func (m *Manager) Running() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateSubmitted {
		return engine.NewConflictError("evaluator is not submitted", nil).
			WithCode(engine.ErrCodeInvalidState).
			WithResource(m.id).
			WithDetail("state", string(m.state))
	}
	m.transitionLocked(StateRunning)

	if m.tel != nil {
		_ = m.tel.Events.PublishRunning(m.id)
	}
	m.logger.Info("Evaluator running")
	return nil
}

// Fail records a failure reported by the runtime and publishes it.
func (m *Manager) Fail(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.state.CanTransitionTo(StateFailed) {
		return engine.NewConflictError("evaluator cannot fail from its state", err).
			WithCode(engine.ErrCodeInvalidState).
			WithResource(m.id).
			WithDetail("state", string(m.state))
	}
	m.failLocked(err)

	if m.tel != nil {
		reason := "unknown"
		if err != nil {
			reason = err.Error()
		}
		_ = m.tel.Events.PublishLaunchFailed(m.id, reason)
	}
	return nil
}

func (m *Manager) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state.CanTransitionTo(StateFailed) {
		m.failLocked(err)
	}
}

func (m *Manager) failLocked(err error) {
	m.transitionLocked(StateFailed)
	m.lastErr = err
	m.logger.WithError(err).Error("Evaluator failed")
}

// Close releases the evaluator. Closing twice is a no-op.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == StateClosed {
		return nil
	}
	previous := m.state
	m.transitionLocked(StateClosed)

	if m.tel != nil {
		_ = m.tel.Events.PublishClosed(m.id, string(previous))
	}
	m.logger.Infof("Evaluator closed from state %s", previous)
	return nil
}

func (m *Manager) transitionLocked(next State) {
	if m.tel != nil {
		m.tel.Metrics.RecordTransition(string(m.state), string(next))
	}
	m.logger.Debugf("Evaluator state %s -> %s", m.state, next)
	m.state = next
}
