package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/openfroyo/launchpad/pkg/config"
	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/providers"
	"github.com/openfroyo/launchpad/pkg/telemetry"
)

// AllocatedEvaluator is an evaluator that has been handed to the driver and
// can be launched once with a context and an optional service and task.
//
// An AllocatedEvaluator has a single logical owner. Its methods are safe for
// concurrent use, but concurrent launches are rejected rather than ordered.
type AllocatedEvaluator struct {
	id            string
	applicationID string
	remoteID      string

	manager    *Manager
	providers  *providers.Set
	serializer *config.Serializer
	tel        *telemetry.Telemetry
	logger     *telemetry.Logger

	mu              sync.Mutex
	process         launch.ProcessDescriptor
	processAssigned bool
	files           *launch.ResourceSet
	libraries       *launch.ResourceSet
	launched        bool
}

// ID returns the evaluator identifier.
func (e *AllocatedEvaluator) ID() string {
	return e.id
}

// String implements fmt.Stringer.
func (e *AllocatedEvaluator) String() string {
	return fmt.Sprintf("AllocatedEvaluator{ID='%s'}", e.id)
}

// Manager returns the lifecycle manager of the evaluator.
func (e *AllocatedEvaluator) Manager() *Manager {
	return e.manager
}

// Process returns the current process descriptor.
func (e *AllocatedEvaluator) Process() launch.ProcessDescriptor {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.process
}

// Descriptor returns the launch descriptor once the evaluator has launched.
func (e *AllocatedEvaluator) Descriptor() *launch.Descriptor {
	return e.manager.Descriptor()
}

// SetProcess replaces the process descriptor.
func (e *AllocatedEvaluator) SetProcess(p launch.ProcessDescriptor) error {
	if err := p.Validate(); err != nil {
		return engine.NewPermanentError("invalid process", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(e.id)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.launched {
		return alreadyLaunchedError(e.id)
	}
	e.process = p
	e.processAssigned = true
	return nil
}

// SetType assigns the default process for a coarse process type.
//
// Deprecated: use SetProcess. SetType fails with ErrProcessAlreadyAssigned
// once SetProcess has been called.
func (e *AllocatedEvaluator) SetType(kind launch.ProcessType) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.launched {
		return alreadyLaunchedError(e.id)
	}
	if e.processAssigned {
		return engine.NewConflictError("process already assigned with SetProcess", nil).
			WithCode(engine.ErrCodeProcessAssigned).
			WithResource(e.id).
			WithDetail("process", e.process.String())
	}

	e.logger.Warnf("SetType(%s) is deprecated, use SetProcess", kind)
	e.process = launch.NewProcess(kind)
	return nil
}

// AddFile adds a plain file to the evaluator's resources. Adding a path twice
// is a no-op. Once a launch has started it fails with ErrSealed.
func (e *AllocatedEvaluator) AddFile(path string) error {
	_, err := e.files.Add(path)
	return e.resourceError(err)
}

// AddLibrary adds a library to the evaluator's resources. Adding a path twice
// is a no-op.
func (e *AllocatedEvaluator) AddLibrary(path string) error {
	_, err := e.libraries.Add(path)
	return e.resourceError(err)
}

func (e *AllocatedEvaluator) resourceError(err error) error {
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		ee.WithDetail("evaluator", e.id)
	}
	return err
}

// SubmitContext launches the evaluator with a root context only.
func (e *AllocatedEvaluator) SubmitContext(ctx context.Context, contextConfig config.Configuration) error {
	return e.launch(ctx, contextConfig, nil, nil)
}

// SubmitContextAndService launches the evaluator with a root context and a
// service.
func (e *AllocatedEvaluator) SubmitContextAndService(ctx context.Context, contextConfig, serviceConfig config.Configuration) error {
	return e.launch(ctx, contextConfig, &serviceConfig, nil)
}

// SubmitContextAndTask launches the evaluator with a root context and a task.
func (e *AllocatedEvaluator) SubmitContextAndTask(ctx context.Context, contextConfig, taskConfig config.Configuration) error {
	return e.launch(ctx, contextConfig, nil, &taskConfig)
}

// SubmitContextAndServiceAndTask launches the evaluator with a root context,
// a service and a task.
func (e *AllocatedEvaluator) SubmitContextAndServiceAndTask(ctx context.Context, contextConfig, serviceConfig, taskConfig config.Configuration) error {
	return e.launch(ctx, contextConfig, &serviceConfig, &taskConfig)
}

// SubmitTask launches the evaluator with a task and a generated root context
// whose id is "RootContext_" followed by the evaluator identifier.
func (e *AllocatedEvaluator) SubmitTask(ctx context.Context, taskConfig config.Configuration) error {
	contextConfig, err := RootContext(e.id)
	if err != nil {
		return err
	}
	return e.launch(ctx, contextConfig, nil, &taskConfig)
}

// RootContext returns the default root context of an evaluator.
func RootContext(evaluatorID string) (config.Configuration, error) {
	return config.FromMap(map[string]interface{}{"id": "RootContext_" + evaluatorID})
}

// Close releases the evaluator. A closed evaluator cannot be launched.
func (e *AllocatedEvaluator) Close() error {
	return e.manager.Close()
}

// launch is the single routine behind every Submit method.
func (e *AllocatedEvaluator) launch(ctx context.Context, contextConfig config.Configuration, serviceConfig, taskConfig *config.Configuration) (err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.manager.State() == StateClosed {
		return closedError(e.id)
	}
	if e.launched {
		return alreadyLaunchedError(e.id)
	}

	switch {
	case e.tel == nil:
		ctx = e.logger.WithContext(ctx)
	case telemetry.FromTelemetryContext(ctx) == nil:
		ctx = e.tel.WithContext(ctx)
	}
	ic := telemetry.StartLaunch(ctx, e.id, string(e.process.Type))
	defer func() { ic.End(err) }()
	ctx = ic.Ctx

	// Resources are frozen before the descriptor reads them, so a concurrent
	// add either lands before the launch or fails with ErrSealed. They are
	// reopened if the evaluator is not launched after all.
	e.files.Seal()
	e.libraries.Seal()
	defer func() {
		if !e.launched {
			e.files.Unseal()
			e.libraries.Unseal()
		}
	}()

	descriptor, err := e.assemble(ctx, contextConfig, serviceConfig, taskConfig)
	if err != nil {
		e.reportAssemblyError(err)
		return err
	}

	err = e.manager.OnResourceLaunch(ctx, descriptor)
	if engine.HasCode(err, engine.ErrCodeClosed) {
		return err
	}
	e.launched = true
	return err
}

// assemble composes and serializes the fragments and builds the descriptor.
func (e *AllocatedEvaluator) assemble(ctx context.Context, contextConfig config.Configuration, serviceConfig, taskConfig *config.Configuration) (*launch.Descriptor, error) {
	logger := telemetry.FromContext(ctx)

	root, err := Compose(ctx, contextConfig, e.providers, e.process.Type)
	if err != nil {
		return nil, err
	}

	rootText, err := e.serializer.ToString(root)
	if err != nil {
		return nil, badConfigurationError(e.id, "context", err)
	}

	builder := launch.NewEvaluatorConfigBuilder().
		SetApplicationID(e.applicationID).
		SetDriverRemoteID(e.remoteID).
		SetEvaluatorID(e.id).
		SetRootContextConfig(rootText)

	if serviceConfig != nil {
		text, err := e.serializer.ToString(*serviceConfig)
		if err != nil {
			return nil, badConfigurationError(e.id, "service", err)
		}
		builder.SetRootServiceConfig(text)
	}

	if taskConfig != nil {
		text, err := e.serializer.ToString(*taskConfig)
		if err != nil {
			return nil, badConfigurationError(e.id, "task", err)
		}
		builder.SetTaskConfig(text)
	}

	evaluatorConfig, err := builder.Build()
	if err != nil {
		return nil, err
	}

	descriptor, err := launch.NewDescriptorBuilder().
		SetIdentifier(e.id).
		SetRemoteID(e.remoteID).
		SetEvaluatorConfig(evaluatorConfig).
		SetProcess(e.process).
		AddFiles(e.files.Resources()...).
		AddFiles(e.libraries.Resources()...).
		Build()
	if err != nil {
		return nil, err
	}

	logger.Debugf("Assembled launch descriptor (service=%t, task=%t, files=%d, libraries=%d)",
		evaluatorConfig.HasService(), evaluatorConfig.HasTask(), e.files.Len(), e.libraries.Len())
	return descriptor, nil
}

func (e *AllocatedEvaluator) reportAssemblyError(err error) {
	if e.tel == nil {
		return
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) {
		return
	}
	e.tel.Metrics.RecordError(string(ee.Class), ee.Code)
	if ee.Code == engine.ErrCodeConfigMerge {
		_ = e.tel.Events.PublishProviderFailed(e.id, ee.Resource, err.Error())
	}
}
