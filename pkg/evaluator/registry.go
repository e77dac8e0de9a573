package evaluator

import (
	"context"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/openfroyo/launchpad/pkg/config"
	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/providers"
	"github.com/openfroyo/launchpad/pkg/telemetry"
)

var validate = validator.New()

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// ApplicationID is the application every evaluator belongs to.
	ApplicationID string `validate:"required"`

	// RemoteID is the address evaluators report back to.
	RemoteID string `validate:"required"`

	// DefaultProcess is the process an evaluator starts with. A zero value
	// means the managed defaults.
	DefaultProcess launch.ProcessDescriptor `validate:"-"`

	// Providers supply extra root context fragments. May be nil.
	Providers *providers.Set `validate:"-"`

	// Dispatcher receives the launch descriptors.
	Dispatcher Dispatcher `validate:"required"`

	// Telemetry is optional.
	Telemetry *telemetry.Telemetry `validate:"-"`

	// Logger is used when Telemetry is nil. Defaults to a no-op logger.
	Logger *telemetry.Logger `validate:"-"`
}

// Registry allocates evaluators and keeps their managers.
type Registry struct {
	cfg        RegistryConfig
	serializer *config.Serializer
	logger     *telemetry.Logger

	mu       sync.RWMutex
	managers map[string]*Manager
}

// NewRegistry validates cfg and creates a registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, engine.NewPermanentError("invalid registry configuration", err).
			WithCode(engine.ErrCodeValidation)
	}

	if cfg.DefaultProcess.Type == "" {
		cfg.DefaultProcess = launch.NewProcess(launch.ProcessTypeManaged)
	}
	if err := cfg.DefaultProcess.Validate(); err != nil {
		return nil, engine.NewPermanentError("invalid default process", err).
			WithCode(engine.ErrCodeValidation)
	}

	logger := cfg.Logger
	if cfg.Telemetry != nil {
		logger = cfg.Telemetry.Logger
	}
	if logger == nil {
		logger = telemetry.Nop()
	}

	return &Registry{
		cfg:        cfg,
		serializer: config.NewSerializer(),
		logger:     logger,
		managers:   make(map[string]*Manager),
	}, nil
}

// Allocate creates an evaluator. An empty id is replaced by a generated one.
func (r *Registry) Allocate(ctx context.Context, id string) (*AllocatedEvaluator, error) {
	if id == "" {
		id = uuid.New().String()
	}
	if err := launch.ValidateIdentifier(id); err != nil {
		return nil, engine.NewPermanentError("invalid evaluator identifier", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(id).
			WithOperation("allocate")
	}

	r.mu.Lock()
	if _, exists := r.managers[id]; exists {
		r.mu.Unlock()
		return nil, engine.NewConflictError("evaluator already allocated", nil).
			WithCode(engine.ErrCodeAlreadyExists).
			WithResource(id)
	}
	manager := NewManager(id, r.cfg.Dispatcher, r.cfg.Telemetry)
	r.managers[id] = manager
	r.mu.Unlock()

	if r.cfg.Telemetry != nil {
		_ = r.cfg.Telemetry.Events.PublishAllocated(id)
	}
	logger := r.logger.NewComponentLogger("evaluator").WithEvaluatorID(id)
	logger.Debug("Evaluator allocated")

	return &AllocatedEvaluator{
		id:            id,
		applicationID: r.cfg.ApplicationID,
		remoteID:      r.cfg.RemoteID,
		manager:       manager,
		providers:     r.cfg.Providers,
		serializer:    r.serializer,
		tel:           r.cfg.Telemetry,
		logger:        logger,
		process:       r.cfg.DefaultProcess.WithMemory(r.cfg.DefaultProcess.MemoryMB),
		files:         launch.NewResourceSet(launch.FileTypePlain),
		libraries:     launch.NewResourceSet(launch.FileTypeLib),
	}, nil
}

// Get returns the manager of an evaluator.
func (r *Registry) Get(id string) (*Manager, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.managers[id]
	return m, ok
}

// List returns all managers ordered by evaluator id.
func (r *Registry) List() []*Manager {
	r.mu.RLock()
	out := make([]*Manager, 0, len(r.managers))
	for _, m := range r.managers {
		out = append(out, m)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Running records the runtime's report that an evaluator started.
func (r *Registry) Running(id string) error {
	m, ok := r.Get(id)
	if !ok {
		return engine.NewPermanentError("unknown evaluator", nil).
			WithCode(engine.ErrCodeNotFound).
			WithResource(id)
	}
	return m.Running()
}

// CloseAll closes every evaluator.
func (r *Registry) CloseAll() {
	for _, m := range r.List() {
		_ = m.Close()
	}
}
