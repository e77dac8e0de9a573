// Package driver assembles a launch driver from its configuration: the
// evaluator registry, the provider set, admission policies, the launch
// ledger and the dispatcher that hands descriptors to the resource manager.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/openfroyo/launchpad/pkg/config"
	"github.com/openfroyo/launchpad/pkg/dispatch"
	"github.com/openfroyo/launchpad/pkg/evaluator"
	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/launch/protocol"
	"github.com/openfroyo/launchpad/pkg/policy"
	"github.com/openfroyo/launchpad/pkg/providers"
	"github.com/openfroyo/launchpad/pkg/stores"
	"github.com/openfroyo/launchpad/pkg/telemetry"
	sshtransport "github.com/openfroyo/launchpad/pkg/transports/ssh"
)

// Option customizes a Driver.
type Option func(*options)

type options struct {
	tel       *telemetry.Telemetry
	transport dispatch.Dispatcher
	streamOut io.Writer
	streamIn  io.Reader
}

// WithTelemetry uses tel instead of building telemetry from the configuration.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *options) { o.tel = tel }
}

// WithTransport replaces the configured dispatcher. Admission and the ledger
// still wrap it.
func WithTransport(d dispatch.Dispatcher) Option {
	return func(o *options) { o.transport = d }
}

// WithStreamIO replaces the stream dispatcher's output and reply streams.
// r may be nil.
func WithStreamIO(w io.Writer, r io.Reader) Option {
	return func(o *options) {
		o.streamOut = w
		o.streamIn = r
	}
}

// Driver owns one evaluator registry and everything behind it.
type Driver struct {
	cfg    *Config
	tel    *telemetry.Telemetry
	ownTel bool
	logger zerolog.Logger

	providers *providers.Set
	watcher   *providers.Watcher

	policies       *policy.Engine
	loader         *policy.Loader
	bundlePolicies []policy.Policy

	store *stores.SQLiteStore

	stream     *dispatch.Stream
	node       *sshtransport.SSHClient
	closers    []io.Closer
	dispatcher dispatch.Dispatcher

	registry *evaluator.Registry
	cancel   context.CancelFunc
}

// New builds a driver from cfg. Background work starts with Start.
func New(ctx context.Context, cfg *Config, opts ...Option) (d *Driver, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d = &Driver{cfg: cfg, tel: o.tel}
	if d.tel == nil {
		tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
		if err != nil {
			return nil, configError("failed to initialize telemetry", err)
		}
		d.tel = tel
		d.ownTel = true
	}
	d.logger = d.tel.Logger.NewComponentLogger("driver").Zerolog()

	defer func() {
		if err != nil {
			_ = d.Close(context.Background())
		}
	}()

	if err := d.openLedger(ctx); err != nil {
		return nil, err
	}
	if err := d.loadProviders(); err != nil {
		return nil, err
	}
	if err := d.loadPolicies(ctx); err != nil {
		return nil, err
	}

	transport := o.transport
	if transport == nil {
		if transport, err = d.buildTransport(o); err != nil {
			return nil, err
		}
	}
	d.dispatcher = d.chain(transport)

	rc := evaluator.RegistryConfig{
		ApplicationID: cfg.ApplicationID,
		RemoteID:      cfg.RemoteID,
		Providers:     d.providers,
		Dispatcher:    d.dispatcher,
		Telemetry:     d.tel,
	}
	if cfg.DefaultProcess != nil {
		rc.DefaultProcess = *cfg.DefaultProcess
	}
	if d.registry, err = evaluator.NewRegistry(rc); err != nil {
		return nil, err
	}

	d.logger.Info().
		Str("application_id", cfg.ApplicationID).
		Str("dispatcher", dispatch.Name(d.dispatcher)).
		Int("providers", d.providers.Len()).
		Bool("ledger", d.store != nil).
		Bool("policy", d.policies != nil).
		Msg("Driver ready")

	return d, nil
}

// Start begins watching provider and policy sources and serving metrics.
// Watches end when ctx is done or the driver is closed.
func (d *Driver) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.cfg.Providers.Watch {
		d.watcher = providers.NewWatcher(d.providers, d.cfg.Providers.Dir, d.logger)
		if err := d.watcher.Start(ctx); err != nil {
			return configError("failed to watch provider directory", err).
				WithResource(d.cfg.Providers.Dir)
		}
	}

	if d.policies != nil && d.cfg.Policy.Watch && len(d.cfg.Policy.Paths) > 0 {
		err := d.loader.Watch(ctx, d.cfg.Policy.Paths, func(ctx context.Context, ps []policy.Policy) error {
			return d.policies.ReplacePolicies(ctx, append(ps, d.bundlePolicies...))
		})
		if err != nil {
			return configError("failed to watch policies", err)
		}
	}

	return d.tel.StartMetricsServer()
}

// Registry returns the evaluator registry.
func (d *Driver) Registry() *evaluator.Registry { return d.registry }

// Providers returns the provider set.
func (d *Driver) Providers() *providers.Set { return d.providers }

// Policies returns the policy engine, or nil when admission is disabled.
func (d *Driver) Policies() *policy.Engine { return d.policies }

// Store returns the ledger store, or nil when the ledger is disabled.
func (d *Driver) Store() *stores.SQLiteStore { return d.store }

// Telemetry returns the driver's telemetry.
func (d *Driver) Telemetry() *telemetry.Telemetry { return d.tel }

// Dispatcher returns the full dispatch chain.
func (d *Driver) Dispatcher() dispatch.Dispatcher { return d.dispatcher }

// Allocate allocates an evaluator. An empty id is replaced by a generated one.
func (d *Driver) Allocate(ctx context.Context, id string) (*evaluator.AllocatedEvaluator, error) {
	return d.registry.Allocate(d.tel.WithContext(ctx), id)
}

// Close closes every evaluator, stops watches, flushes pending events to the
// ledger and releases the dispatcher's connections.
func (d *Driver) Close(ctx context.Context) error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.registry != nil {
		d.registry.CloseAll()
	}

	var errs []error
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.loader != nil {
		if err := d.loader.StopWatching(); err != nil {
			errs = append(errs, err)
		}
	}

	// Events still buffered are written before the ledger closes.
	if d.ownTel {
		if err := d.tel.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
		}
	}

	if d.stream != nil {
		if err := d.stream.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, c := range d.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.node != nil {
		if err := d.node.Disconnect(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (d *Driver) openLedger(ctx context.Context) error {
	if d.cfg.Ledger.Path == "" {
		return nil
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: d.cfg.Ledger.Path})
	if err != nil {
		return configError("invalid ledger", err)
	}
	if err := store.Init(ctx); err != nil {
		return configError("failed to open ledger", err).WithResource(d.cfg.Ledger.Path)
	}
	d.store = store
	if err := store.Migrate(ctx); err != nil {
		return configError("failed to migrate ledger", err).WithResource(d.cfg.Ledger.Path)
	}

	d.tel.Events.Subscribe(d.recordEvent, nil)
	return nil
}

func (d *Driver) loadProviders() error {
	d.providers = providers.NewSet()
	starlark := config.NewStarlarkEvaluator(0)

	for name, src := range d.cfg.Providers.Static {
		c, err := config.ParseNamed(src, name)
		if err != nil {
			return err
		}
		d.providers.Add(providers.NewStatic(name, c))
	}

	for _, path := range d.cfg.Providers.Files {
		switch filepath.Ext(path) {
		case ".cue":
			d.providers.Add(providers.NewFile(path))
		case ".star":
			d.providers.Add(providers.NewScriptFile(path, nil, starlark))
		default:
			return configError("provider files must be .cue or .star", nil).WithResource(path)
		}
	}

	// A watched directory is loaded when the watch starts.
	if d.cfg.Providers.Dir != "" && !d.cfg.Providers.Watch {
		if _, err := providers.LoadDirectory(d.providers, d.cfg.Providers.Dir, starlark); err != nil {
			return configError("failed to load provider directory", err).
				WithResource(d.cfg.Providers.Dir)
		}
	}
	return nil
}

func (d *Driver) loadPolicies(ctx context.Context) error {
	if !d.cfg.Policy.Enabled {
		return nil
	}

	eng, err := policy.NewEngine(d.logger)
	if err != nil {
		return err
	}
	d.policies = eng
	d.loader = policy.NewLoader(d.logger)

	if len(d.cfg.Policy.Paths) > 0 {
		if err := eng.LoadPolicies(ctx, d.cfg.Policy.Paths); err != nil {
			return configError("failed to load policies", err)
		}
	}

	if d.cfg.Policy.Bundle != "" {
		bundle, err := d.loader.LoadBundle(ctx, d.cfg.Policy.Bundle)
		if err != nil {
			return configError("failed to load policy bundle", err).WithResource(d.cfg.Policy.Bundle)
		}
		for _, p := range bundle.Policies {
			if err := eng.AddPolicy(ctx, p); err != nil {
				return configError("invalid policy bundle", err).WithResource(d.cfg.Policy.Bundle)
			}
		}
		d.bundlePolicies = bundle.Policies
	}
	return nil
}

func (d *Driver) buildTransport(o options) (dispatch.Dispatcher, error) {
	switch d.cfg.Dispatcher.Kind {
	case DispatcherSSH:
		sc := d.cfg.Dispatcher.SSH
		node, err := sshtransport.NewSSHClient(sc.Target, d.logger)
		if err != nil {
			return nil, configError("invalid ssh target", err)
		}
		d.node = node
		s, err := dispatch.NewSSH(node, dispatch.SSHConfig{
			WorkDir:       sc.WorkDir,
			LaunchCommand: sc.LaunchCommand,
			Logger:        d.logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		w, r := o.streamOut, o.streamIn
		if w == nil {
			var err error
			if w, r, err = d.openStream(); err != nil {
				return nil, err
			}
		}
		d.stream = dispatch.NewStream(w, r, dispatch.StreamConfig{
			OnRunning:  d.onRunning,
			AckTimeout: d.cfg.Dispatcher.Stream.AckTimeout,
			Logger:     d.logger,
		})
		return d.stream, nil
	}
}

// openStream opens the configured output and reply streams. Standard streams
// are never closed by the driver.
func (d *Driver) openStream() (io.Writer, io.Reader, error) {
	sc := d.cfg.Dispatcher.Stream

	var w io.Writer = struct{ io.Writer }{os.Stdout}
	if sc.Output != "" && sc.Output != "stdout" {
		f, err := os.OpenFile(sc.Output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, configError("failed to open stream output", err).WithResource(sc.Output)
		}
		w = f
	}

	var r io.Reader
	switch sc.Replies {
	case "":
	case "stdin":
		r = os.Stdin
	default:
		f, err := os.Open(sc.Replies)
		if err != nil {
			return nil, nil, configError("failed to open stream replies", err).WithResource(sc.Replies)
		}
		d.closers = append(d.closers, f)
		r = f
	}
	return w, r, nil
}

// chain wraps the transport with admission and, outermost, the ledger so
// denied launches are recorded too.
func (d *Driver) chain(transport dispatch.Dispatcher) dispatch.Dispatcher {
	next := transport
	if d.policies != nil {
		next = dispatch.NewPolicyGate(d.policies, next, dispatch.PolicyGateConfig{
			Environment: d.cfg.Policy.Environment,
			DryRun:      d.cfg.Policy.DryRun,
			Logger:      d.logger,
		})
	}
	if d.store != nil {
		next = dispatch.NewLedger(d.store, next, d.logger)
	}
	return next
}

func (d *Driver) onRunning(rm *protocol.RunningMessage) {
	if err := d.registry.Running(rm.EvaluatorID); err != nil {
		d.logger.Warn().
			Err(err).
			Str("evaluator_id", rm.EvaluatorID).
			Msg("Ignoring RUNNING report")
	}
}

// Descriptor is a shorthand for the launch descriptor of an evaluator that
// has been submitted.
func (d *Driver) Descriptor(id string) (*launch.Descriptor, bool) {
	m, ok := d.registry.Get(id)
	if !ok || m.Descriptor() == nil {
		return nil, false
	}
	return m.Descriptor(), true
}
