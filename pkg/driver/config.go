package driver

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/launchpad/pkg/engine"
	"github.com/openfroyo/launchpad/pkg/launch"
	"github.com/openfroyo/launchpad/pkg/telemetry"
	sshtransport "github.com/openfroyo/launchpad/pkg/transports/ssh"
)

var validate = validator.New()

// Dispatcher kinds.
const (
	DispatcherStream = "stream"
	DispatcherSSH    = "ssh"
)

// Config is the driver configuration file.
type Config struct {
	// ApplicationID is the application every evaluator belongs to.
	ApplicationID string `yaml:"application_id" validate:"required"`

	// RemoteID is the address evaluators report back to.
	RemoteID string `yaml:"remote_id" validate:"required"`

	// DefaultProcess is the process new evaluators start with. Nil means the
	// managed defaults.
	DefaultProcess *launch.ProcessDescriptor `yaml:"default_process"`

	Providers  ProvidersConfig  `yaml:"providers"`
	Ledger     LedgerConfig     `yaml:"ledger"`
	Policy     PolicyConfig     `yaml:"policy"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Telemetry  telemetry.Config `yaml:"telemetry" validate:"-"`
}

// ProvidersConfig lists the sources of extra root context fragments.
type ProvidersConfig struct {
	// Dir holds .cue and .star fragment files.
	Dir string `yaml:"dir"`

	// Watch keeps the provider set in sync with Dir.
	Watch bool `yaml:"watch"`

	// Files are individual fragment files outside Dir.
	Files []string `yaml:"files"`

	// Static maps a provider name to inline CUE source.
	Static map[string]string `yaml:"static"`
}

// LedgerConfig configures the launch ledger. An empty path disables it.
type LedgerConfig struct {
	Path string `yaml:"path"`
}

// PolicyConfig configures launch admission.
type PolicyConfig struct {
	Enabled bool `yaml:"enabled"`

	// Paths are .rego or .json policy files and directories loaded on top of
	// the built-in policies.
	Paths []string `yaml:"paths"`

	// Bundle is a JSON policy bundle.
	Bundle string `yaml:"bundle"`

	// Watch reloads Paths when they change.
	Watch bool `yaml:"watch"`

	// DryRun logs denials without blocking.
	DryRun bool `yaml:"dry_run"`

	// Environment is passed to policies as input.context.environment.
	Environment string `yaml:"environment"`
}

// DispatcherConfig selects where launch descriptors go.
type DispatcherConfig struct {
	Kind   string           `yaml:"kind" validate:"required,oneof=stream ssh"`
	Stream StreamConfig     `yaml:"stream"`
	SSH    *SSHTargetConfig `yaml:"ssh" validate:"required_if=Kind ssh"`
}

// StreamConfig configures the JSON-lines stream dispatcher.
type StreamConfig struct {
	// Output is "stdout" or a file path (a named pipe works). Defaults to
	// stdout.
	Output string `yaml:"output"`

	// Replies is "stdin" or a file path to read ACK, RUNNING and ERROR
	// messages from. Empty means launches are fire-and-forget.
	Replies string `yaml:"replies"`

	// AckTimeout bounds the wait for an ACK.
	AckTimeout time.Duration `yaml:"ack_timeout" validate:"gte=0"`
}

// SSHTargetConfig configures the SSH dispatcher.
type SSHTargetConfig struct {
	Target        *sshtransport.Config `yaml:"target" validate:"required"`
	WorkDir       string               `yaml:"work_dir"`
	LaunchCommand string               `yaml:"launch_command"`
}

// DefaultConfig returns a configuration with a stream dispatcher on stdout
// and default telemetry.
func DefaultConfig() *Config {
	return &Config{
		Dispatcher: DispatcherConfig{
			Kind: DispatcherStream,
			Stream: StreamConfig{
				Output:     "stdout",
				AckTimeout: 30 * time.Second,
			},
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}

// LoadConfig reads a YAML configuration file over the defaults and validates
// it.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configError("failed to read configuration file", err).WithResource(path)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration over the defaults and validates it.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, configError("failed to parse configuration YAML", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return configError("invalid configuration", err)
	}

	if c.DefaultProcess != nil {
		if err := c.DefaultProcess.Validate(); err != nil {
			return configError("invalid default process", err)
		}
	}

	if err := c.Telemetry.Validate(); err != nil {
		return configError("invalid telemetry configuration", err)
	}

	if c.Dispatcher.Kind == DispatcherSSH {
		if err := c.Dispatcher.SSH.Target.Validate(); err != nil {
			return configError("invalid ssh target", err)
		}
	}

	if (c.Policy.Watch || c.Policy.DryRun) && !c.Policy.Enabled {
		return configError("policy options set while policy is disabled", nil)
	}
	if c.Providers.Watch && c.Providers.Dir == "" {
		return configError("providers.watch requires providers.dir", nil)
	}

	return nil
}

func configError(msg string, err error) *engine.EngineError {
	return engine.NewPermanentError(msg, err).WithCode(engine.ErrCodeConfiguration)
}
