package launch

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/launchpad/pkg/engine"
)

var validate = validator.New()

// EvaluatorConfig carries the serialized configuration fragments an evaluator
// starts with. Service and task are optional.
type EvaluatorConfig struct {
	ApplicationID     string `json:"applicationId" validate:"required"`
	DriverRemoteID    string `json:"driverRemoteId" validate:"required"`
	EvaluatorID       string `json:"evaluatorId" validate:"required"`
	RootContextConfig string `json:"rootContextConfig" validate:"required"`
	RootServiceConfig string `json:"rootServiceConfig,omitempty"`
	TaskConfig        string `json:"taskConfig,omitempty"`
}

// HasService reports whether a service fragment is attached.
func (c EvaluatorConfig) HasService() bool { return c.RootServiceConfig != "" }

// HasTask reports whether a task fragment is attached.
func (c EvaluatorConfig) HasTask() bool { return c.TaskConfig != "" }

// EvaluatorConfigBuilder assembles an EvaluatorConfig. It can be built once.
type EvaluatorConfigBuilder struct {
	cfg   EvaluatorConfig
	built bool
}

// NewEvaluatorConfigBuilder creates an empty builder.
func NewEvaluatorConfigBuilder() *EvaluatorConfigBuilder {
	return &EvaluatorConfigBuilder{}
}

// SetApplicationID sets the application the evaluator belongs to.
func (b *EvaluatorConfigBuilder) SetApplicationID(id string) *EvaluatorConfigBuilder {
	b.cfg.ApplicationID = id
	return b
}

// SetDriverRemoteID sets the address the evaluator reports back to.
func (b *EvaluatorConfigBuilder) SetDriverRemoteID(id string) *EvaluatorConfigBuilder {
	b.cfg.DriverRemoteID = id
	return b
}

// SetEvaluatorID sets the evaluator identity.
func (b *EvaluatorConfigBuilder) SetEvaluatorID(id string) *EvaluatorConfigBuilder {
	b.cfg.EvaluatorID = id
	return b
}

// SetRootContextConfig sets the serialized root context.
func (b *EvaluatorConfigBuilder) SetRootContextConfig(text string) *EvaluatorConfigBuilder {
	b.cfg.RootContextConfig = text
	return b
}

// SetRootServiceConfig sets the serialized service.
func (b *EvaluatorConfigBuilder) SetRootServiceConfig(text string) *EvaluatorConfigBuilder {
	b.cfg.RootServiceConfig = text
	return b
}

// SetTaskConfig sets the serialized task.
func (b *EvaluatorConfigBuilder) SetTaskConfig(text string) *EvaluatorConfigBuilder {
	b.cfg.TaskConfig = text
	return b
}

// Build validates and returns the configuration. A second call fails.
func (b *EvaluatorConfigBuilder) Build() (EvaluatorConfig, error) {
	if b.built {
		return EvaluatorConfig{}, engine.NewConflictError("evaluator configuration already built", nil).
			WithCode(engine.ErrCodeInvalidState).
			WithResource(b.cfg.EvaluatorID)
	}
	if err := validate.Struct(b.cfg); err != nil {
		return EvaluatorConfig{}, engine.NewPermanentError("invalid evaluator configuration", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(b.cfg.EvaluatorID)
	}
	b.built = true
	return b.cfg, nil
}

// ValidateIdentifier reports whether id can name an evaluator. Dispatchers
// use the identifier as a single path element on remote nodes, so it must
// not be empty, "." or "..", and must not contain separators or control
// characters.
func ValidateIdentifier(id string) error {
	switch {
	case id == "":
		return errors.New("evaluator identifier is empty")
	case id == "." || id == "..":
		return fmt.Errorf("evaluator identifier %q is reserved", id)
	case strings.ContainsAny(id, `/\`):
		return fmt.Errorf("evaluator identifier %q contains a path separator", id)
	case strings.IndexFunc(id, unicode.IsControl) >= 0:
		return fmt.Errorf("evaluator identifier %q contains a control character", id)
	}
	return nil
}

// Descriptor is the immutable launch request handed to a dispatcher.
type Descriptor struct {
	Identifier      string            `json:"identifier" validate:"required"`
	RemoteID        string            `json:"remoteId" validate:"required"`
	EvaluatorConfig EvaluatorConfig   `json:"evaluatorConfig"`
	Process         ProcessDescriptor `json:"process"`
	Files           []FileResource    `json:"files" validate:"dive"`
}

// FilesOfType returns the descriptor's files of one kind.
func (d *Descriptor) FilesOfType(kind FileType) []FileResource {
	var out []FileResource
	for _, f := range d.Files {
		if f.Type == kind {
			out = append(out, f)
		}
	}
	return out
}

// Marshal renders the descriptor as indented JSON.
func (d *Descriptor) Marshal() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Unmarshal parses a descriptor and validates it.
func Unmarshal(data []byte) (*Descriptor, error) {
	var d Descriptor
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to unmarshal descriptor: %w", err)
	}
	if err := validate.Struct(&d); err != nil {
		return nil, fmt.Errorf("invalid descriptor: %w", err)
	}
	return &d, nil
}

// DescriptorBuilder assembles a Descriptor.
type DescriptorBuilder struct {
	d Descriptor
}

// NewDescriptorBuilder creates an empty builder.
func NewDescriptorBuilder() *DescriptorBuilder {
	return &DescriptorBuilder{}
}

// SetIdentifier sets the evaluator identity.
func (b *DescriptorBuilder) SetIdentifier(id string) *DescriptorBuilder {
	b.d.Identifier = id
	return b
}

// SetRemoteID sets the driver's remote identifier.
func (b *DescriptorBuilder) SetRemoteID(id string) *DescriptorBuilder {
	b.d.RemoteID = id
	return b
}

// SetEvaluatorConfig attaches the evaluator configuration.
func (b *DescriptorBuilder) SetEvaluatorConfig(cfg EvaluatorConfig) *DescriptorBuilder {
	b.d.EvaluatorConfig = cfg
	return b
}

// SetProcess attaches the process descriptor.
func (b *DescriptorBuilder) SetProcess(p ProcessDescriptor) *DescriptorBuilder {
	b.d.Process = p
	return b
}

// AddFiles appends resources.
func (b *DescriptorBuilder) AddFiles(files ...FileResource) *DescriptorBuilder {
	b.d.Files = append(b.d.Files, files...)
	return b
}

// Build validates and returns the descriptor.
func (b *DescriptorBuilder) Build() (*Descriptor, error) {
	d := b.d
	d.Files = append([]FileResource(nil), b.d.Files...)
	d.Process.Options = copyOptions(b.d.Process.Options)

	if err := validate.Struct(&d); err != nil {
		return nil, engine.NewPermanentError("invalid launch descriptor", err).
			WithCode(engine.ErrCodeValidation).
			WithResource(d.Identifier)
	}
	return &d, nil
}
