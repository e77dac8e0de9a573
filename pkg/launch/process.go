package launch

import (
	"fmt"
	"sort"
	"strings"
)

// ProcessType is the coarse execution environment of an evaluator process.
type ProcessType string

const (
	// ProcessTypeManaged runs the evaluator on the managed runtime. Only this
	// kind receives configuration from the registered providers.
	ProcessTypeManaged ProcessType = "managed"

	// ProcessTypeAlternate runs the evaluator on the alternate runtime.
	ProcessTypeAlternate ProcessType = "alternate"
)

// Validate checks if the process type is valid.
func (t ProcessType) Validate() error {
	switch t {
	case ProcessTypeManaged, ProcessTypeAlternate:
		return nil
	default:
		return fmt.Errorf("invalid process type: %s", t)
	}
}

// IsManaged reports whether providers apply to this process type.
func (t ProcessType) IsManaged() bool {
	return t == ProcessTypeManaged
}

// Default memory for a freshly created process, in megabytes.
const (
	DefaultManagedMemoryMB   = 512
	DefaultAlternateMemoryMB = 256
)

// ProcessDescriptor describes the process an evaluator runs in.
type ProcessDescriptor struct {
	// Type is the execution environment.
	Type ProcessType `json:"type" yaml:"type" validate:"required,oneof=managed alternate"`

	// MemoryMB is the memory reserved for the process.
	MemoryMB int `json:"memoryMb" yaml:"memory_mb" validate:"gt=0"`

	// Options are runtime-specific launch options.
	Options map[string]string `json:"options,omitempty" yaml:"options,omitempty"`
}

// Validate checks the descriptor's type and memory size.
func (p ProcessDescriptor) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid process descriptor: %w", err)
	}
	return nil
}

// WithMemory returns a copy of the descriptor with a different memory size.
func (p ProcessDescriptor) WithMemory(mb int) ProcessDescriptor {
	p.Options = copyOptions(p.Options)
	p.MemoryMB = mb
	return p
}

// WithOption returns a copy of the descriptor with one option set.
func (p ProcessDescriptor) WithOption(key, value string) ProcessDescriptor {
	p.Options = copyOptions(p.Options)
	if p.Options == nil {
		p.Options = make(map[string]string)
	}
	p.Options[key] = value
	return p
}

// String renders the descriptor with options in key order.
func (p ProcessDescriptor) String() string {
	keys := make([]string, 0, len(p.Options))
	for k := range p.Options {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+p.Options[k])
	}
	return fmt.Sprintf("%s(%dMB)[%s]", p.Type, p.MemoryMB, strings.Join(parts, ","))
}

func copyOptions(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// ProcessFactory creates default process descriptors for one process type.
type ProcessFactory interface {
	Type() ProcessType
	NewProcess() ProcessDescriptor
}

// ManagedProcessFactory creates managed-runtime processes.
type ManagedProcessFactory struct {
	MemoryMB int
}

// Type returns ProcessTypeManaged.
func (f ManagedProcessFactory) Type() ProcessType { return ProcessTypeManaged }

// NewProcess returns a managed process with the factory's memory size.
func (f ManagedProcessFactory) NewProcess() ProcessDescriptor {
	mb := f.MemoryMB
	if mb <= 0 {
		mb = DefaultManagedMemoryMB
	}
	return ProcessDescriptor{Type: ProcessTypeManaged, MemoryMB: mb}
}

// AlternateProcessFactory creates alternate-runtime processes.
type AlternateProcessFactory struct {
	MemoryMB int
	Options  map[string]string
}

// Type returns ProcessTypeAlternate.
func (f AlternateProcessFactory) Type() ProcessType { return ProcessTypeAlternate }

// NewProcess returns an alternate process with the factory's defaults.
func (f AlternateProcessFactory) NewProcess() ProcessDescriptor {
	mb := f.MemoryMB
	if mb <= 0 {
		mb = DefaultAlternateMemoryMB
	}
	return ProcessDescriptor{Type: ProcessTypeAlternate, MemoryMB: mb, Options: copyOptions(f.Options)}
}

// FactoryFor returns the default factory for a process type. Unknown types
// get the managed factory.
func FactoryFor(kind ProcessType) ProcessFactory {
	if kind == ProcessTypeAlternate {
		return AlternateProcessFactory{}
	}
	return ManagedProcessFactory{}
}

// NewProcess returns the default descriptor for kind.
func NewProcess(kind ProcessType) ProcessDescriptor {
	return FactoryFor(kind).NewProcess()
}
