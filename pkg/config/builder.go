package config

import (
	"fmt"

	"cuelang.org/go/cue"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/openfroyo/launchpad/pkg/engine"
)

// Builder accumulates configurations by unification. Binding the same key to
// the same value twice is allowed; binding it to incompatible values is a
// ConfigurationError.
type Builder struct {
	value   cue.Value
	sources []string
	built   bool
}

// NewBuilder starts a builder seeded with the given configuration.
func NewBuilder(seed Configuration) *Builder {
	return &Builder{
		value:   seed.Value(),
		sources: []string{seed.Source()},
	}
}

// AddConfiguration merges c into the builder. On conflict the builder is left
// unchanged and an error naming the offending source is returned.
func (b *Builder) AddConfiguration(c Configuration) error {
	if b.built {
		return engine.NewConflictError("configuration builder already built", nil).
			WithCode(engine.ErrCodeInvalidState)
	}

	runtimeMu.Lock()
	merged := b.value.Unify(c.Value())
	err := merged.Validate()
	runtimeMu.Unlock()

	if err != nil {
		return configurationError(
			fmt.Sprintf("conflicting bindings from %s: %s", c.Source(), firstDetail(err)), err).
			WithResource(c.Source()).
			WithOperation("merge")
	}

	b.value = merged
	b.sources = append(b.sources, c.Source())
	return nil
}

// Build finalizes the builder. A builder can only be built once.
func (b *Builder) Build() (Configuration, error) {
	if b.built {
		return Configuration{}, engine.NewConflictError("configuration builder already built", nil).
			WithCode(engine.ErrCodeInvalidState)
	}
	b.built = true

	source := "merged"
	if len(b.sources) == 1 {
		source = b.sources[0]
	}
	return Configuration{value: b.value, source: source}, nil
}

// Merge unifies all configurations in order. It is a convenience wrapper over Builder.
func Merge(seed Configuration, others ...Configuration) (Configuration, error) {
	b := NewBuilder(seed)
	for _, c := range others {
		if err := b.AddConfiguration(c); err != nil {
			return Configuration{}, err
		}
	}
	return b.Build()
}

// firstDetail renders the first CUE error with its path, without positions.
func firstDetail(err error) string {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err.Error()
	}
	return cueerrors.Details(errs[0], nil)
}
