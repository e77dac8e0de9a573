// Package providers supplies extra configuration fragments that are merged
// into the root context of every managed-runtime evaluator.
//
// A provider is asked for its fragment on every launch; nothing is cached, so
// a provider backed by a file picks up edits without a restart. Providers are
// held in a Set, which has no defined iteration order. Fragments are merged by
// unification, which is order independent, so callers never depend on it.
package providers

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/openfroyo/launchpad/pkg/config"
	"github.com/openfroyo/launchpad/pkg/engine"
)

// ConfigurationProvider produces one configuration fragment.
type ConfigurationProvider interface {
	// Name identifies the provider in logs and errors. It is the set key.
	Name() string

	// Configuration returns a fresh fragment.
	Configuration(ctx context.Context) (config.Configuration, error)
}

// Set is a collection of providers keyed by name. It is safe for concurrent use.
type Set struct {
	providers map[string]ConfigurationProvider
	mu        sync.RWMutex
}

// NewSet creates a set holding the given providers.
func NewSet(ps ...ConfigurationProvider) *Set {
	s := &Set{providers: make(map[string]ConfigurationProvider)}
	for _, p := range ps {
		s.Add(p)
	}
	return s
}

// Add inserts p. A provider with the same name is replaced. Reports whether
// the name was new.
func (s *Set) Add(p ConfigurationProvider) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.providers[p.Name()]
	s.providers[p.Name()] = p
	return !exists
}

// Remove deletes the provider with the given name.
func (s *Set) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.providers[name]
	delete(s.providers, name)
	return exists
}

// Len returns the number of providers.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.providers)
}

// Snapshot returns the current providers. The order is unspecified.
func (s *Set) Snapshot() []ConfigurationProvider {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ConfigurationProvider, 0, len(s.providers))
	for _, p := range s.providers {
		out = append(out, p)
	}
	return out
}

// Names returns the provider names in sorted order.
func (s *Set) Names() []string {
	ps := s.Snapshot()
	names := make([]string, 0, len(ps))
	for _, p := range ps {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

// Static always returns the same fragment.
type Static struct {
	name string
	c    config.Configuration
}

// NewStatic creates a provider for a fixed configuration.
func NewStatic(name string, c config.Configuration) *Static {
	return &Static{name: name, c: c}
}

// Name returns the provider name.
func (p *Static) Name() string { return p.name }

// Configuration returns the fixed fragment.
func (p *Static) Configuration(ctx context.Context) (config.Configuration, error) {
	return p.c, nil
}

// File reads a .cue file or CUE package directory on every call.
type File struct {
	path   string
	parser *config.CUEParser
}

// NewFile creates a provider backed by path.
func NewFile(path string) *File {
	return &File{path: path, parser: config.NewCUEParser()}
}

// Name returns the backing path.
func (p *File) Name() string { return p.path }

// Configuration loads the file.
func (p *File) Configuration(ctx context.Context) (config.Configuration, error) {
	return p.parser.Load(ctx, p.path)
}

// Script evaluates a Starlark script on every call. Public globals of the
// script become bindings.
type Script struct {
	name      string
	path      string
	source    string
	input     map[string]interface{}
	evaluator *config.StarlarkEvaluator
}

// NewScript creates a provider for inline script source.
func NewScript(name, source string, input map[string]interface{}, evaluator *config.StarlarkEvaluator) *Script {
	if evaluator == nil {
		evaluator = config.NewStarlarkEvaluator(0)
	}
	return &Script{name: name, source: source, input: input, evaluator: evaluator}
}

// NewScriptFile creates a provider that re-reads a .star file on every call.
func NewScriptFile(path string, input map[string]interface{}, evaluator *config.StarlarkEvaluator) *Script {
	s := NewScript(path, "", input, evaluator)
	s.path = path
	return s
}

// Name returns the provider name.
func (p *Script) Name() string { return p.name }

// Configuration runs the script.
func (p *Script) Configuration(ctx context.Context) (config.Configuration, error) {
	source := p.source
	if p.path != "" {
		data, err := os.ReadFile(p.path)
		if err != nil {
			return config.Configuration{}, engine.NewPermanentError("failed to read script", err).
				WithCode(engine.ErrCodeProviderFailed).
				WithResource(p.path)
		}
		source = string(data)
	}
	return p.evaluator.EvaluateConfiguration(ctx, p.name, source, p.input)
}

// Func adapts a function to a provider.
type Func struct {
	name string
	fn   func(ctx context.Context) (config.Configuration, error)
}

// NewFunc creates a provider calling fn.
func NewFunc(name string, fn func(ctx context.Context) (config.Configuration, error)) *Func {
	return &Func{name: name, fn: fn}
}

// Name returns the provider name.
func (p *Func) Name() string { return p.name }

// Configuration calls the wrapped function.
func (p *Func) Configuration(ctx context.Context) (config.Configuration, error) {
	return p.fn(ctx)
}
