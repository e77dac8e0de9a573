package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
)

// Schema names for the built-in fragment kinds.
const (
	SchemaContext = "context"
	SchemaService = "service"
	SchemaTask    = "task"
)

// SchemaRegistry manages CUE schemas for validation of configuration fragments.
type SchemaRegistry struct {
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		schemas: make(map[string]cue.Value),
	}

	sr.registerBuiltInSchemas()

	return sr
}

// registerBuiltInSchemas registers all built-in schemas.
func (sr *SchemaRegistry) registerBuiltInSchemas() {
	_ = sr.RegisterSchema(SchemaContext, builtinContextSchema)
	_ = sr.RegisterSchema(SchemaService, builtinServiceSchema)
	_ = sr.RegisterSchema(SchemaTask, builtinTaskSchema)
}

// RegisterSchema registers a CUE schema with the given name. The schema must
// define a top-level struct constraint; fragments are unified with it.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	runtimeMu.Lock()
	val := runtime.CompileString(schema, cue.Filename(name+".schema"))
	runtimeMu.Unlock()

	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate checks a configuration against a named schema.
func (sr *SchemaRegistry) Validate(ctx context.Context, schemaName string, c Configuration) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	unified := schema.Unify(c.Value())
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return configurationError(
			fmt.Sprintf("%s configuration from %s does not match schema: %s", schemaName, c.Source(), firstDetail(err)), err).
			WithResource(c.Source()).
			WithOperation("validate")
	}

	return nil
}

// ListSchemas returns all registered schema names in sorted order.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Built-in schema definitions. Plain CUE structs are open, so providers and
// users may add bindings next to the required ones.

const builtinContextSchema = `
// A context must carry a non-empty identifier.
id: string & =~"^[A-Za-z0-9_.:-]+$"
`

const builtinServiceSchema = `
// A service lists the service names it starts.
services: [string, ...string]
`

const builtinTaskSchema = `
// A task must carry a non-empty identifier.
id: string & =~"^[A-Za-z0-9_.:-]+$"
`
