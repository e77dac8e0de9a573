package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/openfroyo/launchpad/pkg/engine"
)

// runtime is the single CUE context shared by every Configuration. Values built
// on different contexts cannot be unified, so all fragments must come from here.
var (
	runtime    = cuecontext.New()
	runtimeMu  sync.Mutex
	emptyValue = runtime.CompileString("{}", cue.Filename("empty"))
)

// Configuration is an immutable bag of bindings produced by the configuration
// framework. The zero value is an empty configuration.
type Configuration struct {
	value  cue.Value
	source string
}

// Empty returns a configuration with no bindings.
func Empty() Configuration {
	return Configuration{value: emptyValue, source: "empty"}
}

// Parse compiles CUE source text into a configuration. The text may be
// incomplete (non-concrete); concreteness is only required at serialization.
func Parse(src string) (Configuration, error) {
	return ParseNamed(src, "inline")
}

// ParseNamed compiles CUE source text and records name as its source for
// error messages.
func ParseNamed(src, name string) (Configuration, error) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	val := runtime.CompileString(src, cue.Filename(name))
	if err := val.Err(); err != nil {
		return Configuration{}, configurationError(fmt.Sprintf("failed to compile %s", name), err)
	}
	if err := val.Validate(); err != nil {
		return Configuration{}, configurationError(fmt.Sprintf("invalid configuration in %s", name), err)
	}
	return Configuration{value: val, source: name}, nil
}

// MustParse is like Parse but panics on error. Intended for constants and tests.
func MustParse(src string) Configuration {
	c, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return c
}

// FromMap encodes a Go map into a configuration.
func FromMap(bindings map[string]interface{}) (Configuration, error) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	val := runtime.Encode(bindings)
	if err := val.Err(); err != nil {
		return Configuration{}, configurationError("failed to encode bindings", err)
	}
	return Configuration{value: val, source: "map"}, nil
}

// Source describes where the configuration came from.
func (c Configuration) Source() string {
	if c.source == "" {
		return "empty"
	}
	return c.source
}

// Value exposes the underlying CUE value.
func (c Configuration) Value() cue.Value {
	if !c.value.Exists() {
		return emptyValue
	}
	return c.value
}

// Lookup returns the value bound at a dotted CUE path.
func (c Configuration) Lookup(path string) (interface{}, bool) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	v := c.Value().LookupPath(cue.ParsePath(path))
	if !v.Exists() {
		return nil, false
	}
	var out interface{}
	if err := v.Decode(&out); err != nil {
		return nil, false
	}
	return out, true
}

// Bindings decodes the configuration into a plain map. Only concrete
// configurations can be decoded.
func (c Configuration) Bindings() (map[string]interface{}, error) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	out := make(map[string]interface{})
	if err := c.Value().Decode(&out); err != nil {
		return nil, configurationError("failed to decode configuration", err)
	}
	return out, nil
}

// Equivalent reports whether two configurations decode to the same bindings.
func (c Configuration) Equivalent(other Configuration) bool {
	a, err := c.Bindings()
	if err != nil {
		return false
	}
	b, err := other.Bindings()
	if err != nil {
		return false
	}
	return reflect.DeepEqual(a, b)
}

// MarshalJSON exports the configuration as JSON.
func (c Configuration) MarshalJSON() ([]byte, error) {
	b, err := c.Bindings()
	if err != nil {
		return nil, err
	}
	return json.Marshal(b)
}

// String returns a short description, not the serialized form.
func (c Configuration) String() string {
	return fmt.Sprintf("Configuration{source=%s}", c.Source())
}

func configurationError(msg string, err error) *engine.EngineError {
	return engine.NewPermanentError(msg, err).WithCode(engine.ErrCodeConfiguration)
}
