package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/format"

	"github.com/openfroyo/launchpad/pkg/engine"
)

// Serializer turns configurations into self-describing CUE text and back.
type Serializer struct{}

// NewSerializer creates a serializer.
func NewSerializer() *Serializer {
	return &Serializer{}
}

// ToString serializes c. The configuration must be concrete: every binding has
// to resolve to a value. Anything else cannot be shipped to a remote process
// and is reported as a ConfigurationError. An empty configuration serializes
// as "{}", never as empty text, so a submitted fragment is always present.
func (s *Serializer) ToString(c Configuration) (string, error) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()

	v := c.Value()
	if err := v.Validate(cue.Concrete(true), cue.Final()); err != nil {
		return "", configurationError(
			fmt.Sprintf("configuration from %s is not serializable: %s", c.Source(), firstDetail(err)), err).
			WithResource(c.Source()).
			WithOperation("serialize")
	}

	node := v.Syntax(cue.Final(), cue.Concrete(true), cue.Docs(false))
	if lit, ok := node.(*ast.StructLit); ok {
		node = &ast.File{Decls: lit.Elts}
	}

	out, err := format.Node(node, format.Simplify())
	if err != nil {
		return "", configurationError("failed to format configuration", err).
			WithResource(c.Source()).
			WithOperation("serialize")
	}
	text := strings.TrimSpace(string(out))
	if text == "" {
		return emptyStruct, nil
	}
	return text, nil
}

const emptyStruct = "{}"

// FromString parses text produced by ToString.
func (s *Serializer) FromString(text string) (Configuration, error) {
	return ParseNamed(text, "serialized")
}

// IsConfigurationError reports whether err came from the configuration framework.
func IsConfigurationError(err error) bool {
	return engine.HasCode(err, engine.ErrCodeConfiguration)
}
