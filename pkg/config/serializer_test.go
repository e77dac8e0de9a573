package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestSerializer_RoundTrip(t *testing.T) {
	s := NewSerializer()

	tests := []struct {
		name   string
		config string
	}{
		{name: "empty", config: `{}`},
		{name: "flat", config: `id: "RootContext_e1"`},
		{name: "nested", config: `id: "ctx1", limits: {memory: 256, cores: 2}`},
		{name: "lists", config: `services: ["web", "cache"], weights: [1, 2.5]`},
		{name: "quoted labels", config: `"with-dash": true, "a b": null`},
		{name: "resolved constraint", config: `port: int & >1024, port: 8080`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := MustParse(tt.config)

			text, err := s.ToString(original)
			if err != nil {
				t.Fatalf("ToString() error = %v", err)
			}

			back, err := s.FromString(text)
			if err != nil {
				t.Fatalf("FromString(%q) error = %v", text, err)
			}
			if !back.Equivalent(original) {
				t.Errorf("round trip changed bindings:\n%s", text)
			}
		})
	}
}

func TestSerializer_NotConcrete(t *testing.T) {
	s := NewSerializer()

	tests := []struct {
		name   string
		config string
	}{
		{name: "bare type", config: `port: int`},
		{name: "nested bound", config: `limits: memory: >0`},
		{name: "unresolved disjunction", config: `mode: "a" | "b"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseNamed(tt.config, "service.cue")
			if err != nil {
				t.Fatal(err)
			}

			_, err = s.ToString(c)
			if err == nil {
				t.Fatal("expected error for non-concrete configuration")
			}
			if !IsConfigurationError(err) {
				t.Errorf("expected configuration error, got %v", err)
			}
			if !strings.Contains(err.Error(), "service.cue") {
				t.Errorf("error should name the source: %v", err)
			}
		})
	}
}

func TestSerializer_FromStringRejectsGarbage(t *testing.T) {
	_, err := NewSerializer().FromString(`id: "`)
	if !IsConfigurationError(err) {
		t.Errorf("FromString() error = %v, want configuration error", err)
	}
}

func ExampleSerializer_ToString() {
	c := MustParse(`id: "RootContext_e1"`)

	text, err := NewSerializer().ToString(c)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println(text)
	// Output: id: "RootContext_e1"
}

func TestSerializer_EmptyIsNotBlank(t *testing.T) {
	s := NewSerializer()

	for _, c := range []Configuration{Empty(), {}, MustParse(`{}`)} {
		text, err := s.ToString(c)
		if err != nil {
			t.Fatalf("ToString() error = %v", err)
		}
		if text != "{}" {
			t.Errorf("ToString(%s) = %q, want %q", c.Source(), text, "{}")
		}
	}
}
