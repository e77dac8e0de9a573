package config

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/openfroyo/launchpad/pkg/engine"
)

func TestBuilder_AddConfiguration(t *testing.T) {
	tests := []struct {
		name      string
		seed      string
		others    []string
		wantErr   bool
		wantBinds map[string]string
	}{
		{
			name:      "disjoint bindings",
			seed:      `id: "ctx1"`,
			others:    []string{`a: 1`, `b: 2`},
			wantBinds: map[string]string{"id": "ctx1", "a": "1", "b": "2"},
		},
		{
			name:      "same binding twice",
			seed:      `id: "ctx1"`,
			others:    []string{`id: "ctx1"`},
			wantBinds: map[string]string{"id": "ctx1"},
		},
		{
			name:      "nested structs unify",
			seed:      `limits: memory: 128`,
			others:    []string{`limits: cores: 2`},
			wantBinds: map[string]string{"limits.memory": "128", "limits.cores": "2"},
		},
		{
			name:      "constraint refined by provider",
			seed:      `port: int & >1024`,
			others:    []string{`port: 8080`},
			wantBinds: map[string]string{"port": "8080"},
		},
		{
			name:    "conflicting scalar",
			seed:    `a: 1`,
			others:  []string{`a: 2`},
			wantErr: true,
		},
		{
			name:    "conflicting nested scalar",
			seed:    `limits: memory: 128`,
			others:  []string{`limits: memory: 256`},
			wantErr: true,
		},
		{
			name:    "constraint violated",
			seed:    `port: int & >1024`,
			others:  []string{`port: 80`},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBuilder(MustParse(tt.seed))

			var err error
			for _, o := range tt.others {
				if err = b.AddConfiguration(MustParse(o)); err != nil {
					break
				}
			}

			if (err != nil) != tt.wantErr {
				t.Fatalf("AddConfiguration() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !IsConfigurationError(err) {
					t.Errorf("expected configuration error, got %v", err)
				}
				return
			}

			c, err := b.Build()
			if err != nil {
				t.Fatalf("Build() error = %v", err)
			}
			for path, want := range tt.wantBinds {
				got, ok := c.Lookup(path)
				if !ok || fmt.Sprint(got) != want {
					t.Errorf("%s = %v, want %s", path, got, want)
				}
			}
		})
	}
}

func TestBuilder_ConflictLeavesBuilderUnchanged(t *testing.T) {
	b := NewBuilder(MustParse(`a: 1`))

	conflicting, err := ParseNamed(`a: 2`, "override.cue")
	if err != nil {
		t.Fatal(err)
	}
	err = b.AddConfiguration(conflicting)
	if err == nil {
		t.Fatal("expected conflict")
	}

	var engineErr *engine.EngineError
	if !errors.As(err, &engineErr) {
		t.Fatalf("expected *engine.EngineError, got %T", err)
	}
	if engineErr.Resource != "override.cue" {
		t.Errorf("Resource = %q, want override.cue", engineErr.Resource)
	}
	if !strings.Contains(err.Error(), "override.cue") {
		t.Errorf("error should name the source: %v", err)
	}

	if err := b.AddConfiguration(MustParse(`b: 2`)); err != nil {
		t.Fatalf("builder should remain usable after a conflict: %v", err)
	}
	c, err := b.Build()
	if err != nil {
		t.Fatal(err)
	}
	if !c.Equivalent(MustParse(`a: 1, b: 2`)) {
		t.Error("conflicting fragment leaked into the result")
	}
}

func TestBuilder_BuildOnce(t *testing.T) {
	b := NewBuilder(Empty())
	if _, err := b.Build(); err != nil {
		t.Fatalf("first Build() error = %v", err)
	}

	_, err := b.Build()
	if !engine.HasCode(err, engine.ErrCodeInvalidState) {
		t.Errorf("second Build() error = %v, want INVALID_STATE", err)
	}
	if err := b.AddConfiguration(Empty()); !engine.IsConflict(err) {
		t.Errorf("AddConfiguration() after Build() error = %v, want conflict", err)
	}
}

func TestBuilder_Source(t *testing.T) {
	seed, _ := ParseNamed(`a: 1`, "seed.cue")

	c, err := NewBuilder(seed).Build()
	if err != nil {
		t.Fatal(err)
	}
	if c.Source() != "seed.cue" {
		t.Errorf("Source() = %q, want seed.cue", c.Source())
	}

	c, err = Merge(seed, MustParse(`b: 2`))
	if err != nil {
		t.Fatal(err)
	}
	if c.Source() != "merged" {
		t.Errorf("Source() = %q, want merged", c.Source())
	}
}
