package providers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/openfroyo/launchpad/pkg/config"
	"github.com/openfroyo/launchpad/pkg/engine"
)

func TestSet(t *testing.T) {
	a := NewStatic("a", config.MustParse(`a: 1`))
	b := NewStatic("b", config.MustParse(`b: 2`))

	s := NewSet(a, b)
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}

	if s.Add(NewStatic("a", config.MustParse(`a: 3`))) {
		t.Error("Add() with an existing name should report false")
	}
	if s.Len() != 2 {
		t.Errorf("Len() after replace = %d, want 2", s.Len())
	}

	if !s.Remove("b") || s.Remove("b") {
		t.Error("Remove() should succeed once")
	}
	if got := s.Names(); len(got) != 1 || got[0] != "a" {
		t.Errorf("Names() = %v", got)
	}
}

func TestSet_Nil(t *testing.T) {
	var s *Set
	if s.Len() != 0 || len(s.Snapshot()) != 0 {
		t.Error("nil set should be empty")
	}
}

func TestFile_RereadsOnEveryCall(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "limits.cue")
	ctx := context.Background()

	write := func(content string) {
		t.Helper()
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}

	p := NewFile(path)
	if p.Name() != path {
		t.Errorf("Name() = %q, want %q", p.Name(), path)
	}

	write(`memory: 128`)
	c, err := p.Configuration(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Lookup("memory"); fmt.Sprint(v) != "128" {
		t.Errorf("memory = %v, want 128", v)
	}

	write(`memory: 256`)
	c, err = p.Configuration(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := c.Lookup("memory"); fmt.Sprint(v) != "256" {
		t.Errorf("memory after edit = %v, want 256", v)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Configuration(ctx); !config.IsConfigurationError(err) {
		t.Errorf("missing file error = %v, want configuration error", err)
	}
}

func TestScript(t *testing.T) {
	ctx := context.Background()

	p := NewScript("tuning", `heap = base * 4`, map[string]interface{}{"base": 16}, nil)
	c, err := p.Configuration(ctx)
	if err != nil {
		t.Fatalf("Configuration() error = %v", err)
	}
	if v, _ := c.Lookup("heap"); fmt.Sprint(v) != "64" {
		t.Errorf("heap = %v, want 64", v)
	}
	if c.Source() != "tuning" {
		t.Errorf("Source() = %q", c.Source())
	}

	missing := NewScriptFile(filepath.Join(t.TempDir(), "absent.star"), nil, nil)
	if _, err := missing.Configuration(ctx); !engine.HasCode(err, engine.ErrCodeProviderFailed) {
		t.Errorf("missing script error = %v, want PROVIDER_FAILED", err)
	}
}

func TestFunc(t *testing.T) {
	boom := errors.New("boom")
	p := NewFunc("failing", func(ctx context.Context) (config.Configuration, error) {
		return config.Configuration{}, boom
	})
	if _, err := p.Configuration(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Configuration() error = %v, want boom", err)
	}
}
