package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
)

// ValidationError represents a configuration error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	if e.File == "" {
		return e.Message
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
}

// CUEParser loads configuration fragments from CUE files and directories.
type CUEParser struct{}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	return &CUEParser{}
}

// Load reads one fragment from a file or a directory. A directory is loaded
// as a single CUE package.
func (cp *CUEParser) Load(ctx context.Context, source string) (Configuration, error) {
	info, err := os.Stat(source)
	if err != nil {
		return Configuration{}, configurationError(fmt.Sprintf("failed to stat source %s", source), err)
	}

	if info.IsDir() {
		return cp.loadDirectory(source)
	}
	return cp.loadFile(source)
}

// LoadAll loads and merges several sources into one fragment, in the order given.
func (cp *CUEParser) LoadAll(ctx context.Context, sources []string) (Configuration, error) {
	if len(sources) == 0 {
		return Configuration{}, fmt.Errorf("no sources provided")
	}

	var parts []Configuration
	for _, source := range sources {
		c, err := cp.Load(ctx, source)
		if err != nil {
			return Configuration{}, err
		}
		parts = append(parts, c)
	}

	if len(parts) == 1 {
		return parts[0], nil
	}
	return Merge(parts[0], parts[1:]...)
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (Configuration, error) {
	buildInstances := load.Instances([]string{dir}, nil)
	if len(buildInstances) == 0 {
		return Configuration{}, configurationError(fmt.Sprintf("no CUE files found in %s", dir), nil)
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return Configuration{}, configurationError(fmt.Sprintf("failed to load %s", dir), inst.Err)
	}

	runtimeMu.Lock()
	val := runtime.BuildInstance(inst)
	runtimeMu.Unlock()

	if err := val.Err(); err != nil {
		return Configuration{}, configurationError(fmt.Sprintf("failed to build %s", dir), err)
	}

	return Configuration{value: val, source: dir}, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (Configuration, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Configuration{}, configurationError(fmt.Sprintf("failed to read file %s", path), err)
	}

	return ParseNamed(string(content), path)
}

// Check compiles every source and reports located errors instead of failing
// on the first one. Used by the validate command.
func (cp *CUEParser) Check(ctx context.Context, sources []string) []ValidationError {
	var out []ValidationError
	for _, source := range sources {
		if _, err := cp.Load(ctx, source); err != nil {
			out = append(out, ConvertErrors(source, err)...)
		}
	}
	return out
}

// ConvertErrors converts CUE errors to a ValidationError slice.
func ConvertErrors(source string, err error) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			File:    source,
			Message: errors.Details(e, nil),
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		validationErrors = append(validationErrors, ve)
	}

	if len(validationErrors) == 0 {
		validationErrors = append(validationErrors, ValidationError{File: source, Message: err.Error()})
	}

	return validationErrors
}

// ExtractValue extracts a specific path from a configuration.
func (cp *CUEParser) ExtractValue(c Configuration, path string) (interface{}, error) {
	v, ok := c.Lookup(path)
	if !ok {
		return nil, fmt.Errorf("path %s not found", path)
	}
	return v, nil
}

// LoadFromDirectory lists all CUE files below a directory, sorted.
func (cp *CUEParser) LoadFromDirectory(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.HasSuffix(path, ".cue") {
			files = append(files, path)
		}

		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	sort.Strings(files)
	return files, nil
}
