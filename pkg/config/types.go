package config

import (
	"time"
)

// SourceKind identifies where a fragment is read from.
type SourceKind string

const (
	// SourceFile is a single .cue file.
	SourceFile SourceKind = "file"

	// SourceDirectory is a directory loaded as one CUE package.
	SourceDirectory SourceKind = "directory"

	// SourceInline is CUE text held in memory.
	SourceInline SourceKind = "inline"

	// SourceScript is a Starlark script whose globals become bindings.
	SourceScript SourceKind = "script"
)

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output is the output data from Starlark.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
