package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		memoryBoundsPolicy(),
		resourcePathsPolicy(),
		alternateRuntimeOptionsPolicy(),
	}
}

// memoryBoundsPolicy keeps process memory within what a node can host.
func memoryBoundsPolicy() Policy {
	return Policy{
		Name:        "launch-memory-bounds",
		Description: "Process memory must be between 128 MB and 64 GB",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"process", "capacity"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package launchpad.policies.memory

import rego.v1

min_memory_mb := 128

max_memory_mb := 65536

deny contains violation if {
	mb := input.descriptor.process.memoryMb
	mb < min_memory_mb
	violation := {
		"message": sprintf("process memory %d MB is below the minimum of %d MB", [mb, min_memory_mb]),
		"severity": "error",
		"details": {"memoryMb": mb},
	}
}

deny contains violation if {
	mb := input.descriptor.process.memoryMb
	mb > max_memory_mb
	violation := {
		"message": sprintf("process memory %d MB exceeds the maximum of %d MB", [mb, max_memory_mb]),
		"severity": "error",
		"details": {"memoryMb": mb},
	}
}
`,
	}
}

// resourcePathsPolicy rejects resources that escape their directory or
// collide once staged.
func resourcePathsPolicy() Policy {
	return Policy{
		Name:        "launch-resource-paths",
		Description: "Launch resources must not traverse parent directories or collide by name",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"resources", "security"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package launchpad.policies.resources

import rego.v1

deny contains violation if {
	some file in input.descriptor.files
	".." in split(file.path, "/")
	violation := {
		"message": sprintf("resource path '%s' traverses a parent directory", [file.path]),
		"severity": "error",
		"details": {"path": file.path},
	}
}

deny contains violation if {
	some i, j
	a := input.descriptor.files[i]
	b := input.descriptor.files[j]
	i < j
	a.kind == b.kind
	a.name == b.name
	violation := {
		"message": sprintf("resources '%s' and '%s' stage to the same name '%s'", [a.path, b.path, a.name]),
		"severity": "error",
		"details": {"name": a.name, "kind": a.kind},
	}
}

deny contains violation if {
	some file in input.descriptor.files
	not startswith(file.path, "/")
	violation := {
		"message": sprintf("resource path '%s' is relative to the driver working directory", [file.path]),
		"severity": "warning",
		"details": {"path": file.path},
	}
}
`,
	}
}

// alternateRuntimeOptionsPolicy restricts runtime options to the ones the
// alternate runtime understands.
func alternateRuntimeOptionsPolicy() Policy {
	return Policy{
		Name:        "alternate-runtime-options",
		Description: "Alternate processes accept a fixed set of runtime options; managed processes take none",
		Severity:    SeverityError,
		Enabled:     true,
		Builtin:     true,
		Tags:        []string{"process", "runtime"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package launchpad.policies.runtime

import rego.v1

allowed_options := {"args", "gc", "heap", "stack"}

deny contains violation if {
	input.descriptor.process.type == "alternate"
	some key, _ in input.descriptor.process.options
	not key in allowed_options
	violation := {
		"message": sprintf("alternate runtime option '%s' is not supported", [key]),
		"severity": "error",
		"details": {"option": key},
	}
}

deny contains violation if {
	input.descriptor.process.type == "managed"
	count(object.keys(input.descriptor.process.options)) > 0
	violation := {
		"message": "runtime options are ignored for managed processes",
		"severity": "warning",
	}
}
`,
	}
}
