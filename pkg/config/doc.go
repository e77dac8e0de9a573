// Package config is the configuration framework used to describe evaluators,
// their root context, an optional service and an optional task.
//
// # Overview
//
// A Configuration is an immutable set of bindings backed by a CUE value.
// Configurations come from inline text, .cue files, whole CUE package
// directories, or Starlark scripts. They are combined by unification: binding
// the same key to compatible values is fine, binding it to incompatible ones
// is an error.
//
// # Components
//
// Configuration: immutable bindings with Lookup, Bindings and Equivalent.
//
// Builder: accumulates configurations with AddConfiguration and produces a
// merged result with Build. A builder is single use.
//
// Serializer: renders a concrete configuration as canonical CUE text and
// parses it back. Text is the form shipped to a remote evaluator process.
//
// SchemaRegistry: named CUE schemas. The built-in context, service and task
// schemas check the minimum shape of each fragment kind.
//
// CUEParser: loads fragments from files and directories and reports
// located errors for the validate command.
//
// StarlarkEvaluator: sandboxed Starlark execution whose public globals become
// bindings.
//
// # Usage Example
//
//	base, _ := config.Parse(`id: "ctx1"`)
//	extra, _ := config.Parse(`limits: memory: 256`)
//
//	merged, err := config.Merge(base, extra)
//	if err != nil {
//	    return err // conflicting bindings
//	}
//
//	text, err := config.NewSerializer().ToString(merged)
//	if err != nil {
//	    return err // not concrete
//	}
//
// # Errors
//
// Every failure is an *engine.EngineError with code CONFIGURATION_ERROR.
// Use IsConfigurationError to test for it.
//
// # Thread Safety
//
// All values share one CUE runtime guarded by a package mutex, so every type
// in this package is safe for concurrent use.
package config
