// Package policy provides Open Policy Agent (OPA) admission control for
// evaluator launches.
//
// Every launch descriptor can be checked against a set of Rego policies
// before it reaches a dispatcher. A policy module defines a deny set; each
// element is a violation, either a plain message string or an object with
// "message", "severity" and "details" keys. Violations with severity error or
// critical deny the launch. Lower severities are reported as warnings.
//
// # Input document
//
// Policies see the descriptor in its wire format under input.descriptor and
// the evaluation context under input.context:
//
//	input.descriptor.identifier
//	input.descriptor.process.type        "managed" or "alternate"
//	input.descriptor.process.memoryMb
//	input.descriptor.process.options
//	input.descriptor.files[_].name / .path / .kind
//	input.context.environment / .operation / .dry_run
//
// # Built-in policies
//
//   - launch-memory-bounds: memory between 128 MB and 64 GB
//   - launch-resource-paths: no parent traversal, no staged name collisions,
//     a warning for relative paths
//   - alternate-runtime-options: alternate processes accept args, gc, heap
//     and stack; options on managed processes draw a warning
//
// A loaded policy with the same name as a built-in replaces it.
//
// # Usage
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	if err := eng.LoadPolicies(ctx, []string{"/etc/launchpad/policies"}); err != nil {
//	    return err
//	}
//
//	result, err := eng.EvaluateLaunch(ctx, descriptor, nil)
//	if err != nil {
//	    return err
//	}
//	if err := result.Err(descriptor.Identifier); err != nil {
//	    return err // POLICY_DENIED
//	}
//
// # Custom policies
//
// Policies are loaded from .rego files or .json policy definitions. A .rego
// file is named after its base name; its leading comment block becomes the
// description, and "# severity:" and "# tags:" lines set those fields:
//
//	# Caps memory on the shared cluster.
//	# severity: critical
//	package custom.memory
//
//	import rego.v1
//
//	deny contains "memory above 4096 MB" if {
//	    input.descriptor.process.memoryMb > 4096
//	}
//
// Loader.Watch reloads policy directories on change and hands the full set
// to Engine.ReplacePolicies.
package policy
