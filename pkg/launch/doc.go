// Package launch defines the launch descriptor handed to a resource manager
// when an evaluator starts: the evaluator configuration with its serialized
// fragments, the process the evaluator runs in, and the files shipped with it.
//
// Process descriptors come from a ProcessFactory. NewProcess picks the default
// factory for a process type and falls back to the managed runtime for types
// it does not know.
//
// Files and libraries are tracked in separate ResourceSets keyed by path.
// Adding a path twice is a no-op, and a sealed set rejects additions.
package launch
