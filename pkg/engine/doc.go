// Package engine evaluates CUE modules into JSON projections and metadata.
//
// # Phases
//
// A call to Engine.Run goes through three steps:
//
//  1. Load - discover instances below the module root (package loader)
//  2. Build - materialize each instance on one cue.Context, in order
//  3. Extract - project and annotate the built instances in parallel
//
// Build and Extract never interleave. The cue.Context is not safe for
// concurrent use, so every instance is built and validated before the first
// worker starts; workers only read.
//
// # Partial failure
//
// An instance that fails to load, build or project is dropped from the
// result and described in ModuleResult.Diagnostics. Run returns an error
// only when discovery fails, when a worker panics, or when no instance
// survives. Errors are *EngineError values carrying an ErrorCode:
//
//   - INVALID_INPUT: malformed request, never retryable
//   - LOAD_FAILURE: discovery failed
//   - BUILD_FAILURE: nothing built
//   - PROJECTION_FAILURE: built, but nothing projected
//   - PANIC_RECOVERED: a worker panicked
//   - REGISTRY_INIT_FAILURE: the module registry could not be created
//
// # Aggregation
//
// Worker outcomes are merged by a single consumer. The merge is
// order-independent: projects are sorted, metadata is keyed by
// "<instance>/<field-path>", and diagnostics are sorted by instance.
package engine
