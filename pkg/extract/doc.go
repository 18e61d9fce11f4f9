// Package extract turns materialized CUE instances into the documents the
// orchestrator consumes.
//
// # Passes
//
// Every pass is read-only and works on a single instance, so instances can
// be extracted in parallel once they have been built:
//
//   - Project: clean, order-preserving JSON projection of the value
//   - Provenance: field path to declaring file/line, from the syntax tree
//   - References: field path to reference target, evaluator first with a
//     syntax-tree fallback
//   - TaskPositions: local declaration site of every leaf task
//
// # Field paths
//
// All passes key their output by FieldPath ("tasks.ci[0].command"), which is
// what correlates the projection with the out-of-band metadata.
//
// # Why the syntax tree
//
// After unification a value's position is that of the conjunct the evaluator
// kept, usually a schema definition. The instance's own declaration site is
// only available from the parsed files, so provenance and task positions
// walk those instead of the value.
package extract
