// Package transmute is a type-driven route planner and executor for
// data-format conversions.
//
// Data is described by property bags ("I have bytes with format=png,
// width=4096"), targets by patterns over those bags ("format == webp,
// width <= 1024"). The planner searches a registry of converter
// declarations for a sequence whose composition satisfies the target,
// and an executor runs that sequence under a chosen resource policy:
// sequentially, sequentially with a fail-fast memory limit, or in
// parallel under a shared memory budget with backpressure.
//
// The layers compose bottom-up:
//
//   - pkg/property: values, property bags and patterns
//   - pkg/converter: the converter contract (ports, declarations)
//   - pkg/registry: the indexed, immutable converter collection
//   - pkg/planner: best-first search producing immutable plans
//   - pkg/executor: execution policies and the memory budget
//   - pkg/orchestrator: cardinality fan-out/fan-in (1→1, 1→N, N→1, N→M)
//   - pkg/workflow: the serialised shape of a plan request
//   - pkg/plugin: converter plug-in discovery and the ABI gate
//
// The Engine in this package wires them together for the common case:
//
//	eng, err := transmute.New()
//	if err != nil { ... }
//	res, err := eng.Convert(ctx, data,
//		property.New().With("format", "json"),
//		property.NewPattern().WithEq("format", "yaml"))
//
// Registries are per-scope, passed explicitly and immutable once
// built; there is no process-global state.
package transmute
