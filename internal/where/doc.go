// Package where defines the abstract filter and selection trees shared
// by the filter compiler, the controller, and the storage adapters.
//
// A filter is a recursive boolean expression over field paths. The Node
// interface is sealed: only types in this package implement it, which
// keeps type switches in backend adapters exhaustive.
//
// Node types:
//   - Comparison: field <op> value (the only leaf adapters ever see)
//   - And, Or: boolean combinators over child nodes
//   - Reference: a sub-filter on the target class of a pointer or
//     relation field (compiled away before reaching an adapter)
//   - Emptiness: relation isEmpty true/false (also compiled away)
//
// Selections are finite trees built once per request, so recursive
// resolution over them terminates without a cycle guard.
package where
