// Package controller is the query/mutation orchestrator: it owns the
// full lifecycle of every get/create/update/delete/count against the
// object store.
//
// Each operation runs the same pipeline, strictly in sequence:
//
//	filter compiled (ACL injected) -> before hooks -> adapter ->
//	references resolved -> after hooks -> projection
//
// Stages before the adapter call may abort with no side effect; once
// the adapter has executed, the mutation is committed and is never
// retried by the engine (a blind retry could double-create). After*
// hook failures are therefore surfaced as post-commit errors, not
// rollback triggers.
//
// The controller calls itself recursively for pointer and relation
// resolution and for the materializing re-read after writes; recursion
// is bounded by the selection tree's depth and a configurable cap.
package controller
