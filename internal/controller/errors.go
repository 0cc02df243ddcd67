package controller

import (
	"errors"
	"fmt"

	"github.com/quarrydb/quarry/internal/hook"
)

// ObjectNotFoundError reports that no object matched an id plus
// compiled filter. It is used uniformly whether the cause is true
// absence or an ACL exclusion, so authorization failures are not
// distinguishable from missing rows.
type ObjectNotFoundError struct {
	Class string
	ID    string
}

func (e *ObjectNotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("object not found: %s %s", e.Class, e.ID)
	}
	return fmt.Sprintf("object not found: %s", e.Class)
}

// HookRejectedError wraps an error raised by a Before* hook. Nothing
// has been written when it surfaces.
type HookRejectedError struct {
	Class string
	Op    hook.Op
	Err   error
}

func (e *HookRejectedError) Error() string {
	return fmt.Sprintf("hook rejected %s on %s: %v", e.Op, e.Class, e.Err)
}

func (e *HookRejectedError) Unwrap() error { return e.Err }

// PostCommitHookError wraps an error raised by an After* hook. The
// underlying adapter mutation has already committed; callers must
// treat this as a warning, never as a rollback signal.
type PostCommitHookError struct {
	Class string
	Op    hook.Op
	Err   error
}

func (e *PostCommitHookError) Error() string {
	return fmt.Sprintf("post-commit hook %s on %s failed: %v", e.Op, e.Class, e.Err)
}

func (e *PostCommitHookError) Unwrap() error { return e.Err }

// AdapterError wraps a backend-specific failure. Never retried
// automatically by the engine.
type AdapterError struct {
	Class string
	Err   error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("adapter error on %s: %v", e.Class, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// IsObjectNotFound reports whether err is (or wraps) an
// ObjectNotFoundError.
func IsObjectNotFound(err error) bool {
	var nf *ObjectNotFoundError
	return errors.As(err, &nf)
}

// IsHookRejected reports whether err is (or wraps) a HookRejectedError.
func IsHookRejected(err error) bool {
	var hr *HookRejectedError
	return errors.As(err, &hr)
}

// IsPostCommit reports whether err is (or wraps) a PostCommitHookError.
func IsPostCommit(err error) bool {
	var pc *PostCommitHookError
	return errors.As(err, &pc)
}
