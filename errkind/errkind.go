// Package errkind defines the error kinds shared by every package of the
// module. Each concrete error matches exactly one kind with errors.Is.
package errkind

import (
	"fmt"
	"strings"

	"github.com/go-faster/errors"
)

// Error kinds.
var (
	// ErrBadIdentity marks a malformed table locator.
	ErrBadIdentity = errors.New("bad table identity")
	// ErrNotFound marks a missing schema, spec, bucket, snapshot or object.
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput marks caller or data errors such as a wrong value type.
	ErrInvalidInput = errors.New("invalid input")
	// ErrConflict marks a concurrent write that could not be reconciled.
	ErrConflict = errors.New("commit conflict")
	// ErrTransient marks network or storage failures from collaborators.
	ErrTransient = errors.New("transient failure")
	// ErrStreamFailure marks encode, decode or upload pipeline failures.
	ErrStreamFailure = errors.New("stream failure")
)

// Error carries a kind, the failing operation and an optional cause.
type Error struct {
	Kind error
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	parts := make([]string, 0, 3)
	if e.Op != "" {
		parts = append(parts, e.Op)
	}
	switch {
	case e.Msg != "":
		parts = append(parts, e.Msg)
	case e.Err == nil:
		parts = append(parts, e.Kind.Error())
	}
	if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}
	return strings.Join(parts, ": ")
}

// Unwrap returns the cause.
func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool { return target == e.Kind }

func newf(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// BadIdentity returns an ErrBadIdentity error.
func BadIdentity(op, format string, args ...any) error {
	return newf(ErrBadIdentity, op, format, args...)
}

// NotFound returns an ErrNotFound error.
func NotFound(op, format string, args ...any) error {
	return newf(ErrNotFound, op, format, args...)
}

// InvalidInput returns an ErrInvalidInput error.
func InvalidInput(op, format string, args ...any) error {
	return newf(ErrInvalidInput, op, format, args...)
}

// Conflict returns an ErrConflict error.
func Conflict(op, format string, args ...any) error {
	return newf(ErrConflict, op, format, args...)
}

// Transient wraps a collaborator failure. Errors that already carry a kind
// keep it.
func Transient(op string, err error) error {
	if err == nil || Kind(err) != nil {
		return err
	}
	return &Error{Kind: ErrTransient, Op: op, Err: err}
}

// Stream wraps a pipeline failure. Errors that already carry a kind other
// than ErrTransient keep it.
func Stream(op string, err error) error {
	if err == nil {
		return nil
	}
	if k := Kind(err); k != nil && k != ErrTransient {
		return err
	}
	return &Error{Kind: ErrStreamFailure, Op: op, Err: err}
}

var kinds = []error{ErrBadIdentity, ErrNotFound, ErrInvalidInput, ErrConflict, ErrTransient, ErrStreamFailure}

// Kind returns the kind carried by err, or nil.
func Kind(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// CommitConflictError is returned by a catalog when a commit requirement no
// longer holds, i.e. another writer moved the table first.
type CommitConflictError struct {
	Table string
	Cause error
}

func (e *CommitConflictError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("commit conflict on table %s: %v", e.Table, e.Cause)
	}
	return "commit conflict on table " + e.Table
}

// Unwrap returns the underlying cause.
func (e *CommitConflictError) Unwrap() error { return e.Cause }

// Is reports whether the target matches this error.
func (e *CommitConflictError) Is(target error) bool { return target == ErrConflict }

// IsCommitConflict reports whether err is a catalog precondition conflict
// that the commit protocol may retry.
func IsCommitConflict(err error) bool {
	var c *CommitConflictError
	return errors.As(err, &c)
}

// IsRetryable reports whether the error may succeed on retry.
func IsRetryable(err error) bool {
	return IsCommitConflict(err) || errors.Is(err, ErrTransient)
}
