package icemeta

import (
	"github.com/go-iceberg/icemeta/errkind"
)

// Error kinds. Every error returned by the module matches exactly one of
// them with errors.Is.
var (
	ErrBadIdentity   = errkind.ErrBadIdentity
	ErrNotFound      = errkind.ErrNotFound
	ErrInvalidInput  = errkind.ErrInvalidInput
	ErrConflict      = errkind.ErrConflict
	ErrTransient     = errkind.ErrTransient
	ErrStreamFailure = errkind.ErrStreamFailure
)

// CommitConflictError is returned when a catalog rejects a commit because
// another writer moved the table first.
type CommitConflictError = errkind.CommitConflictError

// InvalidInput returns an ErrInvalidInput error.
func InvalidInput(op, format string, args ...any) error {
	return errkind.InvalidInput(op, format, args...)
}

// IsRetryable reports whether the error may succeed on retry.
func IsRetryable(err error) bool {
	return errkind.IsRetryable(err)
}

// IsCommitConflict reports whether err is a catalog precondition conflict.
func IsCommitConflict(err error) bool {
	return errkind.IsCommitConflict(err)
}
