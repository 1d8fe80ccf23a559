package oracle

import (
	"errors"
	"fmt"
)

// Protocol errors. Rejected before any side effect; the caller can retry
// with corrected input.
var (
	// ErrIncompatibleVersion is returned by the handshake when the
	// controller's token does not match a served API version, and by every
	// other operation issued on a session that has not completed a
	// handshake.
	ErrIncompatibleVersion = errors.New("incompatible API version")

	// ErrTooManyOps is returned when a request carries more unmap or map
	// entries than MaxMapOps.
	ErrTooManyOps = errors.New("too many mapping operations")

	ErrMisalignedAddress = errors.New("address is not page aligned")
	ErrBadProtection     = errors.New("invalid protection bits")
)

// Resolution errors. Rejected before any mutation.
var (
	ErrNoSuchProcess    = errors.New("no such process")
	ErrPermissionDenied = errors.New("permission denied")
)

// Transactional errors. Detected mid-transaction; any mapping already
// applied in the same transaction is rolled back before the error is
// surfaced.
var (
	ErrMappingConflict      = errors.New("mapping conflicts with an existing mapping")
	ErrInvalidRegisterState = errors.New("invalid register state")
)

// ErrProcessBusy is returned when an observation is already in flight for
// the same target process. Recoverable, the caller retries.
var ErrProcessBusy = errors.New("target process busy")

// ErrProcessExited is returned by operations on a target that has
// terminated outside of an observation. An exit during an observation is
// an outcome, not an error.
type ErrProcessExited struct {
	Pid    int
	Status int
}

func (e ErrProcessExited) Error() string {
	return fmt.Sprintf("process %d has exited with status %d", e.Pid, e.Status)
}
