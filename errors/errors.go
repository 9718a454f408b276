package errors

import (
	stderrors "errors"
	"fmt"
)

// Is re-exports the standard errors.Is so callers importing this package
// do not need a second aliased import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

var (
	ErrWorkerPanic         = fmt.Errorf("worker panic")
	ErrNotFound            = fmt.Errorf("unknown transfer code")
	ErrAlreadyActive       = fmt.Errorf("an active session already exists for this transfer")
	ErrInvalidSession      = fmt.Errorf("operation on terminal or unknown session")
	ErrSessionIdle         = fmt.Errorf("session idle past the allowed window")
	ErrDecode              = fmt.Errorf("malformed chunk envelope")
	ErrStorageUnavailable  = fmt.Errorf("source file missing or unreadable")
	ErrRecipientBound      = fmt.Errorf("transfer already bound to another recipient")
	ErrProgressRegression  = fmt.Errorf("progress value lower than the persisted one")
	ErrStatusRegression    = fmt.Errorf("transfer status cannot move backwards")
	ErrForbiddenFilename   = fmt.Errorf("filename rejected by screening")
	ErrInvalidTransferCode = fmt.Errorf("transfer code must be 8 uppercase characters")
)

// Kind maps an internal error to the stable machine-checkable string
// carried on wire rejection events. Recipients only ever see these kinds,
// never the wrapped detail.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case Is(err, ErrNotFound):
		return "not_found"
	case Is(err, ErrAlreadyActive):
		return "already_active"
	case Is(err, ErrInvalidSession):
		return "invalid_session"
	case Is(err, ErrSessionIdle):
		return "session_idle"
	case Is(err, ErrDecode):
		return "decode_error"
	case Is(err, ErrStorageUnavailable):
		return "storage_unavailable"
	case Is(err, ErrRecipientBound):
		return "recipient_bound"
	case Is(err, ErrForbiddenFilename):
		return "forbidden_filename"
	default:
		return "internal"
	}
}
