package transfer

import (
	"errors"
	"fmt"
)

var (
	// ErrHandshake indicates the first datagram could not start a session.
	ErrHandshake = errors.New("handshake failed")
	// ErrFileAccess indicates the destination file could not be opened.
	ErrFileAccess = errors.New("file access")
	// ErrUnsafePath indicates a client-supplied name or directory escaped the root.
	ErrUnsafePath = errors.New("unsafe destination path")
	// ErrRetryBudgetExceeded indicates too many consecutive non-progress events.
	ErrRetryBudgetExceeded = errors.New("retry budget exceeded")
	// ErrChecksumMismatch indicates the assembled file does not match file_md5.
	ErrChecksumMismatch = errors.New("file checksum mismatch")
	// ErrIO indicates a read or write on the destination file failed.
	ErrIO = errors.New("i/o error")
)

// Reason classifies why a fragment was rejected or a session ended.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonHandshake        Reason = "handshake"
	ReasonMalformed        Reason = "malformed"
	ReasonChecksumMismatch Reason = "checksum_mismatch"
	ReasonDuplicate        Reason = "duplicate"
	ReasonTimeout          Reason = "timeout"
	ReasonRetryBudget      Reason = "retry_budget_exceeded"
	ReasonIO               Reason = "io"
)

// SessionError is the terminal failure of a session.
type SessionError struct {
	Reason Reason
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func sessionError(reason Reason, err error) *SessionError {
	return &SessionError{Reason: reason, Err: err}
}

// ReasonOf extracts the failure reason from err, or ReasonNone for nil.
func ReasonOf(err error) Reason {
	if err == nil {
		return ReasonNone
	}
	var se *SessionError
	if errors.As(err, &se) {
		return se.Reason
	}
	switch {
	case errors.Is(err, ErrHandshake):
		return ReasonHandshake
	case errors.Is(err, ErrRetryBudgetExceeded):
		return ReasonRetryBudget
	case errors.Is(err, ErrChecksumMismatch):
		return ReasonChecksumMismatch
	default:
		return ReasonIO
	}
}
