package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionFailure   = errors.New("obex: connection failure")
	ErrConnectionClosed    = errors.New("obex: connection closed")
	ErrEndOfStream         = errors.New("obex: end of stream")
	ErrTruncatedStream     = errors.New("obex: truncated stream")
	ErrWriteFailure        = errors.New("obex: write failure")
	ErrProtocol            = errors.New("obex: protocol error")
	ErrRemoteRefused       = errors.New("obex: remote refused")
	ErrOperationAborted    = errors.New("obex: operation aborted")
	ErrNotConnected        = errors.New("obex: session not connected")
	ErrOperationInProgress = errors.New("obex: operation in progress")
)

// RefusedError is a well-formed response carrying a non-success status.
type RefusedError struct {
	Op   Opcode
	Code ResponseCode
}

func (e *RefusedError) Error() string {
	return fmt.Sprintf("obex: %s refused: %s", e.Op, e.Code)
}

func (e *RefusedError) Unwrap() error {
	return ErrRemoteRefused
}

// Refused builds a RefusedError for op answered with code.
func Refused(op Opcode, code ResponseCode) error {
	return &RefusedError{Op: op, Code: code}
}

// Protocolf wraps ErrProtocol with context.
func Protocolf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocol, fmt.Sprintf(format, args...))
}

// IsFatal reports whether err invalidates the session that observed it.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch {
	case errors.Is(err, ErrRemoteRefused),
		errors.Is(err, ErrOperationAborted),
		errors.Is(err, ErrNotConnected),
		errors.Is(err, ErrOperationInProgress):
		return false
	}
	return true
}
