// Package cerr defines the CuckooErrorCode taxonomy (spec §7) and the small
// wrapping helpers built on github.com/pkg/errors that every package uses to
// keep transport/connection failures and per-item codes from getting mixed
// up: a Code is what goes in a MetaProcessInfo slot, an error is what a Go
// function returns.
package cerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is the per-item / per-call outcome written into MetaProcessInfo and
// returned by synchronous client calls. It is never a Go error type: batch
// tasks must give every item a Code even when the task as a whole also
// carries a Go error describing why.
type Code int32

const (
	SUCCESS Code = iota
	FILE_EXISTS
	NOT_FOUND
	PERMISSION_DENIED
	PROGRAM_ERROR
	IO_ERROR
	INIT_LOG_FAILED
	TIMEOUT
)

func (c Code) String() string {
	switch c {
	case SUCCESS:
		return "SUCCESS"
	case FILE_EXISTS:
		return "FILE_EXISTS"
	case NOT_FOUND:
		return "NOT_FOUND"
	case PERMISSION_DENIED:
		return "PERMISSION_DENIED"
	case PROGRAM_ERROR:
		return "PROGRAM_ERROR"
	case IO_ERROR:
		return "IO_ERROR"
	case INIT_LOG_FAILED:
		return "INIT_LOG_FAILED"
	case TIMEOUT:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("CuckooErrorCode(%d)", int32(c))
	}
}

// Ok reports whether c is a success-like outcome. FILE_EXISTS is
// success-like for some operations (spec §4.3) but callers must check that
// explicitly rather than relying on Ok, since the right behavior depends on
// the operation being performed.
func (c Code) Ok() bool { return c == SUCCESS }

// codedError pairs a Code with the wrapped cause so IO_ERROR/PROGRAM_ERROR
// raised deep in a call chain still carry their original error text.
type codedError struct {
	code  Code
	cause error
}

func (e *codedError) Error() string { return e.code.String() + ": " + e.cause.Error() }
func (e *codedError) Unwrap() error { return e.cause }
func (e *codedError) Code() Code    { return e.code }

// New wraps msg with a stack trace (pkg/errors) and tags it with code.
func New(code Code, msg string) error {
	return &codedError{code: code, cause: errors.New(msg)}
}

// Wrap tags err with code, preserving err as the cause via errors.Wrap.
func Wrap(code Code, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, cause: errors.Wrap(err, msg)}
}

// CodeOf extracts the Code tagged on err by New/Wrap, defaulting to
// PROGRAM_ERROR for an untagged error and SUCCESS for nil — the same
// default spec §7 assigns to decode corruption and transport failures.
func CodeOf(err error) Code {
	if err == nil {
		return SUCCESS
	}
	var ce *codedError
	if errors.As(err, &ce) {
		return ce.code
	}
	return PROGRAM_ERROR
}

// Is reports whether err (or its cause chain) was tagged with code.
func Is(err error, code Code) bool { return CodeOf(err) == code }
