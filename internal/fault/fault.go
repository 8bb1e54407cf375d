// Package fault defines the error taxonomy shared by every storyLOOM
// component. Operations return *Error values carrying a stable code so
// callers (and the transport layer above the core) can branch on the class
// of failure without string matching.
package fault

import (
	"errors"
	"fmt"
)

// Code classifies an error.
type Code string

const (
	// CodeNotFound - referenced entity missing (story, fragment, analysis, branch, provider).
	CodeNotFound Code = "NotFound"
	// CodeInvalidArgument - empty required field, unknown enum, malformed id.
	CodeInvalidArgument Code = "InvalidArgument"
	// CodeConflict - operation valid but state forbids it (delete before archive,
	// switch to a variation not in the section, duplicate id).
	CodeConflict Code = "Conflict"
	// CodeProtected - write would modify a locked fragment or remove a frozen
	// section. Returned from tools only.
	CodeProtected Code = "Protected"
	// CodeUnavailable - outbound LLM error, model unreachable.
	CodeUnavailable Code = "Unavailable"
	// CodeInternal - unexpected state (missing content root, JSON parse failure).
	CodeInternal Code = "Internal"
)

// Error is a classified operation error.
type Error struct {
	Code    Code
	Op      string // operation that failed, e.g. "store.GetFragment"
	Key     string // entity key when one is involved, e.g. "pr-bokura"
	Message string
	Err     error // wrapped cause, if any
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch {
	case e.Key != "" && msg != "":
		return fmt.Sprintf("%s: %s: %s: %s", e.Op, e.Code, e.Key, msg)
	case e.Key != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Key)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NotFound reports a missing entity.
func NotFound(op, key string) *Error {
	return &Error{Code: CodeNotFound, Op: op, Key: key, Message: "not found"}
}

// InvalidArgument reports a malformed or missing argument.
func InvalidArgument(op, message string) *Error {
	return &Error{Code: CodeInvalidArgument, Op: op, Message: message}
}

// Conflict reports a state conflict.
func Conflict(op, key, message string) *Error {
	return &Error{Code: CodeConflict, Op: op, Key: key, Message: message}
}

// Protected reports a write rejected by the write guard.
func Protected(op, key, message string) *Error {
	return &Error{Code: CodeProtected, Op: op, Key: key, Message: message}
}

// Unavailable reports an outbound dependency failure.
func Unavailable(op string, err error) *Error {
	return &Error{Code: CodeUnavailable, Op: op, Err: err}
}

// Internal reports unexpected state.
func Internal(op string, err error) *Error {
	return &Error{Code: CodeInternal, Op: op, Err: err}
}

// Internalf reports unexpected state with a formatted message.
func Internalf(op, format string, args ...interface{}) *Error {
	return &Error{Code: CodeInternal, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and operation to an existing error. If err is already
// a *Error its code is preserved and only the operation chain grows.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		return &Error{Code: fe.Code, Op: op, Key: fe.Key, Err: err}
	}
	return &Error{Code: CodeInternal, Op: op, Err: err}
}

// CodeOf extracts the code from an error chain. Returns CodeInternal for
// non-nil errors without a classification and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return CodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsNotFound is a convenience for the most common check.
func IsNotFound(err error) bool { return IsCode(err, CodeNotFound) }
