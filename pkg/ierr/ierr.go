// Package ierr provides the typed error classification an import loop
// uses to distinguish per-package failures (recorded against the
// offending package and otherwise ignored) from fatal ones (abort the
// whole run).
package ierr

import (
	"fmt"
	"strings"
)

// Code classifies an error the way the import loop needs to react to it.
type Code string

const (
	// ExtensionFailed: an extension subprocess exited non-zero.
	ExtensionFailed Code = "EXTENSION_FAILED"
	// ImportFailed: a source checkout or mirror fetch could not complete.
	ImportFailed Code = "IMPORT_FAILED"
	// RefNotFound: none of the candidate version refs exist in the source.
	RefNotFound Code = "REF_NOT_FOUND"
	// DescriptorConflict: two mirror descriptors disagree on a shared field.
	DescriptorConflict Code = "DESCRIPTOR_CONFLICT"
	// InvalidDescriptor: a descriptor file failed to parse or validate.
	InvalidDescriptor Code = "INVALID_DESCRIPTOR"
	// CyclesDetected: the processed graph contains a cycle; fatal to the run.
	CyclesDetected Code = "CYCLES_DETECTED"
	// Conflict: two version constraints on the same project cannot both hold.
	Conflict Code = "CONFLICT"
	// UnmatchedOperator: a constraint string used an operator we don't know.
	UnmatchedOperator Code = "UNMATCHED_OPERATOR"
)

// Error is a structured error carrying a Code for programmatic dispatch
// alongside the usual message/cause chain.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates an Error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an Error around an existing cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// WithContext attaches debugging context and returns the same error.
func (e *Error) WithContext(ctx map[string]any) *Error {
	e.Context = ctx
	return e
}

// Is reports whether err is an *Error with the given code, so callers
// can classify an error returned through several layers of fmt.Errorf
// wrapping without type-asserting at every call site.
func Is(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code == code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// CodeOf returns the Code of err if it is (or wraps) an *Error, and ok=false
// otherwise.
func CodeOf(err error) (Code, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Code, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

// JoinCycle renders a strongly-connected component as "A->B->C->A" for
// CyclesDetected error messages.
func JoinCycle(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.Join(names, "->") + "->" + names[0]
}
