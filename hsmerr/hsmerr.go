// Package hsmerr defines the typed error kinds raised by the state-machine
// core: structural violations, join conflicts, use-after-drop, mismatched
// typed accessors, and internal invariant failures.
package hsmerr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies why an operation failed.
type Kind int

const (
	// NoneKind is the zero value; never returned from a constructor.
	NoneKind Kind = iota
	// NotAllowedKind marks a structural rule violation or a mutation
	// attempted after assembly.
	NotAllowedKind
	// JoinErrorKind marks an orthogonal region finalizing while a sibling
	// is awaiting join, or vice versa.
	JoinErrorKind
	// DeletedErrorKind marks use of a handle after its owning machine was
	// dropped.
	DeletedErrorKind
	// StateErrorKind marks a typed accessor invoked against the wrong
	// vertex variant.
	StateErrorKind
	// InternalErrorKind marks a broken core invariant.
	InternalErrorKind
)

func (k Kind) String() string {
	switch k {
	case NotAllowedKind:
		return "not_allowed"
	case JoinErrorKind:
		return "join_error"
	case DeletedErrorKind:
		return "deleted_error"
	case StateErrorKind:
		return "state_error"
	case InternalErrorKind:
		return "internal_error"
	default:
		return "none"
	}
}

// Error is the single exported error type for the core. Element and
// ElementName are optional; when both are set the message is prefixed
// "In state machine '<machine>': <element> '<name>' ...".
type Error struct {
	Kind        Kind
	Machine     string
	Element     string
	ElementName string
	Message     string
	Cause       error
}

func (e *Error) Error() string {
	prefix := ""
	if e.Machine != "" {
		prefix = fmt.Sprintf("In state machine '%s': ", e.Machine)
	}
	if e.Element != "" {
		prefix += fmt.Sprintf("%s '%s' ", e.Element, e.ElementName)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s%s: %v", prefix, e.Message, e.Cause)
	}
	return prefix + e.Message
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NotAllowed builds a not_allowed error.
func NotAllowed(machine, element, elementName, message string) *Error {
	return &Error{Kind: NotAllowedKind, Machine: machine, Element: element, ElementName: elementName, Message: message}
}

// JoinConflict builds a join_error error.
func JoinConflict(machine, elementName, message string) *Error {
	return &Error{Kind: JoinErrorKind, Machine: machine, Element: "pseudostate", ElementName: elementName, Message: message}
}

// Deleted builds a deleted_error error.
func Deleted(machine string) *Error {
	return &Error{Kind: DeletedErrorKind, Machine: machine, Message: "transition handle used after the owning state machine was dropped"}
}

// WrongState builds a state_error for a mismatched typed accessor.
func WrongState(machine, elementName, wantVariant, gotVariant string) *Error {
	return &Error{
		Kind:        StateErrorKind,
		Machine:     machine,
		Element:     "transition",
		ElementName: elementName,
		Message:     fmt.Sprintf("requested as %s but is %s", wantVariant, gotVariant),
	}
}

// Internal builds an internal_error, wrapping cause with a stack trace via
// github.com/pkg/errors so a bug report carries a trace instead of a bare
// string.
func Internal(machine, message string, cause error) *Error {
	var wrapped error
	if cause != nil {
		wrapped = errors.WithStack(cause)
	}
	return &Error{Kind: InternalErrorKind, Machine: machine, Message: message, Cause: wrapped}
}

// KindOf extracts the Kind from err, or NoneKind if err is not (or does not
// wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return NoneKind
}

// Is reports whether err is (or wraps) an *Error of the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
