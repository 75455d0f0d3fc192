// Package xerrors defines the closed set of error kinds the engine's
// operations may fail with. Every stage wraps its failures in one of these
// so callers can branch on category without parsing messages.
package xerrors

import "fmt"

// Kind classifies an engine failure.
type Kind int

const (
	IoFailure Kind = iota
	MalformedFits
	DimensionMismatch
	EmptyInput
	InsufficientChannels
	OutOfRange
	UnsupportedFeature
	Internal
)

func (k Kind) String() string {
	switch k {
	case IoFailure:
		return "IoFailure"
	case MalformedFits:
		return "MalformedFits"
	case DimensionMismatch:
		return "DimensionMismatch"
	case EmptyInput:
		return "EmptyInput"
	case InsufficientChannels:
		return "InsufficientChannels"
	case OutOfRange:
		return "OutOfRange"
	case UnsupportedFeature:
		return "UnsupportedFeature"
	case Internal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// Error is a typed, wrappable engine error.
type Error struct {
	Kind  Kind
	Stage string // e.g. "fits.Decode", "stack.Apply" — identifies the failing component
	Msg   string
	Err   error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Stage, e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Stage, e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, xerrors.IoFailure)-style kind checks via a
// sentinel wrapper, since Kind itself isn't an error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds an *Error for the given kind, stage and message.
func New(kind Kind, stage, msg string) *Error {
	return &Error{Kind: kind, Stage: stage, Msg: msg}
}

// Wrap builds an *Error that carries an underlying cause.
func Wrap(kind Kind, stage, msg string, err error) *Error {
	return &Error{Kind: kind, Stage: stage, Msg: msg, Err: err}
}

// Sentinel returns a zero-value *Error of the given kind, suitable for use
// as the target of errors.Is.
func Sentinel(kind Kind) *Error { return &Error{Kind: kind} }
