// Package connerr defines the error taxonomy shared by every connector operation.
package connerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a connector failure.
type Kind int

const (
	// ConnectionFailure covers transport errors and rejected credentials.
	ConnectionFailure Kind = iota + 1
	// InvalidInput covers unknown or disallowed attributes and rejected requests.
	InvalidInput
	// AlreadyExists is returned when a create collides with an existing object.
	AlreadyExists
	// UnknownTarget is returned when an update or delete addresses a missing object.
	UnknownTarget
	// UpstreamFailure covers server errors and unexpected backend responses.
	UpstreamFailure
)

func (k Kind) String() string {
	switch k {
	case ConnectionFailure:
		return "connection_failure"
	case InvalidInput:
		return "invalid_input"
	case AlreadyExists:
		return "already_exists"
	case UnknownTarget:
		return "unknown_target"
	case UpstreamFailure:
		return "upstream_failure"
	default:
		return "unknown"
	}
}

// Sentinel errors usable with errors.Is. Any *Error of the same kind matches.
var (
	ErrConnectionFailure = &Error{Kind: ConnectionFailure}
	ErrInvalidInput      = &Error{Kind: InvalidInput}
	ErrAlreadyExists     = &Error{Kind: AlreadyExists}
	ErrUnknownTarget     = &Error{Kind: UnknownTarget}
	ErrUpstreamFailure   = &Error{Kind: UpstreamFailure}
)

// Error is a classified connector failure.
type Error struct {
	Kind        Kind
	ObjectClass string
	ID          string
	Status      int
	Msg         string
	Err         error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.ObjectClass != "" {
		b.WriteString(" [")
		b.WriteString(e.ObjectClass)
		if e.ID != "" {
			b.WriteString(" ")
			b.WriteString(e.ID)
		}
		b.WriteString("]")
	}
	if e.Status != 0 {
		fmt.Fprintf(&b, " status=%d", e.Status)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New returns an error of the given kind.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap returns an error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf returns the kind carried by err, or 0 if err is not classified.
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return 0
}

// WithTarget returns a copy of err annotated with the object class and identifier.
// Errors that are not *Error are returned unchanged.
func WithTarget(err error, objectClass, id string) error {
	var ce *Error
	if !errors.As(err, &ce) {
		return err
	}
	cp := *ce
	if cp.ObjectClass == "" {
		cp.ObjectClass = objectClass
	}
	if cp.ID == "" {
		cp.ID = id
	}
	return &cp
}
