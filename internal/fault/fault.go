// Package fault classifies errors so the command layer can decide what a
// user gets to see.
//
// Validation and Precondition errors carry a message meant for the user.
// RemoteUnavailable, Persistence and RoleGrant errors are logged with detail
// and shown as a generic failure.
package fault

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	Validation
	Precondition
	RemoteUnavailable
	Persistence
	RoleGrant
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Precondition:
		return "precondition"
	case RemoteUnavailable:
		return "remote_unavailable"
	case Persistence:
		return "persistence"
	case RoleGrant:
		return "role_grant"
	default:
		return "unknown"
	}
}

// Visible reports whether errors of this kind may be shown verbatim.
func (k Kind) Visible() bool { return k == Validation || k == Precondition }

type kindError struct {
	kind Kind
	err  error
}

func (e kindError) Error() string { return e.err.Error() }
func (e kindError) Unwrap() error { return e.err }

// Wrap tags err with kind. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return kindError{kind: kind, err: err}
}

// New returns a new error of the given kind.
func New(kind Kind, format string, args ...any) error {
	return kindError{kind: kind, err: fmt.Errorf(format, args...)}
}

// KindOf returns the outermost kind attached to err, or Unknown.
func KindOf(err error) Kind {
	var ke kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return Unknown
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool { return err != nil && KindOf(err) == kind }
