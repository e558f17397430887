package discovery

import (
	"errors"
	"fmt"
)

// Kind classifies discovery failures.
type Kind int

const (
	// KindSyntax is a malformed synthetic description or snapshot.
	KindSyntax Kind = iota + 1
	// KindInvalid is a well-formed input describing an impossible topology.
	KindInvalid
	// KindNotFound is a missing file, process or snapshot.
	KindNotFound
	// KindPermission is insufficient privilege to read the source.
	KindPermission
	// KindUnsupported is a source this platform cannot discover.
	KindUnsupported
	// KindIO is any other read failure.
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindSyntax:
		return "syntax"
	case KindInvalid:
		return "invalid"
	case KindNotFound:
		return "not found"
	case KindPermission:
		return "permission denied"
	case KindUnsupported:
		return "unsupported"
	case KindIO:
		return "io"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is a structured discovery failure.
type Error struct {
	Kind   Kind
	Source string // backend name, e.g. "synthetic", "xml", "linux"
	Detail string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("discovery (%s): %s", e.Source, e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error with a formatted detail message.
func Errorf(kind Kind, source, format string, args ...any) *Error {
	return &Error{Kind: kind, Source: source, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around err.
func Wrap(kind Kind, source string, err error) *Error {
	return &Error{Kind: kind, Source: source, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
