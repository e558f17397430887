package bitmap

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned for negative or out-of-range indices and is
// wrapped by every *ParseError.
var ErrInvalidArgument = errors.New("bitmap: invalid argument")

// ParseError reports malformed textual input.
type ParseError struct {
	// Input is the complete string that was being parsed.
	Input string
	// Fragment is the part of Input that could not be parsed.
	Fragment string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("bitmap: cannot parse %q in %q", e.Fragment, e.Input)
}

// Unwrap returns ErrInvalidArgument.
func (e *ParseError) Unwrap() error {
	return ErrInvalidArgument
}

func invalidIndex(i int) error {
	return fmt.Errorf("%w: index %d", ErrInvalidArgument, i)
}
