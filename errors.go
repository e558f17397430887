package hwtopo

import (
	"errors"
	"fmt"

	"github.com/hupe1980/hwtopo/binding"
	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/blobstore"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/internal/distmat"
	"github.com/hupe1980/hwtopo/internal/memattr"
	"github.com/hupe1980/hwtopo/internal/snapshot"
	"github.com/hupe1980/hwtopo/internal/synthetic"
	"github.com/hupe1980/hwtopo/internal/tree"
)

var (
	// ErrInvalidArgument is returned for malformed input: bad indexes, bad
	// strings, mismatched lengths or contradictory flags.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when a lookup has no result.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied is returned when the operating system refuses a
	// binding or discovery request.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotSupported is returned when the active backend does not implement
	// an operation. Support reports these in advance.
	ErrNotSupported = errors.New("not supported")
	// ErrInvalidState is returned for operations attempted in the wrong
	// lifecycle state, such as a query before Load or a second Commit.
	ErrInvalidState = errors.New("invalid state")
	// ErrUseAfterRelease is returned when a released distance matrix or an
	// object of a destroyed topology is used.
	ErrUseAfterRelease = errors.New("use after release")
)

// PlatformError is a backend failure that maps to no other error. It
// carries the operating system error code.
type PlatformError = binding.PlatformError

// ParseError reports malformed bitmap text. It matches ErrInvalidArgument
// through errors.Is once returned by this package.
type ParseError = bitmap.ParseError

// translateError maps the errors of the internal packages onto the public
// sentinels. The original error stays in the chain.
func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Already translated.
	for _, s := range []error{ErrInvalidArgument, ErrNotFound, ErrPermissionDenied, ErrNotSupported, ErrInvalidState, ErrUseAfterRelease} {
		if errors.Is(err, s) {
			return err
		}
	}

	var pe *binding.PlatformError
	if errors.As(err, &pe) {
		return err
	}

	switch discovery.KindOf(err) {
	case discovery.KindSyntax, discovery.KindInvalid:
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	case discovery.KindNotFound:
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case discovery.KindPermission:
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case discovery.KindUnsupported:
		return fmt.Errorf("%w: %w", ErrNotSupported, err)
	}

	switch {
	case errors.Is(err, binding.ErrNotSupported),
		errors.Is(err, synthetic.ErrUnsupported),
		errors.Is(err, snapshot.ErrUnsupported):
		return fmt.Errorf("%w: %w", ErrNotSupported, err)
	case errors.Is(err, binding.ErrPermission):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case errors.Is(err, memattr.ErrNotFound),
		errors.Is(err, memattr.ErrNoValue),
		errors.Is(err, blobstore.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, memattr.ErrReadOnly):
		return fmt.Errorf("%w: %w", ErrInvalidState, err)
	case errors.Is(err, binding.ErrInvalidArgument),
		errors.Is(err, bitmap.ErrInvalidArgument),
		errors.Is(err, tree.ErrEmptyGroup),
		errors.Is(err, tree.ErrGroupOverlap),
		errors.Is(err, tree.ErrInvalidFlags),
		errors.Is(err, tree.ErrEmptyRestriction),
		errors.Is(err, distmat.ErrSize),
		errors.Is(err, distmat.ErrDuplicate),
		errors.Is(err, distmat.ErrKind),
		errors.Is(err, distmat.ErrTooSmall),
		errors.Is(err, distmat.ErrNotDivisible),
		errors.Is(err, distmat.ErrTransform),
		errors.Is(err, memattr.ErrExists),
		errors.Is(err, memattr.ErrFlags),
		errors.Is(err, memattr.ErrNeedInitiator),
		errors.Is(err, synthetic.ErrAsymmetric),
		errors.Is(err, snapshot.ErrCorrupt),
		errors.Is(err, blobstore.ErrInvalidName):
		return fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	return err
}
