package hwtopo

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/hwtopo/binding"
	"github.com/hupe1980/hwtopo/blobstore"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/internal/distmat"
	"github.com/hupe1980/hwtopo/internal/memattr"
	"github.com/hupe1980/hwtopo/internal/tree"
)

func TestTranslateError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"syntax", discovery.Wrap(discovery.KindSyntax, "xml", errors.New("bad tag")), ErrInvalidArgument},
		{"missing file", fileErr("xml", fs.ErrNotExist), ErrNotFound},
		{"permission", fileErr("xml", fs.ErrPermission), ErrPermissionDenied},
		{"unsupported backend", discovery.Wrap(discovery.KindUnsupported, "linux", errors.New("no sysfs")), ErrNotSupported},
		{"binding unsupported", fmt.Errorf("set: %w", binding.ErrNotSupported), ErrNotSupported},
		{"binding permission", binding.ErrPermission, ErrPermissionDenied},
		{"group overlap", tree.ErrGroupOverlap, ErrInvalidArgument},
		{"distances size", distmat.ErrSize, ErrInvalidArgument},
		{"read only attribute", memattr.ErrReadOnly, ErrInvalidState},
		{"no value", memattr.ErrNoValue, ErrNotFound},
		{"missing blob", blobstore.ErrNotFound, ErrNotFound},
		{"already translated", fmt.Errorf("%w: x", ErrUseAfterRelease), ErrUseAfterRelease},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translateError(tt.err)
			assert.ErrorIs(t, got, tt.want)
			assert.ErrorIs(t, got, tt.err, "original error stays in the chain")
		})
	}

	assert.NoError(t, translateError(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, translateError(plain))

	pe := &binding.PlatformError{Op: "sched_setaffinity", Code: 5, Message: "I/O error"}
	var got *PlatformError
	assert.ErrorAs(t, translateError(pe), &got)
	assert.Equal(t, 5, got.Code)
}
