package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hwtopo/internal/fs"
)

func TestLocalStoreLifecycle(t *testing.T) {
	dir := t.TempDir()
	store := NewLocalStore(dir)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "hosts/a.xml", []byte("<topology/>")))
	require.NoError(t, store.Put(ctx, "hosts/b.xml", []byte("second")))
	require.NoError(t, store.Put(ctx, "root.json", []byte("{}")))

	_, err := os.Stat(filepath.Join(dir, "hosts", "a.xml"))
	require.NoError(t, err)

	data, err := ReadAll(ctx, store, "hosts/a.xml")
	require.NoError(t, err)
	assert.Equal(t, "<topology/>", string(data))

	names, err := store.List(ctx, "hosts/")
	require.NoError(t, err)
	assert.Equal(t, []string{"hosts/a.xml", "hosts/b.xml"}, names)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	require.NoError(t, store.Put(ctx, "hosts/a.xml", []byte("replaced")))
	data, err = ReadAll(ctx, store, "hosts/a.xml")
	require.NoError(t, err)
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, store.Delete(ctx, "hosts/a.xml"))
	require.NoError(t, store.Delete(ctx, "hosts/a.xml"), "deleting twice is fine")
	_, err = store.Open(ctx, "hosts/a.xml")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreInvalidNames(t *testing.T) {
	store := NewLocalStore(t.TempDir())
	for _, name := range []string{"", "/etc/passwd", "../escape", `a\b`} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, store.Put(context.Background(), name, nil), ErrInvalidName)
		})
	}
}

func TestLocalStoreFailedPutKeepsOldBlob(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, NewLocalStore(dir).Put(ctx, "topo.xml", []byte("good")))

	tests := []struct {
		name  string
		fault fs.Fault
		match string
	}{
		{"write", fs.Fault{FailAfterBytes: 2}, ".put-"},
		{"sync", fs.Fault{FailAfterBytes: -1, FailOnSync: true}, ".put-"},
		{"close", fs.Fault{FailAfterBytes: -1, FailOnClose: true}, ".put-"},
		{"rename", fs.Fault{FailAfterBytes: -1, FailOnRename: true}, "topo.xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ffs := fs.NewFaultyFS(nil)
			ffs.AddRule(tt.match, tt.fault)
			store := NewLocalStore(dir, WithFileSystem(ffs))

			err := store.Put(ctx, "topo.xml", []byte("replacement"))
			assert.True(t, errors.Is(err, fs.ErrInjected))

			data, err := ReadAll(ctx, store, "topo.xml")
			require.NoError(t, err)
			assert.Equal(t, "good", string(data))

			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"topo.xml"}, names, "temporary file cleaned up")
		})
	}
}
