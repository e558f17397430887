package fs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFS(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "snapshots")
	lfs := LocalFS{}
	require.NoError(t, lfs.MkdirAll(dir, 0o755))

	f, name, err := lfs.CreateTemp(dir, "topo-*.tmp")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Sync())
	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size())
	require.NoError(t, f.Close())

	final := filepath.Join(dir, "topo.xml")
	require.NoError(t, lfs.Rename(name, final))

	entries, err := lfs.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "topo.xml", entries[0].Name())

	require.NoError(t, lfs.Remove(final))
	_, err = lfs.Stat(final)
	assert.True(t, os.IsNotExist(err))
}

func TestFaultyFS(t *testing.T) {
	dir := t.TempDir()
	boom := errors.New("boom")

	t.Run("write limit", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("limited", Fault{FailAfterBytes: 4})
		f, err := ffs.OpenFile(filepath.Join(dir, "limited.bin"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		defer f.Close()

		_, err = f.Write([]byte("1234"))
		require.NoError(t, err)
		_, err = f.Write([]byte("5"))
		assert.ErrorIs(t, err, ErrInjected)
	})

	t.Run("sync and close", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule(".tmp", Fault{FailAfterBytes: -1, FailOnSync: true, FailOnClose: true, Err: boom})
		f, _, err := ffs.CreateTemp(dir, "x-*.tmp")
		require.NoError(t, err)
		assert.ErrorIs(t, f.Sync(), boom)
		assert.ErrorIs(t, f.Close(), boom)
	})

	t.Run("rename", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("final", Fault{FailAfterBytes: -1, FailOnRename: true})
		src := filepath.Join(dir, "src")
		require.NoError(t, os.WriteFile(src, nil, 0o644))
		assert.ErrorIs(t, ffs.Rename(src, filepath.Join(dir, "final")), ErrInjected)
		require.NoError(t, ffs.Rename(src, filepath.Join(dir, "other")))
	})

	t.Run("unmatched files pass through", func(t *testing.T) {
		ffs := NewFaultyFS(nil)
		ffs.AddRule("nothing-matches", Fault{FailOnSync: true})
		f, err := ffs.OpenFile(filepath.Join(dir, "plain"), os.O_CREATE|os.O_WRONLY, 0o644)
		require.NoError(t, err)
		assert.NoError(t, f.Sync())
		assert.NoError(t, f.Close())
	})
}
