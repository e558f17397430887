package blobstore

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	data := []byte("snapshot")
	require.NoError(t, m.Put(ctx, "b", data))
	require.NoError(t, m.Put(ctx, "a", []byte("x")))
	data[0] = 'S'

	b, err := m.Open(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, int64(8), b.Size())

	buf := make([]byte, 4)
	n, err := b.ReadAt(buf, 4)
	require.NoError(t, err)
	assert.Equal(t, "shot", string(buf[:n]))
	_, err = b.ReadAt(buf, 6)
	assert.ErrorIs(t, err, io.EOF)

	got, err := ReadAll(ctx, m, "b")
	require.NoError(t, err)
	assert.Equal(t, "snapshot", string(got), "stored a copy")

	names, err := m.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, m.Delete(ctx, "b"))
	_, err = m.Open(ctx, "b")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachingStore(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	require.NoError(t, inner.Put(ctx, "a", make([]byte, 40)))
	require.NoError(t, inner.Put(ctx, "b", make([]byte, 40)))
	require.NoError(t, inner.Put(ctx, "huge", make([]byte, 200)))

	c := NewCachingStore(inner, 100)

	for range 3 {
		_, err := ReadAll(ctx, c, "a")
		require.NoError(t, err)
	}
	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)

	_, err := ReadAll(ctx, c, "huge")
	require.NoError(t, err)
	_, err = ReadAll(ctx, c, "huge")
	require.NoError(t, err)
	_, misses = c.Stats()
	assert.Equal(t, int64(3), misses, "oversized blobs bypass the cache")

	require.NoError(t, c.Put(ctx, "a", []byte("new")))
	got, err := ReadAll(ctx, c, "a")
	require.NoError(t, err)
	assert.Equal(t, "new", string(got), "put invalidates")

	require.NoError(t, c.Delete(ctx, "a"))
	_, err = c.Open(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCachingStoreEvicts(t *testing.T) {
	ctx := context.Background()
	inner := NewMemoryStore()
	for _, name := range []string{"a", "b", "c"} {
		require.NoError(t, inner.Put(ctx, name, make([]byte, 40)))
	}
	c := NewCachingStore(inner, 100)

	for _, name := range []string{"a", "b", "c", "a"} {
		_, err := ReadAll(ctx, c, name)
		require.NoError(t, err)
	}
	hits, misses := c.Stats()
	assert.Equal(t, int64(0), hits, "a was evicted by c")
	assert.Equal(t, int64(4), misses)
}

func TestThrottled(t *testing.T) {
	ctx := context.Background()
	th := NewThrottled(NewMemoryStore(), 1<<20, 1<<20)

	require.NoError(t, th.Put(ctx, "x", make([]byte, 1024)))
	got, err := ReadAll(ctx, th, "x")
	require.NoError(t, err)
	assert.Len(t, got, 1024)

	names, err := th.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, names)
	require.NoError(t, th.Delete(ctx, "x"))

	slow := NewThrottled(NewMemoryStore(), 10, 10)
	require.NoError(t, slow.Put(ctx, "small", make([]byte, 10)), "burst covers the first transfer")
	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	assert.Error(t, slow.Put(short, "big", make([]byte, 100)))
}
