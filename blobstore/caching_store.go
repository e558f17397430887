package blobstore

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
)

// CachingStore keeps recently read blobs of a slower Store in memory, up to
// a byte budget. Writes and deletes go through and invalidate the entry.
type CachingStore struct {
	inner    Store
	capacity int64

	mu    sync.Mutex
	size  int64
	items map[string]*list.Element
	lru   *list.List

	hits   atomic.Int64
	misses atomic.Int64
}

type cacheEntry struct {
	name string
	data []byte
}

// NewCachingStore wraps inner with a cache of capacity bytes. Blobs larger
// than the capacity are never cached.
func NewCachingStore(inner Store, capacity int64) *CachingStore {
	return &CachingStore{
		inner:    inner,
		capacity: capacity,
		items:    make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// Open serves name from the cache or loads and caches it.
func (s *CachingStore) Open(ctx context.Context, name string) (Blob, error) {
	if data, ok := s.get(name); ok {
		s.hits.Add(1)
		return &bytesBlob{data: data}, nil
	}
	s.misses.Add(1)

	data, err := ReadAll(ctx, s.inner, name)
	if err != nil {
		return nil, err
	}
	s.set(name, data)
	return &bytesBlob{data: data}, nil
}

func (s *CachingStore) Put(ctx context.Context, name string, data []byte) error {
	s.invalidate(name)
	return s.inner.Put(ctx, name, data)
}

func (s *CachingStore) Delete(ctx context.Context, name string) error {
	s.invalidate(name)
	return s.inner.Delete(ctx, name)
}

func (s *CachingStore) List(ctx context.Context, prefix string) ([]string, error) {
	return s.inner.List(ctx, prefix)
}

// Stats returns the cache hit and miss counts.
func (s *CachingStore) Stats() (hits, misses int64) {
	return s.hits.Load(), s.misses.Load()
}

func (s *CachingStore) get(name string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.items[name]
	if !ok {
		return nil, false
	}
	s.lru.MoveToFront(el)
	// Blobs are immutable once cached; readers share the slice.
	return el.Value.(*cacheEntry).data, true
}

func (s *CachingStore) set(name string, data []byte) {
	n := int64(len(data))
	if n > s.capacity {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[name]; ok {
		s.removeElement(el)
	}
	for s.size+n > s.capacity {
		s.removeElement(s.lru.Back())
	}
	s.items[name] = s.lru.PushFront(&cacheEntry{name: name, data: data})
	s.size += n
}

func (s *CachingStore) invalidate(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if el, ok := s.items[name]; ok {
		s.removeElement(el)
	}
}

func (s *CachingStore) removeElement(el *list.Element) {
	e := s.lru.Remove(el).(*cacheEntry)
	delete(s.items, e.name)
	s.size -= int64(len(e.data))
}
