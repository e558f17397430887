package distmat

import (
	"slices"

	"github.com/hupe1980/hwtopo/model"
)

// Store holds the committed matrices of one topology in insertion order.
type Store struct {
	mats   []*Matrix
	nextID uint64
}

// NewStore returns an empty store.
func NewStore() *Store { return &Store{nextID: 1} }

// Add validates m, assigns it an ID and stores it.
func (s *Store) Add(m *Matrix) (uint64, error) {
	if err := m.Validate(); err != nil {
		return 0, err
	}
	m.ID = s.nextID
	s.nextID++
	s.mats = append(s.mats, m)
	return m.ID, nil
}

// Get returns the matrix with the given ID.
func (s *Store) Get(id uint64) (*Matrix, bool) {
	for _, m := range s.mats {
		if m.ID == id {
			return m, true
		}
	}
	return nil, false
}

// Find returns the matrices accepted by fn, in insertion order.
func (s *Store) Find(fn func(*Matrix) bool) []*Matrix {
	var out []*Matrix
	for _, m := range s.mats {
		if fn(m) {
			out = append(out, m)
		}
	}
	return out
}

// ByKind returns the matrices matching a kind filter; zero matches all.
func (s *Store) ByKind(filter model.DistancesKind) []*Matrix {
	return s.Find(func(m *Matrix) bool { return m.Kind.Matches(filter) })
}

// Remove deletes the matrix with the given ID.
func (s *Store) Remove(id uint64) bool {
	n := len(s.mats)
	s.mats = slices.DeleteFunc(s.mats, func(m *Matrix) bool { return m.ID == id })
	return len(s.mats) != n
}

// RemoveFunc deletes the matrices accepted by fn and returns how many went.
func (s *Store) RemoveFunc(fn func(*Matrix) bool) int {
	n := len(s.mats)
	s.mats = slices.DeleteFunc(s.mats, fn)
	return n - len(s.mats)
}

// Len returns the number of stored matrices.
func (s *Store) Len() int { return len(s.mats) }

// Restrict drops the objects for which alive reports false. Matrices left
// with fewer than two objects are removed.
func (s *Store) Restrict(alive func(gp uint64) bool) {
	for _, m := range s.mats {
		m.keep(func(i int) bool { return alive(m.Objects[i]) })
	}
	s.RemoveFunc(func(m *Matrix) bool { return len(m.Objects) < 2 })
}

// Clone returns a deep copy of s. IDs are preserved.
func (s *Store) Clone() *Store {
	c := &Store{nextID: s.nextID, mats: make([]*Matrix, len(s.mats))}
	for i, m := range s.mats {
		c.mats[i] = m.Clone()
	}
	return c
}
