// Package distmat stores the distance matrices of a topology.
//
// Matrices reference objects by GP index so that they survive tree surgery:
// after a restriction the store drops the rows and columns of removed
// objects instead of holding dangling references.
package distmat

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/hwtopo/model"
)

var (
	// ErrSize is returned when the value count is not the square of the
	// object count.
	ErrSize = errors.New("distmat: values length must be the square of the object count")
	// ErrDuplicate is returned when an object appears twice in one matrix.
	ErrDuplicate = errors.New("distmat: duplicate object")
	// ErrKind is returned for an invalid kind or a transform that does not
	// apply to the matrix kind.
	ErrKind = errors.New("distmat: invalid distances kind")
	// ErrTooSmall is returned for matrices with fewer than two objects.
	ErrTooSmall = errors.New("distmat: at least two objects are required")
	// ErrNotDivisible is returned by the links transform when the values are
	// not multiples of the smallest one.
	ErrNotDivisible = errors.New("distmat: values are not multiples of the smallest link")
	// ErrTransform is returned for an unknown transform.
	ErrTransform = errors.New("distmat: unknown transform")
)

// Matrix is an n×n row-major matrix of values between objects.
type Matrix struct {
	ID      uint64
	Name    string
	Kind    model.DistancesKind
	Objects []uint64 // GP indexes; order defines rows and columns
	Values  []uint64
}

// Len returns the number of objects.
func (m *Matrix) Len() int { return len(m.Objects) }

// Value returns the value from object i to object j.
func (m *Matrix) Value(i, j int) uint64 { return m.Values[i*len(m.Objects)+j] }

// Index returns the row of the object with GP index gp.
func (m *Matrix) Index(gp uint64) (int, bool) {
	i := slices.Index(m.Objects, gp)
	return i, i >= 0
}

// Validate checks the shape of m.
func (m *Matrix) Validate() error {
	n := len(m.Objects)
	if n < 2 {
		return ErrTooSmall
	}
	if len(m.Values) != n*n {
		return fmt.Errorf("%w: %d objects, %d values", ErrSize, n, len(m.Values))
	}
	seen := make(map[uint64]struct{}, n)
	for _, gp := range m.Objects {
		if _, ok := seen[gp]; ok {
			return fmt.Errorf("%w: gp index %d", ErrDuplicate, gp)
		}
		seen[gp] = struct{}{}
	}
	if !m.Kind.Valid() {
		return fmt.Errorf("%w: %s", ErrKind, m.Kind)
	}
	return nil
}

// Clone returns a deep copy of m.
func (m *Matrix) Clone() *Matrix {
	c := *m
	c.Objects = slices.Clone(m.Objects)
	c.Values = slices.Clone(m.Values)
	return &c
}

// keep compacts m to the rows and columns whose index satisfies fn.
func (m *Matrix) keep(fn func(i int) bool) {
	n := len(m.Objects)
	var idx []int
	for i := range n {
		if fn(i) {
			idx = append(idx, i)
		}
	}
	if len(idx) == n {
		return
	}
	objs := make([]uint64, len(idx))
	vals := make([]uint64, 0, len(idx)*len(idx))
	for a, i := range idx {
		objs[a] = m.Objects[i]
		for _, j := range idx {
			vals = append(vals, m.Values[i*n+j])
		}
	}
	m.Objects, m.Values = objs, vals
}
