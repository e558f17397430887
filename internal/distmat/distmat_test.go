package distmat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hwtopo/model"
)

const latency = model.DistancesFromUser | model.DistancesMeansLatency

const bandwidth = model.DistancesFromOS | model.DistancesMeansBandwidth

type fakeObjects struct {
	dead     map[uint64]bool
	switches map[uint64]bool
}

func (f fakeObjects) Alive(gp uint64) bool    { return !f.dead[gp] }
func (f fakeObjects) IsSwitch(gp uint64) bool { return f.switches[gp] }

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		m    Matrix
		err  error
	}{
		{"ok", Matrix{Kind: latency, Objects: []uint64{1, 2}, Values: []uint64{1, 2, 2, 1}}, nil},
		{"one object", Matrix{Kind: latency, Objects: []uint64{1}, Values: []uint64{1}}, ErrTooSmall},
		{"short values", Matrix{Kind: latency, Objects: []uint64{1, 2}, Values: []uint64{1, 2, 2}}, ErrSize},
		{"duplicate", Matrix{Kind: latency, Objects: []uint64{1, 1}, Values: []uint64{1, 2, 2, 1}}, ErrDuplicate},
		{"no meaning", Matrix{Kind: model.DistancesFromUser, Objects: []uint64{1, 2}, Values: []uint64{1, 2, 2, 1}}, ErrKind},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.m.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestMatrixAccess(t *testing.T) {
	m := &Matrix{Kind: latency, Objects: []uint64{7, 9, 3}, Values: []uint64{
		10, 20, 30,
		21, 10, 40,
		31, 41, 10,
	}}
	assert.Equal(t, 3, m.Len())
	assert.Equal(t, uint64(40), m.Value(1, 2))
	assert.Equal(t, uint64(41), m.Value(2, 1))

	i, ok := m.Index(3)
	assert.True(t, ok)
	assert.Equal(t, 2, i)
	_, ok = m.Index(4)
	assert.False(t, ok)
}

func TestStore(t *testing.T) {
	s := NewStore()
	id1, err := s.Add(&Matrix{Name: "lat", Kind: latency, Objects: []uint64{1, 2, 3}, Values: make([]uint64, 9)})
	require.NoError(t, err)
	id2, err := s.Add(&Matrix{Name: "bw", Kind: bandwidth, Objects: []uint64{1, 2}, Values: make([]uint64, 4)})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)

	_, err = s.Add(&Matrix{Kind: latency, Objects: []uint64{1}, Values: []uint64{0}})
	assert.ErrorIs(t, err, ErrTooSmall)

	assert.Len(t, s.ByKind(0), 2)
	assert.Len(t, s.ByKind(model.DistancesMeansBandwidth), 1)
	assert.Len(t, s.ByKind(model.DistancesFromUser), 1)

	c := s.Clone()
	s.Restrict(func(gp uint64) bool { return gp != 2 })
	assert.Equal(t, 1, s.Len(), "two-object matrix drops below the minimum")
	m, ok := s.Get(id1)
	require.True(t, ok)
	assert.Equal(t, []uint64{1, 3}, m.Objects)
	assert.Len(t, m.Values, 4)

	assert.Equal(t, 2, c.Len(), "clone is independent")
	assert.True(t, c.Remove(id2))
	assert.False(t, c.Remove(id2))
}

func TestRestrictKeepsValues(t *testing.T) {
	s := NewStore()
	id, err := s.Add(&Matrix{Kind: latency, Objects: []uint64{1, 2, 3}, Values: []uint64{
		1, 2, 3,
		4, 5, 6,
		7, 8, 9,
	}})
	require.NoError(t, err)
	s.Restrict(func(gp uint64) bool { return gp != 2 })
	m, _ := s.Get(id)
	assert.Equal(t, []uint64{1, 3, 7, 9}, m.Values)
}

func TestTransformLinks(t *testing.T) {
	t.Run("divides by smallest link", func(t *testing.T) {
		m := &Matrix{Kind: bandwidth, Objects: []uint64{1, 2, 3}, Values: []uint64{
			100, 25, 50,
			25, 100, 0,
			50, 0, 100,
		}}
		require.NoError(t, m.Transform(model.TransformLinks, fakeObjects{}))
		assert.Equal(t, []uint64{0, 1, 2, 1, 0, 0, 2, 0, 0}, m.Values)
	})

	t.Run("not divisible", func(t *testing.T) {
		m := &Matrix{Kind: bandwidth, Objects: []uint64{1, 2}, Values: []uint64{0, 3, 4, 0}}
		assert.ErrorIs(t, m.Transform(model.TransformLinks, fakeObjects{}), ErrNotDivisible)
		assert.Equal(t, []uint64{0, 3, 4, 0}, m.Values, "left unchanged")
	})

	t.Run("latency rejected", func(t *testing.T) {
		m := &Matrix{Kind: latency, Objects: []uint64{1, 2}, Values: []uint64{1, 2, 2, 1}}
		assert.ErrorIs(t, m.Transform(model.TransformLinks, fakeObjects{}), ErrKind)
	})
}

func TestTransformSwitches(t *testing.T) {
	// GPUs 1 and 2, switch ports 10 and 11.
	objs := fakeObjects{switches: map[uint64]bool{10: true, 11: true}}
	matrix := func() *Matrix {
		return &Matrix{Kind: bandwidth, Objects: []uint64{1, 2, 10, 11}, Values: []uint64{
			0, 0, 20, 20,
			0, 0, 20, 20,
			20, 20, 0, 0,
			20, 20, 0, 0,
		}}
	}

	t.Run("merge switch ports", func(t *testing.T) {
		m := matrix()
		require.NoError(t, m.Transform(model.TransformMergeSwitchPorts, objs))
		assert.Equal(t, []uint64{1, 2, 10}, m.Objects)
		assert.Equal(t, []uint64{
			0, 0, 40,
			0, 0, 40,
			40, 40, 0,
		}, m.Values)
	})

	t.Run("transitive closure", func(t *testing.T) {
		m := matrix()
		require.NoError(t, m.Transform(model.TransformTransitiveClosure, objs))
		assert.Equal(t, uint64(40), m.Value(0, 1))
		assert.Equal(t, uint64(40), m.Value(1, 0))
		assert.Equal(t, uint64(0), m.Value(0, 0))
		assert.Equal(t, uint64(20), m.Value(0, 2))
	})
}

func TestTransformRemoveNull(t *testing.T) {
	m := &Matrix{Kind: latency, Objects: []uint64{1, 2, 3}, Values: make([]uint64, 9)}
	require.NoError(t, m.Transform(model.TransformRemoveNull, fakeObjects{dead: map[uint64]bool{2: true}}))
	assert.Equal(t, []uint64{1, 3}, m.Objects)

	err := m.Transform(model.TransformRemoveNull, fakeObjects{dead: map[uint64]bool{1: true}})
	assert.ErrorIs(t, err, ErrTooSmall)

	assert.ErrorIs(t, m.Transform(model.DistancesTransform(42), fakeObjects{}), ErrTransform)
}

func TestMinDistance(t *testing.T) {
	tests := []struct {
		name       string
		values     []uint64
		inaccurate bool
		want       [][]int
	}{
		{
			name: "two pairs",
			values: []uint64{
				1, 4, 8, 8,
				4, 1, 8, 8,
				8, 8, 1, 4,
				8, 8, 4, 1,
			},
			want: [][]int{{0, 1}, {2, 3}},
		},
		{
			name: "one close pair",
			values: []uint64{
				1, 8, 8, 8,
				8, 1, 4, 8,
				8, 4, 1, 8,
				8, 8, 8, 1,
			},
			want: [][]int{{0}, {1, 2}, {3}},
		},
		{
			name: "uniform",
			values: []uint64{
				1, 8, 8, 8,
				8, 1, 8, 8,
				8, 8, 1, 8,
				8, 8, 8, 1,
			},
		},
		{
			name: "noisy without tolerance",
			values: []uint64{
				10, 100, 200, 200,
				101, 10, 200, 200,
				200, 200, 10, 103,
				200, 200, 103, 10,
			},
		},
		{
			name: "noisy with tolerance",
			values: []uint64{
				10, 100, 200, 200,
				101, 10, 200, 200,
				200, 200, 10, 103,
				200, 200, 103, 10,
			},
			inaccurate: true,
			want:       [][]int{{0, 1}, {2}, {3}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MinDistance{}.Group(4, tt.values, tt.inaccurate))
		})
	}
}

func TestHierarchy(t *testing.T) {
	// Eight nodes: pairs at 2, pairs of pairs at 4, halves at 8.
	n := 8
	values := make([]uint64, n*n)
	for i := range n {
		for j := range n {
			switch {
			case i == j:
				values[i*n+j] = 1
			case i/2 == j/2:
				values[i*n+j] = 2
			case i/4 == j/4:
				values[i*n+j] = 4
			default:
				values[i*n+j] = 8
			}
		}
	}
	levels := Hierarchy(MinDistance{}, n, values, false)
	require.Len(t, levels, 2)
	assert.Equal(t, [][]int{{0, 1}, {2, 3}, {4, 5}, {6, 7}}, levels[0])
	assert.Equal(t, [][]int{{0, 1, 2, 3}, {4, 5, 6, 7}}, levels[1])
}

func BenchmarkHierarchy(b *testing.B) {
	n := 64
	values := make([]uint64, n*n)
	for i := range n {
		for j := range n {
			values[i*n+j] = uint64(1 + (i^j)/4)
		}
	}
	for b.Loop() {
		Hierarchy(MinDistance{}, n, values, true)
	}
}
