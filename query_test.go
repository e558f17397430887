package hwtopo_test

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hwtopo"
	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

func TestDepthConsistency(t *testing.T) {
	topo := synthetic(t, "pack:2 [numa] l3:1 l2:2 core:1 pu:2")

	require.Positive(t, topo.Depth())
	for d := range topo.Depth() {
		typ, ok := topo.DepthType(d)
		require.True(t, ok)
		if got := topo.TypeDepth(typ); got != model.DepthMultiple {
			assert.Equal(t, d, got, "type %s", typ)
		}
		assert.Equal(t, topo.CountAtDepth(d), len(slices.Collect(topo.ObjectsAtDepth(d))))
	}

	_, ok := topo.DepthType(topo.Depth())
	assert.False(t, ok)
	assert.Equal(t, model.DepthNUMANode, topo.TypeDepth(model.TypeNUMANode))
	assert.Equal(t, topo.Depth()-1, topo.TypeDepth(model.TypePU))
	assert.Equal(t, 0, topo.TypeDepth(model.TypeMachine))
	assert.Equal(t, topo.TypeDepth(model.TypeCore), topo.TypeOrBelowDepth(model.TypeCore))
}

func TestTypeOrAboveBelow(t *testing.T) {
	topo := synthetic(t, "pack:2 core:2 pu:2")

	// No cache level: the closest levels around it are returned.
	assert.Equal(t, topo.TypeDepth(model.TypeCore), topo.TypeOrBelowDepth(model.TypeL2Cache))
	assert.Equal(t, topo.TypeDepth(model.TypePackage), topo.TypeOrAboveDepth(model.TypeL2Cache))
	assert.Equal(t, model.DepthUnknown, topo.TypeDepth(model.TypeL2Cache))
}

func TestNavigation(t *testing.T) {
	topo := synthetic(t, "node:2 core:2 pu:2")

	root := topo.Root()
	_, ok := root.Parent()
	assert.False(t, ok)
	assert.Equal(t, model.TypeMachine, root.Type())

	var seen int
	for o, ok := topo.NextOfType(model.TypePU, hwtopo.Object{}); ok; o, ok = topo.NextOfType(model.TypePU, o) {
		assert.Equal(t, seen, o.LogicalIndex())
		seen++
	}
	assert.Equal(t, topo.NumPUs(), seen)

	_, ok = topo.NthOfType(model.TypePU, 8)
	assert.False(t, ok)
	_, ok = topo.ObjectAtDepth(topo.Depth(), 0)
	assert.False(t, ok)

	core, ok := topo.NthOfType(model.TypeCore, 1)
	require.True(t, ok)
	assert.Equal(t, 2, core.Arity())
	first, ok := core.FirstChild()
	require.True(t, ok)
	last, ok := core.LastChild()
	require.True(t, ok)
	next, ok := first.NextSibling()
	require.True(t, ok)
	assert.Equal(t, last, next)

	// Cousins cross parents at the same depth.
	cousin, ok := last.NextCousin()
	require.True(t, ok)
	parent, _ := cousin.Parent()
	assert.NotEqual(t, core, parent)

	numa, ok := topo.NUMANodeByOSIndex(1)
	require.True(t, ok)
	assert.True(t, numa.IsMemory())
	assert.Equal(t, model.DepthNUMANode, numa.Depth())
}

func TestCommonAncestor(t *testing.T) {
	topo := synthetic(t, "node:2 core:2 pu:2")

	pu := func(i int) hwtopo.Object {
		o, ok := topo.PUByOSIndex(i)
		require.True(t, ok)
		return o
	}

	tests := []struct {
		name string
		a, b int
		want model.ObjType
	}{
		{"same core", 0, 1, model.TypeCore},
		{"same node", 0, 3, model.TypeGroup},
		{"different nodes", 0, 7, model.TypeMachine},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			anc, err := topo.CommonAncestor(pu(tt.a), pu(tt.b))
			require.NoError(t, err)
			assert.Equal(t, tt.want, anc.Type())
			assert.True(t, topo.IsDescendant(pu(tt.a), anc))
			assert.True(t, topo.IsDescendant(pu(tt.b), anc))
		})
	}

	other := synthetic(t, "core:1 pu:1")
	_, err := topo.CommonAncestor(pu(0), other.Root())
	assert.ErrorIs(t, err, hwtopo.ErrInvalidArgument)
}

func TestContainment(t *testing.T) {
	topo := synthetic(t, "node:2 core:2 pu:2")
	puDepth := topo.TypeDepth(model.TypePU)

	t.Run("inside", func(t *testing.T) {
		objs, err := topo.ObjectsInsideCPUSet(bitmap.MustFromSequence(0, 1, 2, 3), puDepth)
		require.NoError(t, err)
		assert.Len(t, objs, 4)

		cores, err := topo.ObjectsInsideCPUSetByType(bitmap.MustFromSequence(0, 1, 2), model.TypeCore)
		require.NoError(t, err)
		assert.Len(t, cores, 1)
	})

	t.Run("largest", func(t *testing.T) {
		objs, err := topo.LargestObjectsInsideCPUSet(bitmap.MustFromSequence(0, 1, 2, 3))
		require.NoError(t, err)
		require.Len(t, objs, 1)
		assert.True(t, objs[0].CPUSet().Equal(bitmap.MustFromSequence(0, 1, 2, 3)))

		objs, err = topo.LargestObjectsInsideCPUSet(bitmap.MustFromSequence(0, 1, 2))
		require.NoError(t, err)
		require.Len(t, objs, 2)
		assert.Equal(t, model.TypeCore, objs[0].Type())
		assert.Equal(t, model.TypePU, objs[1].Type())

		first, ok := topo.FirstLargestObjectInsideCPUSet(bitmap.MustFromSequence(0, 1, 2))
		require.True(t, ok)
		assert.Equal(t, objs[0], first)

		_, err = topo.LargestObjectsInsideCPUSet(bitmap.MustFromSequence(9))
		assert.ErrorIs(t, err, hwtopo.ErrInvalidArgument)
		_, err = topo.LargestObjectsInsideCPUSet(nil)
		assert.ErrorIs(t, err, hwtopo.ErrInvalidArgument)
	})

	t.Run("covering", func(t *testing.T) {
		o, ok := topo.ObjectCoveringCPUSet(bitmap.MustFromSequence(0, 1))
		require.True(t, ok)
		assert.Equal(t, model.TypeCore, o.Type())

		o, ok = topo.ObjectCoveringCPUSet(bitmap.MustFromSequence(1, 6))
		require.True(t, ok)
		assert.Equal(t, topo.Root(), o)

		_, ok = topo.ObjectCoveringCPUSet(bitmap.MustFromSequence(42))
		assert.False(t, ok)

		cores, err := topo.ObjectsCoveringCPUSetByDepth(bitmap.MustFromSequence(1, 6), topo.TypeDepth(model.TypeCore))
		require.NoError(t, err)
		assert.Len(t, cores, 2)

		child, ok := topo.ChildCoveringCPUSet(topo.Root(), bitmap.MustFromSequence(4, 5))
		require.True(t, ok)
		assert.True(t, child.CPUSet().Equal(bitmap.MustFromSequence(4, 5, 6, 7)))
	})
}

func TestCacheCovering(t *testing.T) {
	topo := synthetic(t, "pack:1 l3:1 l2:2 core:1 pu:2")

	pu, ok := topo.PUByOSIndex(0)
	require.True(t, ok)

	cache, ok := topo.CacheCoveringCPUSet(pu.CPUSet())
	require.True(t, ok)
	assert.Equal(t, model.TypeL2Cache, cache.Type())

	shared, ok := topo.SharedCacheCovering(pu)
	require.True(t, ok)
	assert.Equal(t, model.TypeL2Cache, shared.Type())

	l2, ok := topo.NthOfType(model.TypeL2Cache, 0)
	require.True(t, ok)
	shared, ok = topo.SharedCacheCovering(l2)
	require.True(t, ok)
	assert.Equal(t, model.TypeL3Cache, shared.Type())
}

func TestClosestObjects(t *testing.T) {
	topo := synthetic(t, "node:2 core:2 pu:2")

	pu, _ := topo.PUByOSIndex(0)
	closest, err := topo.ClosestObjects(pu)
	require.NoError(t, err)
	require.Len(t, closest, 7)
	assert.Equal(t, 1, closest[0].OSIndex())
	for _, o := range closest[3:] {
		assert.GreaterOrEqual(t, o.OSIndex(), 4)
	}
}

func TestObjectBelowByType(t *testing.T) {
	topo := synthetic(t, "pack:2 core:2 pu:2")

	pu, ok := topo.ObjectBelowByType(model.TypePackage, 1, model.TypePU, 3)
	require.True(t, ok)
	assert.Equal(t, 7, pu.OSIndex())

	_, ok = topo.ObjectBelowByType(model.TypePackage, 2, model.TypePU, 0)
	assert.False(t, ok)
	_, ok = topo.ObjectBelowByType(model.TypePackage, 0, model.TypePU, 4)
	assert.False(t, ok)
}

func TestByIndex(t *testing.T) {
	topo := synthetic(t, "pack:2 core:2 pu:2")

	for o := range topo.AllObjects() {
		got, ok := topo.ObjectByGPIndex(o.GPIndex())
		require.True(t, ok)
		assert.Equal(t, o, got)
	}
	_, ok := topo.PUByOSIndex(100)
	assert.False(t, ok)

	_, err := topo.ObjectByBusIDString("0000:00:1f.2")
	assert.ErrorIs(t, err, hwtopo.ErrNotFound)
	_, err = topo.ObjectByBusIDString("garbage")
	assert.ErrorIs(t, err, hwtopo.ErrInvalidArgument)
}

func TestSetConversion(t *testing.T) {
	topo := synthetic(t, "node:2 core:2 pu:2")

	tests := []struct {
		name  string
		cpus  *bitmap.Bitmap
		nodes *bitmap.Bitmap
	}{
		{"first node", bitmap.MustFromSequence(0, 1, 2, 3), bitmap.MustFromSequence(0)},
		{"second node", bitmap.MustFromSequence(4, 5, 6, 7), bitmap.MustFromSequence(1)},
		{"all", bitmap.MustFromSequence(0, 1, 2, 3, 4, 5, 6, 7), bitmap.MustFromSequence(0, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cpus, err := topo.NodeSetToCPUSet(tt.nodes)
			require.NoError(t, err)
			assert.True(t, cpus.Equal(tt.cpus), "got %s", cpus)

			nodes, err := topo.CPUSetToNodeSet(tt.cpus)
			require.NoError(t, err)
			assert.True(t, nodes.Equal(tt.nodes), "got %s", nodes)
		})
	}

	nodes, err := topo.CPUSetToNodeSet(bitmap.MustFromSequence(5))
	require.NoError(t, err)
	assert.True(t, nodes.Equal(bitmap.MustFromSequence(1)))
}

func TestDistribute(t *testing.T) {
	topo := synthetic(t, "node:2 core:2 pu:2")

	tests := []struct {
		name   string
		n      int
		weight int
	}{
		{"one per core", 4, 2},
		{"one per pu", 8, 1},
		{"one per node", 2, 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sets, err := topo.Distribute(nil, tt.n, -1, 0)
			require.NoError(t, err)
			require.Len(t, sets, tt.n)
			union := bitmap.New()
			for _, s := range sets {
				assert.Equal(t, tt.weight, s.Weight())
				assert.False(t, s.Intersects(union), "sets overlap")
				union.UnionWith(s)
			}
			assert.True(t, union.Equal(topo.CPUSet()))
		})
	}

	_, err := topo.Distribute(nil, -1, -1, 0)
	assert.ErrorIs(t, err, hwtopo.ErrInvalidArgument)
}
