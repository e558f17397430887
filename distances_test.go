package hwtopo_test

import (
	"context"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hwtopo"
	"github.com/hupe1980/hwtopo/model"
)

const userLatency = model.DistancesFromUser | model.DistancesMeansLatency

// latencyMatrix returns a 4x4 matrix with 1 on the diagonal, 4 between the
// listed pairs and 8 everywhere else.
func latencyMatrix(pairs ...[2]int) []uint64 {
	values := make([]uint64, 16)
	for i := range 4 {
		for j := range 4 {
			switch {
			case i == j:
				values[i*4+j] = 1
			default:
				values[i*4+j] = 8
			}
		}
	}
	for _, p := range pairs {
		values[p[0]*4+p[1]] = 4
		values[p[1]*4+p[0]] = 4
	}
	return values
}

func commitLatency(t *testing.T, topo *hwtopo.Topology, values []uint64, flags model.DistancesAddFlags) []hwtopo.Object {
	t.Helper()
	nodes := slices.Collect(topo.ObjectsByType(model.TypeNUMANode))
	d, err := topo.BeginAdd("latency", userLatency)
	require.NoError(t, err)
	require.NoError(t, d.SetValues(nodes, values))
	require.NoError(t, d.Commit(context.Background(), flags))
	d.Release()
	return nodes
}

func TestDistancesLookup(t *testing.T) {
	topo := synthetic(t, "node:4 core:4 pu:1")
	values := latencyMatrix([2]int{0, 1})
	nodes := commitLatency(t, topo, values, 0)

	all, err := topo.Distances(0)
	require.NoError(t, err)
	require.Len(t, all, 1)
	d := all[0]
	defer d.Release()

	assert.Equal(t, "latency", d.Name())
	assert.Equal(t, userLatency, d.Kind())

	n, err := d.Len()
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got, err := d.Values()
	require.NoError(t, err)
	assert.Equal(t, values, got)

	v, err := d.ValueBetween(nodes[1], nodes[2])
	require.NoError(t, err)
	assert.Equal(t, values[1*4+2], v)

	ab, ba, err := d.PairValues(nodes[0], nodes[1])
	require.NoError(t, err)
	assert.Equal(t, uint64(4), ab)
	assert.Equal(t, uint64(4), ba)

	pu, _ := topo.PUByOSIndex(0)
	_, err = d.ValueBetween(pu, nodes[0])
	assert.ErrorIs(t, err, hwtopo.ErrNotFound)

	idx, err := d.Index(pu)
	require.NoError(t, err)
	assert.Equal(t, -1, idx)

	objs, err := d.Objects()
	require.NoError(t, err)
	assert.Equal(t, nodes, objs)

	t.Run("filters", func(t *testing.T) {
		for _, tt := range []struct {
			name string
			kind model.DistancesKind
			want int
		}{
			{"any", 0, 1},
			{"latency", model.DistancesMeansLatency, 1},
			{"bandwidth", model.DistancesMeansBandwidth, 0},
			{"from os", model.DistancesFromOS, 0},
		} {
			t.Run(tt.name, func(t *testing.T) {
				ds, err := topo.DistancesByType(model.TypeNUMANode, tt.kind)
				require.NoError(t, err)
				assert.Len(t, ds, tt.want)
				for _, d := range ds {
					d.Release()
				}
			})
		}

		ds, err := topo.DistancesByName("latency")
		require.NoError(t, err)
		assert.Len(t, ds, 1)
		ds[0].Release()

		ds, err = topo.DistancesByType(model.TypePU, 0)
		require.NoError(t, err)
		assert.Empty(t, ds)

		ds, err = topo.DistancesByDepth(model.DepthNUMANode, 0)
		require.NoError(t, err)
		assert.Len(t, ds, 1)
		ds[0].Release()
	})
}

func TestDistancesErrors(t *testing.T) {
	topo := synthetic(t, "node:4 core:4 pu:1")
	nodes := slices.Collect(topo.ObjectsByType(model.TypeNUMANode))

	_, err := topo.BeginAdd("bad", model.DistancesMeansLatency)
	assert.ErrorIs(t, err, hwtopo.ErrInvalidArgument, "kind without origin")

	d, err := topo.BeginAdd("test", userLatency)
	require.NoError(t, err)

	assert.ErrorIs(t, d.SetValues(nodes, make([]uint64, 15)), hwtopo.ErrInvalidArgument)
	assert.ErrorIs(t, d.SetValues(nodes[:1], []uint64{1}), hwtopo.ErrInvalidArgument)

	require.NoError(t, d.SetValues(nodes, latencyMatrix()))
	require.NoError(t, d.Commit(context.Background(), 0))
	assert.ErrorIs(t, d.Commit(context.Background(), 0), hwtopo.ErrInvalidState)
	assert.ErrorIs(t, d.SetValues(nodes, latencyMatrix()), hwtopo.ErrInvalidState)

	d.Release()
	d.Release()
	_, err = d.Values()
	assert.ErrorIs(t, err, hwtopo.ErrUseAfterRelease)
	assert.ErrorIs(t, d.Err(), hwtopo.ErrUseAfterRelease)
	assert.Empty(t, d.Name())

	t.Run("duplicate objects", func(t *testing.T) {
		d, err := topo.BeginAdd("dup", userLatency)
		require.NoError(t, err)
		defer d.Release()
		require.NoError(t, d.SetValues([]hwtopo.Object{nodes[0], nodes[0]}, []uint64{1, 2, 2, 1}))
		assert.ErrorIs(t, d.Commit(context.Background(), 0), hwtopo.ErrInvalidArgument)
	})

	t.Run("transform needs bandwidth", func(t *testing.T) {
		ds, err := topo.Distances(0)
		require.NoError(t, err)
		require.NotEmpty(t, ds)
		assert.ErrorIs(t, ds[0].Transform(model.TransformLinks), hwtopo.ErrInvalidArgument)
		ds[0].Release()
	})
}

func TestDistancesHeterogeneous(t *testing.T) {
	topo := synthetic(t, "node:2 core:1 pu:1")

	numa, _ := topo.NUMANodeByOSIndex(0)
	pu, _ := topo.PUByOSIndex(1)

	d, err := topo.BeginAdd("mixed", userLatency)
	require.NoError(t, err)
	require.NoError(t, d.SetValues([]hwtopo.Object{numa, pu}, []uint64{1, 3, 3, 1}))
	require.NoError(t, d.Commit(context.Background(), model.DistancesAddGroup))
	assert.NotZero(t, d.Kind()&model.DistancesHeterogeneousTypes)
	d.Release()

	ds, err := topo.Distances(model.DistancesHeterogeneousTypes)
	require.NoError(t, err)
	assert.Len(t, ds, 1)
	ds[0].Release()
}

func TestDistancesReleaseOnDestroy(t *testing.T) {
	topo, err := hwtopo.FromSynthetic(context.Background(), "node:4 core:4 pu:1")
	require.NoError(t, err)
	commitLatency(t, topo, latencyMatrix(), 0)

	ds, err := topo.Distances(0)
	require.NoError(t, err)
	require.Len(t, ds, 1)

	topo.Destroy()
	_, err = ds[0].Values()
	assert.ErrorIs(t, err, hwtopo.ErrUseAfterRelease)
	ds[0].Release()
}

func TestDistancesRemove(t *testing.T) {
	topo := synthetic(t, "node:4 core:4 pu:1")
	commitLatency(t, topo, latencyMatrix(), 0)

	ds, err := topo.Distances(0)
	require.NoError(t, err)
	require.Len(t, ds, 1)
	require.NoError(t, ds[0].ReleaseRemove())

	ds, err = topo.Distances(0)
	require.NoError(t, err)
	assert.Empty(t, ds)

	commitLatency(t, topo, latencyMatrix(), 0)
	require.NoError(t, topo.RemoveDistancesByType(model.TypeNUMANode))
	ds, _ = topo.Distances(0)
	assert.Empty(t, ds)

	commitLatency(t, topo, latencyMatrix(), 0)
	require.NoError(t, topo.RemoveAllDistances())
	ds, _ = topo.Distances(0)
	assert.Empty(t, ds)
}

func TestDistancesGrouping(t *testing.T) {
	tests := []struct {
		name   string
		pairs  [][2]int
		flags  model.DistancesAddFlags
		groups int
	}{
		{"two pairs", [][2]int{{0, 1}, {2, 3}}, model.DistancesAddGroup, 2},
		{"one pair", [][2]int{{0, 1}}, model.DistancesAddGroup, 1},
		{"uniform", nil, model.DistancesAddGroup, 0},
		{"without flag", [][2]int{{0, 1}, {2, 3}}, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := &hwtopo.BasicMetricsCollector{}
			topo := synthetic(t, "node:4 core:4 pu:1", hwtopo.WithMetricsCollector(metrics))
			before := topo.CountOfType(model.TypeGroup)

			commitLatency(t, topo, latencyMatrix(tt.pairs...), tt.flags)

			assert.Equal(t, before+tt.groups, topo.CountOfType(model.TypeGroup))
			stats := metrics.GetStats()
			assert.Equal(t, int64(1), stats.CommitCount)
			assert.Equal(t, int64(tt.groups), stats.GroupsInserted)

			for _, p := range tt.pairs {
				if tt.groups == 0 {
					break
				}
				a, _ := topo.NUMANodeByOSIndex(p[0])
				b, _ := topo.NUMANodeByOSIndex(p[1])
				anc, err := topo.CommonAncestor(a, b)
				require.NoError(t, err)
				assert.Equal(t, model.TypeGroup, anc.Type())
				g, ok := anc.Attr().(model.GroupAttr)
				require.True(t, ok)
				assert.Equal(t, model.GroupKindDistance, g.Kind)
			}
		})
	}
}
