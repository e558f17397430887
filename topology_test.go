package hwtopo_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/hwtopo"
	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

func synthetic(t testing.TB, desc string, opts ...hwtopo.Option) *hwtopo.Topology {
	t.Helper()
	topo, err := hwtopo.FromSynthetic(context.Background(), desc, opts...)
	require.NoError(t, err)
	t.Cleanup(topo.Destroy)
	return topo
}

func TestFromSynthetic(t *testing.T) {
	tests := []struct {
		desc     string
		packages int
		numa     int
		cores    int
		pus      int
	}{
		{"node:2 core:2 pu:2", 0, 2, 4, 8},
		{"pack:2 core:4 pu:2", 2, 1, 8, 16},
		{"pack:1 [numa] l3:2 core:3 pu:1", 1, 1, 6, 6},
		{"core:1 pu:1", 0, 1, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			topo := synthetic(t, tt.desc)
			assert.Equal(t, tt.packages, topo.NumPackages())
			assert.Equal(t, tt.numa, topo.NumNUMANodes())
			assert.Equal(t, tt.cores, topo.NumCores())
			assert.Equal(t, tt.pus, topo.NumPUs())
			assert.Equal(t, tt.pus, topo.CPUSet().Weight())
			assert.Equal(t, tt.numa, topo.NodeSet().Weight())
			assert.False(t, topo.IsThisSystem())
		})
	}
}

func TestFromSyntheticInvalid(t *testing.T) {
	for _, desc := range []string{"", "core:0 pu:1", "bogus:2", "node:2 core:2 node:2 pu:1"} {
		t.Run(desc, func(t *testing.T) {
			_, err := hwtopo.FromSynthetic(context.Background(), desc)
			assert.ErrorIs(t, err, hwtopo.ErrInvalidArgument)
		})
	}
}

func TestFromSyntheticKeepsCallerOptions(t *testing.T) {
	ctx := context.Background()

	opts := make([]hwtopo.Option, 1, 4)
	opts[0] = hwtopo.WithFlags(model.FlagNoDistances)

	topo, err := hwtopo.FromSynthetic(ctx, "core:2 pu:1", opts...)
	require.NoError(t, err)
	defer topo.Destroy()

	spare := opts[1:cap(opts)]
	for i := range spare {
		assert.Nil(t, spare[i], "spare capacity must not be written")
	}

	path := filepath.Join(t.TempDir(), "opts.xml")
	require.NoError(t, topo.ExportXMLFile(path, 0))
	buf, err := topo.ExportXMLBuffer(0)
	require.NoError(t, err)

	fromFile, err := hwtopo.FromXMLFile(ctx, path, opts...)
	require.NoError(t, err)
	defer fromFile.Destroy()
	fromBuf, err := hwtopo.FromXMLBuffer(ctx, buf, opts...)
	require.NoError(t, err)
	defer fromBuf.Destroy()

	for i := range spare {
		assert.Nil(t, spare[i])
	}
	assert.Equal(t, 2, fromFile.NumCores())
	assert.Equal(t, 2, fromBuf.NumCores())
}

func TestSyntheticRoundTrip(t *testing.T) {
	topo := synthetic(t, "node:2 core:2 pu:2")

	desc, err := topo.ExportSynthetic(0)
	require.NoError(t, err)
	assert.Equal(t, "Group0:2 [NUMANode] Core:2 PU:2", desc)

	again := synthetic(t, desc)
	assert.Equal(t, topo.NumNUMANodes(), again.NumNUMANodes())
	assert.Equal(t, topo.NumCores(), again.NumCores())
	assert.Equal(t, topo.NumPUs(), again.NumPUs())
	assert.Equal(t, topo.Depth(), again.Depth())
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()

	topo, err := hwtopo.New(hwtopo.WithSynthetic("core:2 pu:2"))
	require.NoError(t, err)

	t.Run("queries before load", func(t *testing.T) {
		_, err := topo.Distances(0)
		assert.ErrorIs(t, err, hwtopo.ErrInvalidState)
		assert.Equal(t, 0, topo.NumPUs())
		assert.Equal(t, 0, topo.CountAtDepth(0))
		assert.Equal(t, 0, topo.CountOfType(model.TypeCore))
		assert.False(t, topo.Loaded())
	})

	require.NoError(t, topo.SetTypeFilter(model.TypeCore, model.KeepAll))
	require.NoError(t, topo.Load(ctx))
	require.NoError(t, topo.Load(ctx), "second load is a no-op")
	assert.Equal(t, 4, topo.NumPUs())
	assert.True(t, topo.Loaded())

	t.Run("configure after load", func(t *testing.T) {
		assert.ErrorIs(t, topo.Configure(hwtopo.WithFlags(model.FlagNoDistances)), hwtopo.ErrInvalidState)
		assert.ErrorIs(t, topo.SetFlags(0), hwtopo.ErrInvalidState)
	})

	pu, ok := topo.NthOfType(model.TypePU, 0)
	require.True(t, ok)
	require.NoError(t, pu.Err())

	topo.Destroy()
	topo.Destroy()

	t.Run("use after destroy", func(t *testing.T) {
		assert.ErrorIs(t, pu.Err(), hwtopo.ErrUseAfterRelease)
		assert.False(t, pu.Valid())
		assert.Nil(t, pu.CPUSet())
		assert.Equal(t, model.TypeInvalid, pu.Type())
		assert.NotEqual(t, model.TypeMachine, pu.Type())
		assert.Equal(t, model.DepthUnknown, pu.Depth())
		assert.Equal(t, -1, pu.LogicalIndex())
		assert.Equal(t, -1, pu.OSIndex())
		assert.Nil(t, pu.Attr())
		_, ok := pu.Parent()
		assert.False(t, ok)
		assert.Equal(t, "Object(invalid)", pu.String())
		assert.ErrorIs(t, topo.Load(ctx), hwtopo.ErrInvalidState)
		_, err := topo.Dup()
		assert.ErrorIs(t, err, hwtopo.ErrUseAfterRelease)
	})
}

func TestDup(t *testing.T) {
	topo := synthetic(t, "node:2 core:2 pu:2")

	dup, err := topo.Dup()
	require.NoError(t, err)
	defer dup.Destroy()

	assert.NotEqual(t, topo.ID(), dup.ID())
	assert.Equal(t, topo.NumPUs(), dup.NumPUs())

	a, _ := topo.NthOfType(model.TypePU, 3)
	b, _ := dup.NthOfType(model.TypePU, 3)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a.GPIndex(), b.GPIndex())

	// The copy does not see mutations of the original.
	_, err = topo.InsertMisc(topo.Root(), "only-in-original")
	require.NoError(t, err)
	assert.Equal(t, 1, topo.CountOfType(model.TypeMisc))
	assert.Equal(t, 0, dup.CountOfType(model.TypeMisc))

	// Nor its destruction.
	topo.Destroy()
	require.NoError(t, b.Err())
	assert.Equal(t, 8, dup.NumPUs())
}

func TestTopologyFlagsAndFilters(t *testing.T) {
	topo := synthetic(t, "pack:1 l2:2 core:1 pu:1",
		hwtopo.WithFlags(model.FlagNoDistances),
		hwtopo.WithTypeFilter(model.TypeL2Cache, model.KeepNone))

	assert.Equal(t, model.FlagNoDistances, topo.Flags())
	f, err := topo.TypeFilter(model.TypeL2Cache)
	require.NoError(t, err)
	assert.Equal(t, model.KeepNone, f)
	assert.Equal(t, 0, topo.CountOfType(model.TypeL2Cache))
	assert.Equal(t, 2, topo.NumCores())

	_, err = hwtopo.New(hwtopo.WithTypeFilter(model.TypeMachine, model.KeepNone))
	assert.ErrorIs(t, err, hwtopo.ErrInvalidArgument)
}

func TestTreeSets(t *testing.T) {
	topo := synthetic(t, "pack:2 [numa] l3:1 core:2 pu:2")

	for o := range topo.AllObjects() {
		parent, ok := o.Parent()
		if !ok {
			assert.Equal(t, model.TypeMachine, o.Type())
			continue
		}
		if o.CPUSet() == nil || parent.CPUSet() == nil {
			continue
		}
		assert.True(t, o.CPUSet().IsSubsetOf(parent.CPUSet()), "%s not inside %s", o, parent)
		assert.True(t, o.NodeSet().IsSubsetOf(parent.NodeSet()), "%s nodeset not inside %s", o, parent)
	}

	root := topo.Root()
	assert.True(t, root.CPUSet().Equal(topo.CPUSet()))
	assert.True(t, topo.CPUSet().IsSubsetOf(topo.CompleteCPUSet()))
	assert.True(t, topo.AllowedCPUSet().IsSubsetOf(topo.CPUSet()))
	assert.True(t, topo.AllowedNodeSet().Equal(bitmap.MustFromSequence(0, 1)))
}

func TestConcurrentQueries(t *testing.T) {
	topo := synthetic(t, "pack:2 core:4 pu:2")

	var g errgroup.Group
	for i := range 8 {
		g.Go(func() error {
			pu, ok := topo.PUByOSIndex(i)
			if !ok {
				return hwtopo.ErrNotFound
			}
			core, ok := pu.AncestorByType(model.TypeCore)
			if !ok {
				return hwtopo.ErrNotFound
			}
			_, err := topo.CommonAncestor(pu, core)
			if err != nil {
				return err
			}
			_, err = topo.ExportXMLBuffer(0)
			return err
		})
	}
	require.NoError(t, g.Wait())
}

func BenchmarkFromSynthetic(b *testing.B) {
	ctx := context.Background()
	for b.Loop() {
		topo, err := hwtopo.FromSynthetic(ctx, "pack:4 [numa] l3:1 core:16 pu:2")
		if err != nil {
			b.Fatal(err)
		}
		topo.Destroy()
	}
}
