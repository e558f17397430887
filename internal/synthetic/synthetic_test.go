package synthetic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/internal/tree"
	"github.com/hupe1980/hwtopo/model"
)

func load(t *testing.T, desc string) *tree.Tree {
	t.Helper()
	r, err := Parse(desc)
	require.NoError(t, err)
	tr, err := tree.Build(r, discovery.DefaultConfig().Filters)
	require.NoError(t, err)
	return tr
}

func TestParseCounts(t *testing.T) {
	tr := load(t, "node:2 core:2 pu:2")

	assert.Len(t, tr.ObjectsByType(model.TypeNUMANode), 2)
	assert.Len(t, tr.ObjectsByType(model.TypeCore), 4)
	assert.Len(t, tr.ObjectsByType(model.TypePU), 8)
	assert.Len(t, tr.ObjectsByType(model.TypeGroup), 2)
	assert.Equal(t, 4, tr.Depth())
	assert.Equal(t, "0-7", tr.Node(tr.Root()).CPUSet.ListString())
	assert.Equal(t, "0-1", tr.Node(tr.Root()).NodeSet.ListString())
}

func TestParseAttributes(t *testing.T) {
	tr := load(t, "Package:1 [NUMANode(memory=2GiB)] L2Cache:2(size=1MiB linesize=64 ways=16) Core:1 PU:2(indexes=0,2,1,3)")

	numa := tr.ObjectsByType(model.TypeNUMANode)
	require.Len(t, numa, 1)
	assert.Equal(t, model.NUMANodeAttr{LocalMemory: 2 << 30}, tr.Node(numa[0]).Attr)

	l2 := tr.ObjectsByType(model.TypeL2Cache)
	require.Len(t, l2, 2)
	assert.Equal(t, model.CacheAttr{Size: 1 << 20, Depth: 2, LineSize: 64, Associativity: 16, Kind: model.CacheUnified}, tr.Node(l2[0]).Attr)

	var os []int
	for _, id := range tr.ObjectsByType(model.TypePU) {
		os = append(os, tr.Node(id).OSIndex)
	}
	assert.Equal(t, []int{0, 2, 1, 3}, os)
	assert.Equal(t, "0,2", tr.Node(l2[0]).CPUSet.ListString())
}

func TestParsePlainCaches(t *testing.T) {
	tr := load(t, "Cache:1 Cache:2 Core:1 PU:1")
	assert.Equal(t, 1, tr.TypeDepth(model.TypeL2Cache))
	assert.Equal(t, 2, tr.TypeDepth(model.TypeL1Cache))
}

func TestParseDefaultNUMA(t *testing.T) {
	tr := load(t, "Package:2 Core:1 PU:1")
	numa := tr.ObjectsByType(model.TypeNUMANode)
	require.Len(t, numa, 1)
	assert.Equal(t, tr.Root(), tr.Node(numa[0]).Parent)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		desc string
		kind discovery.Kind
	}{
		{"empty", "   ", discovery.KindSyntax},
		{"missing count", "core pu:2", discovery.KindSyntax},
		{"bad count", "core:x pu:2", discovery.KindSyntax},
		{"unknown type", "blob:2 pu:2", discovery.KindSyntax},
		{"unknown attribute", "core:2(color=red) pu:2", discovery.KindSyntax},
		{"unbalanced", "core:2(size=1 pu:2", discovery.KindSyntax},
		{"no pu", "package:2 core:2", discovery.KindInvalid},
		{"zero count", "core:0 pu:2", discovery.KindInvalid},
		{"wrong order", "core:2 package:2 pu:1", discovery.KindInvalid},
		{"pu in the middle", "pu:2 core:2", discovery.KindInvalid},
		{"two numa levels", "node:2 core:2 node:2 pu:1", discovery.KindInvalid},
		{"numa level and brackets", "[NUMANode] node:2 pu:1", discovery.KindInvalid},
		{"short index list", "core:2 pu:2(indexes=0,1)", discovery.KindInvalid},
		{"duplicate index", "core:1 pu:2(indexes=1,1)", discovery.KindInvalid},
		{"attached memcache", "core:2 [MemCache] pu:1", discovery.KindUnsupported},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.desc)
			require.Error(t, err)
			assert.Equal(t, tt.kind, discovery.KindOf(err))
		})
	}
}

func TestExport(t *testing.T) {
	tests := []struct {
		name  string
		desc  string
		flags model.ExportSyntheticFlags
		want  string
	}{
		{"numa level", "node:2 core:2 pu:2", 0, "Group0:2 [NUMANode] Core:2 PU:2"},
		{"root memory", "Package:2 Core:1 PU:2", 0, "[NUMANode] Package:2 Core:1 PU:2"},
		{
			"attributes",
			"Package:1 [NUMANode(memory=1GiB)] L2Cache:2(size=4096) Core:1 PU:2(indexes=0,2,1,3)",
			0,
			"Package:1 [NUMANode(memory=1073741824)] L2Cache:2(size=4096) Core:1 PU:2(indexes=0,2,1,3)",
		},
		{"no attrs", "Package:1 [NUMANode(memory=1GiB)] L2Cache:2(size=4096) PU:2", model.ExportSyntheticNoAttrs, "Package:1 [NUMANode] L2Cache:2 PU:2"},
		{"ignore memory", "Package:1 [NUMANode(memory=1GiB)] PU:2", model.ExportSyntheticIgnoreMemory, "Package:1 [NUMANode] PU:2"},
		{"no extended types", "node:2 L2Cache:2 Core:1 PU:1", model.ExportSyntheticNoExtendedTypes, "Group:2 [NUMANode] Cache:2 Core:1 PU:1"},
		{"group merged into cache", "node:2 L2Cache:1 Core:2 PU:1", 0, "L2Cache:2 [NUMANode] Core:2 PU:1"},
		{"v1 numa level", "node:2 core:2 pu:2", model.ExportSyntheticV1, "NUMANode:2 Core:2 PU:2"},
		{"v1 implicit root node", "Package:2 Core:1 PU:2", model.ExportSyntheticV1, "Package:2 Core:1 PU:2"},
		{"numa indexes", "Package:2 [NUMANode(indexes=1,0)] PU:1", 0, "Package:2 [NUMANode(indexes=1,0)] PU:1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Export(load(t, tt.desc), tt.flags)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExportRoundTrip(t *testing.T) {
	for _, desc := range []string{
		"node:2 core:2 pu:2",
		"Package:2 [NUMANode(memory=4GiB)] L3Cache:1(size=8MiB) L1iCache:4 Core:1 PU:2",
		"[NUMANode] [NUMANode] Package:1 Die:2 Core:2 PU:1(indexes=3,2,1,0)",
	} {
		t.Run(desc, func(t *testing.T) {
			first, err := Export(load(t, desc), 0)
			require.NoError(t, err)
			second, err := Export(load(t, first), 0)
			require.NoError(t, err)
			assert.Equal(t, first, second)
		})
	}
}

func TestExportErrors(t *testing.T) {
	t.Run("asymmetric", func(t *testing.T) {
		root := discovery.NewObject(model.TypeMachine, 0)
		root.AddChild(discovery.NewObject(model.TypeNUMANode, 0))
		p0 := root.AddChild(discovery.NewObject(model.TypePackage, 0))
		p0.AddChild(discovery.NewObject(model.TypePU, 0))
		p1 := root.AddChild(discovery.NewObject(model.TypePackage, 1))
		p1.AddChild(discovery.NewObject(model.TypePU, 1))
		p1.AddChild(discovery.NewObject(model.TypePU, 2))
		tr, err := tree.Build(&discovery.Result{Root: root}, discovery.DefaultConfig().Filters)
		require.NoError(t, err)

		_, err = Export(tr, 0)
		assert.ErrorIs(t, err, ErrAsymmetric)
	})

	t.Run("icache without extended types", func(t *testing.T) {
		r, err := Parse("L1iCache:2 Core:1 PU:1")
		require.NoError(t, err)
		filters := discovery.DefaultConfig().Filters
		filters[model.TypeL1ICache] = model.KeepAll
		tr, err := tree.Build(r, filters)
		require.NoError(t, err)
		require.Equal(t, 1, tr.TypeDepth(model.TypeL1ICache))

		_, err = Export(tr, model.ExportSyntheticNoExtendedTypes)
		assert.ErrorIs(t, err, ErrUnsupported)
	})

	t.Run("v1 with several root nodes", func(t *testing.T) {
		_, err := Export(load(t, "[NUMANode] [NUMANode] Core:2 PU:1"), model.ExportSyntheticV1)
		assert.ErrorIs(t, err, ErrUnsupported)
	})
}
