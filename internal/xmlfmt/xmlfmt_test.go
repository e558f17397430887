package xmlfmt

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/internal/synthetic"
	"github.com/hupe1980/hwtopo/internal/tree"
	"github.com/hupe1980/hwtopo/model"
)

func build(t *testing.T, r *discovery.Result) *tree.Tree {
	t.Helper()
	tr, err := tree.Build(r, discovery.DefaultConfig().Filters)
	require.NoError(t, err)
	return tr
}

// sample returns an exported topology carrying distances, memory attributes
// and CPU kinds.
func sample(t *testing.T) *discovery.Result {
	t.Helper()
	r, err := synthetic.Parse("node:2 core:2 pu:2")
	require.NoError(t, err)
	tr := build(t, r)

	out := tr.Export()
	numa := tr.ObjectsByType(model.TypeNUMANode)
	require.Len(t, numa, 2)
	gp0, gp1 := tr.Node(numa[0]).GPIndex, tr.Node(numa[1]).GPIndex
	core := tr.ObjectsByType(model.TypeCore)[0]

	out.Distances = []discovery.Distances{{
		Name:    "NUMALatency",
		Kind:    model.DistancesFromUser | model.DistancesMeansLatency,
		Objects: []uint64{gp0, gp1},
		Values:  []uint64{10, 20, 20, 10},
	}}
	out.MemAttrs = []discovery.MemAttr{{
		Name:  "Latency",
		Flags: model.MemAttrLowerFirst | model.MemAttrNeedInitiator,
		Values: []discovery.MemAttrValue{
			{Target: gp0, Initiator: tr.Node(core).CPUSet.Clone(), InitiatorGP: tr.Node(core).GPIndex, Value: 80},
			{Target: gp1, Initiator: bitmap.MustFromSequence(4, 5), Value: 120},
		},
	}}
	out.CPUKinds = []discovery.CPUKind{
		{CPUSet: bitmap.MustFromSequence(0, 1, 2, 3), Efficiency: 0, Infos: []model.Info{{Name: "CoreType", Value: "IntelAtom"}}},
		{CPUSet: bitmap.MustFromSequence(4, 5, 6, 7), Efficiency: 1},
	}
	return out
}

func encode(t *testing.T, r *discovery.Result, flags model.ExportXMLFlags) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, r, flags))
	return buf.String()
}

func TestEncode(t *testing.T) {
	doc := encode(t, sample(t), 0)

	assert.True(t, strings.HasPrefix(doc, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, doc, `<!DOCTYPE topology SYSTEM "hwloc2.dtd">`)
	assert.Contains(t, doc, `<topology version="2.0">`)
	assert.Contains(t, doc, `type="NUMANode"`)
	assert.Contains(t, doc, `indexing="gp"`)
	assert.Contains(t, doc, `<u64values length="4">10 20 20 10 </u64values>`)
	assert.Contains(t, doc, `<info name="CoreType" value="IntelAtom"></info>`)
	assert.Contains(t, doc, `initiator_obj_type="Core"`)
}

func TestRoundTrip(t *testing.T) {
	first := encode(t, sample(t), 0)

	res, err := Decode(strings.NewReader(first))
	require.NoError(t, err)
	require.NoError(t, res.Validate("test"))

	assert.Equal(t, first, encode(t, res, 0))

	require.Len(t, res.MemAttrs, 1)
	v := res.MemAttrs[0].Values[0]
	assert.NotZero(t, v.InitiatorGP)
	assert.Equal(t, "0-1", v.Initiator.ListString())
	assert.Zero(t, res.MemAttrs[0].Values[1].InitiatorGP)
}

func TestRoundTripV1(t *testing.T) {
	orig := sample(t)
	v1 := encode(t, orig, model.ExportXMLV1)
	assert.NotContains(t, v1, `version=`)

	res, err := Decode(strings.NewReader(v1))
	require.NoError(t, err)

	// The groups get their NUMA nodes back once rebuilt.
	tr := build(t, res)
	for _, id := range tr.ObjectsByType(model.TypeNUMANode) {
		parent := tr.Node(tr.Node(id).Parent)
		assert.Equal(t, model.TypeGroup, parent.Type)
	}
	assert.Equal(t, encode(t, orig, 0), encode(t, withExtras(tr.Export(), orig), 0))
}

func withExtras(r, from *discovery.Result) *discovery.Result {
	r.Distances = from.Distances
	r.MemAttrs = from.MemAttrs
	r.CPUKinds = from.CPUKinds
	return r
}

func TestDecodeOSIndexing(t *testing.T) {
	const doc = `<?xml version="1.0" encoding="UTF-8"?>
<topology version="2.0">
  <object type="Machine" os_index="0">
    <object type="Package" os_index="0">
      <object type="NUMANode" os_index="0" local_memory="1024"/>
      <object type="Core" os_index="0"><object type="PU" os_index="0"/></object>
    </object>
    <object type="Package" os_index="1">
      <object type="NUMANode" os_index="1" local_memory="2048"/>
      <object type="Core" os_index="1"><object type="PU" os_index="1"/></object>
    </object>
  </object>
  <distances2 type="NUMANode" nbobjs="2" kind="5" indexing="os">
    <indexes length="2">1 0</indexes>
    <u64values length="4">10 21 21 10</u64values>
  </distances2>
</topology>`

	res, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)
	tr := build(t, res)

	require.Len(t, res.Distances, 1)
	d := res.Distances[0]
	first, ok := tr.ByGP(d.Objects[0])
	require.True(t, ok)
	assert.Equal(t, 1, tr.Node(first).OSIndex)
	assert.Equal(t, model.NUMANodeAttr{LocalMemory: 2048}, tr.Node(first).Attr)
	assert.Equal(t, "0-1", tr.Node(tr.Root()).CPUSet.ListString())
}

func TestDecodeAttributes(t *testing.T) {
	const doc = `<topology version="2.0">
  <object type="Machine" os_index="0">
    <object type="NUMANode" os_index="0"><page_type size="4096" count="10"/></object>
    <object type="L2Cache" cache_size="1048576" depth="2" cache_linesize="64" cache_associativity="16" cache_type="0">
      <object type="PU" os_index="0"/>
    </object>
    <object type="Bridge" bridge_type="0-1" bridge_pci="0000:[00-04]" depth="0">
      <object type="PCIDev" pci_busid="0000:02:00.1" pci_type="0200 [8086:1521] [8086:0001] 01" pci_link_speed="4">
        <object type="OSDev" name="eth0" osdev_type="16"/>
      </object>
    </object>
  </object>
</topology>`

	res, err := Decode(strings.NewReader(doc))
	require.NoError(t, err)

	var got = map[model.ObjType]model.Attr{}
	res.Root.Walk(func(o *discovery.Object) bool {
		if o.Attr != nil {
			got[o.Type] = o.Attr
		}
		return true
	})

	assert.Equal(t, model.NUMANodeAttr{PageTypes: []model.PageType{{Size: 4096, Count: 10}}}, got[model.TypeNUMANode])
	assert.Equal(t, model.CacheAttr{Size: 1 << 20, Depth: 2, LineSize: 64, Associativity: 16}, got[model.TypeL2Cache])
	assert.Equal(t, model.BridgeAttr{
		UpstreamKind:   model.BridgeHost,
		DownstreamKind: model.BridgePCI,
		Downstream:     model.BridgeDownstream{SecondaryBus: 0, SubordinateBus: 4},
	}, got[model.TypeBridge])

	pci := got[model.TypePCIDevice].(model.PCIDeviceAttr)
	assert.Equal(t, "0000:02:00.1", pci.BusID())
	assert.Equal(t, uint16(0x0200), pci.ClassID)
	assert.Equal(t, uint16(0x8086), pci.VendorID)
	assert.Equal(t, uint16(0x1521), pci.DeviceID)
	assert.Equal(t, uint8(1), pci.Revision)
	assert.Equal(t, float32(4), pci.LinkSpeed)

	assert.Equal(t, model.OSDeviceAttr{Kinds: model.OSDevNetwork}, got[model.TypeOSDevice])
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not xml", "{}"},
		{"version", `<topology version="3.0"><object type="Machine"/></topology>`},
		{"no root", `<topology version="2.0"></topology>`},
		{"unknown type", `<topology><object type="Blob"/></topology>`},
		{"bad cpuset", `<topology><object type="Machine" cpuset="zz"/></topology>`},
		{"bad busid", `<topology><object type="Machine"><object type="PCIDev" pci_busid="x"/></object></topology>`},
		{
			"unknown gp",
			`<topology><object type="Machine" gp_index="1"/>
			<distances2 nbobjs="2" kind="5" indexing="gp"><indexes length="2">1 9</indexes><u64values length="4">1 2 2 1</u64values></distances2></topology>`,
		},
		{
			"short values",
			`<topology><object type="Machine" gp_index="1"/>
			<distances2 nbobjs="1" kind="5" indexing="gp"><indexes length="1">1</indexes><u64values length="2">1</u64values></distances2></topology>`,
		},
		{
			"initiator without cpuset",
			`<topology><object type="Machine" gp_index="1"><object type="NUMANode" gp_index="2"/></object>
			<memattr name="Latency" flags="6"><memattr_value target_obj_type="NUMANode" target_obj_gp_index="2" initiator_obj_gp_index="1" value="5"/></memattr></topology>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.Equal(t, discovery.KindSyntax, discovery.KindOf(err))
		})
	}
}

func BenchmarkEncode(b *testing.B) {
	r, err := synthetic.Parse("Package:2 [NUMANode] L3Cache:1 Core:16 PU:2")
	require.NoError(b, err)
	tr, err := tree.Build(r, discovery.DefaultConfig().Filters)
	require.NoError(b, err)
	res := tr.Export()

	var buf bytes.Buffer
	for b.Loop() {
		buf.Reset()
		_ = Encode(&buf, res, 0)
	}
}
