package discovery

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

func obj(t model.ObjType, os int, cpus ...int) *Object {
	o := NewObject(t, os)
	o.CPUSet = bitmap.MustFromSequence(cpus...)
	return o
}

func TestBuilderInsertByCPUSet(t *testing.T) {
	b := NewBuilder("test", bitmap.MustFromSequence(0, 1, 2, 3))

	// PUs first, then the objects that contain them.
	for i := range 4 {
		_, err := b.Insert(obj(model.TypePU, i, i))
		require.NoError(t, err)
	}
	_, err := b.Insert(obj(model.TypeCore, 0, 0, 1))
	require.NoError(t, err)
	_, err = b.Insert(obj(model.TypeCore, 1, 2, 3))
	require.NoError(t, err)
	_, err = b.Insert(obj(model.TypePackage, 0, 0, 1, 2, 3))
	require.NoError(t, err)
	l2 := obj(model.TypeL2Cache, model.UnknownIndex, 0, 1)
	l2.Attr = model.CacheAttr{Size: 1 << 20, Depth: 2}
	_, err = b.Insert(l2)
	require.NoError(t, err)

	root := b.Root()
	require.Len(t, root.Children, 1)
	pkg := root.Children[0]
	assert.Equal(t, model.TypePackage, pkg.Type)
	require.Len(t, pkg.Children, 2)
	assert.Equal(t, model.TypeL2Cache, pkg.Children[0].Type)
	assert.Equal(t, model.TypeCore, pkg.Children[0].Children[0].Type)
	assert.Equal(t, model.TypeCore, pkg.Children[1].Type)
	assert.Len(t, pkg.Children[1].Children, 2)
}

func TestBuilderMergeAndErrors(t *testing.T) {
	b := NewBuilder("test", bitmap.MustFromSequence(0, 1, 2, 3))
	first, err := b.Insert(obj(model.TypeCore, 0, 0, 1))
	require.NoError(t, err)
	dup := obj(model.TypeCore, 0, 0, 1)
	dup.Name = "core zero"
	merged, err := b.Insert(dup)
	require.NoError(t, err)
	assert.Same(t, first, merged)
	assert.Equal(t, "core zero", first.Name)

	_, err = b.Insert(obj(model.TypeGroup, model.UnknownIndex, 1, 2))
	assert.Equal(t, KindInvalid, KindOf(err))

	_, err = b.Insert(obj(model.TypeCore, 9, 9))
	assert.Equal(t, KindInvalid, KindOf(err))

	_, err = b.Insert(obj(model.TypeNUMANode, 0, 0))
	assert.Equal(t, KindInvalid, KindOf(err))
}

func TestBuilderAttachMemoryCreatesGroup(t *testing.T) {
	b := NewBuilder("test", bitmap.MustFromSequence(0, 1, 2, 3))
	for i := range 4 {
		_, err := b.Insert(obj(model.TypeCore, i, i))
		require.NoError(t, err)
	}
	require.NoError(t, b.AttachMemory(obj(model.TypeNUMANode, 0, 0, 1)))
	require.NoError(t, b.AttachMemory(obj(model.TypeNUMANode, 1, 2, 3)))

	root := b.Root()
	require.Len(t, root.Children, 2)
	for i, g := range root.Children {
		assert.Equal(t, model.TypeGroup, g.Type)
		require.Len(t, g.Children, 3)
		numa := g.Children[2]
		assert.Equal(t, model.TypeNUMANode, numa.Type)
		assert.Equal(t, i, numa.OSIndex)
		assert.Nil(t, numa.CPUSet)
	}

	pci := NewObject(model.TypePCIDevice, model.UnknownIndex)
	require.NoError(t, b.AttachIO(bitmap.MustFromSequence(2, 3), pci))
	assert.Same(t, pci, root.Children[1].Children[3])
}

func TestResultValidate(t *testing.T) {
	valid := func() *Result {
		root := NewObject(model.TypeMachine, 0)
		root.AddChild(NewObject(model.TypeNUMANode, 0))
		root.AddChild(NewObject(model.TypePU, 0))
		r := &Result{Root: root}
		r.AssignGPIndexes()
		return r
	}

	require.NoError(t, valid().Validate("test"))

	tests := []struct {
		name   string
		mutate func(r *Result)
	}{
		{"no numa", func(r *Result) { r.Root.Children = r.Root.Children[1:] }},
		{"root type", func(r *Result) { r.Root.Type = model.TypePackage }},
		{"attr mismatch", func(r *Result) { r.Root.Children[1].Attr = model.CacheAttr{} }},
		{"duplicate gp", func(r *Result) { r.Root.Children[1].GPIndex = r.Root.Children[0].GPIndex }},
		{"pu child", func(r *Result) { r.Root.Children[1].AddChild(NewObject(model.TypeCore, 0)) }},
		{"distance size", func(r *Result) {
			r.Distances = []Distances{{Objects: []uint64{1}, Values: []uint64{1, 2}}}
		}},
		{"memattr target", func(r *Result) {
			r.MemAttrs = []MemAttr{{Name: "x", Values: []MemAttrValue{{Target: r.Root.Children[1].GPIndex}}}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(r)
			err := r.Validate("test")
			require.Error(t, err)
			var derr *Error
			require.True(t, errors.As(err, &derr))
			assert.Equal(t, KindInvalid, derr.Kind)
		})
	}
}

func TestAssignGPIndexes(t *testing.T) {
	root := NewObject(model.TypeMachine, 0)
	root.GPIndex = 5
	a := root.AddChild(NewObject(model.TypePU, 0))
	b := root.AddChild(NewObject(model.TypePU, 1))
	r := &Result{Root: root}
	next := r.AssignGPIndexes()
	assert.Equal(t, uint64(6), a.GPIndex)
	assert.Equal(t, uint64(7), b.GPIndex)
	assert.Equal(t, uint64(8), next)
}

func TestObjectJSON(t *testing.T) {
	root := NewObject(model.TypeMachine, 0)
	root.CPUSet = bitmap.MustFromSequence(0, 1)
	numa := root.AddChild(NewObject(model.TypeNUMANode, 0))
	numa.Attr = model.NUMANodeAttr{LocalMemory: 1 << 30, PageTypes: []model.PageType{{Size: 4096, Count: 10}}}
	br := root.AddChild(NewObject(model.TypeBridge, model.UnknownIndex))
	br.Attr = model.BridgeAttr{UpstreamKind: model.BridgeHost, DownstreamKind: model.BridgePCI,
		Downstream: model.BridgeDownstream{SecondaryBus: 1, SubordinateBus: 3}}
	root.Infos = []model.Info{{Name: "Backend", Value: "test"}}

	data, err := json.Marshal(root)
	require.NoError(t, err)

	var back Object
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, model.TypeMachine, back.Type)
	assert.True(t, back.CPUSet.Equal(root.CPUSet))
	require.Len(t, back.Children, 2)
	assert.Equal(t, numa.Attr, back.Children[0].Attr)
	assert.Equal(t, br.Attr, back.Children[1].Attr)
	assert.Nil(t, back.Children[0].CPUSet)
	assert.Equal(t, root.Infos, back.Infos)
}

func TestStaticBackendClones(t *testing.T) {
	root := NewObject(model.TypeMachine, 0)
	root.AddChild(NewObject(model.TypeNUMANode, 0))
	be := Static("static", &Result{Root: root})
	assert.Equal(t, "static", be.Name())

	r1, err := be.Discover(context.Background(), DefaultConfig())
	require.NoError(t, err)
	r1.Root.Name = "changed"
	r2, err := be.Discover(context.Background(), DefaultConfig())
	require.NoError(t, err)
	assert.Empty(t, r2.Root.Name)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = be.Discover(ctx, DefaultConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestErrorFormatting(t *testing.T) {
	inner := errors.New("boom")
	err := Wrap(KindIO, "linux", inner)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "discovery (linux): io: boom", err.Error())
	assert.Equal(t, "discovery (synthetic): syntax: bad token", Errorf(KindSyntax, "synthetic", "bad %s", "token").Error())
	assert.Equal(t, Kind(0), KindOf(inner))
}
