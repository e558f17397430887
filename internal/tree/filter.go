package tree

import (
	"slices"

	"github.com/hupe1980/hwtopo/model"
)

// PCI class codes (upper byte) of devices kept by KeepImportant.
var importantPCIClasses = map[uint16]bool{
	0x01: true, // mass storage
	0x02: true, // network
	0x03: true, // display
	0x0b: true, // processor
	0x12: true, // processing accelerator
}

// applyFilters removes the objects rejected by the type filters. Children of
// a removed object move up to its parent.
func (t *Tree) applyFilters(filters [model.NumTypes]model.TypeFilter) {
	t.filterNode(t.root, filters)
}

func (t *Tree) filterNode(id ID, filters [model.NumTypes]model.TypeFilter) {
	n := &t.nodes[id]
	var all []ID
	for _, list := range [][]ID{n.Children, n.MemoryChildren, n.IOChildren, n.MiscChildren} {
		all = append(all, list...)
	}
	for _, c := range all {
		t.filterNode(c, filters)
	}
	if id == t.root || model.FilterIsFixed(t.nodes[id].Type) {
		return
	}
	if !t.keep(id, filters[t.nodes[id].Type]) {
		t.dissolve(id)
	}
}

func (t *Tree) keep(id ID, f model.TypeFilter) bool {
	n := &t.nodes[id]
	switch f {
	case model.KeepNone:
		return false
	case model.KeepStructure:
		if !n.Type.IsNormal() {
			return true
		}
		if ga, ok := n.Attr.(model.GroupAttr); ok && ga.DontMerge {
			return true
		}
		if len(n.Children) == 1 && t.nodes[n.Children[0]].CPUSet.Equal(n.CPUSet) {
			return false
		}
		if p := n.Parent; p != Nil && t.nodes[p].CPUSet.Equal(n.CPUSet) {
			return false
		}
		return true
	case model.KeepImportant:
		switch n.Type {
		case model.TypePCIDevice:
			if a, ok := n.Attr.(model.PCIDeviceAttr); ok && importantPCIClasses[a.ClassID>>8] {
				return true
			}
			return len(n.IOChildren) > 0
		case model.TypeBridge:
			return len(n.IOChildren) > 0
		case model.TypeOSDevice:
			a, _ := n.Attr.(model.OSDeviceAttr)
			return a.Kinds&^model.OSDevDMA != 0
		}
		return true
	default:
		return true
	}
}

// dissolve removes id from the tree and hands its children to its parent,
// each into the list of its own kind. Children of the same kind as id take
// its position. Memory attached to an object with a single equal child stays
// with that child.
func (t *Tree) dissolve(id ID) {
	n := t.nodes[id]
	p := n.Parent
	lists := [4][]ID{n.Children, n.MemoryChildren, n.IOChildren, n.MiscChildren}
	own := category(n.Type)
	memTarget := p
	if len(n.Children) == 1 && t.nodes[n.Children[0]].CPUSet.Equal(n.CPUSet) {
		memTarget = n.Children[0]
	}
	for k, kids := range lists {
		target := p
		if k == 1 {
			target = memTarget
		}
		for _, c := range kids {
			t.nodes[c].Parent = target
		}
		tn := &t.nodes[target]
		if k == own {
			list := tn.listFor(n.Type)
			if pos := slices.Index(*list, id); pos >= 0 {
				*list = slices.Replace(*list, pos, pos+1, kids...)
			}
			continue
		}
		for _, c := range kids {
			l := tn.listFor(t.nodes[c].Type)
			*l = append(*l, c)
		}
	}
	dn := &t.nodes[id]
	dn.Children, dn.MemoryChildren, dn.IOChildren, dn.MiscChildren = nil, nil, nil, nil
	t.dead.Set(uint(id))
}

// category maps a type to the index of its child list.
func category(ct model.ObjType) int {
	switch {
	case ct.IsNormal():
		return 0
	case ct.IsMemory():
		return 1
	case ct.IsIO():
		return 2
	default:
		return 3
	}
}
