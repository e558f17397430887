package tree

import (
	"errors"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

var (
	// ErrInvalidFlags is returned for contradictory restrict flags.
	ErrInvalidFlags = errors.New("tree: invalid flag combination")
	// ErrEmptyRestriction is returned when a restriction would remove every
	// PU or every NUMA node.
	ErrEmptyRestriction = errors.New("tree: restriction set does not intersect the topology")
)

// Restrict removes the PUs (or, with RestrictByNodeSet, the NUMA nodes) that
// are not in set, together with the objects left without resources. It
// returns the IDs of every removed object. The tree is left unchanged on
// error.
func (t *Tree) Restrict(set *bitmap.Bitmap, flags model.RestrictFlags) ([]ID, error) {
	byNodes := flags&model.RestrictByNodeSet != 0
	if byNodes && flags&model.RestrictRemoveCPULess != 0 {
		return nil, ErrInvalidFlags
	}
	if !byNodes && flags&model.RestrictRemoveMemLess != 0 {
		return nil, ErrInvalidFlags
	}
	root := &t.nodes[t.root]

	droppedCPUs, droppedNodes := bitmap.New(), bitmap.New()
	if byNodes {
		if !root.NodeSet.Intersects(set) {
			return nil, ErrEmptyRestriction
		}
		droppedNodes = root.NodeSet.AndNot(set)
		if flags&model.RestrictRemoveMemLess != 0 {
			for _, id := range t.ObjectsByType(model.TypePU) {
				pu := &t.nodes[id]
				if pu.NodeSet.IsSubsetOf(droppedNodes) {
					droppedCPUs.UnionWith(pu.CPUSet)
				}
			}
			if root.CPUSet.IsSubsetOf(droppedCPUs) {
				return nil, ErrEmptyRestriction
			}
		}
	} else {
		if !root.CPUSet.Intersects(set) {
			return nil, ErrEmptyRestriction
		}
		droppedCPUs = root.CPUSet.AndNot(set)
		if flags&model.RestrictRemoveCPULess != 0 {
			for _, id := range t.special[model.TypeNUMANode] {
				n := &t.nodes[id]
				if n.CPUSet.IsSubsetOf(droppedCPUs) && n.OSIndex >= 0 {
					_ = droppedNodes.Set(n.OSIndex)
				}
			}
			if root.NodeSet.IsSubsetOf(droppedNodes) {
				return nil, ErrEmptyRestriction
			}
		}
	}

	before := t.dead.Clone()
	r := restriction{t: t, cpus: droppedCPUs, nodes: droppedNodes, flags: flags}
	r.visit(t.root)
	t.Connect()
	t.AllowedCPUSet = t.AllowedCPUSet.AndNot(droppedCPUs)
	t.AllowedNodeSet = t.AllowedNodeSet.AndNot(droppedNodes)

	var removed []ID
	for i, ok := t.dead.NextSet(0); ok; i, ok = t.dead.NextSet(i + 1) {
		if !before.Test(i) {
			removed = append(removed, ID(i))
		}
	}
	return removed, nil
}

type restriction struct {
	t     *Tree
	cpus  *bitmap.Bitmap
	nodes *bitmap.Bitmap
	flags model.RestrictFlags
}

// visit restricts the subtree of id and reports whether id must go.
func (r restriction) visit(id ID) bool {
	t := r.t
	n := &t.nodes[id]
	if n.CPUSet != nil {
		n.CPUSet = n.CPUSet.AndNot(r.cpus)
	}

	n.Children = r.filter(n.Children)
	n = &t.nodes[id]
	n.MemoryChildren = r.filter(n.MemoryChildren)
	n = &t.nodes[id]

	switch {
	case id == t.root:
		return false
	case n.Type == model.TypePU:
		return n.OSIndex >= 0 && r.cpus.Contains(n.OSIndex)
	case n.Type == model.TypeNUMANode:
		return n.OSIndex >= 0 && r.nodes.Contains(n.OSIndex)
	case n.Type == model.TypeMemCache:
		return len(n.MemoryChildren) == 0
	default:
		return len(n.Children) == 0 && len(n.MemoryChildren) == 0 && n.CPUSet.IsZero()
	}
}

// filter visits each child and returns the survivors. The I/O and Misc
// children of removed objects move to the surviving parent when the matching
// adapt flag is set.
func (r restriction) filter(children []ID) []ID {
	t := r.t
	var kept []ID
	for _, c := range children {
		if !r.visit(c) {
			kept = append(kept, c)
			continue
		}
		cn := &t.nodes[c]
		parent := cn.Parent
		r.adopt(parent, cn.IOChildren, model.RestrictAdaptIO)
		r.adopt(parent, cn.MiscChildren, model.RestrictAdaptMisc)
		cn = &t.nodes[c]
		cn.IOChildren, cn.MiscChildren = nil, nil
		t.kill(c)
	}
	return kept
}

func (r restriction) adopt(parent ID, kids []ID, flag model.RestrictFlags) {
	t := r.t
	if r.flags&flag == 0 {
		for _, k := range kids {
			t.kill(k)
		}
		return
	}
	for _, k := range kids {
		p := &t.nodes[parent]
		l := p.listFor(t.nodes[k].Type)
		*l = append(*l, k)
		t.nodes[k].Parent = parent
	}
}
