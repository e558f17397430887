// Package tree is the arena-backed object tree behind a topology.
//
// Nodes live in a single slice and are addressed by ID. IDs are stable for
// the lifetime of a Tree: removed nodes are tombstoned, never reused, so a
// stale ID can always be detected with Alive.
package tree

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/model"
)

// ID addresses a node in a Tree.
type ID int32

// Nil is the ID of no node.
const Nil ID = -1

// Node is one object of the tree. Fields below the blank line are derived
// and rewritten by Connect.
type Node struct {
	Type    model.ObjType
	OSIndex int
	Name    string
	Subtype string
	Attr    model.Attr
	Infos   []model.Info
	GPIndex uint64

	CPUSet          *bitmap.Bitmap
	CompleteCPUSet  *bitmap.Bitmap
	NodeSet         *bitmap.Bitmap
	CompleteNodeSet *bitmap.Bitmap

	Parent         ID
	Children       []ID
	MemoryChildren []ID
	IOChildren     []ID
	MiscChildren   []ID

	Depth            int
	LogicalIndex     int
	SiblingRank      int
	PrevSibling      ID
	NextSibling      ID
	PrevCousin       ID
	NextCousin       ID
	SymmetricSubtree bool
	TotalMemory      uint64
}

// Arity returns the number of normal children.
func (n *Node) Arity() int { return len(n.Children) }

// Tree is a topology object tree.
type Tree struct {
	nodes []Node
	dead  *bitset.BitSet
	root  ID

	levels    [][]ID
	special   map[model.ObjType][]ID
	typeDepth [model.NumTypes]int
	byGP      map[uint64]ID
	nextGP    uint64

	// AllowedCPUSet and AllowedNodeSet are the resources the process may use.
	AllowedCPUSet  *bitmap.Bitmap
	AllowedNodeSet *bitmap.Bitmap
}

// Build creates a connected tree from a discovery result, applying filters.
// The result is consumed: GP indexes are assigned in place.
func Build(r *discovery.Result, filters [model.NumTypes]model.TypeFilter) (*Tree, error) {
	if r == nil || r.Root == nil {
		return nil, discovery.Errorf(discovery.KindInvalid, "tree", "no root object")
	}
	next := r.AssignGPIndexes()
	if err := r.Validate("tree"); err != nil {
		return nil, err
	}
	t := &Tree{dead: bitset.New(64), nextGP: next}
	t.root = t.add(r.Root, Nil)
	t.computeSets()
	t.applyFilters(filters)
	t.Connect()

	complete := t.nodes[t.root].CompleteCPUSet
	t.AllowedCPUSet = complete.Clone()
	if r.AllowedCPUSet != nil {
		t.AllowedCPUSet = r.AllowedCPUSet.Intersect(complete)
	}
	completeNodes := t.nodes[t.root].CompleteNodeSet
	t.AllowedNodeSet = completeNodes.Clone()
	if r.AllowedNodeSet != nil {
		t.AllowedNodeSet = r.AllowedNodeSet.Intersect(completeNodes)
	}
	return t, nil
}

func (t *Tree) add(o *discovery.Object, parent ID) ID {
	id := ID(len(t.nodes))
	t.nodes = append(t.nodes, Node{
		Type:            o.Type,
		OSIndex:         o.OSIndex,
		Name:            o.Name,
		Subtype:         o.Subtype,
		Attr:            model.CloneAttr(o.Attr),
		Infos:           append([]model.Info(nil), o.Infos...),
		GPIndex:         o.GPIndex,
		CPUSet:          cloneSet(o.CPUSet),
		CompleteCPUSet:  cloneSet(o.CompleteCPUSet),
		NodeSet:         cloneSet(o.NodeSet),
		CompleteNodeSet: cloneSet(o.CompleteNodeSet),
		Parent:          parent,
	})
	for _, c := range o.Children {
		cid := t.add(c, id)
		n := &t.nodes[id]
		list := n.listFor(c.Type)
		*list = append(*list, cid)
	}
	return id
}

// listFor returns the child list that holds children of type ct.
func (n *Node) listFor(ct model.ObjType) *[]ID {
	switch {
	case ct.IsNormal():
		return &n.Children
	case ct.IsMemory():
		return &n.MemoryChildren
	case ct.IsIO():
		return &n.IOChildren
	default:
		return &n.MiscChildren
	}
}

// NewNode appends a detached node and returns its ID. The caller links it
// into the tree and calls Connect.
func (t *Tree) NewNode(typ model.ObjType, osIndex int) ID {
	id := ID(len(t.nodes))
	t.nodes = append(t.nodes, Node{Type: typ, OSIndex: osIndex, GPIndex: t.nextGP, Parent: Nil})
	t.nextGP++
	return id
}

// Root returns the ID of the Machine object.
func (t *Tree) Root() ID { return t.root }

// Len returns the number of IDs ever allocated, dead ones included.
func (t *Tree) Len() int { return len(t.nodes) }

// Alive reports whether id refers to a node that is still in the tree.
func (t *Tree) Alive(id ID) bool {
	return id >= 0 && int(id) < len(t.nodes) && !t.dead.Test(uint(id))
}

// Node returns the node for id. The node must be alive; callers must not
// retain the pointer across mutations.
func (t *Tree) Node(id ID) *Node { return &t.nodes[id] }

// ByGP returns the node with the given GP index.
func (t *Tree) ByGP(gp uint64) (ID, bool) {
	id, ok := t.byGP[gp]
	return id, ok
}

// Depth returns the number of normal levels.
func (t *Tree) Depth() int { return len(t.levels) }

// Level returns the objects at a normal or special depth in logical order.
func (t *Tree) Level(depth int) []ID {
	if depth >= 0 {
		if depth >= len(t.levels) {
			return nil
		}
		return t.levels[depth]
	}
	typ, ok := model.TypeAtSpecialDepth(depth)
	if !ok {
		return nil
	}
	return t.special[typ]
}

// TypeDepth returns the depth of objects of type typ: a level index, the
// special depth of memory, I/O and Misc types, DepthMultiple when several
// levels hold that type or DepthUnknown when none does.
func (t *Tree) TypeDepth(typ model.ObjType) int {
	if d, ok := typ.SpecialDepth(); ok {
		return d
	}
	if !typ.Valid() {
		return model.DepthUnknown
	}
	return t.typeDepth[typ]
}

// DepthType returns the type of the objects at depth.
func (t *Tree) DepthType(depth int) (model.ObjType, bool) {
	if depth < 0 {
		return model.TypeAtSpecialDepth(depth)
	}
	if depth >= len(t.levels) || len(t.levels[depth]) == 0 {
		return 0, false
	}
	return t.nodes[t.levels[depth][0]].Type, true
}

// kill tombstones id and its whole subtree.
func (t *Tree) kill(id ID) {
	t.dead.Set(uint(id))
	n := &t.nodes[id]
	for _, list := range [][]ID{n.Children, n.MemoryChildren, n.IOChildren, n.MiscChildren} {
		for _, c := range list {
			t.kill(c)
		}
	}
}

// Clone returns an independent deep copy of t.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		nodes:          make([]Node, len(t.nodes)),
		dead:           t.dead.Clone(),
		root:           t.root,
		nextGP:         t.nextGP,
		AllowedCPUSet:  t.AllowedCPUSet.Clone(),
		AllowedNodeSet: t.AllowedNodeSet.Clone(),
	}
	for i := range t.nodes {
		n := t.nodes[i]
		n.Attr = model.CloneAttr(n.Attr)
		n.Infos = append([]model.Info(nil), n.Infos...)
		n.CPUSet = cloneSet(n.CPUSet)
		n.CompleteCPUSet = cloneSet(n.CompleteCPUSet)
		n.NodeSet = cloneSet(n.NodeSet)
		n.CompleteNodeSet = cloneSet(n.CompleteNodeSet)
		n.Children = append([]ID(nil), n.Children...)
		n.MemoryChildren = append([]ID(nil), n.MemoryChildren...)
		n.IOChildren = append([]ID(nil), n.IOChildren...)
		n.MiscChildren = append([]ID(nil), n.MiscChildren...)
		c.nodes[i] = n
	}
	c.Connect()
	return c
}

func cloneSet(b *bitmap.Bitmap) *bitmap.Bitmap {
	if b == nil {
		return nil
	}
	return b.Clone()
}
