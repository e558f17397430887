package tree

import (
	"strconv"
	"strings"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

// computeSets derives cpusets and nodesets bottom-up from PUs and NUMA nodes.
// Memory objects take the cpuset of their normal parent. I/O and Misc
// objects have no sets.
func (t *Tree) computeSets() {
	t.computeCPUSet(t.root)
	t.computeNodeSet(t.root, bitmap.New())
}

func (t *Tree) computeCPUSet(id ID) {
	n := &t.nodes[id]
	switch {
	case n.Type == model.TypePU:
		set := bitmap.New()
		if n.OSIndex >= 0 {
			_ = set.Set(n.OSIndex)
		}
		n.CPUSet = set
	case len(n.Children) > 0:
		set := bitmap.New()
		for _, c := range n.Children {
			t.computeCPUSet(c)
			set.UnionWith(t.nodes[c].CPUSet)
		}
		n = &t.nodes[id]
		n.CPUSet = set
	case n.CPUSet == nil:
		n.CPUSet = bitmap.New()
	}
	n.CompleteCPUSet = n.CPUSet.Clone()
	for _, m := range n.MemoryChildren {
		t.setMemoryCPUSet(m, n.CPUSet)
	}
	for _, c := range n.IOChildren {
		t.clearSets(c)
	}
	for _, c := range n.MiscChildren {
		t.clearSets(c)
	}
}

func (t *Tree) setMemoryCPUSet(id ID, cpuset *bitmap.Bitmap) {
	n := &t.nodes[id]
	n.CPUSet = cpuset.Clone()
	n.CompleteCPUSet = cpuset.Clone()
	for _, m := range n.MemoryChildren {
		t.setMemoryCPUSet(m, cpuset)
	}
	for _, c := range n.MiscChildren {
		t.clearSets(c)
	}
}

func (t *Tree) clearSets(id ID) {
	n := &t.nodes[id]
	n.CPUSet, n.CompleteCPUSet, n.NodeSet, n.CompleteNodeSet = nil, nil, nil, nil
	for _, list := range [][]ID{n.IOChildren, n.MiscChildren} {
		for _, c := range list {
			t.clearSets(c)
		}
	}
}

// localNodes returns the NUMA nodes below memory object id, itself included.
func (t *Tree) localNodes(id ID) *bitmap.Bitmap {
	n := &t.nodes[id]
	set := bitmap.New()
	if n.Type == model.TypeNUMANode && n.OSIndex >= 0 {
		_ = set.Set(n.OSIndex)
	}
	for _, m := range n.MemoryChildren {
		set.UnionWith(t.localNodes(m))
	}
	return set
}

// computeNodeSet sets the nodeset of id to the NUMA nodes attached in its
// subtree plus inherited, the nodes attached to its ancestors. It returns the
// subtree part.
func (t *Tree) computeNodeSet(id ID, inherited *bitmap.Bitmap) *bitmap.Bitmap {
	n := &t.nodes[id]
	attached := bitmap.New()
	for _, m := range n.MemoryChildren {
		local := t.localNodes(m)
		attached.UnionWith(local)
		t.setMemoryNodeSet(m)
	}
	below := inherited.Union(attached)
	sub := attached.Clone()
	for _, c := range t.nodes[id].Children {
		sub.UnionWith(t.computeNodeSet(c, below))
	}
	n = &t.nodes[id]
	n.NodeSet = sub.Union(inherited)
	n.CompleteNodeSet = n.NodeSet.Clone()
	return sub
}

func (t *Tree) setMemoryNodeSet(id ID) {
	local := t.localNodes(id)
	n := &t.nodes[id]
	n.NodeSet = local
	n.CompleteNodeSet = local.Clone()
	for _, m := range n.MemoryChildren {
		t.setMemoryNodeSet(m)
	}
}

// Connect recomputes every derived field: sets, levels, depths, logical
// indexes, sibling and cousin links, symmetry and total memory. It must be
// called after any structural change.
func (t *Tree) Connect() {
	t.computeSets()
	t.buildLevels()
	t.buildSpecial()
	t.linkSiblings(t.root)
	t.nodes[t.root].Parent = Nil
	t.nodes[t.root].SiblingRank = 0
	t.computeSymmetry(t.root)
	t.computeMemory(t.root)

	t.byGP = make(map[uint64]ID, len(t.nodes))
	for id := range t.nodes {
		if t.Alive(ID(id)) {
			t.byGP[t.nodes[id].GPIndex] = ID(id)
		}
	}
}

func (t *Tree) buildLevels() {
	for i := range t.typeDepth {
		t.typeDepth[i] = model.DepthUnknown
	}
	t.levels = [][]ID{{t.root}}
	frontier := append([]ID(nil), t.nodes[t.root].Children...)
	for len(frontier) > 0 {
		top := t.nodes[frontier[0]].Type
		for _, id := range frontier[1:] {
			if typ := t.nodes[id].Type; typ.Rank() < top.Rank() {
				top = typ
			}
		}
		var level, next []ID
		for _, id := range frontier {
			if t.nodes[id].Type == top {
				level = append(level, id)
				next = append(next, t.nodes[id].Children...)
			} else {
				next = append(next, id)
			}
		}
		t.levels = append(t.levels, level)
		frontier = next
	}

	groupDepth := 0
	for depth, level := range t.levels {
		typ := t.nodes[level[0]].Type
		switch t.typeDepth[typ] {
		case model.DepthUnknown:
			t.typeDepth[typ] = depth
		default:
			t.typeDepth[typ] = model.DepthMultiple
		}
		for i, id := range level {
			n := &t.nodes[id]
			n.Depth = depth
			n.LogicalIndex = i
			n.PrevCousin, n.NextCousin = Nil, Nil
			if i > 0 {
				n.PrevCousin = level[i-1]
			}
			if i+1 < len(level) {
				n.NextCousin = level[i+1]
			}
			if typ == model.TypeGroup {
				ga, _ := n.Attr.(model.GroupAttr)
				ga.Depth = groupDepth
				n.Attr = ga
			}
		}
		if typ == model.TypeGroup {
			groupDepth++
		}
	}
}

func (t *Tree) buildSpecial() {
	t.special = make(map[model.ObjType][]ID)
	var walk func(id ID)
	walk = func(id ID) {
		n := &t.nodes[id]
		if d, ok := n.Type.SpecialDepth(); ok {
			n.Depth = d
			t.special[n.Type] = append(t.special[n.Type], id)
		}
		for _, list := range [][]ID{n.MemoryChildren, n.Children, n.IOChildren, n.MiscChildren} {
			for _, c := range list {
				walk(c)
			}
		}
	}
	walk(t.root)
	for _, level := range t.special {
		for i, id := range level {
			n := &t.nodes[id]
			n.LogicalIndex = i
			n.PrevCousin, n.NextCousin = Nil, Nil
			if i > 0 {
				n.PrevCousin = level[i-1]
			}
			if i+1 < len(level) {
				n.NextCousin = level[i+1]
			}
		}
	}
}

func (t *Tree) linkSiblings(id ID) {
	n := &t.nodes[id]
	for _, list := range [][]ID{n.Children, n.MemoryChildren, n.IOChildren, n.MiscChildren} {
		for i, c := range list {
			cn := &t.nodes[c]
			cn.Parent = id
			cn.SiblingRank = i
			cn.PrevSibling, cn.NextSibling = Nil, Nil
			if i > 0 {
				cn.PrevSibling = list[i-1]
			}
			if i+1 < len(list) {
				cn.NextSibling = list[i+1]
			}
			t.linkSiblings(c)
		}
	}
	if id == t.root {
		n.PrevSibling, n.NextSibling = Nil, Nil
	}
}

// computeSymmetry marks subtrees whose normal children all have the same
// shape. It returns the shape signature of id.
func (t *Tree) computeSymmetry(id ID) string {
	n := &t.nodes[id]
	children := n.Children
	var shape strings.Builder
	shape.WriteString(n.Type.String())
	shape.WriteByte(':')
	shape.WriteString(strconv.Itoa(len(children)))

	symmetric := true
	first := ""
	for i, c := range children {
		s := t.computeSymmetry(c)
		if !t.nodes[c].SymmetricSubtree {
			symmetric = false
		}
		if i == 0 {
			first = s
		} else if s != first {
			symmetric = false
		}
	}
	for _, list := range [][]ID{n.MemoryChildren, n.IOChildren, n.MiscChildren} {
		for _, c := range list {
			t.computeSymmetry(c)
		}
	}
	n = &t.nodes[id]
	n.SymmetricSubtree = symmetric
	if len(children) > 0 {
		shape.WriteString(" (")
		shape.WriteString(first)
		shape.WriteByte(')')
	}
	return shape.String()
}

func (t *Tree) computeMemory(id ID) uint64 {
	n := &t.nodes[id]
	var total uint64
	if a, ok := n.Attr.(model.NUMANodeAttr); ok {
		total = a.LocalMemory
	}
	for _, list := range [][]ID{n.MemoryChildren, n.Children} {
		for _, c := range list {
			total += t.computeMemory(c)
		}
	}
	t.nodes[id].TotalMemory = total
	return total
}
