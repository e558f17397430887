package tree

import (
	"strings"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

// ObjectsByType returns every object of type typ, shallowest level first and
// in logical order within a level.
func (t *Tree) ObjectsByType(typ model.ObjType) []ID {
	if _, ok := typ.SpecialDepth(); ok {
		return t.special[typ]
	}
	var out []ID
	for _, level := range t.levels {
		if t.nodes[level[0]].Type == typ {
			out = append(out, level...)
		}
	}
	return out
}

// IsInSubtree reports whether id is sub or one of its descendants.
func (t *Tree) IsInSubtree(id, sub ID) bool {
	for cur := id; cur != Nil; cur = t.nodes[cur].Parent {
		if cur == sub {
			return true
		}
	}
	return false
}

// CommonAncestor returns the deepest object that has both a and b in its
// subtree.
func (t *Tree) CommonAncestor(a, b ID) ID {
	seen := make(map[ID]bool)
	for cur := a; cur != Nil; cur = t.nodes[cur].Parent {
		seen[cur] = true
	}
	for cur := b; cur != Nil; cur = t.nodes[cur].Parent {
		if seen[cur] {
			return cur
		}
	}
	return t.root
}

// AncestorByDepth returns the ancestor of id at the given depth.
func (t *Tree) AncestorByDepth(id ID, depth int) (ID, bool) {
	for cur := t.nodes[id].Parent; cur != Nil; cur = t.nodes[cur].Parent {
		if t.nodes[cur].Depth == depth {
			return cur, true
		}
	}
	return Nil, false
}

// AncestorByType returns the closest ancestor of id of type typ.
func (t *Tree) AncestorByType(id ID, typ model.ObjType) (ID, bool) {
	for cur := t.nodes[id].Parent; cur != Nil; cur = t.nodes[cur].Parent {
		if t.nodes[cur].Type == typ {
			return cur, true
		}
	}
	return Nil, false
}

// NonIOAncestor returns the closest ancestor of id that is a normal object.
func (t *Tree) NonIOAncestor(id ID) ID {
	cur := t.nodes[id].Parent
	for cur != Nil && !t.nodes[cur].Type.IsNormal() {
		cur = t.nodes[cur].Parent
	}
	if cur == Nil {
		return t.root
	}
	return cur
}

// ChildCovering returns the first normal child of parent whose cpuset
// includes set.
func (t *Tree) ChildCovering(parent ID, set *bitmap.Bitmap) (ID, bool) {
	for _, c := range t.nodes[parent].Children {
		if t.nodes[c].CPUSet.Includes(set) {
			return c, true
		}
	}
	return Nil, false
}

// CoveringCPUSet returns the deepest normal object whose cpuset includes set.
func (t *Tree) CoveringCPUSet(set *bitmap.Bitmap) (ID, bool) {
	if set.IsZero() || !t.nodes[t.root].CPUSet.Includes(set) {
		return Nil, false
	}
	cur := t.root
	for {
		next, ok := t.ChildCovering(cur, set)
		if !ok {
			return cur, true
		}
		cur = next
	}
}

// FirstLargestInsideCPUSet returns the first largest object included in set:
// the first object reached from the root whose cpuset is a subset of set.
func (t *Tree) FirstLargestInsideCPUSet(set *bitmap.Bitmap) (ID, bool) {
	cur := t.root
	if !t.nodes[cur].CPUSet.Intersects(set) {
		return Nil, false
	}
	for !t.nodes[cur].CPUSet.IsSubsetOf(set) {
		next := Nil
		for _, c := range t.nodes[cur].Children {
			if t.nodes[c].CPUSet.Intersects(set) {
				next = c
				break
			}
		}
		if next == Nil {
			return Nil, false
		}
		cur = next
	}
	return cur, true
}

// LargestInsideCPUSet returns the largest objects that exactly cover set.
// It fails when set is not included in the topology.
func (t *Tree) LargestInsideCPUSet(set *bitmap.Bitmap) ([]ID, bool) {
	if !t.nodes[t.root].CPUSet.Includes(set) {
		return nil, false
	}
	if set.IsZero() {
		return nil, true
	}
	var out []ID
	t.largestInside(t.root, set, &out)
	return out, true
}

func (t *Tree) largestInside(cur ID, set *bitmap.Bitmap, out *[]ID) {
	if t.nodes[cur].CPUSet.Equal(set) {
		*out = append(*out, cur)
		return
	}
	for _, c := range t.nodes[cur].Children {
		cs := t.nodes[c].CPUSet
		if !cs.Intersects(set) {
			continue
		}
		t.largestInside(c, set.Intersect(cs), out)
	}
}

// InsideCPUSet returns the objects at depth whose non-empty cpuset is
// included in set.
func (t *Tree) InsideCPUSet(set *bitmap.Bitmap, depth int) []ID {
	var out []ID
	for _, id := range t.Level(depth) {
		cs := t.nodes[id].CPUSet
		if cs != nil && !cs.IsZero() && cs.IsSubsetOf(set) {
			out = append(out, id)
		}
	}
	return out
}

// CoveringCPUSetAtDepth returns the objects at depth whose cpuset intersects set.
func (t *Tree) CoveringCPUSetAtDepth(set *bitmap.Bitmap, depth int) []ID {
	var out []ID
	for _, id := range t.Level(depth) {
		if t.nodes[id].CPUSet.Intersects(set) {
			out = append(out, id)
		}
	}
	return out
}

// CacheCovering returns the deepest data or unified cache covering set.
func (t *Tree) CacheCovering(set *bitmap.Bitmap) (ID, bool) {
	cur, ok := t.CoveringCPUSet(set)
	if !ok {
		return Nil, false
	}
	for ; cur != Nil; cur = t.nodes[cur].Parent {
		if t.nodes[cur].Type.IsDCache() {
			return cur, true
		}
	}
	return Nil, false
}

// SharedCacheCovering returns the first data or unified cache above id that
// covers more PUs than id itself.
func (t *Tree) SharedCacheCovering(id ID) (ID, bool) {
	set := t.nodes[id].CPUSet
	for cur := t.nodes[id].Parent; cur != Nil; cur = t.nodes[cur].Parent {
		n := &t.nodes[cur]
		if n.Type.IsDCache() && !n.CPUSet.Equal(set) {
			return cur, true
		}
	}
	return Nil, false
}

// ClosestObjects returns the objects at the depth of src ordered by how far
// up the tree their common ancestor with src is. Objects sharing a closer
// ancestor come first.
func (t *Tree) ClosestObjects(src ID) []ID {
	if !t.nodes[src].Type.IsNormal() {
		return nil
	}
	level := t.Level(t.nodes[src].Depth)
	var out []ID
	parent := src
	for {
		next := t.nodes[parent].Parent
		for next != Nil && t.nodes[next].CPUSet.Equal(t.nodes[parent].CPUSet) {
			parent = next
			next = t.nodes[parent].Parent
		}
		if next == Nil {
			return out
		}
		outer, inner := t.nodes[next].CPUSet, t.nodes[parent].CPUSet
		for _, id := range level {
			cs := t.nodes[id].CPUSet
			if cs.IsSubsetOf(outer) && !cs.IsSubsetOf(inner) {
				out = append(out, id)
			}
		}
		parent = next
	}
}

// Distribute spreads n cpusets over the subtrees of roots in proportion to
// their PU counts, descending no deeper than untilDepth.
func (t *Tree) Distribute(roots []ID, n, untilDepth int, reverse bool) []*bitmap.Bitmap {
	sets := make([]*bitmap.Bitmap, n)
	t.distrib(roots, sets, untilDepth, reverse)
	for i, s := range sets {
		if s == nil {
			sets[i] = bitmap.New()
		}
	}
	return sets
}

func (t *Tree) distrib(roots []ID, sets []*bitmap.Bitmap, until int, reverse bool) {
	n := len(sets)
	total := 0
	for _, r := range roots {
		total += max(t.nodes[r].CPUSet.Weight(), 0)
	}
	if total == 0 || n == 0 {
		return
	}
	given, givenWeight := 0, 0
	for i := range roots {
		r := roots[i]
		if reverse {
			r = roots[len(roots)-1-i]
		}
		node := &t.nodes[r]
		weight := max(node.CPUSet.Weight(), 0)
		if weight == 0 {
			continue
		}
		chunk := ((givenWeight+weight)*n+total-1)/total - given
		switch {
		case len(node.Children) == 0 || chunk <= 1 || node.Depth >= until:
			if chunk > 0 {
				for j := range chunk {
					sets[given+j] = node.CPUSet.Clone()
				}
			} else if given > 0 {
				sets[given-1].UnionWith(node.CPUSet)
			}
		default:
			t.distrib(node.Children, sets[given:given+chunk], until, reverse)
		}
		givenWeight += weight
		given += chunk
	}
}

// CPUSetToNodeSet returns the NUMA nodes whose cpuset intersects set.
func (t *Tree) CPUSetToNodeSet(set *bitmap.Bitmap) *bitmap.Bitmap {
	out := bitmap.New()
	for _, id := range t.special[model.TypeNUMANode] {
		n := &t.nodes[id]
		if n.CPUSet.Intersects(set) && n.OSIndex >= 0 {
			_ = out.Set(n.OSIndex)
		}
	}
	return out
}

// NodeSetToCPUSet returns the union of the cpusets of the NUMA nodes in set.
func (t *Tree) NodeSetToCPUSet(set *bitmap.Bitmap) *bitmap.Bitmap {
	out := bitmap.New()
	for _, id := range t.special[model.TypeNUMANode] {
		n := &t.nodes[id]
		if n.OSIndex >= 0 && set.Contains(n.OSIndex) {
			out.UnionWith(n.CPUSet)
		}
	}
	return out
}

// ByOSIndex returns the object of type typ with the given OS index.
func (t *Tree) ByOSIndex(typ model.ObjType, osIndex int) (ID, bool) {
	for _, id := range t.ObjectsByType(typ) {
		if t.nodes[id].OSIndex == osIndex {
			return id, true
		}
	}
	return Nil, false
}

// PCIByBusID returns the PCI device at the given address.
func (t *Tree) PCIByBusID(domain uint32, bus, dev, fn uint8) (ID, bool) {
	for _, id := range t.special[model.TypePCIDevice] {
		a, ok := t.nodes[id].Attr.(model.PCIDeviceAttr)
		if ok && a.Domain == domain && a.Bus == bus && a.Dev == dev && a.Func == fn {
			return id, true
		}
	}
	return Nil, false
}

// BridgeCoversBus reports whether bridge id routes to the given PCI bus.
func (t *Tree) BridgeCoversBus(id ID, domain uint32, bus uint8) bool {
	a, ok := t.nodes[id].Attr.(model.BridgeAttr)
	if !ok || a.DownstreamKind != model.BridgePCI {
		return false
	}
	d := a.Downstream
	return d.Domain == domain && bus >= d.SecondaryBus && bus <= d.SubordinateBus
}

// NonIOAncestorForBus returns the object a device on the given bus would be
// attached to: the non-I/O ancestor of the bridge routing that bus, or of
// the closest PCI device on it.
func (t *Tree) NonIOAncestorForBus(domain uint32, bus, dev, fn uint8) (ID, bool) {
	if id, ok := t.PCIByBusID(domain, bus, dev, fn); ok {
		return t.NonIOAncestor(id), true
	}
	for _, id := range t.special[model.TypeBridge] {
		if t.BridgeCoversBus(id, domain, bus) {
			return t.NonIOAncestor(id), true
		}
	}
	return Nil, false
}

// TypeOrBelowDepth returns the depth of typ or, when no level holds it, the
// depth of the first level below where it would be.
func (t *Tree) TypeOrBelowDepth(typ model.ObjType) int {
	if d := t.TypeDepth(typ); d != model.DepthUnknown {
		return d
	}
	for depth := len(t.levels) - 1; depth >= 0; depth-- {
		lt, _ := t.DepthType(depth)
		if model.CompareTypes(lt, typ) < 0 {
			return depth + 1
		}
	}
	return 0
}

// TypeOrAboveDepth returns the depth of typ or, when no level holds it, the
// depth of the last level above where it would be.
func (t *Tree) TypeOrAboveDepth(typ model.ObjType) int {
	if d := t.TypeDepth(typ); d != model.DepthUnknown {
		return d
	}
	for depth := range t.levels {
		lt, _ := t.DepthType(depth)
		if c := model.CompareTypes(lt, typ); c > 0 && c != model.TypeUnordered {
			return depth - 1
		}
	}
	return len(t.levels) - 1
}

// SameLocality returns the objects of type typ sharing the locality of src.
// Normal and memory objects match on cpuset and nodeset. I/O objects match
// when they hang below the same PCI device. Subtype and name prefix filter
// the candidates when non-empty.
func (t *Tree) SameLocality(src ID, typ model.ObjType, subtype, namePrefix string) []ID {
	s := &t.nodes[src]
	var out []ID
	for _, id := range t.ObjectsByType(typ) {
		if id == src {
			continue
		}
		n := &t.nodes[id]
		if subtype != "" && !strings.EqualFold(n.Subtype, subtype) {
			continue
		}
		if namePrefix != "" && !strings.HasPrefix(n.Name, namePrefix) {
			continue
		}
		switch {
		case s.Type.IsIO() || typ.IsIO():
			if t.pciRoot(id) != Nil && t.pciRoot(id) == t.pciRoot(src) {
				out = append(out, id)
			}
		case typ == model.TypeMisc:
		default:
			if n.CPUSet.Equal(s.CPUSet) && n.NodeSet.Equal(s.NodeSet) {
				out = append(out, id)
			}
		}
	}
	return out
}

// pciRoot returns the PCI device id belongs to: itself or its closest PCI
// ancestor.
func (t *Tree) pciRoot(id ID) ID {
	for cur := id; cur != Nil && t.nodes[cur].Type.IsIO(); cur = t.nodes[cur].Parent {
		if t.nodes[cur].Type == model.TypePCIDevice {
			return cur
		}
	}
	return Nil
}
