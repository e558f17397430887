package hwtopo

import (
	"fmt"
	"iter"
	"strings"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/internal/tree"
	"github.com/hupe1980/hwtopo/model"
)

// Object is a borrowed reference to one object of a Topology.
//
// Two Objects are equal (==) when they designate the same object of the same
// Topology. An Object becomes invalid when its topology is destroyed or when
// a restriction removes it: accessors then return zero values and Err
// reports why. The zero Object is invalid.
type Object struct {
	topo *Topology
	id   tree.ID
}

func (t *Topology) object(id tree.ID) Object {
	if id == tree.Nil {
		return Object{}
	}
	return Object{topo: t, id: id}
}

func (t *Topology) objects(ids []tree.ID) []Object {
	out := make([]Object, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.object(id))
	}
	return out
}

// Err returns nil for a usable Object, ErrUseAfterRelease when its topology
// was destroyed, and ErrNotFound when it was removed from the tree.
func (o Object) Err() error {
	if o.topo == nil {
		return fmt.Errorf("%w: zero object", ErrInvalidArgument)
	}
	if err := o.topo.loaded(); err != nil {
		return err
	}
	if !o.topo.tree.Alive(o.id) {
		return fmt.Errorf("%w: object was removed from the topology", ErrNotFound)
	}
	return nil
}

// Valid reports whether Err is nil.
func (o Object) Valid() bool { return o.Err() == nil }

// node returns the tree node or nil when o is not usable.
func (o Object) node() *tree.Node {
	if o.Err() != nil {
		return nil
	}
	return o.topo.tree.Node(o.id)
}

// belongs reports whether o is a usable object of t.
func (t *Topology) belongs(o Object) error {
	if err := o.Err(); err != nil {
		return err
	}
	if o.topo != t {
		return fmt.Errorf("%w: object belongs to another topology", ErrInvalidArgument)
	}
	return nil
}

// Topology returns the owning topology.
func (o Object) Topology() *Topology { return o.topo }

// Type returns the object type, or model.TypeInvalid when Err is non-nil.
func (o Object) Type() model.ObjType {
	if n := o.node(); n != nil {
		return n.Type
	}
	return model.TypeInvalid
}

// Subtype returns the subtype, such as "GPU" for a Group or "HBM" for a
// NUMA node.
func (o Object) Subtype() string {
	if n := o.node(); n != nil {
		return n.Subtype
	}
	return ""
}

// Name returns the object name.
func (o Object) Name() string {
	if n := o.node(); n != nil {
		return n.Name
	}
	return ""
}

// OSIndex returns the operating system index, or model.UnknownIndex.
func (o Object) OSIndex() int {
	if n := o.node(); n != nil {
		return n.OSIndex
	}
	return model.UnknownIndex
}

// GPIndex returns the global persistent index. It is unique within the
// topology and survives export and import.
func (o Object) GPIndex() uint64 {
	if n := o.node(); n != nil {
		return n.GPIndex
	}
	return 0
}

// Depth returns the depth of the object, negative for memory, I/O and Misc
// objects.
func (o Object) Depth() int {
	if n := o.node(); n != nil {
		return n.Depth
	}
	return model.DepthUnknown
}

// LogicalIndex returns the rank of the object among the objects at its
// depth.
func (o Object) LogicalIndex() int {
	if n := o.node(); n != nil {
		return n.LogicalIndex
	}
	return -1
}

// SiblingRank returns the index of the object in its parent's child list.
func (o Object) SiblingRank() int {
	if n := o.node(); n != nil {
		return n.SiblingRank
	}
	return -1
}

// Arity returns the number of normal children.
func (o Object) Arity() int {
	if n := o.node(); n != nil {
		return n.Arity()
	}
	return 0
}

// MemoryArity returns the number of memory children.
func (o Object) MemoryArity() int {
	if n := o.node(); n != nil {
		return len(n.MemoryChildren)
	}
	return 0
}

// IOArity returns the number of I/O children.
func (o Object) IOArity() int {
	if n := o.node(); n != nil {
		return len(n.IOChildren)
	}
	return 0
}

// MiscArity returns the number of Misc children.
func (o Object) MiscArity() int {
	if n := o.node(); n != nil {
		return len(n.MiscChildren)
	}
	return 0
}

// TotalMemory returns the local memory of all NUMA nodes below the object,
// in bytes.
func (o Object) TotalMemory() uint64 {
	if n := o.node(); n != nil {
		return n.TotalMemory
	}
	return 0
}

// SymmetricSubtree reports whether every child subtree has the same shape.
func (o Object) SymmetricSubtree() bool {
	if n := o.node(); n != nil {
		return n.SymmetricSubtree
	}
	return false
}

// Attr returns the type-specific attributes: model.NUMANodeAttr,
// model.CacheAttr, model.GroupAttr, model.PCIDeviceAttr, model.BridgeAttr,
// model.OSDeviceAttr, or nil.
func (o Object) Attr() model.Attr {
	if n := o.node(); n != nil {
		return model.CloneAttr(n.Attr)
	}
	return nil
}

func cloneOrNil(b *bitmap.Bitmap) *bitmap.Bitmap {
	if b == nil {
		return nil
	}
	return b.Clone()
}

// CPUSet returns a copy of the PUs below the object.
func (o Object) CPUSet() *bitmap.Bitmap {
	if n := o.node(); n != nil {
		return cloneOrNil(n.CPUSet)
	}
	return nil
}

// CompleteCPUSet returns a copy of the complete cpuset.
func (o Object) CompleteCPUSet() *bitmap.Bitmap {
	if n := o.node(); n != nil {
		return cloneOrNil(n.CompleteCPUSet)
	}
	return nil
}

// NodeSet returns a copy of the NUMA nodes local to the object.
func (o Object) NodeSet() *bitmap.Bitmap {
	if n := o.node(); n != nil {
		return cloneOrNil(n.NodeSet)
	}
	return nil
}

// CompleteNodeSet returns a copy of the complete nodeset.
func (o Object) CompleteNodeSet() *bitmap.Bitmap {
	if n := o.node(); n != nil {
		return cloneOrNil(n.CompleteNodeSet)
	}
	return nil
}

// Infos returns a copy of the info pairs.
func (o Object) Infos() []model.Info {
	if n := o.node(); n != nil {
		return append([]model.Info(nil), n.Infos...)
	}
	return nil
}

// Info returns the value of the first info pair named name.
func (o Object) Info(name string) (string, bool) {
	if n := o.node(); n != nil {
		for _, i := range n.Infos {
			if i.Name == name {
				return i.Value, true
			}
		}
	}
	return "", false
}

func (o Object) link(get func(n *tree.Node) tree.ID) (Object, bool) {
	n := o.node()
	if n == nil {
		return Object{}, false
	}
	id := get(n)
	if id == tree.Nil {
		return Object{}, false
	}
	return o.topo.object(id), true
}

// Parent returns the parent object. The root has none.
func (o Object) Parent() (Object, bool) {
	return o.link(func(n *tree.Node) tree.ID { return n.Parent })
}

// NextSibling returns the next object in the parent's child list.
func (o Object) NextSibling() (Object, bool) {
	return o.link(func(n *tree.Node) tree.ID { return n.NextSibling })
}

// PrevSibling returns the previous object in the parent's child list.
func (o Object) PrevSibling() (Object, bool) {
	return o.link(func(n *tree.Node) tree.ID { return n.PrevSibling })
}

// NextCousin returns the next object at the same depth.
func (o Object) NextCousin() (Object, bool) {
	return o.link(func(n *tree.Node) tree.ID { return n.NextCousin })
}

// PrevCousin returns the previous object at the same depth.
func (o Object) PrevCousin() (Object, bool) {
	return o.link(func(n *tree.Node) tree.ID { return n.PrevCousin })
}

// FirstChild returns the first normal child.
func (o Object) FirstChild() (Object, bool) {
	return o.link(func(n *tree.Node) tree.ID {
		if len(n.Children) == 0 {
			return tree.Nil
		}
		return n.Children[0]
	})
}

// LastChild returns the last normal child.
func (o Object) LastChild() (Object, bool) {
	return o.link(func(n *tree.Node) tree.ID {
		if len(n.Children) == 0 {
			return tree.Nil
		}
		return n.Children[len(n.Children)-1]
	})
}

func (o Object) seq(lists func(n *tree.Node) [][]tree.ID) iter.Seq[Object] {
	return func(yield func(Object) bool) {
		n := o.node()
		if n == nil {
			return
		}
		for _, list := range lists(n) {
			for _, id := range list {
				if !yield(o.topo.object(id)) {
					return
				}
			}
		}
	}
}

// Children iterates over the normal children in order.
func (o Object) Children() iter.Seq[Object] {
	return o.seq(func(n *tree.Node) [][]tree.ID { return [][]tree.ID{n.Children} })
}

// MemoryChildren iterates over the memory children in order.
func (o Object) MemoryChildren() iter.Seq[Object] {
	return o.seq(func(n *tree.Node) [][]tree.ID { return [][]tree.ID{n.MemoryChildren} })
}

// IOChildren iterates over the I/O children in order.
func (o Object) IOChildren() iter.Seq[Object] {
	return o.seq(func(n *tree.Node) [][]tree.ID { return [][]tree.ID{n.IOChildren} })
}

// MiscChildren iterates over the Misc children in order.
func (o Object) MiscChildren() iter.Seq[Object] {
	return o.seq(func(n *tree.Node) [][]tree.ID { return [][]tree.ID{n.MiscChildren} })
}

// AllChildren iterates over the normal, memory, I/O and Misc children, in
// that order.
func (o Object) AllChildren() iter.Seq[Object] {
	return o.seq(func(n *tree.Node) [][]tree.ID {
		return [][]tree.ID{n.Children, n.MemoryChildren, n.IOChildren, n.MiscChildren}
	})
}

// Siblings iterates over the other objects of the parent's child list that
// holds o.
func (o Object) Siblings() iter.Seq[Object] {
	return func(yield func(Object) bool) {
		first := o
		for {
			prev, ok := first.PrevSibling()
			if !ok {
				break
			}
			first = prev
		}
		for cur, ok := first, o.Valid(); ok; cur, ok = cur.NextSibling() {
			if cur != o && !yield(cur) {
				return
			}
		}
	}
}

// AncestorByDepth returns the ancestor at depth.
func (o Object) AncestorByDepth(depth int) (Object, bool) {
	if o.node() == nil {
		return Object{}, false
	}
	id, ok := o.topo.tree.AncestorByDepth(o.id, depth)
	return o.topo.object(id), ok
}

// AncestorByType returns the closest ancestor of type typ.
func (o Object) AncestorByType(typ model.ObjType) (Object, bool) {
	if o.node() == nil {
		return Object{}, false
	}
	id, ok := o.topo.tree.AncestorByType(o.id, typ)
	return o.topo.object(id), ok
}

// NonIOAncestor returns the first ancestor that is not an I/O object.
func (o Object) NonIOAncestor() (Object, bool) {
	if o.node() == nil {
		return Object{}, false
	}
	return o.topo.object(o.topo.tree.NonIOAncestor(o.id)), true
}

// IsInSubtree reports whether o is root or one of its descendants.
func (o Object) IsInSubtree(root Object) bool {
	if o.node() == nil || root.topo != o.topo || root.node() == nil {
		return false
	}
	return o.topo.tree.IsInSubtree(o.id, root.id)
}

// IsNormal reports whether o belongs to the main hierarchy.
func (o Object) IsNormal() bool { return o.Valid() && o.Type().IsNormal() }

// IsMemory reports whether o is a NUMA node or a memory-side cache.
func (o Object) IsMemory() bool { return o.Valid() && o.Type().IsMemory() }

// IsIO reports whether o is a bridge, PCI device or OS device.
func (o Object) IsIO() bool { return o.Valid() && o.Type().IsIO() }

// IsCache reports whether o is a CPU-side cache.
func (o Object) IsCache() bool { return o.Valid() && o.Type().IsCache() }

// IsDCache reports whether o is a data or unified cache.
func (o Object) IsDCache() bool { return o.Valid() && o.Type().IsDCache() }

// IsICache reports whether o is an instruction cache.
func (o Object) IsICache() bool { return o.Valid() && o.Type().IsICache() }

func (o Object) osDevIs(k model.OSDevKind) bool {
	a, ok := o.Attr().(model.OSDeviceAttr)
	return ok && a.Kinds&k != 0
}

// IsGPU reports whether o is a GPU OS device.
func (o Object) IsGPU() bool { return o.osDevIs(model.OSDevGPU) }

// IsCoproc reports whether o is a coprocessor OS device.
func (o Object) IsCoproc() bool { return o.osDevIs(model.OSDevCoproc) }

// IsStorage reports whether o is a storage OS device.
func (o Object) IsStorage() bool { return o.osDevIs(model.OSDevStorage) }

// IsNetwork reports whether o is a network OS device.
func (o Object) IsNetwork() bool { return o.osDevIs(model.OSDevNetwork) }

// IsOpenFabrics reports whether o is an OpenFabrics OS device.
func (o Object) IsOpenFabrics() bool { return o.osDevIs(model.OSDevOpenFabrics) }

// IsDMA reports whether o is a DMA engine.
func (o Object) IsDMA() bool { return o.osDevIs(model.OSDevDMA) }

// IsMemoryDevice reports whether o is a memory OS device, such as a DAX
// device.
func (o Object) IsMemoryDevice() bool { return o.osDevIs(model.OSDevMemory) }

// PCIBusID returns the "dddd:bb:dd.f" address of a PCI device, or of the
// upstream side of a PCI bridge.
func (o Object) PCIBusID() (string, bool) {
	switch a := o.Attr().(type) {
	case model.PCIDeviceAttr:
		return a.BusID(), true
	case model.BridgeAttr:
		if a.UpstreamKind == model.BridgePCI {
			return a.Upstream.BusID(), true
		}
	}
	return "", false
}

// BridgeUpstreamPCI returns the PCI attributes of the upstream side of a
// PCI-to-PCI bridge.
func (o Object) BridgeUpstreamPCI() (model.PCIDeviceAttr, bool) {
	a, ok := o.Attr().(model.BridgeAttr)
	if !ok || a.UpstreamKind != model.BridgePCI {
		return model.PCIDeviceAttr{}, false
	}
	return a.Upstream, true
}

// BridgeCoversBus reports whether bus of domain lies below the bridge.
func (o Object) BridgeCoversBus(domain uint32, bus uint8) bool {
	if o.node() == nil {
		return false
	}
	return o.topo.tree.BridgeCoversBus(o.id, domain, bus)
}

// String returns "Type#logical" followed by the name and subtype when set.
func (o Object) String() string {
	n := o.node()
	if n == nil {
		return "Object(invalid)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s#%d", n.Type, n.LogicalIndex)
	if n.Name != "" {
		fmt.Fprintf(&b, " (%s)", n.Name)
	}
	if n.Subtype != "" {
		fmt.Fprintf(&b, " [%s]", n.Subtype)
	}
	return b.String()
}
