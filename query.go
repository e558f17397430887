package hwtopo

import (
	"fmt"
	"iter"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/internal/tree"
	"github.com/hupe1980/hwtopo/model"
)

// CompareTypes compares the usual nesting of two object types. It returns a
// negative value when t1 usually contains t2, zero when they are the same,
// a positive value when t1 is usually contained by t2, and
// model.TypeUnordered when the types do not nest.
func CompareTypes(t1, t2 model.ObjType) int {
	return model.CompareTypes(t1, t2)
}

// Root returns the Machine object.
func (t *Topology) Root() Object {
	if t.loaded() != nil {
		return Object{}
	}
	return t.object(t.tree.Root())
}

// Depth returns the number of normal levels.
func (t *Topology) Depth() int {
	if t.loaded() != nil {
		return 0
	}
	return t.tree.Depth()
}

// TypeDepth returns the depth of objects of type typ: a level, one of the
// special negative depths, model.DepthMultiple or model.DepthUnknown.
func (t *Topology) TypeDepth(typ model.ObjType) int {
	if t.loaded() != nil {
		return model.DepthUnknown
	}
	return t.tree.TypeDepth(typ)
}

// DepthType returns the type of the objects at depth.
func (t *Topology) DepthType(depth int) (model.ObjType, bool) {
	if t.loaded() != nil {
		return 0, false
	}
	return t.tree.DepthType(depth)
}

// TypeOrBelowDepth returns the depth of typ, or of the first level below
// where it would be.
func (t *Topology) TypeOrBelowDepth(typ model.ObjType) int {
	if t.loaded() != nil {
		return model.DepthUnknown
	}
	return t.tree.TypeOrBelowDepth(typ)
}

// TypeOrAboveDepth returns the depth of typ, or of the last level above
// where it would be.
func (t *Topology) TypeOrAboveDepth(typ model.ObjType) int {
	if t.loaded() != nil {
		return model.DepthUnknown
	}
	return t.tree.TypeOrAboveDepth(typ)
}

func (t *Topology) level(depth int) []tree.ID {
	if t.loaded() != nil {
		return nil
	}
	return t.tree.Level(depth)
}

// CountAtDepth returns the number of objects at depth. It returns 0 when the
// topology is not loaded; check Loaded to tell the cases apart.
func (t *Topology) CountAtDepth(depth int) int { return len(t.level(depth)) }

// ObjectAtDepth returns the object with logical index idx at depth.
func (t *Topology) ObjectAtDepth(depth, idx int) (Object, bool) {
	level := t.level(depth)
	if idx < 0 || idx >= len(level) {
		return Object{}, false
	}
	return t.object(level[idx]), true
}

// ObjectsAtDepth iterates over the objects at depth in logical order.
func (t *Topology) ObjectsAtDepth(depth int) iter.Seq[Object] {
	return t.seq(func() []tree.ID { return t.level(depth) })
}

func (t *Topology) byType(typ model.ObjType) []tree.ID {
	if t.loaded() != nil {
		return nil
	}
	return t.tree.ObjectsByType(typ)
}

// CountOfType returns the number of objects of type typ, across every depth
// the type occurs at. It returns 0 when the topology is not loaded.
func (t *Topology) CountOfType(typ model.ObjType) int { return len(t.byType(typ)) }

// NthOfType returns the idx-th object of type typ, shallowest depth first.
func (t *Topology) NthOfType(typ model.ObjType, idx int) (Object, bool) {
	ids := t.byType(typ)
	if idx < 0 || idx >= len(ids) {
		return Object{}, false
	}
	return t.object(ids[idx]), true
}

// NextOfType returns the object of type typ after prev, or the first one
// when prev is the zero Object.
func (t *Topology) NextOfType(typ model.ObjType, prev Object) (Object, bool) {
	ids := t.byType(typ)
	if prev == (Object{}) {
		if len(ids) == 0 {
			return Object{}, false
		}
		return t.object(ids[0]), true
	}
	if t.belongs(prev) != nil {
		return Object{}, false
	}
	for i, id := range ids {
		if id == prev.id && i+1 < len(ids) {
			return t.object(ids[i+1]), true
		}
	}
	return Object{}, false
}

// ObjectsByType iterates over the objects of type typ.
func (t *Topology) ObjectsByType(typ model.ObjType) iter.Seq[Object] {
	return t.seq(func() []tree.ID { return t.byType(typ) })
}

func (t *Topology) seq(ids func() []tree.ID) iter.Seq[Object] {
	return func(yield func(Object) bool) {
		for _, id := range ids() {
			if !yield(t.object(id)) {
				return
			}
		}
	}
}

// AllObjects iterates over every object breadth first: each normal level in
// turn, then memory, I/O and Misc objects.
func (t *Topology) AllObjects() iter.Seq[Object] {
	return func(yield func(Object) bool) {
		if t.loaded() != nil {
			return
		}
		for depth := range t.tree.Depth() {
			for _, id := range t.tree.Level(depth) {
				if !yield(t.object(id)) {
					return
				}
			}
		}
		for _, typ := range []model.ObjType{model.TypeNUMANode, model.TypeMemCache, model.TypeBridge, model.TypePCIDevice, model.TypeOSDevice, model.TypeMisc} {
			for _, id := range t.tree.ObjectsByType(typ) {
				if !yield(t.object(id)) {
					return
				}
			}
		}
	}
}

// PCIDevices iterates over the PCI devices.
func (t *Topology) PCIDevices() iter.Seq[Object] { return t.ObjectsByType(model.TypePCIDevice) }

// OSDevices iterates over the OS devices.
func (t *Topology) OSDevices() iter.Seq[Object] { return t.ObjectsByType(model.TypeOSDevice) }

// Bridges iterates over the bridges.
func (t *Topology) Bridges() iter.Seq[Object] { return t.ObjectsByType(model.TypeBridge) }

// The Num* getters below count through CountOfType and return 0 until Load
// succeeds.

// NumPUs returns the number of PUs.
func (t *Topology) NumPUs() int { return t.CountOfType(model.TypePU) }

// NumCores returns the number of cores.
func (t *Topology) NumCores() int { return t.CountOfType(model.TypeCore) }

// NumNUMANodes returns the number of NUMA nodes.
func (t *Topology) NumNUMANodes() int { return t.CountOfType(model.TypeNUMANode) }

// NumPackages returns the number of packages.
func (t *Topology) NumPackages() int { return t.CountOfType(model.TypePackage) }

// NumPCIDevices returns the number of PCI devices.
func (t *Topology) NumPCIDevices() int { return t.CountOfType(model.TypePCIDevice) }

// NumOSDevices returns the number of OS devices.
func (t *Topology) NumOSDevices() int { return t.CountOfType(model.TypeOSDevice) }

// NumBridges returns the number of bridges.
func (t *Topology) NumBridges() int { return t.CountOfType(model.TypeBridge) }

// CommonAncestor returns the deepest object having both a and b in its
// subtree.
func (t *Topology) CommonAncestor(a, b Object) (Object, error) {
	if err := t.belongs(a); err != nil {
		return Object{}, err
	}
	if err := t.belongs(b); err != nil {
		return Object{}, err
	}
	return t.object(t.tree.CommonAncestor(a.id, b.id)), nil
}

// IsDescendant reports whether obj is root or lies below it.
func (t *Topology) IsDescendant(obj, root Object) bool {
	return t.belongs(obj) == nil && obj.IsInSubtree(root)
}

func (t *Topology) checkSet(set *bitmap.Bitmap) error {
	if err := t.loaded(); err != nil {
		return err
	}
	if set == nil {
		return fmt.Errorf("%w: nil set", ErrInvalidArgument)
	}
	return nil
}

// ObjectsInsideCPUSet returns the objects at depth whose non-empty cpuset is
// included in set.
func (t *Topology) ObjectsInsideCPUSet(set *bitmap.Bitmap, depth int) ([]Object, error) {
	if err := t.checkSet(set); err != nil {
		return nil, err
	}
	return t.objects(t.tree.InsideCPUSet(set, depth)), nil
}

// ObjectsInsideCPUSetByType is ObjectsInsideCPUSet for the depth of typ.
func (t *Topology) ObjectsInsideCPUSetByType(set *bitmap.Bitmap, typ model.ObjType) ([]Object, error) {
	if err := t.checkSet(set); err != nil {
		return nil, err
	}
	var ids []tree.ID
	for _, id := range t.tree.ObjectsByType(typ) {
		cs := t.tree.Node(id).CPUSet
		if cs != nil && !cs.IsZero() && cs.IsSubsetOf(set) {
			ids = append(ids, id)
		}
	}
	return t.objects(ids), nil
}

// FirstLargestObjectInsideCPUSet returns the first object reached from the
// root whose cpuset is included in set.
func (t *Topology) FirstLargestObjectInsideCPUSet(set *bitmap.Bitmap) (Object, bool) {
	if t.checkSet(set) != nil {
		return Object{}, false
	}
	id, ok := t.tree.FirstLargestInsideCPUSet(set)
	return t.object(id), ok
}

// LargestObjectsInsideCPUSet returns the largest objects that together cover
// set exactly. It fails with ErrInvalidArgument when set is not included in
// the topology.
func (t *Topology) LargestObjectsInsideCPUSet(set *bitmap.Bitmap) ([]Object, error) {
	if err := t.checkSet(set); err != nil {
		return nil, err
	}
	ids, ok := t.tree.LargestInsideCPUSet(set)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not included in the topology", ErrInvalidArgument, set.ListString())
	}
	return t.objects(ids), nil
}

// ObjectCoveringCPUSet returns the deepest object whose cpuset includes set.
func (t *Topology) ObjectCoveringCPUSet(set *bitmap.Bitmap) (Object, bool) {
	if t.checkSet(set) != nil {
		return Object{}, false
	}
	id, ok := t.tree.CoveringCPUSet(set)
	return t.object(id), ok
}

// ObjectsCoveringCPUSetByDepth returns the objects at depth whose cpuset
// intersects set.
func (t *Topology) ObjectsCoveringCPUSetByDepth(set *bitmap.Bitmap, depth int) ([]Object, error) {
	if err := t.checkSet(set); err != nil {
		return nil, err
	}
	return t.objects(t.tree.CoveringCPUSetAtDepth(set, depth)), nil
}

// ChildCoveringCPUSet returns the normal child of parent whose cpuset
// includes set.
func (t *Topology) ChildCoveringCPUSet(parent Object, set *bitmap.Bitmap) (Object, bool) {
	if t.checkSet(set) != nil || t.belongs(parent) != nil {
		return Object{}, false
	}
	id, ok := t.tree.ChildCovering(parent.id, set)
	return t.object(id), ok
}

// CacheCoveringCPUSet returns the deepest data or unified cache covering set.
func (t *Topology) CacheCoveringCPUSet(set *bitmap.Bitmap) (Object, bool) {
	if t.checkSet(set) != nil {
		return Object{}, false
	}
	id, ok := t.tree.CacheCovering(set)
	return t.object(id), ok
}

// SharedCacheCovering returns the first cache above o that is shared with
// other PUs.
func (t *Topology) SharedCacheCovering(o Object) (Object, bool) {
	if t.belongs(o) != nil {
		return Object{}, false
	}
	id, ok := t.tree.SharedCacheCovering(o.id)
	return t.object(id), ok
}

// ClosestObjects returns the objects at the depth of src, closest first.
func (t *Topology) ClosestObjects(src Object) ([]Object, error) {
	if err := t.belongs(src); err != nil {
		return nil, err
	}
	return t.objects(t.tree.ClosestObjects(src.id)), nil
}

// ObjectsWithSameLocality returns the objects of type typ with the same
// locality as src. Non-empty subtype and namePrefix restrict the match.
func (t *Topology) ObjectsWithSameLocality(src Object, typ model.ObjType, subtype, namePrefix string) ([]Object, error) {
	if err := t.belongs(src); err != nil {
		return nil, err
	}
	return t.objects(t.tree.SameLocality(src.id, typ, subtype, namePrefix)), nil
}

// ObjectBelowByType returns the idx2-th object of type type2 inside the
// idx1-th object of type type1.
func (t *Topology) ObjectBelowByType(type1 model.ObjType, idx1 int, type2 model.ObjType, idx2 int) (Object, bool) {
	parent, ok := t.NthOfType(type1, idx1)
	if !ok {
		return Object{}, false
	}
	inside, err := t.ObjectsInsideCPUSetByType(parent.CPUSet(), type2)
	if err != nil || idx2 < 0 || idx2 >= len(inside) {
		return Object{}, false
	}
	return inside[idx2], true
}

// PUByOSIndex returns the PU with the given OS index.
func (t *Topology) PUByOSIndex(idx int) (Object, bool) {
	return t.byOSIndex(model.TypePU, idx)
}

// NUMANodeByOSIndex returns the NUMA node with the given OS index.
func (t *Topology) NUMANodeByOSIndex(idx int) (Object, bool) {
	return t.byOSIndex(model.TypeNUMANode, idx)
}

func (t *Topology) byOSIndex(typ model.ObjType, idx int) (Object, bool) {
	if t.loaded() != nil {
		return Object{}, false
	}
	id, ok := t.tree.ByOSIndex(typ, idx)
	return t.object(id), ok
}

// ObjectByGPIndex returns the object with the given global persistent index.
func (t *Topology) ObjectByGPIndex(gp uint64) (Object, bool) {
	if t.loaded() != nil {
		return Object{}, false
	}
	id, ok := t.tree.ByGP(gp)
	if !ok || !t.tree.Alive(id) {
		return Object{}, false
	}
	return t.object(id), true
}

// ObjectByBusID returns the PCI device at domain:bus:dev.fn.
func (t *Topology) ObjectByBusID(domain uint32, bus, dev, fn uint8) (Object, bool) {
	if t.loaded() != nil {
		return Object{}, false
	}
	id, ok := t.tree.PCIByBusID(domain, bus, dev, fn)
	return t.object(id), ok
}

// ObjectByBusIDString is ObjectByBusID for a "dddd:bb:dd.f" or "bb:dd.f"
// address.
func (t *Topology) ObjectByBusIDString(busID string) (Object, error) {
	domain, bus, dev, fn, err := parseBusID(busID)
	if err != nil {
		return Object{}, err
	}
	if err := t.loaded(); err != nil {
		return Object{}, err
	}
	o, ok := t.ObjectByBusID(domain, bus, dev, fn)
	if !ok {
		return Object{}, fmt.Errorf("%w: no PCI device at %s", ErrNotFound, busID)
	}
	return o, nil
}

// NonIOAncestorForBusID returns the normal object the device at the given
// address is attached to, looking through bridges when the device itself is
// not in the topology.
func (t *Topology) NonIOAncestorForBusID(domain uint32, bus, dev, fn uint8) (Object, bool) {
	if t.loaded() != nil {
		return Object{}, false
	}
	id, ok := t.tree.NonIOAncestorForBus(domain, bus, dev, fn)
	return t.object(id), ok
}

func parseBusID(s string) (domain uint32, bus, dev, fn uint8, err error) {
	if _, err = fmt.Sscanf(s, "%x:%x:%x.%x", &domain, &bus, &dev, &fn); err == nil {
		return domain, bus, dev, fn, nil
	}
	domain = 0
	if _, err = fmt.Sscanf(s, "%x:%x.%x", &bus, &dev, &fn); err == nil {
		return domain, bus, dev, fn, nil
	}
	return 0, 0, 0, 0, fmt.Errorf("%w: PCI address %q", ErrInvalidArgument, s)
}

// CPUSetToNodeSet returns the NUMA nodes local to the PUs of set. An
// infinite set maps to every node.
func (t *Topology) CPUSetToNodeSet(set *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	if err := t.checkSet(set); err != nil {
		return nil, err
	}
	if set.IsInfinite() {
		return t.CompleteNodeSet(), nil
	}
	return t.tree.CPUSetToNodeSet(set), nil
}

// NodeSetToCPUSet returns the PUs local to the NUMA nodes of set. An
// infinite set maps to every PU.
func (t *Topology) NodeSetToCPUSet(set *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	if err := t.checkSet(set); err != nil {
		return nil, err
	}
	if set.IsInfinite() {
		return t.CompleteCPUSet(), nil
	}
	return t.tree.NodeSetToCPUSet(set), nil
}

// Distribute spreads n cpusets over the subtrees of roots, in proportion to
// their PU counts and descending no deeper than untilDepth. It is typically
// used to place n threads as far from each other as possible.
func (t *Topology) Distribute(roots []Object, n, untilDepth int, flags model.DistribFlags) ([]*bitmap.Bitmap, error) {
	if err := t.loaded(); err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: negative count %d", ErrInvalidArgument, n)
	}
	if len(roots) == 0 {
		roots = []Object{t.Root()}
	}
	ids := make([]tree.ID, 0, len(roots))
	for _, r := range roots {
		if err := t.belongs(r); err != nil {
			return nil, err
		}
		ids = append(ids, r.id)
	}
	if untilDepth < 0 || untilDepth >= t.tree.Depth() {
		untilDepth = t.tree.Depth() - 1
	}
	return t.tree.Distribute(ids, n, untilDepth, flags&model.DistribReverse != 0), nil
}
