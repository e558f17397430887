package hwtopo

import (
	"fmt"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/internal/memattr"
	"github.com/hupe1980/hwtopo/model"
)

// Initiator is where memory is accessed from: an object or a bare cpuset.
type Initiator struct {
	obj    Object
	cpuset *bitmap.Bitmap
}

// InitiatorObject returns an initiator for o, usually a PU, a core or a
// package.
func InitiatorObject(o Object) Initiator {
	return Initiator{obj: o, cpuset: o.CPUSet()}
}

// InitiatorCPUSet returns an initiator for a set of PUs.
func InitiatorCPUSet(set *bitmap.Bitmap) Initiator {
	return Initiator{cpuset: set.Clone()}
}

// Object returns the initiator object, if the initiator is one.
func (i Initiator) Object() (Object, bool) {
	return i.obj, i.obj != Object{}
}

// CPUSet returns the PUs of the initiator.
func (i Initiator) CPUSet() *bitmap.Bitmap { return cloneOrNil(i.cpuset) }

func (t *Topology) internalInitiator(i *Initiator) (*memattr.Initiator, error) {
	if i == nil {
		return nil, nil
	}
	if i.obj != (Object{}) {
		if err := t.belongs(i.obj); err != nil {
			return nil, err
		}
		n := i.obj.node()
		if n.CPUSet == nil {
			return nil, fmt.Errorf("%w: %s has no cpuset", ErrInvalidArgument, i.obj)
		}
		mi := memattr.ObjectInitiator(n.GPIndex, n.CPUSet)
		return &mi, nil
	}
	if i.cpuset == nil || i.cpuset.IsZero() {
		return nil, fmt.Errorf("%w: empty initiator", ErrInvalidArgument)
	}
	mi := memattr.CPUSetInitiator(i.cpuset)
	return &mi, nil
}

func (t *Topology) publicInitiator(i memattr.Initiator) Initiator {
	if i.Object {
		if id, ok := t.tree.ByGP(i.GP); ok && t.tree.Alive(id) {
			return Initiator{obj: t.object(id), cpuset: i.CPUSet.Clone()}
		}
	}
	return Initiator{cpuset: i.CPUSet.Clone()}
}

// MemAttr is a memory attribute such as the bandwidth or latency between
// initiators and NUMA nodes.
type MemAttr struct {
	topo *Topology
	id   model.MemAttrID
}

// MemAttrTarget is a NUMA node with its attribute value.
type MemAttrTarget struct {
	Target Object
	Value  uint64
}

// MemAttrInitiator is an initiator with its attribute value.
type MemAttrInitiator struct {
	Initiator Initiator
	Value     uint64
}

func (m MemAttr) attr() (*memattr.Attr, error) {
	if m.topo == nil {
		return nil, fmt.Errorf("%w: zero memory attribute", ErrInvalidArgument)
	}
	if err := m.topo.loaded(); err != nil {
		return nil, err
	}
	a, err := m.topo.attrs.ByID(m.id)
	return a, translateError(err)
}

func (m MemAttr) target(o Object) (uint64, error) {
	if err := m.topo.belongs(o); err != nil {
		return 0, err
	}
	if o.Type() != model.TypeNUMANode {
		return 0, fmt.Errorf("%w: memory attribute target must be a NUMA node, got %s", ErrInvalidArgument, o.Type())
	}
	return o.node().GPIndex, nil
}

// ID returns the attribute id.
func (m MemAttr) ID() model.MemAttrID { return m.id }

// Name returns the attribute name.
func (m MemAttr) Name() string {
	a, err := m.attr()
	if err != nil {
		return ""
	}
	return a.Name
}

// Flags returns the attribute flags.
func (m MemAttr) Flags() model.MemAttrFlags {
	a, err := m.attr()
	if err != nil {
		return 0
	}
	return a.Flags
}

// Value returns the value for target, as seen from init when the attribute
// needs an initiator.
func (m MemAttr) Value(target Object, init *Initiator) (uint64, error) {
	a, err := m.attr()
	if err != nil {
		return 0, err
	}
	gp, err := m.target(target)
	if err != nil {
		return 0, err
	}
	mi, err := m.topo.internalInitiator(init)
	if err != nil {
		return 0, err
	}
	v, err := a.Value(gp, mi)
	return v, translateError(err)
}

// SetValue records the value for target, as seen from init when the
// attribute needs an initiator.
func (m MemAttr) SetValue(target Object, init *Initiator, value uint64) error {
	a, err := m.attr()
	if err != nil {
		return err
	}
	gp, err := m.target(target)
	if err != nil {
		return err
	}
	mi, err := m.topo.internalInitiator(init)
	if err != nil {
		return err
	}
	return translateError(a.SetValue(gp, mi, value))
}

// Targets returns the NUMA nodes that have a value for init.
func (m MemAttr) Targets(init *Initiator) ([]MemAttrTarget, error) {
	a, err := m.attr()
	if err != nil {
		return nil, err
	}
	mi, err := m.topo.internalInitiator(init)
	if err != nil {
		return nil, err
	}
	var out []MemAttrTarget
	for _, tv := range a.Targets(mi) {
		if id, ok := m.topo.tree.ByGP(tv.Target); ok && m.topo.tree.Alive(id) {
			out = append(out, MemAttrTarget{Target: m.topo.object(id), Value: tv.Value})
		}
	}
	return out, nil
}

// Initiators returns the initiators that have a value for target.
func (m MemAttr) Initiators(target Object) ([]MemAttrInitiator, error) {
	a, err := m.attr()
	if err != nil {
		return nil, err
	}
	gp, err := m.target(target)
	if err != nil {
		return nil, err
	}
	ivs, err := a.Initiators(gp)
	if err != nil {
		return nil, translateError(err)
	}
	out := make([]MemAttrInitiator, len(ivs))
	for i, iv := range ivs {
		out[i] = MemAttrInitiator{Initiator: m.topo.publicInitiator(iv.Initiator), Value: iv.Value}
	}
	return out, nil
}

// BestTarget returns the NUMA node with the best value for init, following
// the attribute's direction.
func (m MemAttr) BestTarget(init *Initiator) (MemAttrTarget, error) {
	a, err := m.attr()
	if err != nil {
		return MemAttrTarget{}, err
	}
	mi, err := m.topo.internalInitiator(init)
	if err != nil {
		return MemAttrTarget{}, err
	}
	tv, err := a.BestTarget(mi)
	if err != nil {
		return MemAttrTarget{}, translateError(err)
	}
	id, ok := m.topo.tree.ByGP(tv.Target)
	if !ok {
		return MemAttrTarget{}, fmt.Errorf("%w: best target is gone", ErrNotFound)
	}
	return MemAttrTarget{Target: m.topo.object(id), Value: tv.Value}, nil
}

// BestInitiator returns the initiator with the best value for target.
func (m MemAttr) BestInitiator(target Object) (MemAttrInitiator, error) {
	a, err := m.attr()
	if err != nil {
		return MemAttrInitiator{}, err
	}
	gp, err := m.target(target)
	if err != nil {
		return MemAttrInitiator{}, err
	}
	iv, err := a.BestInitiator(gp)
	if err != nil {
		return MemAttrInitiator{}, translateError(err)
	}
	return MemAttrInitiator{Initiator: m.topo.publicInitiator(iv.Initiator), Value: iv.Value}, nil
}

// MemAttrByName returns the attribute called name.
func (t *Topology) MemAttrByName(name string) (MemAttr, error) {
	if err := t.loaded(); err != nil {
		return MemAttr{}, err
	}
	a, err := t.attrs.ByName(name)
	if err != nil {
		return MemAttr{}, translateError(err)
	}
	return MemAttr{topo: t, id: a.ID}, nil
}

// MemAttrByID returns a built-in or registered attribute.
func (t *Topology) MemAttrByID(id model.MemAttrID) (MemAttr, error) {
	if err := t.loaded(); err != nil {
		return MemAttr{}, err
	}
	if _, err := t.attrs.ByID(id); err != nil {
		return MemAttr{}, translateError(err)
	}
	return MemAttr{topo: t, id: id}, nil
}

// RegisterMemAttr adds a new attribute. Exactly one of MemAttrHigherFirst
// and MemAttrLowerFirst must be set.
func (t *Topology) RegisterMemAttr(name string, flags model.MemAttrFlags) (MemAttr, error) {
	if err := t.loaded(); err != nil {
		return MemAttr{}, err
	}
	a, err := t.attrs.Register(name, flags)
	if err != nil {
		return MemAttr{}, translateError(err)
	}
	return MemAttr{topo: t, id: a.ID}, nil
}

// MemAttrs returns every attribute in id order, built-ins first.
func (t *Topology) MemAttrs() []MemAttr {
	if t.loaded() != nil {
		return nil
	}
	out := make([]MemAttr, 0, t.attrs.Len())
	for _, a := range t.attrs.All() {
		out = append(out, MemAttr{topo: t, id: a.ID})
	}
	return out
}

// LocalNUMANodes returns the NUMA nodes local to init. By default these are
// the nodes with exactly the initiator's locality; flags widen the match.
func (t *Topology) LocalNUMANodes(init Initiator, flags model.LocalNUMANodeFlags) ([]Object, error) {
	if err := t.loaded(); err != nil {
		return nil, err
	}
	mi, err := t.internalInitiator(&init)
	if err != nil {
		return nil, err
	}
	set := mi.CPUSet
	var out []Object
	for _, id := range t.tree.ObjectsByType(model.TypeNUMANode) {
		cs := t.tree.Node(id).CPUSet
		ok := false
		switch {
		case flags&model.LocalNUMANodeAll != 0:
			ok = true
		case cs.Equal(set):
			ok = true
		case flags&model.LocalNUMANodeLargerLocality != 0 && cs.Includes(set):
			ok = true
		case flags&model.LocalNUMANodeSmallerLocality != 0 && cs.IsSubsetOf(set):
			ok = true
		case flags&model.LocalNUMANodeIntersectLocality != 0 && cs.Intersects(set):
			ok = true
		}
		if ok {
			out = append(out, t.object(id))
		}
	}
	return out, nil
}

// DefaultNodeSet returns the NUMA nodes ordinary allocations should use:
// the plain DRAM nodes, leaving out high-bandwidth, persistent or device
// memory when DRAM is available.
func (t *Topology) DefaultNodeSet() (*bitmap.Bitmap, error) {
	if err := t.loaded(); err != nil {
		return nil, err
	}
	set := bitmap.New()
	for _, id := range t.tree.ObjectsByType(model.TypeNUMANode) {
		n := t.tree.Node(id)
		if (n.Subtype == "" || n.Subtype == "DRAM") && n.OSIndex >= 0 {
			_ = set.Set(n.OSIndex)
		}
	}
	if set.IsZero() {
		return t.NodeSet(), nil
	}
	return set, nil
}
