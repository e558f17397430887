package discovery

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

// Object is one discovered object. Children holds every kind of child; the
// topology sorts them into normal, memory, I/O and Misc lists by type.
type Object struct {
	Type    model.ObjType
	OSIndex int
	Name    string
	Subtype string
	Attr    model.Attr
	Infos   []model.Info

	// Sets may be nil. Missing sets of normal and memory objects are
	// computed from the children when the topology is connected.
	CPUSet          *bitmap.Bitmap
	CompleteCPUSet  *bitmap.Bitmap
	NodeSet         *bitmap.Bitmap
	CompleteNodeSet *bitmap.Bitmap

	// GPIndex identifies the object within its Result. Zero means unassigned.
	GPIndex uint64

	Children []*Object
}

// NewObject returns an object of type t with the given OS index.
func NewObject(t model.ObjType, osIndex int) *Object {
	return &Object{Type: t, OSIndex: osIndex}
}

// AddChild appends c to o's children and returns c.
func (o *Object) AddChild(c *Object) *Object {
	o.Children = append(o.Children, c)
	return c
}

// Walk visits o and its descendants depth first, parents before children.
// Returning false from fn skips the object's children.
func (o *Object) Walk(fn func(o *Object) bool) {
	if o == nil || !fn(o) {
		return
	}
	for _, c := range o.Children {
		c.Walk(fn)
	}
}

func (o *Object) clone() *Object {
	c := *o
	c.Attr = model.CloneAttr(o.Attr)
	c.Infos = append([]model.Info(nil), o.Infos...)
	c.CPUSet = cloneSet(o.CPUSet)
	c.CompleteCPUSet = cloneSet(o.CompleteCPUSet)
	c.NodeSet = cloneSet(o.NodeSet)
	c.CompleteNodeSet = cloneSet(o.CompleteNodeSet)
	c.Children = make([]*Object, len(o.Children))
	for i, ch := range o.Children {
		c.Children[i] = ch.clone()
	}
	return &c
}

// Distances is a distance matrix over objects identified by GP index.
type Distances struct {
	Name    string              `json:"name,omitempty"`
	Kind    model.DistancesKind `json:"kind"`
	Objects []uint64            `json:"objects"`
	// Values is row-major: Values[i*len(Objects)+j] is from object i to j.
	Values []uint64 `json:"values"`
}

// MemAttrValue is one memory attribute value for a target NUMA node.
type MemAttrValue struct {
	Target uint64 `json:"target"`
	// Initiator is nil for attributes that do not need one.
	Initiator *bitmap.Bitmap `json:"initiator,omitempty"`
	// InitiatorGP is set when the initiator is an object rather than a
	// bare cpuset; Initiator then holds the object's cpuset.
	InitiatorGP uint64 `json:"initiator_gp,omitempty"`
	Value       uint64 `json:"value"`
}

// MemAttr is a memory attribute with its values. Built-in attributes are
// matched by name.
type MemAttr struct {
	Name   string             `json:"name"`
	Flags  model.MemAttrFlags `json:"flags"`
	Values []MemAttrValue     `json:"values"`
}

// CPUKind is a set of PUs sharing the same microarchitecture.
type CPUKind struct {
	CPUSet     *bitmap.Bitmap `json:"cpuset"`
	Efficiency int            `json:"efficiency"`
	Infos      []model.Info   `json:"infos,omitempty"`
}

// Result is the output of a Backend.
type Result struct {
	Root *Object `json:"root"`

	// Allowed sets default to the complete sets of the root when nil.
	AllowedCPUSet  *bitmap.Bitmap `json:"allowed_cpuset,omitempty"`
	AllowedNodeSet *bitmap.Bitmap `json:"allowed_nodeset,omitempty"`

	Distances []Distances `json:"distances,omitempty"`
	MemAttrs  []MemAttr   `json:"memattrs,omitempty"`
	CPUKinds  []CPUKind   `json:"cpukinds,omitempty"`

	// IsThisSystem reports whether the topology describes the running system.
	IsThisSystem bool `json:"is_this_system"`
}

// Clone returns a deep copy of r.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	c := &Result{
		AllowedCPUSet:  cloneSet(r.AllowedCPUSet),
		AllowedNodeSet: cloneSet(r.AllowedNodeSet),
		IsThisSystem:   r.IsThisSystem,
	}
	if r.Root != nil {
		c.Root = r.Root.clone()
	}
	for _, d := range r.Distances {
		d.Objects = append([]uint64(nil), d.Objects...)
		d.Values = append([]uint64(nil), d.Values...)
		c.Distances = append(c.Distances, d)
	}
	for _, m := range r.MemAttrs {
		vals := make([]MemAttrValue, len(m.Values))
		for i, v := range m.Values {
			vals[i] = v
			vals[i].Initiator = cloneSet(v.Initiator)
		}
		m.Values = vals
		c.MemAttrs = append(c.MemAttrs, m)
	}
	for _, k := range r.CPUKinds {
		c.CPUKinds = append(c.CPUKinds, CPUKind{
			CPUSet:     cloneSet(k.CPUSet),
			Efficiency: k.Efficiency,
			Infos:      append([]model.Info(nil), k.Infos...),
		})
	}
	return c
}

// AssignGPIndexes gives every object without a GP index a fresh one and
// returns the next free index.
func (r *Result) AssignGPIndexes() uint64 {
	next := uint64(1)
	r.Root.Walk(func(o *Object) bool {
		next = max(next, o.GPIndex+1)
		return true
	})
	r.Root.Walk(func(o *Object) bool {
		if o.GPIndex == 0 {
			o.GPIndex = next
			next++
		}
		return true
	})
	return next
}

// Validate checks the structural rules every backend must honor.
func (r *Result) Validate(source string) error {
	if r == nil || r.Root == nil {
		return Errorf(KindInvalid, source, "no root object")
	}
	if r.Root.Type != model.TypeMachine {
		return Errorf(KindInvalid, source, "root object is %s, not Machine", r.Root.Type)
	}
	seen := make(map[uint64]*Object)
	numa := 0
	var err error
	r.Root.Walk(func(o *Object) bool {
		if err != nil {
			return false
		}
		if !o.Type.Valid() {
			err = Errorf(KindInvalid, source, "invalid object type %d", int(o.Type))
			return false
		}
		if !model.AttrMatches(o.Type, o.Attr) {
			err = Errorf(KindInvalid, source, "%s object carries %T", o.Type, o.Attr)
			return false
		}
		if o.Type == model.TypeNUMANode {
			numa++
		}
		if o != r.Root && o.Type == model.TypeMachine {
			err = Errorf(KindInvalid, source, "nested Machine object")
			return false
		}
		if o.GPIndex != 0 {
			if _, dup := seen[o.GPIndex]; dup {
				err = Errorf(KindInvalid, source, "duplicate gp_index %d", o.GPIndex)
				return false
			}
			seen[o.GPIndex] = o
		}
		for _, c := range o.Children {
			if o.Type.IsIO() && !c.Type.IsIO() && c.Type != model.TypeMisc {
				err = Errorf(KindInvalid, source, "%s below I/O object", c.Type)
				return false
			}
			if o.Type == model.TypePU && c.Type.IsNormal() {
				err = Errorf(KindInvalid, source, "%s below PU", c.Type)
				return false
			}
		}
		return true
	})
	if err != nil {
		return err
	}
	if numa == 0 {
		return Errorf(KindInvalid, source, "topology has no NUMA node")
	}
	for _, d := range r.Distances {
		n := len(d.Objects)
		if n == 0 || len(d.Values) != n*n {
			return Errorf(KindInvalid, source, "distance matrix %q has %d values for %d objects", d.Name, len(d.Values), n)
		}
		for _, gp := range d.Objects {
			if _, ok := seen[gp]; !ok {
				return Errorf(KindInvalid, source, "distance matrix %q references unknown gp_index %d", d.Name, gp)
			}
		}
	}
	for _, m := range r.MemAttrs {
		for _, v := range m.Values {
			t, ok := seen[v.Target]
			if !ok || t.Type != model.TypeNUMANode {
				return Errorf(KindInvalid, source, "memory attribute %q targets gp_index %d which is not a NUMA node", m.Name, v.Target)
			}
		}
	}
	return nil
}

type attrJSON struct {
	NUMANode  *model.NUMANodeAttr  `json:"numanode,omitempty"`
	Cache     *model.CacheAttr     `json:"cache,omitempty"`
	Group     *model.GroupAttr     `json:"group,omitempty"`
	PCIDevice *model.PCIDeviceAttr `json:"pcidev,omitempty"`
	Bridge    *model.BridgeAttr    `json:"bridge,omitempty"`
	OSDevice  *model.OSDeviceAttr  `json:"osdev,omitempty"`
}

type objectJSON struct {
	Type            string         `json:"type"`
	OSIndex         int            `json:"os_index"`
	Name            string         `json:"name,omitempty"`
	Subtype         string         `json:"subtype,omitempty"`
	Attr            *attrJSON      `json:"attr,omitempty"`
	Infos           []model.Info   `json:"infos,omitempty"`
	CPUSet          *bitmap.Bitmap `json:"cpuset,omitempty"`
	CompleteCPUSet  *bitmap.Bitmap `json:"complete_cpuset,omitempty"`
	NodeSet         *bitmap.Bitmap `json:"nodeset,omitempty"`
	CompleteNodeSet *bitmap.Bitmap `json:"complete_nodeset,omitempty"`
	GPIndex         uint64         `json:"gp_index"`
	Children        []*Object      `json:"children,omitempty"`
}

// MarshalJSON encodes the attribute under a key naming its variant.
func (o *Object) MarshalJSON() ([]byte, error) {
	j := objectJSON{
		Type:            o.Type.String(),
		OSIndex:         o.OSIndex,
		Name:            o.Name,
		Subtype:         o.Subtype,
		Infos:           o.Infos,
		CPUSet:          o.CPUSet,
		CompleteCPUSet:  o.CompleteCPUSet,
		NodeSet:         o.NodeSet,
		CompleteNodeSet: o.CompleteNodeSet,
		GPIndex:         o.GPIndex,
		Children:        o.Children,
	}
	switch a := o.Attr.(type) {
	case nil:
	case model.NUMANodeAttr:
		j.Attr = &attrJSON{NUMANode: &a}
	case model.CacheAttr:
		j.Attr = &attrJSON{Cache: &a}
	case model.GroupAttr:
		j.Attr = &attrJSON{Group: &a}
	case model.PCIDeviceAttr:
		j.Attr = &attrJSON{PCIDevice: &a}
	case model.BridgeAttr:
		j.Attr = &attrJSON{Bridge: &a}
	case model.OSDeviceAttr:
		j.Attr = &attrJSON{OSDevice: &a}
	default:
		return nil, fmt.Errorf("discovery: cannot encode attribute %T", a)
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (o *Object) UnmarshalJSON(data []byte) error {
	var j objectJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	t, err := model.ParseObjType(j.Type)
	if err != nil {
		return err
	}
	*o = Object{
		Type:            t,
		OSIndex:         j.OSIndex,
		Name:            j.Name,
		Subtype:         j.Subtype,
		Infos:           j.Infos,
		CPUSet:          j.CPUSet,
		CompleteCPUSet:  j.CompleteCPUSet,
		NodeSet:         j.NodeSet,
		CompleteNodeSet: j.CompleteNodeSet,
		GPIndex:         j.GPIndex,
		Children:        j.Children,
	}
	if a := j.Attr; a != nil {
		switch {
		case a.NUMANode != nil:
			o.Attr = *a.NUMANode
		case a.Cache != nil:
			o.Attr = *a.Cache
		case a.Group != nil:
			o.Attr = *a.Group
		case a.PCIDevice != nil:
			o.Attr = *a.PCIDevice
		case a.Bridge != nil:
			o.Attr = *a.Bridge
		case a.OSDevice != nil:
			o.Attr = *a.OSDevice
		}
	}
	return nil
}

// cloneSet keeps nil sets nil.
func cloneSet(b *bitmap.Bitmap) *bitmap.Bitmap {
	if b == nil {
		return nil
	}
	return b.Clone()
}
