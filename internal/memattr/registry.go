// Package memattr implements the memory attribute registry of a topology.
//
// Targets are NUMA nodes referenced by GP index. Initiators are either an
// object (GP index plus its cpuset at the time the value was set) or a bare
// cpuset.
package memattr

import (
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

var (
	// ErrNotFound is returned for unknown attributes.
	ErrNotFound = errors.New("memattr: no such attribute")
	// ErrExists is returned when registering a taken name.
	ErrExists = errors.New("memattr: attribute name already registered")
	// ErrFlags is returned for invalid attribute flags.
	ErrFlags = errors.New("memattr: invalid attribute flags")
	// ErrNeedInitiator is returned when an attribute that needs an initiator
	// is used without one, or the reverse.
	ErrNeedInitiator = errors.New("memattr: initiator required")
	// ErrNoValue is returned when no value matches the query.
	ErrNoValue = errors.New("memattr: no value")
	// ErrReadOnly is returned when setting a computed attribute.
	ErrReadOnly = errors.New("memattr: attribute is computed from the topology")
)

// Initiator is the side that accesses memory.
type Initiator struct {
	Object bool
	GP     uint64 // valid when Object is set
	CPUSet *bitmap.Bitmap
}

// ObjectInitiator returns an initiator for the object with the given GP
// index and cpuset.
func ObjectInitiator(gp uint64, cpuset *bitmap.Bitmap) Initiator {
	return Initiator{Object: true, GP: gp, CPUSet: cpuset.Clone()}
}

// CPUSetInitiator returns an initiator for a bare cpuset.
func CPUSetInitiator(cpuset *bitmap.Bitmap) Initiator {
	return Initiator{CPUSet: cpuset.Clone()}
}

// matches reports whether a stored initiator answers query q.
func (i Initiator) matches(q Initiator) bool {
	if i.Object && q.Object {
		return i.GP == q.GP
	}
	return i.CPUSet.Equal(q.CPUSet)
}

func (i Initiator) clone() Initiator {
	i.CPUSet = i.CPUSet.Clone()
	return i
}

// InitiatorValue pairs an initiator with a value.
type InitiatorValue struct {
	Initiator Initiator
	Value     uint64
}

// TargetValue pairs a target GP index with a value.
type TargetValue struct {
	Target uint64
	Value  uint64
}

type target struct {
	gp       uint64
	value    uint64 // without initiator
	hasValue bool
	inits    []InitiatorValue
}

// Attr is one memory attribute.
type Attr struct {
	ID       model.MemAttrID
	Name     string
	Flags    model.MemAttrFlags
	computed bool
	targets  []*target
}

// NeedsInitiator reports whether values are per initiator.
func (a *Attr) NeedsInitiator() bool { return a.Flags&model.MemAttrNeedInitiator != 0 }

// Computed reports whether values derive from the topology and are read-only.
func (a *Attr) Computed() bool { return a.computed }

// Better reports whether value x ranks before y for this attribute.
func (a *Attr) Better(x, y uint64) bool {
	if a.Flags&model.MemAttrHigherFirst != 0 {
		return x > y
	}
	return x < y
}

func (a *Attr) find(gp uint64) *target {
	for _, t := range a.targets {
		if t.gp == gp {
			return t
		}
	}
	return nil
}

func (a *Attr) checkInitiator(init *Initiator) error {
	if a.NeedsInitiator() && init == nil {
		return fmt.Errorf("%w: %s", ErrNeedInitiator, a.Name)
	}
	return nil
}

// Value returns the value of target for init. init is ignored by attributes
// that do not need one.
func (a *Attr) Value(gp uint64, init *Initiator) (uint64, error) {
	if err := a.checkInitiator(init); err != nil {
		return 0, err
	}
	t := a.find(gp)
	if t == nil {
		return 0, ErrNoValue
	}
	if !a.NeedsInitiator() {
		if !t.hasValue {
			return 0, ErrNoValue
		}
		return t.value, nil
	}
	for _, iv := range t.inits {
		if iv.Initiator.matches(*init) {
			return iv.Value, nil
		}
	}
	return 0, ErrNoValue
}

// SetValue sets or overwrites the value of target for init.
func (a *Attr) SetValue(gp uint64, init *Initiator, value uint64) error {
	if a.computed {
		return fmt.Errorf("%w: %s", ErrReadOnly, a.Name)
	}
	return a.set(gp, init, value)
}

func (a *Attr) set(gp uint64, init *Initiator, value uint64) error {
	if err := a.checkInitiator(init); err != nil {
		return err
	}
	t := a.find(gp)
	if t == nil {
		t = &target{gp: gp}
		a.targets = append(a.targets, t)
	}
	if !a.NeedsInitiator() {
		t.value, t.hasValue = value, true
		return nil
	}
	for i := range t.inits {
		if t.inits[i].Initiator.matches(*init) {
			t.inits[i].Value = value
			return nil
		}
	}
	t.inits = append(t.inits, InitiatorValue{Initiator: init.clone(), Value: value})
	return nil
}

// Targets returns the targets that have a value for init, in the order they
// were first set. A nil init on an attribute that needs one returns every
// target with any initiator, reporting the best value among them.
func (a *Attr) Targets(init *Initiator) []TargetValue {
	var out []TargetValue
	for _, t := range a.targets {
		if v, ok := a.targetValue(t, init); ok {
			out = append(out, TargetValue{Target: t.gp, Value: v})
		}
	}
	return out
}

func (a *Attr) targetValue(t *target, init *Initiator) (uint64, bool) {
	if !a.NeedsInitiator() {
		return t.value, t.hasValue
	}
	var best uint64
	found := false
	for _, iv := range t.inits {
		if init != nil && !iv.Initiator.matches(*init) {
			continue
		}
		if !found || a.Better(iv.Value, best) {
			best, found = iv.Value, true
		}
	}
	return best, found
}

// Initiators returns the initiators with a value for target.
func (a *Attr) Initiators(gp uint64) ([]InitiatorValue, error) {
	if !a.NeedsInitiator() {
		return nil, fmt.Errorf("%w: %s has no initiators", ErrNeedInitiator, a.Name)
	}
	t := a.find(gp)
	if t == nil {
		return nil, nil
	}
	out := make([]InitiatorValue, len(t.inits))
	for i, iv := range t.inits {
		out[i] = InitiatorValue{Initiator: iv.Initiator.clone(), Value: iv.Value}
	}
	return out, nil
}

// BestTarget returns the target with the best value for init. When no
// stored initiator matches init exactly, the smallest stored cpuset that
// includes init's cpuset is used for each target.
func (a *Attr) BestTarget(init *Initiator) (TargetValue, error) {
	if err := a.checkInitiator(init); err != nil {
		return TargetValue{}, err
	}
	var best TargetValue
	found := false
	for _, t := range a.targets {
		v, ok := a.targetValue(t, init)
		if !ok && init != nil && a.NeedsInitiator() {
			v, ok = a.covering(t, init)
		}
		if !ok {
			continue
		}
		if !found || a.Better(v, best.Value) {
			best, found = TargetValue{Target: t.gp, Value: v}, true
		}
	}
	if !found {
		return TargetValue{}, ErrNoValue
	}
	return best, nil
}

func (a *Attr) covering(t *target, init *Initiator) (uint64, bool) {
	var pick *InitiatorValue
	for i := range t.inits {
		iv := &t.inits[i]
		if !iv.Initiator.CPUSet.Includes(init.CPUSet) {
			continue
		}
		if pick == nil || iv.Initiator.CPUSet.Weight() < pick.Initiator.CPUSet.Weight() {
			pick = iv
		}
	}
	if pick == nil {
		return 0, false
	}
	return pick.Value, true
}

// BestInitiator returns the initiator with the best value for target.
func (a *Attr) BestInitiator(gp uint64) (InitiatorValue, error) {
	ivs, err := a.Initiators(gp)
	if err != nil {
		return InitiatorValue{}, err
	}
	if len(ivs) == 0 {
		return InitiatorValue{}, ErrNoValue
	}
	best := ivs[0]
	for _, iv := range ivs[1:] {
		if a.Better(iv.Value, best.Value) {
			best = iv
		}
	}
	return best, nil
}

func (a *Attr) clone() *Attr {
	c := *a
	c.targets = make([]*target, len(a.targets))
	for i, t := range a.targets {
		ct := *t
		ct.inits = make([]InitiatorValue, len(t.inits))
		for j, iv := range t.inits {
			ct.inits[j] = InitiatorValue{Initiator: iv.Initiator.clone(), Value: iv.Value}
		}
		c.targets[i] = &ct
	}
	return &c
}

// Registry holds the built-in and registered attributes of a topology.
type Registry struct {
	attrs []*Attr
}

var builtins = []struct {
	name     string
	flags    model.MemAttrFlags
	computed bool
}{
	model.MemAttrCapacity:       {"Capacity", model.MemAttrHigherFirst, true},
	model.MemAttrLocality:       {"Locality", model.MemAttrLowerFirst, true},
	model.MemAttrBandwidth:      {"Bandwidth", model.MemAttrHigherFirst | model.MemAttrNeedInitiator, false},
	model.MemAttrLatency:        {"Latency", model.MemAttrLowerFirst | model.MemAttrNeedInitiator, false},
	model.MemAttrReadBandwidth:  {"ReadBandwidth", model.MemAttrHigherFirst | model.MemAttrNeedInitiator, false},
	model.MemAttrWriteBandwidth: {"WriteBandwidth", model.MemAttrHigherFirst | model.MemAttrNeedInitiator, false},
	model.MemAttrReadLatency:    {"ReadLatency", model.MemAttrLowerFirst | model.MemAttrNeedInitiator, false},
	model.MemAttrWriteLatency:   {"WriteLatency", model.MemAttrLowerFirst | model.MemAttrNeedInitiator, false},
}

// NewRegistry returns a registry holding the built-in attributes.
func NewRegistry() *Registry {
	r := &Registry{}
	for id, b := range builtins {
		r.attrs = append(r.attrs, &Attr{ID: model.MemAttrID(id), Name: b.name, Flags: b.flags, computed: b.computed})
	}
	return r
}

// Len returns the number of attributes, built-ins included.
func (r *Registry) Len() int { return len(r.attrs) }

// ByID returns the attribute with the given id.
func (r *Registry) ByID(id model.MemAttrID) (*Attr, error) {
	if int(id) >= len(r.attrs) {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return r.attrs[id], nil
}

// ByName returns the attribute with the given name.
func (r *Registry) ByName(name string) (*Attr, error) {
	for _, a := range r.attrs {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
}

// Register adds a new attribute.
func (r *Registry) Register(name string, flags model.MemAttrFlags) (*Attr, error) {
	if !flags.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrFlags, flags)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: empty name", ErrFlags)
	}
	if _, err := r.ByName(name); err == nil {
		return nil, fmt.Errorf("%w: %q", ErrExists, name)
	}
	a := &Attr{ID: model.MemAttrID(len(r.attrs)), Name: name, Flags: flags}
	r.attrs = append(r.attrs, a)
	return a, nil
}

// All returns every attribute in id order.
func (r *Registry) All() []*Attr { return slices.Clone(r.attrs) }

// Node is what the computed attributes are derived from.
type Node struct {
	GP          uint64
	LocalMemory uint64
	CPUSet      *bitmap.Bitmap
}

// Refresh recomputes Capacity and Locality for the given NUMA nodes.
func (r *Registry) Refresh(nodes []Node) {
	capacity, locality := r.attrs[model.MemAttrCapacity], r.attrs[model.MemAttrLocality]
	capacity.targets, locality.targets = nil, nil
	for _, n := range nodes {
		_ = capacity.set(n.GP, nil, n.LocalMemory)
		if w := n.CPUSet.Weight(); w >= 0 {
			_ = locality.set(n.GP, nil, uint64(w))
		}
	}
}

// Restrict drops the targets and object initiators for which alive reports
// false. Cpuset initiators are clipped to cpus and dropped when empty.
func (r *Registry) Restrict(alive func(gp uint64) bool, cpus *bitmap.Bitmap) {
	for _, a := range r.attrs {
		a.targets = slices.DeleteFunc(a.targets, func(t *target) bool { return !alive(t.gp) })
		for _, t := range a.targets {
			t.inits = slices.DeleteFunc(t.inits, func(iv InitiatorValue) bool {
				if iv.Initiator.Object {
					return !alive(iv.Initiator.GP)
				}
				iv.Initiator.CPUSet.IntersectWith(cpus)
				return iv.Initiator.CPUSet.IsZero()
			})
		}
	}
}

// Clone returns a deep copy of r.
func (r *Registry) Clone() *Registry {
	c := &Registry{attrs: make([]*Attr, len(r.attrs))}
	for i, a := range r.attrs {
		c.attrs[i] = a.clone()
	}
	return c
}
