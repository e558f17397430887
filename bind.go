package hwtopo

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/hwtopo/binding"
	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

// Scope is whose binding an operation reads or changes.
type Scope = binding.Scope

// Self targets the calling process, or the calling thread with the thread
// flag.
func Self() Scope { return binding.Self() }

// Process targets process pid.
func Process(pid int) Scope { return binding.Process(pid) }

// Thread targets thread tid.
func Thread(tid int) Scope { return binding.Thread(tid) }

// BindTarget is what a binding request binds to: an Object (its cpuset or
// nodeset is used), a bitmap wrapped by Set, or CPU indexes wrapped by CPUs.
type BindTarget interface {
	bindTarget() (set *bitmap.Bitmap, obj Object, err error)
}

func (o Object) bindTarget() (*bitmap.Bitmap, Object, error) { return nil, o, o.Err() }

type setTarget struct {
	set *bitmap.Bitmap
	err error
}

func (s setTarget) bindTarget() (*bitmap.Bitmap, Object, error) {
	if s.err != nil {
		return nil, Object{}, s.err
	}
	if s.set == nil {
		return nil, Object{}, fmt.Errorf("%w: nil set", ErrInvalidArgument)
	}
	return s.set.Clone(), Object{}, nil
}

// Set binds to a cpuset, or to a nodeset with MemBindByNodeSet.
func Set(b *bitmap.Bitmap) BindTarget { return setTarget{set: b} }

// CPUs binds to the PUs with the given OS indexes.
func CPUs(indexes ...int) BindTarget {
	b, err := bitmap.FromSequence(indexes...)
	return setTarget{set: b, err: translateError(err)}
}

// cpuTarget resolves target to a finite, non-empty cpuset.
func (t *Topology) cpuTarget(target BindTarget) (*bitmap.Bitmap, error) {
	if target == nil {
		return nil, fmt.Errorf("%w: nil bind target", ErrInvalidArgument)
	}
	set, obj, err := target.bindTarget()
	if err != nil {
		return nil, err
	}
	if obj != (Object{}) {
		if err := t.belongs(obj); err != nil {
			return nil, err
		}
		set = obj.CPUSet()
	}
	return t.finite(set, t.tree.Node(t.tree.Root()).CompleteCPUSet)
}

// memTarget resolves target to a finite, non-empty nodeset.
func (t *Topology) memTarget(target BindTarget, flags model.MemBindFlags) (*bitmap.Bitmap, error) {
	if target == nil {
		return nil, fmt.Errorf("%w: nil bind target", ErrInvalidArgument)
	}
	set, obj, err := target.bindTarget()
	if err != nil {
		return nil, err
	}
	complete := t.tree.Node(t.tree.Root()).CompleteNodeSet
	switch {
	case obj != (Object{}):
		if err := t.belongs(obj); err != nil {
			return nil, err
		}
		set = obj.NodeSet()
	case flags&model.MemBindByNodeSet == 0:
		cpus, err := t.finite(set, t.tree.Node(t.tree.Root()).CompleteCPUSet)
		if err != nil {
			return nil, err
		}
		set = t.tree.CPUSetToNodeSet(cpus)
	}
	return t.finite(set, complete)
}

func (t *Topology) finite(set, complete *bitmap.Bitmap) (*bitmap.Bitmap, error) {
	if set == nil {
		return nil, fmt.Errorf("%w: object has no set to bind to", ErrInvalidArgument)
	}
	if set.IsInfinite() {
		set = set.Intersect(complete)
	}
	if set.IsZero() {
		return nil, fmt.Errorf("%w: empty binding set", ErrInvalidArgument)
	}
	return set, nil
}

// changer returns the backend when binding may change.
func (t *Topology) changer() (binding.Backend, error) {
	if err := t.loaded(); err != nil {
		return nil, err
	}
	if t.opts.flags&model.FlagDontChangeBinding != 0 {
		return nil, fmt.Errorf("%w: binding changes are disabled by FlagDontChangeBinding", ErrNotSupported)
	}
	return t.binder, nil
}

func (t *Topology) recordBind(ctx context.Context, op string, scope string, set *bitmap.Bitmap, start time.Time, err error) error {
	err = translateError(err)
	s := ""
	if set != nil {
		s = set.ListString()
	}
	t.opts.metricsCollector.RecordBind(op, time.Since(start), err)
	t.log.LogBind(ctx, op, scope, s, err)
	return err
}

// SetCPUBinding binds scope to the PUs of target. On error the previous
// binding is left in place.
func (t *Topology) SetCPUBinding(ctx context.Context, target BindTarget, scope Scope, flags model.CPUBindFlags) (err error) {
	start := time.Now()
	var set *bitmap.Bitmap
	defer func() { err = t.recordBind(ctx, "set_cpubind", scope.String(), set, start, err) }()

	b, err := t.changer()
	if err != nil {
		return err
	}
	if !b.Support().SetCPU(scope, flags) {
		return fmt.Errorf("%w: set cpu binding of %s", ErrNotSupported, scope)
	}
	if set, err = t.cpuTarget(target); err != nil {
		return err
	}
	return b.SetCPUBind(scope, set, flags)
}

// CPUBinding returns the PUs scope is bound to.
func (t *Topology) CPUBinding(ctx context.Context, scope Scope, flags model.CPUBindFlags) (set *bitmap.Bitmap, err error) {
	start := time.Now()
	defer func() { err = t.recordBind(ctx, "get_cpubind", scope.String(), set, start, err) }()

	if err := t.loaded(); err != nil {
		return nil, err
	}
	if !t.binder.Support().GetCPU(scope, flags) {
		return nil, fmt.Errorf("%w: get cpu binding of %s", ErrNotSupported, scope)
	}
	return t.binder.GetCPUBind(scope, flags)
}

// LastCPULocation returns the PUs scope last ran on. The answer may be
// stale as soon as it is returned.
func (t *Topology) LastCPULocation(ctx context.Context, scope Scope, flags model.CPUBindFlags) (set *bitmap.Bitmap, err error) {
	start := time.Now()
	defer func() { err = t.recordBind(ctx, "get_last_cpu_location", scope.String(), set, start, err) }()

	if err := t.loaded(); err != nil {
		return nil, err
	}
	if !t.binder.Support().LastCPU(scope, flags) {
		return nil, fmt.Errorf("%w: last cpu location of %s", ErrNotSupported, scope)
	}
	return t.binder.LastCPULocation(scope, flags)
}

// SetMemBinding sets the memory policy of scope. The target is a nodeset
// with MemBindByNodeSet and a cpuset, converted to its local NUMA nodes,
// otherwise.
func (t *Topology) SetMemBinding(ctx context.Context, target BindTarget, scope Scope, policy model.MemBindPolicy, flags model.MemBindFlags) (err error) {
	start := time.Now()
	var nodes *bitmap.Bitmap
	defer func() { err = t.recordBind(ctx, "set_membind", scope.String(), nodes, start, err) }()

	b, err := t.changer()
	if err != nil {
		return err
	}
	sup := b.Support()
	if !sup.SetMem(scope, flags) {
		return fmt.Errorf("%w: set memory binding of %s", ErrNotSupported, scope)
	}
	if err := sup.CheckMem(policy, flags); err != nil {
		return err
	}
	if nodes, err = t.memTarget(target, flags); err != nil {
		return err
	}
	return b.SetMemBind(scope, nodes, policy, flags)
}

// MemBinding returns the memory policy of scope and the set it applies to,
// as a nodeset with MemBindByNodeSet and a cpuset otherwise.
func (t *Topology) MemBinding(ctx context.Context, scope Scope, flags model.MemBindFlags) (set *bitmap.Bitmap, policy model.MemBindPolicy, err error) {
	start := time.Now()
	defer func() { err = t.recordBind(ctx, "get_membind", scope.String(), set, start, err) }()

	if err := t.loaded(); err != nil {
		return nil, 0, err
	}
	if !t.binder.Support().GetMem(scope, flags) {
		return nil, 0, fmt.Errorf("%w: get memory binding of %s", ErrNotSupported, scope)
	}
	nodes, policy, err := t.binder.GetMemBind(scope, flags)
	if err != nil {
		return nil, 0, err
	}
	return t.memResult(nodes, flags), policy, nil
}

// memResult substitutes the whole machine for an empty nodeset and converts
// to a cpuset unless MemBindByNodeSet is set.
func (t *Topology) memResult(nodes *bitmap.Bitmap, flags model.MemBindFlags) *bitmap.Bitmap {
	root := t.tree.Node(t.tree.Root())
	if nodes == nil || nodes.IsZero() {
		nodes = root.CompleteNodeSet.Clone()
	}
	if flags&model.MemBindByNodeSet != 0 {
		return nodes
	}
	if nodes.Equal(root.CompleteNodeSet) {
		return root.CompleteCPUSet.Clone()
	}
	return t.tree.NodeSetToCPUSet(nodes)
}

func checkArea(area []byte) error {
	if len(area) == 0 {
		return fmt.Errorf("%w: empty memory area", ErrInvalidArgument)
	}
	return nil
}

// SetAreaMemBinding binds the pages of area.
func (t *Topology) SetAreaMemBinding(ctx context.Context, area []byte, target BindTarget, policy model.MemBindPolicy, flags model.MemBindFlags) (err error) {
	start := time.Now()
	var nodes *bitmap.Bitmap
	defer func() { err = t.recordBind(ctx, "set_area_membind", "area", nodes, start, err) }()

	b, err := t.changer()
	if err != nil {
		return err
	}
	if err := checkArea(area); err != nil {
		return err
	}
	sup := b.Support()
	if !sup.Mem.SetArea {
		return fmt.Errorf("%w: area memory binding", ErrNotSupported)
	}
	if err := sup.CheckMem(policy, flags); err != nil {
		return err
	}
	if nodes, err = t.memTarget(target, flags); err != nil {
		return err
	}
	return b.SetAreaMemBind(area, nodes, policy, flags)
}

// AreaMemBinding returns the policy of the pages of area and the set they
// are bound to.
func (t *Topology) AreaMemBinding(ctx context.Context, area []byte, flags model.MemBindFlags) (set *bitmap.Bitmap, policy model.MemBindPolicy, err error) {
	start := time.Now()
	defer func() { err = t.recordBind(ctx, "get_area_membind", "area", set, start, err) }()

	if err := t.loaded(); err != nil {
		return nil, 0, err
	}
	if err := checkArea(area); err != nil {
		return nil, 0, err
	}
	if !t.binder.Support().Mem.GetArea {
		return nil, 0, fmt.Errorf("%w: area memory binding", ErrNotSupported)
	}
	nodes, policy, err := t.binder.GetAreaMemBind(area, flags)
	if err != nil {
		return nil, 0, err
	}
	return t.memResult(nodes, flags), policy, nil
}

// AreaMemLocation returns where the pages of area currently are.
func (t *Topology) AreaMemLocation(ctx context.Context, area []byte, flags model.MemBindFlags) (set *bitmap.Bitmap, err error) {
	start := time.Now()
	defer func() { err = t.recordBind(ctx, "get_area_memlocation", "area", set, start, err) }()

	if err := t.loaded(); err != nil {
		return nil, err
	}
	if err := checkArea(area); err != nil {
		return nil, err
	}
	if !t.binder.Support().Mem.AreaLocation {
		return nil, fmt.Errorf("%w: area memory location", ErrNotSupported)
	}
	nodes, err := t.binder.AreaMemLocation(area, flags)
	if err != nil {
		return nil, err
	}
	return t.memResult(nodes, flags), nil
}

// AllocBound returns size bytes of page-aligned memory bound to target.
// Release it with FreeBound.
func (t *Topology) AllocBound(ctx context.Context, size int, target BindTarget, policy model.MemBindPolicy, flags model.MemBindFlags) (area []byte, err error) {
	start := time.Now()
	var nodes *bitmap.Bitmap
	defer func() { err = t.recordBind(ctx, "alloc_membind", "area", nodes, start, err) }()

	b, err := t.changer()
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		return nil, fmt.Errorf("%w: allocation size %d", ErrInvalidArgument, size)
	}
	sup := b.Support()
	if !sup.Mem.Alloc {
		return nil, fmt.Errorf("%w: bound allocation", ErrNotSupported)
	}
	if err := sup.CheckMem(policy, flags); err != nil {
		return nil, err
	}
	if nodes, err = t.memTarget(target, flags); err != nil {
		return nil, err
	}
	return b.Alloc(size, nodes, policy, flags)
}

// FreeBound releases memory returned by AllocBound.
func (t *Topology) FreeBound(area []byte) error {
	if err := t.loaded(); err != nil {
		return err
	}
	if err := checkArea(area); err != nil {
		return err
	}
	return translateError(t.binder.Free(area))
}
