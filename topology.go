package hwtopo

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/hwtopo/binding"
	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/discovery/linux"
	"github.com/hupe1980/hwtopo/internal/distmat"
	"github.com/hupe1980/hwtopo/internal/memattr"
	"github.com/hupe1980/hwtopo/internal/tree"
	"github.com/hupe1980/hwtopo/model"
)

type state int32

const (
	stateConfiguring state = iota
	stateLoaded
	stateDestroyed
)

func (s state) String() string {
	switch s {
	case stateConfiguring:
		return "configuring"
	case stateLoaded:
		return "loaded"
	default:
		return "destroyed"
	}
}

// Topology is the hardware topology of a machine: the object tree, its
// distance matrices, memory attributes and CPU kinds, plus the binding
// backend that acts on it.
//
// A Topology is created in the configuring state by New, becomes usable
// after Load and is terminated by Destroy. Concurrent read-only queries are
// safe once loaded; mutations (Restrict, InsertGroup, InsertMisc, distance
// commits, memory attribute updates) need external synchronization.
type Topology struct {
	id    string
	state atomic.Int32
	opts  options
	log   *Logger

	tree       *tree.Tree
	dists      *distmat.Store
	attrs      *memattr.Registry
	kinds      []CPUKind
	binder     binding.Backend
	thisSystem bool

	// handles are the distance handles not yet released, oldest first.
	handles []*Distances
}

// New returns a Topology in the configuring state. Without a source option
// the running system is discovered.
func New(opts ...Option) (*Topology, error) {
	o := defaultOptions()
	if err := applyOptions(&o, opts); err != nil {
		return nil, err
	}
	t := &Topology{id: uuid.NewString(), opts: o}
	t.log = o.logger.WithTopology(t.id)
	return t, nil
}

// Configure applies more options. It fails with ErrInvalidState once the
// topology is loaded.
func (t *Topology) Configure(opts ...Option) error {
	if s := t.current(); s != stateConfiguring {
		return fmt.Errorf("%w: cannot configure a %s topology", ErrInvalidState, s)
	}
	o := t.opts
	if err := applyOptions(&o, opts); err != nil {
		return err
	}
	t.opts = o
	t.log = o.logger.WithTopology(t.id)
	return nil
}

// SetFlags replaces the topology flags before Load.
func (t *Topology) SetFlags(flags model.TopologyFlags) error {
	return t.Configure(WithFlags(flags))
}

// SetTypeFilter changes the filter of one type before Load.
func (t *Topology) SetTypeFilter(typ model.ObjType, f model.TypeFilter) error {
	return t.Configure(WithTypeFilter(typ, f))
}

// Load discovers the topology. Loading a loaded topology is a no-op.
func (t *Topology) Load(ctx context.Context) (err error) {
	switch s := t.current(); s {
	case stateLoaded:
		return nil
	case stateDestroyed:
		return fmt.Errorf("%w: topology is destroyed", ErrInvalidState)
	}

	start := time.Now()
	objects, source := 0, t.opts.source
	defer func() {
		err = translateError(err)
		depth := 0
		if t.tree != nil {
			depth = t.tree.Depth()
		}
		t.opts.metricsCollector.RecordLoad(source, objects, time.Since(start), err)
		t.log.LogLoad(ctx, source, objects, depth, err)
	}()

	backend := t.opts.backend
	if backend == nil {
		backend = linux.New(linux.WithLogger(t.log.Logger))
	}
	cfg := discovery.Config{Flags: t.opts.flags, Filters: t.opts.filters, PID: t.opts.pid}
	res, err := backend.Discover(ctx, cfg)
	if err != nil {
		return err
	}
	if err := t.build(res); err != nil {
		t.teardown()
		return err
	}
	objects = t.countAlive()
	t.state.Store(int32(stateLoaded))
	return nil
}

// build turns a discovery result into the loaded state.
func (t *Topology) build(res *discovery.Result) error {
	flags := t.opts.flags
	tr, err := tree.Build(res, t.opts.filters)
	if err != nil {
		return err
	}
	t.tree = tr
	t.thisSystem = res.IsThisSystem || flags&model.FlagIsThisSystem != 0

	if flags&model.FlagThisSystemAllowedResources != 0 && !res.IsThisSystem {
		cpus, nodes, err := linux.New().Allowed(t.opts.pid)
		if err != nil {
			return err
		}
		if cpus != nil {
			tr.AllowedCPUSet = cpus.Intersect(tr.Node(tr.Root()).CompleteCPUSet)
		}
		if nodes != nil {
			tr.AllowedNodeSet = nodes.Intersect(tr.Node(tr.Root()).CompleteNodeSet)
		}
	}

	t.dists = distmat.NewStore()
	if flags&model.FlagNoDistances == 0 {
		for _, d := range res.Distances {
			t.importDistances(d)
		}
	}
	t.attrs = memattr.NewRegistry()
	if flags&model.FlagNoMemAttrs == 0 {
		for _, m := range res.MemAttrs {
			if err := t.importMemAttr(m); err != nil {
				return err
			}
		}
	}
	if flags&model.FlagNoCPUKinds == 0 {
		for _, k := range res.CPUKinds {
			t.kinds = append(t.kinds, CPUKind{
				CPUSet:     k.CPUSet.Clone(),
				Efficiency: k.Efficiency,
				Infos:      slices.Clone(k.Infos),
			})
		}
		t.sortKinds()
	}
	t.refreshAttrs()

	t.binder = t.opts.binder
	if t.binder == nil {
		t.binder = binding.Unsupported()
		if t.thisSystem {
			t.binder = binding.Native()
		}
	}

	if t.thisSystem && flags&model.FlagIncludeDisallowed == 0 {
		if err := t.removeDisallowed(); err != nil {
			return err
		}
	}
	if t.thisSystem && flags&model.FlagRestrictToCPUBinding != 0 {
		if cpus, err := t.binder.GetCPUBind(binding.Self(), model.CPUBindProcess); err == nil {
			if err := t.restrict(cpus, 0); err != nil {
				return err
			}
		}
	}
	if t.thisSystem && flags&model.FlagRestrictToMemBinding != 0 {
		if nodes, _, err := t.binder.GetMemBind(binding.Self(), model.MemBindByNodeSet); err == nil && !nodes.IsZero() {
			if err := t.restrict(nodes, model.RestrictByNodeSet); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *Topology) importDistances(d discovery.Distances) {
	m := &distmat.Matrix{
		Name:    d.Name,
		Kind:    d.Kind,
		Objects: slices.Clone(d.Objects),
		Values:  slices.Clone(d.Values),
	}
	// Objects removed by type filters drop out of the matrix.
	if err := m.Transform(model.TransformRemoveNull, treeObjects{t.tree}); err != nil {
		t.log.Debug("distances dropped", "name", d.Name, "error", err)
		return
	}
	if _, err := t.dists.Add(m); err != nil {
		t.log.Debug("distances dropped", "name", d.Name, "error", err)
	}
}

func (t *Topology) importMemAttr(m discovery.MemAttr) error {
	a, err := t.attrs.ByName(m.Name)
	if err != nil {
		if a, err = t.attrs.Register(m.Name, m.Flags); err != nil {
			return err
		}
	}
	if a.Computed() {
		return nil
	}
	for _, v := range m.Values {
		if !t.aliveGP(v.Target) {
			continue
		}
		var init *memattr.Initiator
		if v.Initiator != nil {
			i := memattr.CPUSetInitiator(v.Initiator)
			if v.InitiatorGP != 0 && t.aliveGP(v.InitiatorGP) {
				i = memattr.ObjectInitiator(v.InitiatorGP, v.Initiator)
			}
			init = &i
		}
		if err := a.SetValue(v.Target, init, v.Value); err != nil {
			return err
		}
	}
	return nil
}

// removeDisallowed drops the PUs and NUMA nodes the process may not use.
func (t *Topology) removeDisallowed() error {
	root := t.tree.Node(t.tree.Root())
	if cpus := t.tree.AllowedCPUSet; !root.CPUSet.IsSubsetOf(cpus) {
		if err := t.restrict(cpus.Clone(), 0); err != nil {
			return err
		}
	}
	root = t.tree.Node(t.tree.Root())
	if nodes := t.tree.AllowedNodeSet; !root.NodeSet.IsSubsetOf(nodes) {
		if err := t.restrict(nodes.Clone(), model.RestrictByNodeSet); err != nil {
			return err
		}
	}
	return nil
}

func (t *Topology) sortKinds() {
	slices.SortStableFunc(t.kinds, func(a, b CPUKind) int {
		return cmp.Compare(a.Efficiency, b.Efficiency)
	})
}

// refreshAttrs recomputes the memory attributes derived from the tree.
func (t *Topology) refreshAttrs() {
	var nodes []memattr.Node
	for _, id := range t.tree.ObjectsByType(model.TypeNUMANode) {
		n := t.tree.Node(id)
		var local uint64
		if a, ok := n.Attr.(model.NUMANodeAttr); ok {
			local = a.LocalMemory
		}
		nodes = append(nodes, memattr.Node{GP: n.GPIndex, LocalMemory: local, CPUSet: n.CPUSet})
	}
	t.attrs.Refresh(nodes)
}

// aliveGP reports whether the object with GP index gp is in the tree.
func (t *Topology) aliveGP(gp uint64) bool {
	id, ok := t.tree.ByGP(gp)
	return ok && t.tree.Alive(id)
}

func (t *Topology) countAlive() int {
	n := 0
	t.tree.Walk(func(tree.ID) bool {
		n++
		return true
	})
	return n
}

func (t *Topology) current() state { return state(t.state.Load()) }

// Loaded reports whether Load succeeded and Destroy has not been called.
// Counting getters return 0 whenever it is false.
func (t *Topology) Loaded() bool { return t.current() == stateLoaded }

// loaded returns nil when queries are allowed.
func (t *Topology) loaded() error {
	switch s := t.current(); s {
	case stateLoaded:
		return nil
	case stateDestroyed:
		return fmt.Errorf("%w: topology is destroyed", ErrUseAfterRelease)
	default:
		return fmt.Errorf("%w: topology is not loaded", ErrInvalidState)
	}
}

func (t *Topology) teardown() {
	t.tree = nil
	t.dists = nil
	t.attrs = nil
	t.kinds = nil
	t.binder = nil
	t.thisSystem = false
}

// Dup returns an independent loaded copy. Objects of the copy are distinct
// from the objects of t.
func (t *Topology) Dup() (*Topology, error) {
	if err := t.loaded(); err != nil {
		return nil, err
	}
	c := &Topology{
		id:         uuid.NewString(),
		opts:       t.opts,
		tree:       t.tree.Clone(),
		dists:      t.dists.Clone(),
		attrs:      t.attrs.Clone(),
		binder:     t.binder,
		thisSystem: t.thisSystem,
	}
	for _, k := range t.kinds {
		c.kinds = append(c.kinds, CPUKind{CPUSet: k.CPUSet.Clone(), Efficiency: k.Efficiency, Infos: slices.Clone(k.Infos)})
	}
	c.log = c.opts.logger.WithTopology(c.id)
	c.state.Store(int32(stateLoaded))
	return c, nil
}

// Destroy releases the topology and every distance handle still held.
// Objects and handles obtained from it report ErrUseAfterRelease
// afterwards. Destroy may be called more than once.
func (t *Topology) Destroy() {
	if t == nil || t.current() == stateDestroyed {
		return
	}
	for i := len(t.handles) - 1; i >= 0; i-- {
		t.handles[i].released = true
	}
	t.handles = nil
	t.state.Store(int32(stateDestroyed))
	t.teardown()
}

// FromSynthetic loads a topology from a synthetic description.
func FromSynthetic(ctx context.Context, desc string, opts ...Option) (*Topology, error) {
	return load(ctx, append(slices.Clip(opts), WithSynthetic(desc)))
}

// FromXMLFile loads a topology from an exported XML file or snapshot.
func FromXMLFile(ctx context.Context, path string, opts ...Option) (*Topology, error) {
	return load(ctx, append(slices.Clip(opts), WithXMLFile(path)))
}

// FromXMLBuffer loads a topology from an exported XML document or snapshot.
func FromXMLBuffer(ctx context.Context, data []byte, opts ...Option) (*Topology, error) {
	return load(ctx, append(slices.Clip(opts), WithXMLBuffer(data)))
}

// FromThisSystem discovers the running machine.
func FromThisSystem(ctx context.Context, opts ...Option) (*Topology, error) {
	return load(ctx, opts)
}

// FromPID discovers the running machine as seen by process pid.
func FromPID(ctx context.Context, pid int, opts ...Option) (*Topology, error) {
	return load(ctx, append(opts, WithPID(pid)))
}

func load(ctx context.Context, opts []Option) (*Topology, error) {
	t, err := New(opts...)
	if err != nil {
		return nil, err
	}
	if err := t.Load(ctx); err != nil {
		t.Destroy()
		return nil, err
	}
	return t, nil
}

// ID returns the unique identifier of this topology instance.
func (t *Topology) ID() string { return t.id }

// Flags returns the topology flags.
func (t *Topology) Flags() model.TopologyFlags { return t.opts.flags }

// TypeFilter returns the filter of typ.
func (t *Topology) TypeFilter(typ model.ObjType) (model.TypeFilter, error) {
	if !typ.Valid() {
		return 0, fmt.Errorf("%w: object type %d", ErrInvalidArgument, int(typ))
	}
	return t.opts.filters[typ], nil
}

// IsThisSystem reports whether the topology describes the running machine.
func (t *Topology) IsThisSystem() bool {
	return t.loaded() == nil && t.thisSystem
}

// Support returns the binding capabilities of the topology.
func (t *Topology) Support() binding.Support {
	if t.loaded() != nil {
		return binding.Support{}
	}
	return t.binder.Support()
}

func (t *Topology) rootSet(get func(n *tree.Node) *bitmap.Bitmap) *bitmap.Bitmap {
	if t.loaded() != nil {
		return nil
	}
	return get(t.tree.Node(t.tree.Root())).Clone()
}

// CPUSet returns the PUs of the topology.
func (t *Topology) CPUSet() *bitmap.Bitmap {
	return t.rootSet(func(n *tree.Node) *bitmap.Bitmap { return n.CPUSet })
}

// CompleteCPUSet returns every PU, including those without topology
// information.
func (t *Topology) CompleteCPUSet() *bitmap.Bitmap {
	return t.rootSet(func(n *tree.Node) *bitmap.Bitmap { return n.CompleteCPUSet })
}

// NodeSet returns the NUMA nodes of the topology.
func (t *Topology) NodeSet() *bitmap.Bitmap {
	return t.rootSet(func(n *tree.Node) *bitmap.Bitmap { return n.NodeSet })
}

// CompleteNodeSet returns every NUMA node.
func (t *Topology) CompleteNodeSet() *bitmap.Bitmap {
	return t.rootSet(func(n *tree.Node) *bitmap.Bitmap { return n.CompleteNodeSet })
}

// AllowedCPUSet returns the PUs the process may run on.
func (t *Topology) AllowedCPUSet() *bitmap.Bitmap {
	if t.loaded() != nil {
		return nil
	}
	return t.tree.AllowedCPUSet.Clone()
}

// AllowedNodeSet returns the NUMA nodes the process may allocate from.
func (t *Topology) AllowedNodeSet() *bitmap.Bitmap {
	if t.loaded() != nil {
		return nil
	}
	return t.tree.AllowedNodeSet.Clone()
}

// Infos returns the info pairs of the root object.
func (t *Topology) Infos() []model.Info {
	return t.Root().Infos()
}

// treeObjects answers distmat's questions about a tree.
type treeObjects struct{ t *tree.Tree }

func (o treeObjects) Alive(gp uint64) bool {
	id, ok := o.t.ByGP(gp)
	return ok && o.t.Alive(id)
}

func (o treeObjects) IsSwitch(gp uint64) bool {
	id, ok := o.t.ByGP(gp)
	if !ok {
		return false
	}
	n := o.t.Node(id)
	return n.Type == model.TypeOSDevice && n.Subtype == "NVSwitch"
}
