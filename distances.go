package hwtopo

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/internal/distmat"
	"github.com/hupe1980/hwtopo/internal/tree"
	"github.com/hupe1980/hwtopo/model"
)

// Distances is a handle on one distance matrix. Handles returned by lookups
// are copies owned by the caller: each must be released, and the topology
// releases any still held when it is destroyed.
//
// A handle returned by BeginAdd is a pending matrix; it becomes a regular
// handle once committed.
type Distances struct {
	topo *Topology
	id   uint64
	m    *distmat.Matrix

	pending   bool
	committed bool
	released  bool
}

func (t *Topology) track(m *distmat.Matrix) *Distances {
	d := &Distances{topo: t, id: m.ID, m: m.Clone()}
	t.handles = append(t.handles, d)
	return d
}

func (t *Topology) untrack(d *Distances) {
	t.handles = slices.DeleteFunc(t.handles, func(h *Distances) bool { return h == d })
}

func (t *Topology) trackAll(ms []*distmat.Matrix) []*Distances {
	out := make([]*Distances, 0, len(ms))
	for _, m := range ms {
		out = append(out, t.track(m))
	}
	return out
}

// Distances returns the matrices matching kind; zero matches all.
func (t *Topology) Distances(kind model.DistancesKind) ([]*Distances, error) {
	if err := t.loaded(); err != nil {
		return nil, err
	}
	return t.trackAll(t.dists.ByKind(kind)), nil
}

// DistancesByDepth returns the matrices matching kind whose objects all
// lie at depth.
func (t *Topology) DistancesByDepth(depth int, kind model.DistancesKind) ([]*Distances, error) {
	if err := t.loaded(); err != nil {
		return nil, err
	}
	return t.trackAll(t.dists.Find(func(m *distmat.Matrix) bool {
		return m.Kind.Matches(kind) && t.allObjects(m, func(n *tree.Node) bool { return n.Depth == depth })
	})), nil
}

// DistancesByType returns the matrices matching kind whose objects are all
// of type typ.
func (t *Topology) DistancesByType(typ model.ObjType, kind model.DistancesKind) ([]*Distances, error) {
	if err := t.loaded(); err != nil {
		return nil, err
	}
	return t.trackAll(t.dists.Find(func(m *distmat.Matrix) bool {
		return m.Kind.Matches(kind) && t.allObjects(m, func(n *tree.Node) bool { return n.Type == typ })
	})), nil
}

// DistancesByName returns the matrices called name.
func (t *Topology) DistancesByName(name string) ([]*Distances, error) {
	if err := t.loaded(); err != nil {
		return nil, err
	}
	return t.trackAll(t.dists.Find(func(m *distmat.Matrix) bool { return m.Name == name })), nil
}

func (t *Topology) allObjects(m *distmat.Matrix, fn func(n *tree.Node) bool) bool {
	for _, gp := range m.Objects {
		id, ok := t.tree.ByGP(gp)
		if !ok || !fn(t.tree.Node(id)) {
			return false
		}
	}
	return true
}

// RemoveAllDistances drops every matrix from the topology. Handles already
// obtained stay readable until released.
func (t *Topology) RemoveAllDistances() error {
	if err := t.loaded(); err != nil {
		return err
	}
	t.dists.RemoveFunc(func(*distmat.Matrix) bool { return true })
	return nil
}

// RemoveDistancesByDepth drops the matrices whose objects all lie at depth.
func (t *Topology) RemoveDistancesByDepth(depth int) error {
	if err := t.loaded(); err != nil {
		return err
	}
	t.dists.RemoveFunc(func(m *distmat.Matrix) bool {
		return t.allObjects(m, func(n *tree.Node) bool { return n.Depth == depth })
	})
	return nil
}

// RemoveDistancesByType drops the matrices whose objects are all of type typ.
func (t *Topology) RemoveDistancesByType(typ model.ObjType) error {
	if err := t.loaded(); err != nil {
		return err
	}
	t.dists.RemoveFunc(func(m *distmat.Matrix) bool {
		return t.allObjects(m, func(n *tree.Node) bool { return n.Type == typ })
	})
	return nil
}

// BeginAdd starts a new matrix. Stage the objects and values with SetValues,
// then Commit.
func (t *Topology) BeginAdd(name string, kind model.DistancesKind) (*Distances, error) {
	if err := t.loaded(); err != nil {
		return nil, err
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: distances kind %s", ErrInvalidArgument, kind)
	}
	d := &Distances{topo: t, m: &distmat.Matrix{Name: name, Kind: kind}, pending: true}
	t.handles = append(t.handles, d)
	return d, nil
}

func (d *Distances) check() error {
	if d == nil {
		return fmt.Errorf("%w: nil distances", ErrInvalidArgument)
	}
	if d.released {
		return fmt.Errorf("%w: distances %q", ErrUseAfterRelease, d.m.Name)
	}
	if err := d.topo.loaded(); err != nil {
		if errors.Is(err, ErrUseAfterRelease) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUseAfterRelease, err)
	}
	return nil
}

// Err reports whether the handle is still usable.
func (d *Distances) Err() error { return d.check() }

// Name returns the matrix name, or "" once released.
func (d *Distances) Name() string {
	if d.check() != nil {
		return ""
	}
	return d.m.Name
}

// Kind returns the matrix kind, or 0 once released.
func (d *Distances) Kind() model.DistancesKind {
	if d.check() != nil {
		return 0
	}
	return d.m.Kind
}

// Len returns the number of objects.
func (d *Distances) Len() (int, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	return d.m.Len(), nil
}

// Objects returns the objects in row order. Objects removed from the
// topology since the lookup are returned as zero Objects.
func (d *Distances) Objects() ([]Object, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	t := d.topo
	out := make([]Object, len(d.m.Objects))
	for i, gp := range d.m.Objects {
		if id, ok := t.tree.ByGP(gp); ok && t.tree.Alive(id) {
			out[i] = t.object(id)
		}
	}
	return out, nil
}

// Values returns a copy of the row-major values.
func (d *Distances) Values() ([]uint64, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	return slices.Clone(d.m.Values), nil
}

// Value returns the value from the i-th to the j-th object.
func (d *Distances) Value(i, j int) (uint64, error) {
	if err := d.check(); err != nil {
		return 0, err
	}
	n := d.m.Len()
	if i < 0 || j < 0 || i >= n || j >= n || len(d.m.Values) != n*n {
		return 0, fmt.Errorf("%w: index (%d, %d) outside a %d-object matrix", ErrInvalidArgument, i, j, n)
	}
	return d.m.Value(i, j), nil
}

// Index returns the row of o, or -1 when o is not in the matrix.
func (d *Distances) Index(o Object) (int, error) {
	if err := d.check(); err != nil {
		return -1, err
	}
	if o.topo != d.topo || o.Err() != nil {
		return -1, nil
	}
	i, ok := d.m.Index(o.node().GPIndex)
	if !ok {
		return -1, nil
	}
	return i, nil
}

// ValueBetween returns the value from a to b. It fails with ErrNotFound when
// either object is not in the matrix, which is distinct from a zero value.
func (d *Distances) ValueBetween(a, b Object) (uint64, error) {
	ab, _, err := d.PairValues(a, b)
	return ab, err
}

// PairValues returns the values from a to b and from b to a.
func (d *Distances) PairValues(a, b Object) (ab, ba uint64, err error) {
	i, err := d.Index(a)
	if err != nil {
		return 0, 0, err
	}
	j, err := d.Index(b)
	if err != nil {
		return 0, 0, err
	}
	if i < 0 || j < 0 {
		return 0, 0, fmt.Errorf("%w: object not in distances %q", ErrNotFound, d.m.Name)
	}
	return d.m.Value(i, j), d.m.Value(j, i), nil
}

// Transform applies tr to the matrix in place, in the topology as well as in
// this handle. The object list may shrink or change order.
func (d *Distances) Transform(tr model.DistancesTransform) error {
	if err := d.check(); err != nil {
		return err
	}
	if d.pending {
		return fmt.Errorf("%w: distances %q is not committed", ErrInvalidState, d.m.Name)
	}
	objs := treeObjects{d.topo.tree}
	if m, ok := d.topo.dists.Get(d.id); ok {
		if err := m.Transform(tr, objs); err != nil {
			return translateError(err)
		}
		d.m = m.Clone()
		return nil
	}
	return translateError(d.m.Transform(tr, objs))
}

// Release frees the handle without touching the topology. Releasing twice
// is a no-op.
func (d *Distances) Release() {
	if d == nil || d.released {
		return
	}
	d.released = true
	d.topo.untrack(d)
}

// ReleaseRemove releases the handle and removes its matrix from the
// topology.
func (d *Distances) ReleaseRemove() error {
	if err := d.check(); err != nil {
		return err
	}
	if !d.pending {
		d.topo.dists.Remove(d.id)
	}
	d.Release()
	return nil
}

// SetValues stages the objects and row-major values of a pending matrix.
// len(values) must be len(objects) squared.
func (d *Distances) SetValues(objects []Object, values []uint64) error {
	if err := d.check(); err != nil {
		return err
	}
	if !d.pending {
		return fmt.Errorf("%w: distances %q is already committed", ErrInvalidState, d.m.Name)
	}
	n := len(objects)
	if n < 2 {
		return fmt.Errorf("%w: at least two objects are required", ErrInvalidArgument)
	}
	if len(values) != n*n {
		return fmt.Errorf("%w: %d values for %d objects", ErrInvalidArgument, len(values), n)
	}
	gps := make([]uint64, n)
	var first model.ObjType
	hetero := false
	for i, o := range objects {
		if err := d.topo.belongs(o); err != nil {
			return err
		}
		gps[i] = o.node().GPIndex
		if i == 0 {
			first = o.Type()
		} else if o.Type() != first {
			hetero = true
		}
	}
	d.m.Objects = gps
	d.m.Values = slices.Clone(values)
	if hetero {
		d.m.Kind |= model.DistancesHeterogeneousTypes
	}
	return nil
}

// Commit adds the pending matrix to the topology. With DistancesAddGroup,
// objects are grouped by the topology's GroupingPolicy and new Group objects
// are inserted for latency matrices. Committing twice fails with
// ErrInvalidState.
func (d *Distances) Commit(ctx context.Context, flags model.DistancesAddFlags) (err error) {
	if err := d.check(); err != nil {
		return err
	}
	if !d.pending {
		return fmt.Errorf("%w: distances %q is already committed", ErrInvalidState, d.m.Name)
	}
	t := d.topo
	groups := 0
	defer func() {
		err = translateError(err)
		t.opts.metricsCollector.RecordDistancesCommit(t.dists.Len(), groups, err)
		t.log.LogDistancesCommit(ctx, d.m.Name, d.m.Len(), groups, err)
	}()

	m := d.m.Clone()
	if err := m.Validate(); err != nil {
		return err
	}
	if flags&model.DistancesAddGroup != 0 && m.Kind&model.DistancesMeansLatency != 0 &&
		m.Kind&model.DistancesHeterogeneousTypes == 0 {
		groups = t.groupByDistances(m, flags&model.DistancesAddGroupInaccurate != 0)
	}
	id, err := t.dists.Add(m)
	if err != nil {
		return err
	}
	d.id = id
	d.m = m.Clone()
	d.pending = false
	d.committed = true
	return nil
}

// groupByDistances inserts one Group per cluster found by the grouping
// policy and returns how many were created.
func (t *Topology) groupByDistances(m *distmat.Matrix, inaccurate bool) int {
	levels := distmat.Hierarchy(t.opts.grouping, m.Len(), m.Values, inaccurate)
	if len(levels) == 0 || t.opts.filters[model.TypeGroup] == model.KeepNone {
		return 0
	}
	created := 0
	for level, parts := range levels {
		for _, part := range parts {
			cpus, nodes := bitmap.New(), bitmap.New()
			for _, i := range part {
				id, ok := t.tree.ByGP(m.Objects[i])
				if !ok {
					continue
				}
				n := t.tree.Node(id)
				if n.CPUSet != nil {
					cpus.UnionWith(n.CPUSet)
				}
				if n.NodeSet != nil {
					nodes.UnionWith(n.NodeSet)
				}
			}
			spec := GroupSpec{Kind: model.GroupKindDistance, Subkind: uint(level)}
			if cpus.IsZero() {
				spec.NodeSet = nodes
			} else {
				spec.CPUSet = cpus
			}
			_, merged, err := t.insertGroup(spec)
			if err != nil {
				t.log.Debug("distance group skipped", "name", m.Name, "level", level, "error", err)
				continue
			}
			if !merged {
				created++
				t.tree.Connect()
			}
		}
	}
	if created > 0 {
		t.refreshAttrs()
	}
	return created
}
