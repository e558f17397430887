package hwtopo

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/internal/tree"
	"github.com/hupe1980/hwtopo/model"
)

// GroupSpec describes a Group object to insert.
type GroupSpec struct {
	// CPUSet is the PUs the group covers.
	CPUSet *bitmap.Bitmap
	// NodeSet is used instead of CPUSet when CPUSet is nil.
	NodeSet *bitmap.Bitmap
	Kind    uint // one of the model.GroupKind constants
	Subkind uint
	// DontMerge keeps the group even when an existing object has the same
	// cpuset.
	DontMerge bool
	Name      string
	Subtype   string
	Infos     []model.Info
}

// Restrict removes the PUs that are not in set (the NUMA nodes with
// RestrictByNodeSet) and every object left without resources. Distances,
// memory attributes and CPU kinds follow. On error the topology is
// unchanged.
func (t *Topology) Restrict(ctx context.Context, set *bitmap.Bitmap, flags model.RestrictFlags) (err error) {
	if err := t.checkSet(set); err != nil {
		return err
	}
	start := time.Now()
	removed := 0
	defer func() {
		err = translateError(err)
		t.opts.metricsCollector.RecordRestrict(time.Since(start), err)
		t.log.LogRestrict(ctx, set.ListString(), removed, err)
	}()
	before := t.countAlive()
	if err := t.restrict(set, flags); err != nil {
		return err
	}
	removed = before - t.countAlive()
	return nil
}

// restrict is Restrict without state checks, logging or metrics.
func (t *Topology) restrict(set *bitmap.Bitmap, flags model.RestrictFlags) error {
	if set.IsInfinite() {
		root := t.tree.Node(t.tree.Root())
		if flags&model.RestrictByNodeSet != 0 {
			set = set.Intersect(root.CompleteNodeSet)
		} else {
			set = set.Intersect(root.CompleteCPUSet)
		}
	}
	if _, err := t.tree.Restrict(set, flags); err != nil {
		return err
	}
	t.dists.Restrict(t.aliveGP)
	root := t.tree.Node(t.tree.Root())
	t.attrs.Restrict(t.aliveGP, root.CPUSet)
	t.refreshAttrs()

	kinds := t.kinds[:0]
	for _, k := range t.kinds {
		k.CPUSet = k.CPUSet.Intersect(root.CPUSet)
		if !k.CPUSet.IsZero() {
			kinds = append(kinds, k)
		}
	}
	t.kinds = kinds
	return nil
}

// InsertMisc attaches a Misc object named name below parent. It fails with
// ErrNotSupported when Misc objects are filtered out.
func (t *Topology) InsertMisc(parent Object, name string) (Object, error) {
	if err := t.belongs(parent); err != nil {
		return Object{}, err
	}
	if t.opts.filters[model.TypeMisc] == model.KeepNone {
		return Object{}, fmt.Errorf("%w: Misc objects are filtered out", ErrNotSupported)
	}
	if parent.Type() == model.TypeMisc || parent.IsMemory() {
		return Object{}, fmt.Errorf("%w: cannot attach Misc below %s", ErrInvalidArgument, parent.Type())
	}
	id := t.tree.InsertMisc(parent.id, name)
	t.tree.Connect()
	return t.object(id), nil
}

// InsertGroup inserts a Group covering spec's cpuset. When an existing
// object already covers exactly that set and the group may merge, the
// existing object is returned instead. Groups are dropped with
// ErrNotSupported when filtered out.
func (t *Topology) InsertGroup(spec GroupSpec) (Object, error) {
	if err := t.loaded(); err != nil {
		return Object{}, err
	}
	if t.opts.filters[model.TypeGroup] == model.KeepNone {
		return Object{}, fmt.Errorf("%w: Group objects are filtered out", ErrNotSupported)
	}
	if spec.CPUSet == nil && spec.NodeSet == nil {
		return Object{}, fmt.Errorf("%w: group needs a cpuset or a nodeset", ErrInvalidArgument)
	}
	id, merged, err := t.insertGroup(spec)
	if err != nil {
		return Object{}, translateError(err)
	}
	if !merged {
		t.tree.Connect()
	}
	return t.object(id), nil
}

func (t *Topology) insertGroup(spec GroupSpec) (tree.ID, bool, error) {
	return t.tree.InsertGroup(tree.GroupSpec{
		CPUSet:  spec.CPUSet,
		NodeSet: spec.NodeSet,
		Attr: model.GroupAttr{
			Kind:      spec.Kind,
			Subkind:   spec.Subkind,
			DontMerge: spec.DontMerge,
		},
		Name:    spec.Name,
		Subtype: spec.Subtype,
		Infos:   slices.Clone(spec.Infos),
	})
}

// NewGroup is InsertGroup for a plain user group covering cpuset.
func (t *Topology) NewGroup(cpuset *bitmap.Bitmap) (Object, error) {
	return t.InsertGroup(GroupSpec{CPUSet: cpuset, Kind: model.GroupKindUser})
}

// Refresh recomputes levels, sets and derived memory attributes after
// modifications.
func (t *Topology) Refresh() error {
	if err := t.loaded(); err != nil {
		return err
	}
	t.tree.Connect()
	t.refreshAttrs()
	return nil
}

// AddInfo appends a name/value pair to the infos of o.
func (t *Topology) AddInfo(o Object, name, value string) error {
	if err := t.belongs(o); err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("%w: empty info name", ErrInvalidArgument)
	}
	t.tree.AddInfo(o.id, name, value)
	return nil
}
