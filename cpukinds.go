package hwtopo

import (
	"fmt"
	"slices"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

// CPUKind is a set of PUs with the same microarchitecture, such as the
// performance or efficiency cores of a hybrid processor.
type CPUKind struct {
	CPUSet *bitmap.Bitmap
	// Efficiency ranks kinds from 0 (least power efficient) upward, or is -1
	// when unknown.
	Efficiency int
	Infos      []model.Info
}

func (k CPUKind) clone() CPUKind {
	return CPUKind{CPUSet: k.CPUSet.Clone(), Efficiency: k.Efficiency, Infos: slices.Clone(k.Infos)}
}

// NumCPUKinds returns the number of CPU kinds. Zero means the topology has
// no kind information.
func (t *Topology) NumCPUKinds() int {
	if t.loaded() != nil {
		return 0
	}
	return len(t.kinds)
}

// CPUKind returns the i-th kind, ordered by increasing efficiency.
func (t *Topology) CPUKind(i int) (CPUKind, error) {
	if err := t.loaded(); err != nil {
		return CPUKind{}, err
	}
	if i < 0 || i >= len(t.kinds) {
		return CPUKind{}, fmt.Errorf("%w: cpu kind %d of %d", ErrNotFound, i, len(t.kinds))
	}
	return t.kinds[i].clone(), nil
}

// CPUKindByCPUSet returns the index of the kind containing set. It fails
// with ErrInvalidArgument when set spans several kinds and with ErrNotFound
// when no kind contains it.
func (t *Topology) CPUKindByCPUSet(set *bitmap.Bitmap) (int, error) {
	if err := t.checkSet(set); err != nil {
		return -1, err
	}
	for i, k := range t.kinds {
		if set.IsSubsetOf(k.CPUSet) {
			return i, nil
		}
		if set.Intersects(k.CPUSet) {
			return -1, fmt.Errorf("%w: %s spans several cpu kinds", ErrInvalidArgument, set.ListString())
		}
	}
	return -1, fmt.Errorf("%w: no cpu kind contains %s", ErrNotFound, set.ListString())
}

// RegisterCPUKind adds a kind. Its PUs are removed from the kinds that
// held them; kinds left empty disappear. Kinds stay ordered by efficiency.
func (t *Topology) RegisterCPUKind(set *bitmap.Bitmap, efficiency int, infos ...model.Info) error {
	if err := t.checkSet(set); err != nil {
		return err
	}
	if set.IsZero() || set.IsInfinite() {
		return fmt.Errorf("%w: cpu kind needs a finite non-empty cpuset", ErrInvalidArgument)
	}
	if efficiency < -1 {
		return fmt.Errorf("%w: efficiency %d", ErrInvalidArgument, efficiency)
	}
	kinds := t.kinds[:0]
	for _, k := range t.kinds {
		k.CPUSet = k.CPUSet.AndNot(set)
		if !k.CPUSet.IsZero() {
			kinds = append(kinds, k)
		}
	}
	t.kinds = append(kinds, CPUKind{CPUSet: set.Clone(), Efficiency: efficiency, Infos: slices.Clone(infos)})
	t.sortKinds()
	return nil
}
