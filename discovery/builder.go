package discovery

import (
	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

// Builder assembles a tree from objects discovered in no particular order.
// Normal objects are placed by cpuset inclusion; memory and I/O objects are
// attached below the deepest normal object covering their locality.
type Builder struct {
	source string
	root   *Object
}

// NewBuilder returns a Builder whose Machine root covers cpuset.
func NewBuilder(source string, cpuset *bitmap.Bitmap) *Builder {
	root := NewObject(model.TypeMachine, 0)
	root.CPUSet = cpuset.Clone()
	return &Builder{source: source, root: root}
}

// Root returns the Machine object being built.
func (b *Builder) Root() *Object { return b.root }

// Insert places a normal object in the tree. Objects whose cpuset equals an
// existing object's are ordered by type; an object of the same type and
// cpuset is merged into the existing one, which is returned.
func (b *Builder) Insert(o *Object) (*Object, error) {
	if !o.Type.IsNormal() || o.Type == model.TypeMachine {
		return nil, Errorf(KindInvalid, b.source, "cannot insert %s by cpuset", o.Type)
	}
	if o.CPUSet.IsZero() {
		return nil, Errorf(KindInvalid, b.source, "%s#%d has an empty cpuset", o.Type, o.OSIndex)
	}
	if !b.root.CPUSet.Includes(o.CPUSet) {
		return nil, Errorf(KindInvalid, b.source, "%s#%d cpuset %s is outside the machine", o.Type, o.OSIndex, o.CPUSet)
	}
	return b.insertUnder(b.root, o)
}

func (b *Builder) insertUnder(parent, o *Object) (*Object, error) {
	var covered []int
	for i, c := range parent.Children {
		if !c.Type.IsNormal() {
			continue
		}
		switch {
		case c.CPUSet.Equal(o.CPUSet):
			if c.Type == o.Type {
				mergeInto(c, o)
				return c, nil
			}
			switch model.CompareTypes(o.Type, c.Type) {
			case 1:
				return b.insertUnder(c, o)
			case -1:
				covered = append(covered, i)
			default:
				// Groups go above objects with the same cpuset.
				if o.Type == model.TypeGroup {
					covered = append(covered, i)
				} else {
					return b.insertUnder(c, o)
				}
			}
		case c.CPUSet.Includes(o.CPUSet):
			return b.insertUnder(c, o)
		case o.CPUSet.Includes(c.CPUSet):
			covered = append(covered, i)
		case c.CPUSet.Intersects(o.CPUSet):
			return nil, Errorf(KindInvalid, b.source, "%s cpuset %s partially overlaps %s cpuset %s",
				o.Type, o.CPUSet, c.Type, c.CPUSet)
		}
	}

	if len(covered) == 0 {
		parent.Children = insertSorted(parent.Children, o)
		return o, nil
	}
	kept := parent.Children[:0:0]
	at := -1
	for i, c := range parent.Children {
		if len(covered) > 0 && covered[0] == i {
			o.Children = append(o.Children, c)
			covered = covered[1:]
			if at < 0 {
				at = len(kept)
			}
			continue
		}
		kept = append(kept, c)
	}
	kept = append(kept[:at], append([]*Object{o}, kept[at:]...)...)
	parent.Children = kept
	return o, nil
}

// insertSorted inserts o before the first normal child that starts after it.
func insertSorted(children []*Object, o *Object) []*Object {
	first := o.CPUSet.First()
	for i, c := range children {
		if c.Type.IsNormal() && c.CPUSet.First() > first {
			return append(children[:i], append([]*Object{o}, children[i:]...)...)
		}
	}
	return append(children, o)
}

func mergeInto(dst, src *Object) {
	if dst.Name == "" {
		dst.Name = src.Name
	}
	if dst.Subtype == "" {
		dst.Subtype = src.Subtype
	}
	if dst.Attr == nil {
		dst.Attr = src.Attr
	}
	if dst.OSIndex == model.UnknownIndex {
		dst.OSIndex = src.OSIndex
	}
	dst.Infos = append(dst.Infos, src.Infos...)
	dst.Children = append(dst.Children, src.Children...)
}

// deepestCovering returns the deepest normal object whose cpuset includes set.
func (b *Builder) deepestCovering(set *bitmap.Bitmap) *Object {
	cur := b.root
	if set.IsZero() {
		return cur
	}
	for {
		var next *Object
		for _, c := range cur.Children {
			if c.Type.IsNormal() && c.Type != model.TypePU && c.CPUSet.Includes(set) {
				next = c
				break
			}
		}
		if next == nil {
			return cur
		}
		cur = next
	}
}

// AttachMemory attaches a NUMA node or memory-side cache. The node's CPUSet
// gives its locality. When no normal object has exactly that cpuset, a Group
// is created to hold it.
func (b *Builder) AttachMemory(o *Object) error {
	if !o.Type.IsMemory() {
		return Errorf(KindInvalid, b.source, "%s is not a memory object", o.Type)
	}
	parent := b.deepestCovering(o.CPUSet)
	if !o.CPUSet.IsZero() && !parent.CPUSet.Equal(o.CPUSet) {
		g := NewObject(model.TypeGroup, model.UnknownIndex)
		g.CPUSet = o.CPUSet.Clone()
		g.Attr = model.GroupAttr{Kind: model.GroupKindOS}
		if inserted, err := b.insertUnder(parent, g); err == nil {
			parent = inserted
		}
	}
	o.CPUSet = nil
	parent.Children = append(parent.Children, o)
	return nil
}

// AttachIO attaches an I/O object below the deepest normal object whose cpuset
// includes locality. A nil locality attaches to the root.
func (b *Builder) AttachIO(locality *bitmap.Bitmap, o *Object) error {
	if !o.Type.IsIO() {
		return Errorf(KindInvalid, b.source, "%s is not an I/O object", o.Type)
	}
	parent := b.root
	if locality != nil {
		parent = b.deepestCovering(locality)
	}
	parent.Children = append(parent.Children, o)
	return nil
}

// AttachMisc attaches a Misc object to the root.
func (b *Builder) AttachMisc(o *Object) {
	b.root.Children = append(b.root.Children, o)
}

// Result returns the assembled tree.
func (b *Builder) Result() *Result {
	return &Result{Root: b.root}
}
