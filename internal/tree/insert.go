package tree

import (
	"errors"
	"slices"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/model"
)

var (
	// ErrEmptyGroup is returned when a group would contain nothing.
	ErrEmptyGroup = errors.New("tree: group has an empty cpuset")
	// ErrGroupOverlap is returned when a group cuts through an existing object.
	ErrGroupOverlap = errors.New("tree: group partially overlaps an existing object")
)

// GroupSpec describes a Group to insert.
type GroupSpec struct {
	CPUSet  *bitmap.Bitmap
	NodeSet *bitmap.Bitmap // used instead of CPUSet when CPUSet is nil
	Attr    model.GroupAttr
	Name    string
	Subtype string
	Infos   []model.Info
}

// InsertGroup inserts a Group object covering spec's cpuset. When an existing
// normal object already has exactly that cpuset and the group may be merged,
// the existing object is returned with merged=true. The caller must Connect
// afterwards.
func (t *Tree) InsertGroup(spec GroupSpec) (id ID, merged bool, err error) {
	set := spec.CPUSet
	if set == nil {
		set = t.NodeSetToCPUSet(spec.NodeSet)
	}
	root := &t.nodes[t.root]
	set = set.Intersect(root.CPUSet)
	if set.IsZero() {
		return Nil, false, ErrEmptyGroup
	}

	cur := t.root
	if root.CPUSet.Equal(set) && !spec.Attr.DontMerge {
		return t.root, true, nil
	}
descend:
	for {
		for _, c := range t.nodes[cur].Children {
			cs := t.nodes[c].CPUSet
			switch {
			case cs.Equal(set):
				if !spec.Attr.DontMerge {
					return c, true, nil
				}
				break descend
			case cs.Includes(set):
				cur = c
				continue descend
			}
		}
		break
	}

	parent := &t.nodes[cur]
	var moved []ID
	at := -1
	kept := make([]ID, 0, len(parent.Children))
	for _, c := range parent.Children {
		cs := t.nodes[c].CPUSet
		switch {
		case cs.IsSubsetOf(set) && !cs.IsZero():
			if at < 0 {
				at = len(kept)
			}
			moved = append(moved, c)
		case cs.Intersects(set):
			return Nil, false, ErrGroupOverlap
		default:
			kept = append(kept, c)
		}
	}
	if len(moved) == 0 {
		return Nil, false, ErrGroupOverlap
	}

	gid := t.NewNode(model.TypeGroup, model.UnknownIndex)
	g := &t.nodes[gid]
	g.Attr = spec.Attr
	g.Name = spec.Name
	g.Subtype = spec.Subtype
	g.Infos = append([]model.Info(nil), spec.Infos...)
	g.Parent = cur
	g.Children = moved
	for _, c := range moved {
		t.nodes[c].Parent = gid
	}
	t.nodes[cur].Children = slices.Insert(kept, at, gid)
	return gid, false, nil
}

// InsertMisc attaches a new Misc object below parent. The caller must Connect
// afterwards.
func (t *Tree) InsertMisc(parent ID, name string) ID {
	id := t.NewNode(model.TypeMisc, model.UnknownIndex)
	n := &t.nodes[id]
	n.Name = name
	n.Parent = parent
	p := &t.nodes[parent]
	p.MiscChildren = append(p.MiscChildren, id)
	return id
}

// AddInfo appends a name/value pair to the infos of id.
func (t *Tree) AddInfo(id ID, name, value string) {
	n := &t.nodes[id]
	n.Infos = append(n.Infos, model.Info{Name: name, Value: value})
}
