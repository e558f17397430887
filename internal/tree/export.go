package tree

import (
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/model"
)

// Export converts the live tree back into a discovery result. Object GP
// indexes are preserved so distance and memory attribute references stay
// valid.
func (t *Tree) Export() *discovery.Result {
	return &discovery.Result{
		Root:           t.exportNode(t.root),
		AllowedCPUSet:  t.AllowedCPUSet.Clone(),
		AllowedNodeSet: t.AllowedNodeSet.Clone(),
	}
}

func (t *Tree) exportNode(id ID) *discovery.Object {
	n := &t.nodes[id]
	o := &discovery.Object{
		Type:            n.Type,
		OSIndex:         n.OSIndex,
		Name:            n.Name,
		Subtype:         n.Subtype,
		Attr:            model.CloneAttr(n.Attr),
		Infos:           append([]model.Info(nil), n.Infos...),
		CPUSet:          cloneSet(n.CPUSet),
		CompleteCPUSet:  cloneSet(n.CompleteCPUSet),
		NodeSet:         cloneSet(n.NodeSet),
		CompleteNodeSet: cloneSet(n.CompleteNodeSet),
		GPIndex:         n.GPIndex,
	}
	for _, list := range [][]ID{n.MemoryChildren, n.Children, n.IOChildren, n.MiscChildren} {
		for _, c := range list {
			o.Children = append(o.Children, t.exportNode(c))
		}
	}
	return o
}

// Walk visits every live object depth first, memory children before normal
// children, then I/O and Misc children.
func (t *Tree) Walk(fn func(id ID) bool) {
	t.walk(t.root, fn)
}

func (t *Tree) walk(id ID, fn func(id ID) bool) bool {
	if !fn(id) {
		return false
	}
	n := &t.nodes[id]
	for _, list := range [][]ID{n.MemoryChildren, n.Children, n.IOChildren, n.MiscChildren} {
		for _, c := range list {
			if !t.walk(c, fn) {
				return false
			}
		}
	}
	return true
}
