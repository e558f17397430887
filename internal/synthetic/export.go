package synthetic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/hupe1980/hwtopo/internal/tree"
	"github.com/hupe1980/hwtopo/model"
)

var (
	// ErrAsymmetric is returned when the tree cannot be described by one count
	// per level.
	ErrAsymmetric = errors.New("synthetic: topology is not symmetric")
	// ErrUnsupported is returned for objects the language cannot express with
	// the requested flags.
	ErrUnsupported = errors.New("synthetic: object cannot be exported")
)

// Export describes t as a synthetic string.
func Export(t *tree.Tree, flags model.ExportSyntheticFlags) (string, error) {
	e := exporter{t: t, flags: flags}
	return e.run()
}

type exporter struct {
	t     *tree.Tree
	flags model.ExportSyntheticFlags

	defaultNUMA map[tree.ID]int
	groups      int
	tokens      []string
}

func (e *exporter) has(f model.ExportSyntheticFlags) bool { return e.flags&f != 0 }

func (e *exporter) run() (string, error) {
	t := e.t
	if !t.Node(t.Root()).SymmetricSubtree {
		return "", ErrAsymmetric
	}
	e.defaultNUMA = make(map[tree.ID]int)
	e.numberNUMA(t.Root(), new(int))

	rootLevel := []tree.ID{t.Root()}
	if err := e.memory(rootLevel, "", ""); err != nil {
		return "", err
	}
	for d := 1; d < t.Depth(); d++ {
		above := t.Level(d - 1)
		objs := t.Level(d)
		count := t.Node(above[0]).Arity()
		name, err := e.typeName(t.Node(objs[0]))
		if err != nil {
			return "", err
		}
		head := name + ":" + strconv.Itoa(count)
		if e.has(model.ExportSyntheticV1) && t.Node(objs[0]).Type == model.TypeGroup {
			if mem := t.Node(objs[0]).MemoryChildren; len(mem) == 1 {
				// A group carrying one node is the node itself in the old layout.
				if err := e.memory(objs, "NUMANode:"+strconv.Itoa(count), ""); err != nil {
					return "", err
				}
				continue
			}
		}
		e.tokens = append(e.tokens, head+e.levelAttrs(objs))
		if err := e.memory(objs, "", "NUMANode:1"); err != nil {
			return "", err
		}
	}
	return strings.Join(e.tokens, " "), nil
}

// numberNUMA records the OS index each NUMA node would get by default when
// the description is parsed again.
func (e *exporter) numberNUMA(id tree.ID, next *int) {
	n := e.t.Node(id)
	for _, m := range n.MemoryChildren {
		e.defaultNUMA[m] = *next
		*next++
	}
	for _, c := range n.Children {
		e.numberNUMA(c, next)
	}
}

// memory emits the memory attached to the objects of one level. replace is
// used as the token when the level itself stands for the node; v1Level is the
// token emitted in the old layout for nodes attached below another level.
func (e *exporter) memory(objs []tree.ID, replace, v1Level string) error {
	t := e.t
	k := len(t.Node(objs[0]).MemoryChildren)
	for _, id := range objs {
		if len(t.Node(id).MemoryChildren) != k {
			return ErrAsymmetric
		}
		for _, m := range t.Node(id).MemoryChildren {
			if t.Node(m).Type != model.TypeNUMANode {
				return fmt.Errorf("%w: %s", ErrUnsupported, t.Node(m).Type)
			}
		}
	}
	if k == 0 {
		return nil
	}
	v1 := e.has(model.ExportSyntheticV1)
	if v1 {
		switch {
		case replace != "":
			e.tokens = append(e.tokens, replace+e.numaAttrs(objs, 0))
			return nil
		case k > 1:
			return fmt.Errorf("%w: several nodes per object", ErrUnsupported)
		case objs[0] == t.Root():
			// A single node below the machine is implicit.
			return nil
		default:
			e.tokens = append(e.tokens, v1Level+e.numaAttrs(objs, 0))
			return nil
		}
	}
	for slot := range k {
		e.tokens = append(e.tokens, "[NUMANode"+e.numaAttrs(objs, slot)+"]")
	}
	return nil
}

func (e *exporter) typeName(n *tree.Node) (string, error) {
	ext := !e.has(model.ExportSyntheticNoExtendedTypes)
	switch {
	case n.Type == model.TypeGroup:
		name := "Group"
		if ext {
			name += strconv.Itoa(e.groups)
		}
		e.groups++
		return name, nil
	case n.Type.IsICache() && !ext:
		return "", fmt.Errorf("%w: %s without extended types", ErrUnsupported, n.Type)
	case n.Type.IsDCache() && !ext:
		return "Cache", nil
	case n.Type.IsNormal():
		return n.Type.String(), nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupported, n.Type)
	}
}

func (e *exporter) levelAttrs(objs []tree.ID) string {
	if e.has(model.ExportSyntheticNoAttrs) {
		return ""
	}
	var fields []string
	first := e.t.Node(objs[0])
	if a, ok := first.Attr.(model.CacheAttr); ok {
		if a.Size > 0 {
			fields = append(fields, "size="+strconv.FormatUint(a.Size, 10))
		}
		if a.LineSize > 0 {
			fields = append(fields, "linesize="+strconv.Itoa(a.LineSize))
		}
		if a.Associativity > 0 {
			fields = append(fields, "ways="+strconv.Itoa(a.Associativity))
		}
	}
	if first.Type == model.TypePU {
		identity := true
		indexes := make([]int, len(objs))
		for i, id := range objs {
			indexes[i] = e.t.Node(id).OSIndex
			if indexes[i] != i {
				identity = false
			}
		}
		if !identity {
			fields = append(fields, "indexes="+formatIndexes(indexes))
		}
	}
	return formatAttrs(fields)
}

func (e *exporter) numaAttrs(objs []tree.ID, slot int) string {
	if e.has(model.ExportSyntheticNoAttrs) {
		return ""
	}
	var fields []string
	first := e.t.Node(e.t.Node(objs[0]).MemoryChildren[slot])
	if a, ok := first.Attr.(model.NUMANodeAttr); ok && a.LocalMemory > 0 && !e.has(model.ExportSyntheticIgnoreMemory) {
		fields = append(fields, "memory="+strconv.FormatUint(a.LocalMemory, 10))
	}
	identity := true
	indexes := make([]int, len(objs))
	for i, id := range objs {
		m := e.t.Node(id).MemoryChildren[slot]
		indexes[i] = e.t.Node(m).OSIndex
		if indexes[i] != e.defaultNUMA[m] {
			identity = false
		}
	}
	if !identity {
		fields = append(fields, "indexes="+formatIndexes(indexes))
	}
	return formatAttrs(fields)
}

func formatAttrs(fields []string) string {
	if len(fields) == 0 {
		return ""
	}
	return "(" + strings.Join(fields, " ") + ")"
}

func formatIndexes(indexes []int) string {
	parts := make([]string, len(indexes))
	for i, v := range indexes {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
