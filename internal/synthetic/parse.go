// Package synthetic reads and writes synthetic topology descriptions such as
// "Package:2 [NUMANode(memory=8GiB)] L3Cache:1 Core:4 PU:2".
//
// A description lists the levels of the tree from the top down, each with the
// number of children every object of the level above gets. Memory attached to
// the objects of a level follows it in brackets. A NUMANode given as a
// regular level becomes a Group level with one NUMA node attached to each
// group. Without any NUMA node, one is attached to the root.
package synthetic

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/dustin/go-humanize"

	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/model"
)

const source = "synthetic"

// attrs are the optional per-level attributes.
type attrs struct {
	memory   uint64
	size     uint64
	lineSize int
	ways     int
	indexes  []int
}

type memory struct {
	attrs attrs
}

type level struct {
	typ      model.ObjType
	count    int
	attrs    attrs
	plain    bool // "Cache" without an explicit level
	subkind  uint
	memories []memory // attached to each object of this level
}

// description is a parsed synthetic string.
type description struct {
	rootMemory []memory
	levels     []level
}

// Parse builds a discovery result from a synthetic description.
func Parse(desc string) (*discovery.Result, error) {
	d, err := parse(desc)
	if err != nil {
		return nil, err
	}
	return d.build(desc)
}

func parse(desc string) (*description, error) {
	toks, err := tokenize(desc)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, discovery.Errorf(discovery.KindSyntax, source, "empty description")
	}

	d := &description{}
	numaLevel := false
	for _, tok := range toks {
		if strings.HasPrefix(tok, "[") {
			m, err := parseMemory(tok)
			if err != nil {
				return nil, err
			}
			if len(d.levels) == 0 {
				d.rootMemory = append(d.rootMemory, m)
			} else {
				last := &d.levels[len(d.levels)-1]
				last.memories = append(last.memories, m)
			}
			continue
		}
		lv, err := parseLevel(tok)
		if err != nil {
			return nil, err
		}
		if lv.typ == model.TypeMachine {
			if len(d.levels) > 0 || lv.count != 1 {
				return nil, discovery.Errorf(discovery.KindInvalid, source, "Machine may only appear once, at the top")
			}
			continue
		}
		if lv.typ == model.TypeNUMANode {
			if numaLevel {
				return nil, discovery.Errorf(discovery.KindInvalid, source, "more than one NUMANode level")
			}
			numaLevel = true
			mem := memory{attrs: attrs{memory: lv.attrs.memory, indexes: lv.attrs.indexes}}
			lv = level{typ: model.TypeGroup, count: lv.count, memories: []memory{mem}}
		}
		d.levels = append(d.levels, lv)
	}
	if err := d.validate(numaLevel); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *description) validate(numaLevel bool) error {
	if len(d.levels) == 0 {
		return discovery.Errorf(discovery.KindInvalid, source, "no level")
	}
	if last := d.levels[len(d.levels)-1]; last.typ != model.TypePU {
		return discovery.Errorf(discovery.KindInvalid, source, "last level must be PU, not %s", last.typ)
	}
	brackets := len(d.rootMemory) > 0
	for _, lv := range d.levels {
		if len(lv.memories) > 0 && lv.typ != model.TypeGroup {
			brackets = true
		}
	}
	if numaLevel && brackets {
		return discovery.Errorf(discovery.KindInvalid, source, "NUMANode level mixed with attached memory")
	}

	// Plain "Cache" levels are numbered from the bottom up.
	cacheLevel := 0
	for i := len(d.levels) - 1; i >= 0; i-- {
		lv := &d.levels[i]
		if lv.typ.IsDCache() && !lv.plain {
			cacheLevel = lv.typ.CacheLevel()
			continue
		}
		if !lv.plain {
			continue
		}
		cacheLevel++
		typ, ok := model.CacheType(cacheLevel)
		if !ok {
			return discovery.Errorf(discovery.KindInvalid, source, "too many cache levels")
		}
		lv.typ = typ
	}

	prev := model.TypeMachine
	groups := uint(0)
	for i := range d.levels {
		lv := &d.levels[i]
		if lv.count <= 0 {
			return discovery.Errorf(discovery.KindInvalid, source, "%s count must be positive", lv.typ)
		}
		if lv.typ == model.TypeGroup {
			lv.subkind = groups
			groups++
			continue
		}
		if !lv.typ.IsNormal() {
			return discovery.Errorf(discovery.KindInvalid, source, "%s cannot be a level", lv.typ)
		}
		if prev != model.TypeMachine && model.CompareTypes(prev, lv.typ) != -1 {
			return discovery.Errorf(discovery.KindInvalid, source, "%s cannot be below %s", lv.typ, prev)
		}
		prev = lv.typ
	}
	return nil
}

// tokenize splits on whitespace outside parentheses and brackets.
func tokenize(s string) ([]string, error) {
	var toks []string
	var cur strings.Builder
	paren, bracket := 0, 0
	flush := func() {
		if cur.Len() > 0 {
			toks = append(toks, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '(':
			paren++
		case r == ')':
			paren--
		case r == '[':
			if bracket == 0 && paren == 0 {
				flush()
			}
			bracket++
		case r == ']':
			bracket--
		}
		if paren < 0 || bracket < 0 {
			return nil, discovery.Errorf(discovery.KindSyntax, source, "unbalanced %q", r)
		}
		if unicode.IsSpace(r) && paren == 0 && bracket == 0 {
			flush()
			continue
		}
		cur.WriteRune(r)
		if r == ']' && bracket == 0 && paren == 0 {
			flush()
		}
	}
	if paren != 0 || bracket != 0 {
		return nil, discovery.Errorf(discovery.KindSyntax, source, "unterminated attribute list")
	}
	flush()
	return toks, nil
}

// splitAttrs cuts "name(attrs)" into its two parts.
func splitAttrs(tok string) (string, string, error) {
	open := strings.IndexByte(tok, '(')
	if open < 0 {
		return tok, "", nil
	}
	if !strings.HasSuffix(tok, ")") {
		return "", "", discovery.Errorf(discovery.KindSyntax, source, "trailing characters in %q", tok)
	}
	return tok[:open], tok[open+1 : len(tok)-1], nil
}

func parseLevel(tok string) (level, error) {
	head, attrText, err := splitAttrs(tok)
	if err != nil {
		return level{}, err
	}
	name, countText, ok := strings.Cut(head, ":")
	if !ok {
		return level{}, discovery.Errorf(discovery.KindSyntax, source, "missing count in %q", tok)
	}
	count, err := strconv.Atoi(countText)
	if err != nil {
		return level{}, discovery.Errorf(discovery.KindSyntax, source, "bad count in %q", tok)
	}
	lv := level{count: count}
	lv.typ, lv.plain, err = parseTypeName(name)
	if err != nil {
		return level{}, err
	}
	lv.attrs, err = parseAttrs(attrText)
	if err != nil {
		return level{}, err
	}
	return lv, nil
}

func parseTypeName(name string) (model.ObjType, bool, error) {
	lower := strings.ToLower(name)
	switch {
	case lower == "cache":
		return model.TypeL1Cache, true, nil
	case strings.HasPrefix(lower, "group") && len(lower) > len("group"):
		if _, err := strconv.Atoi(lower[len("group"):]); err == nil {
			return model.TypeGroup, false, nil
		}
	}
	t, err := model.ParseObjType(name)
	if err != nil {
		return 0, false, discovery.Wrap(discovery.KindSyntax, source, err)
	}
	return t, false, nil
}

func parseMemory(tok string) (memory, error) {
	inner := strings.TrimSuffix(strings.TrimPrefix(tok, "["), "]")
	name, attrText, err := splitAttrs(inner)
	if err != nil {
		return memory{}, err
	}
	t, _, err := parseTypeName(name)
	if err != nil {
		return memory{}, err
	}
	if t != model.TypeNUMANode {
		return memory{}, discovery.Errorf(discovery.KindUnsupported, source, "attached %s is not supported", t)
	}
	a, err := parseAttrs(attrText)
	if err != nil {
		return memory{}, err
	}
	return memory{attrs: a}, nil
}

func parseAttrs(s string) (attrs, error) {
	var a attrs
	for _, field := range strings.Fields(s) {
		key, value, ok := strings.Cut(field, "=")
		if !ok {
			return a, discovery.Errorf(discovery.KindSyntax, source, "attribute %q has no value", field)
		}
		var err error
		switch key {
		case "memory":
			a.memory, err = humanize.ParseBytes(value)
		case "size":
			a.size, err = humanize.ParseBytes(value)
		case "linesize":
			a.lineSize, err = strconv.Atoi(value)
		case "ways":
			a.ways, err = strconv.Atoi(value)
		case "indexes":
			a.indexes, err = parseIndexes(value)
		default:
			return a, discovery.Errorf(discovery.KindSyntax, source, "unknown attribute %q", key)
		}
		if err != nil {
			return a, discovery.Errorf(discovery.KindSyntax, source, "bad %s value %q", key, value)
		}
	}
	return a, nil
}

// parseIndexes reads an ordered list such as "0,2,4-7".
func parseIndexes(s string) ([]int, error) {
	var out []int
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil || a < 0 {
			return nil, strconv.ErrSyntax
		}
		if !isRange {
			out = append(out, a)
			continue
		}
		b, err := strconv.Atoi(hi)
		if err != nil || b < a {
			return nil, strconv.ErrSyntax
		}
		for i := a; i <= b; i++ {
			out = append(out, i)
		}
	}
	return out, nil
}

// build expands the description into an object tree.
func (d *description) build(desc string) (*discovery.Result, error) {
	totals := make([]int, len(d.levels))
	n := 1
	for i, lv := range d.levels {
		n *= lv.count
		totals[i] = n
		if lv.attrs.indexes != nil && len(lv.attrs.indexes) != n {
			return nil, discovery.Errorf(discovery.KindInvalid, source, "%s indexes list has %d entries for %d objects",
				lv.typ, len(lv.attrs.indexes), n)
		}
		if dup, ok := duplicate(lv.attrs.indexes); ok {
			return nil, discovery.Errorf(discovery.KindInvalid, source, "%s index %d used twice", lv.typ, dup)
		}
		for _, m := range lv.memories {
			if m.attrs.indexes != nil && len(m.attrs.indexes) != n {
				return nil, discovery.Errorf(discovery.KindInvalid, source, "NUMANode indexes list has %d entries for %d nodes",
					len(m.attrs.indexes), n)
			}
		}
	}

	b := &builder{d: d, counters: make([]int, len(d.levels))}
	root := discovery.NewObject(model.TypeMachine, 0)
	root.Infos = []model.Info{
		{Name: "Backend", Value: "Synthetic"},
		{Name: "SyntheticDescription", Value: strings.TrimSpace(desc)},
	}
	memories := d.rootMemory
	if !d.hasMemory() {
		memories = []memory{{}}
	}
	b.attachMemory(root, memories)
	b.fill(root, 0)
	return &discovery.Result{Root: root}, nil
}

func duplicate(indexes []int) (int, bool) {
	seen := make(map[int]struct{}, len(indexes))
	for _, i := range indexes {
		if _, ok := seen[i]; ok {
			return i, true
		}
		seen[i] = struct{}{}
	}
	return 0, false
}

func (d *description) hasMemory() bool {
	if len(d.rootMemory) > 0 {
		return true
	}
	for _, lv := range d.levels {
		if len(lv.memories) > 0 {
			return true
		}
	}
	return false
}

type builder struct {
	d        *description
	counters []int
	numa     int
	numaSeen map[*memory]int
}

func (b *builder) fill(parent *discovery.Object, depth int) {
	if depth == len(b.d.levels) {
		return
	}
	lv := &b.d.levels[depth]
	for range lv.count {
		logical := b.counters[depth]
		b.counters[depth]++
		os := logical
		if lv.attrs.indexes != nil {
			os = lv.attrs.indexes[logical]
		}
		o := parent.AddChild(discovery.NewObject(lv.typ, os))
		switch {
		case lv.typ.IsCache():
			kind := model.CacheUnified
			if lv.typ.IsICache() {
				kind = model.CacheInstruction
			}
			o.Attr = model.CacheAttr{
				Size:          lv.attrs.size,
				Depth:         lv.typ.CacheLevel(),
				LineSize:      lv.attrs.lineSize,
				Associativity: lv.attrs.ways,
				Kind:          kind,
			}
			o.OSIndex = model.UnknownIndex
		case lv.typ == model.TypeGroup:
			o.Attr = model.GroupAttr{Kind: model.GroupKindSynthetic, Subkind: lv.subkind}
			o.OSIndex = model.UnknownIndex
		}
		b.attachMemory(o, lv.memories)
		b.fill(o, depth+1)
	}
}

func (b *builder) attachMemory(o *discovery.Object, memories []memory) {
	if b.numaSeen == nil {
		b.numaSeen = make(map[*memory]int)
	}
	for i := range memories {
		m := &memories[i]
		os := b.numa
		if m.attrs.indexes != nil {
			os = m.attrs.indexes[b.numaSeen[m]]
		}
		b.numaSeen[m]++
		b.numa++
		numa := o.AddChild(discovery.NewObject(model.TypeNUMANode, os))
		numa.Attr = model.NUMANodeAttr{LocalMemory: m.attrs.memory}
	}
}
