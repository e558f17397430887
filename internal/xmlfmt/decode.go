package xmlfmt

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/hupe1980/hwtopo/bitmap"
	"github.com/hupe1980/hwtopo/discovery"
	"github.com/hupe1980/hwtopo/model"
)

const source = "xml"

func syntaxErr(format string, args ...any) error {
	return discovery.Errorf(discovery.KindSyntax, source, format, args...)
}

// Decode reads a topology written by Encode, in either memory layout.
func Decode(r io.Reader) (*discovery.Result, error) {
	var doc topologyXML
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, discovery.Wrap(discovery.KindSyntax, source, err)
	}
	if doc.Version != "" && !strings.HasPrefix(doc.Version, "2.") {
		return nil, syntaxErr("unsupported version %q", doc.Version)
	}
	if doc.Root == nil {
		return nil, syntaxErr("missing root object")
	}

	objs, err := decodeObject(doc.Root)
	if err != nil {
		return nil, err
	}
	if len(objs) != 1 {
		return nil, syntaxErr("root object has memory in the old layout with several children")
	}
	res := &discovery.Result{Root: objs[0]}
	if res.AllowedCPUSet, err = parseSet(doc.Root.AllowedCPUSet); err != nil {
		return nil, err
	}
	if res.AllowedNodeSet, err = parseSet(doc.Root.AllowedNodeSet); err != nil {
		return nil, err
	}

	// Documents from other writers may omit gp_index.
	res.AssignGPIndexes()

	byGP := make(map[uint64]*discovery.Object)
	byOS := make(map[model.ObjType]map[int]*discovery.Object)
	res.Root.Walk(func(o *discovery.Object) bool {
		if o.GPIndex != 0 {
			byGP[o.GPIndex] = o
		}
		if o.OSIndex >= 0 {
			if byOS[o.Type] == nil {
				byOS[o.Type] = make(map[int]*discovery.Object)
			}
			byOS[o.Type][o.OSIndex] = o
		}
		return true
	})

	for _, k := range doc.CPUKinds {
		set, err := parseSet(k.CPUSet)
		if err != nil {
			return nil, err
		}
		res.CPUKinds = append(res.CPUKinds, discovery.CPUKind{
			CPUSet:     set,
			Efficiency: k.Efficiency,
			Infos:      decodeInfos(k.Infos),
		})
	}
	for _, d := range doc.Distances {
		dist, err := decodeDistances(d, byGP, byOS)
		if err != nil {
			return nil, err
		}
		res.Distances = append(res.Distances, dist)
	}
	for _, m := range doc.MemAttrs {
		attr, err := decodeMemAttr(m, byGP)
		if err != nil {
			return nil, err
		}
		res.MemAttrs = append(res.MemAttrs, attr)
	}
	return res, nil
}

func parseSet(s string) (*bitmap.Bitmap, error) {
	if s == "" {
		return nil, nil
	}
	b, err := bitmap.Parse(s)
	if err != nil {
		return nil, discovery.Wrap(discovery.KindSyntax, source, err)
	}
	return b, nil
}

func decodeInfos(infos []infoXML) []model.Info {
	var out []model.Info
	for _, i := range infos {
		out = append(out, model.Info{Name: i.Name, Value: i.Value})
	}
	return out
}

// decodeObject returns the objects x contributes to its parent. That is
// usually one, but an old-layout NUMA node wrapping several objects hands
// them all to the parent.
func decodeObject(x *objectXML) ([]*discovery.Object, error) {
	t, err := model.ParseObjType(x.Type)
	if err != nil {
		return nil, syntaxErr("object: %v", err)
	}
	o := discovery.NewObject(t, model.UnknownIndex)
	if x.OSIndex != nil {
		o.OSIndex = *x.OSIndex
	}
	o.Name = x.Name
	o.Subtype = x.Subtype
	o.GPIndex = x.GPIndex
	o.Infos = decodeInfos(x.Infos)
	for _, s := range []struct {
		text string
		dst  **bitmap.Bitmap
	}{
		{x.CPUSet, &o.CPUSet},
		{x.CompleteCPUSet, &o.CompleteCPUSet},
		{x.NodeSet, &o.NodeSet},
		{x.CompleteNodeSet, &o.CompleteNodeSet},
	} {
		if *s.dst, err = parseSet(s.text); err != nil {
			return nil, err
		}
	}
	if o.Attr, err = decodeAttr(t, x); err != nil {
		return nil, err
	}

	var normal []*discovery.Object
	for _, cx := range x.Children {
		cs, err := decodeObject(cx)
		if err != nil {
			return nil, err
		}
		for _, c := range cs {
			if t.IsMemory() && c.Type.IsNormal() {
				normal = append(normal, c)
				continue
			}
			o.Children = append(o.Children, c)
		}
	}
	switch len(normal) {
	case 0:
		return []*discovery.Object{o}, nil
	case 1:
		normal[0].Children = append(normal[0].Children, o)
		return normal, nil
	default:
		return append([]*discovery.Object{o}, normal...), nil
	}
}

func decodeAttr(t model.ObjType, x *objectXML) (model.Attr, error) {
	switch {
	case t == model.TypeNUMANode:
		a := model.NUMANodeAttr{LocalMemory: x.LocalMemory}
		for _, p := range x.PageTypes {
			a.PageTypes = append(a.PageTypes, model.PageType{Size: p.Size, Count: p.Count})
		}
		return a, nil
	case t.IsCache() || t == model.TypeMemCache:
		a := model.CacheAttr{
			Size:          x.CacheSize,
			LineSize:      x.CacheLineSize,
			Associativity: x.CacheAssoc,
		}
		if x.Depth != nil {
			a.Depth = *x.Depth
		} else if t.IsCache() {
			a.Depth = t.CacheLevel()
		}
		if x.CacheType != nil {
			a.Kind = model.CacheKind(*x.CacheType)
		}
		return a, nil
	case t == model.TypeGroup:
		a := model.GroupAttr{Subkind: x.GroupSubkind, DontMerge: x.GroupDontMerge != 0}
		if x.Depth != nil {
			a.Depth = *x.Depth
		}
		if x.GroupKind != nil {
			a.Kind = *x.GroupKind
		}
		return a, nil
	case t == model.TypePCIDevice:
		return decodePCI(x)
	case t == model.TypeBridge:
		return decodeBridge(x)
	case t == model.TypeOSDevice:
		var a model.OSDeviceAttr
		if x.OSDevType != nil {
			a.Kinds = model.OSDevKind(*x.OSDevType)
		}
		return a, nil
	}
	return nil, nil
}

func decodePCI(x *objectXML) (model.PCIDeviceAttr, error) {
	var a model.PCIDeviceAttr
	if x.PCIBusID != "" {
		if _, err := fmt.Sscanf(x.PCIBusID, "%04x:%02x:%02x.%01x", &a.Domain, &a.Bus, &a.Dev, &a.Func); err != nil {
			return a, syntaxErr("pci_busid %q: %v", x.PCIBusID, err)
		}
	}
	if x.PCIType != "" {
		if _, err := fmt.Sscanf(x.PCIType, "%04x [%04x:%04x] [%04x:%04x] %02x",
			&a.ClassID, &a.VendorID, &a.DeviceID, &a.SubvendorID, &a.SubdeviceID, &a.Revision); err != nil {
			return a, syntaxErr("pci_type %q: %v", x.PCIType, err)
		}
	}
	a.LinkSpeed = x.PCILinkSpeed
	return a, nil
}

func decodeBridge(x *objectXML) (model.BridgeAttr, error) {
	var a model.BridgeAttr
	if x.Depth != nil {
		a.Depth = *x.Depth
	}
	if x.BridgeType != "" {
		var up, down int
		if _, err := fmt.Sscanf(x.BridgeType, "%d-%d", &up, &down); err != nil {
			return a, syntaxErr("bridge_type %q: %v", x.BridgeType, err)
		}
		a.UpstreamKind, a.DownstreamKind = model.BridgeKind(up), model.BridgeKind(down)
	}
	if a.UpstreamKind == model.BridgePCI {
		pci, err := decodePCI(x)
		if err != nil {
			return a, err
		}
		a.Upstream = pci
	}
	if a.DownstreamKind == model.BridgePCI && x.BridgePCI != "" {
		d := &a.Downstream
		if _, err := fmt.Sscanf(x.BridgePCI, "%04x:[%02x-%02x]", &d.Domain, &d.SecondaryBus, &d.SubordinateBus); err != nil {
			return a, syntaxErr("bridge_pci %q: %v", x.BridgePCI, err)
		}
	}
	return a, nil
}

func splitList(lists []listXML, name string) ([]uint64, error) {
	var out []uint64
	for _, l := range lists {
		fields := strings.Fields(l.Text)
		if l.Length != 0 && len(fields) != l.Length {
			return nil, syntaxErr("%s: length %d but %d values", name, l.Length, len(fields))
		}
		for _, f := range fields {
			v, err := strconv.ParseUint(f, 10, 64)
			if err != nil {
				return nil, syntaxErr("%s: %v", name, err)
			}
			out = append(out, v)
		}
	}
	return out, nil
}

func decodeDistances(d distancesXML, byGP map[uint64]*discovery.Object, byOS map[model.ObjType]map[int]*discovery.Object) (discovery.Distances, error) {
	out := discovery.Distances{Name: d.Name, Kind: model.DistancesKind(d.Kind)}
	indexes, err := splitList(d.Indexes, "indexes")
	if err != nil {
		return out, err
	}
	values, err := splitList(d.Values, "u64values")
	if err != nil {
		return out, err
	}
	if len(indexes) != d.NbObjs || len(values) != d.NbObjs*d.NbObjs {
		return out, syntaxErr("distances %q: %d indexes and %d values for %d objects", d.Name, len(indexes), len(values), d.NbObjs)
	}

	switch d.Indexing {
	case "gp":
		for _, gp := range indexes {
			if _, ok := byGP[gp]; !ok {
				return out, syntaxErr("distances %q: unknown gp_index %d", d.Name, gp)
			}
		}
		out.Objects = indexes
	case "os", "":
		t, err := model.ParseObjType(d.Type)
		if err != nil {
			return out, syntaxErr("distances %q: os indexing needs an object type: %v", d.Name, err)
		}
		for _, idx := range indexes {
			o, ok := byOS[t][int(idx)]
			if !ok || o.GPIndex == 0 {
				return out, syntaxErr("distances %q: no %s with os_index %d", d.Name, t, idx)
			}
			out.Objects = append(out.Objects, o.GPIndex)
		}
	default:
		return out, syntaxErr("distances %q: unknown indexing %q", d.Name, d.Indexing)
	}
	out.Values = values
	return out, nil
}

func decodeMemAttr(m memattrXML, byGP map[uint64]*discovery.Object) (discovery.MemAttr, error) {
	out := discovery.MemAttr{Name: m.Name, Flags: model.MemAttrFlags(m.Flags)}
	for _, v := range m.Values {
		mv := discovery.MemAttrValue{Target: v.TargetGP, Value: v.Value}
		set, err := parseSet(v.InitiatorCPUSet)
		if err != nil {
			return out, err
		}
		mv.Initiator = set
		if v.InitiatorGP != 0 {
			o, ok := byGP[v.InitiatorGP]
			if !ok {
				return out, syntaxErr("memattr %q: unknown initiator gp_index %d", m.Name, v.InitiatorGP)
			}
			mv.InitiatorGP = v.InitiatorGP
			if mv.Initiator == nil && o.CPUSet != nil {
				mv.Initiator = o.CPUSet.Clone()
			}
			if mv.Initiator == nil {
				return out, syntaxErr("memattr %q: initiator gp_index %d has no cpuset", m.Name, v.InitiatorGP)
			}
		}
		out.Values = append(out.Values, mv)
	}
	return out, nil
}
