// Package xmlfmt reads and writes the XML topology format.
//
// The layout follows the hwloc 2 format: one nested <object> element per
// object, followed by <cpukind>, <distances2> and <memattr> elements. With
// ExportXMLV1 memory is written in the old layout, where a NUMA node is the
// parent of the object it is attached to.
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

const (
	version = "2.0"
	header  = xml.Header + `<!DOCTYPE topology SYSTEM "hwloc2.dtd">` + "\n"
)

// Encode writes r as XML.
func Encode(w io.Writer, r *discovery.Result, flags model.ExportXMLFlags) error {
	if r == nil || r.Root == nil {
		return fmt.Errorf("xmlfmt: nothing to encode")
	}
	v1 := flags&model.ExportXMLV1 != 0
	doc := topologyXML{Version: version}
	if v1 {
		doc.Version = ""
	}

	byGP := make(map[uint64]*discovery.Object)
	r.Root.Walk(func(o *discovery.Object) bool {
		byGP[o.GPIndex] = o
		return true
	})

	root := encodeObject(r.Root, v1)
	root.AllowedCPUSet = setString(r.AllowedCPUSet)
	root.AllowedNodeSet = setString(r.AllowedNodeSet)
	doc.Root = root

	for _, k := range r.CPUKinds {
		doc.CPUKinds = append(doc.CPUKinds, cpukindXML{
			CPUSet:     setString(k.CPUSet),
			Efficiency: k.Efficiency,
			Infos:      encodeInfos(k.Infos),
		})
	}
	for _, d := range r.Distances {
		doc.Distances = append(doc.Distances, encodeDistances(d, byGP))
	}
	for _, m := range r.MemAttrs {
		doc.MemAttrs = append(doc.MemAttrs, encodeMemAttr(m, byGP))
	}

	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func setString(b *bitmap.Bitmap) string {
	if b == nil {
		return ""
	}
	return b.String()
}

func encodeInfos(infos []model.Info) []infoXML {
	var out []infoXML
	for _, i := range infos {
		out = append(out, infoXML{Name: i.Name, Value: i.Value})
	}
	return out
}

func encodeObject(o *discovery.Object, v1 bool) *objectXML {
	x := &objectXML{
		Type:            o.Type.String(),
		Subtype:         o.Subtype,
		Name:            o.Name,
		CPUSet:          setString(o.CPUSet),
		CompleteCPUSet:  setString(o.CompleteCPUSet),
		NodeSet:         setString(o.NodeSet),
		CompleteNodeSet: setString(o.CompleteNodeSet),
		GPIndex:         o.GPIndex,
		Infos:           encodeInfos(o.Infos),
	}
	if o.OSIndex >= 0 {
		os := o.OSIndex
		x.OSIndex = &os
	}
	encodeAttr(x, o.Attr)

	var memory []*objectXML
	for _, c := range o.Children {
		if v1 && c.Type.IsMemory() {
			memory = append(memory, encodeObject(c, v1))
			continue
		}
		x.Children = append(x.Children, encodeObject(c, v1))
	}
	if !v1 || len(memory) == 0 {
		return x
	}
	if len(memory) == 1 && o.Type.IsNormal() && o.Type != model.TypeMachine {
		// The node becomes the parent of the object it was attached to.
		memory[0].Children = append(memory[0].Children, x)
		return memory[0]
	}
	x.Children = append(memory, x.Children...)
	return x
}

func encodeAttr(x *objectXML, a model.Attr) {
	switch a := a.(type) {
	case model.NUMANodeAttr:
		x.LocalMemory = a.LocalMemory
		for _, p := range a.PageTypes {
			x.PageTypes = append(x.PageTypes, pageTypeXML{Size: p.Size, Count: p.Count})
		}
	case model.CacheAttr:
		depth, kind := a.Depth, int(a.Kind)
		x.CacheSize = a.Size
		x.Depth = &depth
		x.CacheLineSize = a.LineSize
		x.CacheAssoc = a.Associativity
		x.CacheType = &kind
	case model.GroupAttr:
		depth, kind := a.Depth, a.Kind
		x.Depth = &depth
		x.GroupKind = &kind
		x.GroupSubkind = a.Subkind
		if a.DontMerge {
			x.GroupDontMerge = 1
		}
	case model.PCIDeviceAttr:
		encodePCI(x, a)
	case model.BridgeAttr:
		depth := a.Depth
		x.Depth = &depth
		x.BridgeType = fmt.Sprintf("%d-%d", a.UpstreamKind, a.DownstreamKind)
		if a.UpstreamKind == model.BridgePCI {
			encodePCI(x, a.Upstream)
		}
		if a.DownstreamKind == model.BridgePCI {
			d := a.Downstream
			x.BridgePCI = fmt.Sprintf("%04x:[%02x-%02x]", d.Domain, d.SecondaryBus, d.SubordinateBus)
		}
	case model.OSDeviceAttr:
		kinds := uint(a.Kinds)
		x.OSDevType = &kinds
	}
}

func encodePCI(x *objectXML, a model.PCIDeviceAttr) {
	x.PCIBusID = a.BusID()
	x.PCIType = fmt.Sprintf("%04x [%04x:%04x] [%04x:%04x] %02x",
		a.ClassID, a.VendorID, a.DeviceID, a.SubvendorID, a.SubdeviceID, a.Revision)
	x.PCILinkSpeed = a.LinkSpeed
}

func encodeDistances(d discovery.Distances, byGP map[uint64]*discovery.Object) distancesXML {
	x := distancesXML{
		NbObjs:   len(d.Objects),
		Kind:     uint(d.Kind),
		Name:     d.Name,
		Indexing: "gp",
		Indexes:  []listXML{joinList(d.Objects)},
		Values:   []listXML{joinList(d.Values)},
	}
	if d.Kind&model.DistancesHeterogeneousTypes == 0 && len(d.Objects) > 0 {
		if o, ok := byGP[d.Objects[0]]; ok {
			x.Type = o.Type.String()
		}
	}
	return x
}

func joinList(vals []uint64) listXML {
	var b strings.Builder
	for _, v := range vals {
		b.WriteString(strconv.FormatUint(v, 10))
		b.WriteByte(' ')
	}
	return listXML{Length: len(vals), Text: b.String()}
}

func encodeMemAttr(m discovery.MemAttr, byGP map[uint64]*discovery.Object) memattrXML {
	x := memattrXML{Name: m.Name, Flags: uint(m.Flags)}
	for _, v := range m.Values {
		xv := memattrValueXML{
			TargetType:      model.TypeNUMANode.String(),
			TargetGP:        v.Target,
			InitiatorCPUSet: setString(v.Initiator),
			Value:           v.Value,
		}
		if v.InitiatorGP != 0 {
			xv.InitiatorGP = v.InitiatorGP
			if o, ok := byGP[v.InitiatorGP]; ok {
				xv.InitiatorType = o.Type.String()
			}
		}
		x.Values = append(x.Values, xv)
	}
	return x
}
