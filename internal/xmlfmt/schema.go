package xmlfmt

import "encoding/xml"

type topologyXML struct {
	XMLName   xml.Name       `xml:"topology"`
	Version   string         `xml:"version,attr,omitempty"`
	Root      *objectXML     `xml:"object"`
	CPUKinds  []cpukindXML   `xml:"cpukind"`
	Distances []distancesXML `xml:"distances2"`
	MemAttrs  []memattrXML   `xml:"memattr"`
}

type objectXML struct {
	Type    string `xml:"type,attr"`
	Subtype string `xml:"subtype,attr,omitempty"`
	OSIndex *int   `xml:"os_index,attr,omitempty"`
	Name    string `xml:"name,attr,omitempty"`

	CPUSet          string `xml:"cpuset,attr,omitempty"`
	CompleteCPUSet  string `xml:"complete_cpuset,attr,omitempty"`
	AllowedCPUSet   string `xml:"allowed_cpuset,attr,omitempty"`
	NodeSet         string `xml:"nodeset,attr,omitempty"`
	CompleteNodeSet string `xml:"complete_nodeset,attr,omitempty"`
	AllowedNodeSet  string `xml:"allowed_nodeset,attr,omitempty"`
	GPIndex         uint64 `xml:"gp_index,attr,omitempty"`

	// NUMA nodes
	LocalMemory uint64 `xml:"local_memory,attr,omitempty"`

	// caches, groups and bridges
	CacheSize     uint64 `xml:"cache_size,attr,omitempty"`
	Depth         *int   `xml:"depth,attr,omitempty"`
	CacheLineSize int    `xml:"cache_linesize,attr,omitempty"`
	CacheAssoc    int    `xml:"cache_associativity,attr,omitempty"`
	CacheType     *int   `xml:"cache_type,attr,omitempty"`

	GroupKind      *uint `xml:"kind,attr,omitempty"`
	GroupSubkind   uint  `xml:"subkind,attr,omitempty"`
	GroupDontMerge int   `xml:"dont_merge,attr,omitempty"`

	// PCI devices and PCI-side bridges
	PCIBusID     string  `xml:"pci_busid,attr,omitempty"`
	PCIType      string  `xml:"pci_type,attr,omitempty"`
	PCILinkSpeed float32 `xml:"pci_link_speed,attr,omitempty"`

	BridgeType string `xml:"bridge_type,attr,omitempty"`
	BridgePCI  string `xml:"bridge_pci,attr,omitempty"`

	OSDevType *uint `xml:"osdev_type,attr,omitempty"`

	PageTypes []pageTypeXML `xml:"page_type"`
	Infos     []infoXML     `xml:"info"`
	Children  []*objectXML  `xml:"object"`
}

type pageTypeXML struct {
	Size  uint64 `xml:"size,attr"`
	Count uint64 `xml:"count,attr"`
}

type infoXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type listXML struct {
	Length int    `xml:"length,attr"`
	Text   string `xml:",chardata"`
}

type distancesXML struct {
	Type     string    `xml:"type,attr,omitempty"`
	NbObjs   int       `xml:"nbobjs,attr"`
	Kind     uint      `xml:"kind,attr"`
	Name     string    `xml:"name,attr,omitempty"`
	Indexing string    `xml:"indexing,attr"`
	Indexes  []listXML `xml:"indexes"`
	Values   []listXML `xml:"u64values"`
}

type memattrXML struct {
	Name   string            `xml:"name,attr"`
	Flags  uint              `xml:"flags,attr"`
	Values []memattrValueXML `xml:"memattr_value"`
}

type memattrValueXML struct {
	TargetType      string `xml:"target_obj_type,attr"`
	TargetGP        uint64 `xml:"target_obj_gp_index,attr"`
	InitiatorType   string `xml:"initiator_obj_type,attr,omitempty"`
	InitiatorGP     uint64 `xml:"initiator_obj_gp_index,attr,omitempty"`
	InitiatorCPUSet string `xml:"initiator_cpuset,attr,omitempty"`
	Value           uint64 `xml:"value,attr"`
}

type cpukindXML struct {
	CPUSet     string    `xml:"cpuset,attr"`
	Efficiency int       `xml:"forced_efficiency,attr"`
	Infos      []infoXML `xml:"info"`
}
