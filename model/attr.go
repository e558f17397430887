package model

import "fmt"

// Attr is the type-specific attribute payload of an object. The set of
// implementations is closed.
type Attr interface {
	isAttr()
}

// PageType describes one kind of memory page of a NUMA node.
type PageType struct {
	Size  uint64 `json:"size"`
	Count uint64 `json:"count"`
}

// NUMANodeAttr describes a NUMA node.
type NUMANodeAttr struct {
	LocalMemory uint64     `json:"local_memory"`
	PageTypes   []PageType `json:"page_types,omitempty"`
}

// CacheKind distinguishes unified, data and instruction caches.
type CacheKind int

const (
	CacheUnified CacheKind = iota
	CacheData
	CacheInstruction
)

func (k CacheKind) String() string {
	switch k {
	case CacheUnified:
		return "Unified"
	case CacheData:
		return "Data"
	case CacheInstruction:
		return "Instruction"
	default:
		return fmt.Sprintf("CacheKind(%d)", int(k))
	}
}

// CacheAttr describes a CPU-side or memory-side cache.
type CacheAttr struct {
	Size     uint64 `json:"size"`
	Depth    int    `json:"depth"`
	LineSize int    `json:"linesize"`
	// Associativity is 0 when unknown and -1 when fully associative.
	Associativity int       `json:"associativity"`
	Kind          CacheKind `json:"kind"`
}

// Group kinds record where a Group object came from.
const (
	GroupKindUser      uint = 0
	GroupKindSynthetic uint = 10
	GroupKindDistance  uint = 1000
	GroupKindOS        uint = 2000
)

// GroupAttr describes a Group object.
type GroupAttr struct {
	// Depth is the index of the group's level among all group levels.
	Depth     int  `json:"depth"`
	Kind      uint `json:"kind"`
	Subkind   uint `json:"subkind"`
	DontMerge bool `json:"dont_merge,omitempty"`
}

// PCIDeviceAttr describes a PCI function.
type PCIDeviceAttr struct {
	Domain      uint32  `json:"domain"`
	Bus         uint8   `json:"bus"`
	Dev         uint8   `json:"dev"`
	Func        uint8   `json:"func"`
	ClassID     uint16  `json:"class_id"`
	VendorID    uint16  `json:"vendor_id"`
	DeviceID    uint16  `json:"device_id"`
	SubvendorID uint16  `json:"subvendor_id"`
	SubdeviceID uint16  `json:"subdevice_id"`
	Revision    uint8   `json:"revision"`
	LinkSpeed   float32 `json:"linkspeed"`
}

// BusID returns the "dddd:bb:dd.f" form of the PCI address.
func (a PCIDeviceAttr) BusID() string {
	return fmt.Sprintf("%04x:%02x:%02x.%01x", a.Domain, a.Bus, a.Dev, a.Func)
}

// BridgeKind is the kind of one side of a bridge.
type BridgeKind int

const (
	BridgeHost BridgeKind = iota
	BridgePCI
)

func (k BridgeKind) String() string {
	switch k {
	case BridgeHost:
		return "Host"
	case BridgePCI:
		return "PCI"
	default:
		return fmt.Sprintf("BridgeKind(%d)", int(k))
	}
}

// BridgeDownstream is the bus range below a PCI bridge.
type BridgeDownstream struct {
	Domain         uint32 `json:"domain"`
	SecondaryBus   uint8  `json:"secondary_bus"`
	SubordinateBus uint8  `json:"subordinate_bus"`
}

// BridgeAttr describes a host or PCI bridge. Upstream is only meaningful when
// UpstreamKind is BridgePCI.
type BridgeAttr struct {
	UpstreamKind   BridgeKind       `json:"upstream_kind"`
	Upstream       PCIDeviceAttr    `json:"upstream"`
	DownstreamKind BridgeKind       `json:"downstream_kind"`
	Downstream     BridgeDownstream `json:"downstream"`
	Depth          int              `json:"depth"`
}

// OSDevKind is a bitmask of operating system device kinds. A device may have
// several, for instance a GPU that is also a coprocessor.
type OSDevKind uint

const (
	OSDevStorage OSDevKind = 1 << iota
	OSDevMemory
	OSDevGPU
	OSDevCoproc
	OSDevNetwork
	OSDevOpenFabrics
	OSDevDMA
)

var osDevNames = []string{"Storage", "Memory", "GPU", "Coproc", "Network", "OpenFabrics", "DMA"}

func (k OSDevKind) String() string {
	if k == 0 {
		return "None"
	}
	s := ""
	for i, name := range osDevNames {
		if k&(1<<i) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += name
	}
	if rest := k &^ (1<<len(osDevNames) - 1); rest != 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("0x%x", uint(rest))
	}
	return s
}

// OSDeviceAttr describes an operating system device.
type OSDeviceAttr struct {
	Kinds OSDevKind `json:"kinds"`
}

func (NUMANodeAttr) isAttr()  {}
func (CacheAttr) isAttr()     {}
func (GroupAttr) isAttr()     {}
func (PCIDeviceAttr) isAttr() {}
func (BridgeAttr) isAttr()    {}
func (OSDeviceAttr) isAttr()  {}

// AttrMatches reports whether a is an acceptable attribute for an object of
// type t. A nil attribute is always acceptable.
func AttrMatches(t ObjType, a Attr) bool {
	if a == nil {
		return true
	}
	switch a.(type) {
	case NUMANodeAttr:
		return t == TypeNUMANode
	case CacheAttr:
		return t.IsCache() || t == TypeMemCache
	case GroupAttr:
		return t == TypeGroup
	case PCIDeviceAttr:
		return t == TypePCIDevice
	case BridgeAttr:
		return t == TypeBridge
	case OSDeviceAttr:
		return t == TypeOSDevice
	default:
		return false
	}
}

// CloneAttr returns a deep copy of a.
func CloneAttr(a Attr) Attr {
	if n, ok := a.(NUMANodeAttr); ok && n.PageTypes != nil {
		n.PageTypes = append([]PageType(nil), n.PageTypes...)
		return n
	}
	return a
}
