package model

import (
	"fmt"
	"math"
	"strings"
)

// ObjType is the type of a topology object.
type ObjType int

const (
	TypeMachine ObjType = iota
	TypePackage
	TypeDie
	TypeCore
	TypePU
	TypeL1Cache
	TypeL2Cache
	TypeL3Cache
	TypeL4Cache
	TypeL5Cache
	TypeL1ICache
	TypeL2ICache
	TypeL3ICache
	TypeGroup
	TypeNUMANode
	TypeMemCache
	TypeBridge
	TypePCIDevice
	TypeOSDevice
	TypeMisc

	numTypes
)

// TypeInvalid is returned by accessors of objects that are no longer part
// of a loaded topology. It is never a valid type.
const TypeInvalid ObjType = -1

// NumTypes is the number of object types.
const NumTypes = int(numTypes)

// Reserved depths. Normal objects have a depth >= 0; memory, I/O and Misc
// objects live outside the main numbering at the negative depths below.
const (
	DepthUnknown   = -1
	DepthMultiple  = -2
	DepthNUMANode  = -3
	DepthBridge    = -4
	DepthPCIDevice = -5
	DepthOSDevice  = -6
	DepthMisc      = -7
	DepthMemCache  = -8
)

// UnknownIndex is the OS index of objects the operating system does not number.
const UnknownIndex = -1

// TypeUnordered is returned by CompareTypes for types that do not nest.
const TypeUnordered = math.MaxInt32

var typeNames = [numTypes]string{
	TypeMachine:   "Machine",
	TypePackage:   "Package",
	TypeDie:       "Die",
	TypeCore:      "Core",
	TypePU:        "PU",
	TypeL1Cache:   "L1Cache",
	TypeL2Cache:   "L2Cache",
	TypeL3Cache:   "L3Cache",
	TypeL4Cache:   "L4Cache",
	TypeL5Cache:   "L5Cache",
	TypeL1ICache:  "L1iCache",
	TypeL2ICache:  "L2iCache",
	TypeL3ICache:  "L3iCache",
	TypeGroup:     "Group",
	TypeNUMANode:  "NUMANode",
	TypeMemCache:  "MemCache",
	TypeBridge:    "Bridge",
	TypePCIDevice: "PCIDev",
	TypeOSDevice:  "OSDev",
	TypeMisc:      "Misc",
}

// typeRank orders types from outermost to innermost. Lower ranks usually
// contain higher ones.
var typeRank = [numTypes]int{
	TypeMachine:   0,
	TypeGroup:     1,
	TypeMemCache:  2,
	TypeNUMANode:  3,
	TypePackage:   4,
	TypeDie:       5,
	TypeL5Cache:   6,
	TypeL4Cache:   7,
	TypeL3Cache:   8,
	TypeL3ICache:  9,
	TypeL2Cache:   10,
	TypeL2ICache:  11,
	TypeL1Cache:   12,
	TypeL1ICache:  13,
	TypeCore:      14,
	TypeBridge:    15,
	TypePCIDevice: 16,
	TypeOSDevice:  17,
	TypePU:        18,
	TypeMisc:      19,
}

// String returns the canonical type name, for example "L2Cache" or "PCIDev".
func (t ObjType) String() string {
	if t == TypeInvalid {
		return "Invalid"
	}
	if !t.Valid() {
		return fmt.Sprintf("ObjType(%d)", int(t))
	}
	return typeNames[t]
}

// Valid reports whether t is one of the defined types.
func (t ObjType) Valid() bool {
	return t >= 0 && t < numTypes
}

// Rank returns the position of t in the outermost-to-innermost type order.
func (t ObjType) Rank() int {
	if !t.Valid() {
		return -1
	}
	return typeRank[t]
}

// IsNormal reports whether t belongs to the main depth-numbered tree.
func (t ObjType) IsNormal() bool {
	return t.Valid() && t <= TypeGroup
}

// IsMemory reports whether t is a memory object (NUMA node or memory-side cache).
func (t ObjType) IsMemory() bool {
	return t == TypeNUMANode || t == TypeMemCache
}

// IsIO reports whether t is an I/O object.
func (t ObjType) IsIO() bool {
	return t == TypeBridge || t == TypePCIDevice || t == TypeOSDevice
}

// IsCache reports whether t is a CPU-side cache of any kind.
func (t ObjType) IsCache() bool {
	return t >= TypeL1Cache && t <= TypeL3ICache
}

// IsDCache reports whether t is a data or unified cache.
func (t ObjType) IsDCache() bool {
	return t >= TypeL1Cache && t <= TypeL5Cache
}

// IsICache reports whether t is an instruction cache.
func (t ObjType) IsICache() bool {
	return t >= TypeL1ICache && t <= TypeL3ICache
}

// CacheLevel returns 1 for L1 caches, 2 for L2 and so on, or 0 if t is not
// a CPU-side cache.
func (t ObjType) CacheLevel() int {
	switch {
	case t.IsDCache():
		return int(t-TypeL1Cache) + 1
	case t.IsICache():
		return int(t-TypeL1ICache) + 1
	default:
		return 0
	}
}

// SpecialDepth returns the reserved depth of a memory, I/O or Misc type.
func (t ObjType) SpecialDepth() (int, bool) {
	switch t {
	case TypeNUMANode:
		return DepthNUMANode, true
	case TypeMemCache:
		return DepthMemCache, true
	case TypeBridge:
		return DepthBridge, true
	case TypePCIDevice:
		return DepthPCIDevice, true
	case TypeOSDevice:
		return DepthOSDevice, true
	case TypeMisc:
		return DepthMisc, true
	default:
		return 0, false
	}
}

// TypeAtSpecialDepth is the inverse of SpecialDepth.
func TypeAtSpecialDepth(depth int) (ObjType, bool) {
	switch depth {
	case DepthNUMANode:
		return TypeNUMANode, true
	case DepthMemCache:
		return TypeMemCache, true
	case DepthBridge:
		return TypeBridge, true
	case DepthPCIDevice:
		return TypePCIDevice, true
	case DepthOSDevice:
		return TypeOSDevice, true
	case DepthMisc:
		return TypeMisc, true
	default:
		return 0, false
	}
}

// CacheType returns the data/unified cache type of the given level.
func CacheType(level int) (ObjType, bool) {
	if level < 1 || level > 5 {
		return 0, false
	}
	return TypeL1Cache + ObjType(level-1), true
}

// ICacheType returns the instruction cache type of the given level.
func ICacheType(level int) (ObjType, bool) {
	if level < 1 || level > 3 {
		return 0, false
	}
	return TypeL1ICache + ObjType(level-1), true
}

// CompareTypes reports how t1 and t2 usually nest: -1 if t1 contains t2, 0 if
// they are the same type and 1 if t1 is contained in t2. It returns
// TypeUnordered when no such relation exists. Group objects may appear at any
// level and are therefore only ordered against Machine and Group; memory, I/O
// and Misc types are only ordered against Machine and each other.
func CompareTypes(t1, t2 ObjType) int {
	if !t1.Valid() || !t2.Valid() {
		return TypeUnordered
	}
	if t1 == t2 {
		return 0
	}
	if t1 != TypeMachine && t2 != TypeMachine {
		if t1.IsNormal() != t2.IsNormal() {
			return TypeUnordered
		}
		if t1 == TypeGroup || t2 == TypeGroup {
			return TypeUnordered
		}
	}
	if typeRank[t1] < typeRank[t2] {
		return -1
	}
	return 1
}

var typeAliases = map[string]ObjType{
	"machine":    TypeMachine,
	"package":    TypePackage,
	"pack":       TypePackage,
	"socket":     TypePackage,
	"die":        TypeDie,
	"core":       TypeCore,
	"pu":         TypePU,
	"thread":     TypePU,
	"group":      TypeGroup,
	"numanode":   TypeNUMANode,
	"numa":       TypeNUMANode,
	"node":       TypeNUMANode,
	"memcache":   TypeMemCache,
	"bridge":     TypeBridge,
	"hostbridge": TypeBridge,
	"pcibridge":  TypeBridge,
	"pcidev":     TypePCIDevice,
	"pci":        TypePCIDevice,
	"osdev":      TypeOSDevice,
	"os":         TypeOSDevice,
	"misc":       TypeMisc,
}

// ParseObjType parses a type name case-insensitively. Besides the canonical
// names it accepts common aliases such as "socket", "node", "l2", "l1d" and
// "l1i".
func ParseObjType(s string) (ObjType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if t, ok := typeAliases[name]; ok {
		return t, nil
	}
	if t, ok := parseCacheName(name); ok {
		return t, nil
	}
	return 0, fmt.Errorf("unknown object type %q", s)
}

// parseCacheName accepts l<N>, l<N>d, l<N>i with an optional "cache" suffix.
func parseCacheName(name string) (ObjType, bool) {
	name = strings.TrimSuffix(name, "cache")
	if len(name) < 2 || name[0] != 'l' || name[1] < '1' || name[1] > '5' {
		return 0, false
	}
	level := int(name[1] - '0')
	switch name[2:] {
	case "", "d", "u":
		return CacheType(level)
	case "i":
		return ICacheType(level)
	default:
		return 0, false
	}
}

// Info is one entry of an object's free-form name/value dictionary.
type Info struct {
	Name  string `json:"name" yaml:"name"`
	Value string `json:"value" yaml:"value"`
}
