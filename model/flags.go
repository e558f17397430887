package model

import "fmt"

// TopologyFlags configure discovery.
type TopologyFlags uint64

const (
	// FlagIncludeDisallowed keeps objects the process is not allowed to use.
	FlagIncludeDisallowed TopologyFlags = 1 << iota
	// FlagIsThisSystem asserts that an imported topology describes the running system.
	FlagIsThisSystem
	// FlagThisSystemAllowedResources takes the allowed sets from the running system.
	FlagThisSystemAllowedResources
	FlagImportSupport
	FlagRestrictToCPUBinding
	FlagRestrictToMemBinding
	FlagDontChangeBinding
	FlagNoDistances
	FlagNoMemAttrs
	FlagNoCPUKinds

	allTopologyFlags = FlagNoCPUKinds<<1 - 1
)

// Valid reports whether f contains only known bits.
func (f TopologyFlags) Valid() bool { return f&^allTopologyFlags == 0 }

// TypeFilter controls which objects of a type survive discovery.
type TypeFilter int

const (
	KeepAll TypeFilter = iota
	KeepNone
	// KeepStructure drops objects that do not bring any hierarchy: single
	// children and objects with the same sets as their parent.
	KeepStructure
	// KeepImportant keeps only I/O objects that matter (GPUs, NICs, storage
	// and the bridges leading to them).
	KeepImportant
)

func (f TypeFilter) String() string {
	switch f {
	case KeepAll:
		return "all"
	case KeepNone:
		return "none"
	case KeepStructure:
		return "structure"
	case KeepImportant:
		return "important"
	default:
		return fmt.Sprintf("TypeFilter(%d)", int(f))
	}
}

// ParseTypeFilter parses the names printed by TypeFilter.String.
func ParseTypeFilter(s string) (TypeFilter, error) {
	switch s {
	case "all":
		return KeepAll, nil
	case "none":
		return KeepNone, nil
	case "structure":
		return KeepStructure, nil
	case "important":
		return KeepImportant, nil
	default:
		return 0, fmt.Errorf("unknown type filter %q", s)
	}
}

// DefaultTypeFilter returns the filter applied to t when none was configured.
func DefaultTypeFilter(t ObjType) TypeFilter {
	switch {
	case t.IsICache(), t == TypeMemCache, t.IsIO():
		return KeepNone
	case t == TypeGroup:
		return KeepStructure
	default:
		return KeepAll
	}
}

// FilterIsFixed reports whether the filter of t cannot be changed.
func FilterIsFixed(t ObjType) bool {
	return t == TypeMachine || t == TypePU || t == TypeNUMANode
}

// RestrictFlags modify Topology.Restrict.
type RestrictFlags uint

const (
	RestrictRemoveCPULess RestrictFlags = 1 << iota
	RestrictAdaptMisc
	RestrictAdaptIO
	RestrictByNodeSet
	RestrictRemoveMemLess
)

// ExportXMLFlags modify XML export.
type ExportXMLFlags uint

const (
	// ExportXMLV1 requests the legacy layout, which is not produced.
	ExportXMLV1 ExportXMLFlags = 1 << iota
)

// ExportSyntheticFlags modify synthetic export.
type ExportSyntheticFlags uint

const (
	// ExportSyntheticNoExtendedTypes writes plain "Cache" and "Group" names.
	ExportSyntheticNoExtendedTypes ExportSyntheticFlags = 1 << iota
	ExportSyntheticNoAttrs
	// ExportSyntheticV1 writes NUMA nodes as a regular level.
	ExportSyntheticV1
	ExportSyntheticIgnoreMemory
)

// DistancesKind describes the origin and meaning of a distance matrix.
type DistancesKind uint

const (
	DistancesFromOS DistancesKind = 1 << iota
	DistancesFromUser
	DistancesMeansLatency
	DistancesMeansBandwidth
	DistancesHeterogeneousTypes
	DistancesMeansHops

	distancesFrom    = DistancesFromOS | DistancesFromUser
	distancesMeaning = DistancesMeansLatency | DistancesMeansBandwidth | DistancesMeansHops
	allDistancesKind = distancesFrom | distancesMeaning | DistancesHeterogeneousTypes
)

// Valid reports whether k names exactly one origin and one meaning.
func (k DistancesKind) Valid() bool {
	return k&^allDistancesKind == 0 && exactlyOne(uint(k&distancesFrom)) && exactlyOne(uint(k&distancesMeaning))
}

// Matches reports whether k satisfies a lookup filter. Within each of the
// origin and meaning groups an empty filter matches everything.
func (k DistancesKind) Matches(filter DistancesKind) bool {
	if f := filter & distancesFrom; f != 0 && k&f == 0 {
		return false
	}
	if f := filter & distancesMeaning; f != 0 && k&f == 0 {
		return false
	}
	if filter&DistancesHeterogeneousTypes != 0 && k&DistancesHeterogeneousTypes == 0 {
		return false
	}
	return true
}

func (k DistancesKind) String() string {
	names := []string{"FromOS", "FromUser", "Latency", "Bandwidth", "Heterogeneous", "Hops"}
	s := ""
	for i, n := range names {
		if k&(1<<i) != 0 {
			if s != "" {
				s += "|"
			}
			s += n
		}
	}
	if s == "" {
		return "None"
	}
	return s
}

func exactlyOne(v uint) bool { return v != 0 && v&(v-1) == 0 }

// DistancesAddFlags modify the commit of a new distance matrix.
type DistancesAddFlags uint

const (
	// DistancesAddGroup groups objects that are close to each other.
	DistancesAddGroup DistancesAddFlags = 1 << iota
	// DistancesAddGroupInaccurate tolerates small variations when grouping.
	DistancesAddGroupInaccurate
)

// DistancesTransform is an in-place transformation of a distance matrix.
type DistancesTransform int

const (
	TransformRemoveNull DistancesTransform = iota
	TransformLinks
	TransformMergeSwitchPorts
	TransformTransitiveClosure
)

// MemAttrID identifies a memory attribute.
type MemAttrID uint

const (
	MemAttrCapacity MemAttrID = iota
	MemAttrLocality
	MemAttrBandwidth
	MemAttrLatency
	MemAttrReadBandwidth
	MemAttrWriteBandwidth
	MemAttrReadLatency
	MemAttrWriteLatency

	// NumBuiltinMemAttrs is the first id available to registered attributes.
	NumBuiltinMemAttrs = int(MemAttrWriteLatency) + 1
)

// MemAttrFlags describe a memory attribute.
type MemAttrFlags uint

const (
	MemAttrHigherFirst MemAttrFlags = 1 << iota
	MemAttrLowerFirst
	MemAttrNeedInitiator
)

// Valid reports whether exactly one direction is set and no unknown bit is.
func (f MemAttrFlags) Valid() bool {
	if f&^(MemAttrHigherFirst|MemAttrLowerFirst|MemAttrNeedInitiator) != 0 {
		return false
	}
	return exactlyOne(uint(f & (MemAttrHigherFirst | MemAttrLowerFirst)))
}

// LocalNUMANodeFlags select which NUMA nodes count as local to an initiator.
type LocalNUMANodeFlags uint

const (
	LocalNUMANodeLargerLocality LocalNUMANodeFlags = 1 << iota
	LocalNUMANodeSmallerLocality
	LocalNUMANodeAll
	LocalNUMANodeIntersectLocality
)

// CPUBindFlags modify CPU binding.
type CPUBindFlags uint

const (
	CPUBindProcess CPUBindFlags = 1 << iota
	CPUBindThread
	CPUBindStrict
	CPUBindNoMemBind
)

// MemBindPolicy is a memory placement policy.
type MemBindPolicy int

const (
	MemBindDefault MemBindPolicy = iota
	MemBindFirstTouch
	MemBindBind
	MemBindInterleave
	MemBindWeightedInterleave
	MemBindNextTouch

	// MemBindMixed is reported when threads or pages disagree.
	MemBindMixed MemBindPolicy = -1
)

func (p MemBindPolicy) String() string {
	switch p {
	case MemBindDefault:
		return "default"
	case MemBindFirstTouch:
		return "firsttouch"
	case MemBindBind:
		return "bind"
	case MemBindInterleave:
		return "interleave"
	case MemBindWeightedInterleave:
		return "weighted-interleave"
	case MemBindNextTouch:
		return "nexttouch"
	case MemBindMixed:
		return "mixed"
	default:
		return fmt.Sprintf("MemBindPolicy(%d)", int(p))
	}
}

// MemBindFlags modify memory binding.
type MemBindFlags uint

const (
	MemBindProcess MemBindFlags = 1 << iota
	MemBindThread
	MemBindStrict
	MemBindMigrate
	MemBindNoCPUBind
	// MemBindByNodeSet interprets the target set as a nodeset.
	MemBindByNodeSet
)

// DistribFlags modify Topology.Distribute.
type DistribFlags uint

const (
	// DistribReverse distributes from the last objects first.
	DistribReverse DistribFlags = 1 << iota
)
