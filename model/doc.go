// Package model defines the closed vocabulary shared by every hwtopo package.
//
// # Object Types
//
//   - ObjType: Machine, Package, Die, Core, PU, the data/unified caches L1-L5,
//     the instruction caches L1i-L3i, Group, NUMANode, MemCache, Bridge,
//     PCIDevice, OSDevice and Misc
//   - Normal types form the main tree and are numbered by depth
//   - Memory, I/O and Misc types live at reserved negative depths
//     (DepthNUMANode, DepthBridge, ...)
//
// # Attributes
//
// Attr is a sealed sum type. The concrete payloads are NUMANodeAttr,
// CacheAttr, GroupAttr, PCIDeviceAttr, BridgeAttr and OSDeviceAttr; objects of
// other types carry no attribute. Inspect them with a type switch:
//
//	switch a := attr.(type) {
//	case model.CacheAttr:
//	    fmt.Println(a.Size)
//	case model.NUMANodeAttr:
//	    fmt.Println(a.LocalMemory)
//	}
//
// # Flags
//
// Flag sets mirror the topology API: TopologyFlags, TypeFilter, RestrictFlags,
// export flags, distance kinds and transforms, memory attribute flags and the
// CPU and memory binding flags and policies.
package model
