// Package hwtopo discovers and queries the hardware topology of a machine.
//
// A Topology is a tree of objects (Machine, Package, caches, Core, PU, NUMA
// nodes, Groups, I/O devices and Misc objects) annotated with cpusets and
// nodesets, plus distance matrices, memory attributes and CPU kinds. It also
// binds threads and memory to parts of that tree.
//
// # Quick Start
//
// Discover the running machine:
//
//	ctx := context.Background()
//	topo, _ := hwtopo.FromThisSystem(ctx)
//	defer topo.Destroy()
//	fmt.Println(topo.NumPackages(), topo.NumCores(), topo.NumPUs())
//
// Or describe one without hardware:
//
//	topo, _ := hwtopo.FromSynthetic(ctx, "node:2 core:2 pu:2")
//
// # Lifecycle
//
// New returns a configuring topology; options set the discovery source,
// flags and type filters, and Load discovers it. The From* constructors do
// both. Destroy ends the topology: Objects and Distances obtained from it
// then report ErrUseAfterRelease instead of reading stale state.
//
//	topo, _ := hwtopo.New(hwtopo.WithIOTypesFilter(model.KeepImportant))
//	_ = topo.Load(ctx)
//
// # Queries
//
//	for core := range topo.ObjectsByType(model.TypeCore) {
//	    fmt.Println(core, core.CPUSet())
//	}
//	obj, ok := topo.ObjectCoveringCPUSet(bitmap.MustFromSequence(0, 1))
//
// # Binding
//
//	prev, _ := topo.CPUBinding(ctx, hwtopo.Self(), model.CPUBindThread)
//	_ = topo.SetCPUBinding(ctx, hwtopo.CPUs(0), hwtopo.Self(), model.CPUBindThread)
//	_ = topo.SetCPUBinding(ctx, hwtopo.Set(prev), hwtopo.Self(), model.CPUBindThread)
//
// Support reports which binding operations the backend implements, so
// callers can avoid ErrNotSupported.
//
// # Snapshots
//
// A topology exports to XML, to a synthetic description, or to a snapshot
// in a blobstore.Store (local directory, S3, MinIO), optionally as JSON and
// compressed with zstd or lz4:
//
//	_ = topo.SaveSnapshot(ctx, store, "node-a.json.zst")
//	restored, _ := hwtopo.FromSnapshot(ctx, store, "node-a.json.zst")
//
// # Concurrency
//
// Read-only queries on a loaded Topology are safe for concurrent use.
// Mutations (Restrict, InsertGroup, InsertMisc, distance commits, memory
// attribute updates, Destroy) require external synchronization.
package hwtopo
