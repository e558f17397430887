// Package blobstore stores topology snapshots.
//
// A [Store] holds immutable, named blobs. Built-in implementations:
//
//   - [MemoryStore]: in-process, for tests and hand-off between topologies
//   - [LocalStore]: files below a directory, written atomically
//   - s3.Store: Amazon S3 (package blobstore/s3)
//   - minio.Store: MinIO and other S3-compatible servers (package blobstore/minio)
//
// Two wrappers compose with any Store: [Throttled] caps transfer bandwidth
// and [CachingStore] keeps recently read blobs in memory.
//
//	store := blobstore.NewCachingStore(s3store, 8<<20)
//	err := topo.SaveSnapshot(ctx, store, "hosts/node17.xml.zst")
package blobstore
