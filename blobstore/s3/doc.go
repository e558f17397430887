// Package s3 stores topology snapshots in Amazon S3.
//
//	store, err := s3.New(ctx, "fleet-topologies", "hosts/")
//	if err != nil {
//	    return err
//	}
//	err = topo.SaveSnapshot(ctx, store, "node17.xml.zst")
//
// Small snapshots are written with a single PutObject carrying a CRC32C
// checksum; larger ones go through the multipart uploader. Reads use
// ranged GetObject requests.
package s3
