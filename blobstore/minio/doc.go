// Package minio stores topology snapshots in MinIO or any S3-compatible
// server (Ceph, Garage, SeaweedFS) using the MinIO client.
//
//	client, err := minio.New("minio.internal:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
//	    Secure: true,
//	})
//	if err != nil {
//	    return err
//	}
//	store := minioblob.NewStore(client, "topologies", "rack-4/")
package minio
