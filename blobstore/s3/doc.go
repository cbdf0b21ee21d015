// Package s3 provides an S3-compatible implementation of blobstore.BlobStore.
//
// # Usage
//
//	client := s3.NewFromConfig(cfg)
//	store := s3.NewStore(client, "my-bucket", "builds/site-a/")
//
// # Features
//
//   - Range reads for efficient partial chunk fetches
//   - Multipart uploads (via Create) for large cold chunk blobs
//   - Single-request Put for metadata, manifest, and base-chunk blobs
//   - Automatic pagination for listing
package s3
