// Package s3 implements blobstore.BlobStore against S3-compatible object
// storage — the cold-tier endpoint a build typically points at when chunks
// outlive the machine that wrote them.
package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/hupe1980/ept/blobstore"
)

// errClientDoesNotSupportUpload is returned by Create when the configured
// Client is a test double that doesn't also implement the multipart upload
// API — Put still works against such a double, only streaming Create does not.
var errClientDoesNotSupportUpload = errors.New("s3: client does not support multipart upload")

// Store implements blobstore.BlobStore for S3.
type Store struct {
	client Client
	bucket string
	prefix string
}

// NewStore creates an S3 blob store. rootPrefix is prepended to every key,
// e.g. "my-build/" so a bucket can host more than one build's output.
func NewStore(client Client, bucket, rootPrefix string) *Store {
	return &Store{client: client, bucket: bucket, prefix: rootPrefix}
}

func (s *Store) key(name string) string {
	return path.Join(s.prefix, name)
}

// Open opens a chunk blob for reading.
func (s *Store) Open(ctx context.Context, name string) (blobstore.Blob, error) {
	return openBlob(ctx, s.client, s.bucket, s.key(name))
}

// Put writes a chunk blob in a single request — the path endpoint builders
// use for metadata, manifest, and base-chunk blobs, all of which are
// produced whole in memory before being written.
func (s *Store) Put(ctx context.Context, name string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
		Body:   bytes.NewReader(data),
	})
	return err
}

// Create opens a streaming multipart upload, for cold chunk blobs large
// enough that buffering them whole before Put would be wasteful.
func (s *Store) Create(ctx context.Context, name string) (blobstore.WritableBlob, error) {
	key := s.key(name)
	pr, pw := io.Pipe()

	client, ok := s.client.(manager.UploadAPIClient)
	if !ok {
		return nil, errClientDoesNotSupportUpload
	}

	b := &writableBlob{
		pw:       pw,
		done:     make(chan error, 1),
		uploader: manager.NewUploader(client),
	}

	go func() {
		_, err := b.uploader.Upload(context.Background(), &s3.PutObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
			Body:   pr,
		})
		_ = pr.CloseWithError(err)
		b.done <- err
	}()

	return b, nil
}

// Delete removes a chunk blob.
func (s *Store) Delete(ctx context.Context, name string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	return err
}

// List returns every blob name under prefix, relative to the store's root.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	return listObjects(ctx, s.client, s.bucket, s.key(prefix), s.prefix)
}
