package storage

import (
	"context"
	"fmt"
)

const (
	// BackendS3 stores objects in an S3 bucket
	BackendS3 = "s3"

	// BackendFile stores objects on the local filesystem
	BackendFile = "file"

	// BackendMemory stores objects in process memory (tests, dry runs)
	BackendMemory = "memory"
)

// NewObjectStore creates an ObjectStore for the configured backend.
// bucket is the S3 bucket name for the s3 backend and the root directory
// for the file backend.
func NewObjectStore(ctx context.Context, backend, bucket string) (ObjectStore, error) {
	switch backend {
	case BackendS3:
		return NewS3Store(ctx, bucket)
	case BackendFile:
		return NewFileStore(bucket)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %q", backend)
	}
}
