// Package storage provides durable object storage for staged artifacts,
// the scan checkpoint, and canary state.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when the requested object does not exist
var ErrNotFound = errors.New("object not found")

// ObjectStore defines the interface for key-addressed blob storage
type ObjectStore interface {
	// Get returns the object stored under key, or ErrNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key, overwriting any existing object
	Put(ctx context.Context, key string, data []byte, contentType string) error

	// Delete removes the object under key. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}

// IsNotFound reports whether err means the object does not exist
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
