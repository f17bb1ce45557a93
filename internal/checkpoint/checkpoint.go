// Package checkpoint persists the feed marker: the last position whose
// downstream effects are fully committed. The scanner is the single
// writer; concurrency control is the external invocation policy.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/registryops/harvester/internal/storage"
)

// Marker is the last fully processed feed sequence
type Marker struct {
	// Sequence is the feed position; every record at or below it has
	// been staged or deliberately skipped
	Sequence int64 `json:"sequence"`

	// UpdatedAt is when the marker was last persisted
	UpdatedAt time.Time `json:"updatedAt"`
}

// Error wraps a checkpoint I/O failure. It aborts the run with no
// progress claimed.
type Error struct {
	Op  string
	Err error
}

// Error returns the error message
func (e *Error) Error() string {
	return fmt.Sprintf("checkpoint %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Store loads and saves the feed marker
type Store interface {
	// Load returns the persisted marker. ok is false on the first-ever
	// run, meaning "start from the feed's earliest retained position".
	Load(ctx context.Context) (marker Marker, ok bool, err error)

	// Save durably persists the marker. It must not return success
	// until the write is durable.
	Save(ctx context.Context, marker Marker) error
}

// objectStore persists the marker as a single JSON object
type objectStore struct {
	store storage.ObjectStore
	key   string
}

// NewStore creates a Store writing to the given object key
func NewStore(store storage.ObjectStore, key string) Store {
	return &objectStore{
		store: store,
		key:   key,
	}
}

func (s *objectStore) Load(ctx context.Context) (Marker, bool, error) {
	data, err := s.store.Get(ctx, s.key)
	if err != nil {
		if storage.IsNotFound(err) {
			return Marker{}, false, nil
		}
		return Marker{}, false, &Error{Op: "load", Err: err}
	}

	var marker Marker
	if err := json.Unmarshal(data, &marker); err != nil {
		return Marker{}, false, &Error{Op: "load", Err: fmt.Errorf("corrupt marker object: %w", err)}
	}
	return marker, true, nil
}

func (s *objectStore) Save(ctx context.Context, marker Marker) error {
	data, err := json.Marshal(marker)
	if err != nil {
		return &Error{Op: "save", Err: err}
	}
	if err := s.store.Put(ctx, s.key, data, "application/json"); err != nil {
		return &Error{Op: "save", Err: err}
	}
	return nil
}
