// Package notify emits one queue message per staged package version for
// downstream ingestion. Delivery is at-least-once; consumers must
// tolerate duplicate notifications for the same package version.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/registryops/harvester/internal/queue"
	"github.com/registryops/harvester/internal/stage"
)

// DeliveryError means the queue rejected a notification. The run aborts
// so the unadvanced marker re-delivers the record next run.
type DeliveryError struct {
	Name    string
	Version string
	Err     error
}

// Error returns the error message
func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notification for %s@%s rejected: %v", e.Name, e.Version, e.Err)
}

// Unwrap returns the underlying error
func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// Notification is the message payload sent to the queue
type Notification struct {
	// Name and Version identify the package version
	Name    string `json:"name"`
	Version string `json:"version"`

	// Bucket and Key reference the staged tarball
	Bucket string `json:"bucket"`
	Key    string `json:"key"`

	// Size is the staged object size in bytes
	Size int64 `json:"size"`

	// PublishedAt is the upstream publication time, if known
	PublishedAt *time.Time `json:"publishedAt,omitempty"`

	// RunID identifies the scanner run that staged the artifact
	RunID string `json:"runId,omitempty"`
}

// Notifier sends staged-artifact notifications
type Notifier interface {
	// Notify enqueues exactly one message for the artifact. An error
	// is a DeliveryError and is fatal for the current run.
	Notify(ctx context.Context, artifact stage.StagedArtifact, runID string) error
}

// defaultNotifier is the default implementation of Notifier
type defaultNotifier struct {
	queue  queue.Queue
	bucket string
}

// New creates a Notifier referencing staged objects in bucket
func New(q queue.Queue, bucket string) Notifier {
	return &defaultNotifier{
		queue:  q,
		bucket: bucket,
	}
}

func (n *defaultNotifier) Notify(ctx context.Context, artifact stage.StagedArtifact, runID string) error {
	notification := Notification{
		Name:    artifact.Name,
		Version: artifact.Version,
		Bucket:  n.bucket,
		Key:     artifact.Key,
		Size:    artifact.Size,
		RunID:   runID,
	}
	if !artifact.PublishedAt.IsZero() {
		published := artifact.PublishedAt
		notification.PublishedAt = &published
	}

	body, err := json.Marshal(notification)
	if err != nil {
		return &DeliveryError{Name: artifact.Name, Version: artifact.Version, Err: err}
	}

	msg := queue.Message{
		Body: string(body),
		Attributes: map[string]string{
			"package": artifact.Name,
			"version": artifact.Version,
		},
	}
	if err := n.queue.Send(ctx, msg); err != nil {
		return &DeliveryError{Name: artifact.Name, Version: artifact.Version, Err: err}
	}
	return nil
}
