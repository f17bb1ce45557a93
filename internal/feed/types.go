// Package feed reads ordered change records from the registry replica's
// append-only change feed.
package feed

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeRecord is one package-version entry derived from the change feed.
// Records are immutable once read. Name, Version, and PublishedAt are
// extracted best-effort; the relevance filter owns required-field
// validation of the payload.
type ChangeRecord struct {
	// Seq is the feed position of this record; monotonically increasing
	Seq int64

	// Name is the package name reported by the feed row
	Name string

	// Version is the package version the row describes (the latest
	// dist-tag at change time), empty if the document did not carry one
	Version string

	// PublishedAt is the upstream publication time of Version, zero if
	// the document did not carry one
	PublishedAt time.Time

	// Payload is the raw version manifest, or the whole package
	// document when no version manifest could be located
	Payload json.RawMessage
}

// Batch is one contiguous slice of change records
type Batch struct {
	// Records are ordered by Seq ascending
	Records []ChangeRecord

	// LastSeq is the feed position after this batch; equal to the
	// requested position when the feed had nothing new
	LastSeq int64
}

// FatalError is a non-transient feed failure. It aborts the current run;
// the marker from the last committed batch is already durable.
type FatalError struct {
	URL    string
	Reason string
	Err    error
}

// Error returns the error message
func (e *FatalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fatal feed error at %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("fatal feed error at %s: %s", e.URL, e.Reason)
}

// Unwrap returns the underlying error
func (e *FatalError) Unwrap() error {
	return e.Err
}
