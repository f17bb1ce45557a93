package scanner

import "time"

// Stop reasons recorded on a run report
const (
	// StopReasonExhausted means the feed had no more records
	StopReasonExhausted = "exhausted"

	// StopReasonBudget means the time budget forced a clean early stop
	StopReasonBudget = "budget"

	// StopReasonError means the run aborted; the marker reflects the
	// last fully committed batch
	StopReasonError = "error"
)

// Report summarizes one scanner run
type Report struct {
	// RunID uniquely identifies the run
	RunID string `json:"runId"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`

	// StartMarker and EndMarker bracket the feed positions this run
	// covered; EndMarker is the persisted checkpoint at exit
	StartMarker int64 `json:"startMarker"`
	EndMarker   int64 `json:"endMarker"`

	// Batches is the number of fully committed batches
	Batches int `json:"batches"`

	// Changes counts all change records read from the feed
	Changes int64 `json:"changes"`

	// PackageVersions counts well-formed package versions inspected
	PackageVersions int64 `json:"packageVersions"`

	// Relevant counts versions that passed the relevance filter
	Relevant int64 `json:"relevant"`

	// Unprocessable counts malformed records skipped
	Unprocessable int64 `json:"unprocessable"`

	// StagingFailures counts candidates whose staging failed
	StagingFailures int64 `json:"stagingFailures"`

	// Staged counts artifacts written to storage
	Staged int64 `json:"staged"`

	// Notified counts notifications accepted by the queue
	Notified int64 `json:"notified"`

	// OldestPublishedAt is the publication time of the oldest package
	// version processed, if any carried one
	OldestPublishedAt *time.Time `json:"oldestPublishedAt,omitempty"`

	// Remaining is the time budget left when the run exited
	Remaining time.Duration `json:"remaining"`

	// StopReason records why the run ended
	StopReason string `json:"stopReason"`
}
