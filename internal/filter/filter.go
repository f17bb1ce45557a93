// Package filter classifies change records as staging candidates,
// irrelevant noise, or malformed entries. Classification is a pure
// function of the record payload so rules stay independently testable.
package filter

import (
	"encoding/json"
	"time"

	"github.com/registryops/harvester/internal/feed"
)

// Classification is the outcome of classifying one change record
type Classification int

const (
	// Irrelevant means the record is well-formed but not a library
	// type this pipeline stages
	Irrelevant Classification = iota

	// Malformed means the record payload failed required-field
	// validation; it is counted and skipped
	Malformed

	// Candidate means the record describes a package version to stage
	Candidate
)

// String returns the classification name
func (c Classification) String() string {
	switch c {
	case Irrelevant:
		return "irrelevant"
	case Malformed:
		return "malformed"
	case Candidate:
		return "candidate"
	default:
		return "unknown"
	}
}

// CandidateVersion carries the fields needed to stage and notify one
// relevant package version
type CandidateVersion struct {
	Seq         int64
	Name        string
	Version     string
	PublishedAt time.Time
	TarballURL  string
	Shasum      string
}

// Result is the outcome of one classification; Candidate is set only
// when Class is Candidate
type Result struct {
	Class     Classification
	Candidate CandidateVersion
	Reason    string
}

// Filter applies the configured relevance rules
type Filter struct {
	keywords     map[string]struct{}
	metadataFlag string
}

// New creates a Filter. A version is a candidate when it carries any of
// the given keywords, or when metadataFlag names a top-level manifest
// field that is present.
func New(keywords []string, metadataFlag string) *Filter {
	kw := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		kw[k] = struct{}{}
	}
	return &Filter{
		keywords:     kw,
		metadataFlag: metadataFlag,
	}
}

// manifest is the subset of a version manifest the rules inspect
type manifest struct {
	Name     string   `json:"name"`
	Version  string   `json:"version"`
	Keywords []string `json:"keywords"`
	Dist     struct {
		Tarball string `json:"tarball"`
		Shasum  string `json:"shasum"`
	} `json:"dist"`
}

// Classify classifies one change record. It never panics or returns an
// error; anything that cannot be validated is Malformed.
func (f *Filter) Classify(record feed.ChangeRecord) Result {
	if record.Name == "" || record.Version == "" {
		return Result{Class: Malformed, Reason: "missing package name or version"}
	}
	if len(record.Payload) == 0 {
		return Result{Class: Malformed, Reason: "empty payload"}
	}

	var m manifest
	if err := json.Unmarshal(record.Payload, &m); err != nil {
		return Result{Class: Malformed, Reason: "unparseable version manifest"}
	}
	if m.Dist.Tarball == "" {
		return Result{Class: Malformed, Reason: "missing dist tarball location"}
	}

	if !f.relevant(&m, record.Payload) {
		return Result{Class: Irrelevant, Reason: "no recognized library-type marker"}
	}

	return Result{
		Class: Candidate,
		Candidate: CandidateVersion{
			Seq:         record.Seq,
			Name:        record.Name,
			Version:     record.Version,
			PublishedAt: record.PublishedAt,
			TarballURL:  m.Dist.Tarball,
			Shasum:      m.Dist.Shasum,
		},
	}
}

// relevant checks the keyword list and the metadata flag field
func (f *Filter) relevant(m *manifest, payload json.RawMessage) bool {
	for _, kw := range m.Keywords {
		if _, ok := f.keywords[kw]; ok {
			return true
		}
	}

	if f.metadataFlag == "" {
		return false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return false
	}
	_, ok := fields[f.metadataFlag]
	return ok
}
