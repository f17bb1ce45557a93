package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/registryops/harvester/internal/httpclient"
)

const (
	// maxFetchAttempts bounds transient-error retries for one page fetch
	maxFetchAttempts = 4

	// initialBackoff is the first retry delay for transient fetch errors
	initialBackoff = 500 * time.Millisecond
)

// Reader pulls ordered batches of change records from the replica feed
type Reader interface {
	// Read returns the next contiguous batch of records with
	// Seq > position, or an empty batch if none are available yet.
	// Transient errors are retried with bounded backoff; a returned
	// error is fatal for the current run.
	Read(ctx context.Context, position int64, maxBatch int) (Batch, error)
}

// httpReader is the default Reader over the replica's _changes endpoint
type httpReader struct {
	client     httpclient.Client
	replicaURL string
}

// NewReader creates a Reader for the replica at baseURL
func NewReader(client httpclient.Client, baseURL string) Reader {
	return &httpReader{
		client:     client,
		replicaURL: baseURL,
	}
}

// changesResponse mirrors the replica's _changes page shape
type changesResponse struct {
	Results []changeRow `json:"results"`
	LastSeq int64       `json:"last_seq"`
}

// changeRow is one feed row; Doc is the full package document
type changeRow struct {
	Seq     int64           `json:"seq"`
	ID      string          `json:"id"`
	Deleted bool            `json:"deleted,omitempty"`
	Doc     json.RawMessage `json:"doc,omitempty"`
}

// packageDocument is the subset of the package document needed to
// locate the changed version
type packageDocument struct {
	Name     string                     `json:"name"`
	DistTags map[string]string          `json:"dist-tags"`
	Versions map[string]json.RawMessage `json:"versions"`
	Time     map[string]string          `json:"time"`
}

func (r *httpReader) Read(ctx context.Context, position int64, maxBatch int) (Batch, error) {
	pageURL := r.changesURL(position, maxBatch)

	body, err := r.fetch(ctx, pageURL)
	if err != nil {
		return Batch{}, err
	}

	var page changesResponse
	if err := json.Unmarshal(body, &page); err != nil {
		return Batch{}, &FatalError{URL: pageURL, Reason: "malformed feed page", Err: err}
	}

	batch := Batch{LastSeq: position}
	for _, row := range page.Results {
		if row.Deleted {
			continue
		}
		record := recordFromRow(row)
		batch.Records = append(batch.Records, record)
		if record.Seq > batch.LastSeq {
			batch.LastSeq = record.Seq
		}
	}
	if page.LastSeq > batch.LastSeq && len(page.Results) > 0 {
		batch.LastSeq = page.LastSeq
	}

	return batch, nil
}

// fetch retrieves one feed page, retrying transient failures with
// exponential backoff
func (r *httpReader) fetch(ctx context.Context, pageURL string) ([]byte, error) {
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = initialBackoff

	body, err := backoff.Retry(ctx, func() ([]byte, error) {
		data, err := r.client.Get(ctx, pageURL)
		if err == nil {
			return data, nil
		}
		if isTransient(err) {
			slog.Debug("Transient feed error, retrying", "url", pageURL, "error", err)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}, backoff.WithBackOff(expo), backoff.WithMaxTries(maxFetchAttempts))
	if err != nil {
		return nil, &FatalError{URL: pageURL, Reason: "feed fetch failed", Err: err}
	}
	return body, nil
}

// isTransient reports whether a fetch error is worth retrying.
// Server-side errors and throttling are transient; client errors are not.
func isTransient(err error) bool {
	var httpErr *httpclient.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode >= 500 || httpErr.StatusCode == http.StatusTooManyRequests
	}
	// Network-level failures (timeouts, resets) surface as plain errors
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func (r *httpReader) changesURL(position int64, maxBatch int) string {
	params := url.Values{}
	params.Set("since", strconv.FormatInt(position, 10))
	params.Set("limit", strconv.Itoa(maxBatch))
	params.Set("include_docs", "true")
	return fmt.Sprintf("%s/_changes?%s", r.replicaURL, params.Encode())
}

// recordFromRow extracts the changed package version from one feed row.
// Extraction is best-effort: rows whose document cannot be interpreted
// still become records so the relevance filter can count them as
// unprocessable rather than halting the run.
func recordFromRow(row changeRow) ChangeRecord {
	record := ChangeRecord{
		Seq:     row.Seq,
		Name:    row.ID,
		Payload: row.Doc,
	}

	var doc packageDocument
	if err := json.Unmarshal(row.Doc, &doc); err != nil {
		return record
	}
	if doc.Name != "" {
		record.Name = doc.Name
	}

	version := doc.DistTags["latest"]
	if version == "" {
		return record
	}
	record.Version = version

	if manifest, ok := doc.Versions[version]; ok {
		record.Payload = manifest
	}
	if published, ok := doc.Time[version]; ok {
		if ts, err := time.Parse(time.RFC3339, published); err == nil {
			record.PublishedAt = ts
		}
	}

	return record
}
