package canary

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/registryops/harvester/internal/storage"
)

// Phase is where the tracked version sits in its journey from upstream
// publish to catalog visibility.
type Phase string

const (
	// PhaseNotYetPublished means no synthetic version is being tracked
	PhaseNotYetPublished Phase = "not-yet-published"

	// PhasePublishedUpstream means the version exists upstream but has
	// not been observed in the replica feed
	PhasePublishedUpstream Phase = "published-upstream"

	// PhaseVisibleInReplica means the version has been observed in the
	// replica but not yet in the catalog
	PhaseVisibleInReplica Phase = "visible-in-replica"

	// PhaseVisibleInCatalog means the version completed its journey and
	// is ready to be retired
	PhaseVisibleInCatalog Phase = "visible-in-catalog"
)

// StateSuffix is appended to the tracked package name to form the
// persisted state object key.
const StateSuffix = ".state.json"

// State is the persisted probe state for one tracked version. It lives
// in object storage so consecutive scheduled ticks can measure elapsed
// time across cold starts.
type State struct {
	// PackageName and Version identify the tracked synthetic version
	PackageName string `json:"packageName"`
	Version     string `json:"version"`

	// Phase is the furthest phase the version has reached
	Phase Phase `json:"phase"`

	// PublishedUpstreamAt is the upstream publish timestamp reported by
	// the registry's time map
	PublishedUpstreamAt time.Time `json:"publishedUpstreamAt"`

	// FirstSeenReplicaAt and FirstSeenCatalogAt are set once, on the
	// tick that first observed the version in each place
	FirstSeenReplicaAt *time.Time `json:"firstSeenReplicaAt,omitempty"`
	FirstSeenCatalogAt *time.Time `json:"firstSeenCatalogAt,omitempty"`

	// UpdatedAt is when this state was last written
	UpdatedAt time.Time `json:"updatedAt"`
}

// StateStore persists canary probe state between ticks
type StateStore interface {
	// Load returns the persisted state. ok is false when no state
	// object exists yet.
	Load(ctx context.Context) (state State, ok bool, err error)

	// Save writes the state, replacing any previous one
	Save(ctx context.Context, state State) error
}

// objectStateStore keeps the state as one small JSON object
type objectStateStore struct {
	store storage.ObjectStore
	key   string
}

// NewStateStore creates a StateStore keyed by prefix and package name
func NewStateStore(store storage.ObjectStore, prefix, packageName string) StateStore {
	return &objectStateStore{
		store: store,
		key:   prefix + packageName + StateSuffix,
	}
}

func (s *objectStateStore) Load(ctx context.Context) (State, bool, error) {
	data, err := s.store.Get(ctx, s.key)
	if err != nil {
		if storage.IsNotFound(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("failed to load canary state %s: %w", s.key, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, false, fmt.Errorf("failed to parse canary state %s: %w", s.key, err)
	}
	return state, true, nil
}

func (s *objectStateStore) Save(ctx context.Context, state State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode canary state: %w", err)
	}
	if err := s.store.Put(ctx, s.key, data, "application/json"); err != nil {
		return fmt.Errorf("failed to save canary state %s: %w", s.key, err)
	}
	return nil
}
