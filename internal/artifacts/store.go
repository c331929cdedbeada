// Package artifacts holds the build artifacts shared between the production
// build orchestrator and the development request interceptor: the client
// asset manifest and the HTML template. Both live in a Store owned by a
// single plugin instance, so independent instances (and tests) never
// interfere with each other.
package artifacts

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Manifest maps a build-emitted module identifier to the ordered list of
// asset paths (stylesheets, preload targets) the client build produced for
// it. Absent entries simply yield no assets.
type Manifest map[string][]string

// ParseManifest decodes a manifest from its JSON representation.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return m, nil
}

// MarshalIndent serializes the manifest as pretty-printed JSON. A nil
// manifest serializes as an empty object so consumers always receive valid
// JSON.
func (m Manifest) MarshalIndent() ([]byte, error) {
	if m == nil {
		m = Manifest{}
	}
	return json.MarshalIndent(m, "", "  ")
}

// Clone returns a deep copy of the manifest.
func (m Manifest) Clone() Manifest {
	if m == nil {
		return nil
	}
	clone := make(Manifest, len(m))
	for k, v := range m {
		assets := make([]string, len(v))
		copy(assets, v)
		clone[k] = assets
	}
	return clone
}

// Store holds the current Manifest and Template values.
//
// Invariants:
//   - The manifest is populated once per production build and may be
//     replaced wholesale by a user transform; it stays empty in development
//     unless explicitly supplied.
//   - The template is overwritten fresh per development request; readers
//     observe the last-seen value. Concurrent requests hold their own copy
//     for rendering, so the shared value only feeds virtual-module reads.
type Store struct {
	mu       sync.RWMutex
	manifest Manifest
	template string
}

// NewStore creates an empty artifact store.
func NewStore() *Store {
	return &Store{}
}

// Manifest returns the current manifest. The returned map must be treated
// as read-only; transforms that want to change it replace it through
// SetManifest.
func (s *Store) Manifest() Manifest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manifest
}

// SetManifest replaces the current manifest.
func (s *Store) SetManifest(m Manifest) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.manifest = m
}

// Template returns the current HTML template source.
func (s *Store) Template() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.template
}

// SetTemplate replaces the current HTML template source.
func (s *Store) SetTemplate(t string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.template = t
}
