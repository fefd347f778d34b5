// Package association holds the canonical GCP-to-image tag records.
package association

import (
	"fmt"
	"sync"

	"gcp-tagger/internal/gcp"
)

// Store owns the set of associations. At most one association exists per
// (gcp, image) pair. All methods are safe for concurrent use and each call is
// atomic: no caller observes a partially applied replace.
type Store struct {
	mu    sync.RWMutex
	items []gcp.Association
}

// NewStore creates an empty association store.
func NewStore() *Store {
	return &Store{}
}

// Load replaces the whole content of the store, e.g. after a project is opened.
func (s *Store) Load(list []gcp.Association) error {
	if err := checkUnique(list); err != nil {
		return err
	}
	items := append([]gcp.Association(nil), list...)

	s.mu.Lock()
	s.items = items
	s.mu.Unlock()
	return nil
}

// All returns every association in insertion order.
func (s *Store) All() []gcp.Association {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]gcp.Association(nil), s.items...)
}

// Len returns the number of stored associations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// ListForGCP returns all associations for a GCP, across images.
func (s *Store) ListForGCP(gcpName string) []gcp.Association {
	return s.filter(func(a gcp.Association) bool { return a.GCPName == gcpName })
}

// ListForImage returns all associations on an image, across GCPs.
func (s *Store) ListForImage(imgName string) []gcp.Association {
	return s.filter(func(a gcp.Association) bool { return a.ImageName == imgName })
}

// Get returns the association for a (gcp, image) pair.
func (s *Store) Get(gcpName, imgName string) (gcp.Association, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.items {
		if a.GCPName == gcpName && a.ImageName == imgName {
			return a, nil
		}
	}
	return gcp.Association{}, fmt.Errorf("association %s/%s: %w", gcpName, imgName, gcp.ErrNotFound)
}

// ReplaceForGCP removes every association of gcpName and inserts list in its
// place. It is a full replace: images absent from list lose their tag.
// Every entry must belong to gcpName. Entries for the same image collapse into
// one: the last value wins, at the position of the first.
func (s *Store) ReplaceForGCP(gcpName string, list []gcp.Association) error {
	for _, a := range list {
		if a.GCPName != gcpName {
			return fmt.Errorf("association for %q in replace of %q", a.GCPName, gcpName)
		}
	}
	list = collapse(list)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := make([]gcp.Association, 0, len(s.items)+len(list))
	for _, a := range s.items {
		if a.GCPName != gcpName {
			kept = append(kept, a)
		}
	}
	s.items = append(kept, list...)
	return nil
}

// RemoveImage deletes every association that references imgName and returns
// how many were removed.
func (s *Store) RemoveImage(imgName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.items[:0]
	removed := 0
	for _, a := range s.items {
		if a.ImageName == imgName {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	// Clear the tail so dropped records are not retained by the backing array.
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = gcp.Association{}
	}
	s.items = kept
	return removed
}

func (s *Store) filter(keep func(gcp.Association) bool) []gcp.Association {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []gcp.Association
	for _, a := range s.items {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

// collapse keeps one association per key, taking the last value.
func collapse(list []gcp.Association) []gcp.Association {
	pos := make(map[gcp.Key]int, len(list))
	out := make([]gcp.Association, 0, len(list))
	for _, a := range list {
		if i, ok := pos[a.Key()]; ok {
			out[i] = a
			continue
		}
		pos[a.Key()] = len(out)
		out = append(out, a)
	}
	return out
}

func checkUnique(list []gcp.Association) error {
	seen := make(map[gcp.Key]bool, len(list))
	for _, a := range list {
		k := a.Key()
		if seen[k] {
			return fmt.Errorf("duplicate association %s/%s", k.GCPName, k.ImageName)
		}
		seen[k] = true
	}
	return nil
}
