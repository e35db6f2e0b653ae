package recipe

import "sync"

// Store holds the current snapshot of each active recipe. It is the one piece
// of state written by both the voice and chat channels, so writes are gated by
// the LastUpdated timestamp instead of channel ordering: a stale write is
// silently ignored, never an error.
type Store struct {
	mu      sync.RWMutex
	current map[string]Snapshot
}

// NewStore creates an empty recipe store.
func NewStore() *Store {
	return &Store{
		current: make(map[string]Snapshot),
	}
}

// Replace unconditionally overwrites the stored snapshot for the recipe's ID.
// Used when a fresh recipe is loaded.
func (s *Store) Replace(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current[snap.ID] = snap
}

// ApplyIfNewer overwrites the stored snapshot only when the incoming snapshot
// is strictly newer than the one currently held for the same ID. Returns
// whether the snapshot was applied.
func (s *Store) ApplyIfNewer(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	held, exists := s.current[snap.ID]
	if exists && snap.LastUpdated <= held.LastUpdated {
		return false
	}

	s.current[snap.ID] = snap
	return true
}

// Get returns the current snapshot for a recipe ID.
func (s *Store) Get(id string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.current[id]
	return snap, ok
}

// Remove drops a recipe from the store.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.current, id)
}

// All returns a copy of every snapshot currently held.
func (s *Store) All() []Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := make([]Snapshot, 0, len(s.current))
	for _, snap := range s.current {
		snaps = append(snaps, snap)
	}
	return snaps
}

// Count returns the number of recipes currently held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.current)
}
