package ranges

import (
	"sync"
)

// Store keeps the most recent partition per virtual document key.
// Every routing decision and every content read starts here; a miss means
// the partition has to be fetched again.
type Store struct {
	mu      sync.RWMutex
	entries map[string]Partition
}

func NewStore() *Store {
	return &Store{entries: make(map[string]Partition)}
}

// Get returns the partition stored under key.
func (s *Store) Get(key string) (Partition, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.entries[key]
	return p, ok
}

// Set stores ranges and version together.
func (s *Store) Set(key string, p Partition) {
	ranges := make([]LanguageRange, len(p.Ranges))
	copy(ranges, p.Ranges)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = Partition{Version: p.Version, Ranges: ranges}
}

// Invalidate drops the partition stored under key.
func (s *Store) Invalidate(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// InvalidateWhere drops every partition whose key matches.
func (s *Store) InvalidateWhere(match func(key string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.entries {
		if match(key) {
			delete(s.entries, key)
			n++
		}
	}
	return n
}

// Len returns the number of stored partitions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
