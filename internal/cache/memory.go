package cache

import (
	"context"
	"sync"
)

// MemoryStore implements Store with in-process maps. Suitable for tests and
// ephemeral single-instance runs; contents do not survive a restart.
type MemoryStore struct {
	cfg Config

	mu sync.RWMutex
	// generation name -> key -> response
	generations map[string]map[string]*CachedResponse
}

// NewMemoryStore creates an empty in-memory store for the given generation pair.
func NewMemoryStore(cfg Config) *MemoryStore {
	return &MemoryStore{
		cfg:         cfg,
		generations: make(map[string]map[string]*CachedResponse),
	}
}

// Put stores a successful response in the current generation's partition.
func (s *MemoryStore) Put(ctx context.Context, partition Partition, key string, resp *CachedResponse) error {
	if !resp.OK() {
		return nil
	}

	name := s.cfg.Generation(partition).Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.generations[name]
	if gen == nil {
		gen = make(map[string]*CachedResponse)
		s.generations[name] = gen
	}
	gen[key] = resp.Clone()
	return nil
}

// Match searches core then runtime of the current generation pair.
func (s *MemoryStore) Match(ctx context.Context, key string) (*CachedResponse, error) {
	for _, p := range []Partition{PartitionCore, PartitionRuntime} {
		resp, err := s.MatchPartition(ctx, p, key)
		if err == nil {
			return resp, nil
		}
	}
	return nil, ErrNotFound
}

// MatchPartition searches one partition of the current generation.
func (s *MemoryStore) MatchPartition(ctx context.Context, partition Partition, key string) (*CachedResponse, error) {
	name := s.cfg.Generation(partition).Name()

	s.mu.RLock()
	defer s.mu.RUnlock()

	if resp, ok := s.generations[name][key]; ok {
		return resp.Clone(), nil
	}
	return nil, ErrNotFound
}

// DeleteAll drops every entry of the current generation's partition.
func (s *MemoryStore) DeleteAll(ctx context.Context, partition Partition) error {
	name := s.cfg.Generation(partition).Name()

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.generations, name)
	return nil
}

// ListGenerations returns every generation name holding at least one entry.
func (s *MemoryStore) ListGenerations(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.generations))
	for name := range s.generations {
		names = append(names, name)
	}
	return names, nil
}

// DeleteGeneration removes a whole generation by identifier.
func (s *MemoryStore) DeleteGeneration(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.generations, name)
	return nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// seed is a test helper: it installs an entry under an arbitrary generation
// name, bypassing the current-pair scoping of Put.
func (s *MemoryStore) seed(name, key string, resp *CachedResponse) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gen := s.generations[name]
	if gen == nil {
		gen = make(map[string]*CachedResponse)
		s.generations[name] = gen
	}
	gen[key] = resp
}
