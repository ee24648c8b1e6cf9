package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/sweetpotato0/askdb/memory"
)

// InMemoryStore implements MemoryStore using in-memory storage
type InMemoryStore struct {
	memories []*memory.Memory
	mu       sync.RWMutex
}

// NewInMemoryStore creates a new in-memory memory store
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		memories: make([]*memory.Memory, 0),
	}
}

// AddMemory adds a memory to the store. Entries with an existing ID are replaced.
func (s *InMemoryStore) AddMemory(ctx context.Context, mem *memory.Memory) error {
	if mem == nil {
		return fmt.Errorf("memory cannot be nil")
	}
	memory.Prepare(mem)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.memories {
		if existing.ID == mem.ID {
			s.memories[i] = mem
			return nil
		}
	}
	s.memories = append(s.memories, mem)
	return nil
}

// SearchMemory scores entries by how many query keywords they contain. Ties
// go to the newer entry. Entries matching nothing are not returned.
func (s *InMemoryStore) SearchMemory(ctx context.Context, query string, limit int) ([]*memory.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return rank(s.memories, query, limit), nil
}

// rank orders mems, oldest first on input, by keyword score. An empty query
// keeps every entry, newest first.
func rank(mems []*memory.Memory, query string, limit int) []*memory.Memory {
	if limit <= 0 {
		limit = memory.DefaultSearchLimit
	}

	type scored struct {
		mem   *memory.Memory
		score int
		order int
	}

	terms := memory.Keywords(query)
	results := make([]scored, 0, len(mems))
	for i, mem := range mems {
		score := 1
		if len(terms) > 0 {
			score = 0
			haystack := strings.ToLower(mem.Question + " " + mem.Content)
			for _, term := range terms {
				if strings.Contains(haystack, term) {
					score++
				}
			}
		}
		if score == 0 {
			continue
		}
		results = append(results, scored{mem: mem, score: score, order: i})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].order > results[j].order
	})

	if len(results) > limit {
		results = results[:limit]
	}
	out := make([]*memory.Memory, len(results))
	for i, r := range results {
		out[i] = r.mem
	}
	return out
}

// Clear removes all memories from the store
func (s *InMemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.memories = make([]*memory.Memory, 0)
	return nil
}

// Count returns the number of memories in the store
func (s *InMemoryStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.memories)
}

var _ memory.MemoryStore = (*InMemoryStore)(nil)
