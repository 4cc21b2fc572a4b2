package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"docrag/internal/vectorstore"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	entries   []vectorstore.Entry
}

func NewStorage() *Storage { return &Storage{} }

// Factory returns a vectorstore.Factory producing independent in-memory stores.
func Factory() vectorstore.Factory {
	return func(context.Context, string) (vectorstore.Storage, error) {
		return NewStorage(), nil
	}
}

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return vectorstore.ErrInvalidDimension
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.entries = nil
	return nil
}

// Upsert appends entries. Entries without a vector are kept out of the index.
func (s *Storage) Upsert(_ context.Context, entries []vectorstore.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		if len(e.Vector) != 0 && len(e.Vector) != s.dimension {
			return vectorstore.ErrDimensionMismatch
		}
	}
	for _, e := range entries {
		if len(e.Vector) == 0 {
			continue
		}
		s.entries = append(s.entries, e)
	}
	return nil
}

// Search ranks every stored entry by cosine similarity. Equal scores keep
// insertion order. A query vector of another dimension is rejected.
func (s *Storage) Search(_ context.Context, vector []float32, topK int) ([]vectorstore.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, store has %d", vectorstore.ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	hits := make([]vectorstore.Hit, len(s.entries))
	for i, e := range s.entries {
		hits[i] = vectorstore.Hit{Index: e.Index, Score: vectorstore.Cosine(vector, e.Vector)}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if topK > len(hits) {
		topK = len(hits)
	}
	return hits[:topK], nil
}

func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	return nil
}

// Len returns the number of searchable entries.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
