// Package chromem stores chunk vectors in an embedded chromem-go database.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	"github.com/philippgille/chromem-go"

	"docrag/internal/vectorstore"
)

// errNoEmbedder is returned if chromem ever asks us to embed text ourselves.
// Every document and query arrives with a precomputed vector.
var errNoEmbedder = errors.New("chromem: vectors must be precomputed")

type Config struct {
	// Path enables on-disk persistence; empty keeps the database in memory.
	Path             string
	Compress         bool
	CollectionPrefix string
}

// ErrLocked is returned when another process holds the persistence directory.
var ErrLocked = errors.New("chromem: database directory is locked by another process")

// Open returns the database described by cfg and a release func. A persistent
// database holds an exclusive file lock next to its directory until released.
func Open(cfg Config) (*chromem.DB, func() error, error) {
	if cfg.Path == "" {
		return chromem.NewDB(), func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(filepath.Clean(cfg.Path)), 0o755); err != nil {
		return nil, nil, err
	}
	lock := flock.New(filepath.Clean(cfg.Path) + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, nil, fmt.Errorf("lock chromem db: %w", err)
	}
	if !locked {
		return nil, nil, fmt.Errorf("%w: %s", ErrLocked, cfg.Path)
	}
	db, err := chromem.NewPersistentDB(cfg.Path, cfg.Compress)
	if err != nil {
		_ = lock.Unlock()
		return nil, nil, fmt.Errorf("open chromem db at %s: %w", cfg.Path, err)
	}
	return db, lock.Unlock, nil
}

// Factory yields one collection per index generation inside db.
func Factory(db *chromem.DB, prefix string) vectorstore.Factory {
	prefix = prefixOrDefault(prefix)
	return func(_ context.Context, generation string) (vectorstore.Storage, error) {
		return &Storage{db: db, name: collectionName(prefix, generation)}, nil
	}
}

// Prune deletes generation collections left under prefix by earlier
// processes and returns how many were removed. Call it right after Open,
// before any index is built.
func Prune(db *chromem.DB, prefix string) (int, error) {
	marker := collectionName(prefixOrDefault(prefix), "")
	removed := 0
	for name := range db.ListCollections() {
		if !strings.HasPrefix(name, marker) {
			continue
		}
		if err := db.DeleteCollection(name); err != nil {
			return removed, fmt.Errorf("deleting stale collection %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

func prefixOrDefault(prefix string) string {
	if prefix == "" {
		return "docrag"
	}
	return prefix
}

func collectionName(prefix, generation string) string {
	return prefix + "-" + generation
}

// Storage is a vectorstore.Storage over a single chromem collection.
type Storage struct {
	mu        sync.RWMutex
	db        *chromem.DB
	name      string
	dimension int
	col       *chromem.Collection
}

func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return vectorstore.ErrInvalidDimension
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, err := s.db.GetOrCreateCollection(s.name, nil, noEmbed)
	if err != nil {
		return fmt.Errorf("getting/creating collection %s: %w", s.name, err)
	}
	s.col = col
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(ctx context.Context, entries []vectorstore.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col == nil {
		return fmt.Errorf("collection %s not initialized", s.name)
	}
	docs := make([]chromem.Document, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) == 0 {
			continue
		}
		if len(e.Vector) != s.dimension {
			return vectorstore.ErrDimensionMismatch
		}
		docs = append(docs, chromem.Document{
			ID:      strconv.Itoa(e.Index),
			Content: e.Text,
			Metadata: map[string]string{
				"page": strconv.Itoa(e.Page),
				"line": strconv.Itoa(e.Line),
			},
			// chromem normalizes in place.
			Embedding: append([]float32(nil), e.Vector...),
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("adding documents to %s: %w", s.name, err)
	}
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.col == nil {
		return nil, nil
	}
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, collection %s has %d", vectorstore.ErrDimensionMismatch, len(vector), s.name, s.dimension)
	}
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	// chromem rejects nResults larger than the collection.
	if n := s.col.Count(); topK > n {
		topK = n
	}
	if topK == 0 {
		return nil, nil
	}
	results, err := s.col.QueryEmbedding(ctx, append([]float32(nil), vector...), topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", s.name, err)
	}
	hits := make([]vectorstore.Hit, 0, len(results))
	for _, r := range results {
		idx, err := strconv.Atoi(r.ID)
		if err != nil {
			return nil, fmt.Errorf("unexpected document id %q in %s", r.ID, s.name)
		}
		hits = append(hits, vectorstore.Hit{Index: idx, Score: float64(r.Similarity)})
	}
	return hits, nil
}

// Clear drops the generation's collection.
func (s *Storage) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.col == nil {
		return nil
	}
	s.col = nil
	if err := s.db.DeleteCollection(s.name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", s.name, err)
	}
	return nil
}

func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errNoEmbedder
}
