package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docrag/internal/chunker"
	"docrag/internal/domain"
	"docrag/internal/graph"
	"docrag/internal/vectorstore"
)

// EmptyIndexAnswer is returned, without calling any provider, when nothing is indexed.
const EmptyIndexAnswer = "No indexed content is available. Index a recognition directory first."

var (
	ErrVectorCountMismatch = errors.New("embedding count does not match chunk count")
	ErrEmptyEmbedding      = errors.New("embedding provider returned an empty vector")
)

// Settings are the engine-wide defaults fixed at construction.
type Settings struct {
	RelationWindow   int
	IncludeRelations bool
	MaxSources       int
	MaxGroupItems    int
	MaxTokens        int
	Temperature      float64
	SummarySentences int
}

func DefaultSettings() Settings {
	return Settings{
		RelationWindow:   2,
		IncludeRelations: true,
		MaxSources:       3,
		MaxGroupItems:    5,
		MaxTokens:        4096,
		Temperature:      0.2,
		SummarySentences: 3,
	}
}

// IndexReport describes a completed index build.
type IndexReport struct {
	Dir        string
	Generation string
	Chunks     int
	Pages      int
	Files      []chunker.FileOutcome
	Summary    string
}

type Option func(*RAGService)

func WithLogger(l *zap.Logger) Option {
	return func(s *RAGService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithSummarizer(sum domain.Summarizer) Option {
	return func(s *RAGService) { s.summarizer = sum }
}

func WithSettings(st Settings) Option {
	return func(s *RAGService) { s.settings = st }
}

// RAGService indexes recognition output and answers questions over it.
//
// Index builds a complete snapshot off to the side and publishes it with a
// single atomic store, so a query always runs against one whole snapshot.
// Index and Clear are serialized with each other; queries never block on them.
type RAGService struct {
	embedder   domain.Embedder
	completer  domain.Completer
	newStore   vectorstore.Factory
	summarizer domain.Summarizer
	settings   Settings
	logger     *zap.Logger

	mu      sync.Mutex
	current atomic.Pointer[snapshot]
}

func NewRAGService(embedder domain.Embedder, completer domain.Completer, newStore vectorstore.Factory, opts ...Option) (*RAGService, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	if newStore == nil {
		return nil, errors.New("vector store factory is required")
	}
	s := &RAGService{
		embedder:  embedder,
		completer: completer,
		newStore:  newStore,
		settings:  DefaultSettings(),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Settings returns the construction-time defaults.
func (s *RAGService) Settings() Settings { return s.settings }

// Index replaces the current index with the content of dir. On failure the
// previously published index stays in place.
func (s *RAGService) Index(ctx context.Context, dir string) (*IndexReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("indexing started", zap.String("dir", dir))
	ext, err := chunker.ExtractDir(dir)
	if err != nil {
		return nil, err
	}
	for _, f := range ext.Skipped() {
		s.logger.Warn("skipped recognition file", zap.String("path", f.Path), zap.String("reason", f.Reason))
	}

	snap := newSnapshot(uuid.NewString(), dir, ext.Chunks, s.settings.RelationWindow, s.logger)
	if len(snap.chunks) > 0 {
		if err := s.embedAndStore(ctx, snap); err != nil {
			s.logger.Error("indexing failed", zap.String("dir", dir), zap.Error(err))
			return nil, err
		}
	}

	report := &IndexReport{
		Dir:        dir,
		Generation: snap.generation,
		Chunks:     len(snap.chunks),
		Pages:      len(snap.pages),
		Files:      ext.Files,
	}
	if s.summarizer != nil && s.settings.SummarySentences > 0 && len(snap.chunks) > 0 {
		texts := make([]string, len(snap.chunks))
		for i, c := range snap.chunks {
			texts[i] = c.Text
		}
		summary, err := s.summarizer.Summarize(strings.Join(texts, "\n"), s.settings.SummarySentences)
		if err != nil {
			s.logger.Warn("summary failed", zap.Error(err))
		}
		report.Summary = summary
	}

	if prev := s.current.Swap(snap); prev != nil {
		prev.retire()
	}
	s.logger.Info("indexing finished",
		zap.String("dir", dir),
		zap.String("generation", snap.generation),
		zap.Int("files", len(ext.Files)),
		zap.Int("skipped_files", len(ext.Skipped())),
		zap.Int("chunks", report.Chunks),
		zap.Int("pages", report.Pages),
	)
	return report, nil
}

func (s *RAGService) embedAndStore(ctx context.Context, snap *snapshot) error {
	texts := make([]string, len(snap.chunks))
	for i, c := range snap.chunks {
		texts[i] = c.Text
	}
	emb := s.embedder
	if f, ok := emb.(domain.CorpusFitter); ok {
		fitted, err := f.Fit(ctx, texts)
		if err != nil {
			return fmt.Errorf("fit embedder: %w", err)
		}
		emb = fitted
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(texts) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrVectorCountMismatch, len(texts), len(vecs))
	}
	entries := make([]vectorstore.Entry, len(vecs))
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("%w: chunk %d", ErrEmptyEmbedding, i)
		}
		snap.chunks[i].Embedding = v
		c := snap.chunks[i]
		entries[i] = vectorstore.Entry{Index: i, Page: c.Page, Line: c.Line, Text: c.Text, Vector: v}
	}

	store, err := s.newStore(ctx, snap.generation)
	if err != nil {
		return fmt.Errorf("open vector store: %w", err)
	}
	if err := store.Init(ctx, len(vecs[0])); err != nil {
		return fmt.Errorf("init vector store: %w", err)
	}
	if err := store.Upsert(ctx, entries); err != nil {
		if cerr := store.Clear(ctx); cerr != nil {
			s.logger.Warn("discarding partial store failed", zap.Error(cerr))
		}
		return fmt.Errorf("upsert vectors: %w", err)
	}
	snap.store = store
	snap.embedder = emb
	return nil
}

// Clear drops the current index.
func (s *RAGService) Clear(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev := s.current.Swap(nil); prev != nil {
		prev.retire()
		s.logger.Info("index cleared", zap.String("generation", prev.generation))
	}
}

// Close retires the current index so its store is released once in-flight
// queries finish. It satisfies the closer signature used at shutdown.
func (s *RAGService) Close() error {
	s.Clear(context.Background())
	return nil
}

// Len returns the number of indexed chunks.
func (s *RAGService) Len() int {
	if snap := s.current.Load(); snap != nil {
		return len(snap.chunks)
	}
	return 0
}

// Dir returns the directory the current index was built from.
func (s *RAGService) Dir() string {
	if snap := s.current.Load(); snap != nil {
		return snap.dir
	}
	return ""
}

// Chunks returns a copy of the indexed chunks in index order.
func (s *RAGService) Chunks() []domain.SourceChunk {
	snap := s.current.Load()
	if snap == nil {
		return nil
	}
	return append([]domain.SourceChunk(nil), snap.chunks...)
}

// Query answers req.Question from the current index.
func (s *RAGService) Query(ctx context.Context, req domain.QueryRequest) (*domain.Answer, error) {
	snap := s.acquire()
	if snap == nil {
		return &domain.Answer{Answer: EmptyIndexAnswer, Sources: []domain.Contribution{}}, nil
	}
	defer snap.release()

	k := req.MaxSources
	if k <= 0 {
		k = s.settings.MaxSources
	}
	p := retrieval{
		includeRelations: s.settings.IncludeRelations,
		window:           s.settings.RelationWindow,
		maxGroupItems:    req.MaxGroupItems,
	}
	if req.IncludeRelations != nil {
		p.includeRelations = *req.IncludeRelations
	}
	if req.RelationWindow != nil {
		p.window = *req.RelationWindow
	}
	if p.maxGroupItems <= 0 {
		p.maxGroupItems = s.settings.MaxGroupItems
	}

	qvec, err := snap.embedder.EmbedOne(ctx, req.Question)
	if err != nil {
		s.logger.Error("query embedding failed", zap.Error(err))
		return nil, fmt.Errorf("embed query: %w", err)
	}
	hits, err := snap.store.Search(ctx, qvec, k)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	agg := aggregate(snap.chunks, snap.relations, hits, p)
	s.logger.Debug("context assembled",
		zap.Int("seeds", len(hits)),
		zap.Int("groups", len(agg.contributions)),
		zap.String("generation", snap.generation),
	)

	system, user := buildPrompt(agg.context, req.Question)
	answer, err := s.completer.Complete(ctx, system, user, s.settings.Temperature, s.settings.MaxTokens)
	if err != nil {
		s.logger.Error("completion failed", zap.Error(err))
		return nil, fmt.Errorf("complete: %w", err)
	}
	return &domain.Answer{Answer: answer, Sources: agg.contributions}, nil
}

// acquire pins the current non-empty snapshot so its store outlives a
// concurrent swap. It returns nil when nothing is indexed.
func (s *RAGService) acquire() *snapshot {
	for {
		snap := s.current.Load()
		if snap == nil || len(snap.chunks) == 0 {
			return nil
		}
		if snap.acquire() {
			return snap
		}
	}
}

// snapshot is one immutable index generation. Queries are embedded with the
// snapshot's own embedder so they land in the space its store was built in.
type snapshot struct {
	generation string
	dir        string
	chunks     []domain.SourceChunk
	relations  graph.Relations
	pages      graph.PageIndex
	store      vectorstore.Storage
	embedder   domain.Embedder
	logger     *zap.Logger

	mu      sync.Mutex
	refs    int
	retired bool
}

func newSnapshot(generation, dir string, chunks []domain.SourceChunk, window int, logger *zap.Logger) *snapshot {
	return &snapshot{
		generation: generation,
		dir:        dir,
		chunks:     chunks,
		relations:  graph.Build(chunks, window),
		pages:      graph.BuildPageIndex(chunks),
		logger:     logger,
	}
}

func (s *snapshot) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return false
	}
	s.refs++
	return true
}

func (s *snapshot) release() {
	s.mu.Lock()
	s.refs--
	drop := s.retired && s.refs == 0
	s.mu.Unlock()
	if drop {
		s.dropStore()
	}
}

// retire marks the snapshot as replaced. Its store is cleared once the last
// in-flight query releases it.
func (s *snapshot) retire() {
	s.mu.Lock()
	s.retired = true
	drop := s.refs == 0
	s.mu.Unlock()
	if drop {
		s.dropStore()
	}
}

func (s *snapshot) dropStore() {
	if s.store == nil {
		return
	}
	if err := s.store.Clear(context.Background()); err != nil {
		s.logger.Warn("clearing retired store failed", zap.String("generation", s.generation), zap.Error(err))
	}
}
