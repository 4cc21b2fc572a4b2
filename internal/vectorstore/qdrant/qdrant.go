package qdrant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"docrag/internal/vectorstore"
)

const upsertBatchSize = 256

// Client is the subset of the Qdrant gRPC client the store relies on.
// *qdrant.Client satisfies it.
type Client interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	ListCollections(ctx context.Context) ([]string, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
}

var _ Client = (*qdrant.Client)(nil)

type Config struct {
	Host             string
	Port             int
	APIKey           string
	UseTLS           bool
	CollectionPrefix string
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "docrag"
	}
}

// Dial opens a gRPC client for cfg. The caller owns the returned client.
func Dial(cfg Config) (*qdrant.Client, error) {
	cfg.applyDefaults()
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid qdrant port %d", cfg.Port)
	}
	qcfg := &qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	}
	if !cfg.UseTLS {
		qcfg.GrpcOptions = append(qcfg.GrpcOptions, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	client, err := qdrant.NewClient(qcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return client, nil
}

// Factory yields a store bound to a per-generation collection.
func Factory(client Client, prefix string, logger *zap.Logger) vectorstore.Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "docrag"
	}
	return func(_ context.Context, generation string) (vectorstore.Storage, error) {
		if client == nil {
			return nil, errors.New("qdrant client is nil")
		}
		return &Storage{
			client:     client,
			collection: CollectionName(prefix, generation),
			logger:     logger,
		}, nil
	}
}

// Prune deletes generation collections left under prefix by earlier
// processes and returns how many were removed.
func Prune(ctx context.Context, client Client, prefix string) (int, error) {
	if prefix == "" {
		prefix = "docrag"
	}
	names, err := client.ListCollections(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing collections: %w", err)
	}
	marker := CollectionName(prefix, "")
	removed := 0
	for _, name := range names {
		if !strings.HasPrefix(name, marker) {
			continue
		}
		if err := client.DeleteCollection(ctx, name); err != nil {
			return removed, fmt.Errorf("deleting stale collection %s: %w", name, err)
		}
		removed++
	}
	return removed, nil
}

// CollectionName derives the collection used for one index generation.
func CollectionName(prefix, generation string) string {
	return prefix + "_" + generation
}

// Storage keeps one generation's vectors in a dedicated Qdrant collection
// using cosine distance. Point ids are chunk indices.
type Storage struct {
	client     Client
	collection string
	dimension  int
	logger     *zap.Logger
}

func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return vectorstore.ErrInvalidDimension
	}
	s.dimension = dimension
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", s.collection, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", s.collection, err)
	}
	s.logger.Debug("qdrant collection created", zap.String("collection", s.collection), zap.Int("dimension", dimension))
	return nil
}

func (s *Storage) Upsert(ctx context.Context, entries []vectorstore.Entry) error {
	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) == 0 {
			continue
		}
		if len(e.Vector) != s.dimension {
			return vectorstore.ErrDimensionMismatch
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(e.Index)),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: map[string]*qdrant.Value{
				"page": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(e.Page)}},
				"line": {Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(e.Line)}},
				"text": {Kind: &qdrant.Value_StringValue{StringValue: e.Text}},
			},
		})
	}
	for start := 0; start < len(points); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(points) {
			end = len(points)
		}
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points[start:end],
		})
		if err != nil {
			return fmt.Errorf("upserting into %s: %w", s.collection, err)
		}
	}
	return nil
}

// Search runs an exact (non-HNSW) cosine query so rankings are reproducible.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int) ([]vectorstore.Hit, error) {
	if s.dimension > 0 && len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has %d, collection has %d", vectorstore.ErrDimensionMismatch, len(vector), s.dimension)
	}
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	res, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Params: &qdrant.SearchParams{
			Exact: qdrant.PtrOf(true),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("searching collection %s: %w", s.collection, err)
	}
	hits := make([]vectorstore.Hit, 0, len(res))
	for _, p := range res {
		hits = append(hits, vectorstore.Hit{
			Index: int(p.GetId().GetNum()),
			Score: float64(p.GetScore()),
		})
	}
	return hits, nil
}

// Clear deletes the generation's collection.
func (s *Storage) Clear(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.collection); err != nil {
		return fmt.Errorf("deleting collection %s: %w", s.collection, err)
	}
	return nil
}
