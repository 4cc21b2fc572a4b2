package vectorstore

import (
	"context"
	"errors"
	"math"
)

// DefaultTopK is used when a search asks for a non-positive number of results.
const DefaultTopK = 3

var (
	ErrInvalidDimension  = errors.New("invalid dimension")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// Entry is one chunk vector handed to a store. Index is the chunk's position
// in the snapshot and is what searches report back.
type Entry struct {
	Index  int
	Page   int
	Line   int
	Text   string
	Vector []float32
}

// Hit is a ranked search result.
type Hit struct {
	Index int
	Score float64
}

// Storage persists vectors and supports similarity search.
type Storage interface {
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, entries []Entry) error
	Search(ctx context.Context, vector []float32, topK int) ([]Hit, error)
	Clear(ctx context.Context) error
}

// Factory opens a fresh store for one index generation.
type Factory func(ctx context.Context, generation string) (Storage, error)

const normEpsilon = 1e-9

// Cosine returns dot(a,b)/(|a|*|b|) with each norm floored at a small epsilon.
// Vectors of different length are compared over their common prefix.
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (norm(a) * norm(b))
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	n := math.Sqrt(sum)
	if n < normEpsilon {
		return normEpsilon
	}
	return n
}
