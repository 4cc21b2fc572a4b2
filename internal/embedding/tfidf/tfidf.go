package tfidf

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"docrag/internal/domain"
	"docrag/internal/embedding"
	"docrag/internal/textutil"
)

var (
	ErrNotPrepared = errors.New("tfidf embedder not prepared")
	ErrNoTokens    = errors.New("no tokens found in corpus; ensure tokenizer supports your language")
)

// Embedder implements a simple TF-IDF vectorizer.
//
// Fit learns a vocabulary and IDF values from a corpus and returns them as an
// immutable Model; the Embedder itself is left untouched, so a caller can
// discard a model fitted for a build that later fails. EmbedBatch is the
// one-shot form: it fits, adopts the result, and projects the batch.
type Embedder struct {
	mu    sync.RWMutex
	model *Model
}

// NewEmbedder creates an unprepared TF-IDF embedder.
func NewEmbedder() *Embedder {
	return &Embedder{}
}

// Name returns the identifier of this embedder implementation.
func (e *Embedder) Name() string { return "tfidf" }

// Dimension returns the size of the adopted vocabulary.
func (e *Embedder) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.model == nil {
		return 0
	}
	return e.model.Dimension()
}

// Fit learns a model from texts without changing e.
func (e *Embedder) Fit(_ context.Context, texts []string) (domain.Embedder, error) {
	return fitModel(texts)
}

func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m, err := fitModel(texts)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	e.model = m
	e.mu.Unlock()
	return m.EmbedBatch(ctx, texts)
}

func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	e.mu.RLock()
	m := e.model
	e.mu.RUnlock()
	if m == nil {
		return nil, ErrNotPrepared
	}
	return m.EmbedOne(ctx, text)
}

// Model is a fitted vocabulary. It projects any text into the vector space
// of the corpus it was fitted on and is safe for concurrent use.
type Model struct {
	vocabulary map[string]int
	idf        []float64
}

func fitModel(texts []string) (*Model, error) {
	if len(texts) == 0 {
		return nil, embedding.ErrEmptyBatch
	}
	tokenized := make([][]string, len(texts))
	for i, t := range texts {
		tokenized[i] = textutil.Tokens(t)
	}
	vocab, idf, err := fit(tokenized)
	if err != nil {
		return nil, err
	}
	return &Model{vocabulary: vocab, idf: idf}, nil
}

func (m *Model) Name() string { return "tfidf" }

func (m *Model) Dimension() int { return len(m.idf) }

func (m *Model) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, embedding.ErrEmptyBatch
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = vectorize(textutil.Tokens(t), m.vocabulary, m.idf)
	}
	return out, nil
}

func (m *Model) EmbedOne(_ context.Context, text string) ([]float32, error) {
	return vectorize(textutil.Tokens(text), m.vocabulary, m.idf), nil
}

func fit(corpus [][]string) (map[string]int, []float64, error) {
	df := make(map[string]int)
	for _, tokens := range corpus {
		seen := make(map[string]struct{})
		for _, tok := range tokens {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	// Create stable ordering for vocabulary
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)
	if len(terms) == 0 {
		return nil, nil, ErrNoTokens
	}
	vocab := make(map[string]int, len(terms))
	idf := make([]float64, len(terms))
	n := float64(len(corpus))
	for i, term := range terms {
		vocab[term] = i
		// Smoothed IDF
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1.0
	}
	return vocab, idf, nil
}

func vectorize(tokens []string, vocab map[string]int, idf []float64) []float32 {
	vec := make([]float64, len(idf))
	tf := make(map[int]int)
	total := 0
	for _, tok := range tokens {
		if idx, ok := vocab[tok]; ok {
			tf[idx]++
			total++
		}
	}
	if total > 0 {
		for idx, count := range tf {
			vec[idx] = float64(count) / float64(total) * idf[idx]
		}
		// L2 normalize
		norm := 0.0
		for _, v := range vec {
			norm += v * v
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			for i := range vec {
				vec[i] /= norm
			}
		}
	}
	return embedding.ToFloat32(vec)
}
