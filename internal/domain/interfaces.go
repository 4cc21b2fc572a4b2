package domain

import "context"

// SourceChunk is one indexed unit of extracted text with page/line provenance.
type SourceChunk struct {
	Text     string
	Page     int
	Line     int
	Source   string
	Metadata map[string]any
	// Embedding is nil until the chunk has been indexed.
	Embedding []float32
}

// RelatedItem is a neighbor chunk folded into a contribution.
type RelatedItem struct {
	Page  int     `json:"page"`
	Line  int     `json:"line"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

// Contribution is a seed chunk plus its included neighbors, carrying one
// aggregated attribution weight.
type Contribution struct {
	Page       int           `json:"page"`
	Line       int           `json:"line"`
	Percentage int           `json:"percentage"`
	Score      float64       `json:"score"`
	Text       string        `json:"text"`
	Related    []RelatedItem `json:"related"`
}

// Answer is the response to a question.
type Answer struct {
	Answer  string         `json:"answer"`
	Sources []Contribution `json:"sources"`
}

// QueryRequest carries a question and its per-query retrieval overrides.
// Nil IncludeRelations/RelationWindow fall back to service defaults.
type QueryRequest struct {
	Question         string
	MaxSources       int
	IncludeRelations *bool
	RelationWindow   *int
	MaxGroupItems    int
}

// Embedder turns text into vectors.
// EmbedBatch returns exactly one vector per input, in input order, and must
// fail on an empty batch.
type Embedder interface {
	Name() string
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// CorpusFitter is implemented by embedders whose vector space is learned
// from the indexed texts. Fit must not change the receiver; the returned
// embedder is bound to the fitted space and serves one index generation.
type CorpusFitter interface {
	Fit(ctx context.Context, texts []string) (Embedder, error)
}

// Completer produces a completion for a system + user prompt pair.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, temperature float64, maxTokens int) (string, error)
}

// Summarizer produces a brief summary of the provided text.
type Summarizer interface {
	Summarize(text string, maxSentences int) (string, error)
}
