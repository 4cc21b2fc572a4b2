package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"docrag/internal/vectorstore/memory"
)

// stubEmbedder maps known texts to fixed vectors.
type stubEmbedder struct {
	vectors    map[string][]float32
	dropLast   bool
	batchCalls atomic.Int32
	oneCalls   atomic.Int32
	err        error
}

func (e *stubEmbedder) Name() string { return "stub" }

func (e *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	e.batchCalls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, e.lookup(t))
	}
	if e.dropLast {
		out = out[:len(out)-1]
	}
	return out, nil
}

func (e *stubEmbedder) EmbedOne(_ context.Context, text string) ([]float32, error) {
	e.oneCalls.Add(1)
	if e.err != nil {
		return nil, e.err
	}
	return e.lookup(text), nil
}

func (e *stubEmbedder) lookup(text string) []float32 {
	if v, ok := e.vectors[text]; ok {
		return v
	}
	return []float32{0, 0, 1}
}

type stubCompleter struct {
	mu     sync.Mutex
	calls  int
	system string
	user   string
	answer string
	err    error
}

func (c *stubCompleter) Complete(_ context.Context, systemPrompt, userPrompt string, _ float64, _ int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.system, c.user = systemPrompt, userPrompt
	if c.err != nil {
		return "", c.err
	}
	return c.answer, nil
}

var errProvider = errors.New("provider unavailable")

func skyVectors() map[string][]float32 {
	return map[string][]float32{
		"The sky is blue.":       {1, 0, 0},
		"Blue is a color.":       {0.6, 0.8, 0},
		"Grass is green.":        {0, 0, 1},
		"What color is the sky?": {1, 0, 0},
	}
}

// writeSkyDir writes a one-page, three-line recognition directory.
func writeSkyDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := `{"items":[
		{"text":"The sky is blue.","line":1},
		{"text":"Blue is a color.","line":2},
		{"text":"Grass is green.","line":3}
	]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "page_1.json"), []byte(body), 0o644))
	return dir
}

func newTestService(t *testing.T, emb *stubEmbedder, comp *stubCompleter, opts ...Option) *RAGService {
	t.Helper()
	svc, err := NewRAGService(emb, comp, memory.Factory(), opts...)
	require.NoError(t, err)
	return svc
}

func boolPtr(b bool) *bool { return &b }
func intPtr(n int) *int    { return &n }
