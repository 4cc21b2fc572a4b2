package tfidf

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/embedding"
	"docrag/internal/vectorstore"
)

func TestEmbedder_BatchThenQuery(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()

	_, err := e.EmbedOne(ctx, "sky")
	require.ErrorIs(t, err, ErrNotPrepared)

	vecs, err := e.EmbedBatch(ctx, []string{"The sky is blue.", "Blue is a color.", "Grass is green."})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	// Vocabulary: blue, color, grass, green, sky.
	assert.Equal(t, 5, e.Dimension())
	for _, v := range vecs {
		assert.Len(t, v, 5)
	}

	q, err := e.EmbedOne(ctx, "What color is the sky?")
	require.NoError(t, err)
	sky := vectorstore.Cosine(q, vecs[0])
	color := vectorstore.Cosine(q, vecs[1])
	grass := vectorstore.Cosine(q, vecs[2])
	assert.Greater(t, sky, grass)
	assert.Greater(t, color, grass)
	assert.InDelta(t, 0.0, grass, 1e-9)
}

func TestEmbedder_Deterministic(t *testing.T) {
	ctx := context.Background()
	corpus := []string{"alpha beta", "beta gamma", "gamma delta alpha"}
	a, err := NewEmbedder().EmbedBatch(ctx, corpus)
	require.NoError(t, err)
	b, err := NewEmbedder().EmbedBatch(ctx, corpus)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEmbedder_Errors(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	_, err := e.EmbedBatch(ctx, nil)
	require.ErrorIs(t, err, embedding.ErrEmptyBatch)

	_, err = e.EmbedBatch(ctx, []string{"the and of", "is"})
	require.ErrorIs(t, err, ErrNoTokens)
}

func TestEmbedder_UnknownTokensYieldZeroVector(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	_, err := e.EmbedBatch(ctx, []string{"apples oranges"})
	require.NoError(t, err)
	v, err := e.EmbedOne(ctx, "bananas")
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0}, v)
}

func TestEmbedder_FitLeavesEmbedderUntouched(t *testing.T) {
	ctx := context.Background()
	e := NewEmbedder()
	_, err := e.EmbedBatch(ctx, []string{"apples oranges"})
	require.NoError(t, err)

	fitted, err := e.Fit(ctx, []string{"The sky is blue.", "Grass is green."})
	require.NoError(t, err)
	assert.Equal(t, 2, e.Dimension())

	q, err := fitted.EmbedOne(ctx, "sky")
	require.NoError(t, err)
	assert.Len(t, q, 4)
	v, err := e.EmbedOne(ctx, "sky")
	require.NoError(t, err)
	assert.Len(t, v, 2)

	_, err = e.Fit(ctx, nil)
	require.ErrorIs(t, err, embedding.ErrEmptyBatch)
}
