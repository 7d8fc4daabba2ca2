package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	e := NewStaticEmbedder(384)
	defer e.Close()

	a, err := e.Embed(context.Background(), "the GPU server for training")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the GPU server for training")
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestStaticEmbedder_UnitLength(t *testing.T) {
	e := NewStaticEmbedder(384)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "alice prefers morning coffee")
	require.NoError(t, err)
	require.Len(t, vec, 384)
	assert.True(t, IsUnitLength(vec))
}

func TestStaticEmbedder_EmptyTextYieldsZeroVector(t *testing.T) {
	e := NewStaticEmbedder(64)
	defer e.Close()

	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestStaticEmbedder_SimilarTextsCloserThanUnrelated(t *testing.T) {
	e := NewStaticEmbedder(384)
	defer e.Close()

	ctx := context.Background()
	gpu1, _ := e.Embed(ctx, "RTX 4090 GPU server for model training")
	gpu2, _ := e.Embed(ctx, "GPU server used for training models")
	coffee, _ := e.Embed(ctx, "coffee in the morning with oat milk")

	simRelated := CosineSimilarity(gpu1, gpu2)
	simUnrelated := CosineSimilarity(gpu1, coffee)
	assert.Greater(t, simRelated, simUnrelated)
}

func TestStaticEmbedder_ClosedReturnsError(t *testing.T) {
	e := NewStaticEmbedder(64)
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "anything")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestStaticEmbedder_BatchMatchesSingle(t *testing.T) {
	e := NewStaticEmbedder(128)
	defer e.Close()

	ctx := context.Background()
	texts := []string{"first fact", "second fact", "third fact"}
	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i])
	}
}

func TestCosineSimilarity_Bounds(t *testing.T) {
	a := []float32{1, 0, 0}
	b := []float32{1, 0, 0}
	c := []float32{0, 1, 0}

	assert.InDelta(t, 1.0, CosineSimilarity(a, b), 1e-9)
	assert.InDelta(t, 0.0, CosineSimilarity(a, c), 1e-9)
	assert.Zero(t, CosineSimilarity(a, []float32{1, 0}))
}
