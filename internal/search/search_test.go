package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-forge/mnemo/internal/embed"
	"github.com/hephaestus-forge/mnemo/internal/store"
)

func newEngine(t *testing.T) (*Engine, *store.Store, embed.Embedder) {
	t.Helper()
	s, err := store.Open(store.Options{Path: ":memory:", Dimensions: 64})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	embedder := embed.NewStaticEmbedder(64)
	t.Cleanup(func() { _ = embedder.Close() })

	return New(s, embedder, DefaultWeights(), DefaultTagBoost), s, embedder
}

func seed(t *testing.T, s *store.Store, embedder embed.Embedder, input store.ChunkInput) string {
	t.Helper()
	vec, err := embedder.Embed(context.Background(), input.Content)
	require.NoError(t, err)
	id, err := s.Insert(context.Background(), input, vec)
	require.NoError(t, err)
	return id
}

func TestHybrid_RanksLexicalOverlapFirst(t *testing.T) {
	// S2: the GPU chunk outranks unrelated seeds for a GPU query.
	e, s, em := newEngine(t)
	ctx := context.Background()

	gpu := seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm,
		Content: "Bought an RTX 4090 GPU forge for the home lab"})
	seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm, Content: "coffee morning with the team"})
	seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm, Content: "Laura's dentist appointment moved"})
	seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm, Content: "quarterly budget review notes"})
	seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm, Content: "watering schedule for the plants"})

	queryVec, err := em.Embed(ctx, "GPU server for training")
	require.NoError(t, err)

	results, err := e.Hybrid(ctx, "GPU server for training", queryVec, Options{Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, gpu, results[0].Chunk.ID)
	assert.Contains(t, results[0].Chunk.Content, "RTX 4090")
}

func TestHybrid_CombinesWeightedScores(t *testing.T) {
	e, s, em := newEngine(t)
	ctx := context.Background()

	seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm, Content: "alpha beta gamma"})

	queryVec, err := em.Embed(ctx, "alpha beta gamma")
	require.NoError(t, err)

	results, err := e.Hybrid(ctx, "alpha beta gamma", queryVec, Options{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)

	r := results[0]
	assert.Greater(t, r.VectorScore, 0.0)
	assert.Greater(t, r.TextScore, 0.0)
	assert.InDelta(t, 0.7*r.VectorScore+0.3*r.TextScore, r.Score, 1e-9)
}

func TestHybrid_NilVectorDegradesToTextOnly(t *testing.T) {
	e, s, em := newEngine(t)
	ctx := context.Background()

	id := seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm, Content: "unique zirconium fact"})

	results, err := e.Hybrid(ctx, "zirconium", nil, Options{Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Chunk.ID)
	assert.Zero(t, results[0].VectorScore)
}

func TestHybrid_DeterministicRanking(t *testing.T) {
	// Property 9: identical searches return identical (id, score) sequences.
	e, s, em := newEngine(t)
	ctx := context.Background()

	for _, content := range []string{"fact one about servers", "fact two about servers", "fact three about servers"} {
		seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm, Content: content})
	}

	queryVec, err := em.Embed(ctx, "servers")
	require.NoError(t, err)

	first, err := e.Hybrid(ctx, "servers", queryVec, Options{Limit: 10})
	require.NoError(t, err)
	second, err := e.Hybrid(ctx, "servers", queryVec, Options{Limit: 10})
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].Chunk.ID, second[i].Chunk.ID)
		assert.Equal(t, first[i].Score, second[i].Score)
	}
}

func TestCompartmentalization_EnforcedInEveryPrimitive(t *testing.T) {
	// Property 6: a chunk scoped to Laura never reaches Giannis through
	// any primitive.
	e, s, em := newEngine(t)
	ctx := context.Background()

	secret := seed(t, s, em, store.ChunkInput{Tier: store.TierShortTerm,
		Content: "Alice's salary expectations are 90k", Person: "Laura"})
	public := seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm,
		Content: "Alice's public role is staff engineer"})

	giannis := "Giannis"
	filter := store.Filter{Person: &giannis}
	queryVec, err := em.Embed(ctx, "alice salary")
	require.NoError(t, err)

	checks := map[string]func() ([]Result, error){
		"text": func() ([]Result, error) {
			return e.Text(ctx, "alice salary", Options{Limit: 10, Filter: filter})
		},
		"vector": func() ([]Result, error) {
			return e.Vector(ctx, queryVec, Options{Limit: 10, Filter: filter})
		},
		"hybrid": func() ([]Result, error) {
			return e.Hybrid(ctx, "alice salary", queryVec, Options{Limit: 10, Filter: filter})
		},
		"tag-boosted": func() ([]Result, error) {
			return e.TagBoosted(ctx, "alice salary", queryVec,
				store.StructuredTags{People: []string{"Alice"}}, Options{Limit: 10, Filter: filter})
		},
	}

	for name, run := range checks {
		t.Run(name, func(t *testing.T) {
			results, err := run()
			require.NoError(t, err)
			for _, r := range results {
				assert.NotEqual(t, secret, r.Chunk.ID, "scoped chunk leaked through %s", name)
			}
		})
	}

	// Laura herself, and the administrative context, both see it.
	laura := "Laura"
	results, err := e.Text(ctx, "salary expectations", Options{Limit: 10, Filter: store.Filter{Person: &laura}})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, secret, results[0].Chunk.ID)

	results, err = e.Text(ctx, "salary expectations", Options{Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, results)
	_ = public
}

func TestTagBoosted_BoostsIntersection(t *testing.T) {
	e, s, em := newEngine(t)
	ctx := context.Background()

	tagged := seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm,
		Content: "status notes for the sprint",
		Tags:    store.StructuredTags{Projects: []string{"Hephie"}}})
	plain := seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm,
		Content: "status notes for the sprint retro"})

	boost := store.StructuredTags{Projects: []string{"Hephie"}}
	results, err := e.TagBoosted(ctx, "status notes sprint", nil, boost, Options{Limit: 5})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, tagged, results[0].Chunk.ID)
	assert.Equal(t, plain, results[1].Chunk.ID)
}

func TestStructuredTagFilter_AllOfAcrossDimensions(t *testing.T) {
	// S5: only the chunk matching both dimensions fully survives.
	e, s, em := newEngine(t)
	ctx := context.Background()

	both := seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm,
		Content: "hephie sync with antreas",
		Tags: store.StructuredTags{Projects: []string{"Hephie"}, People: []string{"Antreas"}}})
	seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm,
		Content: "hephie planning doc",
		Tags: store.StructuredTags{Projects: []string{"Hephie"}}})
	seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm,
		Content: "antreas one-on-one notes",
		Tags: store.StructuredTags{People: []string{"Antreas"}}})

	filter := store.Filter{StructuredTags: &store.StructuredTags{
		Projects: []string{"Hephie"},
		People:   []string{"Antreas"},
	}}

	results, err := e.Hybrid(ctx, "hephie antreas", nil, Options{Limit: 10, Filter: filter})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, both, results[0].Chunk.ID)
}

func TestVector_SelfSimilarityNearOne(t *testing.T) {
	// Round-trip law: searching with a chunk's own embedding returns the
	// chunk at score >= 1/(1+epsilon).
	e, s, em := newEngine(t)
	ctx := context.Background()

	id := seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm, Content: "the exact same text"})

	vec, err := em.Embed(ctx, "the exact same text")
	require.NoError(t, err)

	results, err := e.Vector(ctx, vec, Options{Limit: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Chunk.ID)
	assert.GreaterOrEqual(t, results[0].Score, 1.0/(1.0+1e-3))
}

func TestText_EmptyQueryReturnsEmpty(t *testing.T) {
	e, s, em := newEngine(t)
	seed(t, s, em, store.ChunkInput{Tier: store.TierLongTerm, Content: "anything"})

	results, err := e.Text(context.Background(), "...", Options{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, results)
}
