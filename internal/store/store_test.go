package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hephaestus-forge/mnemo/internal/embed"
	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Path: ":memory:", Dimensions: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func unitVec(t *testing.T, seed float32) []float32 {
	t.Helper()
	v := make([]float32, 8)
	for i := range v {
		v[i] = seed + float32(i)
	}
	return embed.NormalizeVector(v)
}

func TestInsertAndGet_RoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conf := 0.9
	expires := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	id, err := s.Insert(ctx, ChunkInput{
		Tier:       TierShortTerm,
		Content:    "Antreas deployed the forge server",
		Summary:    "forge deploy",
		Source:     "session-1",
		Category:   "event",
		Person:     "Antreas",
		Confidence: &conf,
		ExpiresAt:  &expires,
		Tags: StructuredTags{
			Concepts: []string{"deployment"},
			People:   []string{"Antreas"},
			Projects: []string{"Hephie"},
		},
		Metadata: map[string]any{MetaImportant: true},
	}, unitVec(t, 1))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Antreas deployed the forge server", got.Content)
	assert.Equal(t, TierShortTerm, got.Tier)
	assert.Equal(t, "Antreas", got.Person)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, []string{"Hephie"}, got.Tags.Projects)
	require.NotNil(t, got.ExpiresAt)
	assert.Equal(t, expires.UnixMilli(), got.ExpiresAt.UnixMilli())
	assert.True(t, got.Important())
	assert.Nil(t, got.PromotedAt)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
}

func TestInsert_DefaultConfidenceIsOne(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Insert(context.Background(), ChunkInput{Tier: TierLongTerm, Content: "x"}, nil)
	require.NoError(t, err)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Confidence)
}

func TestInsert_RejectsInvalidTier(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert(context.Background(), ChunkInput{Tier: "archive", Content: "x"}, nil)
	require.Error(t, err)
	assert.Equal(t, mnerr.ErrCodeInvalidTier, mnerr.GetCode(err))
}

func TestInsert_RejectsInvalidHorizonCategory(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert(context.Background(), ChunkInput{
		Tier: TierShortTerm, Content: "x", HorizonCategory: "forever",
	}, nil)
	require.Error(t, err)
}

func TestInsert_RejectsNonUnitEmbedding(t *testing.T) {
	s := newTestStore(t)
	bad := []float32{3, 0, 0, 0, 0, 0, 0, 0}
	_, err := s.Insert(context.Background(), ChunkInput{Tier: TierShortTerm, Content: "x"}, bad)
	require.Error(t, err)
	assert.Equal(t, mnerr.ErrCodeInvalidArgument, mnerr.GetCode(err))
}

func TestInsert_RejectsWrongDimension(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Insert(context.Background(), ChunkInput{Tier: TierShortTerm, Content: "x"},
		embed.NormalizeVector([]float32{1, 2, 3}))
	require.Error(t, err)
	assert.Equal(t, mnerr.ErrCodeDimensionMismatch, mnerr.GetCode(err))
}

func TestInsert_EmptyContentAccepted(t *testing.T) {
	// Direct store inserts accept empty content; validation is the
	// facade's concern.
	s := newTestStore(t)
	id, err := s.Insert(context.Background(), ChunkInput{Tier: TierWorking, Content: ""}, nil)
	require.NoError(t, err)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, got.Content)
}

func TestGet_MissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, mnerr.IsNotFound(err))
}

func TestUpdate_MergesAndBumpsUpdatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, ChunkInput{Tier: TierShortTerm, Content: "old content", Category: "fact"}, nil)
	require.NoError(t, err)
	before, err := s.Get(ctx, id)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	newContent := "new content"
	updated, err := s.Update(ctx, id, ChunkUpdate{Content: &newContent}, nil)
	require.NoError(t, err)

	assert.Equal(t, "new content", updated.Content)
	assert.Equal(t, "fact", updated.Category, "unspecified fields unchanged")
	assert.True(t, updated.UpdatedAt.After(before.UpdatedAt))
}

func TestUpdate_MissingReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	content := "x"
	_, err := s.Update(context.Background(), "ghost", ChunkUpdate{Content: &content}, nil)
	assert.True(t, mnerr.IsNotFound(err))
}

func TestUpdate_ContentChangeReindexesFTS(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, ChunkInput{Tier: TierShortTerm, Content: "zephyr protocol"}, nil)
	require.NoError(t, err)

	newContent := "quartz lattice"
	_, err = s.Update(ctx, id, ChunkUpdate{Content: &newContent}, nil)
	require.NoError(t, err)

	hits, err := s.SearchText(ctx, "quartz", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ChunkID)

	hits, err = s.SearchText(ctx, "zephyr", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestUpdate_TierRaisePromotes(t *testing.T) {
	// I4: promoted_at is set iff the mutation is a tier increase.
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, ChunkInput{Tier: TierShortTerm, Content: "x"}, nil)
	require.NoError(t, err)

	long := TierLongTerm
	updated, err := s.Update(ctx, id, ChunkUpdate{Tier: &long}, nil)
	require.NoError(t, err)
	assert.NotNil(t, updated.PromotedAt)
}

func TestDelete_CascadesToIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, ChunkInput{Tier: TierShortTerm, Content: "findable xylophone"}, unitVec(t, 2))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, id))

	_, err = s.Get(ctx, id)
	assert.True(t, mnerr.IsNotFound(err))

	hits, err := s.SearchText(ctx, "xylophone", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	assert.False(t, s.HasVector(id))
	indexed, err := s.HasTextIndex(ctx, id)
	require.NoError(t, err)
	assert.False(t, indexed)
}

func TestDelete_IdempotentOnMissing(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Delete(context.Background(), "never-existed"))
}

func TestPromote_SetsTierAndPromotedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, ChunkInput{Tier: TierShortTerm, Content: "x"}, nil)
	require.NoError(t, err)

	promoted, err := s.Promote(ctx, id, TierLongTerm)
	require.NoError(t, err)
	assert.Equal(t, TierLongTerm, promoted.Tier)
	assert.NotNil(t, promoted.PromotedAt)
}

func TestPromote_RejectsIllegalTransitions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		from   Tier
		target Tier
	}{
		{"same tier", TierShortTerm, TierShortTerm},
		{"downward", TierLongTerm, TierWorking},
		{"skip a tier", TierWorking, TierLongTerm},
		{"into episodic", TierShortTerm, TierEpisodic},
		{"out of episodic", TierEpisodic, TierLongTerm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := s.Insert(ctx, ChunkInput{Tier: tt.from, Content: "x"}, nil)
			require.NoError(t, err)

			_, err = s.Promote(ctx, id, tt.target)
			require.Error(t, err)
			assert.Equal(t, mnerr.ErrCodeInvalidTransition, mnerr.GetCode(err))
		})
	}
}

func TestGetByTier_PaginatesAndOrders(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := s.Insert(ctx, ChunkInput{Tier: TierShortTerm, Content: "c"}, nil)
		require.NoError(t, err)
		ids = append(ids, id)
		time.Sleep(2 * time.Millisecond)
	}

	// Default: created_at desc, newest first.
	chunks, err := s.GetByTier(ctx, TierShortTerm, ListOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 5)
	assert.Equal(t, ids[4], chunks[0].ID)

	// Ascending with limit and offset.
	chunks, err = s.GetByTier(ctx, TierShortTerm, ListOptions{Limit: 2, Offset: 1, Order: OrderAsc})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, ids[1], chunks[0].ID)
	assert.Equal(t, ids[2], chunks[1].ID)
}

func TestGetByPerson_FiltersExactly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, ChunkInput{Tier: TierLongTerm, Content: "a", Person: "Laura"}, nil)
	require.NoError(t, err)
	_, err = s.Insert(ctx, ChunkInput{Tier: TierLongTerm, Content: "b", Person: "Giannis"}, nil)
	require.NoError(t, err)

	chunks, err := s.GetByPerson(ctx, "Laura", ListOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a", chunks[0].Content)
}

func TestRecordAccess_IncrementsCounter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, ChunkInput{Tier: TierShortTerm, Content: "x"}, nil)
	require.NoError(t, err)

	require.NoError(t, s.RecordAccess(ctx, id))
	require.NoError(t, s.RecordAccess(ctx, id))

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AccessCount())

	// Missing id is a no-op.
	assert.NoError(t, s.RecordAccess(ctx, "ghost"))
}

func TestStats_CountsMatchInsertsMinusDeletes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, _ := s.Insert(ctx, ChunkInput{Tier: TierShortTerm, Content: "a", Category: "fact"}, nil)
	_, _ = s.Insert(ctx, ChunkInput{Tier: TierLongTerm, Content: "b", Category: "fact", Person: "Laura"}, nil)
	_, _ = s.Insert(ctx, ChunkInput{Tier: TierLongTerm, Content: "c", Category: "decision"}, nil)
	require.NoError(t, s.Delete(ctx, id1))

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalChunks)
	assert.Equal(t, 2, stats.ByTier[TierLongTerm])
	assert.Equal(t, 1, stats.ByCategory["fact"])
	assert.Equal(t, 1, stats.ByCategory["decision"])
	assert.Equal(t, 1, stats.ByPerson["Laura"])
	assert.NotNil(t, stats.Oldest)
	assert.NotNil(t, stats.Newest)
}

func TestClose_IsIdempotentAndFailsFurtherOps(t *testing.T) {
	s, err := Open(Options{Path: ":memory:", Dimensions: 8})
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Get(context.Background(), "x")
	assert.True(t, mnerr.IsClosed(err))
	_, err = s.Insert(context.Background(), ChunkInput{Tier: TierShortTerm, Content: "x"}, nil)
	assert.True(t, mnerr.IsClosed(err))
}

func TestUnicode_RoundTripsByteForByte(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := "Γειά σου 世界 🔥 — ο Ήφαιστος στο εργαστήριο"
	id, err := s.Insert(ctx, ChunkInput{Tier: TierShortTerm, Content: content}, nil)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, content, got.Content)
}

func TestLargeContent_StoredVerbatimAndSearchable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	content := strings.Repeat("the forge burns bright tonight ", 400) + "uniquemarker"
	require.Greater(t, len(content), 10*1024)

	id, err := s.Insert(ctx, ChunkInput{Tier: TierLongTerm, Content: content}, nil)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, content, got.Content)

	hits, err := s.SearchText(ctx, "uniquemarker", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ChunkID)
}

func TestDegradedMode_VectorOpsReturnEmpty(t *testing.T) {
	s, err := Open(Options{Path: ":memory:", Dimensions: 8, DisableVectors: true})
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	// Embedding is silently skipped; insert still succeeds.
	id, err := s.Insert(ctx, ChunkInput{Tier: TierShortTerm, Content: "degraded"}, unitVec(t, 1))
	require.NoError(t, err)
	assert.False(t, s.VectorEnabled())
	assert.False(t, s.HasVector(id))

	hits, err := s.SearchVector(ctx, unitVec(t, 1), 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestPersistence_SurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/mnemo.db"
	s, err := Open(Options{Path: path, Dimensions: 8})
	require.NoError(t, err)
	ctx := context.Background()

	id, err := s.Insert(ctx, ChunkInput{Tier: TierLongTerm, Content: "durable obsidian fact"}, unitVec(t, 3))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s2, err := Open(Options{Path: path, Dimensions: 8})
	require.NoError(t, err)
	defer s2.Close()

	got, err := s2.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "durable obsidian fact", got.Content)

	// Vector index rebuilt from durable rows.
	hits, err := s2.SearchVector(ctx, unitVec(t, 3), 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ChunkID)

	// FTS rows survived too.
	text, err := s2.SearchText(ctx, "obsidian", 5)
	require.NoError(t, err)
	require.Len(t, text, 1)
}

func TestSecondWriterProcessLockedOut(t *testing.T) {
	path := t.TempDir() + "/locked.db"
	s, err := Open(Options{Path: path, Dimensions: 8})
	require.NoError(t, err)
	defer s.Close()

	_, err = Open(Options{Path: path, Dimensions: 8})
	require.Error(t, err)
	assert.Equal(t, mnerr.ErrCodeLocked, mnerr.GetCode(err))
}
