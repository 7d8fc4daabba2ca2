package maint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
	"github.com/hephaestus-forge/mnemo/internal/store"
)

func newManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.Open(store.Options{Path: ":memory:", Dimensions: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, DefaultConfig()), s
}

func confPtr(v float64) *float64 { return &v }

func TestRunDecay_DeletesExpired(t *testing.T) {
	// S3 step 4: an already-expired chunk is hard-deleted.
	m, s := newManager(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Second)
	id, err := s.Insert(ctx, store.ChunkInput{
		Tier: store.TierShortTerm, Content: "ephemeral", ExpiresAt: &expired,
	}, nil)
	require.NoError(t, err)

	// I5: readable until the maintenance pass runs.
	_, err = s.Get(ctx, id)
	require.NoError(t, err)

	affected, err := m.RunDecay(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, affected, 1)

	_, err = s.Get(ctx, id)
	assert.True(t, mnerr.IsNotFound(err))
}

func TestRunDecay_DemotesStaleShortTerm(t *testing.T) {
	// S3 step 3: a short-term chunk inactive for 10 days demotes to
	// episodic.
	m, s := newManager(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, store.ChunkInput{Tier: store.TierShortTerm, Content: "old news"}, nil)
	require.NoError(t, err)

	backdated := time.Now().Add(-10 * 24 * time.Hour)
	_, err = s.Update(ctx, id, store.ChunkUpdate{UpdatedAt: &backdated}, nil)
	require.NoError(t, err)

	affected, err := m.RunDecay(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, affected, 1)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, store.TierEpisodic, got.Tier)

	// Demotion bumped updated_at; a second pass leaves it alone.
	affected, err = m.RunDecay(ctx)
	require.NoError(t, err)
	assert.Zero(t, affected)
}

func TestRunDecay_NeverTouchesLongTermOrWorking(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	backdated := time.Now().Add(-30 * 24 * time.Hour)
	long, err := s.Insert(ctx, store.ChunkInput{Tier: store.TierLongTerm, Content: "settled"}, nil)
	require.NoError(t, err)
	working, err := s.Insert(ctx, store.ChunkInput{Tier: store.TierWorking, Content: "active"}, nil)
	require.NoError(t, err)
	for _, id := range []string{long, working} {
		_, err = s.Update(ctx, id, store.ChunkUpdate{UpdatedAt: &backdated}, nil)
		require.NoError(t, err)
	}

	_, err = m.RunDecay(ctx)
	require.NoError(t, err)

	for _, tc := range []struct {
		id   string
		tier store.Tier
	}{{long, store.TierLongTerm}, {working, store.TierWorking}} {
		got, err := s.Get(ctx, tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.tier, got.Tier)
	}
}

func TestRunPromotion_Criteria(t *testing.T) {
	// S3 steps 1-2 plus the remaining any-of criteria.
	m, s := newManager(t)
	ctx := context.Background()

	highConf, err := s.Insert(ctx, store.ChunkInput{
		Tier: store.TierShortTerm, Content: "high-confidence fact", Confidence: confPtr(0.9)}, nil)
	require.NoError(t, err)

	lowConf, err := s.Insert(ctx, store.ChunkInput{
		Tier: store.TierShortTerm, Content: "low-confidence", Confidence: confPtr(0.3)}, nil)
	require.NoError(t, err)

	flagged, err := s.Insert(ctx, store.ChunkInput{
		Tier: store.TierShortTerm, Content: "flagged", Confidence: confPtr(0.1),
		Metadata: map[string]any{store.MetaImportant: true}}, nil)
	require.NoError(t, err)

	tagged, err := s.Insert(ctx, store.ChunkInput{
		Tier: store.TierShortTerm, Content: "tagged", Confidence: confPtr(0.1),
		Tags: store.StructuredTags{Concepts: []string{"remember"}}}, nil)
	require.NoError(t, err)

	accessed, err := s.Insert(ctx, store.ChunkInput{
		Tier: store.TierShortTerm, Content: "popular", Confidence: confPtr(0.1)}, nil)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordAccess(ctx, accessed))
	}

	promoted, err := m.RunPromotion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, promoted)

	for _, id := range []string{highConf, flagged, tagged, accessed} {
		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, store.TierLongTerm, got.Tier, "chunk %s", id)
		assert.NotNil(t, got.PromotedAt)
	}

	got, err := s.Get(ctx, lowConf)
	require.NoError(t, err)
	assert.Equal(t, store.TierShortTerm, got.Tier)
}

func TestRunVacuum_ReportsAffectedAndDuration(t *testing.T) {
	m, _ := newManager(t)

	report := m.RunVacuum(context.Background(), 3)
	assert.Equal(t, 3, report.Affected)
	assert.Empty(t, report.Errors)
	assert.GreaterOrEqual(t, report.DurationMS, int64(0))
}

func TestRunAll_CompositeReport(t *testing.T) {
	m, s := newManager(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Minute)
	_, err := s.Insert(ctx, store.ChunkInput{
		Tier: store.TierShortTerm, Content: "gone soon", ExpiresAt: &expired}, nil)
	require.NoError(t, err)
	_, err = s.Insert(ctx, store.ChunkInput{
		Tier: store.TierShortTerm, Content: "strong fact", Confidence: confPtr(0.95)}, nil)
	require.NoError(t, err)

	report, err := m.RunAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Decayed)
	assert.Equal(t, 1, report.Promoted)
	assert.Equal(t, 1, report.Vacuum.Affected)
}
