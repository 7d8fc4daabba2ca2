package progress

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
)

func newProgressStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func intPtr(v int) *int { return &v }

func TestInsertAndGet(t *testing.T) {
	s := newProgressStore(t)
	ctx := context.Background()

	event := &Event{
		SessionKey: "sess-1",
		AgentLabel: "researcher",
		Type:       EventSpawned,
		Message:    "agent spawned",
		Metadata:   Metadata{ParentSessionKey: "root"},
	}
	require.NoError(t, s.Insert(ctx, event))
	require.NotEmpty(t, event.EventID, "id assigned on insert")

	got, err := s.Get(ctx, event.EventID)
	require.NoError(t, err)
	assert.Equal(t, "sess-1", got.SessionKey)
	assert.Equal(t, EventSpawned, got.Type)
	assert.Equal(t, "root", got.Metadata.ParentSessionKey)
}

func TestInsert_Validation(t *testing.T) {
	s := newProgressStore(t)
	ctx := context.Background()

	err := s.Insert(ctx, &Event{Type: EventStarted})
	assert.Equal(t, mnerr.ErrCodeInvalidArgument, mnerr.GetCode(err))

	err = s.Insert(ctx, &Event{SessionKey: "x", Type: "EXPLODED"})
	assert.Equal(t, mnerr.ErrCodeInvalidArgument, mnerr.GetCode(err))
}

func TestQuery_OrdersByTimestampThenInsertion(t *testing.T) {
	s := newProgressStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)

	// Insert out of timestamp order, with a timestamp tie.
	events := []*Event{
		{SessionKey: "sess-1", Type: EventProgress, Message: "second", Timestamp: base.Add(time.Second)},
		{SessionKey: "sess-1", Type: EventStarted, Message: "first", Timestamp: base},
		{SessionKey: "sess-1", Type: EventProgress, Message: "tie-a", Timestamp: base.Add(2 * time.Second)},
		{SessionKey: "sess-1", Type: EventProgress, Message: "tie-b", Timestamp: base.Add(2 * time.Second)},
	}
	for _, e := range events {
		require.NoError(t, s.Insert(ctx, e))
	}

	got, err := s.Query(ctx, Criteria{SessionKey: "sess-1"})
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "second", got[1].Message)
	// Tie broken by insertion order.
	assert.Equal(t, "tie-a", got[2].Message)
	assert.Equal(t, "tie-b", got[3].Message)
}

func TestQuery_FiltersByTypeAndWindow(t *testing.T) {
	s := newProgressStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "a", Type: EventStarted, Timestamp: base}))
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "a", Type: EventToolCall, Timestamp: base.Add(time.Second)}))
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "b", Type: EventToolCall, Timestamp: base.Add(2 * time.Second)}))

	got, err := s.Query(ctx, Criteria{Types: []EventType{EventToolCall}})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	since := base.Add(1500 * time.Millisecond)
	got, err = s.Query(ctx, Criteria{Types: []EventType{EventToolCall}, Since: &since})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].SessionKey)

	got, err = s.Query(ctx, Criteria{SessionKey: "a", Limit: 1})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestLatestForSession(t *testing.T) {
	s := newProgressStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "sess", Type: EventStarted, Timestamp: base}))
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "sess", Type: EventProgress, Message: "latest", Timestamp: base.Add(time.Second)}))

	latest, err := s.LatestForSession(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, "latest", latest.Message)

	_, err = s.LatestForSession(ctx, "ghost")
	assert.True(t, mnerr.IsNotFound(err))
}

func TestActiveSessions_ExcludesTerminal(t *testing.T) {
	s := newProgressStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "running", Type: EventStarted}))
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "done", Type: EventStarted}))
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "done", Type: EventCompleted}))
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "broken", Type: EventFailed}))

	active, err := s.ActiveSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"running"}, active)
}

func TestAggregate(t *testing.T) {
	s := newProgressStore(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Millisecond)
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "sess", Type: EventStarted, Timestamp: base}))
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "sess", Type: EventToolCall,
		Metadata: Metadata{ToolName: "grep"}, Timestamp: base.Add(time.Second)}))
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "sess", Type: EventToolCall,
		Metadata: Metadata{ToolName: "read"}, Timestamp: base.Add(2 * time.Second)}))
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "sess", Type: EventProgress,
		Metrics: Metrics{StepsCompleted: 3, EstimatedRemaining: intPtr(1)}, Timestamp: base.Add(3 * time.Second)}))

	summary, err := s.Aggregate(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 2, summary.CountsByType[EventToolCall])
	assert.Equal(t, []string{"grep", "read"}, summary.UniqueTools)
	assert.Equal(t, int64(3000), summary.ElapsedMS)
	assert.InDelta(t, 75.0, summary.CompletionPercent, 1e-9)
	assert.False(t, summary.Terminal)

	// Terminal pins completion to 100.
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "sess", Type: EventCompleted, Timestamp: base.Add(4 * time.Second)}))
	summary, err = s.Aggregate(ctx, "sess")
	require.NoError(t, err)
	assert.Equal(t, 100.0, summary.CompletionPercent)
	assert.True(t, summary.Terminal)
}

func TestDeleteSession_Cascades(t *testing.T) {
	s := newProgressStore(t)
	ctx := context.Background()

	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "gone", Type: EventStarted}))
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "gone", Type: EventCompleted}))
	require.NoError(t, s.Insert(ctx, &Event{SessionKey: "kept", Type: EventStarted}))

	deleted, err := s.DeleteSession(ctx, "gone")
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	events, err := s.EventsForSession(ctx, "gone")
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = s.EventsForSession(ctx, "kept")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestStoreClose_Idempotent(t *testing.T) {
	s, err := OpenStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err = s.Insert(context.Background(), &Event{SessionKey: "x", Type: EventStarted})
	assert.True(t, mnerr.IsClosed(err))
}
