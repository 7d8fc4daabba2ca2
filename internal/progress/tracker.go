package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sessionState is the tracker's per-session view.
type sessionState struct {
	agentLabel string
	metrics    Metrics
	terminal   bool
}

// Tracker sits atop the store and stream: it maintains per-session
// metric counters, persists every event best-effort, and publishes to
// the stream. A terminal event locks the session against further
// emission.
type Tracker struct {
	store  *Store // may be nil: stream-only tracking
	stream *Stream

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewTracker creates a tracker. store may be nil.
func NewTracker(store *Store, stream *Stream) *Tracker {
	if stream == nil {
		stream = NewStream()
	}
	return &Tracker{
		store:    store,
		stream:   stream,
		sessions: make(map[string]*sessionState),
	}
}

// Stream returns the tracker's stream for subscribers.
func (t *Tracker) Stream() *Stream { return t.stream }

// Spawned records a session's creation.
func (t *Tracker) Spawned(ctx context.Context, sessionKey, agentLabel, parentKey string) {
	t.emit(ctx, sessionKey, EventSpawned, "agent spawned", func(state *sessionState, event *Event) {
		state.agentLabel = agentLabel
		event.AgentLabel = agentLabel
		event.Metadata.ParentSessionKey = parentKey
	})
}

// Started records the session beginning execution.
func (t *Tracker) Started(ctx context.Context, sessionKey, model string) {
	t.emit(ctx, sessionKey, EventStarted, "agent started", func(state *sessionState, event *Event) {
		event.Metadata.Model = model
	})
}

// Progress records a step of forward progress.
func (t *Tracker) Progress(ctx context.Context, sessionKey, message string, estimatedRemaining *int, confidence *float64) {
	t.emit(ctx, sessionKey, EventProgress, message, func(state *sessionState, event *Event) {
		state.metrics.StepsCompleted++
		state.metrics.EstimatedRemaining = estimatedRemaining
		state.metrics.Confidence = confidence
	})
}

// ToolCall records a tool invocation.
func (t *Tracker) ToolCall(ctx context.Context, sessionKey, toolName string, duration time.Duration) {
	t.emit(ctx, sessionKey, EventToolCall, "tool call: "+toolName, func(state *sessionState, event *Event) {
		state.metrics.ToolCallCount++
		event.Metadata.ToolName = toolName
		event.Metadata.DurationMS = duration.Milliseconds()
	})
}

// Thinking records a thinking block.
func (t *Tracker) Thinking(ctx context.Context, sessionKey string) {
	t.emit(ctx, sessionKey, EventThinking, "thinking", func(state *sessionState, event *Event) {
		state.metrics.ThinkingBlockCount++
	})
}

// Completed records successful termination and locks the session.
func (t *Tracker) Completed(ctx context.Context, sessionKey, message string) {
	t.emit(ctx, sessionKey, EventCompleted, message, func(state *sessionState, event *Event) {
		state.terminal = true
	})
}

// Failed records failed termination and locks the session.
func (t *Tracker) Failed(ctx context.Context, sessionKey string, failure error) {
	t.emit(ctx, sessionKey, EventFailed, "agent failed", func(state *sessionState, event *Event) {
		state.terminal = true
		if failure != nil {
			event.Metadata.Error = failure.Error()
		}
	})
}

// IsTerminal reports whether the session has emitted a terminal event.
func (t *Tracker) IsTerminal(sessionKey string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.sessions[sessionKey]
	return ok && state.terminal
}

// emit builds the event under the session lock, persists best-effort,
// and publishes. Emission against a terminal session is dropped.
func (t *Tracker) emit(ctx context.Context, sessionKey string, eventType EventType, message string, mutate func(*sessionState, *Event)) {
	if sessionKey == "" {
		return
	}

	t.mu.Lock()
	state, ok := t.sessions[sessionKey]
	if !ok {
		state = &sessionState{}
		t.sessions[sessionKey] = state
	}
	if state.terminal {
		t.mu.Unlock()
		slog.Debug("progress_emit_after_terminal",
			slog.String("session", sessionKey),
			slog.String("type", string(eventType)))
		return
	}

	event := &Event{
		Timestamp:  time.Now(),
		SessionKey: sessionKey,
		AgentLabel: state.agentLabel,
		Type:       eventType,
		Message:    message,
	}
	if mutate != nil {
		mutate(state, event)
	}
	event.Metrics = state.metrics
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.Insert(ctx, event); err != nil {
			// Best-effort persistence: log, never propagate.
			slog.Warn("progress_persist_failed",
				slog.String("session", sessionKey),
				slog.String("type", string(eventType)),
				slog.String("error", err.Error()))
		}
	}

	t.stream.Publish(event)
}
