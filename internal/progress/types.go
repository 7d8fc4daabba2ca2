// Package progress is the orchestration progress core: a persistent log
// of sub-agent progress events, an in-process pub/sub stream, and a
// tracker that feeds both.
package progress

import (
	"time"
)

// EventType classifies a progress event.
type EventType string

const (
	EventSpawned   EventType = "SPAWNED"
	EventStarted   EventType = "STARTED"
	EventProgress  EventType = "PROGRESS"
	EventToolCall  EventType = "TOOL_CALL"
	EventThinking  EventType = "THINKING"
	EventCompleted EventType = "COMPLETED"
	EventFailed    EventType = "FAILED"
)

// Valid reports whether the type is one of the seven event types.
func (t EventType) Valid() bool {
	switch t {
	case EventSpawned, EventStarted, EventProgress, EventToolCall,
		EventThinking, EventCompleted, EventFailed:
		return true
	}
	return false
}

// Terminal reports whether the type ends a session.
func (t EventType) Terminal() bool {
	return t == EventCompleted || t == EventFailed
}

// Metrics carries the session's progress counters at event time.
type Metrics struct {
	StepsCompleted     int      `json:"steps_completed"`
	EstimatedRemaining *int     `json:"estimated_remaining,omitempty"`
	Confidence         *float64 `json:"confidence,omitempty"`
	ToolCallCount      int      `json:"tool_call_count"`
	ThinkingBlockCount int      `json:"thinking_block_count"`
}

// Metadata carries event-specific context.
type Metadata struct {
	ParentSessionKey string `json:"parent_session_key,omitempty"`
	ToolName         string `json:"tool_name,omitempty"`
	DurationMS       int64  `json:"duration_ms,omitempty"`
	Error            string `json:"error,omitempty"`
	Model            string `json:"model,omitempty"`
}

// Event is one entry in the monotonically-growing progress log.
type Event struct {
	EventID    string
	Timestamp  time.Time
	SessionKey string
	AgentLabel string
	Type       EventType
	Message    string
	Metrics    Metrics
	Metadata   Metadata
}

// Criteria filters Query.
type Criteria struct {
	SessionKey string
	Types      []EventType
	Since      *time.Time
	Until      *time.Time
	Limit      int
}

// Summary aggregates a session's event history.
type Summary struct {
	SessionKey        string
	CountsByType      map[EventType]int
	UniqueTools       []string
	ElapsedMS         int64
	CompletionPercent float64
	Terminal          bool
}
