package progress

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
)

// Store is the persistent progress event log. Events order by timestamp
// with insertion order breaking ties (the seq column).
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	closed bool
}

// OpenStore opens (or creates) the progress event database at path.
// The schema is independent from the chunk store; the same physical
// file may host both by composition.
func OpenStore(path string) (*Store, error) {
	dsn := path
	if path == "" {
		dsn = ":memory:"
	} else if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeConfigInvalid, err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeCorrupt, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, mnerr.Wrap(mnerr.ErrCodeCorrupt, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS progress_events (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		event_id    TEXT NOT NULL UNIQUE,
		timestamp   INTEGER NOT NULL,
		session_key TEXT NOT NULL,
		agent_label TEXT NOT NULL DEFAULT '',
		event_type  TEXT NOT NULL,
		message     TEXT NOT NULL DEFAULT '',
		metrics     TEXT NOT NULL DEFAULT '{}',
		metadata    TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_progress_session ON progress_events(session_key, timestamp);
	CREATE INDEX IF NOT EXISTS idx_progress_type ON progress_events(event_type);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, mnerr.Wrap(mnerr.ErrCodeCorrupt, err)
	}

	return &Store{db: db}, nil
}

// Insert appends an event to the log. A missing EventID or Timestamp is
// assigned.
func (s *Store) Insert(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mnerr.Closed("progress store")
	}
	if event.SessionKey == "" {
		return mnerr.InvalidArgument("session key is required")
	}
	if !event.Type.Valid() {
		return mnerr.InvalidArgument("invalid event type: " + string(event.Type))
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	metrics, err := json.Marshal(event.Metrics)
	if err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO progress_events (event_id, timestamp, session_key, agent_label, event_type, message, metrics, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.Timestamp.UnixMilli(), event.SessionKey,
		event.AgentLabel, string(event.Type), event.Message,
		string(metrics), string(metadata))
	if err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return nil
}

// Get returns the event by id, or NotFound.
func (s *Store) Get(ctx context.Context, eventID string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("progress store")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, timestamp, session_key, agent_label, event_type, message, metrics, metadata
		FROM progress_events WHERE event_id = ?`, eventID)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, mnerr.NotFound("progress event", eventID)
	}
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return event, nil
}

// LatestForSession returns the session's most recent event, or NotFound.
func (s *Store) LatestForSession(ctx context.Context, sessionKey string) (*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("progress store")
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT event_id, timestamp, session_key, agent_label, event_type, message, metrics, metadata
		FROM progress_events WHERE session_key = ?
		ORDER BY timestamp DESC, seq DESC LIMIT 1`, sessionKey)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, mnerr.NotFound("progress session", sessionKey)
	}
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return event, nil
}

// Query returns events matching the criteria, ordered by timestamp with
// insertion order breaking ties.
func (s *Store) Query(ctx context.Context, criteria Criteria) ([]*Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("progress store")
	}

	var conds []string
	var args []any
	if criteria.SessionKey != "" {
		conds = append(conds, "session_key = ?")
		args = append(args, criteria.SessionKey)
	}
	if len(criteria.Types) > 0 {
		placeholders := make([]string, len(criteria.Types))
		for i, t := range criteria.Types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, "event_type IN ("+strings.Join(placeholders, ",")+")")
	}
	if criteria.Since != nil {
		conds = append(conds, "timestamp >= ?")
		args = append(args, criteria.Since.UnixMilli())
	}
	if criteria.Until != nil {
		conds = append(conds, "timestamp <= ?")
		args = append(args, criteria.Until.UnixMilli())
	}

	query := `SELECT event_id, timestamp, session_key, agent_label, event_type, message, metrics, metadata
		FROM progress_events`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY timestamp, seq"
	if criteria.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, criteria.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	if events == nil {
		events = []*Event{}
	}
	return events, nil
}

// EventsForSession returns the session's full event list in order.
func (s *Store) EventsForSession(ctx context.Context, sessionKey string) ([]*Event, error) {
	return s.Query(ctx, Criteria{SessionKey: sessionKey})
}

// ActiveSessions enumerates sessions with no terminal event.
func (s *Store) ActiveSessions(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("progress store")
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT session_key FROM progress_events
		WHERE session_key NOT IN (
			SELECT session_key FROM progress_events WHERE event_type IN (?, ?)
		)
		ORDER BY session_key`,
		string(EventCompleted), string(EventFailed))
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	defer rows.Close()

	var sessions []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
		sessions = append(sessions, key)
	}
	if err := rows.Err(); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return sessions, nil
}

// Aggregate summarizes a session: counts by type, unique tools, elapsed
// window, and an estimated completion percentage.
func (s *Store) Aggregate(ctx context.Context, sessionKey string) (*Summary, error) {
	events, err := s.EventsForSession(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, mnerr.NotFound("progress session", sessionKey)
	}

	summary := &Summary{
		SessionKey:   sessionKey,
		CountsByType: make(map[EventType]int),
	}

	tools := make(map[string]struct{})
	for _, event := range events {
		summary.CountsByType[event.Type]++
		if event.Type.Terminal() {
			summary.Terminal = true
		}
		if event.Metadata.ToolName != "" {
			tools[event.Metadata.ToolName] = struct{}{}
		}
	}
	for tool := range tools {
		summary.UniqueTools = append(summary.UniqueTools, tool)
	}
	sort.Strings(summary.UniqueTools)

	first, last := events[0], events[len(events)-1]
	summary.ElapsedMS = last.Timestamp.UnixMilli() - first.Timestamp.UnixMilli()
	summary.CompletionPercent = completionPercent(last, summary.Terminal)

	return summary, nil
}

// completionPercent estimates progress from the latest metrics; a
// terminal event pins it to 100.
func completionPercent(latest *Event, terminal bool) float64 {
	if terminal {
		return 100
	}
	m := latest.Metrics
	if m.EstimatedRemaining == nil {
		return 0
	}
	total := m.StepsCompleted + *m.EstimatedRemaining
	if total == 0 {
		return 0
	}
	return 100 * float64(m.StepsCompleted) / float64(total)
}

// DeleteSession removes all of a session's events (thread delete cascade).
func (s *Store) DeleteSession(ctx context.Context, sessionKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, mnerr.Closed("progress store")
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM progress_events WHERE session_key = ?`, sessionKey)
	if err != nil {
		return 0, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	affected, _ := result.RowsAffected()
	return int(affected), nil
}

// Close closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func scanEvent(row interface{ Scan(...any) error }) (*Event, error) {
	var event Event
	var eventType, metricsRaw, metadataRaw string
	var timestampMs int64

	err := row.Scan(&event.EventID, &timestampMs, &event.SessionKey,
		&event.AgentLabel, &eventType, &event.Message, &metricsRaw, &metadataRaw)
	if err != nil {
		return nil, err
	}

	event.Timestamp = time.UnixMilli(timestampMs)
	event.Type = EventType(eventType)
	if err := json.Unmarshal([]byte(metricsRaw), &event.Metrics); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(metadataRaw), &event.Metadata); err != nil {
		return nil, err
	}
	return &event, nil
}
