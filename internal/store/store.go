package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)

	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
)

// Options configures the chunk store.
type Options struct {
	// Path is the database file path. ":memory:" keeps everything in RAM
	// (and skips the directory lock).
	Path string

	// Dimensions is the embedding dimension D. Vectors of any other
	// length are rejected.
	Dimensions int

	// DisableVectors opens the store in degraded mode: vector rows are
	// neither written nor indexed, and vector search returns empty.
	DisableVectors bool
}

// Store is the transactional chunk store with synchronized inverted and
// vector indexes. All statements, reads and writes alike, run through a
// single connection.
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	vec    *vectorIndex
	lock   *flock.Flock
	opts   Options
	closed bool
}

// Open opens (or creates) the store at opts.Path and migrates the schema.
// A second writer process fails fast on the directory lock.
func Open(opts Options) (*Store, error) {
	if opts.Dimensions <= 0 {
		opts.Dimensions = 384
	}

	var dirLock *flock.Flock
	dsn := opts.Path
	if opts.Path == ":memory:" || opts.Path == "" {
		dsn = ":memory:"
	} else {
		dir := filepath.Dir(opts.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeConfigInvalid, err)
		}

		dirLock = flock.New(opts.Path + ".lock")
		locked, err := dirLock.TryLock()
		if err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeLocked, err)
		}
		if !locked {
			return nil, mnerr.New(mnerr.ErrCodeLocked,
				fmt.Sprintf("database %s is locked by another process", opts.Path), nil)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		releaseLock(dirLock)
		return nil, mnerr.Wrap(mnerr.ErrCodeCorrupt, err)
	}

	// One connection for all statements to prevent lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			releaseLock(dirLock)
			return nil, mnerr.Wrap(mnerr.ErrCodeCorrupt, err)
		}
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		releaseLock(dirLock)
		return nil, mnerr.Wrap(mnerr.ErrCodeSchemaVersion, err)
	}

	s := &Store{
		db:   db,
		opts: opts,
		lock: dirLock,
	}

	if !opts.DisableVectors {
		s.vec = newVectorIndex(opts.Dimensions)
		if err := s.loadVectors(); err != nil {
			_ = db.Close()
			releaseLock(dirLock)
			return nil, err
		}
	}

	return s, nil
}

func releaseLock(l *flock.Flock) {
	if l != nil {
		_ = l.Unlock()
	}
}

// loadVectors rebuilds the in-memory HNSW graph from chunk_embeddings.
func (s *Store) loadVectors() error {
	rows, err := s.db.Query(`SELECT chunk_id, vector FROM chunk_embeddings`)
	if err != nil {
		return mnerr.Wrap(mnerr.ErrCodeCorrupt, err)
	}
	defer rows.Close()

	count := 0
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return mnerr.Wrap(mnerr.ErrCodeCorrupt, err)
		}
		if err := s.vec.add(id, decodeVector(blob)); err != nil {
			return err
		}
		count++
	}
	if err := rows.Err(); err != nil {
		return mnerr.Wrap(mnerr.ErrCodeCorrupt, err)
	}

	if count > 0 {
		slog.Debug("vector_index_loaded", slog.Int("vectors", count))
	}
	return nil
}

// VectorEnabled reports whether vector search is available.
func (s *Store) VectorEnabled() bool {
	return s.vec != nil
}

// Dimensions returns the configured embedding dimension.
func (s *Store) Dimensions() int {
	return s.opts.Dimensions
}

// nowMillis truncates to the store's millisecond timestamp resolution.
func nowMillis() time.Time {
	return time.Now().Truncate(time.Millisecond)
}

// Insert stores a new chunk, its inverted-index row, and (when provided
// and vectors are enabled) its vector row in a single transaction.
// Returns the new chunk id.
func (s *Store) Insert(ctx context.Context, input ChunkInput, embedding []float32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", mnerr.Closed("store")
	}
	if !input.Tier.Valid() {
		return "", mnerr.InvalidTier(string(input.Tier))
	}
	if !input.HorizonCategory.Valid() {
		return "", mnerr.New(mnerr.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid horizon category: %q", input.HorizonCategory), nil)
	}

	useVector := embedding != nil && s.vec != nil
	if useVector {
		if err := validateEmbedding(embedding, s.opts.Dimensions); err != nil {
			return "", err
		}
	}

	id := uuid.NewString()
	now := nowMillis()
	tags := input.Tags.Normalized()

	confidence := 1.0
	if input.Confidence != nil {
		confidence = *input.Confidence
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return "", mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	metaJSON, err := encodeMetadata(input.Metadata)
	if err != nil {
		return "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunks (id, tier, content, summary, source, category, person,
			tags, confidence, created_at, updated_at, promoted_at, expires_at,
			metadata, relevance_horizon, horizon_reasoning, horizon_confidence, horizon_category)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, ?, ?, ?, ?, ?, ?)`,
		id, string(input.Tier), input.Content, input.Summary, input.Source,
		input.Category, input.Person, string(tagsJSON), confidence,
		now.UnixMilli(), now.UnixMilli(), millisOrNil(input.ExpiresAt), string(metaJSON),
		millisOrNil(input.RelevanceHorizon), input.HorizonReasoning,
		input.HorizonConfidence, string(input.HorizonCategory))
	if err != nil {
		return "", mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chunks_fts (chunk_id, body) VALUES (?, ?)`,
		id, ftsBody(input.Content, input.Summary, tags)); err != nil {
		return "", mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}

	if useVector {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunk_embeddings (chunk_id, vector, dims) VALUES (?, ?, ?)`,
			id, encodeVector(embedding), len(embedding)); err != nil {
			return "", mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}

	if useVector {
		if err := s.vec.add(id, embedding); err != nil {
			// The durable row committed; the graph rebuilds from it on
			// next open. Should not happen after validateEmbedding.
			slog.Error("vector_index_add_failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}

	return id, nil
}

// Update applies a partial update to the chunk. Mutating content,
// summary, or tags rewrites the inverted-index row from the merged
// state; a new embedding replaces the vector row. Transactional.
func (s *Store) Update(ctx context.Context, id string, upd ChunkUpdate, embedding []float32) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, mnerr.Closed("store")
	}

	current, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	if upd.Tier != nil && !upd.Tier.Valid() {
		return nil, mnerr.InvalidTier(string(*upd.Tier))
	}
	if upd.HorizonCategory != nil && !upd.HorizonCategory.Valid() {
		return nil, mnerr.New(mnerr.ErrCodeInvalidArgument,
			fmt.Sprintf("invalid horizon category: %q", *upd.HorizonCategory), nil)
	}

	useVector := embedding != nil && s.vec != nil
	if useVector {
		if err := validateEmbedding(embedding, s.opts.Dimensions); err != nil {
			return nil, err
		}
	}

	merged := applyUpdate(current, upd)

	tagsJSON, err := json.Marshal(merged.Tags)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	metaJSON, err := encodeMetadata(merged.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		UPDATE chunks SET tier = ?, content = ?, summary = ?, source = ?,
			category = ?, person = ?, tags = ?, confidence = ?, updated_at = ?,
			promoted_at = ?, expires_at = ?, metadata = ?, relevance_horizon = ?,
			horizon_reasoning = ?, horizon_confidence = ?, horizon_category = ?
		WHERE id = ?`,
		string(merged.Tier), merged.Content, merged.Summary, merged.Source,
		merged.Category, merged.Person, string(tagsJSON), merged.Confidence,
		merged.UpdatedAt.UnixMilli(), millisOrNil(merged.PromotedAt),
		millisOrNil(merged.ExpiresAt), string(metaJSON),
		millisOrNil(merged.RelevanceHorizon), merged.HorizonReasoning,
		merged.HorizonConfidence, string(merged.HorizonCategory), id)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}

	if upd.touchesIndex() {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks_fts WHERE chunk_id = ?`, id); err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks_fts (chunk_id, body) VALUES (?, ?)`,
			id, ftsBody(merged.Content, merged.Summary, merged.Tags)); err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
	}

	if useVector {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chunk_embeddings (chunk_id, vector, dims) VALUES (?, ?, ?)
			ON CONFLICT(chunk_id) DO UPDATE SET vector = excluded.vector, dims = excluded.dims`,
			id, encodeVector(embedding), len(embedding)); err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}

	if useVector {
		if err := s.vec.add(id, embedding); err != nil {
			slog.Error("vector_index_add_failed", slog.String("id", id), slog.String("error", err.Error()))
		}
	}

	return merged, nil
}

// applyUpdate merges a partial update into a copy of current.
// updated_at always bumps; promoted_at is set iff the tier strictly
// rises on the promotion lattice.
func applyUpdate(current *Chunk, upd ChunkUpdate) *Chunk {
	merged := *current
	now := nowMillis()
	if upd.UpdatedAt != nil {
		now = *upd.UpdatedAt
	}
	// updated_at is monotonically non-decreasing.
	if now.Before(current.UpdatedAt) && upd.UpdatedAt == nil {
		now = current.UpdatedAt
	}
	merged.UpdatedAt = now

	if upd.Tier != nil && *upd.Tier != current.Tier {
		if upd.Tier.Rank() > current.Tier.Rank() && current.Tier.Rank() >= 0 {
			promotedAt := now
			merged.PromotedAt = &promotedAt
		}
		merged.Tier = *upd.Tier
	}
	if upd.Content != nil {
		merged.Content = *upd.Content
	}
	if upd.Summary != nil {
		merged.Summary = *upd.Summary
	}
	if upd.Source != nil {
		merged.Source = *upd.Source
	}
	if upd.Category != nil {
		merged.Category = *upd.Category
	}
	if upd.Person != nil {
		merged.Person = *upd.Person
	}
	if upd.Tags != nil {
		merged.Tags = upd.Tags.Normalized()
	}
	if upd.Confidence != nil {
		merged.Confidence = *upd.Confidence
	}
	if upd.ClearExpiresAt {
		merged.ExpiresAt = nil
	} else if upd.ExpiresAt != nil {
		merged.ExpiresAt = upd.ExpiresAt
	}
	if upd.Metadata != nil {
		merged.Metadata = upd.Metadata
	}
	if upd.RelevanceHorizon != nil {
		merged.RelevanceHorizon = upd.RelevanceHorizon
	}
	if upd.HorizonReasoning != nil {
		merged.HorizonReasoning = *upd.HorizonReasoning
	}
	if upd.HorizonConfidence != nil {
		merged.HorizonConfidence = upd.HorizonConfidence
	}
	if upd.HorizonCategory != nil {
		merged.HorizonCategory = *upd.HorizonCategory
	}
	return &merged
}

// Delete removes the chunk and cascades to both indexes.
// Idempotent on missing ids.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mnerr.Closed("store")
	}
	return s.deleteLocked(ctx, id)
}

func (s *Store) deleteLocked(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{
		`DELETE FROM chunks WHERE id = ?`,
		`DELETE FROM chunks_fts WHERE chunk_id = ?`,
		`DELETE FROM chunk_embeddings WHERE chunk_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}

	if s.vec != nil {
		s.vec.remove(id)
	}
	return nil
}

// Get returns the chunk by id, or NotFound.
func (s *Store) Get(ctx context.Context, id string) (*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("store")
	}
	return s.getLocked(ctx, id)
}

const chunkColumns = `id, tier, content, summary, source, category, person, tags,
	confidence, created_at, updated_at, promoted_at, expires_at, metadata,
	relevance_horizon, horizon_reasoning, horizon_confidence, horizon_category`

func (s *Store) getLocked(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	chunk, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, mnerr.NotFound("chunk", id)
	}
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return chunk, nil
}

// GetMany loads chunks by id, skipping missing ids, preserving input order.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("store")
	}
	if len(ids) == 0 {
		return []*Chunk{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	defer rows.Close()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
		byID[chunk.ID] = chunk
	}
	if err := rows.Err(); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}

	chunks := make([]*Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// GetByTier pages chunks of one tier.
func (s *Store) GetByTier(ctx context.Context, tier Tier, opts ListOptions) ([]*Chunk, error) {
	if !tier.Valid() {
		return nil, mnerr.InvalidTier(string(tier))
	}
	return s.list(ctx, `tier = ?`, string(tier), opts)
}

// GetByPerson pages chunks scoped to the exact person.
func (s *Store) GetByPerson(ctx context.Context, person string, opts ListOptions) ([]*Chunk, error) {
	return s.list(ctx, `person = ?`, person, opts)
}

func (s *Store) list(ctx context.Context, where string, arg any, opts ListOptions) ([]*Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("store")
	}

	opts = opts.normalized()
	query := fmt.Sprintf(
		`SELECT %s FROM chunks WHERE %s ORDER BY %s %s LIMIT ? OFFSET ?`,
		chunkColumns, where, opts.OrderBy, strings.ToUpper(string(opts.Order)))

	rows, err := s.db.QueryContext(ctx, query, arg, opts.Limit, opts.Offset)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	defer rows.Close()

	return scanChunks(rows)
}

// Promote raises the chunk to the next tier on the lattice and stamps
// promoted_at. Skipping a tier is invalid. Episodic is off-lattice;
// transitions touching it are invalid here.
func (s *Store) Promote(ctx context.Context, id string, target Tier) (*Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, mnerr.Closed("store")
	}
	if !target.Valid() {
		return nil, mnerr.InvalidTier(string(target))
	}

	current, err := s.getLocked(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.Tier.Rank() < 0 || target.Rank() < 0 || target.Rank() != current.Tier.Rank()+1 {
		return nil, mnerr.InvalidTransition(string(current.Tier), string(target))
	}

	now := nowMillis()
	_, err = s.db.ExecContext(ctx,
		`UPDATE chunks SET tier = ?, promoted_at = ?, updated_at = ? WHERE id = ?`,
		string(target), now.UnixMilli(), now.UnixMilli(), id)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}

	current.Tier = target
	current.PromotedAt = &now
	current.UpdatedAt = now
	return current, nil
}

// Demote moves a short-term chunk to episodic. Used by the decay pass;
// bumps updated_at so the chunk isn't immediately re-swept.
func (s *Store) Demote(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mnerr.Closed("store")
	}

	current, err := s.getLocked(ctx, id)
	if err != nil {
		return err
	}
	if current.Tier != TierShortTerm {
		return mnerr.InvalidTransition(string(current.Tier), string(TierEpisodic))
	}

	now := nowMillis()
	_, err = s.db.ExecContext(ctx,
		`UPDATE chunks SET tier = ?, updated_at = ? WHERE id = ?`,
		string(TierEpisodic), now.UnixMilli(), id)
	if err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return nil
}

// RecordAccess increments the chunk's access counter and bumps
// updated_at. Missing chunks are a no-op.
func (s *Store) RecordAccess(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mnerr.Closed("store")
	}

	current, err := s.getLocked(ctx, id)
	if mnerr.IsNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}

	meta := current.Metadata
	if meta == nil {
		meta = make(map[string]any)
	}
	meta[MetaAccessCount] = current.AccessCount() + 1

	metaJSON, err := encodeMetadata(meta)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`UPDATE chunks SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(metaJSON), nowMillis().UnixMilli(), id)
	if err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return nil
}

// Close releases the database and the directory lock. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	err := s.db.Close()
	releaseLock(s.lock)
	return err
}

// rowScanner abstracts sql.Row and sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanChunk(row rowScanner) (*Chunk, error) {
	var (
		c                      Chunk
		tier, tagsRaw, metaRaw string
		horizonCat             string
		createdMs, updatedMs   int64
		promotedMs, expiresMs  sql.NullInt64
		horizonMs              sql.NullInt64
		horizonConf            sql.NullFloat64
	)

	err := row.Scan(&c.ID, &tier, &c.Content, &c.Summary, &c.Source, &c.Category,
		&c.Person, &tagsRaw, &c.Confidence, &createdMs, &updatedMs, &promotedMs,
		&expiresMs, &metaRaw, &horizonMs, &c.HorizonReasoning, &horizonConf, &horizonCat)
	if err != nil {
		return nil, err
	}

	c.Tier = Tier(tier)
	c.HorizonCategory = HorizonCategory(horizonCat)
	c.CreatedAt = time.UnixMilli(createdMs)
	c.UpdatedAt = time.UnixMilli(updatedMs)
	c.PromotedAt = timeOrNil(promotedMs)
	c.ExpiresAt = timeOrNil(expiresMs)
	c.RelevanceHorizon = timeOrNil(horizonMs)
	if horizonConf.Valid {
		c.HorizonConfidence = &horizonConf.Float64
	}

	tags, err := decodeTags([]byte(tagsRaw))
	if err != nil {
		return nil, fmt.Errorf("chunk %s: decode tags: %w", c.ID, err)
	}
	c.Tags = tags

	if metaRaw != "" && metaRaw != "{}" {
		if err := json.Unmarshal([]byte(metaRaw), &c.Metadata); err != nil {
			return nil, fmt.Errorf("chunk %s: decode metadata: %w", c.ID, err)
		}
	}

	return &c, nil
}

func scanChunks(rows *sql.Rows) ([]*Chunk, error) {
	var chunks []*Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
		chunks = append(chunks, chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	if chunks == nil {
		chunks = []*Chunk{}
	}
	return chunks, nil
}

func encodeMetadata(meta map[string]any) (string, error) {
	if meta == nil {
		return "{}", nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return "", mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return string(data), nil
}

func millisOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func timeOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}

// ftsBody builds the inverted-index row text from content, summary, and
// flattened tags, so keyword search finds tag values.
func ftsBody(content, summary string, tags StructuredTags) string {
	parts := []string{content}
	if summary != "" {
		parts = append(parts, summary)
	}
	if flat := tags.Flatten(); len(flat) > 0 {
		parts = append(parts, strings.Join(flat, " "))
	}
	return strings.Join(parts, "\n")
}
