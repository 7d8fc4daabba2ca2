package store

import (
	"context"
	"time"

	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
)

// TagEmbedding is a stored vector for a (value, dimension) tag pair,
// independent from chunk embeddings.
type TagEmbedding struct {
	Value     string
	Dimension string
	Vector    []float32
	UpdatedAt time.Time
}

// UpsertTagEmbedding stores the vector for the tag pair.
// Last write wins on the vector blob.
func (s *Store) UpsertTagEmbedding(ctx context.Context, value, dimension string, vector []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mnerr.Closed("store")
	}
	if value == "" || dimension == "" {
		return mnerr.InvalidArgument("tag value and dimension are required")
	}
	if err := validateEmbedding(vector, s.opts.Dimensions); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tag_embeddings (value, dimension, vector, dims, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(value, dimension) DO UPDATE SET
			vector = excluded.vector, dims = excluded.dims, updated_at = excluded.updated_at`,
		value, dimension, encodeVector(vector), len(vector), nowMillis().UnixMilli())
	if err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return nil
}

// TagEmbeddings returns all stored tag embeddings, optionally restricted
// to one dimension. The tag vocabulary is bounded; callers scan linearly.
func (s *Store) TagEmbeddings(ctx context.Context, dimension string) ([]TagEmbedding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("store")
	}

	query := `SELECT value, dimension, vector, updated_at FROM tag_embeddings`
	var args []any
	if dimension != "" {
		query += ` WHERE dimension = ?`
		args = append(args, dimension)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	defer rows.Close()

	var embeddings []TagEmbedding
	for rows.Next() {
		var te TagEmbedding
		var blob []byte
		var updatedMs int64
		if err := rows.Scan(&te.Value, &te.Dimension, &blob, &updatedMs); err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
		te.Vector = decodeVector(blob)
		te.UpdatedAt = time.UnixMilli(updatedMs)
		embeddings = append(embeddings, te)
	}
	if err := rows.Err(); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return embeddings, nil
}
