package store

import (
	"context"
	"math"
	"strings"
	"unicode"

	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
)

// tokenizeQuery splits a raw query into alphanumeric-plus-underscore runs.
func tokenizeQuery(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

// buildMatchQuery quotes each token and ORs them. OR is chosen for
// recall; the BM25 ranker sorts for precision. Quoting keeps FTS5 from
// interpreting tokens as syntax.
func buildMatchQuery(query string) string {
	tokens := tokenizeQuery(query)
	if len(tokens) == 0 {
		return ""
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " OR ")
}

// SearchText runs a BM25-ranked full-text query over the inverted index.
// FTS5 ranks are negative (more negative = more relevant); they are
// mapped to similarity by |rank| / (1 + |rank|). An empty token set
// returns the empty list.
func (s *Store) SearchText(ctx context.Context, query string, limit int) ([]TextHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("store")
	}

	match := buildMatchQuery(query)
	if match == "" || limit <= 0 {
		return []TextHit{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT chunk_id, bm25(chunks_fts) AS rank
		FROM chunks_fts
		WHERE body MATCH ?
		ORDER BY rank
		LIMIT ?`, match, limit)
	if err != nil {
		// FTS5 errors on malformed match expressions; treat as no results.
		if strings.Contains(err.Error(), "fts5") || strings.Contains(err.Error(), "syntax error") {
			return []TextHit{}, nil
		}
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	defer rows.Close()

	var hits []TextHit
	for rows.Next() {
		var hit TextHit
		if err := rows.Scan(&hit.ChunkID, &hit.Rank); err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
		abs := math.Abs(hit.Rank)
		hit.Score = abs / (1 + abs)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	if hits == nil {
		hits = []TextHit{}
	}
	return hits, nil
}

// SearchVector finds the k nearest chunk candidates by cosine distance.
// Returns empty (never an error) when vectors are disabled.
func (s *Store) SearchVector(ctx context.Context, query []float32, k int) ([]VectorHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("store")
	}
	if s.vec == nil {
		return []VectorHit{}, nil
	}
	return s.vec.search(query, k)
}

// HasVector reports whether the chunk currently has a vector row.
func (s *Store) HasVector(id string) bool {
	if s.vec == nil {
		return false
	}
	return s.vec.contains(id)
}

// HasTextIndex reports whether the chunk currently has an inverted-index row.
func (s *Store) HasTextIndex(ctx context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, mnerr.Closed("store")
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chunks_fts WHERE chunk_id = ?`, id).Scan(&count)
	if err != nil {
		return false, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return count > 0, nil
}
