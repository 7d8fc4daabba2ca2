package store

import (
	"context"
	"time"

	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
)

// ExpiredIDs returns ids of chunks whose expires_at is before now.
// Expired chunks remain readable until deleted; this only enumerates.
func (s *Store) ExpiredIDs(ctx context.Context, now time.Time) ([]string, error) {
	return s.idScan(ctx,
		`SELECT id FROM chunks WHERE expires_at IS NOT NULL AND expires_at < ?`,
		now.UnixMilli())
}

// StaleShortTermIDs returns ids of short-term chunks untouched since cutoff.
func (s *Store) StaleShortTermIDs(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.idScan(ctx,
		`SELECT id FROM chunks WHERE tier = ? AND updated_at < ?`,
		string(TierShortTerm), cutoff.UnixMilli())
}

func (s *Store) idScan(ctx context.Context, query string, args ...any) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("store")
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return ids, nil
}

// DeleteExpired hard-deletes every chunk with expires_at < now, cascading
// to both indexes. Returns the number of chunks deleted.
func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.ExpiredIDs(ctx, now)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, mnerr.Closed("store")
	}

	deleted := 0
	for _, id := range ids {
		if err := s.deleteLocked(ctx, id); err != nil {
			return deleted, err
		}
		deleted++
	}
	return deleted, nil
}

// Vacuum reclaims storage from the database file.
func (s *Store) Vacuum(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return mnerr.Closed("store")
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	return nil
}

// Stats summarizes totals by tier, category, and person, the age range,
// and the on-disk size (page count x page size).
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, mnerr.Closed("store")
	}

	stats := &Stats{
		ByTier:     make(map[Tier]int),
		ByCategory: make(map[string]int),
		ByPerson:   make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT tier, COUNT(*) FROM chunks GROUP BY tier`)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	for rows.Next() {
		var tier string
		var count int
		if err := rows.Scan(&tier, &count); err != nil {
			rows.Close()
			return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
		stats.ByTier[Tier(tier)] = count
		stats.TotalChunks += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}

	if err := s.groupCount(ctx, `SELECT category, COUNT(*) FROM chunks WHERE category != '' GROUP BY category`, stats.ByCategory); err != nil {
		return nil, err
	}
	if err := s.groupCount(ctx, `SELECT person, COUNT(*) FROM chunks WHERE person != '' GROUP BY person`, stats.ByPerson); err != nil {
		return nil, err
	}

	var oldest, newest int64
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MIN(created_at), 0), COALESCE(MAX(created_at), 0) FROM chunks`).
		Scan(&oldest, &newest)
	if err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	if oldest > 0 {
		t := time.UnixMilli(oldest)
		stats.Oldest = &t
	}
	if newest > 0 {
		t := time.UnixMilli(newest)
		stats.Newest = &t
	}

	var pageCount, pageSize int64
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pageCount); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	if err := s.db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return nil, mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	stats.SizeBytes = pageCount * pageSize

	return stats, nil
}

func (s *Store) groupCount(ctx context.Context, query string, out map[string]int) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return mnerr.Wrap(mnerr.ErrCodeInternal, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return mnerr.Wrap(mnerr.ErrCodeInternal, err)
		}
		out[key] = count
	}
	return rows.Err()
}
