// Package maint implements the memory lifecycle cycles: decay
// (expiry delete + short-term demotion), promotion, and vacuum.
// Cycles run to completion; they are not interruptible mid-pass.
package maint

import (
	"context"
	"log/slog"
	"time"

	"github.com/hephaestus-forge/mnemo/internal/store"
)

// Defaults for the lifecycle thresholds.
const (
	DefaultRetention               = 7 * 24 * time.Hour
	DefaultPromotionConfidence     = 0.8
	DefaultPromotionMinAccessCount = 3
)

// DefaultImportantTags promote a chunk when present as a flat tag.
var DefaultImportantTags = []string{"important", "remember"}

// Config tunes the maintenance cycles.
type Config struct {
	// Retention is the inactivity window after which short-term chunks
	// demote to episodic.
	Retention time.Duration
	// PromotionConfidence is the confidence threshold for promotion.
	PromotionConfidence float64
	// PromotionMinAccessCount promotes chunks accessed at least this often.
	PromotionMinAccessCount int
	// ImportantTags promote when present as a flat tag.
	ImportantTags []string
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Retention:               DefaultRetention,
		PromotionConfidence:     DefaultPromotionConfidence,
		PromotionMinAccessCount: DefaultPromotionMinAccessCount,
		ImportantTags:           DefaultImportantTags,
	}
}

func (c Config) normalized() Config {
	if c.Retention <= 0 {
		c.Retention = DefaultRetention
	}
	if c.PromotionConfidence == 0 {
		c.PromotionConfidence = DefaultPromotionConfidence
	}
	if c.PromotionMinAccessCount == 0 {
		c.PromotionMinAccessCount = DefaultPromotionMinAccessCount
	}
	if c.ImportantTags == nil {
		c.ImportantTags = DefaultImportantTags
	}
	return c
}

// VacuumReport summarizes a vacuum pass.
type VacuumReport struct {
	Affected   int
	DurationMS int64
	Details    string
	Errors     []string
}

// Report is the composite result of RunAll.
type Report struct {
	Decayed  int
	Promoted int
	Vacuum   VacuumReport
}

// Manager runs the lifecycle cycles against a store.
type Manager struct {
	store  *store.Store
	config Config
	now    func() time.Time
}

// New creates a maintenance manager.
func New(s *store.Store, cfg Config) *Manager {
	return &Manager{store: s, config: cfg.normalized(), now: time.Now}
}

// WithClock overrides the time source (tests).
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// RunDecay hard-deletes expired chunks, then demotes short-term chunks
// that have been inactive past the retention window to episodic.
// Long-term and working chunks are never decayed.
// Returns the number of chunks affected (deleted + demoted).
func (m *Manager) RunDecay(ctx context.Context) (int, error) {
	deleted, demoted, err := m.decay(ctx)
	return deleted + demoted, err
}

// decay runs the decay cycle and returns deletions and demotions separately.
func (m *Manager) decay(ctx context.Context) (deleted, demoted int, err error) {
	now := m.now()

	deleted, err = m.store.DeleteExpired(ctx, now)
	if err != nil {
		return deleted, 0, err
	}

	stale, err := m.store.StaleShortTermIDs(ctx, now.Add(-m.config.Retention))
	if err != nil {
		return deleted, 0, err
	}

	for _, id := range stale {
		if err := m.store.Demote(ctx, id); err != nil {
			return deleted, demoted, err
		}
		demoted++
	}

	if deleted+demoted > 0 {
		slog.Info("decay_cycle_complete",
			slog.Int("deleted", deleted),
			slog.Int("demoted", demoted))
	}
	return deleted, demoted, nil
}

// RunPromotion promotes short-term chunks to long-term when any of the
// promotion criteria holds: confidence at or above the threshold, access
// count at or above the minimum, the metadata important flag, or an
// important tag. Returns the number promoted.
func (m *Manager) RunPromotion(ctx context.Context) (int, error) {
	// Scan first, mutate after: promotions shrink the short-term tier
	// and would skew a paging scan.
	var candidates []string
	offset := 0
	const page = 200

	for {
		chunks, err := m.store.GetByTier(ctx, store.TierShortTerm, store.ListOptions{
			Limit:  page,
			Offset: offset,
			Order:  store.OrderAsc,
		})
		if err != nil {
			return 0, err
		}
		for _, chunk := range chunks {
			if m.promotable(chunk) {
				candidates = append(candidates, chunk.ID)
			}
		}
		if len(chunks) < page {
			break
		}
		offset += page
	}

	promoted := 0
	for _, id := range candidates {
		if _, err := m.store.Promote(ctx, id, store.TierLongTerm); err != nil {
			return promoted, err
		}
		promoted++
	}

	if promoted > 0 {
		slog.Info("promotion_cycle_complete", slog.Int("promoted", promoted))
	}
	return promoted, nil
}

// promotable checks the promotion criteria (any-of).
func (m *Manager) promotable(chunk *store.Chunk) bool {
	if chunk.Confidence >= m.config.PromotionConfidence {
		return true
	}
	if chunk.AccessCount() >= m.config.PromotionMinAccessCount {
		return true
	}
	if chunk.Important() {
		return true
	}
	for _, tag := range m.config.ImportantTags {
		if chunk.Tags.HasFlat(tag) {
			return true
		}
	}
	return false
}

// RunVacuum reclaims storage. affected reports the deletions performed
// earlier in the pass (by the caller's decay cycle).
func (m *Manager) RunVacuum(ctx context.Context, deletedEarlier int) VacuumReport {
	start := m.now()
	report := VacuumReport{Affected: deletedEarlier, Details: "vacuum"}

	if err := m.store.Vacuum(ctx); err != nil {
		report.Errors = append(report.Errors, err.Error())
	}

	report.DurationMS = m.now().Sub(start).Milliseconds()
	return report
}

// RunAll runs decay, promotion, and vacuum in order and returns the
// composite report. Partial failures surface in the vacuum error list;
// decay and promotion errors abort.
func (m *Manager) RunAll(ctx context.Context) (*Report, error) {
	deleted, demoted, err := m.decay(ctx)
	if err != nil {
		return nil, err
	}
	promoted, err := m.RunPromotion(ctx)
	if err != nil {
		return nil, err
	}
	vacuum := m.RunVacuum(ctx, deleted)

	return &Report{Decayed: deleted + demoted, Promoted: promoted, Vacuum: vacuum}, nil
}
