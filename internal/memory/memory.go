// Package memory is the orchestration facade over the tiered memory
// engine: the store, the search engine, the context injector, and the
// maintenance cycles, behind convenience operations.
package memory

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hephaestus-forge/mnemo/internal/config"
	"github.com/hephaestus-forge/mnemo/internal/embed"
	mnerr "github.com/hephaestus-forge/mnemo/internal/errors"
	"github.com/hephaestus-forge/mnemo/internal/inject"
	"github.com/hephaestus-forge/mnemo/internal/maint"
	"github.com/hephaestus-forge/mnemo/internal/search"
	"github.com/hephaestus-forge/mnemo/internal/store"
	"github.com/hephaestus-forge/mnemo/internal/tags"
)

// Facade defaults.
const (
	// DefaultRememberConfidence applies when Remember gets no confidence.
	DefaultRememberConfidence = 0.7
	// SummaryMaxLen bounds auto-generated summaries.
	SummaryMaxLen = 150
)

// Memory owns a store, an optional embedding provider, a context
// injector, and a maintenance manager.
type Memory struct {
	store     *store.Store
	embedder  embed.Embedder // may be nil
	engine    *search.Engine
	injector  *inject.Injector
	maint     *maint.Manager
	extractor *tags.Extractor
	retention time.Duration

	mu     sync.Mutex
	closed bool
}

// Open builds a Memory from configuration: store, embedder, search
// engine, injector, and maintenance manager wired together.
func Open(ctx context.Context, cfg *config.Config) (*Memory, error) {
	s, err := store.Open(store.Options{
		Path:       cfg.Paths.Database,
		Dimensions: cfg.Embeddings.Dimensions,
	})
	if err != nil {
		return nil, err
	}

	embedder := embed.NewFromConfig(ctx, cfg.Embeddings)

	engine := search.New(s, embedder,
		search.Weights{Vector: cfg.Retrieval.VectorWeight, Text: cfg.Retrieval.TextWeight},
		cfg.Retrieval.TagBoost)

	injector := inject.New(s, engine, embedder,
		inject.WithTokenBudget(cfg.Context.TokenBudget),
		inject.WithPartition(inject.Partition{
			Working:   cfg.Context.Partition["working"],
			ShortTerm: cfg.Context.Partition["short_term"],
			LongTerm:  cfg.Context.Partition["long_term"],
			System:    cfg.Context.Partition["system"],
		}),
		inject.WithChunkCaps(inject.ChunkCaps{
			Working:   cfg.Context.MaxChunks["working"],
			ShortTerm: cfg.Context.MaxChunks["short_term"],
			LongTerm:  cfg.Context.MaxChunks["long_term"],
		}))

	manager := maint.New(s, maint.Config{
		Retention:               cfg.Lifecycle.Retention,
		PromotionConfidence:     cfg.Lifecycle.PromotionConfidence,
		PromotionMinAccessCount: cfg.Lifecycle.PromotionMinAccessCount,
		ImportantTags:           cfg.Lifecycle.ImportantTags,
	})

	return &Memory{
		store:     s,
		embedder:  embedder,
		engine:    engine,
		injector:  injector,
		maint:     manager,
		extractor: tags.NewExtractor(),
		retention: cfg.Lifecycle.Retention,
	}, nil
}

// New wires a Memory from pre-built parts. embedder may be nil.
func New(s *store.Store, embedder embed.Embedder, retention time.Duration) *Memory {
	if retention <= 0 {
		retention = maint.DefaultRetention
	}
	engine := search.New(s, embedder, search.DefaultWeights(), search.DefaultTagBoost)
	return &Memory{
		store:     s,
		embedder:  embedder,
		engine:    engine,
		injector:  inject.New(s, engine, embedder),
		maint:     maint.New(s, maint.Config{Retention: retention}),
		extractor: tags.NewExtractor(),
		retention: retention,
	}
}

// Store exposes the underlying store to collaborating packages
// (importer, hooks).
func (m *Memory) Store() *store.Store { return m.store }

// Embedder exposes the embedding provider; may be nil.
func (m *Memory) Embedder() embed.Embedder { return m.embedder }

func (m *Memory) guard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return mnerr.Closed("memory")
	}
	return nil
}

// RememberOptions tunes a Remember call.
type RememberOptions struct {
	// Tier defaults to short_term.
	Tier store.Tier
	// Confidence defaults to 0.7.
	Confidence *float64
	Person     string
	Category   string
	Source     string
	// Tags overrides automatic extraction when non-nil.
	Tags *store.StructuredTags
	// ExpiresAt overrides the short-term retention default.
	ExpiresAt *time.Time
	// Important sets the promotion flag in metadata.
	Important bool
	Metadata  map[string]any
	// HorizonCategory classifies predicted obsolescence.
	HorizonCategory store.HorizonCategory
}

// Remember stores a fact and returns the new chunk id.
//
// Defaults: tier short_term, confidence 0.7, automatic tag extraction,
// auto-generated summary, and - for short-term chunks - an expiry of
// now + retention. Embedding failure is non-fatal: the chunk is stored
// without a vector.
func (m *Memory) Remember(ctx context.Context, content string, opts RememberOptions) (string, error) {
	if err := m.guard(); err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", mnerr.InvalidArgument("content is required")
	}

	tier := opts.Tier
	if tier == "" {
		tier = store.TierShortTerm
	}

	confidence := DefaultRememberConfidence
	if opts.Confidence != nil {
		confidence = *opts.Confidence
	}

	chunkTags := m.extractor.Extract(content)
	if opts.Tags != nil {
		chunkTags = *opts.Tags
	}

	expiresAt := opts.ExpiresAt
	if expiresAt == nil && tier == store.TierShortTerm {
		t := time.Now().Add(m.retention)
		expiresAt = &t
	}

	metadata := opts.Metadata
	if opts.Important {
		if metadata == nil {
			metadata = make(map[string]any)
		}
		metadata[store.MetaImportant] = true
	}

	var embedding []float32
	if m.embedder != nil && m.store.VectorEnabled() && m.embedder.Available(ctx) {
		vec, err := m.embedder.Embed(ctx, content)
		if err != nil {
			slog.Warn("remember_embedding_failed", slog.String("error", err.Error()))
		} else {
			embedding = vec
		}
	}

	return m.store.Insert(ctx, store.ChunkInput{
		Tier:            tier,
		Content:         content,
		Summary:         Summarize(content),
		Source:          opts.Source,
		Category:        opts.Category,
		Person:          opts.Person,
		Tags:            chunkTags,
		Confidence:      &confidence,
		ExpiresAt:       expiresAt,
		Metadata:        metadata,
		HorizonCategory: opts.HorizonCategory,
	}, embedding)
}

// RecallOptions tunes a Recall call.
type RecallOptions struct {
	// Person scopes compartmentalized retrieval; empty is administrative.
	Person   string
	Tier     store.Tier
	Category string
	// FlatTags match any-of; StructuredTags match all-of per dimension.
	FlatTags       []string
	StructuredTags *store.StructuredTags
	// BoostTags applies tag-boosted re-ranking when non-empty.
	BoostTags store.StructuredTags
	Limit     int
}

// Recall retrieves chunks for the query, hybrid when the embedding
// provider is available, keyword-only otherwise. Scores are stripped.
// Each returned chunk's access counter is incremented.
func (m *Memory) Recall(ctx context.Context, query string, opts RecallOptions) ([]*store.Chunk, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}

	filter := store.Filter{
		FlatTags:       opts.FlatTags,
		StructuredTags: opts.StructuredTags,
	}
	if opts.Person != "" {
		person := opts.Person
		filter.Person = &person
	}
	if opts.Tier != "" {
		tier := opts.Tier
		filter.Tier = &tier
	}
	if opts.Category != "" {
		category := opts.Category
		filter.Category = &category
	}

	var queryVec []float32
	if m.engine.SemanticAvailable(ctx) {
		vec, err := m.embedder.Embed(ctx, query)
		if err != nil {
			slog.Warn("recall_embedding_failed", slog.String("error", err.Error()))
		} else {
			queryVec = vec
		}
	}

	searchOpts := search.Options{Limit: opts.Limit, Filter: filter}

	var results []search.Result
	var err error
	if !opts.BoostTags.IsEmpty() {
		results, err = m.engine.TagBoosted(ctx, query, queryVec, opts.BoostTags, searchOpts)
	} else {
		results, err = m.engine.Hybrid(ctx, query, queryVec, searchOpts)
	}
	if err != nil {
		return nil, err
	}

	chunks := make([]*store.Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.Chunk
		if err := m.store.RecordAccess(ctx, r.Chunk.ID); err != nil {
			slog.Warn("recall_access_bump_failed",
				slog.String("id", r.Chunk.ID), slog.String("error", err.Error()))
		}
	}
	return chunks, nil
}

// Forget deletes the chunk. Idempotent.
func (m *Memory) Forget(ctx context.Context, id string) error {
	if err := m.guard(); err != nil {
		return err
	}
	return m.store.Delete(ctx, id)
}

// PromoteToLongTerm promotes the chunk to long-term.
func (m *Memory) PromoteToLongTerm(ctx context.Context, id string) (*store.Chunk, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.store.Promote(ctx, id, store.TierLongTerm)
}

// RunDecayCycle delegates to maintenance.
func (m *Memory) RunDecayCycle(ctx context.Context) (int, error) {
	if err := m.guard(); err != nil {
		return 0, err
	}
	return m.maint.RunDecay(ctx)
}

// RunPromotionCycle delegates to maintenance.
func (m *Memory) RunPromotionCycle(ctx context.Context) (int, error) {
	if err := m.guard(); err != nil {
		return 0, err
	}
	return m.maint.RunPromotion(ctx)
}

// RunMaintenance runs all cycles and returns the composite report.
func (m *Memory) RunMaintenance(ctx context.Context) (*maint.Report, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.maint.RunAll(ctx)
}

// AssembleContext delegates to the injector.
func (m *Memory) AssembleContext(ctx context.Context, signals inject.Signals) (*inject.Assembled, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.injector.Assemble(ctx, signals)
}

// GetChunk returns the chunk by id.
func (m *Memory) GetChunk(ctx context.Context, id string) (*store.Chunk, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.store.Get(ctx, id)
}

// GetByTier pages chunks of one tier.
func (m *Memory) GetByTier(ctx context.Context, tier store.Tier, opts store.ListOptions) ([]*store.Chunk, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.store.GetByTier(ctx, tier, opts)
}

// GetByPerson pages chunks scoped to the person.
func (m *Memory) GetByPerson(ctx context.Context, person string, opts store.ListOptions) ([]*store.Chunk, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.store.GetByPerson(ctx, person, opts)
}

// Stats summarizes the store.
func (m *Memory) Stats(ctx context.Context) (*store.Stats, error) {
	if err := m.guard(); err != nil {
		return nil, err
	}
	return m.store.Stats(ctx)
}

// Close shuts down once; further calls on any operation fail with
// Closed. Idempotent.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true

	err := m.store.Close()
	if m.embedder != nil {
		if cerr := m.embedder.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// Summarize truncates content at a word boundary to at most
// SummaryMaxLen characters, appending an ellipsis when cut.
func Summarize(content string) string {
	content = strings.TrimSpace(content)
	if firstLine := strings.IndexByte(content, '\n'); firstLine >= 0 {
		content = content[:firstLine]
	}

	runes := []rune(content)
	if len(runes) <= SummaryMaxLen {
		return content
	}

	cut := string(runes[:SummaryMaxLen])
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimRight(cut, " ,;:") + "..."
}
