// Package inject assembles a ranked, budget-bounded context block from
// the memory store for a single conversational turn.
package inject

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/hephaestus-forge/mnemo/internal/embed"
	"github.com/hephaestus-forge/mnemo/internal/search"
	"github.com/hephaestus-forge/mnemo/internal/store"
)

// Budget defaults.
const (
	DefaultTokenBudget = 4000

	// personChunkLimit caps per-subject fetches.
	personChunkLimit = 10
	// personBaseScore is the rank score assigned to subject chunks.
	personBaseScore = 0.8
	// personMergeBoost multiplies subject chunk scores on merge, capped at 1.0.
	personMergeBoost = 1.2
)

// Section headers emitted to the prompt assembler.
const (
	HeaderWorking   = "## Working Memory"
	HeaderShortTerm = "## Recent Context (Short-Term Memory)"
	HeaderLongTerm  = "## Known Facts (Long-Term Memory)"
)

// Signals is the per-turn input to the injector.
type Signals struct {
	// CurrentMessage is the user's raw turn text. Required.
	CurrentMessage string
	// CurrentPerson scopes compartmentalized retrieval. Empty means
	// administrative context with full visibility.
	CurrentPerson string
	// PeopleMentioned biases retrieval toward the named subjects.
	PeopleMentioned []string
	// TopicKeywords supplement the message for keyword search.
	TopicKeywords []string
	// Channel and SessionID are carried as metadata only.
	Channel   string
	SessionID string
	// TokenBudget overrides the default total budget when positive.
	TokenBudget int
}

// Section is one tier's packed slice of the context window.
type Section struct {
	Header        string
	Tier          store.Tier
	Content       string
	TokenCount    int
	ChunkIDs      []string
	ExcludedCount int
}

// Assembled is the injector's output.
type Assembled struct {
	Sections         []Section
	FullText         string
	TotalTokens      int
	BudgetTokens     int
	Utilization      float64
	IncludedChunkIDs []string
	AssemblyDuration time.Duration
}

// Partition allocates the token budget across tiers. Fractions are of
// the total budget; the system share is reserved headroom and never
// packed.
type Partition struct {
	Working   float64
	ShortTerm float64
	LongTerm  float64
	System    float64
}

// DefaultPartition returns the 60/15/20/5 split.
func DefaultPartition() Partition {
	return Partition{Working: 0.60, ShortTerm: 0.15, LongTerm: 0.20, System: 0.05}
}

// ChunkCaps bounds chunk counts per tier, binding in addition to the
// byte budgets - whichever is hit first.
type ChunkCaps struct {
	Working   int
	ShortTerm int
	LongTerm  int
}

// DefaultChunkCaps returns the 20/5/10 caps.
func DefaultChunkCaps() ChunkCaps {
	return ChunkCaps{Working: 20, ShortTerm: 5, LongTerm: 10}
}

// EstimateTokens is the fixed token heuristic ceil(bytes / 4), shared by
// all consumers to preserve determinism.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// Injector drives tiered retrieval and packs results into sections.
// Budget and weights are read-only after construction.
type Injector struct {
	store     *store.Store
	engine    *search.Engine
	embedder  embed.Embedder // may be nil
	partition Partition
	caps      ChunkCaps
	budget    int
	now       func() time.Time
}

// Option configures the injector.
type Option func(*Injector)

// WithPartition overrides the budget partition.
func WithPartition(p Partition) Option {
	return func(i *Injector) { i.partition = p }
}

// WithChunkCaps overrides the per-tier chunk caps.
func WithChunkCaps(c ChunkCaps) Option {
	return func(i *Injector) { i.caps = c }
}

// WithTokenBudget overrides the default total token budget.
func WithTokenBudget(budget int) Option {
	return func(i *Injector) {
		if budget > 0 {
			i.budget = budget
		}
	}
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(i *Injector) { i.now = now }
}

// New creates an injector. embedder may be nil; semantic retrieval then
// degrades to keyword-only.
func New(s *store.Store, engine *search.Engine, embedder embed.Embedder, opts ...Option) *Injector {
	inj := &Injector{
		store:     s,
		engine:    engine,
		embedder:  embedder,
		partition: DefaultPartition(),
		caps:      DefaultChunkCaps(),
		budget:    DefaultTokenBudget,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(inj)
	}
	return inj
}

// scored pairs a chunk with its rank score during assembly.
type scored struct {
	chunk *store.Chunk
	score float64
}

// Assemble builds the context block for the turn's signals.
// Embedding failure degrades to keyword-only retrieval; it is never an
// error.
func (i *Injector) Assemble(ctx context.Context, signals Signals) (*Assembled, error) {
	start := i.now()

	budget := i.budget
	if signals.TokenBudget > 0 {
		budget = signals.TokenBudget
	}

	queryVec := i.queryEmbedding(ctx, signals)
	filter := i.accessFilter(signals)
	query := signals.CurrentMessage
	if len(signals.TopicKeywords) > 0 {
		query += " " + strings.Join(signals.TopicKeywords, " ")
	}

	shortCands, err := i.tierCandidates(ctx, store.TierShortTerm, query, queryVec, filter, i.caps.ShortTerm)
	if err != nil {
		return nil, err
	}
	longCands, err := i.tierCandidates(ctx, store.TierLongTerm, query, queryVec, filter, i.caps.LongTerm)
	if err != nil {
		return nil, err
	}

	longCands, err = i.mergePersonChunks(ctx, signals, longCands)
	if err != nil {
		return nil, err
	}

	workingCands, err := i.workingCandidates(ctx, filter)
	if err != nil {
		return nil, err
	}

	var sections []Section
	var included []string
	totalTokens := 0

	pack := func(header string, tier store.Tier, cands []scored, fraction float64, chunkCap int) {
		section := i.packSection(header, tier, cands, int(float64(budget)*fraction), chunkCap)
		if section.Content == "" {
			return
		}
		sections = append(sections, section)
		included = append(included, section.ChunkIDs...)
		totalTokens += section.TokenCount
	}

	pack(HeaderWorking, store.TierWorking, workingCands, i.partition.Working, i.caps.Working)
	pack(HeaderShortTerm, store.TierShortTerm, shortCands, i.partition.ShortTerm, i.caps.ShortTerm)
	pack(HeaderLongTerm, store.TierLongTerm, longCands, i.partition.LongTerm, i.caps.LongTerm)

	texts := make([]string, len(sections))
	for idx, sec := range sections {
		texts[idx] = sec.Header + "\n" + sec.Content
	}

	result := &Assembled{
		Sections:         sections,
		FullText:         strings.Join(texts, "\n\n"),
		TotalTokens:      totalTokens,
		BudgetTokens:     budget,
		IncludedChunkIDs: included,
		AssemblyDuration: i.now().Sub(start),
	}
	if budget > 0 {
		result.Utilization = float64(totalTokens) / float64(budget)
	}
	return result, nil
}

// queryEmbedding computes the turn's query vector; failure degrades to
// keyword-only retrieval.
func (i *Injector) queryEmbedding(ctx context.Context, signals Signals) []float32 {
	if i.embedder == nil || !i.store.VectorEnabled() || !i.embedder.Available(ctx) {
		return nil
	}
	vec, err := i.embedder.Embed(ctx, signals.CurrentMessage)
	if err != nil {
		return nil
	}
	return vec
}

func (i *Injector) accessFilter(signals Signals) store.Filter {
	var filter store.Filter
	if signals.CurrentPerson != "" {
		person := signals.CurrentPerson
		filter.Person = &person
	}
	return filter
}

// tierCandidates ranks one tier's chunks for the query. It fetches
// past the chunk cap so packing can report truthful excluded counts.
func (i *Injector) tierCandidates(ctx context.Context, tier store.Tier, query string, queryVec []float32, filter store.Filter, limit int) ([]scored, error) {
	tierFilter := filter
	t := tier
	tierFilter.Tier = &t

	results, err := i.engine.Hybrid(ctx, query, queryVec, search.Options{Limit: limit * 3, Filter: tierFilter})
	if err != nil {
		return nil, err
	}

	cands := make([]scored, len(results))
	for idx, r := range results {
		cands[idx] = scored{chunk: r.Chunk, score: r.Score}
	}
	return cands, nil
}

// workingCandidates returns recent working-tier chunks by recency.
func (i *Injector) workingCandidates(ctx context.Context, filter store.Filter) ([]scored, error) {
	chunks, err := i.store.GetByTier(ctx, store.TierWorking, store.ListOptions{
		Limit:   i.caps.Working,
		OrderBy: store.OrderByUpdatedAt,
		Order:   store.OrderDesc,
	})
	if err != nil {
		return nil, err
	}

	var cands []scored
	for _, chunk := range chunks {
		if !filter.Accessible(chunk) {
			continue
		}
		cands = append(cands, scored{chunk: chunk, score: 1.0})
	}
	return cands, nil
}

// mergePersonChunks boosts subject-scoped chunks into the long-term
// candidate list: base score 0.8, merge multiplier 1.2 capped at 1.0,
// duplicates dropped by id, sorted by score descending.
func (i *Injector) mergePersonChunks(ctx context.Context, signals Signals, longCands []scored) ([]scored, error) {
	subjects := subjectSet(signals)
	if len(subjects) == 0 {
		return longCands, nil
	}

	filter := i.accessFilter(signals)
	present := make(map[string]struct{}, len(longCands))
	for _, c := range longCands {
		present[c.chunk.ID] = struct{}{}
	}

	merged := longCands
	for _, subject := range subjects {
		chunks, err := i.store.GetByPerson(ctx, subject, store.ListOptions{Limit: personChunkLimit})
		if err != nil {
			return nil, err
		}
		for _, chunk := range chunks {
			if !filter.Accessible(chunk) {
				continue
			}
			if _, dup := present[chunk.ID]; dup {
				continue
			}
			present[chunk.ID] = struct{}{}

			score := personBaseScore * personMergeBoost
			if score > 1.0 {
				score = 1.0
			}
			merged = append(merged, scored{chunk: chunk, score: score})
		}
	}

	sort.SliceStable(merged, func(a, b int) bool {
		if merged[a].score != merged[b].score {
			return merged[a].score > merged[b].score
		}
		return merged[a].chunk.ID < merged[b].chunk.ID
	})
	return merged, nil
}

func subjectSet(signals Signals) []string {
	seen := make(map[string]struct{})
	var subjects []string
	add := func(name string) {
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		subjects = append(subjects, name)
	}
	add(signals.CurrentPerson)
	for _, p := range signals.PeopleMentioned {
		add(p)
	}
	return subjects
}

// packSection packs ranked candidates into a tier section. Both the
// token budget and the chunk cap bind; whichever is hit first. Excluded
// candidates are counted truthfully.
func (i *Injector) packSection(header string, tier store.Tier, cands []scored, tokenBudget, chunkCap int) Section {
	section := Section{Header: header, Tier: tier}

	headerTokens := EstimateTokens(header + "\n")
	remaining := tokenBudget - headerTokens

	var lines []string
	for _, cand := range cands {
		if len(section.ChunkIDs) >= chunkCap {
			section.ExcludedCount++
			continue
		}
		line := i.formatChunk(tier, cand.chunk)
		cost := EstimateTokens(line + "\n")
		if cost > remaining {
			section.ExcludedCount++
			continue
		}
		remaining -= cost
		lines = append(lines, line)
		section.ChunkIDs = append(section.ChunkIDs, cand.chunk.ID)
	}

	if len(lines) == 0 {
		return section
	}
	section.Content = strings.Join(lines, "\n")
	section.TokenCount = EstimateTokens(header+"\n") + EstimateTokens(section.Content+"\n")
	return section
}

// formatChunk renders one bullet line. Short-term and episodic lines
// carry a relative timestamp; long-term and working lines don't.
func (i *Injector) formatChunk(tier store.Tier, chunk *store.Chunk) string {
	text := chunk.Summary
	if text == "" {
		text = chunk.Content
	}

	switch tier {
	case store.TierShortTerm, store.TierEpisodic:
		return fmt.Sprintf("- [%s] %s", RelativeTime(i.now(), chunk.UpdatedAt), text)
	default:
		return "- " + text
	}
}

// RelativeTime buckets a timestamp into a human-friendly phrase.
func RelativeTime(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%d min ago", int(d.Minutes()))
	case d < 2*time.Hour:
		return "1 hour ago"
	case d < 24*time.Hour:
		return fmt.Sprintf("%d hours ago", int(d.Hours()))
	case d < 48*time.Hour:
		return "yesterday"
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%d days ago", int(d.Hours()/24))
	case d < 30*24*time.Hour:
		return fmt.Sprintf("%d weeks ago", int(d.Hours()/(24*7)))
	default:
		return fmt.Sprintf("%d months ago", int(d.Hours()/(24*30)))
	}
}
