// Package search implements the retrieval primitives over the chunk
// store: vector k-NN, BM25 full-text, their weighted hybrid, and
// tag-boosted re-ranking.
//
// Every primitive applies the shared filter predicate - including the
// per-subject compartmentalization rule - after candidate generation,
// so bypassing higher layers cannot leak scoped chunks.
package search

import (
	"context"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/hephaestus-forge/mnemo/internal/embed"
	"github.com/hephaestus-forge/mnemo/internal/store"
)

// Default ranking parameters.
const (
	// DefaultVectorWeight weights the semantic leg of hybrid search.
	DefaultVectorWeight = 0.7
	// DefaultTextWeight weights the keyword leg of hybrid search.
	DefaultTextWeight = 0.3
	// DefaultTagBoost multiplies scores of chunks whose structured tags
	// intersect the boost dimensions.
	DefaultTagBoost = 1.3
	// DefaultLimit caps result lists when the caller doesn't.
	DefaultLimit = 10

	// vectorOverfetch widens single-leg candidate generation before
	// filtering.
	vectorOverfetch = 2
	// hybridOverfetch widens both legs of hybrid search.
	hybridOverfetch = 3
)

// Weights configures the hybrid linear combination.
type Weights struct {
	Vector float64
	Text   float64
}

// DefaultWeights returns the 0.7/0.3 vector/text split.
func DefaultWeights() Weights {
	return Weights{Vector: DefaultVectorWeight, Text: DefaultTextWeight}
}

// Result is a retrieved chunk with its component and combined scores.
type Result struct {
	Chunk *store.Chunk
	// Score is the combined ranking score.
	Score float64
	// VectorScore is the semantic component (0 when absent).
	VectorScore float64
	// TextScore is the keyword component (0 when absent).
	TextScore float64
}

// Options configures a search call.
type Options struct {
	Limit  int
	Filter store.Filter
}

func (o Options) limit() int {
	if o.Limit <= 0 {
		return DefaultLimit
	}
	return o.Limit
}

// Engine runs searches against a store with an optional embedder.
type Engine struct {
	store    *store.Store
	embedder embed.Embedder // may be nil: semantic legs degrade to empty
	weights  Weights
	tagBoost float64
}

// New creates a search engine. embedder may be nil.
func New(s *store.Store, embedder embed.Embedder, weights Weights, tagBoost float64) *Engine {
	if weights.Vector == 0 && weights.Text == 0 {
		weights = DefaultWeights()
	}
	if tagBoost < 1.0 {
		tagBoost = DefaultTagBoost
	}
	return &Engine{store: s, embedder: embedder, weights: weights, tagBoost: tagBoost}
}

// SemanticAvailable reports whether vector search can run.
func (e *Engine) SemanticAvailable(ctx context.Context) bool {
	return e.embedder != nil && e.store.VectorEnabled() && e.embedder.Available(ctx)
}

// Vector returns the nearest chunks to the query vector, filtered and
// truncated. Raw cosine distance maps to similarity 1/(1+d).
func (e *Engine) Vector(ctx context.Context, query []float32, opts Options) ([]Result, error) {
	limit := opts.limit()

	hits, err := e.store.SearchVector(ctx, query, limit*vectorOverfetch)
	if err != nil {
		return nil, err
	}

	results, err := e.loadVectorHits(ctx, hits, opts.Filter)
	if err != nil {
		return nil, err
	}
	sortResults(results)
	return truncate(results, limit), nil
}

// Text returns BM25-ranked chunks for the raw query string, filtered
// and truncated. An empty token set returns the empty list.
func (e *Engine) Text(ctx context.Context, query string, opts Options) ([]Result, error) {
	limit := opts.limit()

	hits, err := e.store.SearchText(ctx, query, limit*vectorOverfetch)
	if err != nil {
		return nil, err
	}

	results, err := e.loadTextHits(ctx, hits, opts.Filter)
	if err != nil {
		return nil, err
	}
	sortResults(results)
	return truncate(results, limit), nil
}

// Hybrid runs both legs with a 3x over-fetch and no minimum-score gate,
// merges candidates by chunk id, and ranks by the weighted sum
// w_v*s_v + w_t*s_t. queryVec may be nil (keyword-only degradation).
func (e *Engine) Hybrid(ctx context.Context, query string, queryVec []float32, opts Options) ([]Result, error) {
	limit := opts.limit()
	fetch := limit * hybridOverfetch

	var textHits []store.TextHit
	var vecHits []store.VectorHit

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		textHits, err = e.store.SearchText(gctx, query, fetch)
		return err
	})
	if queryVec != nil {
		g.Go(func() error {
			var err error
			vecHits, err = e.store.SearchVector(gctx, queryVec, fetch)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Merge by chunk id; a missing component scores 0.
	type combined struct {
		vector float64
		text   float64
	}
	scores := make(map[string]*combined, len(textHits)+len(vecHits))
	order := make([]string, 0, len(textHits)+len(vecHits))

	for _, h := range vecHits {
		scores[h.ChunkID] = &combined{vector: h.Score}
		order = append(order, h.ChunkID)
	}
	for _, h := range textHits {
		if c, ok := scores[h.ChunkID]; ok {
			c.text = h.Score
		} else {
			scores[h.ChunkID] = &combined{text: h.Score}
			order = append(order, h.ChunkID)
		}
	}

	chunks, err := e.store.GetMany(ctx, order)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(chunks))
	for _, chunk := range chunks {
		if !opts.Filter.Matches(chunk) {
			continue
		}
		c := scores[chunk.ID]
		results = append(results, Result{
			Chunk:       chunk,
			VectorScore: c.vector,
			TextScore:   c.text,
			Score:       e.weights.Vector*c.vector + e.weights.Text*c.text,
		})
	}

	sortResults(results)
	return truncate(results, limit), nil
}

// TagBoosted runs hybrid search, then multiplies the score of every
// chunk whose structured tags intersect any boost dimension, and
// re-sorts.
func (e *Engine) TagBoosted(ctx context.Context, query string, queryVec []float32, boost store.StructuredTags, opts Options) ([]Result, error) {
	limit := opts.limit()

	// Rank over a wider pool so boosting can pull candidates into the
	// final page.
	inner := opts
	inner.Limit = limit * hybridOverfetch
	results, err := e.Hybrid(ctx, query, queryVec, inner)
	if err != nil {
		return nil, err
	}

	if !boost.IsEmpty() {
		for i := range results {
			if results[i].Chunk.Tags.IntersectsAny(boost) {
				results[i].Score *= e.tagBoost
			}
		}
		sortResults(results)
	}
	return truncate(results, limit), nil
}

func (e *Engine) loadVectorHits(ctx context.Context, hits []store.VectorHit, filter store.Filter) ([]Result, error) {
	ids := make([]string, len(hits))
	byID := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
		byID[h.ChunkID] = h.Score
	}

	chunks, err := e.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(chunks))
	for _, chunk := range chunks {
		if !filter.Matches(chunk) {
			continue
		}
		score := byID[chunk.ID]
		results = append(results, Result{Chunk: chunk, VectorScore: score, Score: score})
	}
	return results, nil
}

func (e *Engine) loadTextHits(ctx context.Context, hits []store.TextHit, filter store.Filter) ([]Result, error) {
	ids := make([]string, len(hits))
	byID := make(map[string]float64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
		byID[h.ChunkID] = h.Score
	}

	chunks, err := e.store.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(chunks))
	for _, chunk := range chunks {
		if !filter.Matches(chunk) {
			continue
		}
		score := byID[chunk.ID]
		results = append(results, Result{Chunk: chunk, TextScore: score, Score: score})
	}
	return results, nil
}

// sortResults orders by combined score descending; ties break to the
// newer updated_at, then lexicographic id. Identical searches over the
// same store always return identical sequences.
func sortResults(results []Result) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Chunk.UpdatedAt.Equal(b.Chunk.UpdatedAt) {
			return a.Chunk.UpdatedAt.After(b.Chunk.UpdatedAt)
		}
		return a.Chunk.ID < b.Chunk.ID
	})
}

func truncate(results []Result, limit int) []Result {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}
