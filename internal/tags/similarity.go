package tags

import (
	"context"
	"sort"
	"strings"

	"github.com/hephaestus-forge/mnemo/internal/embed"
	"github.com/hephaestus-forge/mnemo/internal/store"
)

// Tag search defaults.
const (
	DefaultMinSimilarity = 0.7
	DefaultLimit         = 10

	// ExactMatchScore ranks exact matches above any cosine similarity.
	ExactMatchScore = 2.0
)

// MatchType distinguishes exact from embedding-based tag matches.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchSemantic MatchType = "semantic"
)

// Match is a single tag search result.
type Match struct {
	Value     string
	Dimension string
	Score     float64
	Type      MatchType
}

// SimilarOptions configures SimilarTags.
type SimilarOptions struct {
	// Dimension restricts the scan to one tag dimension; empty scans all.
	Dimension string
	// MinSimilarity is the cosine floor (default 0.7).
	MinSimilarity float64
	// Limit caps results (default 10).
	Limit int
}

func (o SimilarOptions) normalized() SimilarOptions {
	if o.MinSimilarity == 0 {
		o.MinSimilarity = DefaultMinSimilarity
	}
	if o.Limit <= 0 {
		o.Limit = DefaultLimit
	}
	return o
}

// SimilarTags computes cosine similarity of the query vector against
// every stored tag embedding (linear scan; the tag vocabulary is
// bounded), filters by the similarity floor, and returns the top
// matches, best first.
func SimilarTags(ctx context.Context, s *store.Store, query []float32, opts SimilarOptions) ([]Match, error) {
	opts = opts.normalized()

	embeddings, err := s.TagEmbeddings(ctx, opts.Dimension)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, te := range embeddings {
		sim := embed.CosineSimilarity(query, te.Vector)
		if sim < opts.MinSimilarity {
			continue
		}
		matches = append(matches, Match{
			Value:     te.Value,
			Dimension: te.Dimension,
			Score:     sim,
			Type:      MatchSemantic,
		})
	}

	sortMatches(matches)
	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

// HybridSearch merges exact tag-value matches (score 2.0) with semantic
// matches by embedding similarity. Exact always outranks semantic.
// queryVec may be nil, degrading to exact-only matching.
func HybridSearch(ctx context.Context, s *store.Store, query string, queryVec []float32, opts SimilarOptions) ([]Match, error) {
	opts = opts.normalized()

	embeddings, err := s.TagEmbeddings(ctx, opts.Dimension)
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(strings.TrimSpace(query))
	seen := make(map[string]struct{})
	var matches []Match

	for _, te := range embeddings {
		if strings.ToLower(te.Value) == queryLower && queryLower != "" {
			matches = append(matches, Match{
				Value:     te.Value,
				Dimension: te.Dimension,
				Score:     ExactMatchScore,
				Type:      MatchExact,
			})
			seen[te.Dimension+"\x00"+te.Value] = struct{}{}
		}
	}

	if queryVec != nil {
		semantic, err := SimilarTags(ctx, s, queryVec, opts)
		if err != nil {
			return nil, err
		}
		for _, m := range semantic {
			if _, dup := seen[m.Dimension+"\x00"+m.Value]; dup {
				continue
			}
			matches = append(matches, m)
		}
	}

	sortMatches(matches)
	if len(matches) > opts.Limit {
		matches = matches[:opts.Limit]
	}
	return matches, nil
}

// sortMatches orders by score descending, then value, then dimension
// for deterministic output.
func sortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if matches[i].Value != matches[j].Value {
			return matches[i].Value < matches[j].Value
		}
		return matches[i].Dimension < matches[j].Dimension
	})
}
