// Package store provides transactional persistence for memory chunks with
// synchronized full-text (SQLite FTS5) and vector (HNSW) indexes.
package store

import (
	"encoding/json"
	"strings"
	"time"
)

// Tier is a chunk's coarse lifecycle state.
type Tier string

const (
	TierWorking   Tier = "working"
	TierShortTerm Tier = "short_term"
	TierLongTerm  Tier = "long_term"
	TierEpisodic  Tier = "episodic"
)

// Valid reports whether the tier is one of the four legal tiers.
func (t Tier) Valid() bool {
	switch t {
	case TierWorking, TierShortTerm, TierLongTerm, TierEpisodic:
		return true
	}
	return false
}

// Rank returns the tier's position on the promotion lattice.
// Episodic is off-lattice and returns -1.
func (t Tier) Rank() int {
	switch t {
	case TierWorking:
		return 0
	case TierShortTerm:
		return 1
	case TierLongTerm:
		return 2
	}
	return -1
}

// HorizonCategory classifies a chunk's predicted obsolescence.
// Orthogonal to tier.
type HorizonCategory string

const (
	HorizonEphemeral     HorizonCategory = "ephemeral"
	HorizonSituational   HorizonCategory = "situational"
	HorizonProjectScoped HorizonCategory = "project_scoped"
	HorizonRelational    HorizonCategory = "relational"
	HorizonIdentity      HorizonCategory = "identity"
	HorizonPolicy        HorizonCategory = "policy"
)

// Valid reports whether the category is one of the six legal categories.
// The empty string is valid (category unset).
func (h HorizonCategory) Valid() bool {
	switch h {
	case "", HorizonEphemeral, HorizonSituational, HorizonProjectScoped,
		HorizonRelational, HorizonIdentity, HorizonPolicy:
		return true
	}
	return false
}

// TagDimensions lists the structured tag dimensions in canonical order.
var TagDimensions = []string{"concepts", "specialized", "people", "places", "projects"}

// StructuredTags is a fixed record of five named ordered sets of strings.
// Within each dimension values are deduplicated and trimmed; order is
// presentation order only.
type StructuredTags struct {
	Concepts    []string `json:"concepts,omitempty"`
	Specialized []string `json:"specialized,omitempty"`
	People      []string `json:"people,omitempty"`
	Places      []string `json:"places,omitempty"`
	Projects    []string `json:"projects,omitempty"`
}

// Dimension returns the named dimension's values. Unknown names return nil.
func (t StructuredTags) Dimension(name string) []string {
	switch name {
	case "concepts":
		return t.Concepts
	case "specialized":
		return t.Specialized
	case "people":
		return t.People
	case "places":
		return t.Places
	case "projects":
		return t.Projects
	}
	return nil
}

// IsEmpty reports whether every dimension is empty.
func (t StructuredTags) IsEmpty() bool {
	return len(t.Concepts) == 0 && len(t.Specialized) == 0 &&
		len(t.People) == 0 && len(t.Places) == 0 && len(t.Projects) == 0
}

// Normalized returns a copy with values trimmed of whitespace and
// deduplicated within each dimension, preserving first-seen order.
func (t StructuredTags) Normalized() StructuredTags {
	return StructuredTags{
		Concepts:    dedupTrim(t.Concepts),
		Specialized: dedupTrim(t.Specialized),
		People:      dedupTrim(t.People),
		Places:      dedupTrim(t.Places),
		Projects:    dedupTrim(t.Projects),
	}
}

// Flatten returns the dedup union across all five dimensions, in
// dimension order. Used to feed tag values into the inverted index.
func (t StructuredTags) Flatten() []string {
	seen := make(map[string]struct{})
	var flat []string
	for _, dim := range TagDimensions {
		for _, v := range t.Dimension(dim) {
			v = strings.TrimSpace(v)
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			flat = append(flat, v)
		}
	}
	return flat
}

// HasFlat reports whether the value appears in any dimension.
func (t StructuredTags) HasFlat(value string) bool {
	for _, dim := range TagDimensions {
		for _, v := range t.Dimension(dim) {
			if v == value {
				return true
			}
		}
	}
	return false
}

// ContainsAll reports whether, for every non-empty dimension of want,
// all of want's values are present in t's corresponding dimension.
func (t StructuredTags) ContainsAll(want StructuredTags) bool {
	for _, dim := range TagDimensions {
		wanted := want.Dimension(dim)
		if len(wanted) == 0 {
			continue
		}
		have := make(map[string]struct{}, len(t.Dimension(dim)))
		for _, v := range t.Dimension(dim) {
			have[v] = struct{}{}
		}
		for _, w := range wanted {
			if _, ok := have[w]; !ok {
				return false
			}
		}
	}
	return true
}

// IntersectsAny reports whether any value of want's non-empty dimensions
// appears in t's corresponding dimension.
func (t StructuredTags) IntersectsAny(want StructuredTags) bool {
	for _, dim := range TagDimensions {
		have := make(map[string]struct{}, len(t.Dimension(dim)))
		for _, v := range t.Dimension(dim) {
			have[v] = struct{}{}
		}
		for _, w := range want.Dimension(dim) {
			if _, ok := have[w]; ok {
				return true
			}
		}
	}
	return false
}

// TagsFromLegacy adapts the legacy flat-array tag encoding by routing all
// values to concepts. The store never emits this encoding.
func TagsFromLegacy(values []string) StructuredTags {
	return StructuredTags{Concepts: dedupTrim(values)}
}

// decodeTags parses the stored tag column, accepting both the canonical
// five-set record and the legacy flat array.
func decodeTags(data []byte) (StructuredTags, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return StructuredTags{}, nil
	}
	if strings.HasPrefix(trimmed, "[") {
		var flat []string
		if err := json.Unmarshal(data, &flat); err != nil {
			return StructuredTags{}, err
		}
		return TagsFromLegacy(flat), nil
	}
	var tags StructuredTags
	if err := json.Unmarshal(data, &tags); err != nil {
		return StructuredTags{}, err
	}
	return tags.Normalized(), nil
}

func dedupTrim(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Metadata keys with defined semantics.
const (
	// MetaAccessCount counts recalls that returned the chunk.
	MetaAccessCount = "accessCount"
	// MetaImportant marks a chunk for promotion regardless of confidence.
	MetaImportant = "important"
)

// Chunk is the atomic unit of memory.
type Chunk struct {
	ID                string
	Tier              Tier
	Content           string
	Summary           string
	Source            string
	Category          string
	Person            string
	Tags              StructuredTags
	Confidence        float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	PromotedAt        *time.Time
	ExpiresAt         *time.Time
	Metadata          map[string]any
	RelevanceHorizon  *time.Time
	HorizonReasoning  string
	HorizonConfidence *float64
	HorizonCategory   HorizonCategory
}

// AccessCount returns the metadata access counter, 0 when absent.
func (c *Chunk) AccessCount() int {
	if c.Metadata == nil {
		return 0
	}
	switch v := c.Metadata[MetaAccessCount].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

// Important reports whether the metadata important flag is set.
func (c *Chunk) Important() bool {
	if c.Metadata == nil {
		return false
	}
	b, _ := c.Metadata[MetaImportant].(bool)
	return b
}

// ChunkInput is the caller-supplied portion of a new chunk.
// Zero-value fields take store defaults (tier must be set by the caller;
// a nil Confidence means the default 1.0).
type ChunkInput struct {
	Tier              Tier
	Content           string
	Summary           string
	Source            string
	Category          string
	Person            string
	Tags              StructuredTags
	Confidence        *float64
	ExpiresAt         *time.Time
	Metadata          map[string]any
	RelevanceHorizon  *time.Time
	HorizonReasoning  string
	HorizonConfidence *float64
	HorizonCategory   HorizonCategory
}

// ChunkUpdate is a partial update. Nil fields are left unchanged.
type ChunkUpdate struct {
	Tier              *Tier
	Content           *string
	Summary           *string
	Source            *string
	Category          *string
	Person            *string
	Tags              *StructuredTags
	Confidence        *float64
	ExpiresAt         *time.Time
	ClearExpiresAt    bool
	Metadata          map[string]any // replaces the bag when non-nil
	RelevanceHorizon  *time.Time
	HorizonReasoning  *string
	HorizonConfidence *float64
	HorizonCategory   *HorizonCategory
	// UpdatedAt overrides the mutation timestamp; nil means now.
	// Used by maintenance tests to back-date activity.
	UpdatedAt *time.Time
}

// touchesIndex reports whether the update requires re-indexing the
// inverted-index row.
func (u ChunkUpdate) touchesIndex() bool {
	return u.Content != nil || u.Summary != nil || u.Tags != nil
}

// OrderBy selects the pagination sort column.
type OrderBy string

const (
	OrderByCreatedAt OrderBy = "created_at"
	OrderByUpdatedAt OrderBy = "updated_at"
)

// Order selects the pagination sort direction.
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// ListOptions paginates tier and person scans.
type ListOptions struct {
	Limit   int
	Offset  int
	OrderBy OrderBy
	Order   Order
}

// DefaultListLimit is applied when ListOptions.Limit is zero.
const DefaultListLimit = 50

func (o ListOptions) normalized() ListOptions {
	if o.Limit <= 0 {
		o.Limit = DefaultListLimit
	}
	if o.OrderBy != OrderByUpdatedAt {
		o.OrderBy = OrderByCreatedAt
	}
	if o.Order != OrderAsc {
		o.Order = OrderDesc
	}
	return o
}

// Filter is the shared predicate applied after candidate generation by
// every search primitive.
//
// Person is the compartmentalization subject: nil means administrative
// context (full visibility); when set, chunks scoped to a different
// person are inaccessible. FlatTags match any-of; StructuredTags match
// all-of over specified dimensions.
type Filter struct {
	Tier           *Tier
	Person         *string
	Category       *string
	FlatTags       []string
	StructuredTags *StructuredTags
}

// Accessible applies only the compartmentalization rule.
func (f Filter) Accessible(c *Chunk) bool {
	if f.Person == nil {
		return true
	}
	return c.Person == "" || c.Person == *f.Person
}

// Matches applies the full predicate.
func (f Filter) Matches(c *Chunk) bool {
	if !f.Accessible(c) {
		return false
	}
	if f.Tier != nil && c.Tier != *f.Tier {
		return false
	}
	if f.Category != nil && c.Category != *f.Category {
		return false
	}
	if len(f.FlatTags) > 0 {
		any := false
		for _, tag := range f.FlatTags {
			if c.Tags.HasFlat(tag) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if f.StructuredTags != nil && !c.Tags.ContainsAll(*f.StructuredTags) {
		return false
	}
	return true
}

// TextHit is a full-text search candidate before chunk loading.
type TextHit struct {
	ChunkID string
	// Rank is the raw BM25 rank from FTS5 (negative, more negative = better).
	Rank float64
	// Score is the mapped similarity |rank| / (1 + |rank|).
	Score float64
}

// VectorHit is a vector search candidate before chunk loading.
type VectorHit struct {
	ChunkID string
	// Distance is the cosine distance (lower = more similar).
	Distance float32
	// Score is the mapped similarity 1 / (1 + distance).
	Score float64
}

// Stats summarizes store contents.
type Stats struct {
	TotalChunks int
	ByTier      map[Tier]int
	ByCategory  map[string]int
	ByPerson    map[string]int
	Oldest      *time.Time
	Newest      *time.Time
	SizeBytes   int64
}
