// Package tags implements the multi-dimensional tag system: deterministic
// pattern-based extraction, tag embeddings, and exact+semantic tag matching.
package tags

import (
	"sort"
	"strings"
	"unicode"

	"github.com/hephaestus-forge/mnemo/internal/store"
)

// Extractor classifies text into the five tag dimensions by matching
// the lowercased text against fixed lexicons. Capitalization plays no
// part: a capitalized word that is not in a lexicon yields no tag. The
// extractor is pure: same input yields the same output.
type Extractor struct {
	concepts    map[string]string // lowercase match -> canonical form
	specialized map[string]string
	places      map[string]string
	projects    map[string]string
	people      map[string]string // synonym -> canonical person name
}

// NewExtractor creates an extractor with the default lexicons.
func NewExtractor() *Extractor {
	return &Extractor{
		concepts: map[string]string{
			"deploy":     "deployment",
			"deployment": "deployment",
			"deployed":   "deployment",
			"training":   "training",
			"train":      "training",
			"gpu":        "gpu",
			"server":     "server",
			"memory":     "memory",
			"database":   "database",
			"backup":     "backup",
			"security":   "security",
			"meeting":    "meeting",
			"budget":     "budget",
			"salary":     "salary",
			"health":     "health",
			"travel":     "travel",
			"coffee":     "coffee",
		},
		specialized: map[string]string{
			"sqlite":     "sqlite",
			"fts5":       "fts5",
			"hnsw":       "hnsw",
			"embedding":  "embedding",
			"embeddings": "embedding",
			"ollama":     "ollama",
			"kubernetes": "kubernetes",
			"docker":     "docker",
			"rtx":        "rtx",
			"cuda":       "cuda",
			"websocket":  "websocket",
			"grpc":       "grpc",
		},
		places: map[string]string{
			"athens":        "Athens",
			"thessaloniki":  "Thessaloniki",
			"london":        "London",
			"berlin":        "Berlin",
			"office":        "office",
			"home":          "home",
			"datacenter":    "datacenter",
			"data center":   "datacenter",
			"the workshop":  "workshop",
		},
		projects: map[string]string{
			"hephie":    "Hephie",
			"forge":     "Forge",
			"openclaw":  "OpenClaw",
			"mnemo":     "Mnemo",
			"clawbot":   "Clawbot",
		},
		people: map[string]string{
			"antreas": "Antreas",
			"laura":   "Laura",
			"giannis": "Giannis",
			"alice":   "Alice",
			"father":  "Giannis",
			"dad":     "Giannis",
		},
	}
}

// WithPerson registers a person name (and optional synonyms) in the
// lexicon, normalized to the canonical form.
func (e *Extractor) WithPerson(canonical string, synonyms ...string) *Extractor {
	e.people[strings.ToLower(canonical)] = canonical
	for _, syn := range synonyms {
		e.people[strings.ToLower(syn)] = canonical
	}
	return e
}

// WithProject registers a project name in the lexicon.
func (e *Extractor) WithProject(canonical string) *Extractor {
	e.projects[strings.ToLower(canonical)] = canonical
	return e
}

// Extract emits a structured tag set for the text. contextPath is an
// optional heading trail (e.g. from a markdown file) that contributes
// additional matches.
func (e *Extractor) Extract(text string, contextPath ...string) store.StructuredTags {
	var tags store.StructuredTags

	corpus := text
	if len(contextPath) > 0 {
		corpus = strings.Join(contextPath, " ") + " " + text
	}
	lower := strings.ToLower(corpus)

	// Multi-word lexicon entries match as substrings; single words match
	// as whole tokens.
	tokens := tokenSet(lower)

	tags.Concepts = matchLexicon(lower, tokens, e.concepts)
	tags.Specialized = matchLexicon(lower, tokens, e.specialized)
	tags.Places = matchLexicon(lower, tokens, e.places)
	tags.Projects = matchLexicon(lower, tokens, e.projects)
	tags.People = matchLexicon(lower, tokens, e.people)

	return tags.Normalized()
}

// Flatten returns the dedup union of all dimensions.
func Flatten(tags store.StructuredTags) []string {
	return tags.Flatten()
}

// matchLexicon matches lexicon entries against the corpus. Single-word
// entries require a whole-token match; multi-word entries match as
// substrings. Canonical forms dedup in lexicon iteration order made
// deterministic by sorting on the lexicon key.
func matchLexicon(lower string, tokens map[string]struct{}, lexicon map[string]string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, match := range sortedKeys(lexicon) {
		canonical := lexicon[match]
		if _, dup := seen[canonical]; dup {
			continue
		}
		var hit bool
		if strings.ContainsRune(match, ' ') {
			hit = strings.Contains(lower, match)
		} else {
			_, hit = tokens[match]
		}
		if hit {
			seen[canonical] = struct{}{}
			out = append(out, canonical)
		}
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func tokenSet(lower string) map[string]struct{} {
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
