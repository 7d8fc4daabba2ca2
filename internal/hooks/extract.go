// Package hooks extracts candidate facts from conversational message
// sequences and routes them into the memory facade at session
// boundaries. Extraction is pattern-driven and stateless.
package hooks

import (
	"regexp"
	"strings"
	"time"
)

// Extraction limits.
const (
	// maxFactLen caps how much text is consumed after a trigger.
	maxFactLen = 200
	// minFactLen rejects extractions at or below this length.
	minFactLen = 10
	// baseConfidence is the starting confidence before pattern boosts.
	baseConfidence = 0.5
	// importantBonus is added when a trigger marks the fact important.
	importantBonus = 0.2
)

// Message is one conversational turn.
type Message struct {
	Role      string
	Content   string
	Timestamp time.Time
}

// Fact is a candidate extraction.
type Fact struct {
	Content    string
	Category   string
	Confidence float64
	Important  bool
}

// pattern is one trigger rule.
type pattern struct {
	re        *regexp.Regexp
	category  string
	boost     float64
	important bool
}

// patterns are evaluated in order; earlier (stronger) triggers win the
// dedup against later ones.
var patterns = []pattern{
	// Explicit-memory triggers. The three strongest forms mark the fact
	// important.
	{regexp.MustCompile(`(?i)remember (that|this|:)`), "fact", 0.3, true},
	{regexp.MustCompile(`(?i)don't forget`), "fact", 0.3, true},
	{regexp.MustCompile(`(?i)important:`), "fact", 0.3, true},
	{regexp.MustCompile(`(?i)keep in mind`), "fact", 0.2, false},
	{regexp.MustCompile(`(?i)note:`), "fact", 0.2, false},

	// Decision triggers.
	{regexp.MustCompile(`(?i)(we|I) decided (to|that)`), "decision", 0.2, false},
	{regexp.MustCompile(`(?i)let's go with`), "decision", 0.15, false},
	{regexp.MustCompile(`(?i)the plan is`), "decision", 0.15, false},

	// Preference triggers.
	{regexp.MustCompile(`(?i)(I|we) prefer`), "preference", 0.15, false},
	{regexp.MustCompile(`(?i)(I|we) (always|never) (use|want|like)`), "preference", 0.15, false},

	// Lesson triggers.
	{regexp.MustCompile(`(?i)(I|we) learned (that|:)`), "lesson", 0.15, false},
	{regexp.MustCompile(`(?i)lesson:`), "lesson", 0.15, false},
	{regexp.MustCompile(`(?i)never again`), "lesson", 0.15, false},

	// Person attribute triggers.
	{regexp.MustCompile(`(?i)(his|her|their) (name|email|phone|role|title) is`), "person", 0.15, false},
	{regexp.MustCompile(`(?i)(he|she|they) (works?|lives?|is) (at|in|a)`), "person", 0.1, false},

	// Event triggers.
	{regexp.MustCompile(`(?i)(today|yesterday|tomorrow) (we|I)`), "event", 0.1, false},
	{regexp.MustCompile(`(?i)(just|recently) (set up|configured|deployed|fixed|broke|updated)`), "event", 0.1, false},
}

// Extract scans the messages for trigger patterns and returns candidate
// facts. System messages are skipped. Duplicate sentences (trimmed,
// case-insensitive) are deduped, first trigger wins.
func Extract(messages []Message) []Fact {
	var facts []Fact
	seen := make(map[string]struct{})

	for _, msg := range messages {
		if strings.EqualFold(msg.Role, "system") {
			continue
		}
		for _, p := range patterns {
			for _, loc := range p.re.FindAllStringIndex(msg.Content, -1) {
				text := consumeFact(msg.Content[loc[1]:])
				if len(text) <= minFactLen {
					continue
				}
				key := strings.ToLower(text)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				confidence := baseConfidence + p.boost
				if p.important {
					confidence += importantBonus
				}
				if confidence > 1.0 {
					confidence = 1.0
				}

				facts = append(facts, Fact{
					Content:    text,
					Category:   p.category,
					Confidence: confidence,
					Important:  p.important,
				})
			}
		}
	}
	return facts
}

// consumeFact takes the text after a trigger up to the first period,
// first newline, or 200 characters - whichever comes first - trimmed.
func consumeFact(rest string) string {
	end := len(rest)
	if idx := strings.IndexByte(rest, '.'); idx >= 0 && idx < end {
		end = idx
	}
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 && idx < end {
		end = idx
	}
	if end > maxFactLen {
		end = maxFactLen
	}
	return strings.TrimSpace(rest[:end])
}
