package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hephaestus-forge/mnemo/internal/memory"
	"github.com/hephaestus-forge/mnemo/internal/store"
)

// topicsMessageCount is how many trailing user messages feed the
// compaction topics summary.
const topicsMessageCount = 5

// Session routes extracted facts into the memory facade at session
// boundaries.
type Session struct {
	mem *memory.Memory
}

// NewSession creates the session hook set.
func NewSession(mem *memory.Memory) *Session {
	return &Session{mem: mem}
}

// OnSessionEnd extracts facts from the session's messages and remembers
// them: important facts go to long-term, the rest to short-term.
// Returns the ids of the stored chunks.
func (h *Session) OnSessionEnd(ctx context.Context, sessionID string, messages []Message) ([]string, error) {
	facts := Extract(messages)

	var ids []string
	for _, fact := range facts {
		tier := store.TierShortTerm
		if fact.Important {
			tier = store.TierLongTerm
		}

		confidence := fact.Confidence
		id, err := h.mem.Remember(ctx, fact.Content, memory.RememberOptions{
			Tier:       tier,
			Category:   fact.Category,
			Confidence: &confidence,
			Important:  fact.Important,
			Source:     sessionID,
		})
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}

	if len(ids) > 0 {
		slog.Info("session_facts_stored",
			slog.String("session", sessionID),
			slog.Int("facts", len(ids)))
	}
	return ids, nil
}

// OnCompaction runs the session-end extraction and additionally stores
// a topics summary chunk built from the first lines of the last five
// user messages.
func (h *Session) OnCompaction(ctx context.Context, sessionID string, messages []Message) ([]string, error) {
	stored, err := h.OnSessionEnd(ctx, sessionID, messages)
	if err != nil {
		return stored, err
	}

	topics := topicsSummary(messages)
	if topics == "" {
		return stored, nil
	}

	id, err := h.mem.Remember(ctx, topics, memory.RememberOptions{
		Tier:     store.TierShortTerm,
		Category: "event",
		Source:   sessionID,
	})
	if err != nil {
		return stored, err
	}
	return append(stored, id), nil
}

// topicsSummary joins the first-line prefixes of the last
// topicsMessageCount user messages.
func topicsSummary(messages []Message) string {
	var lines []string
	for i := len(messages) - 1; i >= 0 && len(lines) < topicsMessageCount; i-- {
		msg := messages[i]
		if !strings.EqualFold(msg.Role, "user") {
			continue
		}
		line := msg.Content
		if idx := strings.IndexByte(line, '\n'); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 80 {
			line = line[:80]
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}

	// Restore chronological order.
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return fmt.Sprintf("Session topics: %s", strings.Join(lines, "; "))
}
