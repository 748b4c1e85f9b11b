// Package session owns the live state of one document conversation: the
// ingested document and its chunks, the append-only turn history, the
// in-flight completion, and the uuid-keyed registry of active sessions.
package session

import (
	"sync"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/chunk"
)

// turnOverhead pads each turn's token estimate for role framing, matching
// the assembler's per-message accounting.
const turnOverhead = 4

// Conversation is the append-only turn history of one session. The system
// turn is installed at construction, is always first, and is never
// trimmed. Safe for concurrent use.
type Conversation struct {
	mu    sync.Mutex
	turns []core.Turn
	seq   int
}

// NewConversation starts a history with the given system turn.
func NewConversation(systemPrompt string) *Conversation {
	c := &Conversation{}
	c.turns = append(c.turns, core.Turn{Role: core.RoleSystem, Content: systemPrompt, Seq: c.seq})
	c.seq++
	return c
}

// Append records a turn and returns it with its assigned sequence number.
func (c *Conversation) Append(role core.Role, content string, truncated bool) core.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := core.Turn{Role: role, Content: content, Seq: c.seq, Truncated: truncated}
	c.seq++
	c.turns = append(c.turns, t)
	return t
}

// History returns a snapshot copy of the turns in order.
func (c *Conversation) History() []core.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Len reports the number of turns including the system turn.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.turns)
}

// TrimToBudget drops the oldest non-system turns until the estimated
// token total fits maxTokens, and no more than needed. The system turn
// survives even when it alone exceeds the budget.
func (c *Conversation) TrimToBudget(maxTokens int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.turns) == 0 {
		return
	}
	total := 0
	for _, t := range c.turns {
		total += chunk.EstimateTokens(t.Content) + turnOverhead
	}
	// Index 0 is the system turn.
	cut := 1
	for total > maxTokens && cut < len(c.turns) {
		total -= chunk.EstimateTokens(c.turns[cut].Content) + turnOverhead
		cut++
	}
	if cut == 1 {
		return
	}
	kept := make([]core.Turn, 0, 1+len(c.turns)-cut)
	kept = append(kept, c.turns[0])
	kept = append(kept, c.turns[cut:]...)
	c.turns = kept
}
