package assemble

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/chunk"
)

// fakeConv implements Conversation over a plain slice with front trimming
// that spares the system turn.
type fakeConv struct {
	turns []core.Turn
}

func newFakeConv(system string, rest ...string) *fakeConv {
	c := &fakeConv{turns: []core.Turn{{Role: core.RoleSystem, Content: system}}}
	for i, content := range rest {
		role := core.RoleUser
		if i%2 == 1 {
			role = core.RoleAssistant
		}
		c.turns = append(c.turns, core.Turn{Role: role, Content: content, Seq: i + 1})
	}
	return c
}

func (c *fakeConv) History() []core.Turn { return c.turns }

func (c *fakeConv) TrimToBudget(maxTokens int) {
	total := 0
	for _, t := range c.turns {
		total += chunk.EstimateTokens(t.Content) + 4
	}
	for total > maxTokens && len(c.turns) > 1 {
		total -= chunk.EstimateTokens(c.turns[1].Content) + 4
		c.turns = append(c.turns[:1], c.turns[2:]...)
	}
}

func mkChunks(texts ...string) []core.Chunk {
	out := make([]core.Chunk, len(texts))
	for i, s := range texts {
		out[i] = core.Chunk{Index: i, Text: s, TokenEstimate: chunk.EstimateTokens(s)}
	}
	return out
}

func TestAssembleSmallDocInlinesAllChunks(t *testing.T) {
	a := New(Config{})
	conv := newFakeConv("You answer about the document.")
	chunks := mkChunks("alpha section text", "beta section text")

	payload, err := a.Assemble(conv, chunks, "what is alpha?", 4000, 500)
	require.NoError(t, err)

	last := payload.Messages[len(payload.Messages)-1]
	assert.Equal(t, core.RoleUser, last.Role)
	assert.Contains(t, last.Content, "alpha section text")
	assert.Contains(t, last.Content, "beta section text")
	assert.Contains(t, last.Content, "what is alpha?")
}

func TestAssemblePayloadWithinBudget(t *testing.T) {
	a := New(Config{})
	conv := newFakeConv("system", strings.Repeat("history turn content ", 40), strings.Repeat("assistant reply content ", 40))
	texts := make([]string, 12)
	for i := range texts {
		texts[i] = strings.Repeat("chunk body filler words here ", 30)
	}

	window, reserve := 2000, 400
	payload, err := a.Assemble(conv, mkChunks(texts...), "a question about the chunk body", window, reserve)
	require.NoError(t, err)

	assert.LessOrEqual(t, payload.TokenEstimate, window-reserve)
}

func TestAssembleTightBudgetAccountsForExcerptFraming(t *testing.T) {
	a := New(Config{TopK: 3})
	conv := newFakeConv("system")

	// Three large chunks, every one matching the query, that together
	// nearly fill the window. The excerpt preamble, headers and closing
	// instructions must come out of the same budget.
	text := strings.Repeat("coolant loop pressure data and reactor telemetry readings ", 34)
	chunks := mkChunks(text, text, text)

	window := 1000
	payload, err := a.Assemble(conv, chunks, "what do the reactor telemetry readings show?", window, 0)
	require.NoError(t, err)

	last := payload.Messages[len(payload.Messages)-1].Content
	assert.Contains(t, last, "[Excerpt 1")
	assert.NotContains(t, last, "[Excerpt 2")
	assert.LessOrEqual(t, payload.TokenEstimate, window)
}

func TestAssembleOverflowWhenQueryCannotFit(t *testing.T) {
	a := New(Config{})
	conv := newFakeConv(strings.Repeat("s", 2000)) // ~500 tokens of system prompt

	_, err := a.Assemble(conv, nil, "question", 100, 50)

	var coe *core.ContextOverflowError
	require.ErrorAs(t, err, &coe)
	assert.Greater(t, coe.Needed, coe.Window)
}

func TestAssembleSelectsRelevantChunks(t *testing.T) {
	a := New(Config{TopK: 2})
	conv := newFakeConv("system")

	filler := strings.Repeat("unrelated filler text about nothing in particular ", 40)
	match := "The reactor shutdown procedure requires draining the coolant loop first. " + filler
	chunks := mkChunks(filler, match, filler, filler)

	// Budget small enough that not every chunk fits.
	payload, err := a.Assemble(conv, chunks, "how does the reactor shutdown procedure work?", 1400, 200)
	require.NoError(t, err)

	last := payload.Messages[len(payload.Messages)-1].Content
	assert.Contains(t, last, "coolant loop")
	assert.Contains(t, last, "- chunk 1]")
}

func TestAssembleFallsBackToLeadingChunks(t *testing.T) {
	a := New(Config{TopK: 1})
	conv := newFakeConv("system")

	chunks := mkChunks(
		"first chunk "+strings.Repeat("aaaa ", 200),
		"second chunk "+strings.Repeat("bbbb ", 200),
		"third chunk "+strings.Repeat("cccc ", 200),
	)

	// No keyword appears anywhere: document order decides.
	payload, err := a.Assemble(conv, chunks, "zzzz qqqq wwww?", 800, 100)
	require.NoError(t, err)

	last := payload.Messages[len(payload.Messages)-1].Content
	assert.Contains(t, last, "first chunk")
	assert.NotContains(t, last, "second chunk")
}

func TestAssembleDeterministic(t *testing.T) {
	a := New(Config{})
	chunks := mkChunks(
		strings.Repeat("gamma delta content ", 50),
		strings.Repeat("epsilon zeta content ", 50),
		strings.Repeat("gamma epsilon mixed ", 50),
	)

	p1, err := a.Assemble(newFakeConv("system"), chunks, "tell me about gamma", 900, 100)
	require.NoError(t, err)
	p2, err := a.Assemble(newFakeConv("system"), chunks, "tell me about gamma", 900, 100)
	require.NoError(t, err)

	assert.Equal(t, p1, p2)
}

func TestAssembleEmptyChunksPassesQueryThrough(t *testing.T) {
	a := New(Config{})
	conv := newFakeConv("system with full document inline")

	payload, err := a.Assemble(conv, nil, "plain question", 4000, 500)
	require.NoError(t, err)

	last := payload.Messages[len(payload.Messages)-1]
	assert.Equal(t, "plain question", last.Content)
}

func TestScoreChunkPrefersEarlyAndDistinctMatches(t *testing.T) {
	kws := []string{"reactor", "coolant"}

	early := scoreChunk("reactor coolant overview and details follow", kws)
	late := scoreChunk(strings.Repeat("padding words here and more ", 10)+"reactor coolant", kws)
	assert.Greater(t, early, late)

	distinct := scoreChunk("reactor coolant", kws)
	repeated := scoreChunk("reactor reactor", kws)
	assert.Greater(t, distinct, repeated)
}
