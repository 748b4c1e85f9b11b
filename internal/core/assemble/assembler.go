// Package assemble builds the prompt payload for one conversation turn:
// system instructions, the trimmed history, and the document excerpts
// most relevant to the query, all fitted inside the provider's input
// window.
package assemble

import (
	"fmt"
	"sort"
	"strings"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/chunk"
	"github.com/analysedoc/analysedoc/internal/core/lang"
)

// Defaults for the assembly policy.
const (
	DefaultHistoryFraction = 0.25
	DefaultTopK            = 2

	// messageOverhead pads each message's estimate for role framing and
	// provider-side formatting.
	messageOverhead = 4

	// perExcerptOverhead covers one excerpt's header line and separator
	// in the rendered user content; it is charged per selected chunk so
	// the wrapper never pushes the payload past the budget.
	perExcerptOverhead = 10
)

// Fixed text wrapped around the selected excerpts.
const (
	excerptPreamble = "RELEVANT DOCUMENT EXCERPTS FOR THIS QUESTION:\n\n"
	excerptDivider  = "\n\n---\n\n"
	excerptClosing  = "\n\nUse ONLY the excerpts above to answer the question below. " +
		"If the answer is not in these excerpts, say clearly that the specific information was not found.\n\n" +
		"QUESTION: "
)

// Conversation is the slice of session state the assembler needs: a
// history snapshot and front-trimming. The session owns the state; the
// assembler only receives a handle.
type Conversation interface {
	History() []core.Turn
	TrimToBudget(maxTokens int)
}

// Config tunes the assembly policy.
type Config struct {
	// HistoryFraction of the input budget reserved for conversation
	// history before document content is added.
	HistoryFraction float64
	// TopK chunks included when the full set does not fit.
	TopK int
	// Language for query stopword filtering; empty means English.
	Language string
}

// Assembler selects chunks and lays out the payload. Scoring is lexical
// and deterministic: identical inputs produce identical payloads.
type Assembler struct {
	cfg Config
}

func New(cfg Config) *Assembler {
	if cfg.HistoryFraction <= 0 || cfg.HistoryFraction >= 1 {
		cfg.HistoryFraction = DefaultHistoryFraction
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Assembler{cfg: cfg}
}

// Assemble builds the payload for query against the given chunks. window
// is the provider's input budget and outputReserve the tokens kept back
// for generation. History is trimmed (oldest non-system turns first) to
// its reserved share before content is added; the system turn and the
// current query are never dropped. chunks may be empty when the whole
// document already lives in the system turn.
func (a *Assembler) Assemble(conv Conversation, chunks []core.Chunk, query string, window, outputReserve int) (core.PromptPayload, error) {
	budget := window - outputReserve
	sys := systemTurn(conv.History())
	queryTok := chunk.EstimateTokens(query) + messageOverhead

	minimal := chunk.EstimateTokens(sys.Content) + messageOverhead + queryTok
	if budget <= 0 || minimal > budget {
		return core.PromptPayload{}, &core.ContextOverflowError{Needed: minimal, Window: window}
	}

	historyBudget := int(float64(budget) * a.cfg.HistoryFraction)
	if sysTok := chunk.EstimateTokens(sys.Content) + messageOverhead; historyBudget < sysTok {
		historyBudget = sysTok
	}
	conv.TrimToBudget(historyBudget)

	history := conv.History()
	used := queryTok
	for _, t := range history {
		used += chunk.EstimateTokens(t.Content) + messageOverhead
	}

	// The excerpt wrapper costs tokens too: its fixed preamble and
	// closing instructions come off the content budget here, and each
	// excerpt's header and separator are charged during selection.
	contentBudget := budget - used
	if len(chunks) > 0 {
		contentBudget -= chunk.EstimateTokens(excerptPreamble) + chunk.EstimateTokens(excerptClosing)
	}
	selected := a.selectChunks(chunks, query, contentBudget)

	messages := make([]core.Message, 0, len(history)+1)
	for _, t := range history {
		messages = append(messages, core.Message{Role: t.Role, Content: t.Content})
	}
	userContent := renderUserContent(selected, query)
	messages = append(messages, core.Message{Role: core.RoleUser, Content: userContent})

	total := 0
	for _, m := range messages {
		total += chunk.EstimateTokens(m.Content) + messageOverhead
	}
	return core.PromptPayload{Messages: messages, TokenEstimate: total}, nil
}

// selectChunks returns all chunks when they fit the content budget, and
// otherwise the top-K by lexical relevance to the query. When no keyword
// matches anything, the leading chunks stand in, since document openings
// carry the most general context.
func (a *Assembler) selectChunks(chunks []core.Chunk, query string, budget int) []core.Chunk {
	if len(chunks) == 0 || budget <= 0 {
		return nil
	}
	total := 0
	for _, c := range chunks {
		total += c.TokenEstimate + perExcerptOverhead
	}
	if total <= budget {
		return chunks
	}

	keywords := queryKeywords(query, a.cfg.Language)
	type scored struct {
		score int
		c     core.Chunk
	}
	ranked := make([]scored, 0, len(chunks))
	allZero := true
	for _, c := range chunks {
		s := scoreChunk(c.Text, keywords)
		if s > 0 {
			allZero = false
		}
		ranked = append(ranked, scored{score: s, c: c})
	}
	if !allZero {
		sort.SliceStable(ranked, func(i, j int) bool {
			if ranked[i].score != ranked[j].score {
				return ranked[i].score > ranked[j].score
			}
			return ranked[i].c.Index < ranked[j].c.Index
		})
	}

	var out []core.Chunk
	usedTok := 0
	for _, r := range ranked {
		if len(out) == a.cfg.TopK {
			break
		}
		if usedTok+r.c.TokenEstimate+perExcerptOverhead > budget {
			continue
		}
		out = append(out, r.c)
		usedTok += r.c.TokenEstimate + perExcerptOverhead
	}
	// Excerpts read better in document order regardless of score.
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// queryKeywords extracts the non-stopword terms of the query.
func queryKeywords(query, language string) []string {
	var kws []string
	for _, w := range lang.Tokenize(query) {
		if len([]rune(w)) <= 2 || lang.IsStopword(language, w) {
			continue
		}
		kws = append(kws, w)
	}
	return kws
}

// scoreChunk ranks a chunk against the query keywords: occurrence count
// weighted by keyword length, a bonus for early occurrence, and a bonus
// per distinct keyword found.
func scoreChunk(text string, keywords []string) int {
	if len(keywords) == 0 {
		return 0
	}
	lower := strings.ToLower(text)
	head := lower
	if len(head) > 200 {
		head = head[:200]
	}
	score, distinct := 0, 0
	for _, kw := range keywords {
		count := strings.Count(lower, kw)
		if count == 0 {
			continue
		}
		distinct++
		score += count * len(kw)
		if strings.Contains(head, kw) {
			score += len(kw) * 2
		}
	}
	return score + distinct*10
}

// renderUserContent wraps the selected excerpts around the query. With no
// excerpts the query goes through as-is (the document is already inlined
// in the system turn).
func renderUserContent(selected []core.Chunk, query string) string {
	if len(selected) == 0 {
		return query
	}
	var b strings.Builder
	b.WriteString(excerptPreamble)
	for i, c := range selected {
		fmt.Fprintf(&b, "[Excerpt %d - chunk %d]\n%s", i+1, c.Index, c.Text)
		if i < len(selected)-1 {
			b.WriteString(excerptDivider)
		}
	}
	b.WriteString(excerptClosing)
	b.WriteString(query)
	return b.String()
}

// systemTurn returns the conversation's system turn; it is always first.
func systemTurn(history []core.Turn) core.Turn {
	if len(history) > 0 && history[0].Role == core.RoleSystem {
		return history[0]
	}
	return core.Turn{Role: core.RoleSystem}
}
