// Package summary derives a structured overview and ranked key terms
// from an ingested document. The baseline path is purely extractive and
// cannot fail; the model-refined path degrades to the baseline on any
// provider trouble instead of propagating the failure.
package summary

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/chunk"
	"github.com/analysedoc/analysedoc/internal/core/lang"
)

const (
	DefaultMaxLength  = 1500
	DefaultTopicCount = 10

	// windowTokens sizes the scoring windows the extractive pass walks
	// (~1000 characters each).
	windowTokens = 250

	// modelInputCap bounds how much document text one refinement call
	// may carry.
	modelInputCap = 20000

	minSentenceWords  = 6
	sentencesPerBlock = 3
)

// Options control one summarize call.
type Options struct {
	MaxLength  int    // overview bound in characters
	Language   string // empty auto-detects from the text
	UseModel   bool   // refine the overview with one gateway call
	TopicCount int    // fixed topics list length
}

func (o Options) withDefaults() Options {
	if o.MaxLength <= 0 {
		o.MaxLength = DefaultMaxLength
	}
	if o.TopicCount <= 0 {
		o.TopicCount = DefaultTopicCount
	}
	return o
}

// Completer is the one slice of the Model Gateway the enhanced path
// needs.
type Completer interface {
	Complete(ctx context.Context, cfg core.ProviderConfig, payload core.PromptPayload) (string, error)
}

// Summarizer produces SummaryResults. Safe for reuse across documents.
type Summarizer struct {
	completer Completer
	logger    *zap.Logger
}

func New(completer Completer, logger *zap.Logger) *Summarizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Summarizer{completer: completer, logger: logger}
}

// Summarize builds the summary for doc. With UseModel set, the baseline
// overview is handed to one completion call for abstractive refinement;
// if that call fails the baseline result is returned unchanged.
func (s *Summarizer) Summarize(ctx context.Context, doc *core.Document, cfg core.ProviderConfig, opts Options) *core.SummaryResult {
	opts = opts.withDefaults()
	text := chunk.Normalize(doc.Text)

	language := opts.Language
	if language == "" {
		language = doc.Meta.Language
	}
	if language == "" {
		language = lang.Detect(text)
	}

	result := &core.SummaryResult{
		Overview: extractiveOverview(text, opts.MaxLength),
		Topics:   rankTopics(text, language, opts.TopicCount),
		Language: language,
	}

	if !opts.UseModel || s.completer == nil {
		return result
	}
	refined, err := s.refine(ctx, cfg, text, result.Overview, opts.MaxLength, language)
	if err != nil {
		s.logger.Warn("model refinement failed, keeping extractive summary", zap.Error(err))
		return result
	}
	result.Overview = refined
	return result
}

// extractiveOverview scores sentences across fixed windows of the text
// and stitches the strongest ones into an overview bounded by maxLength
// characters. Text that already fits is returned whole.
func extractiveOverview(text string, maxLength int) string {
	if utf8.RuneCountInString(text) <= maxLength {
		return text
	}

	windows := chunk.Split(&core.Document{Text: text}, windowTokens, 0)
	var picked []string
	for _, w := range windows {
		sentences := splitSentences(w.Text)
		kept := sentences[:0]
		for _, sent := range sentences {
			if len(strings.Fields(sent)) >= minSentenceWords {
				kept = append(kept, sent)
			}
		}
		// Longer sentences tend to carry the substance; stable sort
		// keeps the pick deterministic.
		sort.SliceStable(kept, func(i, j int) bool { return len(kept[i]) > len(kept[j]) })
		if len(kept) > sentencesPerBlock {
			kept = kept[:sentencesPerBlock]
		}
		picked = append(picked, kept...)
	}

	overview := strings.Join(picked, " ")
	if overview == "" {
		overview = text
	}
	return truncateAtSentence(overview, maxLength)
}

// rankTopics returns the top-n terms by frequency over stopword-filtered
// alphabetic tokens longer than three runes, scored relative to the most
// frequent term. Documents with fewer distinct terms yield fewer topics.
func rankTopics(text, language string, n int) []core.Topic {
	freq := make(map[string]int)
	for _, w := range lang.Tokenize(text) {
		if len([]rune(w)) <= 3 || lang.IsStopword(language, w) {
			continue
		}
		freq[w]++
	}
	terms := make([]string, 0, len(freq))
	for t := range freq {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool {
		if freq[terms[i]] != freq[terms[j]] {
			return freq[terms[i]] > freq[terms[j]]
		}
		return terms[i] < terms[j]
	})
	if len(terms) > n {
		terms = terms[:n]
	}
	if len(terms) == 0 {
		return nil
	}
	max := float64(freq[terms[0]])
	topics := make([]core.Topic, 0, len(terms))
	for _, t := range terms {
		topics = append(topics, core.Topic{Term: t, Score: float64(freq[t]) / max})
	}
	return topics
}

// refine asks the configured model for an abstractive rewrite of the
// extractive overview.
func (s *Summarizer) refine(ctx context.Context, cfg core.ProviderConfig, text, baseline string, maxLength int, language string) (string, error) {
	excerpt := text
	if len(excerpt) > modelInputCap {
		n := modelInputCap
		for n > 0 && !utf8.RuneStart(excerpt[n]) {
			n--
		}
		excerpt = excerpt[:n]
	}
	payload := core.PromptPayload{Messages: []core.Message{
		{
			Role: core.RoleSystem,
			Content: "You are a document analysis assistant. You write concise, " +
				"faithful summaries in the document's language.",
		},
		{
			Role: core.RoleUser,
			Content: fmt.Sprintf(
				"Create a concise, informative summary of the following document in %s. "+
					"The summary must be at most %d characters and capture the main points, "+
					"central ideas and most relevant information.\n\n"+
					"DOCUMENT:\n%s\n\nDRAFT EXTRACTIVE SUMMARY (improve on this):\n%s\n\nSUMMARY:",
				language, maxLength, excerpt, baseline),
		},
	}}
	out, err := s.completer.Complete(ctx, cfg, payload)
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty refinement response")
	}
	return truncateAtSentence(out, maxLength), nil
}

// splitSentences cuts s after sentence terminators followed by a space.
func splitSentences(s string) []string {
	var out []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			if s[i+1] == ' ' || s[i+1] == '\n' {
				if sent := strings.TrimSpace(s[start : i+1]); sent != "" {
					out = append(out, sent)
				}
				start = i + 1
			}
		}
	}
	if sent := strings.TrimSpace(s[start:]); sent != "" {
		out = append(out, sent)
	}
	return out
}

// truncateAtSentence bounds s to maxLength characters (runes, not
// bytes), preferring to cut at the last period so the overview ends on a
// whole sentence.
func truncateAtSentence(s string, maxLength int) string {
	if utf8.RuneCountInString(s) <= maxLength {
		return s
	}
	cut := string([]rune(s)[:maxLength])
	if i := strings.LastIndexByte(cut, '.'); i > 0 {
		return cut[:i+1]
	}
	return strings.TrimSpace(cut) + "..."
}
