// Package chunk normalizes extracted text and splits it into ordered,
// token-bounded chunks. Splitting is deterministic and prefers paragraph
// boundaries, falling back to sentence boundaries and finally a hard rune
// cut for pathological inputs.
package chunk

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/analysedoc/analysedoc/internal/core"
)

// Defaults mirror the ingestion tuning the system ships with: ~2000
// characters per chunk with a ~200 character overlap.
const (
	DefaultMaxTokens     = 500
	DefaultOverlapTokens = 50
)

var (
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
	blankRuns   = regexp.MustCompile(`\n{3,}`)
	lineTrailWS = regexp.MustCompile(`[ \t]+\n`)
)

// EstimateTokens approximates the token count of s as runes/4 rounded up.
// The real tokenizer is provider-specific; this estimate is monotonic and
// deterministic, which is all the budgeting logic needs.
func EstimateTokens(s string) int {
	n := len([]rune(s))
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// Normalize collapses repeated whitespace and strips control characters
// while preserving paragraph boundaries (blank lines).
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == '\uFEFF' {
			return -1
		}
		return r
	}, s)
	s = spaceRuns.ReplaceAllString(s, " ")
	s = lineTrailWS.ReplaceAllString(s, "\n")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// segment is a half-open byte range of the normalized text. Its token
// estimate covers the range up to the start of the next segment, so the
// inter-segment separators are accounted for.
type segment struct {
	start, end int
	tokens     int
}

// Split normalizes the document text and cuts it into chunks of at most
// maxTokens estimated tokens, with consecutive chunks sharing roughly
// overlapTokens of trailing context. A document that fits one chunk yields
// exactly one chunk with Overlap 0. Identical input and parameters always
// produce identical output.
func Split(doc *core.Document, maxTokens, overlapTokens int) []core.Chunk {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens / 2
	}

	text := Normalize(doc.Text)
	if text == "" {
		return nil
	}
	if EstimateTokens(text) <= maxTokens {
		return []core.Chunk{{Index: 0, Text: text, TokenEstimate: EstimateTokens(text)}}
	}

	segs := segmentize(text, maxTokens)
	var chunks []core.Chunk

	i := 0
	var prevEndSeg int // index one past the last segment of the previous chunk
	for i < len(segs) {
		newStart := segs[i].start

		// Pick the overlap tail from the previous chunk, shrinking it so
		// that overlap plus the first new segment never busts the budget.
		overlapStart := newStart
		overlapTok := 0
		if overlapTokens > 0 && len(chunks) > 0 {
			for j := prevEndSeg - 1; j >= 0; j-- {
				t := overlapTok + segs[j].tokens
				if t > overlapTokens || t+segs[i].tokens > maxTokens {
					break
				}
				overlapTok = t
				overlapStart = segs[j].start
			}
		}

		tok := overlapTok
		j := i
		for j < len(segs) {
			if j > i && tok+segs[j].tokens > maxTokens {
				break
			}
			tok += segs[j].tokens
			j++
		}

		// The chunk extends to the next chunk's start so that separator
		// bytes between segments are never lost on reassembly.
		chunkEnd := len(text)
		if j < len(segs) {
			chunkEnd = segs[j].start
		}
		chunkText := text[overlapStart:chunkEnd]
		chunks = append(chunks, core.Chunk{
			Index:         len(chunks),
			Text:          chunkText,
			TokenEstimate: EstimateTokens(chunkText),
			Overlap:       newStart - overlapStart,
		})
		prevEndSeg = j
		i = j
	}
	return chunks
}

// Reassemble reconstructs the normalized text from an ordered chunk
// sequence by skipping each chunk's duplicated overlap prefix.
func Reassemble(chunks []core.Chunk) string {
	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.Text[c.Overlap:])
	}
	return b.String()
}

// segmentize cuts normalized text into paragraph segments, splitting any
// paragraph whose estimate exceeds maxTokens at sentence boundaries and,
// as a last resort, at a hard rune cut. Token estimates include the bytes
// up to the next segment start so that chunk budgets stay honest.
func segmentize(text string, maxTokens int) []segment {
	var segs []segment
	off := 0
	for off < len(text) {
		end := strings.Index(text[off:], "\n\n")
		var paraEnd, nextOff int
		if end < 0 {
			paraEnd = len(text)
			nextOff = len(text)
		} else {
			paraEnd = off + end
			nextOff = off + end + 2
		}
		if EstimateTokens(text[off:nextOff]) > maxTokens {
			segs = append(segs, splitParagraph(text, off, paraEnd, nextOff, maxTokens)...)
		} else {
			segs = append(segs, segment{start: off, end: paraEnd, tokens: EstimateTokens(text[off:nextOff])})
		}
		off = nextOff
	}
	return segs
}

// splitParagraph cuts text[start:end] at sentence boundaries. Pieces that
// are still oversized get hard rune cuts. nextOff is where the following
// paragraph begins; the final piece's estimate covers up to it.
func splitParagraph(text string, start, end, nextOff, maxTokens int) []segment {
	bounds := sentenceBounds(text[start:end])

	var segs []segment
	pieceStart := start
	flush := func(pieceEnd int) {
		if pieceEnd <= pieceStart {
			return
		}
		spanEnd := pieceEnd
		if pieceEnd == end {
			spanEnd = nextOff
		}
		segs = append(segs, segment{
			start:  pieceStart,
			end:    pieceEnd,
			tokens: EstimateTokens(text[pieceStart:spanEnd]),
		})
		pieceStart = pieceEnd
	}

	hardCut := func(limit int) {
		// Oversized piece: cut at rune boundaries. A limit at the
		// paragraph end spans to nextOff, so the separator counts too.
		spanEnd := limit
		if limit == end {
			spanEnd = nextOff
		}
		for EstimateTokens(text[pieceStart:spanEnd]) > maxTokens {
			runes := []rune(text[pieceStart:limit])
			n := maxTokens * 4
			if n >= len(runes) {
				n = len(runes) - 1
			}
			if n <= 0 {
				return
			}
			flush(pieceStart + len(string(runes[:n])))
		}
	}

	prev := -1
	for _, rel := range bounds {
		abs := start + rel
		if abs <= pieceStart {
			continue
		}
		if EstimateTokens(text[pieceStart:abs]) > maxTokens {
			if prev > pieceStart {
				flush(prev)
			}
			if EstimateTokens(text[pieceStart:abs]) > maxTokens {
				hardCut(abs)
				flush(abs)
			}
		}
		prev = abs
	}
	if pieceStart < end {
		hardCut(end)
		flush(end)
	}
	return segs
}

// sentenceBounds returns byte offsets just past each sentence terminator
// followed by a space, relative to s.
func sentenceBounds(s string) []int {
	var bounds []int
	for i := 0; i+1 < len(s); i++ {
		switch s[i] {
		case '.', '!', '?', ';':
			if s[i+1] == ' ' || s[i+1] == '\n' {
				bounds = append(bounds, i+2)
			}
		}
	}
	return bounds
}
