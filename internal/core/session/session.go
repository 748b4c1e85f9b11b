package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/assemble"
	"github.com/analysedoc/analysedoc/internal/core/chunk"
	"github.com/analysedoc/analysedoc/internal/core/lang"
	"github.com/analysedoc/analysedoc/internal/core/llm"
	"github.com/analysedoc/analysedoc/internal/core/summary"
)

const (
	// inlineThreshold is the document size, in characters, below which
	// the whole text lives in the system turn and no excerpt retrieval
	// happens per ask.
	inlineThreshold = 25000

	// Preview sizes for documents above the threshold: half from the
	// head, a quarter from the middle, a quarter from the tail.
	previewChars = 8000
)

// Session binds one ingested document to one conversation against one
// immutable provider configuration.
type Session struct {
	ID        string
	CreatedAt time.Time

	cfg       core.ProviderConfig
	doc       *core.Document
	chunks    []core.Chunk
	language  string
	conv      *Conversation
	gateway   *llm.Gateway
	assembler *assemble.Assembler
	summer    *summary.Summarizer
	logger    *zap.Logger

	// turnSlot serializes completions: at most one ask is in flight.
	turnSlot chan struct{}

	curMu   sync.Mutex
	current *llm.Stream

	sumMu  sync.Mutex
	sumsBy map[bool]*core.SummaryResult
}

// newSession chunks the document, detects its language and installs the
// system turn. Chunking and language detection are independent and run
// concurrently.
func newSession(ctx context.Context, id string, doc *core.Document, cfg core.ProviderConfig, maxTokens, overlapTokens int, gateway *llm.Gateway, summer *summary.Summarizer, logger *zap.Logger) (*Session, error) {
	if err := gateway.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cfg = llm.Normalize(cfg)

	var chunks []core.Chunk
	language := doc.Meta.Language

	g, _ := errgroup.WithContext(ctx)
	if len(doc.Text) >= inlineThreshold {
		g.Go(func() error {
			chunks = chunk.Split(doc, maxTokens, overlapTokens)
			return nil
		})
	}
	if language == "" {
		g.Go(func() error {
			language = lang.Detect(doc.Text)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Session{
		ID:        id,
		CreatedAt: time.Now(),
		cfg:       cfg,
		doc:       doc,
		chunks:    chunks,
		language:  language,
		gateway:   gateway,
		assembler: assemble.New(assemble.Config{Language: language}),
		summer:    summer,
		logger:    logger.With(zap.String("session_id", id)),
		turnSlot:  make(chan struct{}, 1),
		sumsBy:    make(map[bool]*core.SummaryResult),
	}
	s.conv = NewConversation(s.systemPrompt())
	return s, nil
}

// Document returns the session's ingested document.
func (s *Session) Document() *core.Document { return s.doc }

// Chunks returns the document's chunk sequence; nil for documents small
// enough to live whole in the system turn.
func (s *Session) Chunks() []core.Chunk { return s.chunks }

// History returns a snapshot of the conversation turns.
func (s *Session) History() []core.Turn { return s.conv.History() }

// Reply is the consumer-facing view of one in-flight answer. Deltas
// yields text fragments in order; Err is valid once Deltas closes.
type Reply struct {
	deltas chan string
	stream *llm.Stream
}

func (r *Reply) Deltas() <-chan string { return r.deltas }
func (r *Reply) Err() error            { return r.stream.Err() }
func (r *Reply) Cancel()               { r.stream.Cancel() }

// Ask runs one conversational turn: the query is appended to the
// history, the payload is assembled inside the model's window and the
// provider's deltas are streamed back. Only one completion is in flight
// per session; a concurrent Ask waits for the current one unless ctx
// ends first. When the reply finishes, the assistant turn is recorded as
// the concatenation of the observed deltas, marked truncated if the
// stream was cancelled mid-generation.
func (s *Session) Ask(ctx context.Context, query string) (*Reply, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("empty query")
	}

	select {
	case s.turnSlot <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	release := func() { <-s.turnSlot }

	payload, err := s.assembler.Assemble(s.conv, s.chunks, query, s.gateway.Window(s.cfg), s.cfg.MaxOutputTokens)
	if err != nil {
		release()
		return nil, err
	}

	stream, err := s.gateway.StreamCompletion(ctx, s.cfg, payload)
	if err != nil {
		release()
		return nil, err
	}
	s.conv.Append(core.RoleUser, query, false)
	s.setCurrent(stream)

	reply := &Reply{deltas: make(chan string, 16), stream: stream}
	go s.relay(stream, reply, release)
	return reply, nil
}

// relay tees the provider stream to the reply while accumulating the
// assistant turn, then records it and frees the turn slot.
func (s *Session) relay(stream *llm.Stream, reply *Reply, release func()) {
	defer release()
	defer close(reply.deltas)

	var b strings.Builder
	for d := range stream.Deltas() {
		b.WriteString(d)
		reply.deltas <- d
	}
	s.setCurrent(nil)

	err := stream.Err()
	truncated := errors.Is(err, context.Canceled)
	switch {
	case err == nil:
		s.conv.Append(core.RoleAssistant, b.String(), false)
	case truncated:
		s.conv.Append(core.RoleAssistant, b.String(), true)
		s.logger.Info("completion cancelled mid-stream", zap.Int("partial_bytes", b.Len()))
	default:
		// A failed turn leaves no assistant entry; the user turn stays
		// so the question is not lost from the history.
		s.logger.Warn("completion failed", zap.Error(err))
	}
}

// CancelCurrent stops the in-flight completion, if any. Deltas already
// emitted stand; the turn is recorded truncated.
func (s *Session) CancelCurrent() bool {
	s.curMu.Lock()
	defer s.curMu.Unlock()
	if s.current == nil {
		return false
	}
	s.current.Cancel()
	return true
}

func (s *Session) setCurrent(st *llm.Stream) {
	s.curMu.Lock()
	s.current = st
	s.curMu.Unlock()
}

// Summary returns the document summary, computing it on first use and
// caching per mode. Requests with an explicit max length or language
// override bypass the cache. The cache lives as long as the session's
// document.
func (s *Session) Summary(ctx context.Context, maxLength int, language string, useModel bool) *core.SummaryResult {
	s.sumMu.Lock()
	defer s.sumMu.Unlock()

	cacheable := maxLength == 0 && language == ""
	if cached, ok := s.sumsBy[useModel]; ok && cacheable {
		return cached
	}
	if language == "" {
		language = s.language
	}
	res := s.summer.Summarize(ctx, s.doc, s.cfg, summary.Options{
		MaxLength: maxLength,
		Language:  language,
		UseModel:  useModel,
	})
	if cacheable {
		s.sumsBy[useModel] = res
	}
	return res
}

// systemPrompt builds the session's system turn. Small documents carry
// their full text; larger ones carry a head/middle/tail preview plus the
// instruction that each question arrives with retrieved excerpts.
func (s *Session) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are an assistant that answers questions strictly about the document below. ")
	b.WriteString("Answer in the document's language. If the document does not contain the answer, say so.\n\n")
	fmt.Fprintf(&b, "DOCUMENT TYPE: %s\n", s.doc.Kind)
	if s.doc.Meta.Title != "" {
		fmt.Fprintf(&b, "TITLE: %s\n", s.doc.Meta.Title)
	}
	if s.doc.Meta.PageCount > 0 {
		fmt.Fprintf(&b, "PAGES (approx.): %d\n", s.doc.Meta.PageCount)
	}

	if len(s.doc.Text) < inlineThreshold {
		b.WriteString("\nFULL DOCUMENT CONTENT:\n")
		b.WriteString(s.doc.Text)
		return b.String()
	}

	head, middle, tail := previewSlices(s.doc.Text, previewChars)
	fmt.Fprintf(&b, "TOTAL LENGTH: %d characters (preview below)\n", len(s.doc.Text))
	b.WriteString("\nDOCUMENT PREVIEW (beginning):\n")
	b.WriteString(head)
	b.WriteString("\n\nDOCUMENT PREVIEW (middle):\n")
	b.WriteString(middle)
	b.WriteString("\n\nDOCUMENT PREVIEW (end):\n")
	b.WriteString(tail)
	b.WriteString("\n\nThe preview is partial. Each question comes with the document excerpts ")
	b.WriteString("most relevant to it; base your answers on those excerpts.")
	return b.String()
}

// previewSlices cuts budget characters out of text: half from the head,
// a quarter from the middle, a quarter from the tail. Cut points back
// off to rune boundaries.
func previewSlices(text string, budget int) (head, middle, tail string) {
	headN := budget / 2
	quarterN := budget / 4

	head = text[:runeFloor(text, headN)]
	mid := runeFloor(text, len(text)/2-quarterN/2)
	middle = text[mid:runeFloor(text, mid+quarterN)]
	tail = text[runeFloor(text, len(text)-quarterN):]
	return head, middle, tail
}

// runeFloor returns the largest rune boundary not past i.
func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
