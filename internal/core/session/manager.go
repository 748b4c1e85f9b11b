package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/chunk"
	"github.com/analysedoc/analysedoc/internal/core/extract"
	"github.com/analysedoc/analysedoc/internal/core/llm"
	"github.com/analysedoc/analysedoc/internal/core/summary"
)

// ErrNotFound is returned for operations against an unknown session id.
var ErrNotFound = errors.New("session not found")

// CreateParams are the caller-supplied settings for one new session.
type CreateParams struct {
	Kind    core.SourceKind
	Payload extract.Payload
	Config  core.ProviderConfig
	// MaxTokens caps one chunk's size; zero takes the default.
	MaxTokens int
	// OverlapTokens is the span duplicated between adjacent chunks. nil
	// takes the default; an explicit zero disables overlap.
	OverlapTokens *int
}

// Manager ingests documents into sessions and keeps the uuid-keyed
// registry of active ones. Safe for concurrent use.
type Manager struct {
	extractor *extract.Extractor
	gateway   *llm.Gateway
	summer    *summary.Summarizer
	logger    *zap.Logger

	// Chunking defaults applied when a create request leaves them unset.
	maxTokens     int
	overlapTokens int

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(extractor *extract.Extractor, gateway *llm.Gateway, summer *summary.Summarizer, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		extractor:     extractor,
		gateway:       gateway,
		summer:        summer,
		logger:        logger,
		maxTokens:     chunk.DefaultMaxTokens,
		overlapTokens: chunk.DefaultOverlapTokens,
		sessions:      make(map[string]*Session),
	}
}

// SetChunkDefaults overrides the chunking defaults for new sessions.
// Invalid combinations are ignored.
func (m *Manager) SetChunkDefaults(maxTokens, overlapTokens int) {
	if maxTokens <= 0 || overlapTokens < 0 || overlapTokens >= maxTokens {
		return
	}
	m.maxTokens, m.overlapTokens = maxTokens, overlapTokens
}

// Create extracts the source, builds the session state and registers it.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*Session, error) {
	if !core.KnownSourceKind(p.Kind) {
		return nil, fmt.Errorf("unsupported source kind %q", p.Kind)
	}
	if p.MaxTokens <= 0 {
		p.MaxTokens = m.maxTokens
	}
	overlap := m.overlapTokens
	if p.OverlapTokens != nil && *p.OverlapTokens >= 0 && *p.OverlapTokens < p.MaxTokens {
		overlap = *p.OverlapTokens
	}

	doc, err := m.extractor.Extract(ctx, p.Kind, p.Payload)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s, err := newSession(ctx, id, doc, p.Config, p.MaxTokens, overlap, m.gateway, m.summer, m.logger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("session created",
		zap.String("session_id", id),
		zap.String("kind", string(p.Kind)),
		zap.String("provider", string(p.Config.Provider)),
		zap.String("model", p.Config.Model),
		zap.Int("chars", len(doc.Text)),
		zap.Int("chunks", len(s.Chunks())))
	return s, nil
}

// Get looks up a session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete cancels any in-flight completion and discards the session.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	s.CancelCurrent()
	m.logger.Info("session discarded", zap.String("session_id", id))
	return nil
}

// Count reports the number of active sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
