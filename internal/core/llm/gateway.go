package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/analysedoc/analysedoc/internal/core"
)

// Generation defaults applied when the caller leaves them unset.
const (
	DefaultTemperature     = 0.7
	DefaultMaxOutputTokens = 4096
	defaultWindow          = 8192
	maxAttempts            = 3
)

// modelWindows lists each provider's model catalog with the input window
// (in tokens) the gateway budgets against. Membership doubles as model
// validation.
var modelWindows = map[core.ProviderName]map[string]int{
	core.ProviderGroq: {
		"llama-3.3-70b-versatile": 32768,
		"llama-3.1-8b-instant":    32768,
		"mixtral-8x7b-32768":      32768,
		"gemma2-9b-it":            8192,
	},
	core.ProviderOpenAI: {
		"gpt-4o":        128000,
		"gpt-4o-mini":   128000,
		"gpt-4-turbo":   128000,
		"gpt-3.5-turbo": 16385,
	},
	core.ProviderGemini: {
		"gemini-1.5-flash": 1000000,
		"gemini-1.5-pro":   2000000,
		"gemini-2.0-flash": 1000000,
	},
}

// Gateway fronts the registered providers: it validates configuration,
// retries retryable failures with bounded backoff and hands back a Stream.
type Gateway struct {
	providers map[core.ProviderName]Provider
	logger    *zap.Logger
}

func NewGateway(logger *zap.Logger, providers ...Provider) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{providers: make(map[core.ProviderName]Provider), logger: logger}
	for _, p := range providers {
		g.providers[p.Name()] = p
	}
	return g
}

// ValidateConfig checks the provider is registered, the API key is
// present and the model exists in the provider's catalog. Called once at
// session initialization; the config is immutable afterwards.
func (g *Gateway) ValidateConfig(cfg core.ProviderConfig) error {
	p, ok := g.providers[cfg.Provider]
	if !ok {
		return &core.ProviderError{
			Kind: core.ProviderInvalidModel, Provider: cfg.Provider,
			Message: fmt.Sprintf("unknown provider %q", cfg.Provider),
		}
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return &core.ProviderError{
			Kind: core.ProviderAuth, Provider: cfg.Provider,
			Message: "api key is required",
		}
	}
	for _, m := range p.Models() {
		if m == cfg.Model {
			return nil
		}
	}
	return &core.ProviderError{
		Kind: core.ProviderInvalidModel, Provider: cfg.Provider,
		Message: fmt.Sprintf("model %q is not in the %s catalog", cfg.Model, cfg.Provider),
	}
}

// Window returns the input token budget for the configured model. An
// explicit ContextWindow in the config wins over the catalog value.
func (g *Gateway) Window(cfg core.ProviderConfig) int {
	if cfg.ContextWindow > 0 {
		return cfg.ContextWindow
	}
	if w, ok := modelWindows[cfg.Provider][cfg.Model]; ok {
		return w
	}
	return defaultWindow
}

// Normalize fills generation defaults on a validated config.
func Normalize(cfg core.ProviderConfig) core.ProviderConfig {
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = DefaultMaxOutputTokens
	}
	return cfg
}

// StreamCompletion issues one streamed completion. Request establishment
// retries network and rate-limit failures with exponential backoff up to
// maxAttempts; auth and invalid-model failures surface immediately. The
// returned stream is finite and not restartable.
func (g *Gateway) StreamCompletion(ctx context.Context, cfg core.ProviderConfig, payload core.PromptPayload) (*Stream, error) {
	if err := g.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	cfg = Normalize(cfg)
	p := g.providers[cfg.Provider]

	streamCtx, cancel := context.WithCancel(ctx)

	var src <-chan Delta
	op := func() error {
		ch, err := p.StreamCompletion(streamCtx, cfg, payload)
		if err != nil {
			var pe *core.ProviderError
			if errors.As(err, &pe) && pe.Retryable() {
				g.logger.Warn("completion attempt failed, retrying",
					zap.String("provider", string(cfg.Provider)),
					zap.String("kind", string(pe.Kind)),
					zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		src = ch
		return nil
	}
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), streamCtx)
	if err := backoff.Retry(op, backoff.WithMaxRetries(bo, maxAttempts-1)); err != nil {
		cancel()
		return nil, err
	}

	s := newStream(cancel)
	go s.pump(streamCtx, src)
	return s, nil
}

// Complete drains a full completion into one string. Used by the
// summarizer's enhanced path, where streaming buys nothing.
func (g *Gateway) Complete(ctx context.Context, cfg core.ProviderConfig, payload core.PromptPayload) (string, error) {
	s, err := g.StreamCompletion(ctx, cfg, payload)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for d := range s.Deltas() {
		b.WriteString(d)
	}
	if err := s.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}
