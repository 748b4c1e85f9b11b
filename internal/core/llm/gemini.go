package llm

import (
	"context"
	"errors"
	"net/http"
	"sort"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/analysedoc/analysedoc/internal/core"
)

// gemini adapts the Google generative AI SDK to the provider interface.
type gemini struct {
	logger *zap.Logger
}

// NewGemini builds the Gemini provider adapter.
func NewGemini(logger *zap.Logger) Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &gemini{logger: logger}
}

func (g *gemini) Name() core.ProviderName { return core.ProviderGemini }

func (g *gemini) Models() []string {
	catalog := modelWindows[core.ProviderGemini]
	models := make([]string, 0, len(catalog))
	for m := range catalog {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

func (g *gemini) StreamCompletion(ctx context.Context, cfg core.ProviderConfig, payload core.PromptPayload) (<-chan Delta, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, g.classify(err)
	}

	model := client.GenerativeModel(cfg.Model)
	model.SetTemperature(float32(cfg.Temperature))
	model.SetMaxOutputTokens(int32(cfg.MaxOutputTokens))

	// The payload carries one optional system message up front, prior
	// turns, and the current user message last.
	var history []*genai.Content
	var last string
	for i, m := range payload.Messages {
		switch m.Role {
		case core.RoleSystem:
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Content)}}
		case core.RoleUser:
			if i == len(payload.Messages)-1 {
				last = m.Content
				continue
			}
			history = append(history, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		case core.RoleAssistant:
			history = append(history, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}

	chat := model.StartChat()
	chat.History = history
	iter := chat.SendMessageStream(ctx, genai.Text(last))

	out := make(chan Delta, 16)
	go func() {
		defer close(out)
		defer client.Close()
		for {
			resp, err := iter.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					out <- Delta{Err: g.classify(err)}
				}
				return
			}
			for _, cand := range resp.Candidates {
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					text, ok := part.(genai.Text)
					if !ok || text == "" {
						continue
					}
					select {
					case out <- Delta{Text: string(text)}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()
	return out, nil
}

func (g *gemini) classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		kind := core.ProviderNetwork
		switch gerr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = core.ProviderAuth
		case http.StatusNotFound, http.StatusBadRequest:
			kind = core.ProviderInvalidModel
		case http.StatusTooManyRequests:
			kind = core.ProviderRateLimit
		}
		return &core.ProviderError{
			Kind: kind, Provider: core.ProviderGemini,
			Status: gerr.Code, Message: gerr.Message, Err: err,
		}
	}
	return &core.ProviderError{Kind: core.ProviderNetwork, Provider: core.ProviderGemini, Err: err}
}

var _ Provider = (*gemini)(nil)
