package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/analysedoc/analysedoc/internal/core"
)

// Groq and OpenAI speak the same chat-completions wire protocol, so both
// adapters share this client and differ only in base URL and catalog.
type openAICompat struct {
	name    core.ProviderName
	baseURL string
	hc      *http.Client
	logger  *zap.Logger
}

// NewGroq builds the Groq provider adapter.
func NewGroq(logger *zap.Logger) Provider {
	return newOpenAICompat(core.ProviderGroq, "https://api.groq.com/openai/v1", logger)
}

// NewOpenAI builds the OpenAI provider adapter.
func NewOpenAI(logger *zap.Logger) Provider {
	return newOpenAICompat(core.ProviderOpenAI, "https://api.openai.com/v1", logger)
}

// NewOpenAICompat builds an adapter against a custom endpoint speaking
// the chat-completions protocol. Tests point this at a local server.
func NewOpenAICompat(name core.ProviderName, baseURL string, logger *zap.Logger) Provider {
	return newOpenAICompat(name, baseURL, logger)
}

func newOpenAICompat(name core.ProviderName, baseURL string, logger *zap.Logger) *openAICompat {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &openAICompat{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		// No client-level timeout: streams stay open as long as the
		// model generates. Cancellation comes from the request context.
		hc:     &http.Client{Timeout: 0},
		logger: logger,
	}
}

func (c *openAICompat) Name() core.ProviderName { return c.name }

func (c *openAICompat) Models() []string {
	catalog := modelWindows[c.name]
	models := make([]string, 0, len(catalog))
	for m := range catalog {
		models = append(models, m)
	}
	sort.Strings(models)
	return models
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (c *openAICompat) StreamCompletion(ctx context.Context, cfg core.ProviderConfig, payload core.PromptPayload) (<-chan Delta, error) {
	reqBody := chatRequest{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxOutputTokens,
		Stream:      true,
	}
	for _, m := range payload.Messages {
		reqBody.Messages = append(reqBody.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	body, err := json.Marshal(&reqBody)
	if err != nil {
		return nil, &core.ProviderError{Kind: core.ProviderNetwork, Provider: c.name, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &core.ProviderError{Kind: core.ProviderNetwork, Provider: c.name, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.hc.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, &core.ProviderError{Kind: core.ProviderNetwork, Provider: c.name, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, c.classifyStatus(resp)
	}

	out := make(chan Delta, 16)
	go c.scanStream(ctx, resp.Body, out)
	return out, nil
}

// scanStream reads server-sent events until [DONE], a parse failure or
// context cancellation, and always closes the output channel.
func (c *openAICompat) scanStream(ctx context.Context, body io.ReadCloser, out chan<- Delta) {
	defer close(out)
	defer body.Close()

	emit := func(d Delta) bool {
		select {
		case out <- d:
			return true
		case <-ctx.Done():
			return false
		}
	}

	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			return
		}
		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			emit(Delta{Err: &core.ProviderError{
				Kind: core.ProviderNetwork, Provider: c.name,
				Message: "malformed stream chunk", Err: err,
			}})
			return
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if text := chunk.Choices[0].Delta.Content; text != "" {
			if !emit(Delta{Text: text}) {
				return
			}
		}
		if chunk.Choices[0].FinishReason != nil && *chunk.Choices[0].FinishReason != "" {
			return
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		emit(Delta{Err: &core.ProviderError{Kind: core.ProviderNetwork, Provider: c.name, Err: err}})
	}
}

func (c *openAICompat) classifyStatus(resp *http.Response) error {
	slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	var ae apiError
	_ = json.Unmarshal(slurp, &ae)
	msg := ae.Error.Message
	if msg == "" {
		msg = strings.TrimSpace(string(slurp))
	}

	kind := core.ProviderNetwork
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		kind = core.ProviderAuth
	case resp.StatusCode == http.StatusNotFound || ae.Error.Code == "model_not_found":
		kind = core.ProviderInvalidModel
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = core.ProviderRateLimit
	case resp.StatusCode/100 == 4:
		// Remaining 4xx mean we built a bad request; retrying the same
		// payload cannot help.
		kind = core.ProviderInvalidModel
	}
	return &core.ProviderError{
		Kind: kind, Provider: c.name, Status: resp.StatusCode,
		Message: fmt.Sprintf("upstream %d: %s", resp.StatusCode, msg),
	}
}

var _ Provider = (*openAICompat)(nil)
