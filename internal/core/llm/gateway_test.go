package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analysedoc/analysedoc/internal/core"
)

const testModel = "llama-3.1-8b-instant"

func testConfig() core.ProviderConfig {
	return core.ProviderConfig{
		Provider: core.ProviderGroq,
		Model:    testModel,
		APIKey:   "test-key",
	}
}

func testPayload() core.PromptPayload {
	return core.PromptPayload{Messages: []core.Message{
		{Role: core.RoleSystem, Content: "system"},
		{Role: core.RoleUser, Content: "hello"},
	}}
}

func deltaLine(text string) string {
	return fmt.Sprintf(`{"choices":[{"delta":{"content":%q}}]}`, text)
}

func sseServer(t *testing.T, lines ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		for _, l := range lines {
			fmt.Fprintf(w, "data: %s\n\n", l)
			fl.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func gatewayFor(srv *httptest.Server) *Gateway {
	return NewGateway(nil, NewOpenAICompat(core.ProviderGroq, srv.URL, nil))
}

func TestStreamCompletionDeltas(t *testing.T) {
	srv := sseServer(t, deltaLine("Hello"), deltaLine(" world"), "[DONE]")
	g := gatewayFor(srv)

	s, err := g.StreamCompletion(context.Background(), testConfig(), testPayload())
	require.NoError(t, err)

	var got string
	for d := range s.Deltas() {
		got += d
	}
	require.NoError(t, s.Err())
	assert.Equal(t, "Hello world", got)
}

func TestStreamCancellationKeepsEmittedDeltas(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fl := w.(http.Flusher)
		fmt.Fprintf(w, "data: %s\n\n", deltaLine("partial"))
		fl.Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	g := gatewayFor(srv)

	s, err := g.StreamCompletion(context.Background(), testConfig(), testPayload())
	require.NoError(t, err)

	first, ok := <-s.Deltas()
	require.True(t, ok)
	assert.Equal(t, "partial", first)

	s.Cancel()
	for range s.Deltas() {
	}
	assert.ErrorIs(t, s.Err(), context.Canceled)
}

func TestAuthFailureSurfacesImmediately(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key"}}`)
	}))
	t.Cleanup(srv.Close)
	g := gatewayFor(srv)

	_, err := g.StreamCompletion(context.Background(), testConfig(), testPayload())

	var pe *core.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, core.ProviderAuth, pe.Kind)
	assert.Equal(t, int32(1), attempts.Load(), "auth failures must not be retried")
}

func TestNetworkFailureRetriedThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: %s\n\ndata: [DONE]\n\n", deltaLine("recovered"))
	}))
	t.Cleanup(srv.Close)
	g := gatewayFor(srv)

	s, err := g.StreamCompletion(context.Background(), testConfig(), testPayload())
	require.NoError(t, err)

	var got string
	for d := range s.Deltas() {
		got += d
	}
	assert.Equal(t, "recovered", got)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestInvalidModelNotRetried(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"message":"no such model","code":"model_not_found"}}`)
	}))
	t.Cleanup(srv.Close)
	g := gatewayFor(srv)

	_, err := g.StreamCompletion(context.Background(), testConfig(), testPayload())

	var pe *core.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, core.ProviderInvalidModel, pe.Kind)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestValidateConfig(t *testing.T) {
	g := NewGateway(nil, NewGroq(nil))

	tests := []struct {
		name string
		cfg  core.ProviderConfig
		kind core.ProviderErrorKind
	}{
		{"unknown provider", core.ProviderConfig{Provider: "acme", Model: testModel, APIKey: "k"}, core.ProviderInvalidModel},
		{"missing key", core.ProviderConfig{Provider: core.ProviderGroq, Model: testModel}, core.ProviderAuth},
		{"unknown model", core.ProviderConfig{Provider: core.ProviderGroq, Model: "nope", APIKey: "k"}, core.ProviderInvalidModel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.ValidateConfig(tt.cfg)
			var pe *core.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.kind, pe.Kind)
		})
	}

	assert.NoError(t, g.ValidateConfig(testConfig()))
}

func TestWindowOverride(t *testing.T) {
	g := NewGateway(nil, NewGroq(nil))

	assert.Equal(t, 32768, g.Window(testConfig()))

	cfg := testConfig()
	cfg.ContextWindow = 1234
	assert.Equal(t, 1234, g.Window(cfg))
}

func TestCompleteDrainsStream(t *testing.T) {
	srv := sseServer(t, deltaLine("one "), deltaLine("two"), "[DONE]")
	g := gatewayFor(srv)

	out, err := g.Complete(context.Background(), testConfig(), testPayload())
	require.NoError(t, err)
	assert.Equal(t, "one two", out)
}

func TestCompletePropagatesStreamFailure(t *testing.T) {
	srv := sseServer(t, deltaLine("start"), "{not json")
	g := gatewayFor(srv)

	_, err := g.Complete(context.Background(), testConfig(), testPayload())
	var pe *core.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, core.ProviderNetwork, pe.Kind)
}

func TestStreamFinishesOnContextTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	g := gatewayFor(srv)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	s, err := g.StreamCompletion(ctx, testConfig(), testPayload())
	require.NoError(t, err)
	for range s.Deltas() {
	}
	assert.True(t, errors.Is(s.Err(), context.DeadlineExceeded) || errors.Is(s.Err(), context.Canceled))
}
