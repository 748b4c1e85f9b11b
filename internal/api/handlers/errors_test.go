package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/session"
)

func TestWriteErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", session.ErrNotFound, http.StatusNotFound, "session_not_found"},
		{"unreadable", core.ErrUnreadableDocument, http.StatusUnprocessableEntity, "unreadable_document"},
		{"no transcript", core.ErrTranscriptUnavailable, http.StatusNotFound, "transcript_unavailable"},
		{"rate limited", &core.RateLimitedError{URL: "https://youtube.com/watch?v=x", Status: 429}, http.StatusTooManyRequests, "rate_limited"},
		{"overflow", &core.ContextOverflowError{Needed: 9000, Window: 8192}, http.StatusRequestEntityTooLarge, "context_overflow"},
		{"fetch", &core.FetchError{Reason: core.FetchTimeout, URL: "https://example.com"}, http.StatusBadGateway, "fetch_failed"},
		{"auth", &core.ProviderError{Kind: core.ProviderAuth, Provider: core.ProviderGroq}, http.StatusUnauthorized, "provider_auth"},
		{"bad model", &core.ProviderError{Kind: core.ProviderInvalidModel, Provider: core.ProviderOpenAI}, http.StatusBadRequest, "invalid_model"},
		{"provider 429", &core.ProviderError{Kind: core.ProviderRateLimit, Provider: core.ProviderGroq}, http.StatusTooManyRequests, "provider_rate_limited"},
		{"network", &core.ProviderError{Kind: core.ProviderNetwork, Provider: core.ProviderGroq}, http.StatusBadGateway, "provider_unreachable"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			var resp errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
		})
	}
}

func TestWriteErrorRateLimitHint(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, &core.RateLimitedError{URL: "https://youtube.com/watch?v=x", Status: 403})

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Hint, "proxy")
	assert.Contains(t, resp.Hint, "VPN")
}

func TestParseJSONOverlapZeroVsUnset(t *testing.T) {
	h := NewSessionHandler(nil, nil)

	r := httptest.NewRequest(http.MethodPost, "/api/sessions",
		strings.NewReader(`{"kind":"web","url":"https://example.com","chunk_overlap_tokens":0}`))
	p, err := h.parseJSON(r)
	require.NoError(t, err)
	require.NotNil(t, p.OverlapTokens)
	assert.Equal(t, 0, *p.OverlapTokens)

	r = httptest.NewRequest(http.MethodPost, "/api/sessions",
		strings.NewReader(`{"kind":"web","url":"https://example.com"}`))
	p, err = h.parseJSON(r)
	require.NoError(t, err)
	assert.Nil(t, p.OverlapTokens)
}

func TestKindFromFilename(t *testing.T) {
	assert.Equal(t, core.SourcePDF, kindFromFilename("report.PDF"))
	assert.Equal(t, core.SourceDOCX, kindFromFilename("notes.docx"))
	assert.Equal(t, core.SourceCSV, kindFromFilename("data.csv"))
	assert.Equal(t, core.SourceTXT, kindFromFilename("readme.md"))
}
