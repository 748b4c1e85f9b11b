package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/session"
)

// errorResponse is the JSON shape every failure maps to. Hint is only set
// when there is a concrete remediation for the caller.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Hint    string `json:"hint,omitempty"`
}

// writeError maps a domain error onto an HTTP status and the error JSON.
func writeError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: "internal", Message: err.Error()}
	status := http.StatusInternalServerError

	var (
		rle *core.RateLimitedError
		fe  *core.FetchError
		coe *core.ContextOverflowError
		pe  *core.ProviderError
	)
	switch {
	case errors.Is(err, session.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "session_not_found"
	case errors.Is(err, core.ErrUnreadableDocument):
		status, resp.Error = http.StatusUnprocessableEntity, "unreadable_document"
	case errors.Is(err, core.ErrTranscriptUnavailable):
		status, resp.Error = http.StatusNotFound, "transcript_unavailable"
	case errors.As(err, &rle):
		status, resp.Error = http.StatusTooManyRequests, "rate_limited"
		resp.Hint = rle.Remediation()
	case errors.As(err, &coe):
		status, resp.Error = http.StatusRequestEntityTooLarge, "context_overflow"
	case errors.As(err, &fe):
		status, resp.Error = http.StatusBadGateway, "fetch_failed"
	case errors.As(err, &pe):
		switch pe.Kind {
		case core.ProviderAuth:
			status, resp.Error = http.StatusUnauthorized, "provider_auth"
		case core.ProviderInvalidModel:
			status, resp.Error = http.StatusBadRequest, "invalid_model"
		case core.ProviderRateLimit:
			status, resp.Error = http.StatusTooManyRequests, "provider_rate_limited"
		default:
			status, resp.Error = http.StatusBadGateway, "provider_unreachable"
		}
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
