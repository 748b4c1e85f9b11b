// Package handlers is the HTTP boundary: it validates caller input,
// translates it into session operations and maps domain errors onto
// HTTP statuses. No domain logic lives here.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/analysedoc/analysedoc/internal/core"
	"github.com/analysedoc/analysedoc/internal/core/extract"
	"github.com/analysedoc/analysedoc/internal/core/session"
)

// maxUploadBytes bounds one uploaded document.
const maxUploadBytes = 50 << 20

type SessionHandler struct {
	manager *session.Manager
	logger  *zap.Logger
}

func NewSessionHandler(manager *session.Manager, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{manager: manager, logger: logger}
}

// createRequest is the JSON body for url-backed sources. File-backed
// sources arrive as multipart form fields with the same names.
type createRequest struct {
	Kind            string  `json:"kind"`
	URL             string  `json:"url"`
	Provider        string  `json:"provider"`
	Model           string  `json:"model"`
	APIKey          string  `json:"api_key"`
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"max_output_tokens"`
	ContextWindow   int     `json:"context_window"`
	Language        string  `json:"language"`
	MaxTokens       int     `json:"chunk_max_tokens"`
	// A pointer so an explicit zero (no overlap) is distinguishable from
	// the field being absent.
	OverlapTokens *int `json:"chunk_overlap_tokens"`
}

type sessionResponse struct {
	SessionID string            `json:"session_id"`
	Kind      core.SourceKind   `json:"kind"`
	Meta      core.DocumentMeta `json:"meta"`
	Chunks    int               `json:"chunks"`
	CreatedAt time.Time         `json:"created_at"`
}

// CreateSession ingests a source and opens a conversation over it.
// Multipart uploads carry the file plus form fields; web and youtube
// sources post JSON with a url.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var (
		params session.CreateParams
		err    error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		params, err = h.parseMultipart(r)
	} else {
		params, err = h.parseJSON(r)
	}
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: err.Error()})
		return
	}

	s, err := h.manager.Create(r.Context(), params)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, sessionResponse{
		SessionID: s.ID,
		Kind:      s.Document().Kind,
		Meta:      s.Document().Meta,
		Chunks:    len(s.Chunks()),
		CreatedAt: s.CreatedAt,
	})
}

func (h *SessionHandler) parseJSON(r *http.Request) (session.CreateParams, error) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return session.CreateParams{}, fmt.Errorf("invalid JSON body: %w", err)
	}
	kind := core.SourceKind(req.Kind)
	if kind != core.SourceWeb && kind != core.SourceYouTube {
		return session.CreateParams{}, fmt.Errorf("kind %q requires a multipart file upload", req.Kind)
	}
	if strings.TrimSpace(req.URL) == "" {
		return session.CreateParams{}, fmt.Errorf("url is required for kind %q", req.Kind)
	}
	return session.CreateParams{
		Kind:    kind,
		Payload: extract.Payload{URL: req.URL, Language: req.Language},
		Config: core.ProviderConfig{
			Provider:        core.ProviderName(req.Provider),
			Model:           req.Model,
			APIKey:          req.APIKey,
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
			ContextWindow:   req.ContextWindow,
		},
		MaxTokens:     req.MaxTokens,
		OverlapTokens: req.OverlapTokens,
	}, nil
}

func (h *SessionHandler) parseMultipart(r *http.Request) (session.CreateParams, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return session.CreateParams{}, fmt.Errorf("invalid multipart form: %w", err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return session.CreateParams{}, fmt.Errorf("file field is required: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		return session.CreateParams{}, fmt.Errorf("reading upload: %w", err)
	}

	kind := core.SourceKind(r.FormValue("kind"))
	if kind == "" {
		kind = kindFromFilename(header.Filename)
	}

	return session.CreateParams{
		Kind: kind,
		Payload: extract.Payload{
			Data:     data,
			Filename: filepath.Base(header.Filename),
			Language: r.FormValue("language"),
		},
		Config: core.ProviderConfig{
			Provider:        core.ProviderName(r.FormValue("provider")),
			Model:           r.FormValue("model"),
			APIKey:          r.FormValue("api_key"),
			Temperature:     formFloat(r, "temperature"),
			MaxOutputTokens: formInt(r, "max_output_tokens"),
			ContextWindow:   formInt(r, "context_window"),
		},
		MaxTokens:     formInt(r, "chunk_max_tokens"),
		OverlapTokens: formIntOpt(r, "chunk_overlap_tokens"),
	}, nil
}

type askRequest struct {
	Query string `json:"query"`
}

// Ask streams the answer to one question as server-sent events: "delta"
// events carry text fragments, one final "done" or "error" event closes
// the stream. Closing the connection cancels generation; the partial
// answer stays in the history marked truncated.
func (h *SessionHandler) Ask(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req askRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Query) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad_request", Message: "query is required"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal", Message: "streaming unsupported"})
		return
	}

	reply, err := s.Ask(r.Context(), req.Query)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for delta := range reply.Deltas() {
		writeSSE(w, "delta", delta)
		flusher.Flush()
	}
	if err := reply.Err(); err != nil {
		writeSSE(w, "error", err.Error())
	} else {
		writeSSE(w, "done", "")
	}
	flusher.Flush()
}

// Cancel stops the session's in-flight completion.
func (h *SessionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": s.CancelCurrent()})
}

// Summary returns the document summary. Query params: max_length,
// language, and use_model (the configured provider refines the
// extractive overview).
func (h *SessionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	maxLength, _ := strconv.Atoi(q.Get("max_length"))
	useModel, _ := strconv.ParseBool(q.Get("use_model"))
	writeJSON(w, http.StatusOK, s.Summary(r.Context(), maxLength, q.Get("language"), useModel))
}

// Delete discards the session, cancelling any in-flight completion.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Delete(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// History returns the conversation turns of a session.
func (h *SessionHandler) History(w http.ResponseWriter, r *http.Request) {
	s, err := h.manager.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": s.History()})
}

// writeSSE emits one server-sent event. Multi-line data is split across
// data: lines per the SSE framing rules.
func writeSSE(w io.Writer, event, data string) {
	fmt.Fprintf(w, "event: %s\n", event)
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(w, "data: %s\n", line)
	}
	fmt.Fprint(w, "\n")
}

func kindFromFilename(name string) core.SourceKind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return core.SourcePDF
	case ".docx":
		return core.SourceDOCX
	case ".csv":
		return core.SourceCSV
	default:
		return core.SourceTXT
	}
}

func formInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.FormValue(key))
	return n
}

// formIntOpt returns nil when the field is absent, so a literal "0" keeps
// its meaning.
func formIntOpt(r *http.Request, key string) *int {
	v := r.FormValue(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return nil
	}
	return &n
}

func formFloat(r *http.Request, key string) float64 {
	f, _ := strconv.ParseFloat(r.FormValue(key), 64)
	return f
}
