package core

import (
	"errors"
	"fmt"
)

// ErrUnreadableDocument is returned when a local source cannot be parsed
// into text: malformed bytes, encrypted PDFs, or empty output after
// extraction. Configuration-class: never retried.
var ErrUnreadableDocument = errors.New("unreadable document")

// ErrTranscriptUnavailable is returned when a YouTube video has no
// captions in any acceptable language.
var ErrTranscriptUnavailable = errors.New("transcript unavailable")

// FetchReason classifies why a network fetch failed.
type FetchReason string

const (
	FetchTimeout    FetchReason = "timeout"
	FetchHTTPStatus FetchReason = "http_status"
	FetchDNS        FetchReason = "dns"
	// FetchConnection covers transport failures that are neither name
	// resolution nor timeout: refused connections, resets, TLS handshake
	// errors.
	FetchConnection FetchReason = "connection"
)

// FetchError wraps a failed fetch with its classification. Timeout and
// upstream 5xx failures are retried with bounded backoff before one of
// these surfaces.
type FetchError struct {
	Reason FetchReason
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: %s (status %d)", e.URL, e.Reason, e.Status)
	}
	return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Reason, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// RateLimitedError marks the documented "IP blocked" condition: the
// transcript provider refused the caller's network origin. Automatic
// retry from the same origin cannot succeed, so this is surfaced with a
// remediation hint instead of being retried.
type RateLimitedError struct {
	URL    string
	Status int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by %s (status %d)", e.URL, e.Status)
}

// Remediation is the hint the boundary layer attaches for the caller.
func (e *RateLimitedError) Remediation() string {
	return "the provider is blocking requests from this network origin; " +
		"configure a proxy, use a VPN or another network, or wait a few hours before retrying"
}

// ContextOverflowError is returned when even the system turn plus the
// current query cannot fit the provider's input window. This indicates a
// misconfigured window, not a recoverable runtime state.
type ContextOverflowError struct {
	Needed int
	Window int
}

func (e *ContextOverflowError) Error() string {
	return fmt.Sprintf("context overflow: need %d tokens, window is %d", e.Needed, e.Window)
}

// ProviderErrorKind classifies Model Gateway failures.
type ProviderErrorKind string

const (
	ProviderAuth         ProviderErrorKind = "auth"
	ProviderRateLimit    ProviderErrorKind = "rate_limit"
	ProviderInvalidModel ProviderErrorKind = "invalid_model"
	ProviderNetwork      ProviderErrorKind = "network"
)

// ProviderError wraps a completion failure. Auth and invalid_model are
// non-retryable; network and rate_limit are retried with bounded backoff
// before surfacing.
type ProviderError struct {
	Kind     ProviderErrorKind
	Provider ProviderName
	Status   int
	Message  string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Retryable reports whether the gateway may retry the request.
func (e *ProviderError) Retryable() bool {
	return e.Kind == ProviderNetwork || e.Kind == ProviderRateLimit
}
