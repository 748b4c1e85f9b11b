// Package fetch provides the proxy-aware HTTP fetcher used by the web and
// YouTube extractors. All network access for ingestion goes through here so
// that proxy routing, timeouts and error classification live in one place.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/analysedoc/analysedoc/internal/core"
)

// DefaultTimeout bounds every request; no fetch blocks indefinitely.
const DefaultTimeout = 30 * time.Second

// maxAttempts bounds the retry loop for timeout/upstream failures.
const maxAttempts = 3

// userAgent is sent on every request. Transcript and some news endpoints
// reject clients with library-default agents.
const userAgent = "Mozilla/5.0 (X11; Linux x86_64; rv:131.0) Gecko/20100101 Firefox/131.0"

// ProxyConfig carries optional proxy credentials. When present, all
// requests route through the proxy; otherwise connections are direct.
type ProxyConfig struct {
	Host string
	Port int
	User string
	Pass string
}

// URL renders the proxy as an http proxy URL.
func (p *ProxyConfig) URL() *url.URL {
	u := &url.URL{Scheme: "http", Host: fmt.Sprintf("%s:%d", p.Host, p.Port)}
	if p.User != "" {
		if p.Pass != "" {
			u.User = url.UserPassword(p.User, p.Pass)
		} else {
			u.User = url.User(p.User)
		}
	}
	return u
}

// Client is the proxy-aware fetcher.
type Client struct {
	hc     *http.Client
	logger *zap.Logger
}

// New builds a fetcher. proxy may be nil for a direct connection; a
// non-positive timeout falls back to DefaultTimeout.
func New(proxy *ProxyConfig, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if proxy != nil && proxy.Host != "" {
		transport.Proxy = http.ProxyURL(proxy.URL())
	}
	return &Client{
		hc:     &http.Client{Timeout: timeout, Transport: transport},
		logger: logger,
	}
}

// Get fetches rawURL and returns the response body. Timeout and upstream
// 5xx failures are retried with exponential backoff up to maxAttempts;
// RateLimited and client-side HTTP errors surface immediately.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	op := func() error {
		b, err := c.getOnce(ctx, rawURL)
		if err != nil {
			if retryableFetch(err) {
				c.logger.Warn("fetch attempt failed, retrying",
					zap.String("url", rawURL), zap.Error(err))
				return err
			}
			return backoff.Permanent(err)
		}
		body = b
		return nil
	}

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	if err := backoff.Retry(op, backoff.WithMaxRetries(bo, maxAttempts-1)); err != nil {
		return nil, err
	}
	return body, nil
}

func (c *Client) getOnce(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &core.FetchError{Reason: core.FetchConnection, URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en;q=0.8")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, classifyTransport(req.URL, rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, classifyStatus(req.URL, rawURL, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// classifyStatus maps a non-200 response to the error taxonomy. 429/403
// from a transcript host is the documented blocked-origin condition and
// gets the dedicated RateLimited classification.
func classifyStatus(u *url.URL, rawURL string, status int) error {
	if transcriptHost(u) && (status == http.StatusTooManyRequests || status == http.StatusForbidden) {
		return &core.RateLimitedError{URL: rawURL, Status: status}
	}
	return &core.FetchError{Reason: core.FetchHTTPStatus, URL: rawURL, Status: status}
}

// classifyTransport maps transport-level failures. A connection reset from
// a transcript host counts as blocked-origin, same as 429/403.
func classifyTransport(u *url.URL, rawURL string, err error) error {
	if errors.Is(err, syscall.ECONNRESET) && transcriptHost(u) {
		return &core.RateLimitedError{URL: rawURL}
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return &core.FetchError{Reason: core.FetchDNS, URL: rawURL, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &core.FetchError{Reason: core.FetchTimeout, URL: rawURL, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.FetchError{Reason: core.FetchTimeout, URL: rawURL, Err: err}
	}
	// Anything else (refused, reset, TLS failure) is a connection problem,
	// not a resolution one.
	return &core.FetchError{Reason: core.FetchConnection, URL: rawURL, Err: err}
}

// transcriptHost reports whether u points at the video transcript
// provider's infrastructure.
func transcriptHost(u *url.URL) bool {
	if u == nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	return host == "youtu.be" ||
		host == "youtube.com" || strings.HasSuffix(host, ".youtube.com") ||
		strings.HasSuffix(host, ".googlevideo.com")
}

// retryableFetch reports whether the fetch may be retried: timeouts and
// upstream 5xx responses only. RateLimited is explicitly excluded; the
// caller must change network origin for it to succeed.
func retryableFetch(err error) bool {
	var fe *core.FetchError
	if !errors.As(err, &fe) {
		return false
	}
	if fe.Reason == core.FetchTimeout {
		return true
	}
	return fe.Reason == core.FetchHTTPStatus && fe.Status >= 500
}
