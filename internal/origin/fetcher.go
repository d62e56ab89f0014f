// Package origin performs the gateway's network fetches against the upstream
// application server.
package origin

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/gestore/gateway/internal/infrastructure/config"
)

// Response is a captured upstream response. Opaque marks a response whose
// body could not be read in full; the cache refuses to store those.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
	Opaque bool
}

// Fetcher executes requests against the configured upstream origin.
//
// The request-path client performs no retries: the router treats a failed
// fetch as terminal for that request. The warming client retries at the
// transport level because install-time population runs against a possibly
// flaky network and is all-or-nothing anyway.
type Fetcher struct {
	base    *url.URL
	client  *resty.Client
	warming *retryablehttp.Client
}

// NewFetcher creates a fetcher for the upstream origin.
func NewFetcher(cfg config.UpstreamConfig) (*Fetcher, error) {
	base, err := url.Parse(cfg.Origin)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream origin: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("upstream origin must be an absolute URL: %q", cfg.Origin)
	}

	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetDoNotParseResponse(true).
		SetHeader("User-Agent", "gestore-gateway/1.0")
	// Retries stay off on the request path.
	client.SetRetryCount(0)

	warming := retryablehttp.NewClient()
	warming.RetryMax = 3
	warming.RetryWaitMin = 500 * time.Millisecond
	warming.RetryWaitMax = 10 * time.Second
	warming.HTTPClient.Timeout = cfg.Timeout
	warming.Logger = nil

	return &Fetcher{base: base, client: client, warming: warming}, nil
}

// Do forwards an intercepted request to the origin and captures the
// response. A returned error means no response at all (offline, DNS failure,
// connection refused). A response received but truncated mid-body comes back
// with Opaque set instead.
func (f *Fetcher) Do(ctx context.Context, req *http.Request) (*Response, error) {
	target := f.rebase(req.URL)

	r := f.client.R().SetContext(ctx)
	for key, values := range req.Header {
		for _, value := range values {
			r.Header.Add(key, value)
		}
	}
	if req.Body != nil {
		r.SetBody(req.Body)
	}

	resp, err := r.Execute(req.Method, target)
	if err != nil {
		return nil, fmt.Errorf("upstream fetch %s: %w", target, err)
	}
	raw := resp.RawBody()
	defer raw.Close()

	body, readErr := io.ReadAll(raw)
	return &Response{
		Status: resp.StatusCode(),
		Header: resp.Header().Clone(),
		Body:   body,
		Opaque: readErr != nil,
	}, nil
}

// Get fetches one absolute or origin-relative URL through the warming
// client.
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Response, error) {
	target := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Host == "" {
		target = f.base.ResolveReference(u).String()
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("build warm request %s: %w", target, err)
	}
	resp, err := f.warming.Do(req)
	if err != nil {
		return nil, fmt.Errorf("warm fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	return &Response{
		Status: resp.StatusCode,
		Header: resp.Header.Clone(),
		Body:   body,
		Opaque: readErr != nil,
	}, nil
}

// rebase maps the intercepted request URL onto the origin, keeping the full
// path and query string.
func (f *Fetcher) rebase(u *url.URL) string {
	rebased := *u
	rebased.Scheme = f.base.Scheme
	rebased.Host = f.base.Host
	return rebased.String()
}
