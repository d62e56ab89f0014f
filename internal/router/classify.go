package router

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Strategy names the handling path chosen for one intercepted request.
// Exactly one strategy applies per request.
type Strategy string

const (
	// StrategyNetworkFirst serves navigations: upstream first, cached copy
	// only when the network produced no response at all.
	StrategyNetworkFirst Strategy = "network-first"
	// StrategyCacheFirst serves subresources: a stored asset wins without
	// touching the network.
	StrategyCacheFirst Strategy = "cache-first"
	// StrategyPassThrough forwards non-GET traffic untouched.
	StrategyPassThrough Strategy = "pass-through"
	// StrategyBypass proxies GETs matching a configured bypass pattern
	// without consulting or populating the cache.
	StrategyBypass Strategy = "bypass"
)

// classifier assigns a strategy to each request. Bypass patterns are
// doublestar globs matched against the URL path.
type classifier struct {
	bypass []string
}

func newClassifier(patterns []string) (*classifier, error) {
	for _, p := range patterns {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid bypass pattern %q", p)
		}
	}
	return &classifier{bypass: patterns}, nil
}

func (c *classifier) classify(req *http.Request) Strategy {
	if req.Method != http.MethodGet {
		return StrategyPassThrough
	}
	for _, p := range c.bypass {
		if ok, _ := doublestar.Match(p, req.URL.Path); ok {
			return StrategyBypass
		}
	}
	if isNavigation(req) {
		return StrategyNetworkFirst
	}
	return StrategyCacheFirst
}

// isNavigation reports whether the request is a top-level document load.
// Sec-Fetch-Mode is authoritative when present; the Accept header is the
// fallback for clients that omit fetch metadata.
func isNavigation(req *http.Request) bool {
	if mode := req.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(req.Header.Get("Accept"), "text/html")
}
