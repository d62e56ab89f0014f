// Package router intercepts app-origin traffic and applies one caching
// strategy per request: network-first for navigations, cache-first for
// subresources, straight proxying for everything else.
package router

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/gestore/gateway/internal/api/middleware"
	"github.com/gestore/gateway/internal/cache"
	"github.com/gestore/gateway/internal/infrastructure/config"
	"github.com/gestore/gateway/internal/infrastructure/lifecycle"
	"github.com/gestore/gateway/internal/infrastructure/logging"
	"github.com/gestore/gateway/internal/infrastructure/monitoring"
	"github.com/gestore/gateway/internal/origin"
)

// Cache is the slice of the cache manager the router needs.
type Cache interface {
	Lookup(rawURL string) (*cache.CachedAsset, bool, error)
	Store(rawURL string, resp *origin.Response) error
}

// Fetcher executes one upstream fetch for an intercepted request.
type Fetcher interface {
	Do(ctx context.Context, req *http.Request) (*origin.Response, error)
}

// Router dispatches intercepted requests. It performs no retries; the only
// side effects are asynchronous cache writes, tracked by the lifecycle so a
// shutdown drains them.
type Router struct {
	cache    Cache
	fetcher  Fetcher
	tracker  *lifecycle.Tracker
	classify *classifier
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// New creates a request router.
func New(cfg config.CacheConfig, store Cache, fetcher Fetcher, tracker *lifecycle.Tracker, logger *logging.Logger) (*Router, error) {
	cls, err := newClassifier(cfg.Bypass)
	if err != nil {
		return nil, err
	}
	return &Router{
		cache:    store,
		fetcher:  fetcher,
		tracker:  tracker,
		classify: cls,
		logger:   logger.Named("router"),
	}, nil
}

// WithMetrics attaches a metrics collector.
func (r *Router) WithMetrics(metrics *monitoring.Metrics) *Router {
	r.metrics = metrics
	return r
}

// Handle is the catch-all gin handler for intercepted traffic.
func (r *Router) Handle(c *gin.Context) {
	strategy := r.classify.classify(c.Request)
	c.Set(monitoring.StrategyKey, string(strategy))

	switch strategy {
	case StrategyNetworkFirst:
		r.networkFirst(c)
	case StrategyCacheFirst:
		r.cacheFirst(c)
	default:
		r.proxy(c, strategy)
	}
}

// requestLog returns the router logger annotated with the request's
// correlation ID when one was attached upstream.
func (r *Router) requestLog(c *gin.Context) *zap.Logger {
	if rid := middleware.RequestIDFrom(c); rid != "" {
		return r.logger.With(zap.String("request_id", string(rid)))
	}
	return r.logger.Logger
}

// networkFirst fetches upstream and falls back to the cache only when the
// fetch produced no response at all. Any received response, success or error
// status alike, goes back to the client unmodified.
func (r *Router) networkFirst(c *gin.Context) {
	key := c.Request.URL.RequestURI()
	log := r.requestLog(c)

	resp, err := r.fetcher.Do(c.Request.Context(), c.Request)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordUpstreamError(string(StrategyNetworkFirst))
		}
		asset, ok, lookupErr := r.cache.Lookup(key)
		if lookupErr != nil {
			log.Error("cache lookup failed", zap.String("url", key), zap.Error(lookupErr))
		}
		if ok {
			if r.metrics != nil {
				r.metrics.RecordCacheHit(string(StrategyNetworkFirst))
			}
			log.Info("serving cached navigation", zap.String("url", key))
			writeAsset(c, asset)
			return
		}
		if r.metrics != nil {
			r.metrics.RecordCacheMiss(string(StrategyNetworkFirst))
		}
		log.Warn("navigation unreachable and uncached", zap.String("url", key), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unreachable"})
		return
	}

	r.storeAsync(key, resp)
	writeResponse(c, resp)
}

// cacheFirst serves a stored asset without touching the network. A miss
// fetches upstream once; fetch failure propagates, no synthetic fallback.
func (r *Router) cacheFirst(c *gin.Context) {
	key := c.Request.URL.RequestURI()
	log := r.requestLog(c)

	asset, ok, err := r.cache.Lookup(key)
	if err != nil {
		log.Error("cache lookup failed", zap.String("url", key), zap.Error(err))
	}
	if ok {
		if r.metrics != nil {
			r.metrics.RecordCacheHit(string(StrategyCacheFirst))
		}
		writeAsset(c, asset)
		return
	}
	if r.metrics != nil {
		r.metrics.RecordCacheMiss(string(StrategyCacheFirst))
	}

	resp, err := r.fetcher.Do(c.Request.Context(), c.Request)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordUpstreamError(string(StrategyCacheFirst))
		}
		log.Warn("subresource fetch failed", zap.String("url", key), zap.Error(err))
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "upstream fetch failed"})
		return
	}

	r.storeAsync(key, resp)
	writeResponse(c, resp)
}

// proxy forwards the request untouched, no caching on either side.
func (r *Router) proxy(c *gin.Context, strategy Strategy) {
	resp, err := r.fetcher.Do(c.Request.Context(), c.Request)
	if err != nil {
		if r.metrics != nil {
			r.metrics.RecordUpstreamError(string(strategy))
		}
		r.requestLog(c).Warn("proxy fetch failed",
			zap.String("method", c.Request.Method),
			zap.String("url", c.Request.URL.RequestURI()),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream unreachable"})
		return
	}
	writeResponse(c, resp)
}

// storeAsync upserts a response into the cache off the request path. The
// store rules decide cacheability; a refusal is not an error here.
func (r *Router) storeAsync(key string, resp *origin.Response) {
	r.tracker.Go("cache-store", func(context.Context) error {
		if err := r.cache.Store(key, resp); err != nil && err != cache.ErrNotCacheable {
			r.logger.Error("cache store failed", zap.String("url", key), zap.Error(err))
		}
		return nil
	})
}

// hopHeaders are connection-level headers never forwarded to the client.
var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Content-Length":    {},
	"Upgrade":           {},
}

func writeResponse(c *gin.Context, resp *origin.Response) {
	writeBody(c, resp.Status, resp.Header, resp.Body)
}

func writeAsset(c *gin.Context, asset *cache.CachedAsset) {
	writeBody(c, asset.Status, asset.Header, asset.Body)
}

func writeBody(c *gin.Context, status int, header http.Header, body []byte) {
	out := c.Writer.Header()
	for key, values := range header {
		if _, skip := hopHeaders[http.CanonicalHeaderKey(key)]; skip {
			continue
		}
		out[http.CanonicalHeaderKey(key)] = values
	}
	c.Status(status)
	_, _ = c.Writer.Write(body)
}
