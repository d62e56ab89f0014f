// Package server wires the gateway together: the intercepting HTTP surface,
// the asset cache, the share endpoint, the window hub, and the install
// lifecycle of the running generation.
package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gestore/gateway/internal/api/middleware"
	"github.com/gestore/gateway/internal/cache"
	"github.com/gestore/gateway/internal/hub"
	"github.com/gestore/gateway/internal/infrastructure/config"
	"github.com/gestore/gateway/internal/infrastructure/lifecycle"
	"github.com/gestore/gateway/internal/infrastructure/logging"
	"github.com/gestore/gateway/internal/infrastructure/monitoring"
	"github.com/gestore/gateway/internal/origin"
	"github.com/gestore/gateway/internal/queue"
	"github.com/gestore/gateway/internal/router"
	"github.com/gestore/gateway/internal/share"
	"github.com/gestore/gateway/internal/update"
)

// stateActiveGeneration records which generation last completed activation.
// Its presence distinguishes an update install from a first install.
const stateActiveGeneration = "active-generation"

// Server is the assembled gateway process.
type Server struct {
	engine  *gin.Engine
	http    *http.Server
	store   *queue.Store
	manager *cache.Manager
	serving *cache.Switch
	fetcher *origin.Fetcher
	windows *hub.Hub
	install *update.Lifecycle
	tracker *lifecycle.Tracker
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer assembles the gateway from configuration. The returned server has
// not installed its generation yet; call Install before Run.
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	logger.Info("initializing gateway",
		zap.String("port", cfg.Server.Port),
		zap.String("upstream", cfg.Upstream.Origin),
		zap.String("generation", cfg.Cache.Generation),
	)

	metrics := monitoring.Default()
	tracker := lifecycle.NewTracker(logger)

	store, err := queue.Open(cfg.Queue.Path)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}
	store.WithMetrics(metrics)

	manager, err := cache.NewManager(cfg.Cache.Root, cfg.Cache.Generation, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}
	manager.WithMetrics(metrics)

	// Until this generation is activated, traffic is served from whichever
	// generation was active before; Install swaps the target when an earlier
	// generation is still in control.
	serving := cache.NewSwitch(manager)

	fetcher, err := origin.NewFetcher(cfg.Upstream)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	windows := hub.New(logger).WithMetrics(metrics)
	install := update.NewLifecycle(logger).WithMetrics(metrics)
	windows.SetMessageHandler(install.HandleMessage)
	install.OnActivate(func(generation string) {
		// Take over traffic first; eviction then removes the old directory.
		serving.Swap(manager)
		if err := manager.EvictStaleGenerations(); err != nil {
			logger.Error("evicting stale generations failed", zap.Error(err))
		}
		if err := store.SetState(context.Background(), stateActiveGeneration, generation); err != nil {
			logger.Error("persisting active generation failed", zap.Error(err))
		}
		windows.Broadcast(gin.H{"type": "controllerchange", "generation": generation})
	})

	requestRouter, err := router.New(cfg.Cache, serving, fetcher, tracker, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	requestRouter.WithMetrics(metrics)

	shareHandler := share.NewHandler(cfg.Share, store, windows, tracker, logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(monitoring.Middleware(metrics))
	engine.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	engine.POST(cfg.Share.Endpoint, middleware.RateLimit(cfg.RateLimit), shareHandler.Handle)

	engine.GET("/healthz", func(c *gin.Context) {
		depth, err := store.Count(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status":     "ok",
			"generation": manager.Generation(),
			"serving":    serving.Current().Generation(),
			"state":      install.State().String(),
			"queued":     depth,
			"windows":    windows.ClientCount(),
		})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/updates/stream", windows.HandleConnection)
	engine.POST("/updates/activate", func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1024))
		if err != nil || !update.IsActivationMessage(body) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "not an activation message"})
			return
		}
		install.Activate()
		c.JSON(http.StatusAccepted, gin.H{"state": install.State().String()})
	})

	engine.NoRoute(requestRouter.Handle)

	return &Server{
		engine:  engine,
		store:   store,
		manager: manager,
		serving: serving,
		fetcher: fetcher,
		windows: windows,
		install: install,
		tracker: tracker,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// Install runs the install phase for this generation: warm the cache from
// the asset manifest, then either activate (first install, or restart of the
// already-active generation) or park in waiting until the activation message
// arrives. Warming is all-or-nothing; a failed install leaves the previous
// generation's cache untouched.
func (s *Server) Install(ctx context.Context) error {
	generation := s.manager.Generation()

	active, err := s.store.GetState(ctx, stateActiveGeneration)
	if err != nil {
		return fmt.Errorf("read active generation: %w", err)
	}
	controlled := active != "" && active != generation

	if controlled {
		// An earlier generation is in control; its cache keeps serving until
		// the activation message arrives.
		previous, err := cache.NewManager(s.config.Cache.Root, active, s.logger)
		if err != nil {
			s.logger.Error("opening active generation cache failed",
				zap.String("generation", active),
				zap.Error(err),
			)
		} else {
			s.serving.Swap(previous)
		}
	}

	s.install.BeginInstall(generation, controlled)

	if active != generation {
		manifest, err := cache.LoadManifest(s.config.Cache.Manifest)
		if err != nil {
			return fmt.Errorf("install %s: %w", generation, err)
		}
		if err := s.manager.Warm(ctx, manifest.Assets, s.fetcher.Get); err != nil {
			return fmt.Errorf("install %s: %w", generation, err)
		}
	} else {
		s.logger.Info("generation already active, skipping warm",
			zap.String("generation", generation),
		)
	}

	s.install.FinishInstall()

	if stats, err := s.manager.Stats(); err == nil {
		s.logger.Info("cache ready",
			zap.String("generation", generation),
			zap.Int64("assets", stats.Assets),
			zap.Int64("bytes", stats.Bytes),
		)
	}
	return nil
}

// Handler exposes the gateway's HTTP handler for embedding and tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run starts the HTTP server and blocks until it stops.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("gateway listening", zap.String("addr", addr))

	s.http = &http.Server{Addr: addr, Handler: s.engine}
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, drains tracked background work, and
// closes the stores. Pending cache writes and share ingests finish before the
// queue store goes away.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down gateway")

	var firstErr error
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if err := s.tracker.Drain(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	_ = s.logger.Sync()
	return firstErr
}
