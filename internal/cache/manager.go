package cache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"

	"github.com/gestore/gateway/internal/infrastructure/logging"
	"github.com/gestore/gateway/internal/infrastructure/monitoring"
	"github.com/gestore/gateway/internal/origin"
)

// FetchFunc fetches one manifest URL during warming.
type FetchFunc func(ctx context.Context, url string) (*origin.Response, error)

// Manager owns exactly one named cache generation. Once the generation is
// confirmed active, no other generation's files survive under the root.
type Manager struct {
	root       string
	generation string
	store      *diskStore
	logger     *logging.Logger
	metrics    *monitoring.Metrics
}

// NewManager creates a cache manager for the given generation token,
// creating its directory if needed.
func NewManager(root, generation string, logger *logging.Logger) (*Manager, error) {
	if generation == "" {
		return nil, fmt.Errorf("cache generation token is required")
	}
	store, err := newDiskStore(filepath.Join(root, generation))
	if err != nil {
		return nil, err
	}
	return &Manager{
		root:       root,
		generation: generation,
		store:      store,
		logger:     logger.Named("cache"),
	}, nil
}

// WithMetrics attaches a metrics collector.
func (m *Manager) WithMetrics(metrics *monitoring.Metrics) *Manager {
	m.metrics = metrics
	return m
}

// Generation returns the current generation token.
func (m *Manager) Generation() string {
	return m.generation
}

// Warm bulk-populates the cache from a manifest. All-or-nothing: the first
// URL that fails to fetch or is not cacheable aborts the whole operation.
// Retrying a failed install is the caller's job, not ours.
func (m *Manager) Warm(ctx context.Context, urls []string, fetch FetchFunc) error {
	for _, u := range urls {
		resp, err := fetch(ctx, u)
		if err != nil {
			return fmt.Errorf("warm %s: %w", u, err)
		}
		if err := m.Store(u, resp); err != nil {
			return fmt.Errorf("warm %s: %w", u, err)
		}
	}
	m.logger.Info("cache warmed",
		zap.String("generation", m.generation),
		zap.Int("assets", len(urls)),
	)
	return nil
}

// EvictStaleGenerations removes every generation directory except the
// current one. Runs once during activation, before the manager accepts
// traffic for the new generation.
func (m *Manager) EvictStaleGenerations() error {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return fmt.Errorf("list cache generations: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == m.generation {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, entry.Name())); err != nil {
			return fmt.Errorf("evict generation %s: %w", entry.Name(), err)
		}
		m.logger.Info("evicted stale cache generation", zap.String("generation", entry.Name()))
		if m.metrics != nil {
			m.metrics.CacheEvictions.Inc()
		}
	}
	return nil
}

// Generations lists the generation tokens currently present on disk.
func (m *Manager) Generations() ([]string, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("list cache generations: %w", err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// Lookup returns the cached asset for the exact URL, if present. Pure read.
func (m *Manager) Lookup(rawURL string) (*CachedAsset, bool, error) {
	return m.store.get(rawURL)
}

// Store upserts a captured response. Non-2xx and opaque responses are
// refused with ErrNotCacheable; storing an opaque body would cache an
// unverifiable payload indefinitely.
func (m *Manager) Store(rawURL string, resp *origin.Response) error {
	if resp.Opaque {
		if m.metrics != nil {
			m.metrics.RecordCacheSkip("opaque")
		}
		return ErrNotCacheable
	}
	if resp.Status < 200 || resp.Status > 299 {
		if m.metrics != nil {
			m.metrics.RecordCacheSkip("status")
		}
		return ErrNotCacheable
	}

	err := m.store.put(&CachedAsset{
		URL:      rawURL,
		Status:   resp.Status,
		Header:   resp.Header,
		Body:     resp.Body,
		StoredAt: time.Now(),
	})
	if err == nil && m.metrics != nil {
		m.metrics.CacheStores.Inc()
	}
	return err
}

// Stats describes the current generation's footprint.
type Stats struct {
	Assets int64
	Bytes  int64
}

// Stats walks the generation directory and reports asset count and size.
// Updates the cache gauges when metrics are attached.
func (m *Manager) Stats() (Stats, error) {
	var assets, bytes atomic.Int64

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, m.store.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		bytes.Add(info.Size())
		if filepath.Ext(path) == ".zst" {
			assets.Add(1)
		}
		return nil
	})
	if err != nil {
		return Stats{}, fmt.Errorf("walk cache dir: %w", err)
	}

	stats := Stats{Assets: assets.Load(), Bytes: bytes.Load()}
	if m.metrics != nil {
		m.metrics.CacheAssets.Set(float64(stats.Assets))
		m.metrics.CacheBytes.Set(float64(stats.Bytes))
	}
	return stats, nil
}
