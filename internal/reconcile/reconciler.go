// Package reconcile surfaces queued offline images to the foreground for
// analysis. It polls the durable queue on an interval and opportunistically
// on window events, so images shared while no window was open show up as
// soon as one is.
package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gestore/gateway/internal/infrastructure/logging"
	"github.com/gestore/gateway/internal/infrastructure/monitoring"
	"github.com/gestore/gateway/internal/queue"
)

// Event is an opportunistic sync trigger from the window environment.
type Event int

const (
	EventOnline Event = iota
	EventFocus
	EventVisible
)

// defaultInterval matches the background refresh cadence of the queue view.
const defaultInterval = time.Minute

// Item is one queued image surfaced to the consumer. Analyzable is false
// while the connectivity probe reports offline: the item is shown but
// analysis has to wait.
type Item struct {
	Image      queue.QueuedImage
	Analyzable bool
}

// Store is the slice of the queue store the reconciler needs.
type Store interface {
	ListAll(ctx context.Context) ([]queue.QueuedImage, error)
}

// Options wires a Reconciler to its environment.
type Options struct {
	// Interval between background syncs. Zero means the default.
	Interval time.Duration
	Store    Store
	// Consume receives newly surfaced items. A consumer that finishes
	// analyzing an item removes it from the queue store itself.
	Consume func(ctx context.Context, items []Item)
	// Online is the connectivity probe. Nil means always online.
	Online  func(ctx context.Context) bool
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Reconciler drives the foreground sync loop. Items are deduplicated by id:
// an image surfaced as analyzable is not surfaced again unless it reappears
// after removal; an item surfaced while offline surfaces once more when
// connectivity returns, not on every offline tick.
type Reconciler struct {
	opts   Options
	logger *logging.Logger
	events chan Event

	mu sync.Mutex
	// seen maps id to whether it was last surfaced as analyzable.
	seen map[string]bool
}

// New creates a reconciler. It does nothing until Run is called.
func New(opts Options) *Reconciler {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	return &Reconciler{
		opts:   opts,
		logger: opts.Logger.Named("reconcile"),
		events: make(chan Event, 8),
		seen:   make(map[string]bool),
	}
}

// Run drives the sync loop until ctx is cancelled. One sync runs immediately
// so images queued before startup surface without waiting a full interval.
func (r *Reconciler) Run(ctx context.Context) {
	r.Sync(ctx)

	ticker := time.NewTicker(r.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sync(ctx)
		case <-r.events:
			r.Sync(ctx)
		}
	}
}

// Notify requests an opportunistic sync (network back online, window focus,
// page visible). Never blocks.
func (r *Reconciler) Notify(event Event) {
	select {
	case r.events <- event:
	default:
	}
}

// Sync runs one reconciliation pass: snapshot the queue, drop ids that are
// gone, and hand unseen items to the consumer.
func (r *Reconciler) Sync(ctx context.Context) {
	images, err := r.opts.Store.ListAll(ctx)
	if err != nil {
		r.logger.Warn("listing queue failed", zap.Error(err))
		return
	}
	if r.opts.Metrics != nil {
		r.opts.Metrics.QueueDepth.Set(float64(len(images)))
	}

	online := true
	if r.opts.Online != nil {
		online = r.opts.Online(ctx)
	}

	r.mu.Lock()
	present := make(map[string]struct{}, len(images))
	var fresh []Item
	for _, img := range images {
		present[img.ID] = struct{}{}
		analyzable, ok := r.seen[img.ID]
		if ok && (analyzable || !online) {
			// Already analyzable, or shown offline and still offline.
			continue
		}
		fresh = append(fresh, Item{Image: img, Analyzable: online})
		r.seen[img.ID] = online
	}
	for id := range r.seen {
		if _, ok := present[id]; !ok {
			delete(r.seen, id)
		}
	}
	r.mu.Unlock()

	if len(fresh) == 0 {
		return
	}
	r.logger.Info("surfacing queued images",
		zap.Int("count", len(fresh)),
		zap.Bool("online", online),
	)
	r.opts.Consume(ctx, fresh)
}
