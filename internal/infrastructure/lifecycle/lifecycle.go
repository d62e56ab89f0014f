// Package lifecycle tracks background work spawned by request handlers.
//
// A handler that responds early (the share ingestion redirect, the router's
// fire-and-forget cache writes) registers its remaining work with a Tracker.
// The server drains the tracker on shutdown, so a side effect registered here
// is never silently dropped when the process is asked to stop between
// events. Work that is NOT registered has no such guarantee.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/gestore/gateway/internal/infrastructure/logging"
)

// ErrDrainTimeout is returned when tracked tasks do not finish before the
// drain deadline.
var ErrDrainTimeout = errors.New("lifecycle: drain deadline exceeded")

// Tracker extends the lifetime of handlers past the point where a response
// has been handed back.
type Tracker struct {
	logger  *logging.Logger
	base    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	pending atomic.Int64
}

// NewTracker creates a tracker. Tasks receive a context that is only
// cancelled once draining gives up.
func NewTracker(logger *logging.Logger) *Tracker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		logger: logger,
		base:   ctx,
		cancel: cancel,
	}
}

// Go runs fn in the background and keeps the process alive until it returns.
// Panics and errors are caught and logged; they never escape.
func (t *Tracker) Go(name string, fn func(ctx context.Context) error) {
	t.wg.Add(1)
	t.pending.Add(1)
	go func() {
		defer t.wg.Done()
		defer t.pending.Add(-1)
		defer func() {
			if r := recover(); r != nil {
				t.logger.Error("background task panic",
					zap.String("task", name),
					zap.Any("panic", r),
				)
			}
		}()

		if err := fn(t.base); err != nil {
			t.logger.Warn("background task failed",
				zap.String("task", name),
				zap.Error(err),
			)
		}
	}()
}

// Pending returns the number of tasks still running.
func (t *Tracker) Pending() int64 {
	return t.pending.Load()
}

// Drain blocks until all tracked tasks finish or ctx expires. On timeout the
// task context is cancelled and ErrDrainTimeout returned.
func (t *Tracker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.cancel()
		return nil
	case <-ctx.Done():
		t.cancel()
		t.logger.Warn("draining gave up with tasks pending",
			zap.Int64("pending", t.Pending()),
		)
		return ErrDrainTimeout
	}
}
