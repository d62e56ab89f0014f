package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestore/gateway/internal/infrastructure/logging"
	"github.com/gestore/gateway/internal/queue"
)

type fakeStore struct {
	mu     sync.Mutex
	images []queue.QueuedImage
	err    error
}

func (f *fakeStore) ListAll(context.Context) ([]queue.QueuedImage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return append([]queue.QueuedImage(nil), f.images...), nil
}

func (f *fakeStore) set(images ...queue.QueuedImage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.images = images
}

type consumerLog struct {
	mu      sync.Mutex
	batches [][]Item
}

func (c *consumerLog) consume(_ context.Context, items []Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batches = append(c.batches, items)
}

func (c *consumerLog) all() [][]Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]Item(nil), c.batches...)
}

func img(id string) queue.QueuedImage {
	return queue.QueuedImage{ID: id, ImageData: "ZGF0YQ==", MimeType: "image/png"}
}

func newTestReconciler(store Store, consume func(context.Context, []Item), online func(context.Context) bool) *Reconciler {
	return New(Options{
		Store:   store,
		Consume: consume,
		Online:  online,
		Logger:  logging.NewDefault(),
	})
}

func TestSyncSurfacesUnseenItems(t *testing.T) {
	store := &fakeStore{}
	store.set(img("a"), img("b"))
	sink := &consumerLog{}
	r := newTestReconciler(store, sink.consume, nil)

	r.Sync(context.Background())

	batches := sink.all()
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.True(t, batches[0][0].Analyzable)
}

func TestSyncDeduplicatesById(t *testing.T) {
	store := &fakeStore{}
	store.set(img("a"))
	sink := &consumerLog{}
	r := newTestReconciler(store, sink.consume, nil)

	r.Sync(context.Background())
	r.Sync(context.Background())

	assert.Len(t, sink.all(), 1)

	// A new id surfaces; the old one does not repeat.
	store.set(img("a"), img("b"))
	r.Sync(context.Background())

	batches := sink.all()
	require.Len(t, batches, 2)
	require.Len(t, batches[1], 1)
	assert.Equal(t, "b", batches[1][0].Image.ID)
}

func TestRemovedIdCanResurface(t *testing.T) {
	store := &fakeStore{}
	store.set(img("a"))
	sink := &consumerLog{}
	r := newTestReconciler(store, sink.consume, nil)

	r.Sync(context.Background())
	store.set()
	r.Sync(context.Background())
	store.set(img("a"))
	r.Sync(context.Background())

	assert.Len(t, sink.all(), 2)
}

func TestOfflineItemsResurfaceWhenOnline(t *testing.T) {
	store := &fakeStore{}
	store.set(img("a"))
	sink := &consumerLog{}

	online := false
	r := newTestReconciler(store, sink.consume, func(context.Context) bool { return online })

	r.Sync(context.Background())
	batches := sink.all()
	require.Len(t, batches, 1)
	assert.False(t, batches[0][0].Analyzable)

	// Connectivity returns: the same item comes back, now analyzable.
	online = true
	r.Sync(context.Background())
	batches = sink.all()
	require.Len(t, batches, 2)
	assert.True(t, batches[1][0].Analyzable)

	// And only once.
	r.Sync(context.Background())
	assert.Len(t, sink.all(), 2)
}

func TestOfflineItemsSurfaceOncePerOfflinePeriod(t *testing.T) {
	store := &fakeStore{}
	store.set(img("a"))
	sink := &consumerLog{}

	online := false
	r := newTestReconciler(store, sink.consume, func(context.Context) bool { return online })

	// Repeated offline ticks do not re-deliver an already shown item.
	r.Sync(context.Background())
	r.Sync(context.Background())
	r.Sync(context.Background())
	batches := sink.all()
	require.Len(t, batches, 1)
	assert.False(t, batches[0][0].Analyzable)

	// A new capture during the same offline period still surfaces.
	store.set(img("a"), img("b"))
	r.Sync(context.Background())
	batches = sink.all()
	require.Len(t, batches, 2)
	require.Len(t, batches[1], 1)
	assert.Equal(t, "b", batches[1][0].Image.ID)

	// Back online, both come through analyzable, each exactly once.
	online = true
	r.Sync(context.Background())
	r.Sync(context.Background())
	batches = sink.all()
	require.Len(t, batches, 3)
	require.Len(t, batches[2], 2)
	for _, item := range batches[2] {
		assert.True(t, item.Analyzable)
	}
}

func TestSyncToleratesStoreFailure(t *testing.T) {
	store := &fakeStore{err: errors.New("database locked")}
	sink := &consumerLog{}
	r := newTestReconciler(store, sink.consume, nil)

	r.Sync(context.Background())

	assert.Empty(t, sink.all())
}

func TestNotifyNeverBlocks(t *testing.T) {
	store := &fakeStore{}
	r := newTestReconciler(store, func(context.Context, []Item) {}, nil)

	for i := 0; i < 100; i++ {
		r.Notify(EventOnline)
	}
}
