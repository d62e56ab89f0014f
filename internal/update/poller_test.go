package update

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gestore/gateway/internal/infrastructure/config"
	"github.com/gestore/gateway/internal/infrastructure/logging"
)

type memStateStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStateStore() *memStateStore {
	return &memStateStore{data: make(map[string]string)}
}

func (m *memStateStore) GetState(ctx context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memStateStore) SetState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// pollerHarness wires a Poller to fakes and records its outputs.
type pollerHarness struct {
	poller      *Poller
	store       *memStateStore
	mu          sync.Mutex
	prompts     []Prompt
	activations int
	reloads     int
	waitingGen  string
	waiting     bool
}

func newPollerHarness(t *testing.T, versionURL string) *pollerHarness {
	t.Helper()
	h := &pollerHarness{store: newMemStateStore()}

	h.poller = NewPoller(PollerOptions{
		Config: config.UpdateConfig{
			VersionURL:      versionURL,
			PollInterval:    time.Hour,
			FirstCheckDelay: time.Hour,
		},
		Store: h.store,
		CheckWaiting: func() (string, bool) {
			h.mu.Lock()
			defer h.mu.Unlock()
			return h.waitingGen, h.waiting
		},
		SendActivation: func(ctx context.Context) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.activations++
			return nil
		},
		PresentPrompt: func(p Prompt) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.prompts = append(h.prompts, p)
		},
		Reload: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.reloads++
		},
		Logger: logging.NewDevelopment(),
	})
	return h
}

func (h *pollerHarness) setWaiting(generation string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.waitingGen = generation
	h.waiting = generation != ""
}

func (h *pollerHarness) promptCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.prompts)
}

func versionServer(t *testing.T, commit string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.URL.Query().Get("ts"), "poll must carry a cache buster")
		w.Header().Set("Content-Type", "application/json")
		if commit == "" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"commit":"` + commit + `"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNoUpdateNoPrompt(t *testing.T) {
	srv := versionServer(t, "abc")
	h := newPollerHarness(t, srv.URL+"/version.json")
	require.NoError(t, h.store.SetState(context.Background(), stateLastCommit, "abc"))

	h.poller.Check(context.Background())

	assert.Zero(t, h.promptCount())
}

func TestContentUpdatePrompts(t *testing.T) {
	srv := versionServer(t, "def")
	h := newPollerHarness(t, srv.URL+"/version.json")
	require.NoError(t, h.store.SetState(context.Background(), stateLastCommit, "abc"))

	h.poller.Check(context.Background())

	require.Equal(t, 1, h.promptCount())
	assert.False(t, h.prompts[0].FromWaiting)
	assert.Equal(t, "def", h.prompts[0].Commit)
}

func TestAbsentCommitFailsOpen(t *testing.T) {
	srv := versionServer(t, "")
	h := newPollerHarness(t, srv.URL+"/version.json")

	h.poller.Check(context.Background())

	assert.Zero(t, h.promptCount())
}

func TestPollFailureFailsOpen(t *testing.T) {
	srv := versionServer(t, "abc")
	srv.Close() // unreachable
	h := newPollerHarness(t, srv.URL+"/version.json")

	h.poller.Check(context.Background())

	assert.Zero(t, h.promptCount())
}

func TestWaitingGenerationPrompts(t *testing.T) {
	srv := versionServer(t, "")
	h := newPollerHarness(t, srv.URL+"/version.json")
	h.setWaiting("v2")

	h.poller.Check(context.Background())

	require.Equal(t, 1, h.promptCount())
	assert.True(t, h.prompts[0].FromWaiting)
}

func TestBothSignalsOnePrompt(t *testing.T) {
	srv := versionServer(t, "def")
	h := newPollerHarness(t, srv.URL+"/version.json")
	h.setWaiting("v2")

	h.poller.Check(context.Background())
	// A second tick while the prompt is visible must not stack another.
	h.poller.Check(context.Background())

	assert.Equal(t, 1, h.promptCount())
}

func TestDismissRepromptsNextTick(t *testing.T) {
	srv := versionServer(t, "def")
	h := newPollerHarness(t, srv.URL+"/version.json")

	h.poller.Check(context.Background())
	require.Equal(t, 1, h.promptCount())

	h.poller.Dismiss()
	h.poller.Check(context.Background())

	assert.Equal(t, 2, h.promptCount(), "dismissal is not remembered across ticks")
}

func TestPromptMayAnswerSynchronously(t *testing.T) {
	srv := versionServer(t, "def")

	var p *Poller
	prompts := 0
	p = NewPoller(PollerOptions{
		Config: config.UpdateConfig{
			VersionURL:      srv.URL + "/version.json",
			PollInterval:    time.Hour,
			FirstCheckDelay: time.Hour,
		},
		Store:          newMemStateStore(),
		CheckWaiting:   func() (string, bool) { return "", false },
		SendActivation: func(ctx context.Context) error { return nil },
		PresentPrompt: func(Prompt) {
			// A prompt implementation is free to decline inline.
			prompts++
			p.Dismiss()
		},
		Reload: func() {},
		Logger: logging.NewDevelopment(),
	})

	done := make(chan struct{})
	go func() {
		p.Check(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Check did not return with a synchronous prompt answer")
	}

	// The inline dismissal took effect: the next tick asks again.
	p.Check(context.Background())
	assert.Equal(t, 2, prompts)
}

func TestAcceptContentUpdatePersistsAndReloads(t *testing.T) {
	srv := versionServer(t, "def")
	h := newPollerHarness(t, srv.URL+"/version.json")

	h.poller.Check(context.Background())
	require.Equal(t, 1, h.promptCount())

	h.poller.Accept(context.Background())

	last, err := h.store.GetState(context.Background(), stateLastCommit)
	require.NoError(t, err)
	assert.Equal(t, "def", last)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Equal(t, 1, h.reloads)
	assert.Zero(t, h.activations)
}

func TestAcceptWaitingDefersReloadUntilControllerChange(t *testing.T) {
	srv := versionServer(t, "")
	h := newPollerHarness(t, srv.URL+"/version.json")
	h.setWaiting("v2")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.poller.Run(ctx)

	h.poller.Check(context.Background())
	require.Equal(t, 1, h.promptCount())

	h.poller.Accept(context.Background())

	h.mu.Lock()
	assert.Equal(t, 1, h.activations)
	assert.Zero(t, h.reloads, "reload must wait for the controller change")
	h.mu.Unlock()

	h.poller.NotifyControllerChange()

	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.Lock()
		reloads := h.reloads
		h.mu.Unlock()
		if reloads == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reload never fired after controller change")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSpuriousControllerChangeDoesNotReload(t *testing.T) {
	srv := versionServer(t, "")
	h := newPollerHarness(t, srv.URL+"/version.json")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.poller.Run(ctx)

	h.poller.NotifyControllerChange()
	time.Sleep(50 * time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	assert.Zero(t, h.reloads)
}
