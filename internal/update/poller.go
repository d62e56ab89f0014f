package update

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/gestore/gateway/internal/infrastructure/config"
	"github.com/gestore/gateway/internal/infrastructure/logging"
	"github.com/gestore/gateway/internal/infrastructure/monitoring"
	"github.com/gestore/gateway/internal/infrastructure/resilience"
)

// Event is an opportunistic poll trigger from the window environment.
type Event int

const (
	EventFocus Event = iota
	EventVisible
	EventOnline
)

// Prompt describes one detected update offered to the user.
type Prompt struct {
	// FromWaiting is set when a new gateway generation finished installing
	// and parked itself.
	FromWaiting bool
	// Commit is the remote version-descriptor identifier, when it differs
	// from the last accepted one.
	Commit string
}

// StateStore persists the last accepted version identifier.
type StateStore interface {
	GetState(ctx context.Context, key string) (string, error)
	SetState(ctx context.Context, key, value string) error
}

const stateLastCommit = "last-commit"

// versionDescriptor is the polled metadata resource.
type versionDescriptor struct {
	Commit string `json:"commit"`
}

// PollerOptions wires a Poller to its environment.
type PollerOptions struct {
	Config config.UpdateConfig
	Store  StateStore
	// CheckWaiting reports whether a new generation is parked and waiting.
	CheckWaiting func() (string, bool)
	// SendActivation delivers the activation message to the waiting
	// generation.
	SendActivation func(ctx context.Context) error
	// PresentPrompt surfaces a non-blocking update prompt. The UI answers
	// by calling Accept or Dismiss.
	PresentPrompt func(Prompt)
	// Reload performs the full content reload after an accepted update.
	Reload  func()
	Logger  *logging.Logger
	Metrics *monitoring.Metrics
}

// Poller runs the foreground update-detection loop: a fixed-interval check
// plus opportunistic checks on focus/visibility, feeding one prompt state
// machine from two independent signals (the install lifecycle and the polled
// version descriptor).
type Poller struct {
	opts    PollerOptions
	client  *resty.Client
	breaker *resilience.Breaker
	logger  *logging.Logger

	events           chan Event
	controllerChange chan struct{}

	mu            sync.Mutex
	promptVisible bool
	pending       Prompt
	// skipWait is the volatile one-shot flag: an activation is in flight and
	// the reload must wait for the controller change. Never persisted.
	skipWait bool
}

// NewPoller creates a poller. It does nothing until Run is called.
func NewPoller(opts PollerOptions) *Poller {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Cache-Control", "no-store")

	breaker := resilience.New("version-poll", resilience.Settings{
		MaxRequests: 1,
		Interval:    10 * time.Minute,
		Timeout:     opts.Config.PollInterval,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Poller{
		opts:             opts,
		client:           client,
		breaker:          breaker,
		logger:           opts.Logger.Named("poller"),
		events:           make(chan Event, 8),
		controllerChange: make(chan struct{}, 1),
	}
}

// Run drives the polling loop until ctx is cancelled. The first check runs
// after a short delay so it does not compete with initial page rendering.
func (p *Poller) Run(ctx context.Context) {
	first := time.NewTimer(p.opts.Config.FirstCheckDelay)
	defer first.Stop()
	ticker := time.NewTicker(p.opts.Config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-first.C:
			p.Check(ctx)
		case <-ticker.C:
			p.Check(ctx)
		case <-p.events:
			p.Check(ctx)
		case <-p.controllerChange:
			p.onControllerChange()
		}
	}
}

// Notify requests an opportunistic check (window focus, page visible,
// network back online). Never blocks.
func (p *Poller) Notify(event Event) {
	select {
	case p.events <- event:
	default:
	}
}

// NotifyControllerChange signals that a new generation has taken control.
func (p *Poller) NotifyControllerChange() {
	select {
	case p.controllerChange <- struct{}{}:
	default:
	}
}

// Check runs one poll tick: ask the lifecycle for a waiting generation,
// fetch the version descriptor, and surface at most one prompt.
func (p *Poller) Check(ctx context.Context) {
	_, waiting := p.opts.CheckWaiting()

	commit := p.fetchCommit(ctx)
	changed := false
	if commit != "" {
		last, err := p.opts.Store.GetState(ctx, stateLastCommit)
		if err != nil {
			p.logger.Warn("reading last commit failed", zap.Error(err))
		} else if commit != last {
			changed = true
		}
	}

	if !waiting && !changed {
		return
	}

	p.mu.Lock()
	if p.promptVisible {
		// A visible prompt is never replaced.
		p.mu.Unlock()
		return
	}
	p.promptVisible = true
	p.pending = Prompt{FromWaiting: waiting, Commit: commit}
	pending := p.pending
	// The callback runs outside the lock so a prompt that answers
	// synchronously (calling Accept or Dismiss inline) does not deadlock.
	p.mu.Unlock()

	if p.opts.Metrics != nil {
		p.opts.Metrics.UpdatePrompts.Inc()
	}
	p.logger.Info("update detected",
		zap.Bool("waiting", waiting),
		zap.String("commit", commit),
	)
	p.opts.PresentPrompt(pending)
}

// Accept applies the pending update now. With a waiting generation the
// reload is deferred until the controller change confirms the new generation
// is in control; a content-only update persists the new identifier and
// reloads immediately.
func (p *Poller) Accept(ctx context.Context) {
	p.mu.Lock()
	if !p.promptVisible {
		p.mu.Unlock()
		return
	}
	pending := p.pending
	p.promptVisible = false

	if pending.FromWaiting {
		p.skipWait = true
		p.mu.Unlock()

		if err := p.opts.SendActivation(ctx); err != nil {
			p.logger.Warn("sending activation failed", zap.Error(err))
		}
		return
	}
	p.mu.Unlock()

	if err := p.opts.Store.SetState(ctx, stateLastCommit, pending.Commit); err != nil {
		p.logger.Warn("persisting commit failed", zap.Error(err))
	}
	p.opts.Reload()
}

// Dismiss postpones the pending update. Nothing is remembered: the next tick
// asks again if still outdated.
func (p *Poller) Dismiss() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.promptVisible = false
	p.pending = Prompt{}
}

func (p *Poller) onControllerChange() {
	p.mu.Lock()
	fire := p.skipWait
	p.skipWait = false
	p.mu.Unlock()

	if fire {
		p.logger.Info("controller changed, reloading")
		p.opts.Reload()
	}
}

// fetchCommit polls the version descriptor. Any failure — network, breaker
// open, malformed body, absent commit — reads as "no update this cycle".
func (p *Poller) fetchCommit(ctx context.Context) string {
	var commit string
	err := p.breaker.Do(func() error {
		resp, err := p.client.R().
			SetContext(ctx).
			SetQueryParam("ts", strconv.FormatInt(time.Now().UnixMilli(), 10)).
			Get(p.opts.Config.VersionURL)
		if err != nil {
			return err
		}
		if resp.IsError() {
			return fmt.Errorf("version poll status %d", resp.StatusCode())
		}
		var desc versionDescriptor
		if err := sonic.Unmarshal(resp.Body(), &desc); err != nil {
			return err
		}
		commit = desc.Commit
		return nil
	})
	if err != nil {
		if p.opts.Metrics != nil {
			p.opts.Metrics.RecordUpdateCheck("error")
		}
		p.logger.Debug("version poll failed", zap.Error(err))
		return ""
	}
	if p.opts.Metrics != nil {
		if commit == "" {
			p.opts.Metrics.RecordUpdateCheck("current")
		} else {
			p.opts.Metrics.RecordUpdateCheck("update")
		}
	}
	return commit
}
