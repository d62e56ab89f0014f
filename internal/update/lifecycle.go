package update

import (
	"sync"

	"go.uber.org/zap"

	"github.com/gestore/gateway/internal/infrastructure/logging"
	"github.com/gestore/gateway/internal/infrastructure/monitoring"
	"github.com/gestore/gateway/internal/shared/id"
)

// State is the install lifecycle of one gateway version.
type State int

const (
	StateNone State = iota
	StateInstalling
	StateWaiting
	StateActivated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateNone:
		return "none"
	case StateInstalling:
		return "installing"
	case StateWaiting:
		return "waiting"
	case StateActivated:
		return "activated"
	default:
		return "unknown"
	}
}

// Lifecycle drives the install/wait/activate state machine for the current
// gateway generation.
//
// A generation installing while an earlier one is still in control parks
// itself in Waiting rather than taking over; only the explicit activation
// message moves it forward. A first install (nothing in control yet)
// activates directly.
type Lifecycle struct {
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu         sync.Mutex
	state      State
	generation string
	controlled bool
	onActivate []func(generation string)
}

// NewLifecycle creates a lifecycle in StateNone.
func NewLifecycle(logger *logging.Logger) *Lifecycle {
	return &Lifecycle{logger: logger.Named("update")}
}

// WithMetrics attaches a metrics collector.
func (l *Lifecycle) WithMetrics(metrics *monitoring.Metrics) *Lifecycle {
	l.metrics = metrics
	return l
}

// OnActivate registers a hook invoked exactly once when this generation
// activates. Hooks run in registration order while no new state transition
// can interleave.
func (l *Lifecycle) OnActivate(fn func(generation string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onActivate = append(l.onActivate, fn)
}

// State returns the current state.
func (l *Lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Waiting returns the parked generation token when the lifecycle sits in
// StateWaiting.
func (l *Lifecycle) Waiting() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateWaiting {
		return "", false
	}
	return l.generation, true
}

// BeginInstall moves None → Installing. controlled records whether an
// earlier generation is already serving traffic (i.e. this is an update, not
// a first install).
func (l *Lifecycle) BeginInstall(generation string, controlled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != StateNone {
		l.logger.Warn("install begun in unexpected state", zap.String("state", l.state.String()))
		return
	}
	l.state = StateInstalling
	l.generation = generation
	l.controlled = controlled
	l.logger.Info("installing",
		zap.String("generation", generation),
		zap.Bool("controlled", controlled),
	)
}

// FinishInstall moves Installing → Waiting when an active controller exists,
// or activates immediately on a first install.
func (l *Lifecycle) FinishInstall() {
	l.mu.Lock()
	if l.state != StateInstalling {
		l.mu.Unlock()
		return
	}
	if l.controlled {
		l.state = StateWaiting
		l.logger.Info("installed, waiting for activation", zap.String("generation", l.generation))
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.Activate()
}

// Activate moves Waiting (or a just-installed first install) → Activated and
// runs the activation hooks. Activating an already-activated lifecycle is a
// no-op, so a re-sent activation message costs nothing.
func (l *Lifecycle) Activate() {
	l.mu.Lock()
	switch l.state {
	case StateWaiting, StateInstalling:
		// proceed
	default:
		l.mu.Unlock()
		return
	}
	l.state = StateActivated
	generation := l.generation
	hooks := make([]func(string), len(l.onActivate))
	copy(hooks, l.onActivate)
	l.mu.Unlock()

	l.logger.Info("activated", zap.String("generation", generation))
	if l.metrics != nil {
		l.metrics.ActivationsTotal.Inc()
	}
	for _, fn := range hooks {
		fn(generation)
	}
}

// HandleMessage is a hub message handler that activates on the activation
// signal in either accepted shape. Other frames are ignored.
func (l *Lifecycle) HandleMessage(window id.WindowID, data []byte) {
	if !IsActivationMessage(data) {
		return
	}
	l.logger.Info("activation message received", zap.String("window", string(window)))
	l.Activate()
}
