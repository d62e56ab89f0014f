package cache

import (
	"sync"

	"github.com/gestore/gateway/internal/origin"
)

// Switch routes lookups and stores to the generation currently in control.
// While a freshly installed generation waits for activation, traffic keeps
// hitting the previously active generation's cache; activation swaps the
// target. Both generation directories exist on disk during the waiting
// window, until eviction runs.
type Switch struct {
	mu sync.RWMutex
	m  *Manager
}

// NewSwitch creates a switch serving from m.
func NewSwitch(m *Manager) *Switch {
	return &Switch{m: m}
}

// Current returns the manager currently serving traffic.
func (s *Switch) Current() *Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.m
}

// Swap redirects traffic to m.
func (s *Switch) Swap(m *Manager) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m = m
}

// Lookup reads from the serving generation.
func (s *Switch) Lookup(rawURL string) (*CachedAsset, bool, error) {
	return s.Current().Lookup(rawURL)
}

// Store writes to the serving generation.
func (s *Switch) Store(rawURL string, resp *origin.Response) error {
	return s.Current().Store(rawURL, resp)
}
