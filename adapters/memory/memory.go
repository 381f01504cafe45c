// Package memory provides the default, stdlib-only collaborators a Coordinator
// falls back to when the caller supplies none (spec §6 configuration,
// §9 "leader election fallback: if no real primitive is available, the null
// election returns true"): an in-process StorageAdapter, a LeaderElection that
// always grants leadership (single-instance mode), and an OnlineDetector that
// fires only on an explicit NotifyOnline call.
package memory

import (
	"context"
	"strings"
	"sync"

	"github.com/sharedcode/mutbox"
)

// Storage is an in-process, mutex-guarded StorageAdapter. It satisfies the
// durability contract only for the lifetime of the process; it exists as the
// zero-configuration default and as a fast backend for tests.
type Storage struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewStorage returns an empty in-process StorageAdapter.
func NewStorage() *Storage {
	return &Storage{data: make(map[string]string)}
}

func (s *Storage) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *Storage) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

func (s *Storage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Storage) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *Storage) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = make(map[string]string)
	return nil
}

// LeaderElection always grants leadership to whoever asks, degrading the core
// to single-instance mode (spec §9).
type LeaderElection struct {
	mu        sync.Mutex
	isLeader  bool
	callbacks []func(bool)
}

// NewLeaderElection returns a LeaderElection that always succeeds.
func NewLeaderElection() *LeaderElection {
	return &LeaderElection{}
}

func (l *LeaderElection) RequestLeadership(_ context.Context) (bool, error) {
	l.mu.Lock()
	l.isLeader = true
	cbs := append([]func(bool){}, l.callbacks...)
	l.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(true)
		}
	}
	return true, nil
}

func (l *LeaderElection) ReleaseLeadership(_ context.Context) error {
	l.mu.Lock()
	l.isLeader = false
	cbs := append([]func(bool){}, l.callbacks...)
	l.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb(false)
		}
	}
	return nil
}

func (l *LeaderElection) IsLeader() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.isLeader
}

func (l *LeaderElection) OnLeadershipChange(cb func(isLeader bool)) (unsubscribe func()) {
	l.mu.Lock()
	l.callbacks = append(l.callbacks, cb)
	idx := len(l.callbacks) - 1
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if idx < len(l.callbacks) {
			l.callbacks[idx] = nil
		}
	}
}

// OnlineDetector observes no ambient connectivity signal of its own; its
// subscribers fire only when NotifyOnline is called. It satisfies the
// collaborator contract when no real detector is supplied.
type OnlineDetector struct {
	mu        sync.Mutex
	callbacks []func()
}

// NewOnlineDetector returns a detector that only fires when NotifyOnline is
// called explicitly by the caller.
func NewOnlineDetector() *OnlineDetector {
	return &OnlineDetector{}
}

func (o *OnlineDetector) Subscribe(cb func()) (unsubscribe func()) {
	o.mu.Lock()
	o.callbacks = append(o.callbacks, cb)
	idx := len(o.callbacks) - 1
	o.mu.Unlock()
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if idx < len(o.callbacks) {
			o.callbacks[idx] = nil
		}
	}
}

func (o *OnlineDetector) NotifyOnline() {
	o.mu.Lock()
	cbs := append([]func(){}, o.callbacks...)
	o.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb()
		}
	}
}

func (o *OnlineDetector) Dispose() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.callbacks = nil
}

var _ mutbox.StorageAdapter = (*Storage)(nil)
var _ mutbox.LeaderElection = (*LeaderElection)(nil)
var _ mutbox.OnlineDetector = (*OnlineDetector)(nil)
