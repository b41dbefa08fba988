package message

import (
	"sync"
	"time"
)

// NoReplyScheduler keeps at most one pending re-prompt timer per key (user).
type NoReplyScheduler struct {
	mu      sync.Mutex
	pending map[string]*noReplyEntry
	gen     uint64
}

type noReplyEntry struct {
	gen   uint64
	timer *time.Timer
}

func NewNoReplyScheduler() *NoReplyScheduler {
	return &NoReplyScheduler{pending: make(map[string]*noReplyEntry)}
}

// Arm cancels any timer under key and schedules fn to run after d.
// A superseded or cancelled timer never runs fn, even if it already fired.
func (s *NoReplyScheduler) Arm(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.pending[key]; ok {
		e.timer.Stop()
	}
	s.gen++
	gen := s.gen
	entry := &noReplyEntry{gen: gen}
	entry.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		e, ok := s.pending[key]
		current := ok && e.gen == gen
		if current {
			delete(s.pending, key)
		}
		s.mu.Unlock()

		if current {
			fn()
		}
	})
	s.pending[key] = entry
}

// Cancel drops the timer under key. No-op when nothing is pending.
func (s *NoReplyScheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pending[key]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(s.pending, key)
	return true
}

// Pending reports whether a timer is armed under key.
func (s *NoReplyScheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[key]
	return ok
}

// Len returns the number of armed timers.
func (s *NoReplyScheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Stop cancels every pending timer.
func (s *NoReplyScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.pending {
		e.timer.Stop()
		delete(s.pending, k)
	}
}
