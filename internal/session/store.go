package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Entry holds the dialog session of a single WhatsApp user.
type Entry struct {
	UserID        string    `json:"userId"`
	SessionID     string    `json:"sessionId"`
	UserName      string    `json:"userName,omitempty"`
	PhoneNumberID string    `json:"phoneNumberId,omitempty"`
	Turn          uint64    `json:"turn"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Profile is what the platform tells us about the user on each turn.
type Profile struct {
	UserID        string
	UserName      string
	PhoneNumberID string
}

// Store keeps one Entry per user id, in memory only.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Entry // userID → entry

	locks   map[string]*turnLock // userID → turn lock, present while held or awaited
	locksMu sync.Mutex

	now   func() time.Time
	newID func() string
}

func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Entry),
		locks:    make(map[string]*turnLock),
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// NewSessionID returns "<versionID>.<random>".
func (s *Store) NewSessionID(versionID string) string {
	return versionID + "." + s.newID()
}

type turnLock struct {
	mu   sync.Mutex
	refs int
}

// Lock serializes turns for one user. The returned func releases the lock.
func (s *Store) Lock(userID string) func() {
	l := s.acquire(userID)
	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.release(userID, l)
	}
}

// acquire registers interest in the user's lock. The entry stays in the map
// until every holder and waiter has released it.
func (s *Store) acquire(userID string) *turnLock {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &turnLock{}
		s.locks[userID] = l
	}
	l.refs++
	return l
}

func (s *Store) release(userID string, l *turnLock) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l.refs--
	if l.refs == 0 && s.locks[userID] == l {
		delete(s.locks, userID)
	}
}

// tryAcquire takes the user's lock only when nobody holds or awaits it.
func (s *Store) tryAcquire(userID string) (func(), bool) {
	s.locksMu.Lock()
	if _, busy := s.locks[userID]; busy {
		s.locksMu.Unlock()
		return nil, false
	}
	l := &turnLock{refs: 1}
	l.mu.Lock()
	s.locks[userID] = l
	s.locksMu.Unlock()
	return func() {
		l.mu.Unlock()
		s.release(userID, l)
	}, true
}

// Ensure returns the user's entry for a new turn, creating the entry and its
// session id lazily. The turn counter is bumped on every call.
func (s *Store) Ensure(p Profile, versionID string) Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.sessions[p.UserID]
	if !ok {
		entry = &Entry{UserID: p.UserID, CreatedAt: now}
		s.sessions[p.UserID] = entry
	}
	if entry.SessionID == "" {
		entry.SessionID = s.NewSessionID(versionID)
	}
	if p.UserName != "" {
		entry.UserName = p.UserName
	}
	if p.PhoneNumberID != "" {
		entry.PhoneNumberID = p.PhoneNumberID
	}
	entry.Turn++
	entry.UpdatedAt = now
	return *entry
}

// Rotate replaces the user's session id and returns the previous one.
func (s *Store) Rotate(userID, versionID string) (previous string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[userID]
	if !ok {
		return ""
	}
	previous = entry.SessionID
	entry.SessionID = s.NewSessionID(versionID)
	entry.UpdatedAt = s.now()
	return previous
}

// Get returns a copy of the user's entry.
func (s *Store) Get(userID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[userID]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// Turn returns the user's turn counter, zero when unknown.
func (s *Store) Turn(userID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if entry, ok := s.sessions[userID]; ok {
		return entry.Turn
	}
	return 0
}

// List returns all entries, most recently active first.
func (s *Store) List() []Entry {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.sessions))
	for _, e := range s.sessions {
		entries = append(entries, *e)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	return entries
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Delete removes a user's entry.
func (s *Store) Delete(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[userID]; !ok {
		return false
	}
	delete(s.sessions, userID)
	return true
}

// Sweep evicts entries idle for longer than idle and returns their user ids.
// Users with a turn in flight or waiting are left alone.
func (s *Store) Sweep(idle time.Duration) []string {
	cutoff := s.now().Add(-idle)

	s.mu.RLock()
	var stale []string
	for id, e := range s.sessions {
		if e.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	var evicted []string
	for _, id := range stale {
		unlock, ok := s.tryAcquire(id)
		if !ok {
			continue
		}
		s.mu.Lock()
		if e, ok := s.sessions[id]; ok && e.UpdatedAt.Before(cutoff) {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
		s.mu.Unlock()
		unlock()
	}
	sort.Strings(evicted)
	return evicted
}
