package core

import (
	"fmt"
	"sync"

	"github.com/paperpolish/polish-int/internal/api"
)

// ErrActiveSession is returned when a session is already being tracked by
// this client. At most one session is active at a time.
var ErrActiveSession = fmt.Errorf("another session is already active: %w", api.ErrPreconditionFailed)

// ActiveSlot holds the single active-session lease of a client.
type ActiveSlot struct {
	mu      sync.Mutex
	current *Lease
}

// NewActiveSlot creates an empty slot.
func NewActiveSlot() *ActiveSlot {
	return &ActiveSlot{}
}

// Reserve takes the slot. It fails with ErrActiveSession while another
// lease is live.
func (s *ActiveSlot) Reserve() (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return nil, ErrActiveSession
	}
	l := &Lease{slot: s}
	s.current = l
	return l, nil
}

// ActiveID returns the session id of the live lease, if it is bound.
func (s *ActiveSlot) ActiveID() (string, bool) {
	s.mu.Lock()
	l := s.current
	s.mu.Unlock()
	if l == nil {
		return "", false
	}
	id := l.SessionID()
	return id, id != ""
}

// Busy reports whether a lease is live, bound or not.
func (s *ActiveSlot) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

func (s *ActiveSlot) release(l *Lease) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == l {
		s.current = nil
	}
}

// Lease is the handle of the active session. It is reserved before the
// session exists and bound once the service accepts it.
type Lease struct {
	slot *ActiveSlot

	mu       sync.Mutex
	id       string
	released bool
}

// Bind attaches the accepted session id.
func (l *Lease) Bind(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.id = sessionID
}

// SessionID returns the bound id, empty before Bind.
func (l *Lease) SessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.id
}

// Live reports whether the lease still holds the slot.
func (l *Lease) Live() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.released
}

// Release frees the slot. Safe to call more than once.
func (l *Lease) Release() {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		return
	}
	l.released = true
	l.mu.Unlock()
	l.slot.release(l)
}
