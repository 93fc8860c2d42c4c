package swcache

import (
	"sync"

	pagechannel "github.com/always-cache/sw-cache/pkg/page-channel"
)

// Session holds the worker's current belief about connectivity and
// authentication. Pages keep it up to date through status messages.
type Session struct {
	mutex  sync.RWMutex
	status pagechannel.Status
}

func NewSession(initial pagechannel.Status) *Session {
	return &Session{status: initial}
}

// Update applies a partial update, last write wins.
// It returns the status before and after the update.
func (s *Session) Update(u pagechannel.StatusUpdate) (prev, next pagechannel.Status) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	prev = s.status
	if u.Online != nil {
		s.status.Online = *u.Online
	}
	if u.LoggedIn != nil {
		s.status.LoggedIn = *u.LoggedIn
	}
	return prev, s.status
}

func (s *Session) Snapshot() pagechannel.Status {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.status
}

func (s *Session) Online() bool {
	return s.Snapshot().Online
}

func (s *Session) LoggedIn() bool {
	return s.Snapshot().LoggedIn
}

// SetOnline is shorthand for a connectivity-only update.
func (s *Session) SetOnline(online bool) {
	s.Update(pagechannel.StatusUpdate{Online: &online})
}

// SetLoggedIn is shorthand for an authentication-only update.
func (s *Session) SetLoggedIn(loggedIn bool) {
	s.Update(pagechannel.StatusUpdate{LoggedIn: &loggedIn})
}
