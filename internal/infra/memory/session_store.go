package memory

import (
	"context"
	"sync"

	"ideatorio/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository. The
// map is the PIN namespace for a single instance.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Insert(_ context.Context, session *app.Session) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.PIN()]; ok {
		return false, nil
	}
	s.sessions[session.PIN()] = session
	return true, nil
}

func (s *SessionStore) Get(pin string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[pin]
	return session, ok
}

func (s *SessionStore) Delete(_ context.Context, pin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, pin)
	return nil
}

func (s *SessionStore) List() []*app.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

// Refresh is a no-op: in-memory entries live until deleted.
func (s *SessionStore) Refresh(context.Context, string) error {
	return nil
}
