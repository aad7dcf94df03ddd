package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ideatorio/internal/app"
)

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Notes:
//   - The session actors live in a local map; only the owning instance can
//     serve a room.
//   - Redis holds the PIN reservation (SET NX with TTL) so instances sharing
//     the same Redis never hand out the same PIN.
//   - The sweeper refreshes the reservation of live sessions; a crashed
//     instance releases its PINs when the keys expire.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	instance string

	mu       sync.RWMutex
	sessions map[string]*app.Session
}

// NewSessionStore creates a store reserving PINs for ttl. instance tags the
// reservation with the owner.
func NewSessionStore(client *redis.Client, ttl time.Duration, instance string) *SessionStore {
	if instance == "" {
		instance = "1"
	}
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		instance: instance,
		sessions: make(map[string]*app.Session),
	}
}

func (s *SessionStore) Insert(ctx context.Context, session *app.Session) (bool, error) {
	pin := session.PIN()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[pin]; ok {
		return false, nil
	}
	ok, err := s.client.SetNX(ctx, s.key(pin), s.instance, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve pin: %w", err)
	}
	if !ok {
		return false, nil
	}
	s.sessions[pin] = session
	return true, nil
}

func (s *SessionStore) Get(pin string) (*app.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[pin]
	return session, ok
}

func (s *SessionStore) Delete(ctx context.Context, pin string) error {
	s.mu.Lock()
	_, ok := s.sessions[pin]
	delete(s.sessions, pin)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return s.client.Del(ctx, s.key(pin)).Err()
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

func (s *SessionStore) Refresh(ctx context.Context, pin string) error {
	if s.ttl <= 0 {
		return nil
	}
	return s.client.Expire(ctx, s.key(pin), s.ttl).Err()
}

func (s *SessionStore) key(pin string) string {
	return "ideatorio:pin:" + pin
}
