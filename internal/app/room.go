package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"ideatorio/internal/domain"
)

type member struct {
	connID        string
	participantID string
	events        chan domain.Event
}

// room is the fan-out group of one session. It is only touched from the
// session task loop, which is also the only writer and closer of the member
// channels.
type room struct {
	pin     string
	buffer  int
	host    string
	members map[string]*member
	logger  *zap.Logger
}

func newRoom(pin string, buffer int, logger *zap.Logger) *room {
	if buffer <= 0 {
		buffer = 16
	}
	return &room{
		pin:     pin,
		buffer:  buffer,
		members: make(map[string]*member),
		logger:  logger,
	}
}

// join registers connID. A connection without a participant id becomes the
// addressable host, replacing any previous host connection.
func (r *room) join(connID, participantID string) *member {
	if prev, ok := r.members[connID]; ok {
		close(prev.events)
	}
	m := &member{
		connID:        connID,
		participantID: participantID,
		events:        make(chan domain.Event, r.buffer),
	}
	r.members[connID] = m
	switch {
	case participantID == "":
		r.host = connID
	case r.host == connID:
		r.host = ""
	}
	return m
}

// leave removes connID and reports whether it was the current host.
func (r *room) leave(connID string) (wasHost, ok bool) {
	m, ok := r.members[connID]
	if !ok {
		return false, false
	}
	delete(r.members, connID)
	close(m.events)
	if r.host == connID {
		r.host = ""
		return true, true
	}
	return false, true
}

// broadcast delivers ev to every member except exclude. It never blocks.
func (r *room) broadcast(ev domain.Event, exclude string) int {
	delivered := 0
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		if r.deliver(m, ev) {
			delivered++
		}
	}
	return delivered
}

func (r *room) sendToHost(ev domain.Event) bool {
	m, ok := r.members[r.host]
	if !ok {
		return false
	}
	return r.deliver(m, ev)
}

func (r *room) sendToParticipant(participantID string, ev domain.Event) {
	for _, m := range r.members {
		if m.participantID == participantID {
			r.deliver(m, ev)
		}
	}
}

func (r *room) closeAll(final domain.Event) {
	for id, m := range r.members {
		r.deliver(m, final)
		close(m.events)
		delete(r.members, id)
	}
	r.host = ""
}

// deliver drops the oldest queued event when a member's buffer is full so a
// slow reader can never stall the session loop.
func (r *room) deliver(m *member, ev domain.Event) bool {
	select {
	case m.events <- ev:
		return true
	default:
	}
	select {
	case <-m.events:
		r.logger.Debug("dropped stale event for slow member", zap.String("conn_id", m.connID))
	default:
	}
	select {
	case m.events <- ev:
		return true
	default:
		return false
	}
}

// Subscription is a connection's membership in a room. Events are delivered
// on Events until Close is called or the session ends, after which the
// channel is closed.
type Subscription struct {
	PIN           string
	ConnID        string
	ParticipantID string

	events <-chan domain.Event
	leave  func(ctx context.Context) error
	once   sync.Once
	err    error
}

// Events returns the channel of room events for this connection.
func (s *Subscription) Events() <-chan domain.Event {
	return s.events
}

// IsHost reports whether the subscription was opened as a host connection.
func (s *Subscription) IsHost() bool {
	return s.ParticipantID == ""
}

// Close leaves the room. Repeated calls return the first result.
func (s *Subscription) Close(ctx context.Context) error {
	s.once.Do(func() {
		s.err = s.leave(ctx)
	})
	return s.err
}
