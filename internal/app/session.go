package app

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"ideatorio/internal/domain"
)

// Session is a live session. All of its state is owned by a single task loop
// so joins, dynamic changes, submissions and resets for one PIN are applied
// one at a time while different sessions run in parallel.
type Session struct {
	info   domain.SessionInfo
	now    func() time.Time
	logger *zap.Logger

	tasks      chan func()
	done       chan struct{}
	startOnce  sync.Once
	stopOnce   sync.Once
	lastActive atomic.Int64

	// owned by the task loop
	ended        bool
	participants map[string]*domain.Participant
	nextID       int
	content      domain.Content
	generation   uint64
	collector    *collector
	room         *room
}

func newSession(info domain.SessionInfo, now func() time.Time, sendBuffer int, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		info:         info,
		now:          now,
		logger:       logger.With(zap.String("pin", info.PIN)),
		tasks:        make(chan func()),
		done:         make(chan struct{}),
		participants: make(map[string]*domain.Participant),
		collector:    newCollector(info.PIN, now),
	}
	s.room = newRoom(info.PIN, sendBuffer, s.logger)
	s.lastActive.Store(now().UnixNano())
	return s
}

// PIN returns the join code of the session.
func (s *Session) PIN() string {
	return s.info.PIN
}

// Info returns the immutable session record.
func (s *Session) Info() domain.SessionInfo {
	return s.info
}

// LastActive reports the time of the most recent operation on the session.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) start() {
	s.startOnce.Do(func() { go s.run() })
}

func (s *Session) run() {
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.done:
			return
		}
	}
}

// exec runs fn on the session loop and waits for its result.
func (s *Session) exec(ctx context.Context, fn func() error) error {
	errc := make(chan error, 1)
	task := func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("session task panicked", zap.Any("panic", r))
				errc <- fmt.Errorf("session %s: panic: %v", s.info.PIN, r)
			}
		}()
		if s.ended {
			errc <- fmt.Errorf("%w: %s", domain.ErrNotFound, s.info.PIN)
			return
		}
		s.lastActive.Store(s.now().UnixNano())
		errc <- fn()
	}

	select {
	case s.tasks <- task:
	case <-s.done:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, s.info.PIN)
	case <-ctx.Done():
		return ctx.Err()
	}
	return <-errc
}

// shutdown tears the room down and stops the task loop. Safe to call twice.
func (s *Session) shutdown(reason string) {
	_ = s.exec(context.Background(), func() error {
		s.room.closeAll(domain.Event{
			Name: domain.EventSessionEnded,
			Data: map[string]string{"pin": s.info.PIN, "reason": reason},
		})
		s.ended = true
		s.content = nil
		s.participants = map[string]*domain.Participant{}
		s.collector.reset(s.generation, nil)
		return nil
	})
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *Session) addParticipantLocked(name string) domain.Participant {
	s.nextID++
	p := &domain.Participant{
		ID:        "p" + strconv.Itoa(s.nextID),
		Name:      name,
		SessionID: s.info.PIN,
		JoinedAt:  s.now(),
	}
	s.participants[p.ID] = p
	return *p
}

func (s *Session) snapshotLocked(redact bool) domain.Snapshot {
	snap := domain.Snapshot{
		PIN:           s.info.PIN,
		SessionType:   s.info.Type,
		Type:          domain.DynamicNone,
		Generation:    s.generation,
		HostConnected: s.room.host != "",
		Participants:  len(s.participants),
	}
	if s.content != nil {
		snap.Type = s.content.Type()
		snap.Content = s.content
		if redact {
			snap.Content = s.content.Redacted()
		}
		snap.Content = withCounts(snap.Content, s.collector.aggregate().Items)
	}
	return snap
}

// withCounts replaces the seeded items of a Ranking or WordCloud with the
// collected counts, words added by students included.
func withCounts(content domain.Content, counts []domain.ItemCount) domain.Content {
	items := make([]domain.Item, 0, len(counts))
	for _, c := range counts {
		items = append(items, domain.Item{ID: c.ID, Text: c.Text, VoteCount: c.Votes})
	}
	switch content.(type) {
	case domain.Ranking:
		return domain.Ranking{Items: items}
	case domain.WordCloud:
		return domain.WordCloud{Words: items}
	}
	return content
}
