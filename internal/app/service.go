package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"ideatorio/internal/domain"
)

// Service contains the live session use cases: room membership, dynamic
// transitions and response collection.
type Service struct {
	registry *Registry
	logger   *zap.Logger
}

func NewService(registry *Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{registry: registry, logger: logger}
}

// Registry exposes the session registry backing the service.
func (s *Service) Registry() *Registry {
	return s.registry
}

func (s *Service) CreateSession(ctx context.Context, hostID string, t domain.DynamicType) (domain.SessionInfo, error) {
	return s.registry.Create(ctx, hostID, t)
}

func (s *Service) JoinSession(ctx context.Context, pin, name string) (domain.Participant, error) {
	return s.registry.Join(ctx, pin, name)
}

func (s *Service) LeaveSession(ctx context.Context, pin, participantID string) error {
	return s.registry.Leave(ctx, pin, participantID)
}

// EndSession ends the session unconditionally. It is idempotent.
func (s *Service) EndSession(ctx context.Context, pin string) error {
	return s.registry.End(ctx, pin, "ended")
}

// EndSessionAsHost ends the session when connID is the current host connection.
func (s *Service) EndSessionAsHost(ctx context.Context, pin, connID string) error {
	session, err := s.registry.Lookup(pin)
	if err != nil {
		return err
	}
	err = session.exec(ctx, func() error {
		return checkHostLocked(session, connID)
	})
	if err != nil {
		return err
	}
	return s.registry.End(ctx, pin, "ended")
}

// JoinRoom subscribes connID to the room of pin. An empty participantID joins
// as host; hostID, when given, must match the session owner. The returned
// snapshot is the state at the moment of joining, redacted for students.
func (s *Service) JoinRoom(ctx context.Context, pin, connID, participantID, hostID string) (*Subscription, domain.Snapshot, error) {
	if connID == "" {
		return nil, domain.Snapshot{}, fmt.Errorf("%w: connection id is required", domain.ErrValidation)
	}
	session, err := s.registry.Lookup(pin)
	if err != nil {
		return nil, domain.Snapshot{}, err
	}

	var (
		m    *member
		snap domain.Snapshot
	)
	err = session.exec(ctx, func() error {
		if participantID != "" {
			if _, ok := session.participants[participantID]; !ok {
				return fmt.Errorf("%w: %s", domain.ErrParticipantNotFound, participantID)
			}
		} else if hostID != "" && hostID != session.info.HostID {
			return fmt.Errorf("%w: %s does not own session %s", domain.ErrNotHost, hostID, session.info.PIN)
		}
		m = session.room.join(connID, participantID)
		if participantID == "" {
			session.room.broadcast(domain.Event{
				Name: domain.EventHostStatus,
				Data: domain.HostStatus{PIN: session.info.PIN, Connected: true},
			}, connID)
		}
		snap = session.snapshotLocked(participantID != "")
		return nil
	})
	if err != nil {
		return nil, domain.Snapshot{}, err
	}

	session.logger.Debug("room joined",
		zap.String("conn_id", connID),
		zap.String("participant_id", participantID),
	)
	sub := &Subscription{
		PIN:           session.info.PIN,
		ConnID:        connID,
		ParticipantID: participantID,
		events:        m.events,
	}
	sub.leave = func(ctx context.Context) error {
		return s.LeaveRoom(ctx, session.info.PIN, connID)
	}
	return sub, snap, nil
}

// LeaveRoom drops connID from the room. When it was the host connection the
// room is told the host is gone and dynamic changes pause until it returns.
func (s *Service) LeaveRoom(ctx context.Context, pin, connID string) error {
	session, err := s.registry.Lookup(pin)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	err = session.exec(ctx, func() error {
		wasHost, _ := session.room.leave(connID)
		if wasHost {
			session.room.broadcast(domain.Event{
				Name: domain.EventHostStatus,
				Data: domain.HostStatus{PIN: session.info.PIN, Connected: false},
			}, "")
		}
		return nil
	})
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	return err
}

func checkHostLocked(session *Session, connID string) error {
	switch {
	case session.room.host == "":
		return fmt.Errorf("%w: session %s", domain.ErrHostAbsent, session.info.PIN)
	case session.room.host != connID:
		return fmt.Errorf("%w: connection is not the session host", domain.ErrNotHost)
	}
	return nil
}

// SetDynamic replaces the active dynamic of pin. Only the current host
// connection may call it. A nil content activates an empty dynamic of type t.
// Responses of the previous dynamic are discarded before the new state is
// broadcast.
func (s *Service) SetDynamic(ctx context.Context, pin, connID string, t domain.DynamicType, content domain.Content) (domain.Snapshot, error) {
	var err error
	if content == nil {
		content, err = domain.DecodeContent(t, nil)
	} else {
		content, err = domain.NewContent(content)
	}
	if err != nil {
		return domain.Snapshot{}, err
	}
	if content != nil && content.Type() != t {
		return domain.Snapshot{}, fmt.Errorf("%w: content is %s, dynamic is %s", domain.ErrValidation, content.Type(), t)
	}

	session, err := s.registry.Lookup(pin)
	if err != nil {
		return domain.Snapshot{}, err
	}

	var snap domain.Snapshot
	err = session.exec(ctx, func() error {
		if err := checkHostLocked(session, connID); err != nil {
			return err
		}
		session.generation++
		session.content = content
		session.collector.reset(session.generation, content)

		update := domain.SlideUpdate{
			PIN:                 session.info.PIN,
			Type:                t,
			CurrentSlideContent: t.String(),
			Generation:          session.generation,
		}
		if content != nil {
			update.Content = content.Redacted()
		}
		session.room.broadcast(domain.Event{Name: domain.EventSlideUpdate, Data: update}, connID)
		snap = session.snapshotLocked(false)
		return nil
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	session.logger.Info("dynamic changed",
		zap.Stringer("type", t),
		zap.Uint64("generation", snap.Generation),
	)
	return snap, nil
}

// CurrentState returns the active dynamic of pin. With redact set, quiz
// correctness flags are removed.
func (s *Service) CurrentState(ctx context.Context, pin string, redact bool) (domain.Snapshot, error) {
	session, err := s.registry.Lookup(pin)
	if err != nil {
		return domain.Snapshot{}, err
	}
	var snap domain.Snapshot
	err = session.exec(ctx, func() error {
		snap = session.snapshotLocked(redact)
		return nil
	})
	return snap, err
}

// Submit records a participant response against the given dynamic generation
// and publishes the new aggregate.
func (s *Service) Submit(ctx context.Context, pin, participantID string, generation uint64, sub domain.Submission) (domain.SubmitResult, error) {
	if participantID == "" {
		return domain.SubmitResult{}, fmt.Errorf("%w: participant id is required", domain.ErrValidation)
	}
	session, err := s.registry.Lookup(pin)
	if err != nil {
		return domain.SubmitResult{}, err
	}

	var res domain.SubmitResult
	err = session.exec(ctx, func() error {
		p, ok := session.participants[participantID]
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrParticipantNotFound, participantID)
		}
		r, err := session.collector.submit(p, generation, sub)
		if err != nil {
			return err
		}
		res = r
		publishAggregate(session, res.Aggregate)
		if sub.Kind == domain.SubmitIdea {
			session.room.sendToParticipant(participantID, domain.Event{
				Name: domain.EventIdeaReceived,
				Data: domain.IdeaReceived{
					PIN:           session.info.PIN,
					ParticipantID: participantID,
					Idea:          sub.Text,
					Words:         res.Aggregate.Items,
				},
			})
		}
		return nil
	})
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return res, nil
}

// Reset clears the responses collected for the active dynamic without
// changing it.
func (s *Service) Reset(ctx context.Context, pin string) error {
	session, err := s.registry.Lookup(pin)
	if err != nil {
		return err
	}
	return session.exec(ctx, func() error {
		session.collector.reset(session.generation, session.content)
		publishAggregate(session, session.collector.aggregate())
		return nil
	})
}

// Aggregate returns the collected responses for the active dynamic.
func (s *Service) Aggregate(ctx context.Context, pin string) (domain.Aggregate, error) {
	session, err := s.registry.Lookup(pin)
	if err != nil {
		return domain.Aggregate{}, err
	}
	var agg domain.Aggregate
	err = session.exec(ctx, func() error {
		agg = session.collector.aggregate()
		return nil
	})
	return agg, err
}

// Items returns the current counts of the active Ranking or WordCloud and the
// generation they belong to. It fails when t is not the active dynamic.
func (s *Service) Items(ctx context.Context, pin string, t domain.DynamicType) ([]domain.ItemCount, uint64, error) {
	agg, err := s.Aggregate(ctx, pin)
	if err != nil {
		return nil, 0, err
	}
	if agg.Type != t {
		return nil, 0, fmt.Errorf("%w: active dynamic is %s, not %s", domain.ErrValidation, agg.Type, t)
	}
	if agg.Items == nil {
		return []domain.ItemCount{}, agg.Generation, nil
	}
	return agg.Items, agg.Generation, nil
}

// publishAggregate pushes counts to the whole room and quiz scores to the host only.
func publishAggregate(session *Session, agg domain.Aggregate) {
	switch agg.Type {
	case domain.DynamicRanking:
		session.room.broadcast(domain.Event{Name: domain.EventVoteUpdate, Data: agg.Items}, "")
	case domain.DynamicWordCloud:
		session.room.broadcast(domain.Event{Name: domain.EventWordCloudUpdate, Data: agg.Items}, "")
	case domain.DynamicCloseQuestion, domain.DynamicMultipleChoice:
		session.room.sendToHost(domain.Event{Name: domain.EventAnswersUpdate, Data: agg})
	}
}
