package app

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"ideatorio/internal/domain"
)

// SessionRepository abstracts where live sessions are indexed (in-memory, Redis, etc).
// Insert is the PIN namespace lock: it must fail when the PIN is already taken.
type SessionRepository interface {
	Insert(ctx context.Context, session *Session) (bool, error)
	Get(pin string) (*Session, bool)
	Delete(ctx context.Context, pin string) error
	List() []*Session
	Refresh(ctx context.Context, pin string) error
}

// SessionRecorder persists session lifecycle records. Calls are best-effort.
type SessionRecorder interface {
	SessionCreated(ctx context.Context, info domain.SessionInfo) error
	ParticipantJoined(ctx context.Context, p domain.Participant) error
	ParticipantLeft(ctx context.Context, pin, participantID string) error
	SessionEnded(ctx context.Context, pin, reason string) error
}

// NopRecorder discards every record.
type NopRecorder struct{}

func (NopRecorder) SessionCreated(context.Context, domain.SessionInfo) error { return nil }
func (NopRecorder) ParticipantJoined(context.Context, domain.Participant) error { return nil }
func (NopRecorder) ParticipantLeft(context.Context, string, string) error { return nil }
func (NopRecorder) SessionEnded(context.Context, string, string) error { return nil }

// RegistryConfig tunes PIN allocation and idle expiry.
type RegistryConfig struct {
	PINLength   int
	PINAttempts int
	IdleTimeout time.Duration
	SendBuffer  int
	// PIN overrides the random PIN source (tests).
	PIN func() string
	// Clock overrides time.Now (tests).
	Clock func() time.Time
}

const maxNameLength = 64

// Registry maps PINs to live sessions.
type Registry struct {
	store    SessionRepository
	recorder SessionRecorder
	cfg      RegistryConfig
	logger   *zap.Logger

	// serializes PIN probing within this instance; the store guards across instances
	createMu sync.Mutex
}

func NewRegistry(store SessionRepository, recorder SessionRecorder, cfg RegistryConfig, logger *zap.Logger) *Registry {
	if cfg.PINLength <= 0 {
		cfg.PINLength = 6
	}
	if cfg.PINAttempts <= 0 {
		cfg.PINAttempts = 64
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.PIN == nil {
		length := cfg.PINLength
		cfg.PIN = func() string { return randomPIN(length) }
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{store: store, recorder: recorder, cfg: cfg, logger: logger}
}

func randomPIN(length int) string {
	var b strings.Builder
	b.Grow(length)
	// The first digit is never 0 so a PIN sent as a JSON number keeps its length.
	nine, ten := big.NewInt(9), big.NewInt(10)
	for i := 0; i < length; i++ {
		limit, offset := ten, int64(0)
		if i == 0 {
			limit, offset = nine, 1
		}
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			panic(fmt.Sprintf("pin: read random: %v", err))
		}
		b.WriteByte(byte('0' + offset + n.Int64()))
	}
	return b.String()
}

// Create allocates a fresh PIN and starts a session for hostID.
func (r *Registry) Create(ctx context.Context, hostID string, t domain.DynamicType) (domain.SessionInfo, error) {
	hostID = strings.TrimSpace(hostID)
	if hostID == "" {
		return domain.SessionInfo{}, fmt.Errorf("%w: host id is required", domain.ErrValidation)
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	for attempt := 0; attempt < r.cfg.PINAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.SessionInfo{}, err
		}
		pin := r.cfg.PIN()
		if _, taken := r.store.Get(pin); taken {
			continue
		}
		info := domain.SessionInfo{
			PIN:       pin,
			HostID:    hostID,
			Type:      t,
			CreatedAt: r.cfg.Clock(),
		}
		session := newSession(info, r.cfg.Clock, r.cfg.SendBuffer, r.logger)
		ok, err := r.store.Insert(ctx, session)
		if err != nil {
			return domain.SessionInfo{}, err
		}
		if !ok {
			continue
		}
		session.start()
		r.logger.Info("session created",
			zap.String("pin", pin),
			zap.String("host_id", hostID),
			zap.Stringer("type", t),
			zap.Int("attempts", attempt+1),
		)
		r.record("session created", func(ctx context.Context) error {
			return r.recorder.SessionCreated(ctx, info)
		})
		return info, nil
	}
	return domain.SessionInfo{}, fmt.Errorf("%w: no free pin after %d attempts", domain.ErrCapacity, r.cfg.PINAttempts)
}

// Lookup returns the live session for pin.
func (r *Registry) Lookup(pin string) (*Session, error) {
	session, ok := r.store.Get(strings.TrimSpace(pin))
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, pin)
	}
	return session, nil
}

// Join adds a participant named name to the session.
func (r *Registry) Join(ctx context.Context, pin, name string) (domain.Participant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Participant{}, fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if len([]rune(name)) > maxNameLength {
		return domain.Participant{}, fmt.Errorf("%w: name longer than %d characters", domain.ErrValidation, maxNameLength)
	}
	session, err := r.Lookup(pin)
	if err != nil {
		return domain.Participant{}, err
	}

	var p domain.Participant
	err = session.exec(ctx, func() error {
		p = session.addParticipantLocked(name)
		return nil
	})
	if err != nil {
		return domain.Participant{}, err
	}
	session.logger.Info("participant joined", zap.String("participant_id", p.ID))
	r.record("participant joined", func(ctx context.Context) error {
		return r.recorder.ParticipantJoined(ctx, p)
	})
	return p, nil
}

// Leave removes a participant. Their connections stay in the room but can no
// longer submit.
func (r *Registry) Leave(ctx context.Context, pin, participantID string) error {
	session, err := r.Lookup(pin)
	if err != nil {
		return err
	}
	err = session.exec(ctx, func() error {
		if _, ok := session.participants[participantID]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrParticipantNotFound, participantID)
		}
		delete(session.participants, participantID)
		return nil
	})
	if err != nil {
		return err
	}
	session.logger.Info("participant left", zap.String("participant_id", participantID))
	r.record("participant left", func(ctx context.Context) error {
		return r.recorder.ParticipantLeft(ctx, pin, participantID)
	})
	return nil
}

// End removes the session and disconnects its room. Ending an unknown or
// already ended session is a no-op.
func (r *Registry) End(ctx context.Context, pin, reason string) error {
	session, ok := r.store.Get(strings.TrimSpace(pin))
	if !ok {
		return nil
	}
	if err := r.store.Delete(ctx, session.PIN()); err != nil {
		r.logger.Warn("release pin failed", zap.String("pin", session.PIN()), zap.Error(err))
	}
	session.shutdown(reason)
	session.logger.Info("session ended", zap.String("reason", reason))
	r.record("session ended", func(ctx context.Context) error {
		return r.recorder.SessionEnded(ctx, session.PIN(), reason)
	})
	return nil
}

// Sweep ends sessions idle for longer than the configured timeout and
// refreshes the reservation of the others. It returns the number expired.
func (r *Registry) Sweep(ctx context.Context) int {
	if r.cfg.IdleTimeout <= 0 {
		return 0
	}
	now := r.cfg.Clock()
	expired := 0
	for _, session := range r.store.List() {
		if now.Sub(session.LastActive()) >= r.cfg.IdleTimeout {
			if err := r.End(ctx, session.PIN(), "expired"); err == nil {
				expired++
			}
			continue
		}
		if err := r.store.Refresh(ctx, session.PIN()); err != nil {
			r.logger.Warn("refresh pin failed", zap.String("pin", session.PIN()), zap.Error(err))
		}
	}
	if expired > 0 {
		r.logger.Info("expired idle sessions", zap.Int("count", expired))
	}
	return expired
}

// RunSweeper calls Sweep every interval until ctx is done.
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Shutdown ends every live session.
func (r *Registry) Shutdown(ctx context.Context) {
	for _, session := range r.store.List() {
		_ = r.End(ctx, session.PIN(), "shutdown")
	}
}

func (r *Registry) record(what string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.logger.Warn("record failed", zap.String("record", what), zap.Error(err))
	}
}
