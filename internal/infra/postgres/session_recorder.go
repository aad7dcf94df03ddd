package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"ideatorio/internal/domain"
)

// SessionRecorder writes session and participant rows to Postgres. Rows are
// addressed by the live PIN; a PIN is only unique among sessions not yet ended.
type SessionRecorder struct {
	pool *pgxpool.Pool
}

func NewSessionRecorder(pool *pgxpool.Pool) *SessionRecorder {
	return &SessionRecorder{pool: pool}
}

// SessionCreated inserts the session row. Rows still live under the same PIN
// are left over from a previous process and are closed first.
func (r *SessionRecorder) SessionCreated(ctx context.Context, info domain.SessionInfo) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE sessions SET ended_at = now(), end_reason = 'orphaned' WHERE pin = $1 AND ended_at IS NULL`,
		info.PIN); err != nil {
		return fmt.Errorf("close orphaned session: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO sessions (pin, host_user_id, type, created_at) VALUES ($1, $2, $3, $4)`,
		info.PIN, info.HostID, info.Type.String(), info.CreatedAt); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return tx.Commit(ctx)
}

func (r *SessionRecorder) ParticipantJoined(ctx context.Context, p domain.Participant) error {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO participants (session_id, participant_key, name, joined_at)
		SELECT id, $2, $3, $4 FROM sessions WHERE pin = $1 AND ended_at IS NULL`,
		p.SessionID, p.ID, p.Name, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert participant: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *SessionRecorder) ParticipantLeft(ctx context.Context, pin, participantID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE participants SET left_at = now()
		WHERE participant_key = $2 AND left_at IS NULL
		  AND session_id = (SELECT id FROM sessions WHERE pin = $1 AND ended_at IS NULL)`,
		pin, participantID)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	return nil
}

func (r *SessionRecorder) SessionEnded(ctx context.Context, pin, reason string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE sessions SET ended_at = now(), end_reason = $2 WHERE pin = $1 AND ended_at IS NULL`,
		pin, reason)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}
