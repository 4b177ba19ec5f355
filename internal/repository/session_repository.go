package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dormledger/auth-service/internal/domain"
)

// SessionRepository is the Postgres-backed session registry. All reads go
// to the primary the pool points at, so a committed revocation is visible to
// the next validation.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository constructs repository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `
        id, token, user_id, roles, created_at, last_heartbeat_at,
        revoked, revoked_reason, revoked_at,
        access_token_id, access_expires_at, refresh_token_id, refresh_expires_at,
        prev_refresh_token_id, rotated_at, user_agent, remote_addr`

func (r *SessionRepository) Create(ctx context.Context, s *domain.Session) error {
	const query = `
        INSERT INTO sessions (
            id, token, user_id, roles, created_at, last_heartbeat_at,
            access_token_id, access_expires_at, refresh_token_id, refresh_expires_at,
            user_agent, remote_addr)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`

	_, err := r.pool.Exec(ctx, query,
		s.ID,
		s.Token,
		s.UserID,
		s.Roles,
		s.CreatedAt,
		s.LastHeartbeatAt,
		s.AccessTokenID,
		s.AccessExpiresAt,
		s.RefreshTokenID,
		s.RefreshExpiresAt,
		s.UserAgent,
		s.RemoteAddr,
	)
	return err
}

func (r *SessionRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	return scanSession(r.pool.QueryRow(ctx, query, id))
}

func (r *SessionRepository) GetByToken(ctx context.Context, token string) (*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE token = $1`
	return scanSession(r.pool.QueryRow(ctx, query, token))
}

func (r *SessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	const query = `
        UPDATE sessions SET last_heartbeat_at = GREATEST(last_heartbeat_at, $2)
        WHERE id = $1 AND NOT revoked`
	_, err := r.pool.Exec(ctx, query, id, at)
	return err
}

func (r *SessionRepository) Revoke(ctx context.Context, id string, reason domain.RevocationReason, at time.Time) error {
	const query = `
        UPDATE sessions SET revoked = TRUE, revoked_reason = $2, revoked_at = $3
        WHERE id = $1 AND NOT revoked`
	_, err := r.pool.Exec(ctx, query, id, string(reason), at)
	return err
}

func (r *SessionRepository) IsActive(ctx context.Context, id string, now time.Time, idleTimeout time.Duration) (bool, error) {
	const query = `
        SELECT EXISTS (
            SELECT 1 FROM sessions
            WHERE id = $1 AND NOT revoked AND last_heartbeat_at > $2)`
	var active bool
	if err := r.pool.QueryRow(ctx, query, id, now.Add(-idleTimeout)).Scan(&active); err != nil {
		return false, err
	}
	return active, nil
}

func (r *SessionRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Rotate swaps the bound token pair only if the session still carries the
// expected refresh token id and is not revoked.
func (r *SessionRepository) Rotate(ctx context.Context, id, expectedRefreshID string, next domain.TokenBinding, at time.Time) error {
	const query = `
        UPDATE sessions SET
            access_token_id = $3, access_expires_at = $4,
            refresh_token_id = $5, refresh_expires_at = $6,
            prev_refresh_token_id = $2, rotated_at = $7,
            last_heartbeat_at = GREATEST(last_heartbeat_at, $7)
        WHERE id = $1 AND refresh_token_id = $2 AND NOT revoked`

	cmd, err := r.pool.Exec(ctx, query,
		id,
		expectedRefreshID,
		next.AccessTokenID,
		next.AccessExpiresAt,
		next.RefreshTokenID,
		next.RefreshExpiresAt,
		at,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRotationConflict
	}
	return nil
}

func (r *SessionRepository) RevokeStale(ctx context.Context, cutoff, at time.Time) (int64, error) {
	const query = `
        UPDATE sessions SET revoked = TRUE, revoked_reason = $2, revoked_at = $3
        WHERE NOT revoked AND last_heartbeat_at <= $1`
	cmd, err := r.pool.Exec(ctx, query, cutoff, string(domain.ReasonExpired), at)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func (r *SessionRepository) PurgeRevoked(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM sessions WHERE revoked AND revoked_at < $1`
	cmd, err := r.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, err
	}
	return cmd.RowsAffected(), nil
}

func scanSession(row pgx.Row) (*domain.Session, error) {
	var (
		s        domain.Session
		reason   *string
		prevID   *string
		userRole []string
	)
	if err := row.Scan(
		&s.ID,
		&s.Token,
		&s.UserID,
		&userRole,
		&s.CreatedAt,
		&s.LastHeartbeatAt,
		&s.Revoked,
		&reason,
		&s.RevokedAt,
		&s.AccessTokenID,
		&s.AccessExpiresAt,
		&s.RefreshTokenID,
		&s.RefreshExpiresAt,
		&prevID,
		&s.RotatedAt,
		&s.UserAgent,
		&s.RemoteAddr,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	s.Roles = userRole
	if reason != nil {
		s.RevokedReason = domain.RevocationReason(*reason)
	}
	if prevID != nil {
		s.PrevRefreshTokenID = *prevID
	}
	return &s, nil
}
