package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/mabini-abc/portal/internal/database"
	"github.com/mabini-abc/portal/internal/models"
)

// LoginAttemptRepository handles database operations for per-identity attempt state
type LoginAttemptRepository struct {
	db *database.DB
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(db *database.DB) *LoginAttemptRepository {
	return &LoginAttemptRepository{db: db}
}

func scanAttemptState(row rowScanner) (*models.LoginAttemptState, error) {
	var s models.LoginAttemptState
	if err := row.Scan(&s.Identity, &s.FailedAttempts, &s.LockoutCount, &s.LockedUntil, &s.LastAttemptAt); err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

// Get returns the current state for identity, or models.ErrNotFound.
func (r *LoginAttemptRepository) Get(ctx context.Context, identity string) (*models.LoginAttemptState, error) {
	return scanAttemptState(r.db.Pool.QueryRow(ctx, `
		SELECT identity, failed_attempts, lockout_count, locked_until, last_attempt_at
		FROM login_attempt_states WHERE identity = $1`, identity))
}

// Mutate loads the identity's row under a row lock, passes it to fn and
// persists whatever fn returns, all in one transaction. state is nil when
// no row exists; with create set an empty row is inserted first so that
// concurrent callers for a new identity still serialize on the same row.
// A nil result from fn leaves the row untouched.
func (r *LoginAttemptRepository) Mutate(
	ctx context.Context,
	identity string,
	create bool,
	fn func(state *models.LoginAttemptState) (*models.LoginAttemptState, error),
) error {
	return r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		if create {
			if _, err := tx.Exec(ctx, `
				INSERT INTO login_attempt_states (identity) VALUES ($1)
				ON CONFLICT (identity) DO NOTHING`, identity); err != nil {
				return fmt.Errorf("create attempt state: %w", err)
			}
		}

		state, err := scanAttemptState(tx.QueryRow(ctx, `
			SELECT identity, failed_attempts, lockout_count, locked_until, last_attempt_at
			FROM login_attempt_states WHERE identity = $1 FOR UPDATE`, identity))
		if errors.Is(err, models.ErrNotFound) {
			state = nil
		} else if err != nil {
			return fmt.Errorf("lock attempt state: %w", err)
		}

		next, err := fn(state)
		if err != nil || next == nil {
			return err
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO login_attempt_states (identity, failed_attempts, lockout_count, locked_until, last_attempt_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (identity) DO UPDATE SET
				failed_attempts = EXCLUDED.failed_attempts,
				lockout_count   = EXCLUDED.lockout_count,
				locked_until    = EXCLUDED.locked_until,
				last_attempt_at = EXCLUDED.last_attempt_at`,
			identity, next.FailedAttempts, next.LockoutCount, next.LockedUntil, next.LastAttemptAt)
		if err != nil {
			return fmt.Errorf("save attempt state: %w", err)
		}
		return nil
	})
}

// DeleteIdle prunes rows that carry no backoff history: zero counters,
// no lock, and no attempt since before.
func (r *LoginAttemptRepository) DeleteIdle(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `
		DELETE FROM login_attempt_states
		WHERE failed_attempts = 0 AND lockout_count = 0
		  AND locked_until IS NULL AND last_attempt_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune attempt states: %w", err)
	}
	return result.RowsAffected(), nil
}
