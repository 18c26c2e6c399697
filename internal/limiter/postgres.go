package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a sliding failure window and lockout.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a limiter over q, typically the account store pool.
func NewPG(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor}
}

// Allow reports whether an unlock is currently allowed and a retry-after duration.
func (l *PG) Allow(ctx context.Context, account string) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM unlock_limiter WHERE account=$1`
	var blockedUntil time.Time
	err := l.pool.QueryRow(ctx, q, account).Scan(&blockedUntil)
	switch {
	case err == nil:
		if wait := time.Until(blockedUntil); wait > 0 {
			return false, wait, nil
		}
		return true, 0, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for account.
func (l *PG) Success(ctx context.Context, account string) error {
	const q = `
INSERT INTO unlock_limiter (account, fail_count, blocked_until, updated_at)
VALUES ($1,0,'epoch',now())
ON CONFLICT (account)
DO UPDATE SET fail_count=0, blocked_until='epoch', updated_at=now()`
	_, err := l.pool.Exec(ctx, q, account)
	return err
}

// Failure records a failed attempt; it blocks the account once maxFails is reached within window.
func (l *PG) Failure(ctx context.Context, account string) (bool, time.Duration, error) {
	const q = `
INSERT INTO unlock_limiter (account, fail_count, blocked_until, updated_at)
VALUES ($1,1,'epoch',now())
ON CONFLICT (account) DO UPDATE
SET
  fail_count = CASE WHEN EXCLUDED.updated_at - unlock_limiter.updated_at > $2::interval THEN 1 ELSE unlock_limiter.fail_count + 1 END,
  updated_at = now()
RETURNING fail_count`
	var fails int
	if err := l.pool.QueryRow(ctx, q, account, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	const upd = `UPDATE unlock_limiter SET blocked_until=$2 WHERE account=$1`
	if _, err := l.pool.Exec(ctx, upd, account, time.Now().Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}
