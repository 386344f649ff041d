package revocation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresList persists revocations when Redis is not configured.
type PostgresList struct {
	db    *sql.DB
	clock func() time.Time
}

type PostgresOption func(*PostgresList)

func WithPostgresClock(clock func() time.Time) PostgresOption {
	return func(l *PostgresList) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func NewPostgresList(db *sql.DB, opts ...PostgresOption) *PostgresList {
	l := &PostgresList{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *PostgresList) Revoke(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return nil
	}
	if err := validateTTL(ttl); err != nil {
		return err
	}
	// lapsed rows are swept on every write
	query := `
		WITH swept AS (DELETE FROM session_revocations WHERE expires_at <= $3)
		INSERT INTO session_revocations (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO UPDATE SET expires_at = EXCLUDED.expires_at
	`
	now := l.clock()
	if _, err := l.db.ExecContext(ctx, query, jti, now.Add(ttl), now); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

func (l *PostgresList) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	var expiresAt time.Time
	err := l.db.QueryRowContext(ctx, `SELECT expires_at FROM session_revocations WHERE jti = $1`, jti).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check session revocation: %w", err)
	}
	return l.clock().Before(expiresAt), nil
}
