// Package store persists census verification tokens.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"hrportal/internal/verification/models"
	id "hrportal/pkg/domain"
	"hrportal/pkg/platform/sentinel"
	txcontext "hrportal/pkg/platform/tx"
)

// PostgresStore persists tokens in census_verification_tokens. The State of
// a token is stored as its legacy boolean projection.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed token store.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tokenColumns = `
	id, token, census_record_id, employee_id, email_address, created_by,
	verified, is_expired, email_sent, created_at, expires_at,
	email_sent_at, verified_at, last_reminder_at, reminder_count`

const qualifiedTokenColumns = `
	t.id, t.token, t.census_record_id, t.employee_id, t.email_address, t.created_by,
	t.verified, t.is_expired, t.email_sent, t.created_at, t.expires_at,
	t.email_sent_at, t.verified_at, t.last_reminder_at, t.reminder_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*models.Token, error) {
	var (
		t                            models.Token
		employeeID                   sql.NullInt64
		email, createdBy             sql.NullString
		verified, expired, emailSent bool
		sentAt, verifiedAt, remindAt sql.NullTime
	)
	err := row.Scan(
		&t.ID, &t.Value, &t.CensusRecordID, &employeeID, &email, &createdBy,
		&verified, &expired, &emailSent, &t.CreatedAt, &t.ExpiresAt,
		&sentAt, &verifiedAt, &remindAt, &t.ReminderCount,
	)
	if err != nil {
		return nil, err
	}
	t.EmployeeID = id.EmployeeID(employeeID.Int64)
	t.Email = email.String
	t.CreatedBy = createdBy.String
	t.State = models.StateFromFlags(verified, expired, emailSent)
	t.EmailSentAt = timePtr(sentAt)
	t.VerifiedAt = timePtr(verifiedAt)
	t.LastReminderAt = timePtr(remindAt)
	return &t, nil
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}

func scanTokens(rows *sql.Rows) ([]*models.Token, error) {
	defer rows.Close()
	var out []*models.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("scan verification token: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate verification tokens: %w", err)
	}
	return out, nil
}

// ExpireLapsed flags every unverified token whose expiry has passed. Running
// it inside the issuance transaction frees the partial unique index for
// records whose last token lapsed.
func (s *PostgresStore) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE census_verification_tokens
		SET is_expired = true
		WHERE NOT verified AND NOT is_expired AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expire lapsed tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire lapsed tokens: %w", err)
	}
	return n, nil
}

// CreateIfNoActive inserts t unless the record already has an active token.
// It reports whether a row was written and fills ID on success.
func (s *PostgresStore) CreateIfNoActive(ctx context.Context, t *models.Token) (bool, error) {
	f := t.Flags()
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		INSERT INTO census_verification_tokens (
			token, census_record_id, employee_id, email_address, created_by,
			is_used, is_expired, verified, updates_submitted, email_sent,
			created_at, expires_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (census_record_id) WHERE NOT verified AND NOT is_expired DO NOTHING
		RETURNING id
	`,
		t.Value, t.CensusRecordID, sql.NullInt64{Int64: int64(t.EmployeeID), Valid: !t.EmployeeID.IsZero()},
		sql.NullString{String: t.Email, Valid: t.Email != ""}, t.CreatedBy,
		f.IsUsed, f.IsExpired, f.Verified, f.UpdatesSubmitted, f.EmailSent,
		t.CreatedAt, t.ExpiresAt,
	).Scan(&t.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert verification token: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) findOne(ctx context.Context, query string, args ...any) (*models.Token, error) {
	t, err := scanToken(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find verification token: %w", err)
	}
	return t, nil
}

// FindByValue looks a token up by its secret value.
func (s *PostgresStore) FindByValue(ctx context.Context, value string) (*models.Token, error) {
	return s.findOne(ctx, `SELECT `+tokenColumns+` FROM census_verification_tokens WHERE token = $1`, value)
}

// FindByValueForUpdate row-locks the token for the surrounding transaction.
func (s *PostgresStore) FindByValueForUpdate(ctx context.Context, value string) (*models.Token, error) {
	return s.findOne(ctx, `SELECT `+tokenColumns+` FROM census_verification_tokens WHERE token = $1 FOR UPDATE`, value)
}

// MarkVerified moves a live token to verified, setting all four verification
// flags together. It returns sentinel.ErrAlreadyUsed when the token was no
// longer live.
func (s *PostgresStore) MarkVerified(ctx context.Context, tokenID id.TokenID, at time.Time) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE census_verification_tokens
		SET verified = true, is_used = true, updates_submitted = true, verified_at = $2
		WHERE id = $1 AND NOT verified AND NOT is_expired
	`, tokenID, at)
	if err != nil {
		return fmt.Errorf("mark token verified: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark token verified: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

// ClaimUnsent stamps email_claimed_at on up to limit live, unsent tokens with
// an address and returns them. Rows claimed by another sender within lease
// are skipped, as are rows locked by a concurrent claim.
func (s *PostgresStore) ClaimUnsent(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]*models.Token, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		UPDATE census_verification_tokens
		SET email_claimed_at = $1
		WHERE id IN (
			SELECT id FROM census_verification_tokens
			WHERE NOT email_sent AND NOT verified AND NOT is_expired AND expires_at > $1
			  AND COALESCE(email_address, '') <> ''
			  AND (email_claimed_at IS NULL OR email_claimed_at <= $2)
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+tokenColumns, now, now.Add(-lease), limit)
	if err != nil {
		return nil, fmt.Errorf("claim unsent tokens: %w", err)
	}
	return scanTokens(rows)
}

// ReleaseClaim clears the send claim on a token that is still unsent so the
// next run can retry it.
func (s *PostgresStore) ReleaseClaim(ctx context.Context, tokenID id.TokenID) error {
	_, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE census_verification_tokens
		SET email_claimed_at = NULL
		WHERE id = $1 AND NOT email_sent
	`, tokenID)
	if err != nil {
		return fmt.Errorf("release send claim: %w", err)
	}
	return nil
}

// MarkSent stamps the initial email. It reports false when another sender
// already marked the token.
func (s *PostgresStore) MarkSent(ctx context.Context, tokenID id.TokenID, at time.Time) (bool, error) {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `
		UPDATE census_verification_tokens
		SET email_sent = true, email_sent_at = $2
		WHERE id = $1 AND NOT email_sent
	`, tokenID, at)
	if err != nil {
		return false, fmt.Errorf("mark token sent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark token sent: %w", err)
	}
	return n == 1, nil
}

// ClaimReminders atomically selects up to limit reminder-eligible tokens,
// increments their reminder_count and stamps last_reminder_at. The cap is
// part of the predicate, so concurrent sweeps can never exceed it.
func (s *PostgresStore) ClaimReminders(ctx context.Context, now time.Time, maxReminders, limit int) ([]*models.Token, error) {
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, `
		UPDATE census_verification_tokens
		SET reminder_count = reminder_count + 1, last_reminder_at = $1
		WHERE id IN (
			SELECT id FROM census_verification_tokens
			WHERE email_sent AND NOT verified AND NOT is_expired
			  AND expires_at > $1
			  AND reminder_count < $2
			  AND COALESCE(email_address, '') <> ''
			ORDER BY COALESCE(last_reminder_at, email_sent_at), id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+tokenColumns, now, maxReminders, limit)
	if err != nil {
		return nil, fmt.Errorf("claim reminders: %w", err)
	}
	return scanTokens(rows)
}

// Stats counts the campaign in one statement. Expired covers unverified
// tokens that are flagged or past expiry at now.
func (s *PostgresStore) Stats(ctx context.Context, now time.Time) (models.Stats, error) {
	var st models.Stats
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE email_sent),
		       COUNT(*) FILTER (WHERE verified),
		       COUNT(*) FILTER (WHERE NOT verified AND (is_expired OR expires_at <= $1))
		FROM census_verification_tokens
	`, now).Scan(&st.TotalTokens, &st.EmailsSent, &st.Verified, &st.Expired)
	if err != nil {
		return models.Stats{}, fmt.Errorf("count verification tokens: %w", err)
	}
	st.Pending = st.TotalTokens - st.Verified - st.Expired
	return st, nil
}

// List returns one page of tokens with their census context, newest first.
func (s *PostgresStore) List(ctx context.Context, f models.ListFilter) ([]models.ListItem, int, error) {
	var (
		conds []string
		args  []any
	)
	if f.Verified != nil {
		args = append(args, *f.Verified)
		conds = append(conds, fmt.Sprintf("t.verified = $%d", len(args)))
	}
	if f.Entity != "" {
		args = append(args, f.Entity)
		conds = append(conds, fmt.Sprintf("r.entity = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}
	from := ` FROM census_verification_tokens t LEFT JOIN census_records r ON r.id = t.census_record_id`
	exec := txcontext.Exec(ctx, s.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*)`+from+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count verification tokens: %w", err)
	}

	page := max(f.Page, 1)
	args = append(args, f.PageSize, (page-1)*f.PageSize)
	query := `SELECT ` + qualifiedTokenColumns + `, COALESCE(r.full_name, ''), COALESCE(r.staff_id, ''), COALESCE(r.entity, '')` +
		from + where + fmt.Sprintf(" ORDER BY t.created_at DESC, t.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list verification tokens: %w", err)
	}
	defer rows.Close()

	var out []models.ListItem
	for rows.Next() {
		var item models.ListItem
		tok, err := scanToken(listScanner{rows: rows, extra: []any{&item.EmployeeName, &item.StaffID, &item.Entity}})
		if err != nil {
			return nil, 0, fmt.Errorf("scan verification token: %w", err)
		}
		item.Token = tok
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate verification tokens: %w", err)
	}
	return out, total, nil
}

// listScanner appends join columns to a token scan.
type listScanner struct {
	rows  *sql.Rows
	extra []any
}

func (l listScanner) Scan(dest ...any) error {
	return l.rows.Scan(append(dest, l.extra...)...)
}
