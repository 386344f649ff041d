package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hrportal/internal/verification/models"
	"hrportal/pkg/platform/sentinel"
)

var tokenColumnNames = []string{
	"id", "token", "census_record_id", "employee_id", "email_address", "created_by",
	"verified", "is_expired", "email_sent", "created_at", "expires_at",
	"email_sent_at", "verified_at", "last_reminder_at", "reminder_count",
}

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func tokenRow(id int64, verified, expired bool, sentAt any) []driver.Value {
	return []driver.Value{
		id, "tok", int64(7), int64(3), "a@example.com", "hr-1",
		verified, expired, sentAt != nil, t0, t0.Add(14 * 24 * time.Hour),
		sentAt, nil, nil, int64(0),
	}
}

func newMock(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(db), mock
}

func TestCreateIfNoActive(t *testing.T) {
	t.Run("returns the new id", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectQuery("INSERT INTO census_verification_tokens").
			WithArgs("tok", int64(7), sqlmock.AnyArg(), sqlmock.AnyArg(), "hr-1",
				false, false, false, false, false, t0, t0.Add(time.Hour)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

		tok := &models.Token{Value: "tok", CensusRecordID: 7, CreatedBy: "hr-1", State: models.StateIssued, CreatedAt: t0, ExpiresAt: t0.Add(time.Hour)}
		ok, err := store.CreateIfNoActive(context.Background(), tok)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.EqualValues(t, 11, tok.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflict on the active index writes nothing", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectQuery("ON CONFLICT \\(census_record_id\\) WHERE NOT verified AND NOT is_expired DO NOTHING").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		ok, err := store.CreateIfNoActive(context.Background(), &models.Token{Value: "tok", CensusRecordID: 7})
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestFindByValue(t *testing.T) {
	t.Run("projects flags onto state", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectQuery("SELECT .* FROM census_verification_tokens WHERE token = \\$1").
			WithArgs("tok").
			WillReturnRows(sqlmock.NewRows(tokenColumnNames).AddRow(tokenRow(1, false, false, t0)...))

		tok, err := store.FindByValue(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, models.StateSent, tok.State)
		assert.Equal(t, "a@example.com", tok.Email)
		require.NotNil(t, tok.EmailSentAt)
	})

	t.Run("missing row maps to not found", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectQuery("FOR UPDATE").WithArgs("nope").WillReturnRows(sqlmock.NewRows(tokenColumnNames))

		_, err := store.FindByValueForUpdate(context.Background(), "nope")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}

func TestMarkVerified(t *testing.T) {
	t.Run("sets the verification flags together", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectExec("SET verified = true, is_used = true, updates_submitted = true").
			WithArgs(int64(1), t0).
			WillReturnResult(sqlmock.NewResult(0, 1))
		require.NoError(t, store.MarkVerified(context.Background(), 1, t0))
	})

	t.Run("no live row means already used", func(t *testing.T) {
		store, mock := newMock(t)
		mock.ExpectExec("WHERE id = \\$1 AND NOT verified AND NOT is_expired").
			WillReturnResult(sqlmock.NewResult(0, 0))
		assert.ErrorIs(t, store.MarkVerified(context.Background(), 1, t0), sentinel.ErrAlreadyUsed)
	})
}

func TestMarkSentIsGuarded(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("WHERE id = \\$1 AND NOT email_sent").
		WithArgs(int64(2), t0).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := store.MarkSent(context.Background(), 2, t0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClaimUnsentSkipsLockedAndLeasedRows(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("SET email_claimed_at = \\$1(.|\n)*email_claimed_at <= \\$2(.|\n)*FOR UPDATE SKIP LOCKED").
		WithArgs(t0, t0.Add(-10*time.Minute), 25).
		WillReturnRows(sqlmock.NewRows(tokenColumnNames).AddRow(tokenRow(5, false, false, nil)...))

	tokens, err := store.ClaimUnsent(context.Background(), t0, 10*time.Minute, 25)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Nil(t, tokens[0].EmailSentAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaseClaimLeavesSentRows(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("SET email_claimed_at = NULL(.|\n)*WHERE id = \\$1 AND NOT email_sent").
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.ReleaseClaim(context.Background(), 5))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimRemindersCapsInQuery(t *testing.T) {
	store, mock := newMock(t)
	row := tokenRow(4, false, false, t0)
	row[14] = int64(2)
	mock.ExpectQuery("reminder_count < \\$2(.|\n)*FOR UPDATE SKIP LOCKED").
		WithArgs(t0, 3, 50).
		WillReturnRows(sqlmock.NewRows(tokenColumnNames).AddRow(row...))

	tokens, err := store.ClaimReminders(context.Background(), t0, 3, 50)
	require.NoError(t, err)
	require.Len(t, tokens, 1)
	assert.Equal(t, 2, tokens[0].ReminderCount)
}

func TestStatsDerivesPending(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\)").
		WithArgs(t0).
		WillReturnRows(sqlmock.NewRows([]string{"total", "sent", "verified", "expired"}).AddRow(10, 8, 3, 2))

	st, err := store.Stats(context.Background(), t0)
	require.NoError(t, err)
	assert.Equal(t, models.Stats{TotalTokens: 10, EmailsSent: 8, Verified: 3, Pending: 5, Expired: 2}, st)
}

func TestExpireLapsedPropagatesErrors(t *testing.T) {
	store, mock := newMock(t)
	mock.ExpectExec("SET is_expired = true").WithArgs(t0).WillReturnError(errors.New("connection reset"))

	_, err := store.ExpireLapsed(context.Background(), t0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expire lapsed tokens")
}

func TestListJoinsRecordContext(t *testing.T) {
	store, mock := newMock(t)
	verified := false
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM census_verification_tokens t LEFT JOIN census_records r").
		WithArgs(false, "ACME").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	cols := append(append([]string{}, tokenColumnNames...), "full_name", "staff_id", "entity")
	mock.ExpectQuery("ORDER BY t.created_at DESC, t.id DESC LIMIT \\$3 OFFSET \\$4").
		WithArgs(false, "ACME", 50, 0).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(append(tokenRow(1, false, false, nil), "Amina", "S100", "ACME")...))

	items, total, err := store.List(context.Background(), models.ListFilter{Verified: &verified, Entity: "ACME", Page: 1, PageSize: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, "S100", items[0].StaffID)
	assert.Equal(t, models.StateIssued, items[0].Token.State)
}
