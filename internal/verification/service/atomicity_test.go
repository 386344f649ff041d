package service

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	censusstore "hrportal/internal/census/store"
	"hrportal/internal/verification/models"
	"hrportal/internal/verification/service/mocks"
	tokenstore "hrportal/internal/verification/store"
	dErrors "hrportal/pkg/domain-errors"
	auditpostgres "hrportal/pkg/platform/audit/store/postgres"
	"hrportal/pkg/platform/tx"
	"hrportal/pkg/requestcontext"
)

var (
	atomicNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	tokenCols = []string{
		"id", "token", "census_record_id", "employee_id", "email_address", "created_by",
		"verified", "is_expired", "email_sent", "created_at", "expires_at",
		"email_sent_at", "verified_at", "last_reminder_at", "reminder_count",
	}
	recordCols = []string{
		"id", "staff_id", "employee_id", "relation", "entity", "insurance_type",
		"full_name", "first_name", "second_name", "family_name", "dob", "gender", "nationality",
		"marital_status", "emirates_id_number", "uid_number", "gdrfa_file_number",
		"passport_number", "mobile_no", "personal_email",
		"missing_fields", "dha_doh_missing_fields", "dha_doh_valid", "completeness_pct",
		"amended_fields", "updated_by", "updated_at", "import_batch_id",
	}
)

func liveTokenRow() []driver.Value {
	return []driver.Value{
		int64(5), "tok", int64(9), nil, "a@example.com", "hr-1",
		false, false, true, atomicNow.Add(-time.Hour), atomicNow.Add(24 * time.Hour),
		atomicNow.Add(-time.Hour), nil, nil, int64(0),
	}
}

func recordRow() []driver.Value {
	return []driver.Value{
		int64(9), "S100", nil, "employee", "ACME", "enhanced",
		"Amina", "", "", "", "15061990", "F", "UAE",
		"", "784-1980-0000000-1", "1234", "201/2020/1234",
		"", "", "",
		"{}", "{passport_number}", false, 90,
		"{}", "import", atomicNow.Add(-48 * time.Hour), "",
	}
}

func newSQLService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctrl := gomock.NewController(t)
	svc := New(
		tokenstore.NewPostgres(db),
		censusstore.NewPostgres(db),
		tx.NewPostgresRunner(db),
		auditpostgres.New(db),
		mocks.NewMockNotifier(ctrl),
	)
	return svc, mock
}

func expectSubmitPrefix(mock sqlmock.Sqlmock) {
	mock.ExpectBegin()
	mock.ExpectQuery("FROM census_verification_tokens WHERE token = \\$1 FOR UPDATE").
		WithArgs("tok").
		WillReturnRows(sqlmock.NewRows(tokenCols).AddRow(liveTokenRow()...))
	mock.ExpectQuery("FROM census_records WHERE id = \\$1 FOR UPDATE").
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow(recordRow()...))
	mock.ExpectExec("UPDATE census_records SET").WillReturnResult(sqlmock.NewResult(0, 1))
}

func submission() models.Submission {
	passport := "N1234567"
	return models.Submission{Confirmed: true, Updates: map[string]*string{"passport_number": &passport}}
}

func TestSubmitCommitsRecordTokenAndOutboxTogether(t *testing.T) {
	svc, mock := newSQLService(t)
	expectSubmitPrefix(mock)
	mock.ExpectExec("SET verified = true").WithArgs(int64(5), atomicNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO outbox").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	res, err := svc.Submit(requestcontext.WithTime(context.Background(), atomicNow), "tok", submission())
	require.NoError(t, err)
	assert.Equal(t, []string{"passport_number"}, res.AmendedFields)
	assert.True(t, res.DHADOHValid)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitRollsBackOnInjectedFaults(t *testing.T) {
	tests := []struct {
		name   string
		expect func(mock sqlmock.Sqlmock)
		code   dErrors.Code
	}{
		{
			name: "outbox insert fails after token transition",
			expect: func(mock sqlmock.Sqlmock) {
				expectSubmitPrefix(mock)
				mock.ExpectExec("SET verified = true").WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec("INSERT INTO outbox").WillReturnError(errors.New("disk full"))
				mock.ExpectRollback()
			},
			code: dErrors.CodeInternal,
		},
		{
			name: "token transition fails after record update",
			expect: func(mock sqlmock.Sqlmock) {
				expectSubmitPrefix(mock)
				mock.ExpectExec("SET verified = true").WillReturnError(errors.New("connection reset"))
				mock.ExpectRollback()
			},
			code: dErrors.CodeInternal,
		},
		{
			name: "guarded transition loses the race",
			expect: func(mock sqlmock.Sqlmock) {
				expectSubmitPrefix(mock)
				mock.ExpectExec("SET verified = true").WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			code: dErrors.CodeAlreadyVerified,
		},
		{
			name: "record update fails",
			expect: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(tokenCols).AddRow(liveTokenRow()...))
				mock.ExpectQuery("FOR UPDATE").WillReturnRows(sqlmock.NewRows(recordCols).AddRow(recordRow()...))
				mock.ExpectExec("UPDATE census_records SET").WillReturnError(errors.New("deadlock detected"))
				mock.ExpectRollback()
			},
			code: dErrors.CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, mock := newSQLService(t)
			tt.expect(mock)

			_, err := svc.Submit(requestcontext.WithTime(context.Background(), atomicNow), "tok", submission())
			assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestGenerateTokensRollsBackWhenAuditFails(t *testing.T) {
	svc, mock := newSQLService(t)
	mock.ExpectBegin()
	mock.ExpectExec("SET is_expired = true").WithArgs(atomicNow).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("FROM census_records r").
		WillReturnRows(sqlmock.NewRows([]string{"id", "employee_id", "email"}).AddRow(int64(9), int64(0), "a@example.com"))
	mock.ExpectQuery("INSERT INTO census_verification_tokens").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec("INSERT INTO outbox").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := svc.GenerateTokens(requestcontext.WithTime(context.Background(), atomicNow),
		models.IssueRequest{MissingFieldsOnly: true, CreatedBy: "hr-1"}, "https://portal.example.com")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInternal))
	assert.NoError(t, mock.ExpectationsWereMet())
}
