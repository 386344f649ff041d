package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"hrportal/internal/census/models"
	id "hrportal/pkg/domain"
	"hrportal/pkg/platform/sentinel"
	txcontext "hrportal/pkg/platform/tx"
)

// PostgresStore persists census records in PostgreSQL.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithPostgresClock sets the clock used for updated_at stamps.
func WithPostgresClock(clock func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewPostgres constructs a PostgreSQL-backed census store.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const recordColumns = `
	id, staff_id, employee_id, relation, entity, insurance_type,
	full_name, first_name, second_name, family_name, dob, gender, nationality,
	marital_status, emirates_id_number, uid_number, gdrfa_file_number,
	passport_number, mobile_no, personal_email,
	missing_fields, dha_doh_missing_fields, dha_doh_valid, completeness_pct,
	amended_fields, updated_by, updated_at, import_batch_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		r          models.Record
		staffID    sql.NullString
		employeeID sql.NullInt64
		relation   string
	)
	err := row.Scan(
		&r.ID, &staffID, &employeeID, &relation, &r.Entity, &r.InsuranceType,
		&r.FullName, &r.FirstName, &r.SecondName, &r.FamilyName, &r.DOB, &r.Gender, &r.Nationality,
		&r.MaritalStatus, &r.EmiratesIDNumber, &r.UIDNumber, &r.GDRFAFileNumber,
		&r.PassportNumber, &r.MobileNo, &r.PersonalEmail,
		pq.Array(&r.MissingFields), pq.Array(&r.DHADOHMissingFields), &r.DHADOHValid, &r.CompletenessPct,
		pq.Array(&r.AmendedFields), &r.UpdatedBy, &r.UpdatedAt, &r.ImportBatchID,
	)
	if err != nil {
		return nil, err
	}
	r.StaffID = staffID.String
	r.EmployeeID = id.EmployeeID(employeeID.Int64)
	r.Relation = models.Relation(relation)
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullEmployee(e id.EmployeeID) sql.NullInt64 {
	return sql.NullInt64{Int64: int64(e), Valid: !e.IsZero()}
}

func (s *PostgresStore) getOne(ctx context.Context, query string, args ...any) (*models.Record, error) {
	rec, err := scanRecord(txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find census record: %w", err)
	}
	return rec, nil
}

// FindByID returns the record with the given id.
func (s *PostgresStore) FindByID(ctx context.Context, recordID id.CensusRecordID) (*models.Record, error) {
	return s.getOne(ctx, `SELECT `+recordColumns+` FROM census_records WHERE id = $1`, recordID)
}

// FindByIDForUpdate row-locks the record for the surrounding transaction.
func (s *PostgresStore) FindByIDForUpdate(ctx context.Context, recordID id.CensusRecordID) (*models.Record, error) {
	return s.getOne(ctx, `SELECT `+recordColumns+` FROM census_records WHERE id = $1 FOR UPDATE`, recordID)
}

// FindEmployeeRecord returns the employee-relation record for a staff id.
func (s *PostgresStore) FindEmployeeRecord(ctx context.Context, staffID string) (*models.Record, error) {
	return s.getOne(ctx, `
		SELECT `+recordColumns+` FROM census_records
		WHERE staff_id = $1 AND relation = 'employee'
		ORDER BY id
		LIMIT 1`, staffID)
}

// Update writes every field and derived column of rec.
func (s *PostgresStore) Update(ctx context.Context, rec *models.Record) error {
	rec.UpdatedAt = s.clock()
	query := `
		UPDATE census_records SET
			staff_id = $2, employee_id = $3, relation = $4, entity = $5, insurance_type = $6,
			full_name = $7, first_name = $8, second_name = $9, family_name = $10, dob = $11,
			gender = $12, nationality = $13, marital_status = $14, emirates_id_number = $15,
			uid_number = $16, gdrfa_file_number = $17, passport_number = $18, mobile_no = $19,
			personal_email = $20, missing_fields = $21, dha_doh_missing_fields = $22,
			dha_doh_valid = $23, completeness_pct = $24, amended_fields = $25,
			updated_by = $26, updated_at = $27
		WHERE id = $1
	`
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, query,
		rec.ID, nullString(rec.StaffID), nullEmployee(rec.EmployeeID), string(rec.Relation), rec.Entity, rec.InsuranceType,
		rec.FullName, rec.FirstName, rec.SecondName, rec.FamilyName, rec.DOB,
		rec.Gender, rec.Nationality, rec.MaritalStatus, rec.EmiratesIDNumber,
		rec.UIDNumber, rec.GDRFAFileNumber, rec.PassportNumber, rec.MobileNo,
		rec.PersonalEmail, pq.Array(nonNil(rec.MissingFields)), pq.Array(nonNil(rec.DHADOHMissingFields)),
		rec.DHADOHValid, rec.CompletenessPct, pq.Array(nonNil(rec.AmendedFields)),
		rec.UpdatedBy, rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update census record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update census record: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// Insert adds rec and assigns its id. Staff ids resolve to employees by a
// lookup at insert time.
func (s *PostgresStore) Insert(ctx context.Context, rec *models.Record) error {
	rec.UpdatedAt = s.clock()
	query := `
		INSERT INTO census_records (
			staff_id, employee_id, relation, entity, insurance_type,
			full_name, first_name, second_name, family_name, dob, gender, nationality,
			marital_status, emirates_id_number, uid_number, gdrfa_file_number,
			passport_number, mobile_no, personal_email,
			missing_fields, dha_doh_missing_fields, dha_doh_valid, completeness_pct,
			amended_fields, updated_by, updated_at, import_batch_id
		)
		VALUES (
			$1, COALESCE($2, (SELECT id FROM employees WHERE staff_id = $1)), $3, $4, $5,
			$6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
			$20, $21, $22, $23, $24, $25, $26, $27
		)
		RETURNING id, employee_id
	`
	var employeeID sql.NullInt64
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query,
		nullString(rec.StaffID), nullEmployee(rec.EmployeeID), string(rec.Relation), rec.Entity, rec.InsuranceType,
		rec.FullName, rec.FirstName, rec.SecondName, rec.FamilyName, rec.DOB, rec.Gender, rec.Nationality,
		rec.MaritalStatus, rec.EmiratesIDNumber, rec.UIDNumber, rec.GDRFAFileNumber,
		rec.PassportNumber, rec.MobileNo, rec.PersonalEmail,
		pq.Array(nonNil(rec.MissingFields)), pq.Array(nonNil(rec.DHADOHMissingFields)), rec.DHADOHValid, rec.CompletenessPct,
		pq.Array(nonNil(rec.AmendedFields)), rec.UpdatedBy, rec.UpdatedAt, rec.ImportBatchID,
	).Scan(&rec.ID, &employeeID)
	if err != nil {
		return fmt.Errorf("insert census record: %w", err)
	}
	rec.EmployeeID = id.EmployeeID(employeeID.Int64)
	return nil
}

// Delete removes a record. Its verification tokens go with it.
func (s *PostgresStore) Delete(ctx context.Context, recordID id.CensusRecordID) error {
	res, err := txcontext.Exec(ctx, s.db).ExecContext(ctx, `DELETE FROM census_records WHERE id = $1`, recordID)
	if err != nil {
		return fmt.Errorf("delete census record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// filterClause renders f as a WHERE clause; alias qualifies column names.
func filterClause(f models.Filter, alias string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.Entity != "" {
		add(alias+"entity = $%d", f.Entity)
	}
	if f.InsuranceType != "" {
		add(alias+"insurance_type = $%d", f.InsuranceType)
	}
	if f.Relation != "" {
		add(alias+"relation = $%d", string(f.Relation))
	}
	if f.MissingOnly {
		conds = append(conds, alias+"dha_doh_valid = false")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// List returns one page of records matching f and the total match count.
func (s *PostgresStore) List(ctx context.Context, f models.Filter) ([]*models.Record, int, error) {
	where, args := filterClause(f, "")
	exec := txcontext.Exec(ctx, s.db)

	var total int
	if err := exec.QueryRowContext(ctx, `SELECT COUNT(*) FROM census_records`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count census records: %w", err)
	}

	query := `SELECT ` + recordColumns + ` FROM census_records` + where + ` ORDER BY id`
	if f.PageSize > 0 {
		page := max(f.Page, 1)
		args = append(args, f.PageSize, (page-1)*f.PageSize)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := exec.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list census records: %w", err)
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan census record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate census records: %w", err)
	}
	return out, total, nil
}

// IssuanceCandidates returns employee records matching f, each with its
// delivery email: the linked employee's email, else the personal email.
func (s *PostgresStore) IssuanceCandidates(ctx context.Context, f models.Filter) ([]models.IssuanceCandidate, error) {
	f.Relation = models.RelationEmployee
	where, args := filterClause(f, "r.")
	query := `
		SELECT r.id, COALESCE(r.employee_id, 0),
		       COALESCE(NULLIF(e.email, ''), NULLIF(r.personal_email, ''), '')
		FROM census_records r
		LEFT JOIN employees e ON e.id = r.employee_id` + where + `
		ORDER BY r.id`
	rows, err := txcontext.Exec(ctx, s.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list issuance candidates: %w", err)
	}
	defer rows.Close()

	var out []models.IssuanceCandidate
	for rows.Next() {
		var c models.IssuanceCandidate
		if err := rows.Scan(&c.RecordID, &c.EmployeeID, &c.Email); err != nil {
			return nil, fmt.Errorf("scan issuance candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issuance candidates: %w", err)
	}
	return out, nil
}

// Summary aggregates counts for the census dashboard.
func (s *PostgresStore) Summary(ctx context.Context) (models.Summary, error) {
	exec := txcontext.Exec(ctx, s.db)
	sum := models.Summary{ByEntity: map[string]int{}, ByInsuranceType: map[string]int{}}

	err := exec.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE employee_id IS NOT NULL),
		       COUNT(*) FILTER (WHERE dha_doh_valid),
		       COALESCE(AVG(completeness_pct), 0)
		FROM census_records`).Scan(&sum.Total, &sum.LinkedToEmployee, &sum.DHADOHValid, &sum.AverageCompleteness)
	if err != nil {
		return models.Summary{}, fmt.Errorf("summarise census: %w", err)
	}

	groups := []struct {
		column string
		into   map[string]int
	}{
		{"entity", sum.ByEntity},
		{"insurance_type", sum.ByInsuranceType},
	}
	for _, g := range groups {
		rows, err := exec.QueryContext(ctx, `SELECT `+g.column+`, COUNT(*) FROM census_records GROUP BY 1`)
		if err != nil {
			return models.Summary{}, fmt.Errorf("group census by %s: %w", g.column, err)
		}
		for rows.Next() {
			var key string
			var n int
			if err := rows.Scan(&key, &n); err != nil {
				rows.Close()
				return models.Summary{}, fmt.Errorf("scan census group: %w", err)
			}
			g.into[key] = n
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return models.Summary{}, fmt.Errorf("iterate census group: %w", err)
		}
	}
	return sum, nil
}

// UpsertEmployee inserts or refreshes an employee master row by staff id.
func (s *PostgresStore) UpsertEmployee(ctx context.Context, e *models.Employee) error {
	query := `
		INSERT INTO employees (staff_id, full_name, email, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (staff_id) DO UPDATE SET
			full_name = EXCLUDED.full_name,
			email = EXCLUDED.email
		RETURNING id, created_at
	`
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock()
	}
	if err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx, query, e.StaffID, e.FullName, e.Email, e.CreatedAt).
		Scan(&e.ID, &e.CreatedAt); err != nil {
		return fmt.Errorf("upsert employee: %w", err)
	}
	return nil
}

// FindEmployee returns the employee master row by id.
func (s *PostgresStore) FindEmployee(ctx context.Context, employeeID id.EmployeeID) (*models.Employee, error) {
	var e models.Employee
	err := txcontext.Exec(ctx, s.db).QueryRowContext(ctx,
		`SELECT id, staff_id, full_name, email, created_at FROM employees WHERE id = $1`, employeeID).
		Scan(&e.ID, &e.StaffID, &e.FullName, &e.Email, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find employee: %w", err)
	}
	return &e, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
