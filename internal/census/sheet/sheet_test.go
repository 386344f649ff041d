package sheet

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"hrportal/internal/census/models"
)

func workbook(t *testing.T, rows [][]any) *bytes.Buffer {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)
	return &buf
}

func TestReadAcceptsLabelsAndNames(t *testing.T) {
	buf := workbook(t, [][]any{
		{"Staff ID", "relation", "Full Name", "Passport No", "Unknown Column"},
		{"E100", "Employee", "Aisha Khan", "Z1234567", "ignored"},
		{"E100", "spouse", "Omar Khan", "N/A", ""},
	})

	records, rowErrs, err := Read(buf)
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, records, 2)

	assert.Equal(t, "E100", records[0].StaffID)
	assert.Equal(t, models.RelationEmployee, records[0].Relation)
	assert.Equal(t, "Z1234567", records[0].PassportNumber)
	assert.Equal(t, models.RelationSpouse, records[1].Relation)
	assert.Contains(t, records[1].DHADOHMissingFields, "passport_number")
	assert.False(t, records[1].DHADOHValid)
}

func TestReadReportsBadRows(t *testing.T) {
	buf := workbook(t, [][]any{
		{"Staff ID", "Relation", "Full Name"},
		{"", "employee", "No Staff Id"},
		{"", "", ""},
		{"E200", "cousin", "Bad Relation"},
		{"E300", "", "Defaults To Employee"},
	})

	records, rowErrs, err := Read(buf)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, models.RelationEmployee, records[0].Relation)
	assert.Equal(t, []RowError{
		{Row: 2, Message: "staff_id is required"},
		{Row: 4, Message: `invalid relation "cousin"`},
	}, rowErrs)
}

func TestReadRequiresStaffIDColumn(t *testing.T) {
	buf := workbook(t, [][]any{{"Full Name"}, {"Aisha"}})
	_, _, err := Read(buf)
	assert.ErrorContains(t, err, "Staff ID")
}

func TestWriteThenReadKeepsFieldValues(t *testing.T) {
	rec := &models.Record{
		StaffID:        "E100",
		Relation:       models.RelationEmployee,
		Entity:         "Group Holdings",
		FullName:       "Aisha Khan",
		PassportNumber: "Z1234567",
		AmendedFields:  []string{"passport_number"},
	}
	rec.RecomputeCompleteness()

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, []*models.Record{rec}))

	f, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, "Census", f.GetSheetName(0))
	rows, err := f.GetRows("Census")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Staff ID", rows[0][0])
	assert.Contains(t, rows[0], "Amended Fields")
	assert.Contains(t, rows[1], "passport_number")

	records, rowErrs, err := Read(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Empty(t, rowErrs)
	require.Len(t, records, 1)
	assert.Equal(t, "Group Holdings", records[0].Entity)
	assert.Equal(t, "Z1234567", records[0].PassportNumber)
	assert.Empty(t, records[0].AmendedFields)
}
