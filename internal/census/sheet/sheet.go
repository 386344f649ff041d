// Package sheet reads and writes census spreadsheets. Column headers come from
// the census field table; either the label ("Passport No") or the field name
// ("passport_number") is accepted on import.
package sheet

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"hrportal/internal/census/models"
)

const sheetName = "Census"

// derived columns appended on export and ignored on import
var derivedHeaders = []string{"DHA/DOH Valid", "Completeness %", "Missing Fields", "Amended Fields"}

// RowError reports a rejected spreadsheet row. Row is 1-based as shown in the
// spreadsheet application.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// Write renders records as an xlsx workbook.
func Write(w io.Writer, records []*models.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("delete default sheet: %w", err)
	}

	fields := models.Fields()
	header := make([]any, 0, len(fields)+len(derivedHeaders))
	for _, fld := range fields {
		header = append(header, fld.Label)
	}
	for _, h := range derivedHeaders {
		header = append(header, h)
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#D9E1F2"}, Pattern: 1},
	})
	if err != nil {
		return fmt.Errorf("create header style: %w", err)
	}
	last, err := excelize.CoordinatesToCellName(len(header), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
		return fmt.Errorf("style header: %w", err)
	}

	for i, rec := range records {
		row := make([]any, 0, len(header))
		for _, fld := range fields {
			row = append(row, fld.Get(rec))
		}
		row = append(row,
			yesNo(rec.DHADOHValid),
			rec.CompletenessPct,
			strings.Join(rec.MissingFields, ", "),
			strings.Join(rec.AmendedFields, ", "),
		)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("freeze header: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

// Read parses the first sheet of an xlsx workbook. Rows that fail validation
// are reported and skipped; blank rows are ignored. The returned records have
// completeness recomputed.
func Read(r io.Reader) ([]*models.Record, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	name := f.GetSheetName(0)
	if name == "" {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("workbook is empty")
	}

	columns, err := mapHeader(rows[0])
	if err != nil {
		return nil, nil, err
	}

	var (
		records []*models.Record
		rowErrs []RowError
	)
	for i, row := range rows[1:] {
		rowNum := i + 2
		updates := make(map[string]*string, len(columns))
		blank := true
		for col, fld := range columns {
			if col >= len(row) {
				continue
			}
			v := strings.TrimSpace(row[col])
			if v != "" {
				blank = false
			}
			updates[fld.Name] = &v
		}
		if blank {
			continue
		}

		rec := &models.Record{}
		rec.Edit(updates)
		if models.IsMissing(rec.StaffID) {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Message: "staff_id is required"})
			continue
		}
		if rec.Relation == "" {
			rec.Relation = models.RelationEmployee
		}
		if !rec.Relation.Valid() {
			rowErrs = append(rowErrs, RowError{Row: rowNum, Message: fmt.Sprintf("invalid relation %q", rec.Relation)})
			continue
		}
		rec.RecomputeCompleteness()
		records = append(records, rec)
	}
	return records, rowErrs, nil
}

func mapHeader(header []string) (map[int]models.Field, error) {
	byKey := make(map[string]models.Field)
	for _, fld := range models.Fields() {
		byKey[strings.ToLower(fld.Label)] = fld
		byKey[fld.Name] = fld
	}

	columns := make(map[int]models.Field)
	seen := make(map[string]bool)
	for i, h := range header {
		fld, ok := byKey[strings.ToLower(strings.TrimSpace(h))]
		if !ok || seen[fld.Name] {
			continue
		}
		seen[fld.Name] = true
		columns[i] = fld
	}
	if !seen["staff_id"] {
		return nil, fmt.Errorf("missing required column %q", "Staff ID")
	}
	return columns, nil
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}
