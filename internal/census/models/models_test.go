package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(s string) *string { return &s }

func completeRecord() *Record {
	return &Record{
		StaffID:          "E100",
		Relation:         RelationEmployee,
		FullName:         "Aisha Khan",
		DOB:              "1990-04-12",
		Gender:           "Female",
		Nationality:      "Indian",
		EmiratesIDNumber: "784-1990-1234567-1",
		UIDNumber:        "12345",
		GDRFAFileNumber:  "201/2020/123456",
		PassportNumber:   "Z1234567",
	}
}

func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", "   ", "null", "NULL", "None", "n/a", "N/A", "na", "NaN", "-", "--"} {
		assert.True(t, IsMissing(v), "%q should be missing", v)
	}
	for _, v := range []string{"0", "x", "---", "Nancy"} {
		assert.False(t, IsMissing(v), "%q should be present", v)
	}
}

func TestRecomputeCompleteness(t *testing.T) {
	t.Run("complete record is valid", func(t *testing.T) {
		r := completeRecord()
		r.RecomputeCompleteness()
		assert.True(t, r.DHADOHValid)
		assert.Empty(t, r.DHADOHMissingFields)
		assert.Empty(t, r.MissingFields)
		assert.Equal(t, 100, r.CompletenessPct)
	})

	t.Run("sentinel values count as missing", func(t *testing.T) {
		r := completeRecord()
		r.PassportNumber = "N/A"
		r.UIDNumber = " "
		r.RecomputeCompleteness()
		assert.False(t, r.DHADOHValid)
		assert.Equal(t, []string{"uid_number", "passport_number"}, r.DHADOHMissingFields)
		assert.Equal(t, []string{"uid_number", "passport_number"}, r.MissingFields)
		assert.Equal(t, 80, r.CompletenessPct)
	})

	t.Run("validity always matches missing list", func(t *testing.T) {
		r := completeRecord()
		r.DHADOHValid = false
		r.DHADOHMissingFields = []string{"stale"}
		r.RecomputeCompleteness()
		assert.Equal(t, len(r.DHADOHMissingFields) == 0, r.DHADOHValid)
	})

	t.Run("empty record", func(t *testing.T) {
		r := &Record{}
		r.RecomputeCompleteness()
		assert.Equal(t, 0, r.CompletenessPct)
		assert.Len(t, r.DHADOHMissingFields, 7)
	})
}

func TestApplyUpdates(t *testing.T) {
	t.Run("tracks changed trackable fields only", func(t *testing.T) {
		r := completeRecord()
		amended := r.ApplyUpdates(map[string]*string{
			"passport_number": ptr("Z7654321"),
			"uid_number":      ptr("99999"),
			"gender":          ptr("Female"),
			"mobile_no":       nil,
		})
		assert.Equal(t, []string{"passport_number"}, amended)
		assert.Equal(t, []string{"passport_number"}, r.AmendedFields)
		assert.Equal(t, "99999", r.UIDNumber)
	})

	t.Run("accumulates without duplicates", func(t *testing.T) {
		r := completeRecord()
		r.AmendedFields = []string{"dob"}
		r.ApplyUpdates(map[string]*string{"passport_number": ptr("A1"), "dob": ptr("1991-01-01")})
		assert.Equal(t, []string{"dob", "passport_number"}, r.AmendedFields)
	})

	t.Run("filling a missing field recomputes validity", func(t *testing.T) {
		r := completeRecord()
		r.PassportNumber = ""
		r.RecomputeCompleteness()
		require.False(t, r.DHADOHValid)

		r.ApplyUpdates(map[string]*string{"passport_number": ptr("Z1234567")})
		assert.True(t, r.DHADOHValid)
		assert.Empty(t, r.DHADOHMissingFields)
	})
}

func TestEditLeavesAmendmentsAlone(t *testing.T) {
	r := completeRecord()
	r.AmendedFields = []string{"dob"}
	r.PassportNumber = ""
	r.RecomputeCompleteness()

	changed := r.Edit(map[string]*string{
		"passport_number": ptr("Z1234567"),
		"entity":          ptr("Group Holdings"),
		"gender":          ptr("Female"),
	})
	assert.Equal(t, []string{"entity", "passport_number"}, changed)
	assert.Equal(t, []string{"dob"}, r.AmendedFields)
	assert.True(t, r.DHADOHValid)
}

func TestFieldTable(t *testing.T) {
	assert.Equal(t,
		[]string{"dob", "gender", "nationality", "emirates_id_number", "uid_number", "gdrfa_file_number", "passport_number"},
		FieldNames(func(f Field) bool { return f.DHADOHRequired }))

	f, ok := LookupField("passport_number")
	require.True(t, ok)
	assert.True(t, f.Trackable)
	assert.True(t, f.SelfService)

	f, ok = LookupField("staff_id")
	require.True(t, ok)
	assert.False(t, f.SelfService)

	_, ok = LookupField("salary")
	assert.False(t, ok)
}

func TestNormalizeDOB(t *testing.T) {
	tests := map[string]string{
		"1990-04-12": "12041990",
		"12/04/1990": "12041990",
		"12-04-1990": "12041990",
		"12041990":   "12041990",
		"12-Apr-1990": "12041990",
	}
	for in, want := range tests {
		got, ok := NormalizeDOB(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	_, ok := NormalizeDOB("N/A")
	assert.False(t, ok)
	_, ok = NormalizeDOB("31/31/1990")
	assert.False(t, ok)
}
