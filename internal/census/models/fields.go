package models

import (
	"slices"
	"strings"
)

// Field describes one census column. Completeness, amendment tracking,
// self-service submission and spreadsheet import/export all read this table.
type Field struct {
	Name  string
	Label string
	// Trackable changes are recorded in AmendedFields.
	Trackable bool
	// DHADOHRequired fields gate regulator validity.
	DHADOHRequired bool
	// Mandatory fields count toward completeness.
	Mandatory bool
	// SelfService fields may be changed through a verification token.
	SelfService bool

	get func(*Record) string
	set func(*Record, string)
}

// Get reads the field from r.
func (f Field) Get(r *Record) string { return f.get(r) }

// Set writes v into r.
func (f Field) Set(r *Record, v string) { f.set(r, v) }

var fields = []Field{
	{Name: "staff_id", Label: "Staff ID", Mandatory: true,
		get: func(r *Record) string { return r.StaffID }, set: func(r *Record, v string) { r.StaffID = v }},
	{Name: "relation", Label: "Relation", Mandatory: true,
		get: func(r *Record) string { return string(r.Relation) }, set: func(r *Record, v string) { r.Relation = Relation(strings.ToLower(v)) }},
	{Name: "entity", Label: "Entity",
		get: func(r *Record) string { return r.Entity }, set: func(r *Record, v string) { r.Entity = v }},
	{Name: "insurance_type", Label: "Insurance Type",
		get: func(r *Record) string { return r.InsuranceType }, set: func(r *Record, v string) { r.InsuranceType = v }},
	{Name: "full_name", Label: "Full Name", Trackable: true, Mandatory: true, SelfService: true,
		get: func(r *Record) string { return r.FullName }, set: func(r *Record, v string) { r.FullName = v }},
	{Name: "first_name", Label: "First Name", Trackable: true, SelfService: true,
		get: func(r *Record) string { return r.FirstName }, set: func(r *Record, v string) { r.FirstName = v }},
	{Name: "second_name", Label: "Second Name", Trackable: true, SelfService: true,
		get: func(r *Record) string { return r.SecondName }, set: func(r *Record, v string) { r.SecondName = v }},
	{Name: "family_name", Label: "Family Name", Trackable: true, SelfService: true,
		get: func(r *Record) string { return r.FamilyName }, set: func(r *Record, v string) { r.FamilyName = v }},
	{Name: "dob", Label: "DOB", Trackable: true, DHADOHRequired: true, Mandatory: true, SelfService: true,
		get: func(r *Record) string { return r.DOB }, set: func(r *Record, v string) { r.DOB = v }},
	{Name: "gender", Label: "Gender", Trackable: true, DHADOHRequired: true, Mandatory: true, SelfService: true,
		get: func(r *Record) string { return r.Gender }, set: func(r *Record, v string) { r.Gender = v }},
	{Name: "nationality", Label: "Nationality", Trackable: true, DHADOHRequired: true, Mandatory: true, SelfService: true,
		get: func(r *Record) string { return r.Nationality }, set: func(r *Record, v string) { r.Nationality = v }},
	{Name: "marital_status", Label: "Marital Status", Trackable: true, SelfService: true,
		get: func(r *Record) string { return r.MaritalStatus }, set: func(r *Record, v string) { r.MaritalStatus = v }},
	{Name: "emirates_id_number", Label: "Emirates ID", Trackable: true, DHADOHRequired: true, Mandatory: true, SelfService: true,
		get: func(r *Record) string { return r.EmiratesIDNumber }, set: func(r *Record, v string) { r.EmiratesIDNumber = v }},
	{Name: "uid_number", Label: "UID", DHADOHRequired: true, Mandatory: true, SelfService: true,
		get: func(r *Record) string { return r.UIDNumber }, set: func(r *Record, v string) { r.UIDNumber = v }},
	{Name: "gdrfa_file_number", Label: "GDRFA/Visa File", Trackable: true, DHADOHRequired: true, Mandatory: true, SelfService: true,
		get: func(r *Record) string { return r.GDRFAFileNumber }, set: func(r *Record, v string) { r.GDRFAFileNumber = v }},
	{Name: "passport_number", Label: "Passport No", Trackable: true, DHADOHRequired: true, Mandatory: true, SelfService: true,
		get: func(r *Record) string { return r.PassportNumber }, set: func(r *Record, v string) { r.PassportNumber = v }},
	{Name: "mobile_no", Label: "Mobile No", SelfService: true,
		get: func(r *Record) string { return r.MobileNo }, set: func(r *Record, v string) { r.MobileNo = v }},
	{Name: "personal_email", Label: "Personal Email", SelfService: true,
		get: func(r *Record) string { return r.PersonalEmail }, set: func(r *Record, v string) { r.PersonalEmail = v }},
}

var fieldIndex = func() map[string]Field {
	m := make(map[string]Field, len(fields))
	for _, f := range fields {
		m[f.Name] = f
	}
	return m
}()

// Fields returns the field table in display order.
func Fields() []Field {
	return slices.Clone(fields)
}

// LookupField returns the metadata for name.
func LookupField(name string) (Field, bool) {
	f, ok := fieldIndex[name]
	return f, ok
}

// FieldNames returns names of fields matching pred, in table order.
func FieldNames(pred func(Field) bool) []string {
	var out []string
	for _, f := range fields {
		if pred(f) {
			out = append(out, f.Name)
		}
	}
	return out
}

var nullSentinels = map[string]struct{}{
	"null": {}, "none": {}, "n/a": {}, "na": {}, "nan": {}, "-": {}, "--": {},
}

// IsMissing reports whether v counts as absent: empty, whitespace, or a
// placeholder such as "N/A".
func IsMissing(v string) bool {
	t := strings.TrimSpace(v)
	if t == "" {
		return true
	}
	_, ok := nullSentinels[strings.ToLower(t)]
	return ok
}
