// Package models holds the insurance census record and its field metadata.
package models

import (
	"time"

	id "hrportal/pkg/domain"
)

// Relation of an insured person to the employee.
type Relation string

const (
	RelationEmployee Relation = "employee"
	RelationSpouse   Relation = "spouse"
	RelationChild    Relation = "child"
)

func (r Relation) Valid() bool {
	switch r {
	case RelationEmployee, RelationSpouse, RelationChild:
		return true
	}
	return false
}

// Record is one insured person's census row. The derived fields
// (MissingFields, DHADOHMissingFields, DHADOHValid, CompletenessPct) are only
// ever written by RecomputeCompleteness.
type Record struct {
	ID            id.CensusRecordID
	StaffID       string
	EmployeeID    id.EmployeeID // zero when not linked
	Relation      Relation
	Entity        string
	InsuranceType string

	FullName         string
	FirstName        string
	SecondName       string
	FamilyName       string
	DOB              string
	Gender           string
	Nationality      string
	MaritalStatus    string
	EmiratesIDNumber string
	UIDNumber        string
	GDRFAFileNumber  string
	PassportNumber   string
	MobileNo         string
	PersonalEmail    string

	MissingFields       []string
	DHADOHMissingFields []string
	DHADOHValid         bool
	CompletenessPct     int
	AmendedFields       []string

	UpdatedBy     string
	UpdatedAt     time.Time
	ImportBatchID string
}

// Clone returns a deep copy so stores never share slices with callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.MissingFields = append([]string(nil), r.MissingFields...)
	c.DHADOHMissingFields = append([]string(nil), r.DHADOHMissingFields...)
	c.AmendedFields = append([]string(nil), r.AmendedFields...)
	return &c
}

// Employee is the HR master row used for delivery email lookup.
type Employee struct {
	ID        id.EmployeeID
	StaffID   string
	FullName  string
	Email     string
	CreatedAt time.Time
}

// IssuanceCandidate is an employee census row eligible for a verification
// token, with its resolved delivery address.
type IssuanceCandidate struct {
	RecordID   id.CensusRecordID
	EmployeeID id.EmployeeID
	Email      string
}

// Filter narrows census listings.
type Filter struct {
	Entity        string
	InsuranceType string
	Relation      Relation
	// MissingOnly keeps records whose DHA/DOH data is incomplete.
	MissingOnly bool
	Page        int
	PageSize    int
}

// Summary aggregates the census for the dashboard.
type Summary struct {
	Total               int            `json:"total"`
	LinkedToEmployee    int            `json:"linked_to_employee"`
	DHADOHValid         int            `json:"dha_doh_valid"`
	ByEntity            map[string]int `json:"by_entity"`
	ByInsuranceType     map[string]int `json:"by_insurance_type"`
	AverageCompleteness float64        `json:"average_completeness"`
}
