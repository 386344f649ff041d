package models

import (
	"time"

	id "hrportal/pkg/domain"
)

// Stats summarises the campaign. Pending is derived as
// TotalTokens - Verified - Expired.
type Stats struct {
	TotalTokens int `json:"total_tokens"`
	EmailsSent  int `json:"emails_sent"`
	Verified    int `json:"verified"`
	Pending     int `json:"pending"`
	Expired     int `json:"expired"`
}

// ListFilter narrows the HR token listing.
type ListFilter struct {
	Verified *bool
	Entity   string
	Page     int
	PageSize int
}

// ListItem is one row of the HR token listing.
type ListItem struct {
	Token        *Token
	EmployeeName string
	StaffID      string
	Entity       string
}

// IssueRequest selects records for token issuance.
type IssueRequest struct {
	Entity            string
	InsuranceType     string
	MissingFieldsOnly bool
	ExpiresInDays     int
	CreatedBy         string
}

// IssueResult reports a completed issuance.
type IssueResult struct {
	TokensCreated int
	// URLFormat is "<base>/verify-census/{token}".
	URLFormat string
}

// ValidationResult is the public answer to a token check.
type ValidationResult struct {
	Valid           bool   `json:"valid"`
	Message         string `json:"message"`
	AlreadyVerified bool   `json:"already_verified,omitempty"`
}

// VerificationData is the record view shown to the employee.
type VerificationData struct {
	Token         string `json:"token"`
	EmployeeName  string `json:"employee_name"`
	StaffID       string `json:"staff_id"`
	Entity        string `json:"entity"`
	InsuranceType string `json:"insurance_type"`

	FullName         string `json:"full_name"`
	FirstName        string `json:"first_name"`
	SecondName       string `json:"second_name"`
	FamilyName       string `json:"family_name"`
	DOB              string `json:"dob"`
	Gender           string `json:"gender"`
	Nationality      string `json:"nationality"`
	MaritalStatus    string `json:"marital_status"`
	EmiratesIDNumber string `json:"emirates_id_number"`
	UIDNumber        string `json:"uid_number"`
	GDRFAFileNumber  string `json:"gdrfa_file_number"`
	PassportNumber   string `json:"passport_number"`
	MobileNo         string `json:"mobile_no"`
	PersonalEmail    string `json:"personal_email"`

	DHADOHMissingFields []string `json:"dha_doh_missing_fields"`
	MissingFields       []string `json:"missing_fields"`
	AlreadyVerified     bool     `json:"already_verified"`
}

// Submission is an employee's confirmation with optional corrections.
// Absent (nil) updates leave the stored value untouched.
type Submission struct {
	Updates   map[string]*string
	Confirmed bool
}

// SubmitResult reports a committed submission.
type SubmitResult struct {
	TokenID       id.TokenID
	RecordID      id.CensusRecordID
	AmendedFields []string
	DHADOHValid   bool
	VerifiedAt    time.Time
}

// DispatchResult counts a send-emails or send-reminders run.
type DispatchResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
}
