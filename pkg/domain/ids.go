// Package domain holds typed identifiers shared across bounded contexts.
//
// Census records, employees and verification tokens are all keyed by database
// sequences. Distinct types stop a token id from being passed where a record
// id is expected.
package domain

import (
	"strconv"
	"strings"

	dErrors "hrportal/pkg/domain-errors"
)

type (
	CensusRecordID int64
	EmployeeID     int64
	TokenID        int64
)

func (id CensusRecordID) String() string { return strconv.FormatInt(int64(id), 10) }
func (id EmployeeID) String() string     { return strconv.FormatInt(int64(id), 10) }
func (id TokenID) String() string        { return strconv.FormatInt(int64(id), 10) }

func (id CensusRecordID) IsZero() bool { return id == 0 }
func (id EmployeeID) IsZero() bool     { return id == 0 }
func (id TokenID) IsZero() bool        { return id == 0 }

// ParseCensusRecordID parses a positive record id from a path or query value.
func ParseCensusRecordID(s string) (CensusRecordID, error) {
	n, err := parsePositive(s, "census record id")
	return CensusRecordID(n), err
}

// ParseEmployeeID parses a positive employee id.
func ParseEmployeeID(s string) (EmployeeID, error) {
	n, err := parsePositive(s, "employee id")
	return EmployeeID(n), err
}

// ParseTokenID parses a positive token id.
func ParseTokenID(s string) (TokenID, error) {
	n, err := parsePositive(s, "token id")
	return TokenID(n), err
}

// maxIDLength bounds input before parsing; int64 has at most 19 digits.
const maxIDLength = 19

func parsePositive(s, label string) (int64, error) {
	if s == "" || len(s) > maxIDLength || strings.TrimSpace(s) != s {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	return n, nil
}
