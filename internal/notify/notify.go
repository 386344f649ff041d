// Package notify delivers verification links to employees.
package notify

import (
	"context"
	"time"

	id "hrportal/pkg/domain"
)

// Kind distinguishes the first email from follow-ups.
type Kind string

const (
	KindVerification Kind = "verification"
	KindReminder     Kind = "reminder"
)

// Message is one delivery request. VerificationURL embeds the bearer token
// and must never be logged.
type Message struct {
	Kind            Kind
	To              string
	EmployeeName    string
	VerificationURL string
	ExpiresAt       time.Time
	ReminderNumber  int
	TokenID         id.TokenID
	RecordID        id.CensusRecordID
}

// Notifier sends a message. A nil error means the provider accepted it.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}
