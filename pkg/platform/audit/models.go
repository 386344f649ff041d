package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so
// downstream consumers can route and retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers changes to employee data of regulatory
	// significance (insurance census submissions, HR edits, imports).
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers authentication failures and session minting.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine workflow activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject is the entity acted on, e.g. "census_record:42".
	Subject string
	Action  string
	// ActorID is who performed the action (an operator subject, a staff id or
	// "self_verification:token:<id>").
	ActorID   string
	Reason    string
	RequestID string
	// Details carries non-PII attributes such as amended field names.
	Details map[string]any
}

// Store persists audit events. Implementations must honour a transaction
// carried in the context so events commit atomically with the change.
type Store interface {
	Append(ctx context.Context, event Event) error
}

type AuditEvent string

const (
	// Verification workflow
	EventTokensIssued        AuditEvent = "verification_tokens_issued"
	EventCensusVerified      AuditEvent = "census_verified"
	EventVerificationEmailed AuditEvent = "verification_email_sent"
	EventReminderSent        AuditEvent = "verification_reminder_sent"

	// Census maintenance
	EventCensusRecordUpdated AuditEvent = "census_record_updated"
	EventCensusImported      AuditEvent = "census_imported"
	EventCensusRecordDeleted AuditEvent = "census_record_deleted"

	// Sessions
	EventEmployeeLogin       AuditEvent = "employee_login"
	EventEmployeeLoginFailed AuditEvent = "employee_login_failed"
	EventOperatorSession     AuditEvent = "operator_session_created"
	EventRateLimitExceeded   AuditEvent = "rate_limit_exceeded"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCensusVerified:      CategoryCompliance,
	EventCensusRecordUpdated: CategoryCompliance,
	EventCensusImported:      CategoryCompliance,
	EventCensusRecordDeleted: CategoryCompliance,

	EventEmployeeLoginFailed: CategorySecurity,
	EventOperatorSession:     CategorySecurity,
	EventRateLimitExceeded:   CategorySecurity,

	EventTokensIssued:        CategoryOperations,
	EventVerificationEmailed: CategoryOperations,
	EventReminderSent:        CategoryOperations,
	EventEmployeeLogin:       CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
