// Package models holds verification tokens and the views built from them.
package models

import (
	"time"

	id "hrportal/pkg/domain"
)

// State is the lifecycle position of a verification token.
//
//	issued -> sent -> verified
//	   \        \
//	    `-------`-> expired
//
// Verified and Expired are terminal.
type State string

const (
	StateIssued   State = "issued"
	StateSent     State = "sent"
	StateVerified State = "verified"
	StateExpired  State = "expired"
)

// Token is a single-use, expiring link credential for one census record.
type Token struct {
	ID             id.TokenID
	Value          string
	CensusRecordID id.CensusRecordID
	EmployeeID     id.EmployeeID
	Email          string
	CreatedBy      string

	State          State
	CreatedAt      time.Time
	ExpiresAt      time.Time
	EmailSentAt    *time.Time
	VerifiedAt     *time.Time
	LastReminderAt *time.Time
	ReminderCount  int
}

// EffectiveState folds the clock into the stored state: a non-terminal token
// whose expiry has passed is expired even if no sweep has flagged it.
func (t *Token) EffectiveState(now time.Time) State {
	switch t.State {
	case StateVerified, StateExpired:
		return t.State
	}
	if !now.Before(t.ExpiresAt) {
		return StateExpired
	}
	return t.State
}

// IsExpired reports whether the token can no longer be used at now.
func (t *Token) IsExpired(now time.Time) bool {
	return t.EffectiveState(now) == StateExpired
}

// IsVerified reports whether the employee already submitted.
func (t *Token) IsVerified() bool {
	return t.State == StateVerified
}

// IsActive reports whether the token still blocks a new issuance.
func (t *Token) IsActive(now time.Time) bool {
	s := t.EffectiveState(now)
	return s == StateIssued || s == StateSent
}

// EmailSent reports whether the initial email went out.
func (t *Token) EmailSent() bool {
	return t.EmailSentAt != nil
}

// Flags is the persisted boolean projection of a token's state.
type Flags struct {
	IsUsed           bool
	IsExpired        bool
	Verified         bool
	UpdatesSubmitted bool
	EmailSent        bool
}

// Flags projects State and EmailSentAt onto the stored booleans. The four
// verification booleans always move together.
func (t *Token) Flags() Flags {
	verified := t.State == StateVerified
	return Flags{
		IsUsed:           verified,
		IsExpired:        t.State == StateExpired,
		Verified:         verified,
		UpdatesSubmitted: verified,
		EmailSent:        t.EmailSentAt != nil,
	}
}

// StateFromFlags rebuilds State from stored booleans.
func StateFromFlags(verified, expired, emailSent bool) State {
	switch {
	case verified:
		return StateVerified
	case expired:
		return StateExpired
	case emailSent:
		return StateSent
	default:
		return StateIssued
	}
}

// Clone returns a copy that shares no pointers with t.
func (t *Token) Clone() *Token {
	if t == nil {
		return nil
	}
	c := *t
	c.EmailSentAt = clonePtr(t.EmailSentAt)
	c.VerifiedAt = clonePtr(t.VerifiedAt)
	c.LastReminderAt = clonePtr(t.LastReminderAt)
	return &c
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
