// Package models holds rate limit classes, keys and results.
package models

import (
	"time"
)

// EndpointClass groups endpoints that share one budget per client.
type EndpointClass string

const (
	// ClassVerificationToken covers the public validate, data and submit routes.
	ClassVerificationToken EndpointClass = "verification_token"
	// ClassLogin covers employee date-of-birth login.
	ClassLogin EndpointClass = "login"
)

// IsValid checks if the endpoint class is one of the supported enum values.
func (c EndpointClass) IsValid() bool {
	switch c {
	case ClassVerificationToken, ClassLogin:
		return true
	}
	return false
}

// Limit is a request budget per window.
type Limit struct {
	RequestsPerWindow int
	Window            time.Duration
}

// Result is the outcome of a rate limit check.
type Result struct {
	Allowed    bool      `json:"allowed"`
	Limit      int       `json:"limit"`
	Remaining  int       `json:"remaining"`
	ResetAt    time.Time `json:"reset_at"`
	RetryAfter int       `json:"retry_after,omitempty"` // seconds, only set when not allowed
}
