package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEffectiveState(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	sent := now.Add(-time.Hour)

	tests := []struct {
		name  string
		token Token
		want  State
	}{
		{"issued before expiry", Token{State: StateIssued, ExpiresAt: now.Add(time.Minute)}, StateIssued},
		{"sent before expiry", Token{State: StateSent, ExpiresAt: now.Add(time.Minute), EmailSentAt: &sent}, StateSent},
		{"expiry instant is expired", Token{State: StateIssued, ExpiresAt: now}, StateExpired},
		{"lapsed sent token", Token{State: StateSent, ExpiresAt: now.Add(-time.Second)}, StateExpired},
		{"verified stays verified after expiry", Token{State: StateVerified, ExpiresAt: now.Add(-time.Hour)}, StateVerified},
		{"flagged expired before expires_at", Token{State: StateExpired, ExpiresAt: now.Add(time.Hour)}, StateExpired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.EffectiveState(now))
		})
	}
}

func TestFlagsProjection(t *testing.T) {
	sent := time.Now()
	v := (&Token{State: StateVerified, EmailSentAt: &sent}).Flags()
	assert.Equal(t, Flags{IsUsed: true, Verified: true, UpdatesSubmitted: true, EmailSent: true}, v)

	e := (&Token{State: StateExpired}).Flags()
	assert.Equal(t, Flags{IsExpired: true}, e)

	for _, s := range []State{StateIssued, StateSent, StateVerified, StateExpired} {
		tok := Token{State: s}
		if s == StateSent {
			tok.EmailSentAt = &sent
		}
		f := tok.Flags()
		assert.Equal(t, s, StateFromFlags(f.Verified, f.IsExpired, f.EmailSent))
	}
}

func TestCloneIsDeep(t *testing.T) {
	ts := time.Now()
	orig := &Token{EmailSentAt: &ts}
	c := orig.Clone()
	*c.EmailSentAt = ts.Add(time.Hour)
	assert.Equal(t, ts, *orig.EmailSentAt)
}
