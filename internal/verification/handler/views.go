package handler

import (
	"time"

	"hrportal/internal/verification/service"
)

// tokenResponse keeps the legacy boolean columns so existing HR tooling can
// read the listing unchanged.
type tokenResponse struct {
	ID             int64      `json:"id"`
	Token          string     `json:"token"`
	CensusRecordID int64      `json:"census_record_id"`
	EmployeeID     *int64     `json:"employee_id"`
	State          string     `json:"state"`
	IsUsed         bool       `json:"is_used"`
	IsExpired      bool       `json:"is_expired"`
	EmailSent      bool       `json:"email_sent"`
	EmailSentAt    *time.Time `json:"email_sent_at"`
	EmailAddress   *string    `json:"email_address"`
	Verified       bool       `json:"verified"`
	VerifiedAt     *time.Time `json:"verified_at"`
	UpdatesSubmit  bool       `json:"updates_submitted"`
	ReminderCount  int        `json:"reminder_count"`
	LastReminderAt *time.Time `json:"last_reminder_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	CreatedAt      time.Time  `json:"created_at"`
	CreatedBy      string     `json:"created_by"`
	EmployeeName   *string    `json:"employee_name"`
	StaffID        *string    `json:"staff_id"`
	Entity         *string    `json:"entity"`
}

type tokenListResponse struct {
	Tokens   []tokenResponse `json:"tokens"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// toTokenListResponse renders a page. State is evaluated at the request
// clock, so a lapsed token reads as expired before any sweep flags it.
func toTokenListResponse(page *service.TokenPage) tokenListResponse {
	out := tokenListResponse{
		Tokens:   make([]tokenResponse, 0, len(page.Items)),
		Total:    page.Total,
		Page:     page.Page,
		PageSize: page.PageSize,
	}
	for _, item := range page.Items {
		t := item.Token
		state := t.EffectiveState(page.Now)
		flags := t.Flags()
		resp := tokenResponse{
			ID:             int64(t.ID),
			Token:          t.Value,
			CensusRecordID: int64(t.CensusRecordID),
			State:          string(state),
			IsUsed:         flags.IsUsed,
			IsExpired:      flags.IsExpired || t.IsExpired(page.Now),
			EmailSent:      flags.EmailSent,
			EmailSentAt:    t.EmailSentAt,
			EmailAddress:   optional(t.Email),
			Verified:       flags.Verified,
			VerifiedAt:     t.VerifiedAt,
			UpdatesSubmit:  flags.UpdatesSubmitted,
			ReminderCount:  t.ReminderCount,
			LastReminderAt: t.LastReminderAt,
			ExpiresAt:      t.ExpiresAt,
			CreatedAt:      t.CreatedAt,
			CreatedBy:      t.CreatedBy,
			EmployeeName:   optional(item.EmployeeName),
			StaffID:        optional(item.StaffID),
			Entity:         optional(item.Entity),
		}
		if !t.EmployeeID.IsZero() {
			v := int64(t.EmployeeID)
			resp.EmployeeID = &v
		}
		out.Tokens = append(out.Tokens, resp)
	}
	return out
}
