package notify

import (
	"bytes"
	"fmt"
	"text/template"
	"time"
)

var bodyTemplate = template.Must(template.New("body").Parse(`Dear {{.Name}},

{{if .Reminder}}This is reminder {{.ReminderNumber}}: we still need you to verify your insurance details.{{else}}We are preparing for the upcoming medical insurance renewal and need you to verify your details.{{end}}

Verify your information here:
{{.URL}}

What you need to do:
1. Open the link above
2. Review your current information
3. Fill in any missing details
4. Confirm your information is correct

Important fields: Emirates ID number, passport number, visa file number (GDRFA), UID number, date of birth, nationality, gender.

This link expires on {{.Expires}}.

If you have any questions, please contact HR.

HR Department
`))

// Rendered is a message ready for a mail provider.
type Rendered struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Render builds subject and body for msg.
func Render(msg Message) (Rendered, error) {
	name := msg.EmployeeName
	if name == "" {
		name = "Employee"
	}
	subject := "Action Required: Verify Your Insurance Details"
	if msg.Kind == KindReminder {
		subject = "Reminder: " + subject
	}

	var buf bytes.Buffer
	err := bodyTemplate.Execute(&buf, struct {
		Name           string
		Reminder       bool
		ReminderNumber int
		URL            string
		Expires        string
	}{
		Name:           name,
		Reminder:       msg.Kind == KindReminder,
		ReminderNumber: msg.ReminderNumber,
		URL:            msg.VerificationURL,
		Expires:        msg.ExpiresAt.UTC().Format(time.DateOnly),
	})
	if err != nil {
		return Rendered{}, fmt.Errorf("render email: %w", err)
	}
	return Rendered{To: msg.To, Subject: subject, Body: buf.String()}, nil
}
