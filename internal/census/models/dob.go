package models

import (
	"strings"
	"time"
)

var dobLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"02012006",
	"2006/01/02",
	"02-Jan-2006",
	"2 Jan 2006",
	time.RFC3339,
}

// NormalizeDOB renders a stored or submitted date of birth as DDMMYYYY.
// Census data arrives in several layouts; the second result is false when
// none of them match.
func NormalizeDOB(v string) (string, bool) {
	t := strings.TrimSpace(v)
	if IsMissing(t) {
		return "", false
	}
	for _, layout := range dobLayouts {
		if parsed, err := time.Parse(layout, t); err == nil {
			return parsed.Format("02012006"), true
		}
	}
	return "", false
}
