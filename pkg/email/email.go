// Package email derives display details from delivery addresses.
package email

import (
	"strings"
	"unicode"
)

// GreetingName guesses a first name from the local part of address, e.g.
// "amina.khan@example.com" gives "Amina". It returns "" when the local part
// holds no letters.
func GreetingName(address string) string {
	local := strings.TrimSpace(address)
	if at := strings.IndexByte(local, '@'); at >= 0 {
		local = local[:at]
	}
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-' || r == '+'
	})
	for _, p := range parts {
		if strings.IndexFunc(p, unicode.IsLetter) >= 0 {
			return capitalize(strings.TrimFunc(p, unicode.IsDigit))
		}
	}
	return ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(strings.ToLower(s))
	runes[0] = unicode.ToUpper(runes[0])
	return string(runes)
}
