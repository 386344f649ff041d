package models

import "strings"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so an identifier containing ':' cannot address a neighbouring bucket.
// IPv6 addresses are the common case.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// NewIPKey builds the bucket key for a client IP within a class.
func NewIPKey(class EndpointClass, ip string) string {
	return "rl:" + string(class) + ":ip:" + SanitizeKeySegment(ip)
}
