package util

import (
	"html"
	"strings"
)

var suspiciousFragments = []string{"<", ">", "$", "{", "}", "script", "onerror", "onload"}

// SanitizeInput trims and HTML-escapes free text.
func SanitizeInput(s string) string {
	return html.EscapeString(strings.TrimSpace(s))
}

// ContainsSuspicious reports markup or template fragments that never occur in
// a legitimate employer email.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, frag := range suspiciousFragments {
		if strings.Contains(lower, frag) {
			return true
		}
	}
	return false
}

// NormalizeEmail canonicalises an employer email for use in cache keys.
// It returns false when the value cannot be an email at all.
func NormalizeEmail(raw string) (string, bool) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" || len(email) > 254 || ContainsSuspicious(email) {
		return "", false
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || at == len(email)-1 || strings.ContainsAny(email, " \t\r\n*?[]") {
		return "", false
	}
	return email, true
}
