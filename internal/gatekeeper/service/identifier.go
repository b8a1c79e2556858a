package service

import (
	"strings"
)

// NormalizeIdentifier canonicalizes a contact identifier.  Anything with
// an '@' is treated as an email and lowercased.  Everything else is a
// phone number reduced to its digits, keeping a leading '+'.  An input
// that normalizes to nothing returns "".
func NormalizeIdentifier(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	if strings.Contains(s, "@") {
		return strings.ToLower(s)
	}

	var b strings.Builder
	if strings.HasPrefix(s, "+") {
		b.WriteByte('+')
	}
	digits := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
			digits++
		}
	}
	if digits == 0 {
		return ""
	}
	return b.String()
}
