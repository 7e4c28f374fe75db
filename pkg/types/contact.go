package types

import (
	"strings"

	"github.com/ttacon/libphonenumber"
)

// PhoneRegion is the default region for numbers supplied without a
// country code.
var PhoneRegion = "US"

// Contact is the customer contact snapshot captured at checkout time.
// It is stored on the order itself and never re-read from a customer
// record, so later profile edits cannot alter historical orders.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// NormalizedEmail lowercases and trims the email for identity matching.
func (c Contact) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(c.Email))
}

// NormalizedPhone canonicalizes the phone for identity matching.
func (c Contact) NormalizedPhone() string {
	return NormalizePhone(c.Phone)
}

// NormalizePhone canonicalizes a phone number to E.164 so the same
// subscriber matches whether or not the caller typed a country code.
// Numbers that do not parse fall back to a digit strip.
func NormalizePhone(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	parsed, err := libphonenumber.Parse(trimmed, PhoneRegion)
	if err == nil && libphonenumber.IsPossibleNumber(parsed) {
		return libphonenumber.Format(parsed, libphonenumber.E164)
	}
	var b strings.Builder
	for i, r := range trimmed {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
