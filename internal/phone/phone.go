// Package phone canonicalizes raw phone input into E.164 form. The normalized
// string is the identity used for request matching, throttling, and chat
// links, so every caller must normalize before touching storage.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/chatverify/chatverify/internal/domain"
)

// Normalize strips formatting from a raw phone number, validates it against
// international numbering rules, and returns the canonical E.164 string
// ("+" followed by country code and subscriber number, no separators).
// Invalid input returns domain.ErrInvalidPhoneNumber.
func Normalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", domain.ErrInvalidPhoneNumber
	}

	// Some sources (contact sharing in particular) omit the plus sign.
	cleaned := "+" + b.String()

	num, err := phonenumbers.Parse(cleaned, "")
	if err != nil {
		return "", domain.ErrInvalidPhoneNumber
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", domain.ErrInvalidPhoneNumber
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
