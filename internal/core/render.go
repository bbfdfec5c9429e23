package core

import (
	"errors"
	"fmt"
	"strings"
)

// ErrValidation rejects a recipient before any message record is created.
var ErrValidation = errors.New("validation")

// PersonalizationToken is replaced with the recipient's name when the
// campaign has personalization enabled.
const PersonalizationToken = "{nome}"

// NormalizePhone strips everything but digits before the number is handed
// to the channel.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RenderTemplate personalizes a campaign template for one recipient. The
// token is only substituted when personalization is on and the recipient
// has a non-empty name; otherwise it stays literal.
func RenderTemplate(template, recipientName string, personalize bool) string {
	if !personalize || recipientName == "" {
		return template
	}
	return strings.ReplaceAll(template, PersonalizationToken, recipientName)
}

// ValidPhone reports whether raw looks dialable: phone punctuation only
// and at least ten digits.
func ValidPhone(raw string) bool {
	digits := 0
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '+' || r == '-' || r == '(' || r == ')' || r == ' ':
		default:
			return false
		}
	}
	return digits >= 10
}

// ValidateRecipient checks the fields required to enqueue a message.
func ValidateRecipient(phone, text string) error {
	if NormalizePhone(phone) == "" {
		return fmt.Errorf("%w: missing phone", ErrValidation)
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: missing message text", ErrValidation)
	}
	return nil
}
