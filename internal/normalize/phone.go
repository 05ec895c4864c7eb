// Package normalize canonicalizes scraped contact fields: Russian phone
// numbers, emails pulled out of page text, and company names.
package normalize

import (
	"fmt"
	"strings"
)

// Phone canonicalization reasons, carried by InvalidPhoneError.
const (
	ReasonLength       = "wrong length"
	ReasonLeadingDigit = "bad leading digit"
	ReasonAreaCode     = "bad area code"
)

// InvalidPhoneError reports a string that cannot be a Russian phone number.
type InvalidPhoneError struct {
	Input  string
	Reason string
}

func (e *InvalidPhoneError) Error() string {
	return fmt.Sprintf("invalid phone %q: %s", e.Input, e.Reason)
}

// Phone parses an arbitrary string containing a Russian phone number and
// returns the canonical form +7XXXXXXXXXX. Accepted inputs are any
// punctuation/spacing variant of an 11-digit number starting with 7 or 8
// (+7 (846) 123-45-67, 8 846 123 45 67, 88461234567, ...). The second digit
// must be in 3-9, the Russian regional code range. The operation is pure and
// idempotent: normalizing canonical output returns it unchanged.
func Phone(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) != 11 {
		return "", &InvalidPhoneError{Input: raw, Reason: ReasonLength}
	}
	switch digits[0] {
	case '8':
		digits = "7" + digits[1:]
	case '7':
	default:
		return "", &InvalidPhoneError{Input: raw, Reason: ReasonLeadingDigit}
	}
	if digits[1] < '3' || digits[1] > '9' {
		return "", &InvalidPhoneError{Input: raw, Reason: ReasonAreaCode}
	}
	return "+" + digits, nil
}

// Phones normalizes a batch, deduplicating canonical values and collecting
// one error per rejected input.
func Phones(raw []string) ([]string, []error) {
	var (
		out  []string
		errs []error
		seen = make(map[string]struct{}, len(raw))
	)
	for _, r := range raw {
		p, err := Phone(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out, errs
}
