// Package taxid validates Russian tax identifiers (ИНН). Identifiers come in
// two length classes: 10 digits for legal entities and 12 for individual
// entrepreneurs, each with its own weighted checksum over the leading digits.
// A false accept here corrupts the one-record-per-ИНН uniqueness invariant,
// so the validator is strict: non-digits, wrong lengths, and checksum
// mismatches all fail.
package taxid

import "fmt"

// Validation failure reasons, carried by InvalidTaxIDError.
const (
	ReasonEmpty    = "empty"
	ReasonNotDigit = "non-digit character"
	ReasonLength   = "must be 10 or 12 digits"
	ReasonChecksum = "checksum mismatch"
)

// InvalidTaxIDError reports a string that is not a valid ИНН.
type InvalidTaxIDError struct {
	Input  string
	Reason string
}

func (e *InvalidTaxIDError) Error() string {
	return fmt.Sprintf("invalid tax id %q: %s", e.Input, e.Reason)
}

// Checksum coefficient vectors. The 10-digit class has one check digit; the
// 12-digit class has two, each with its own vector.
var (
	weights10   = [...]int{2, 4, 10, 3, 5, 9, 4, 6, 8}
	weights12a  = [...]int{7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
	weights12b  = [...]int{3, 7, 2, 4, 10, 3, 5, 9, 4, 6, 8}
)

// Validate checks length class and checksum(s) of an ИНН.
func Validate(inn string) error {
	if inn == "" {
		return &InvalidTaxIDError{Input: inn, Reason: ReasonEmpty}
	}
	digits := make([]int, len(inn))
	for i := 0; i < len(inn); i++ {
		c := inn[i]
		if c < '0' || c > '9' {
			return &InvalidTaxIDError{Input: inn, Reason: ReasonNotDigit}
		}
		digits[i] = int(c - '0')
	}

	switch len(digits) {
	case 10:
		if checkDigit(digits, weights10[:]) != digits[9] {
			return &InvalidTaxIDError{Input: inn, Reason: ReasonChecksum}
		}
	case 12:
		if checkDigit(digits, weights12a[:]) != digits[10] ||
			checkDigit(digits, weights12b[:]) != digits[11] {
			return &InvalidTaxIDError{Input: inn, Reason: ReasonChecksum}
		}
	default:
		return &InvalidTaxIDError{Input: inn, Reason: ReasonLength}
	}
	return nil
}

// IsValid is a convenience wrapper for predicate contexts.
func IsValid(inn string) bool {
	return Validate(inn) == nil
}

func checkDigit(digits, weights []int) int {
	sum := 0
	for i, w := range weights {
		sum += digits[i] * w
	}
	return sum % 11 % 10
}
