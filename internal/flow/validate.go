package flow

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// Global field-shape rules applied by input kind, in addition to any per-step
// Validate predicate. These mirror the clinic's patient record requirements:
// names are at least two characters, phone numbers are 10-15 digits, emails
// must be well-formed.
const (
	minNameLength  = 2
	minPhoneDigits = 10
	maxPhoneDigits = 15
)

var validate = validator.New()

// validName accepts names of at least minNameLength visible characters.
func validName(value string) bool {
	return len(strings.TrimSpace(value)) >= minNameLength
}

// validPhone accepts inputs whose digit count is within the accepted range.
// Separators and a leading + are tolerated; only digits are counted.
func validPhone(value string) bool {
	digits := 0
	for _, r := range value {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	return digits >= minPhoneDigits && digits <= maxPhoneDigits
}

// validEmail accepts well-formed email addresses.
func validEmail(value string) bool {
	return validate.Var(strings.TrimSpace(value), "email") == nil
}

// shapeError holds the re-prompt text for each global rule.
const (
	nameShapeError  = "Please enter your name (at least 2 characters)"
	phoneShapeError = "Please enter a valid phone number (10-15 digits)"
	emailShapeError = "Please enter a valid email address"
)

// checkShape applies the global field-shape rule implied by a step's input
// kind. It returns ok plus the error text to re-prompt with on failure.
func checkShape(kind InputKind, field, value string) (bool, string) {
	switch kind {
	case InputPhone:
		if !validPhone(value) {
			return false, phoneShapeError
		}
	case InputEmail:
		// Email is optional at the collection step; a blank reply is accepted.
		if strings.TrimSpace(value) != "" && !validEmail(value) {
			return false, emailShapeError
		}
	case InputText:
		if field == FieldName && !validName(value) {
			return false, nameShapeError
		}
	}
	return true, ""
}
