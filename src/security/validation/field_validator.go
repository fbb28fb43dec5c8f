package validation

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/utils"
	"github.com/shopspring/decimal"
)

var ErrValidationFailed = fmt.Errorf("validation failed")

const (
	DefaultMaxStringLength = 255
	MaxTickerLength        = 10
	MaxBrokerLength        = 100
	MaxNotesLength         = 1024
	MaxIssueSummaryLength  = 200
	MaxDescriptionLength   = 5000
	MinPasswordLength      = 8
	MaxUsernameLength      = 50
	MaxPriceDecimals       = 2
)

var (
	tickerRegex   = regexp.MustCompile(`^[A-Z]+$`)
	usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// ValidateStringNotEmpty checks if a string is not empty after trimming.
func ValidateStringNotEmpty(s, fieldName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s is required", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidateStringMaxLength counts runes, not bytes.
func ValidateStringMaxLength(s string, maxLength int, fieldName string) error {
	if utf8.RuneCountInString(s) > maxLength {
		return fmt.Errorf("%w: %s exceeds maximum length of %d characters", ErrValidationFailed, fieldName, maxLength)
	}
	return nil
}

func ValidateStringRegex(s string, pattern *regexp.Regexp, fieldName, formatDescription string) error {
	if !pattern.MatchString(s) {
		return fmt.Errorf("%w: %s ('%s') is not in the expected format (%s)", ErrValidationFailed, fieldName, s, formatDescription)
	}
	return nil
}

// ValidateTicker expects an already upper-cased symbol.
func ValidateTicker(s string) error {
	if err := ValidateStringNotEmpty(s, "stock ticker"); err != nil {
		return err
	}
	if err := ValidateStringMaxLength(s, MaxTickerLength, "stock ticker"); err != nil {
		return err
	}
	return ValidateStringRegex(s, tickerRegex, "stock ticker", "letters only")
}

func ValidateOptionType(s string) error {
	if s != models.OptionTypeCall && s != models.OptionTypePut {
		return fmt.Errorf("%w: type must be %s or %s", ErrValidationFailed, models.OptionTypeCall, models.OptionTypePut)
	}
	return nil
}

// ValidateDate checks for a real calendar date in YYYY-MM-DD form.
func ValidateDate(s, fieldName string) error {
	if err := ValidateStringNotEmpty(s, fieldName); err != nil {
		return err
	}
	t, err := utils.ParseDate(s)
	if err != nil || utils.FormatDate(t) != s {
		return fmt.Errorf("%w: %s ('%s') is not a valid date (expected YYYY-MM-DD)", ErrValidationFailed, fieldName, s)
	}
	return nil
}

// ValidateNotFuture rejects dates after today. Both are YYYY-MM-DD.
func ValidateNotFuture(s, today, fieldName string) error {
	if err := ValidateDate(s, fieldName); err != nil {
		return err
	}
	if s > today {
		return fmt.Errorf("%w: %s cannot be in the future", ErrValidationFailed, fieldName)
	}
	return nil
}

// ValidatePrice requires a strictly positive amount with at most two decimals.
func ValidatePrice(d decimal.Decimal, fieldName string) error {
	if !d.IsPositive() {
		return fmt.Errorf("%w: %s must be greater than 0", ErrValidationFailed, fieldName)
	}
	if !d.Equal(d.Truncate(MaxPriceDecimals)) {
		return fmt.Errorf("%w: %s cannot have more than %d decimal places", ErrValidationFailed, fieldName, MaxPriceDecimals)
	}
	return nil
}

func ValidatePositiveInt(n int, fieldName string) error {
	if n < 1 {
		return fmt.Errorf("%w: %s must be at least 1", ErrValidationFailed, fieldName)
	}
	return nil
}

func ValidateEmail(s string) error {
	if err := ValidateStringNotEmpty(s, "email"); err != nil {
		return err
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return fmt.Errorf("%w: email ('%s') is not a valid address", ErrValidationFailed, s)
	}
	return nil
}

func ValidateUsername(s string) error {
	if err := ValidateStringNotEmpty(s, "username"); err != nil {
		return err
	}
	if err := ValidateStringMaxLength(s, MaxUsernameLength, "username"); err != nil {
		return err
	}
	return ValidateStringRegex(s, usernameRegex, "username", "letters, digits, '.', '_' or '-'")
}

func ValidatePassword(s string) error {
	if utf8.RuneCountInString(s) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters long", ErrValidationFailed, MinPasswordLength)
	}
	return ValidateStringMaxLength(s, 72, "password")
}
