// src/processors/option_name.go
package processors

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/utils"
	"github.com/shopspring/decimal"
)

// ErrOptionNameNoMatch is returned when a string is not a recognisable option name.
var ErrOptionNameNoMatch = errors.New("option name does not match the expected format")

// Canonical form: TICKER Mon D 'YY $STRIKE TYPE. The type token is optional on
// decode so names stored before it was introduced still parse.
var (
	optionNameRegex = regexp.MustCompile(`^([A-Z]+)\s+([A-Za-z]+)\s+(\d+)\s+'(\d{2})\s+\$(\d+(?:\.\d{2})?)(?:\s+(CALL|PUT))?$`)
	tickerRegex     = regexp.MustCompile(`^[A-Z]+$`)
)

var monthAbbrevs = map[string]time.Month{
	"Jan": time.January, "Feb": time.February, "Mar": time.March, "Apr": time.April,
	"May": time.May, "Jun": time.June, "Jul": time.July, "Aug": time.August,
	"Sep": time.September, "Oct": time.October, "Nov": time.November, "Dec": time.December,
}

// OptionName is the decoded form of an option display name.
type OptionName struct {
	Ticker      string          `json:"ticker"`
	ExpiryDate  string          `json:"expiry_date"`
	StrikePrice decimal.Decimal `json:"strike_price"`
	Type        string          `json:"type,omitempty"` // empty for legacy names
}

// FormatStrike drops the fraction of whole-dollar strikes and otherwise shows cents.
func FormatStrike(strike decimal.Decimal) string {
	if strike.IsInteger() {
		return strike.StringFixed(0)
	}
	return strike.StringFixed(2)
}

// EncodeOptionName builds the canonical display name, e.g. "HOOD Sep 26 '25 $110 CALL".
func EncodeOptionName(ticker, expiryDate string, strike decimal.Decimal, optionType string) (string, error) {
	if !tickerRegex.MatchString(ticker) {
		return "", fmt.Errorf("ticker %q must be upper-case letters", ticker)
	}
	expiry, err := utils.ParseDate(expiryDate)
	if err != nil {
		return "", err
	}
	if expiry.Year() < 2000 || expiry.Year() > 2099 {
		return "", fmt.Errorf("expiry year %d cannot be written as two digits", expiry.Year())
	}
	if !strike.IsPositive() {
		return "", fmt.Errorf("strike price must be positive, got %s", strike)
	}
	if !strike.Equal(strike.Round(2)) {
		return "", fmt.Errorf("strike price %s has more than two decimal places", strike)
	}
	if optionType != models.OptionTypeCall && optionType != models.OptionTypePut {
		return "", fmt.Errorf("option type must be %s or %s, got %q", models.OptionTypeCall, models.OptionTypePut, optionType)
	}
	return fmt.Sprintf("%s %s %d '%02d $%s %s",
		ticker, expiry.Format("Jan"), expiry.Day(), expiry.Year()%100, FormatStrike(strike), optionType), nil
}

// DecodeOptionName parses a display name back into its parts. Two-digit years
// map to 20YY, and impossible calendar dates such as Feb 30 are rejected.
func DecodeOptionName(name string) (OptionName, error) {
	m := optionNameRegex.FindStringSubmatch(name)
	if m == nil {
		return OptionName{}, fmt.Errorf("%w: %q", ErrOptionNameNoMatch, name)
	}

	month, ok := monthAbbrevs[m[2]]
	if !ok {
		return OptionName{}, fmt.Errorf("%w: unknown month %q", ErrOptionNameNoMatch, m[2])
	}
	day, err := strconv.Atoi(m[3])
	if err != nil {
		return OptionName{}, fmt.Errorf("%w: bad day %q", ErrOptionNameNoMatch, m[3])
	}
	yy, _ := strconv.Atoi(m[4])
	year := 2000 + yy

	expiry := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if expiry.Year() != year || expiry.Month() != month || expiry.Day() != day {
		return OptionName{}, fmt.Errorf("%w: %s %d, %d is not a calendar date", ErrOptionNameNoMatch, m[2], day, year)
	}

	strike, err := decimal.NewFromString(m[5])
	if err != nil {
		return OptionName{}, fmt.Errorf("%w: bad strike %q", ErrOptionNameNoMatch, m[5])
	}

	return OptionName{
		Ticker:      m[1],
		ExpiryDate:  utils.FormatDate(expiry),
		StrikePrice: strike,
		Type:        m[6],
	}, nil
}
