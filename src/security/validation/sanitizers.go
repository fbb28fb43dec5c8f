package validation

import (
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

var strictHTMLPolicy = bluemonday.StrictPolicy()

// SanitizeText removes all HTML tags and attributes.
func SanitizeText(s string) string {
	return strictHTMLPolicy.Sanitize(s)
}

// CleanUserText is applied to every free-text field before it is stored.
func CleanUserText(s string) string {
	return strings.TrimSpace(SanitizeText(StripUnprintable(s)))
}

// SanitizeForFormulaInjection quotes a CSV cell that a spreadsheet would
// otherwise evaluate as a formula.
func SanitizeForFormulaInjection(s string) string {
	trimmed := strings.TrimSpace(s)
	if len(trimmed) == 0 {
		return s
	}
	switch trimmed[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + s
	}
	return s
}

// StripUnprintable drops non-printable runes but keeps tab, newline and carriage return.
func StripUnprintable(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		return -1
	}, s)
}
