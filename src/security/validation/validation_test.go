package validation

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTicker(t *testing.T) {
	assert.NoError(t, ValidateTicker("HOOD"))
	assert.ErrorIs(t, ValidateTicker(""), ErrValidationFailed)
	assert.ErrorIs(t, ValidateTicker("hood"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateTicker("BRK.B"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateTicker("ABCDEFGHIJK"), ErrValidationFailed)
}

func TestValidateDate(t *testing.T) {
	assert.NoError(t, ValidateDate("2025-02-28", "expiry date"))
	assert.ErrorIs(t, ValidateDate("2025-02-30", "expiry date"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateDate("28-02-2025", "expiry date"), ErrValidationFailed)

	err := ValidateDate("", "expiry date")
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "expiry date is required")
}

func TestValidateNotFuture(t *testing.T) {
	assert.NoError(t, ValidateNotFuture("2025-03-01", "2025-03-01", "purchase date"))
	assert.NoError(t, ValidateNotFuture("2024-12-31", "2025-03-01", "purchase date"))

	err := ValidateNotFuture("2025-03-02", "2025-03-01", "purchase date")
	require.ErrorIs(t, err, ErrValidationFailed)
	assert.Contains(t, err.Error(), "cannot be in the future")
}

func TestValidatePrice(t *testing.T) {
	assert.NoError(t, ValidatePrice(decimal.RequireFromString("1.50"), "price"))
	assert.NoError(t, ValidatePrice(decimal.RequireFromString("110"), "price"))
	assert.ErrorIs(t, ValidatePrice(decimal.Zero, "price"), ErrValidationFailed)
	assert.ErrorIs(t, ValidatePrice(decimal.RequireFromString("-1"), "price"), ErrValidationFailed)
	assert.ErrorIs(t, ValidatePrice(decimal.RequireFromString("1.505"), "price"), ErrValidationFailed)
}

func TestValidateMisc(t *testing.T) {
	assert.NoError(t, ValidateOptionType("CALL"))
	assert.NoError(t, ValidateOptionType("PUT"))
	assert.ErrorIs(t, ValidateOptionType("call"), ErrValidationFailed)

	assert.NoError(t, ValidatePositiveInt(1, "contracts"))
	assert.ErrorIs(t, ValidatePositiveInt(0, "contracts"), ErrValidationFailed)

	assert.NoError(t, ValidateEmail("alice@example.com"))
	assert.ErrorIs(t, ValidateEmail("Alice <alice@example.com>"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateEmail("not-an-email"), ErrValidationFailed)

	assert.NoError(t, ValidateUsername("alice_01"))
	assert.ErrorIs(t, ValidateUsername("alice smith"), ErrValidationFailed)

	assert.NoError(t, ValidatePassword("longenough"))
	assert.ErrorIs(t, ValidatePassword("short"), ErrValidationFailed)
}

func TestSanitizers(t *testing.T) {
	assert.Equal(t, "hello", CleanUserText("  <b>hello</b>\x00 "))
	assert.Equal(t, "'=SUM(A1:A2)", SanitizeForFormulaInjection("=SUM(A1:A2)"))
	assert.Equal(t, "'-5", SanitizeForFormulaInjection("-5"))
	assert.Equal(t, "HOOD", SanitizeForFormulaInjection("HOOD"))
	assert.Equal(t, "a\tb", StripUnprintable("a\tb\x07"))
}

func TestValidateAttachment(t *testing.T) {
	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	ctype, ext, err := ValidateAttachment(bytes.NewReader(png), "shot.png")
	require.NoError(t, err)
	assert.Equal(t, "image/png", ctype)
	assert.Equal(t, ".png", ext)

	_, ext, err = ValidateAttachment(strings.NewReader("plain words about a bug"), "notes.txt")
	require.NoError(t, err)
	assert.Equal(t, ".txt", ext)

	_, _, err = ValidateAttachment(bytes.NewReader([]byte("MZ\x90\x00\x03\x00\x00\x00")), "evil.exe")
	assert.ErrorIs(t, err, ErrValidationFailed)

	_, _, err = ValidateAttachment(bytes.NewReader(nil), "empty.txt")
	assert.ErrorIs(t, err, ErrValidationFailed)
}

func TestValidateAttachmentRewinds(t *testing.T) {
	r := strings.NewReader("some text content")
	_, _, err := ValidateAttachment(r, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len("some text content")), int64(r.Len()))
}

func TestValidateImportFile(t *testing.T) {
	csvBody := "date,action,option_name,contracts,price\n2025-03-01,BUY,HOOD Sep 26 '25 $110 CALL,1,1.50\n"
	require.NoError(t, ValidateImportFile(strings.NewReader(csvBody), "trades.CSV"))
	assert.NoError(t, ValidateImportFile(strings.NewReader(csvBody), "trades.txt"))

	assert.ErrorIs(t, ValidateImportFile(strings.NewReader(csvBody), "trades.xlsx"), ErrValidationFailed)
	assert.ErrorIs(t, ValidateImportFile(bytes.NewReader(nil), "trades.csv"), ErrValidationFailed)

	png := append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 32)...)
	assert.ErrorIs(t, ValidateImportFile(bytes.NewReader(png), "trades.csv"), ErrValidationFailed)
}
