// Package tradelog reads option trade activity exported as CSV.
package tradelog

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/processors"
	"github.com/optionslog/backend/src/utils"
	"github.com/shopspring/decimal"
)

// MaxRows caps how many data rows one file may carry.
const MaxRows = 5000

var ErrMissingColumns = errors.New("trade log is missing required columns")

// Accepted header spellings, after lower-casing and trimming.
var columnAliases = map[string]string{
	"date":         "date",
	"trade_date":   "date",
	"action":       "action",
	"side":         "action",
	"buy_sell":     "action",
	"option_name":  "option_name",
	"option":       "option_name",
	"ticker":       "ticker",
	"stock_ticker": "ticker",
	"symbol":       "ticker",
	"expiry_date":  "expiry_date",
	"expiry":       "expiry_date",
	"strike":       "strike",
	"strike_price": "strike",
	"type":         "type",
	"contracts":    "contracts",
	"quantity":     "contracts",
	"qty":          "contracts",
	"price":        "price",
	"premium":      "price",
	"broker":       "broker",
	"notes":        "notes",
}

// Dates are written as YYYY-MM-DD; day-first exports are accepted too.
var dateLayouts = []string{utils.DateLayout, "02-01-2006", "02/01/2006"}

type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse reads the header row, then converts each data row into a
// CanonicalActivity. Rows that cannot be understood are returned as
// rejections instead of failing the whole file.
func (p *Parser) Parse(file io.Reader) ([]models.CanonicalActivity, []models.ImportRowError, error) {
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("tradelog parser: failed to read CSV header: %w", err)
	}
	columns, err := mapColumns(header)
	if err != nil {
		return nil, nil, err
	}

	var activities []models.CanonicalActivity
	var rejected []models.ImportRowError
	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, nil, fmt.Errorf("tradelog parser: failed to read row %d: %w", row, err)
		}
		if isBlank(record) {
			continue
		}
		if len(activities)+len(rejected) >= MaxRows {
			return nil, nil, fmt.Errorf("tradelog parser: file has more than %d rows", MaxRows)
		}

		activity, err := parseRecord(columns, record)
		if err != nil {
			rejected = append(rejected, models.ImportRowError{Row: row, Reason: err.Error()})
			continue
		}
		activity.Row = row
		activity.RawText = strings.Join(record, ",")
		activities = append(activities, activity)
	}
	return activities, rejected, nil
}

func mapColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF")))
		name = strings.ReplaceAll(name, " ", "_")
		if canonical, ok := columnAliases[name]; ok {
			if _, dup := columns[canonical]; !dup {
				columns[canonical] = i
			}
		}
	}

	var missing []string
	for _, required := range []string{"date", "action", "contracts", "price"} {
		if _, ok := columns[required]; !ok {
			missing = append(missing, required)
		}
	}
	_, hasName := columns["option_name"]
	_, hasTicker := columns["ticker"]
	_, hasExpiry := columns["expiry_date"]
	_, hasStrike := columns["strike"]
	_, hasType := columns["type"]
	if !hasName && !(hasTicker && hasExpiry && hasStrike && hasType) {
		missing = append(missing, "option_name (or ticker, expiry_date, strike, type)")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}
	return columns, nil
}

func field(columns map[string]int, record []string, name string) string {
	i, ok := columns[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func isBlank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

func parseRecord(columns map[string]int, record []string) (models.CanonicalActivity, error) {
	var a models.CanonicalActivity

	date, err := parseDate(field(columns, record, "date"))
	if err != nil {
		return a, err
	}
	a.Date = date

	switch strings.ToUpper(field(columns, record, "action")) {
	case "BUY", "BOUGHT", "BTO":
		a.Action = models.ActivityBuy
	case "SELL", "SOLD", "STC":
		a.Action = models.ActivitySell
	default:
		return a, fmt.Errorf("unknown action %q, expected BUY or SELL", field(columns, record, "action"))
	}

	if err := parseContract(columns, record, &a); err != nil {
		return a, err
	}

	contracts, err := strconv.Atoi(field(columns, record, "contracts"))
	if err != nil {
		return a, fmt.Errorf("invalid contracts %q", field(columns, record, "contracts"))
	}
	a.Contracts = contracts

	price, err := parseDecimal(field(columns, record, "price"))
	if err != nil {
		return a, fmt.Errorf("invalid price %q", field(columns, record, "price"))
	}
	a.Price = price

	a.Broker = field(columns, record, "broker")
	a.Notes = field(columns, record, "notes")
	return a, nil
}

// parseContract fills the option identity from option_name when present,
// letting explicit columns fill what a legacy name leaves out.
func parseContract(columns map[string]int, record []string, a *models.CanonicalActivity) error {
	if name := field(columns, record, "option_name"); name != "" {
		decoded, err := processors.DecodeOptionName(name)
		if err != nil {
			return fmt.Errorf("invalid option name %q", name)
		}
		a.Ticker = decoded.Ticker
		a.ExpiryDate = decoded.ExpiryDate
		a.StrikePrice = decoded.StrikePrice
		a.Type = decoded.Type
		if a.Type == "" {
			a.Type = strings.ToUpper(field(columns, record, "type"))
		}
		if a.Type == "" {
			return fmt.Errorf("option name %q has no CALL/PUT type", name)
		}
		return nil
	}

	a.Ticker = strings.ToUpper(field(columns, record, "ticker"))
	a.Type = strings.ToUpper(field(columns, record, "type"))
	expiry, err := parseDate(field(columns, record, "expiry_date"))
	if err != nil {
		return fmt.Errorf("invalid expiry: %w", err)
	}
	a.ExpiryDate = expiry
	strike, err := parseDecimal(field(columns, record, "strike"))
	if err != nil {
		return fmt.Errorf("invalid strike %q", field(columns, record, "strike"))
	}
	a.StrikePrice = strike
	return nil
}

func parseDate(s string) (string, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return utils.FormatDate(t), nil
		}
	}
	return "", fmt.Errorf("invalid date %q", s)
}

// parseDecimal accepts "1.50", "$1.50" and the decimal-comma form "1,50".
func parseDecimal(s string) (decimal.Decimal, error) {
	cleaned := strings.TrimPrefix(strings.Trim(strings.TrimSpace(s), "\""), "$")
	if strings.Count(cleaned, ",") == 1 && !strings.Contains(cleaned, ".") {
		cleaned = strings.ReplaceAll(cleaned, ",", ".")
	}
	return decimal.NewFromString(cleaned)
}
