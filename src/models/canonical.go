package models

import "github.com/shopspring/decimal"

const (
	ActivityBuy  = "BUY"
	ActivitySell = "SELL"
)

// CanonicalActivity is one buy or sell row of an imported trade log, already
// normalised by a parser but not yet validated against the user's trades.
type CanonicalActivity struct {
	Row         int             `json:"row"`
	Date        string          `json:"date"` // YYYY-MM-DD
	Action      string          `json:"action"`
	Ticker      string          `json:"stock_ticker"`
	ExpiryDate  string          `json:"expiry_date"`
	StrikePrice decimal.Decimal `json:"strike_price"`
	Type        string          `json:"type"`
	Contracts   int             `json:"contracts"`
	Price       decimal.Decimal `json:"price"`
	Broker      string          `json:"broker"`
	Notes       string          `json:"notes,omitempty"`
	RawText     string          `json:"raw_text"`
}

// ImportRowError explains why a row of an import was not applied.
type ImportRowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// ImportResult summarises a trade log import.
type ImportResult struct {
	RowsRead       int              `json:"rowsRead"`
	TradesCreated  int              `json:"tradesCreated"`
	PurchasesAdded int              `json:"purchasesAdded"`
	SalesAdded     int              `json:"salesAdded"`
	Rejected       []ImportRowError `json:"rejected"`
}
