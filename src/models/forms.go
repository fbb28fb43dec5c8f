package models

import "github.com/shopspring/decimal"

// TradeForm creates a trade together with its first purchase.
type TradeForm struct {
	Ticker        string          `json:"stock_ticker"`
	ExpiryDate    string          `json:"expiry_date"`
	StrikePrice   decimal.Decimal `json:"strike_price"`
	Type          string          `json:"type"`
	Broker        string          `json:"broker"`
	Contracts     int             `json:"contracts"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	PurchaseDate  string          `json:"purchase_date"`
	Notes         string          `json:"notes"`
}

// TradeUpdateForm edits the identity fields of a trade.
type TradeUpdateForm struct {
	Ticker      string          `json:"stock_ticker"`
	ExpiryDate  string          `json:"expiry_date"`
	StrikePrice decimal.Decimal `json:"strike_price"`
	Type        string          `json:"type"`
	Broker      string          `json:"broker"`
}

type PurchaseForm struct {
	Contracts     int             `json:"contracts"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	PurchaseDate  string          `json:"purchase_date"`
	Broker        string          `json:"broker"`
	Notes         string          `json:"notes"`
}

type SaleForm struct {
	ContractsSold int             `json:"contracts_sold"`
	SellPrice     decimal.Decimal `json:"sell_price"`
	SellDate      string          `json:"sell_date"`
	Broker        string          `json:"broker"`
}
