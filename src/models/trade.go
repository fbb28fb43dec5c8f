package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// ContractSize is the number of underlying shares represented by one option contract.
const ContractSize = 100

const (
	OptionTypeCall = "CALL"
	OptionTypePut  = "PUT"

	TradeStatusOpen   = "open"
	TradeStatusClosed = "closed"
)

// Trade is one option position owned by a single user.
type Trade struct {
	ID          string          `json:"id"`
	UserID      int64           `json:"user_id"`
	OptionName  string          `json:"option_name"`
	Ticker      string          `json:"stock_ticker"`
	ExpiryDate  string          `json:"expiry_date"` // YYYY-MM-DD
	StrikePrice decimal.Decimal `json:"strike_price"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Broker      string          `json:"broker"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// ContractPurchase is one lot of contracts bought for a trade.
type ContractPurchase struct {
	ID            string          `json:"id"`
	TradeID       string          `json:"trade_id"`
	Contracts     int             `json:"contracts"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	PurchaseDate  string          `json:"purchase_date"` // YYYY-MM-DD
	Broker        string          `json:"broker"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ContractSale is one disposal against a trade. It is valued against the
// trade's weighted average cost, never against a specific lot.
type ContractSale struct {
	ID            string          `json:"id"`
	TradeID       string          `json:"trade_id"`
	ContractsSold int             `json:"contracts_sold"`
	SellPrice     decimal.Decimal `json:"sell_price"`
	SellDate      string          `json:"sell_date"` // YYYY-MM-DD
	Broker        string          `json:"broker"`
	CreatedAt     time.Time       `json:"created_at"`
}

// TradeFilter narrows a trade listing. Empty slices mean "no filter".
type TradeFilter struct {
	Tickers  []string
	Types    []string
	Statuses []string
	Page     int
	PageSize int
}

// Offset returns the row offset for the filter's page.
func (f TradeFilter) Offset() int {
	if f.Page < 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// TradeWithStats is the listing/detail view of a trade.
type TradeWithStats struct {
	Trade
	Purchases []ContractPurchase `json:"contract_purchases"`
	Sales     []ContractSale     `json:"contract_sales"`
	Stats     TradeStats         `json:"stats"`
}

// TradePage is one page of a user's trades.
type TradePage struct {
	Trades     []TradeWithStats `json:"trades"`
	TotalCount int              `json:"totalCount"`
	Page       int              `json:"page"`
	PageSize   int              `json:"pageSize"`
}
