package models

import "github.com/shopspring/decimal"

// TradeStats is the cost-basis and realized P&L picture of a single trade.
type TradeStats struct {
	TotalContracts   int             `json:"totalContracts"`
	WeightedAvgPrice decimal.Decimal `json:"weightedAvgPrice"`
	TotalSold        int             `json:"totalSold"`
	Remaining        int             `json:"remaining"`
	GrossPnL         decimal.Decimal `json:"grossPnL"`
	TotalFees        decimal.Decimal `json:"totalFees"`
	NetPnL           decimal.Decimal `json:"netPnL"`
	AverageSellPrice decimal.Decimal `json:"averageSellPrice"`
}

// Oversold reports whether more contracts were sold than bought.
func (s TradeStats) Oversold() bool {
	return s.Remaining < 0
}

// HasSales reports whether at least one contract was sold.
func (s TradeStats) HasSales() bool {
	return s.TotalSold > 0
}

// PortfolioStats aggregates TradeStats over a set of trades.
type PortfolioStats struct {
	TotalInvestment  decimal.Decimal `json:"totalInvestment"`
	GrossPnL         decimal.Decimal `json:"grossPnL"`
	TotalFees        decimal.Decimal `json:"totalFees"`
	NetPnL           decimal.Decimal `json:"netPnL"`
	SuccessRate      decimal.Decimal `json:"successRate"`
	TradeCount       int             `json:"tradeCount"`
	OpenTrades       int             `json:"openTrades"`
	ClosedTrades     int             `json:"closedTrades"`
	TradesWithSales  int             `json:"tradesWithSales"`
	ProfitableTrades int             `json:"profitableTrades"`
	OpenContracts    int             `json:"openContracts"`
}

// PortfolioSummary is PortfolioStats rounded for display.
type PortfolioSummary struct {
	TotalInvestment string `json:"totalInvestment"`
	TotalPnL        string `json:"totalPnL"`
	NetPnL          string `json:"netPnL"`
	TotalFees       string `json:"totalFees"`
	SuccessRate     string `json:"successfulTradesPercentage"`
	IsPnLPositive   bool   `json:"isPnLPositive"`
	TradeCount      int    `json:"tradeCount"`
	OpenTrades      int    `json:"openTrades"`
	ClosedTrades    int    `json:"closedTrades"`
	OpenContracts   int    `json:"openContracts"`
}

// AccountValuePoint is the account as of one date. Unrealized P&L needs a
// market price feed and is always zero.
type AccountValuePoint struct {
	Date            string          `json:"date"`
	TotalValue      decimal.Decimal `json:"totalValue"`
	TotalInvestment decimal.Decimal `json:"totalInvestment"`
	RealizedPnL     decimal.Decimal `json:"realizedPnL"`
	Fees            decimal.Decimal `json:"fees"`
	NetRealizedPnL  decimal.Decimal `json:"netRealizedPnL"`
	UnrealizedPnL   decimal.Decimal `json:"unrealizedPnL"`
	TotalPnL        decimal.Decimal `json:"totalPnL"`
}

// AccountValueChart is a daily series plus the change between its first and last point.
type AccountValueChart struct {
	Range         string              `json:"range"`
	Points        []AccountValuePoint `json:"points"`
	Change        decimal.Decimal     `json:"change"`
	ChangePercent decimal.Decimal     `json:"changePercent"`
	IsPositive    bool                `json:"isPositive"`
}

// SaleResult is the realized outcome of one sale, valued against the
// purchases made on or before the sale date.
type SaleResult struct {
	SaleID                string          `json:"sale_id"`
	SellDate              string          `json:"sell_date"`
	ContractsSold         int             `json:"contracts_sold"`
	SellPrice             decimal.Decimal `json:"sell_price"`
	Proceeds              decimal.Decimal `json:"proceeds"`
	WeightedAvgAtSale     decimal.Decimal `json:"weighted_avg_at_sale"`
	GrossPnL              decimal.Decimal `json:"gross_pnl"`
	SaleFees              decimal.Decimal `json:"sale_fees"`
	AllocatedPurchaseFees decimal.Decimal `json:"allocated_purchase_fees"`
	NetPnL                decimal.Decimal `json:"net_pnl"`
}
