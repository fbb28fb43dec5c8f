package processors

import (
	"github.com/optionslog/backend/src/models"
)

// PnLCalculator is the cost-basis and realized P&L engine. Implementations are
// pure: no I/O, no shared state, and the result does not depend on slice order.
type PnLCalculator interface {
	// TradeStats computes weighted average cost, remaining quantity and realized
	// P&L for one trade from all of its purchases and sales.
	TradeStats(purchases []models.ContractPurchase, sales []models.ContractSale) models.TradeStats

	// PortfolioStats aggregates TradeStats over trades. Purchases and sales whose
	// trade is not in trades are ignored.
	PortfolioStats(trades []models.Trade, purchases []models.ContractPurchase, sales []models.ContractSale) models.PortfolioStats

	// PortfolioStatsAsOf reconstructs PortfolioStats using only records dated on or before date (YYYY-MM-DD).
	PortfolioStatsAsOf(date string, trades []models.Trade, purchases []models.ContractPurchase, sales []models.ContractSale) models.PortfolioStats

	// AccountValueAt returns the chart point for date.
	AccountValueAt(date string, trades []models.Trade, purchases []models.ContractPurchase, sales []models.ContractSale) models.AccountValuePoint

	// AccountValueSeries returns one AccountValueAt point per date, in the given order.
	AccountValueSeries(dates []string, trades []models.Trade, purchases []models.ContractPurchase, sales []models.ContractSale) []models.AccountValuePoint

	// SaleBreakdown values each sale of a trade against the purchases made up to its date.
	SaleBreakdown(purchases []models.ContractPurchase, sales []models.ContractSale) []models.SaleResult
}
