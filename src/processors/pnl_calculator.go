// src/processors/pnl_calculator.go
package processors

import (
	"github.com/optionslog/backend/src/models"
	"github.com/shopspring/decimal"
)

var contractSize = decimal.NewFromInt(models.ContractSize)

type pnlCalculatorImpl struct {
	fees *FeeSchedule
}

// NewPnLCalculator returns the weighted-average-cost engine priced with fees.
// A nil schedule charges no fees.
func NewPnLCalculator(fees *FeeSchedule) PnLCalculator {
	return &pnlCalculatorImpl{fees: fees}
}

func (c *pnlCalculatorImpl) TradeStats(purchases []models.ContractPurchase, sales []models.ContractSale) models.TradeStats {
	var totalContracts, totalSold int
	purchaseCost := decimal.Zero
	fees := decimal.Zero

	for _, p := range purchases {
		totalContracts += p.Contracts
		purchaseCost = purchaseCost.Add(p.PurchasePrice.Mul(quantity(p.Contracts)))
		fees = fees.Add(c.fees.FeeFor(p.Broker, p.Contracts))
	}
	avgPrice := average(purchaseCost, totalContracts)

	grossPnL := decimal.Zero
	sellValue := decimal.Zero
	for _, s := range sales {
		qty := quantity(s.ContractsSold)
		totalSold += s.ContractsSold
		sellValue = sellValue.Add(s.SellPrice.Mul(qty))
		fees = fees.Add(c.fees.FeeFor(s.Broker, s.ContractsSold))

		// A sale with no purchases behind it has no cost basis to be measured against.
		if totalContracts > 0 {
			grossPnL = grossPnL.Add(s.SellPrice.Sub(avgPrice).Mul(qty).Mul(contractSize))
		}
	}

	return models.TradeStats{
		TotalContracts:   totalContracts,
		WeightedAvgPrice: avgPrice,
		TotalSold:        totalSold,
		Remaining:        totalContracts - totalSold,
		GrossPnL:         grossPnL,
		TotalFees:        fees,
		NetPnL:           grossPnL.Sub(fees),
		AverageSellPrice: average(sellValue, totalSold),
	}
}

func (c *pnlCalculatorImpl) PortfolioStats(trades []models.Trade, purchases []models.ContractPurchase, sales []models.ContractSale) models.PortfolioStats {
	purchasesByTrade, salesByTrade := groupByTrade(trades, purchases, sales)

	stats := models.PortfolioStats{
		TotalInvestment: decimal.Zero,
		GrossPnL:        decimal.Zero,
		TotalFees:       decimal.Zero,
		NetPnL:          decimal.Zero,
		SuccessRate:     decimal.Zero,
	}
	seen := make(map[string]struct{}, len(trades))

	for _, t := range trades {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}

		tradePurchases := purchasesByTrade[t.ID]
		tradeSales := salesByTrade[t.ID]
		ts := c.TradeStats(tradePurchases, tradeSales)

		stats.TradeCount++
		switch t.Status {
		case models.TradeStatusOpen:
			stats.OpenTrades++
		case models.TradeStatusClosed:
			stats.ClosedTrades++
		}
		if ts.Remaining > 0 {
			stats.OpenContracts += ts.Remaining
		}

		stats.GrossPnL = stats.GrossPnL.Add(ts.GrossPnL)
		stats.TotalFees = stats.TotalFees.Add(ts.TotalFees)
		stats.TotalInvestment = stats.TotalInvestment.Add(purchaseCashOut(tradePurchases)).Sub(saleCashIn(tradeSales))

		if len(tradeSales) > 0 {
			stats.TradesWithSales++
			if len(tradePurchases) > 0 && ts.NetPnL.IsPositive() {
				stats.ProfitableTrades++
			}
		}
	}

	stats.NetPnL = stats.GrossPnL.Sub(stats.TotalFees)
	if stats.TradesWithSales > 0 {
		stats.SuccessRate = decimal.NewFromInt(int64(stats.ProfitableTrades)).
			Div(decimal.NewFromInt(int64(stats.TradesWithSales))).
			Mul(decimal.NewFromInt(100))
	}
	return stats
}

func (c *pnlCalculatorImpl) PortfolioStatsAsOf(date string, trades []models.Trade, purchases []models.ContractPurchase, sales []models.ContractSale) models.PortfolioStats {
	p, s := filterAsOf(date, purchases, sales)
	return c.PortfolioStats(trades, p, s)
}

func (c *pnlCalculatorImpl) AccountValueAt(date string, trades []models.Trade, purchases []models.ContractPurchase, sales []models.ContractSale) models.AccountValuePoint {
	p, s := filterAsOf(date, purchases, sales)
	stats := c.PortfolioStats(trades, p, s)

	// The chart tracks capital deployed, so sales are not netted out here.
	purchasesByTrade, _ := groupByTrade(trades, p, nil)
	invested := decimal.Zero
	for _, tradePurchases := range purchasesByTrade {
		invested = invested.Add(purchaseCashOut(tradePurchases))
	}

	unrealized := decimal.Zero
	totalPnL := stats.GrossPnL.Add(unrealized)
	return models.AccountValuePoint{
		Date:            date,
		TotalValue:      invested.Add(totalPnL),
		TotalInvestment: invested,
		RealizedPnL:     stats.GrossPnL,
		Fees:            stats.TotalFees,
		NetRealizedPnL:  stats.NetPnL,
		UnrealizedPnL:   unrealized,
		TotalPnL:        totalPnL,
	}
}

func (c *pnlCalculatorImpl) AccountValueSeries(dates []string, trades []models.Trade, purchases []models.ContractPurchase, sales []models.ContractSale) []models.AccountValuePoint {
	points := make([]models.AccountValuePoint, 0, len(dates))
	for _, d := range dates {
		points = append(points, c.AccountValueAt(d, trades, purchases, sales))
	}
	return points
}

func (c *pnlCalculatorImpl) SaleBreakdown(purchases []models.ContractPurchase, sales []models.ContractSale) []models.SaleResult {
	results := make([]models.SaleResult, 0, len(sales))
	for _, s := range sales {
		var contractsUpToSale int
		costUpToSale := decimal.Zero
		purchaseFeesUpToSale := decimal.Zero
		for _, p := range purchases {
			if p.PurchaseDate > s.SellDate {
				continue
			}
			contractsUpToSale += p.Contracts
			costUpToSale = costUpToSale.Add(p.PurchasePrice.Mul(quantity(p.Contracts)))
			purchaseFeesUpToSale = purchaseFeesUpToSale.Add(c.fees.FeeFor(p.Broker, p.Contracts))
		}

		qty := quantity(s.ContractsSold)
		avgAtSale := average(costUpToSale, contractsUpToSale)
		gross := decimal.Zero
		allocated := decimal.Zero
		if contractsUpToSale > 0 {
			gross = s.SellPrice.Sub(avgAtSale).Mul(qty).Mul(contractSize)
			allocated = purchaseFeesUpToSale.Mul(qty).Div(quantity(contractsUpToSale))
		}
		saleFees := c.fees.FeeFor(s.Broker, s.ContractsSold)

		results = append(results, models.SaleResult{
			SaleID:                s.ID,
			SellDate:              s.SellDate,
			ContractsSold:         s.ContractsSold,
			SellPrice:             s.SellPrice,
			Proceeds:              s.SellPrice.Mul(qty).Mul(contractSize),
			WeightedAvgAtSale:     avgAtSale,
			GrossPnL:              gross,
			SaleFees:              saleFees,
			AllocatedPurchaseFees: allocated,
			NetPnL:                gross.Sub(saleFees).Sub(allocated),
		})
	}
	return results
}

func quantity(n int) decimal.Decimal {
	return decimal.NewFromInt(int64(n))
}

// average divides total by count, defining the empty case as zero.
func average(total decimal.Decimal, count int) decimal.Decimal {
	if count == 0 {
		return decimal.Zero
	}
	return total.Div(quantity(count))
}

func purchaseCashOut(purchases []models.ContractPurchase) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range purchases {
		sum = sum.Add(p.PurchasePrice.Mul(quantity(p.Contracts)).Mul(contractSize))
	}
	return sum
}

func saleCashIn(sales []models.ContractSale) decimal.Decimal {
	sum := decimal.Zero
	for _, s := range sales {
		sum = sum.Add(s.SellPrice.Mul(quantity(s.ContractsSold)).Mul(contractSize))
	}
	return sum
}

// groupByTrade buckets records by trade ID, dropping records of unknown trades.
func groupByTrade(trades []models.Trade, purchases []models.ContractPurchase, sales []models.ContractSale) (map[string][]models.ContractPurchase, map[string][]models.ContractSale) {
	known := make(map[string]struct{}, len(trades))
	for _, t := range trades {
		known[t.ID] = struct{}{}
	}
	purchasesByTrade := make(map[string][]models.ContractPurchase, len(trades))
	for _, p := range purchases {
		if _, ok := known[p.TradeID]; ok {
			purchasesByTrade[p.TradeID] = append(purchasesByTrade[p.TradeID], p)
		}
	}
	salesByTrade := make(map[string][]models.ContractSale, len(trades))
	for _, s := range sales {
		if _, ok := known[s.TradeID]; ok {
			salesByTrade[s.TradeID] = append(salesByTrade[s.TradeID], s)
		}
	}
	return purchasesByTrade, salesByTrade
}

// filterAsOf keeps records dated on or before date. Dates are YYYY-MM-DD, so
// string order is chronological order.
func filterAsOf(date string, purchases []models.ContractPurchase, sales []models.ContractSale) ([]models.ContractPurchase, []models.ContractSale) {
	var p []models.ContractPurchase
	for _, purchase := range purchases {
		if purchase.PurchaseDate <= date {
			p = append(p, purchase)
		}
	}
	var s []models.ContractSale
	for _, sale := range sales {
		if sale.SellDate <= date {
			s = append(s, sale)
		}
	}
	return p, s
}
