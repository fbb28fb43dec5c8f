package services

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/processors"
	"github.com/optionslog/backend/src/security/validation"
)

// ImportActivities replays an imported trade log through the same validated
// paths as manual entry. Rows are applied oldest first, buys before sells on
// the same day. A buy joins the user's open trade on the same contract or
// opens a new one; a sell needs an open trade. Rows failing validation are
// reported and skipped; any other error stops the import, keeping the rows
// already applied.
func (s *tradeServiceImpl) ImportActivities(ctx context.Context, userID int64, activities []models.CanonicalActivity) (*models.ImportResult, error) {
	log := logger.FromContext(ctx)
	result := &models.ImportResult{RowsRead: len(activities), Rejected: []models.ImportRowError{}}

	ordered := append([]models.CanonicalActivity(nil), activities...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Date != ordered[j].Date {
			return ordered[i].Date < ordered[j].Date
		}
		return ordered[i].Action == models.ActivityBuy && ordered[j].Action == models.ActivitySell
	})

	openTrades := map[string]string{}
	reject := func(a models.CanonicalActivity, err error) {
		result.Rejected = append(result.Rejected, models.ImportRowError{Row: a.Row, Reason: err.Error()})
	}

	for _, a := range ordered {
		name, err := processors.EncodeOptionName(a.Ticker, a.ExpiryDate, a.StrikePrice, a.Type)
		if err != nil {
			reject(a, fmt.Errorf("%w: %v", validation.ErrValidationFailed, err))
			continue
		}

		tradeID, known := openTrades[name]
		if !known {
			tradeID, err = s.findOpenTrade(ctx, userID, a.Ticker, name)
			if err != nil {
				return result, err
			}
		}

		var trade *models.TradeWithStats
		switch {
		case a.Action == models.ActivityBuy && tradeID == "":
			trade, err = s.CreateTrade(ctx, userID, models.TradeForm{
				Ticker:        a.Ticker,
				ExpiryDate:    a.ExpiryDate,
				StrikePrice:   a.StrikePrice,
				Type:          a.Type,
				Broker:        a.Broker,
				Contracts:     a.Contracts,
				PurchasePrice: a.Price,
				PurchaseDate:  a.Date,
				Notes:         a.Notes,
			})
			if err == nil {
				result.TradesCreated++
				result.PurchasesAdded++
			}
		case a.Action == models.ActivityBuy:
			trade, err = s.AddPurchase(ctx, userID, tradeID, models.PurchaseForm{
				Contracts:     a.Contracts,
				PurchasePrice: a.Price,
				PurchaseDate:  a.Date,
				Broker:        a.Broker,
				Notes:         a.Notes,
			})
			if err == nil {
				result.PurchasesAdded++
			}
		case tradeID == "":
			reject(a, fmt.Errorf("%w: no open trade for %s to sell from", validation.ErrValidationFailed, name))
			continue
		default:
			trade, err = s.AddSale(ctx, userID, tradeID, models.SaleForm{
				ContractsSold: a.Contracts,
				SellPrice:     a.Price,
				SellDate:      a.Date,
				Broker:        a.Broker,
			})
			if err == nil {
				result.SalesAdded++
			}
		}

		if err != nil {
			if errors.Is(err, validation.ErrValidationFailed) {
				reject(a, err)
				continue
			}
			return result, err
		}

		if trade.Status == models.TradeStatusOpen {
			openTrades[name] = trade.ID
		} else {
			delete(openTrades, name)
		}
	}

	sort.Slice(result.Rejected, func(i, j int) bool { return result.Rejected[i].Row < result.Rejected[j].Row })
	log.Info("Trade log imported",
		"rows", result.RowsRead,
		"tradesCreated", result.TradesCreated,
		"purchases", result.PurchasesAdded,
		"sales", result.SalesAdded,
		"rejected", len(result.Rejected))
	return result, nil
}

// findOpenTrade returns the ID of the user's newest open trade named name, or "".
func (s *tradeServiceImpl) findOpenTrade(ctx context.Context, userID int64, ticker, name string) (string, error) {
	trades, _, err := s.repo.ListTrades(ctx, userID, models.TradeFilter{
		Tickers:  []string{ticker},
		Statuses: []string{models.TradeStatusOpen},
	})
	if err != nil {
		return "", err
	}
	for _, t := range trades {
		if t.OptionName == name {
			return t.ID, nil
		}
	}
	return "", nil
}
