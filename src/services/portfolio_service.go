package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/processors"
	"github.com/optionslog/backend/src/repository"
	"github.com/optionslog/backend/src/security/validation"
	"github.com/optionslog/backend/src/utils"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
)

const (
	ckUserPrefix        = "user_%d_"
	ckPortfolioSummary  = ckUserPrefix + "portfolio_summary"
	ckAccountValueChart = ckUserPrefix + "account_value_chart_%s_%s"
)

const (
	Range1D  = "1D"
	Range1W  = "1W"
	Range1M  = "1M"
	Range3M  = "3M"
	RangeYTD = "YTD"
	Range1Y  = "1Y"
	RangeAll = "ALL"

	DefaultChartRange = Range1M
)

var hundred = decimal.NewFromInt(100)

type portfolioServiceImpl struct {
	repo        repository.TradeRepository
	calculator  processors.PnLCalculator
	reportCache *cache.Cache
	now         Clock
}

func NewPortfolioService(repo repository.TradeRepository, calculator processors.PnLCalculator, reportCache *cache.Cache, now Clock) PortfolioService {
	return &portfolioServiceImpl{
		repo:        repo,
		calculator:  calculator,
		reportCache: reportCache,
		now:         now,
	}
}

type tradeBook struct {
	trades    []models.Trade
	purchases []models.ContractPurchase
	sales     []models.ContractSale
}

func (s *portfolioServiceImpl) loadBook(ctx context.Context, userID int64) (*tradeBook, error) {
	trades, _, err := s.repo.ListTrades(ctx, userID, models.TradeFilter{})
	if err != nil {
		return nil, err
	}
	purchases, err := s.repo.ListUserPurchases(ctx, userID)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.ListUserSales(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &tradeBook{trades: trades, purchases: purchases, sales: sales}, nil
}

func (s *portfolioServiceImpl) GetSummary(ctx context.Context, userID int64) (*models.PortfolioSummary, error) {
	cacheKey := fmt.Sprintf(ckPortfolioSummary, userID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		if summary, ok := cached.(*models.PortfolioSummary); ok {
			logger.FromContext(ctx).Debug("Portfolio summary served from cache")
			return summary, nil
		}
	}

	book, err := s.loadBook(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats := s.calculator.PortfolioStats(book.trades, book.purchases, book.sales)

	summary := &models.PortfolioSummary{
		TotalInvestment: utils.FormatMoney(stats.TotalInvestment),
		TotalPnL:        utils.FormatMoney(stats.GrossPnL),
		NetPnL:          utils.FormatMoney(stats.NetPnL),
		TotalFees:       utils.FormatMoney(stats.TotalFees),
		SuccessRate:     utils.FormatPercent(stats.SuccessRate),
		IsPnLPositive:   !stats.NetPnL.IsNegative(),
		TradeCount:      stats.TradeCount,
		OpenTrades:      stats.OpenTrades,
		ClosedTrades:    stats.ClosedTrades,
		OpenContracts:   stats.OpenContracts,
	}
	s.reportCache.Set(cacheKey, summary, DefaultCacheExpiration)
	return summary, nil
}

func (s *portfolioServiceImpl) GetAccountValueChart(ctx context.Context, userID int64, rangeKey string) (*models.AccountValueChart, error) {
	rangeKey = strings.ToUpper(strings.TrimSpace(rangeKey))
	if rangeKey == "" {
		rangeKey = DefaultChartRange
	}
	today := utils.Today(s.now())

	cacheKey := fmt.Sprintf(ckAccountValueChart, userID, rangeKey, utils.FormatDate(today))
	if cached, found := s.reportCache.Get(cacheKey); found {
		if chart, ok := cached.(*models.AccountValueChart); ok {
			return chart, nil
		}
	}

	book, err := s.loadBook(ctx, userID)
	if err != nil {
		return nil, err
	}
	start, err := ChartStart(rangeKey, today, book.purchases)
	if err != nil {
		return nil, err
	}

	points := s.calculator.AccountValueSeries(utils.DailyDates(start, today), book.trades, book.purchases, book.sales)
	chart := &models.AccountValueChart{Range: rangeKey, Points: points}
	chart.Change, chart.ChangePercent = performanceChange(points)
	chart.IsPositive = !chart.Change.IsNegative()

	s.reportCache.Set(cacheKey, chart, DefaultCacheExpiration)
	return chart, nil
}

func (s *portfolioServiceImpl) InvalidateUserCache(userID int64) {
	InvalidateUserReports(s.reportCache, userID)
}

// ChartStart returns the first day of rangeKey ending today. ALL starts at the
// earliest purchase, or today when there is none.
func ChartStart(rangeKey string, today time.Time, purchases []models.ContractPurchase) (time.Time, error) {
	switch rangeKey {
	case Range1D:
		return today.AddDate(0, 0, -1), nil
	case Range1W:
		return today.AddDate(0, 0, -7), nil
	case Range1M:
		return today.AddDate(0, -1, 0), nil
	case Range3M:
		return today.AddDate(0, -3, 0), nil
	case RangeYTD:
		return time.Date(today.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), nil
	case Range1Y:
		return today.AddDate(-1, 0, 0), nil
	case RangeAll:
		first := earliestPurchaseDate(purchases)
		if first == "" {
			return today, nil
		}
		start, err := utils.ParseDate(first)
		if err != nil || start.After(today) {
			return today, nil
		}
		return start, nil
	}
	return time.Time{}, fmt.Errorf("%w: unknown chart range %q", validation.ErrValidationFailed, rangeKey)
}

// performanceChange compares the first and last point. The percentage is zero
// when the series starts at or below zero.
func performanceChange(points []models.AccountValuePoint) (decimal.Decimal, decimal.Decimal) {
	if len(points) < 2 {
		return decimal.Zero, decimal.Zero
	}
	first := points[0].TotalValue
	change := points[len(points)-1].TotalValue.Sub(first)
	percent := decimal.Zero
	if first.IsPositive() {
		percent = change.Div(first).Mul(hundred)
	}
	return change.Round(2), percent.Round(1)
}

// InvalidateUserReports drops every cached report of userID.
func InvalidateUserReports(reportCache *cache.Cache, userID int64) {
	if reportCache == nil {
		return
	}
	prefix := fmt.Sprintf(ckUserPrefix, userID)
	for key := range reportCache.Items() {
		if strings.HasPrefix(key, prefix) {
			reportCache.Delete(key)
		}
	}
}
