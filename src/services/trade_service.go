package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/processors"
	"github.com/optionslog/backend/src/repository"
	"github.com/optionslog/backend/src/security/validation"
	"github.com/optionslog/backend/src/utils"
	"github.com/patrickmn/go-cache"
)

type tradeServiceImpl struct {
	repo        repository.TradeRepository
	calculator  processors.PnLCalculator
	reportCache *cache.Cache
	now         Clock
}

func NewTradeService(repo repository.TradeRepository, calculator processors.PnLCalculator, reportCache *cache.Cache, now Clock) TradeService {
	return &tradeServiceImpl{
		repo:        repo,
		calculator:  calculator,
		reportCache: reportCache,
		now:         now,
	}
}

func (s *tradeServiceImpl) today() string {
	return utils.FormatDate(utils.Today(s.now()))
}

func (s *tradeServiceImpl) CreateTrade(ctx context.Context, userID int64, form models.TradeForm) (*models.TradeWithStats, error) {
	trade := &models.Trade{
		ID:          uuid.NewString(),
		UserID:      userID,
		Ticker:      strings.ToUpper(strings.TrimSpace(form.Ticker)),
		ExpiryDate:  strings.TrimSpace(form.ExpiryDate),
		StrikePrice: form.StrikePrice,
		Type:        strings.ToUpper(strings.TrimSpace(form.Type)),
		Status:      models.TradeStatusOpen,
		Broker:      cleanBroker(form.Broker, processors.DefaultBroker),
	}
	purchase := &models.ContractPurchase{
		ID:            uuid.NewString(),
		Contracts:     form.Contracts,
		PurchasePrice: form.PurchasePrice,
		PurchaseDate:  strings.TrimSpace(form.PurchaseDate),
		Broker:        trade.Broker,
		Notes:         validation.CleanUserText(form.Notes),
	}

	if err := validateTradeIdentity(trade); err != nil {
		return nil, err
	}
	if err := s.validatePurchase(purchase); err != nil {
		return nil, err
	}
	name, err := processors.EncodeOptionName(trade.Ticker, trade.ExpiryDate, trade.StrikePrice, trade.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", validation.ErrValidationFailed, err)
	}
	trade.OptionName = name

	if err := s.repo.CreateTradeWithPurchase(ctx, trade, purchase); err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Info("Trade created", "tradeID", trade.ID, "optionName", trade.OptionName)
	s.invalidate(userID)
	return s.loadTrade(ctx, userID, trade.ID)
}

func (s *tradeServiceImpl) GetTrade(ctx context.Context, userID int64, tradeID string) (*models.TradeWithStats, error) {
	return s.loadTrade(ctx, userID, tradeID)
}

func (s *tradeServiceImpl) ListTrades(ctx context.Context, userID int64, filter models.TradeFilter) (*models.TradePage, error) {
	trades, total, err := s.repo.ListTrades(ctx, userID, filter)
	if err != nil {
		return nil, err
	}
	withStats, err := s.attachStats(ctx, trades)
	if err != nil {
		return nil, err
	}
	return &models.TradePage{
		Trades:     withStats,
		TotalCount: total,
		Page:       filter.Page,
		PageSize:   filter.PageSize,
	}, nil
}

func (s *tradeServiceImpl) ExportTrades(ctx context.Context, userID int64) ([]models.TradeWithStats, error) {
	trades, _, err := s.repo.ListTrades(ctx, userID, models.TradeFilter{})
	if err != nil {
		return nil, err
	}
	return s.attachStats(ctx, trades)
}

func (s *tradeServiceImpl) UpdateTrade(ctx context.Context, userID int64, tradeID string, form models.TradeUpdateForm) (*models.TradeWithStats, error) {
	trade, err := s.repo.GetTrade(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}

	trade.Ticker = strings.ToUpper(strings.TrimSpace(form.Ticker))
	trade.ExpiryDate = strings.TrimSpace(form.ExpiryDate)
	trade.StrikePrice = form.StrikePrice
	trade.Type = strings.ToUpper(strings.TrimSpace(form.Type))
	trade.Broker = cleanBroker(form.Broker, trade.Broker)

	if err := validateTradeIdentity(trade); err != nil {
		return nil, err
	}
	name, err := processors.EncodeOptionName(trade.Ticker, trade.ExpiryDate, trade.StrikePrice, trade.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", validation.ErrValidationFailed, err)
	}
	trade.OptionName = name

	if err := s.repo.UpdateTrade(ctx, trade); err != nil {
		return nil, err
	}
	s.invalidate(userID)
	return s.loadTrade(ctx, userID, tradeID)
}

func (s *tradeServiceImpl) DeleteTrade(ctx context.Context, userID int64, tradeID string) error {
	if err := s.repo.DeleteTrade(ctx, userID, tradeID); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Trade deleted", "tradeID", tradeID)
	s.invalidate(userID)
	return nil
}

func (s *tradeServiceImpl) AddPurchase(ctx context.Context, userID int64, tradeID string, form models.PurchaseForm) (*models.TradeWithStats, error) {
	trade, err := s.repo.GetTrade(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}

	purchase := &models.ContractPurchase{
		ID:            uuid.NewString(),
		TradeID:       trade.ID,
		Contracts:     form.Contracts,
		PurchasePrice: form.PurchasePrice,
		PurchaseDate:  strings.TrimSpace(form.PurchaseDate),
		Broker:        cleanBroker(form.Broker, trade.Broker),
		Notes:         validation.CleanUserText(form.Notes),
	}
	if err := s.validatePurchase(purchase); err != nil {
		return nil, err
	}

	if err := s.repo.AddPurchase(ctx, purchase); err != nil {
		return nil, err
	}
	s.invalidate(userID)
	return s.loadTrade(ctx, userID, tradeID)
}

func (s *tradeServiceImpl) UpdatePurchase(ctx context.Context, userID int64, tradeID, purchaseID string, form models.PurchaseForm) (*models.TradeWithStats, error) {
	current, err := s.loadTrade(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}
	purchase, err := s.repo.GetPurchase(ctx, tradeID, purchaseID)
	if err != nil {
		return nil, err
	}

	previousContracts := purchase.Contracts
	purchase.Contracts = form.Contracts
	purchase.PurchasePrice = form.PurchasePrice
	purchase.PurchaseDate = strings.TrimSpace(form.PurchaseDate)
	purchase.Broker = cleanBroker(form.Broker, purchase.Broker)
	purchase.Notes = validation.CleanUserText(form.Notes)
	if err := s.validatePurchase(purchase); err != nil {
		return nil, err
	}

	bought := current.Stats.TotalContracts - previousContracts + purchase.Contracts
	if bought < current.Stats.TotalSold {
		return nil, fmt.Errorf("%w: cannot reduce purchased contracts below the %d already sold", validation.ErrValidationFailed, current.Stats.TotalSold)
	}
	remaining := slices.DeleteFunc(slices.Clone(current.Purchases), func(p models.ContractPurchase) bool { return p.ID == purchaseID })
	if err := checkFirstPurchaseBeforeSales(append(remaining, *purchase), current.Sales); err != nil {
		return nil, err
	}

	if err := s.repo.UpdatePurchase(ctx, purchase); err != nil {
		return nil, err
	}
	s.invalidate(userID)
	return s.loadTrade(ctx, userID, tradeID)
}

func (s *tradeServiceImpl) DeletePurchase(ctx context.Context, userID int64, tradeID, purchaseID string) (*models.TradeWithStats, error) {
	current, err := s.loadTrade(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}
	purchase, err := s.repo.GetPurchase(ctx, tradeID, purchaseID)
	if err != nil {
		return nil, err
	}

	if current.Stats.TotalContracts-purchase.Contracts < current.Stats.TotalSold {
		return nil, fmt.Errorf("%w: cannot delete a purchase whose contracts have already been sold", validation.ErrValidationFailed)
	}
	remaining := slices.DeleteFunc(slices.Clone(current.Purchases), func(p models.ContractPurchase) bool { return p.ID == purchaseID })
	if err := checkFirstPurchaseBeforeSales(remaining, current.Sales); err != nil {
		return nil, err
	}

	if err := s.repo.DeletePurchase(ctx, tradeID, purchaseID); err != nil {
		return nil, err
	}
	s.invalidate(userID)
	return s.loadTrade(ctx, userID, tradeID)
}

func (s *tradeServiceImpl) AddSale(ctx context.Context, userID int64, tradeID string, form models.SaleForm) (*models.TradeWithStats, error) {
	current, err := s.loadTrade(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}

	sale := &models.ContractSale{
		ID:            uuid.NewString(),
		TradeID:       tradeID,
		ContractsSold: form.ContractsSold,
		SellPrice:     form.SellPrice,
		SellDate:      strings.TrimSpace(form.SellDate),
		Broker:        cleanBroker(form.Broker, current.Broker),
	}
	if err := validation.ValidatePositiveInt(sale.ContractsSold, "contracts sold"); err != nil {
		return nil, err
	}
	if err := validation.ValidatePrice(sale.SellPrice, "sell price"); err != nil {
		return nil, err
	}
	if err := validation.ValidateNotFuture(sale.SellDate, s.today(), "sell date"); err != nil {
		return nil, err
	}
	if err := validation.ValidateStringMaxLength(sale.Broker, validation.MaxBrokerLength, "broker"); err != nil {
		return nil, err
	}
	if first := earliestPurchaseDate(current.Purchases); first != "" && sale.SellDate < first {
		return nil, fmt.Errorf("%w: sell date cannot be before the first purchase date (%s)", validation.ErrValidationFailed, first)
	}
	if sale.ContractsSold > current.Stats.Remaining {
		return nil, fmt.Errorf("%w: cannot sell more contracts than remaining: you have %d contracts remaining",
			validation.ErrValidationFailed, max(current.Stats.Remaining, 0))
	}

	status, err := s.repo.AddSale(ctx, sale)
	if err != nil {
		return nil, err
	}
	if status == models.TradeStatusClosed && current.Status == models.TradeStatusOpen {
		logger.FromContext(ctx).Info("Trade closed after final sale", "tradeID", tradeID)
	}
	s.invalidate(userID)
	return s.loadTrade(ctx, userID, tradeID)
}

func (s *tradeServiceImpl) DeleteSale(ctx context.Context, userID int64, tradeID, saleID string) (*models.TradeWithStats, error) {
	if _, err := s.repo.GetTrade(ctx, userID, tradeID); err != nil {
		return nil, err
	}
	if err := s.repo.DeleteSale(ctx, tradeID, saleID); err != nil {
		return nil, err
	}
	s.invalidate(userID)
	return s.loadTrade(ctx, userID, tradeID)
}

func (s *tradeServiceImpl) SaleBreakdown(ctx context.Context, userID int64, tradeID string) ([]models.SaleResult, error) {
	trade, err := s.loadTrade(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}
	return s.calculator.SaleBreakdown(trade.Purchases, trade.Sales), nil
}

func (s *tradeServiceImpl) loadTrade(ctx context.Context, userID int64, tradeID string) (*models.TradeWithStats, error) {
	trade, err := s.repo.GetTrade(ctx, userID, tradeID)
	if err != nil {
		return nil, err
	}
	withStats, err := s.attachStats(ctx, []models.Trade{*trade})
	if err != nil {
		return nil, err
	}
	return &withStats[0], nil
}

// attachStats loads the records of all trades in two queries and prices each trade.
func (s *tradeServiceImpl) attachStats(ctx context.Context, trades []models.Trade) ([]models.TradeWithStats, error) {
	ids := make([]string, len(trades))
	for i, t := range trades {
		ids[i] = t.ID
	}
	purchases, err := s.repo.ListPurchases(ctx, ids)
	if err != nil {
		return nil, err
	}
	sales, err := s.repo.ListSales(ctx, ids)
	if err != nil {
		return nil, err
	}

	purchasesByTrade := make(map[string][]models.ContractPurchase, len(trades))
	for _, p := range purchases {
		purchasesByTrade[p.TradeID] = append(purchasesByTrade[p.TradeID], p)
	}
	salesByTrade := make(map[string][]models.ContractSale, len(trades))
	for _, sale := range sales {
		salesByTrade[sale.TradeID] = append(salesByTrade[sale.TradeID], sale)
	}

	out := make([]models.TradeWithStats, 0, len(trades))
	for _, t := range trades {
		tp := purchasesByTrade[t.ID]
		if tp == nil {
			tp = []models.ContractPurchase{}
		}
		ts := salesByTrade[t.ID]
		if ts == nil {
			ts = []models.ContractSale{}
		}
		stats := s.calculator.TradeStats(tp, ts)
		if stats.Oversold() {
			logger.FromContext(ctx).Error("Trade has more contracts sold than bought", "tradeID", t.ID, "remaining", stats.Remaining)
		}
		out = append(out, models.TradeWithStats{Trade: t, Purchases: tp, Sales: ts, Stats: stats})
	}
	return out, nil
}

func (s *tradeServiceImpl) validatePurchase(p *models.ContractPurchase) error {
	if err := validation.ValidatePositiveInt(p.Contracts, "contracts"); err != nil {
		return err
	}
	if err := validation.ValidatePrice(p.PurchasePrice, "purchase price"); err != nil {
		return err
	}
	if err := validation.ValidateNotFuture(p.PurchaseDate, s.today(), "purchase date"); err != nil {
		return err
	}
	if err := validation.ValidateStringMaxLength(p.Broker, validation.MaxBrokerLength, "broker"); err != nil {
		return err
	}
	return validation.ValidateStringMaxLength(p.Notes, validation.MaxNotesLength, "notes")
}

func (s *tradeServiceImpl) invalidate(userID int64) {
	InvalidateUserReports(s.reportCache, userID)
}

func validateTradeIdentity(t *models.Trade) error {
	return errors.Join(
		validation.ValidateTicker(t.Ticker),
		validation.ValidateDate(t.ExpiryDate, "expiry date"),
		validation.ValidatePrice(t.StrikePrice, "strike price"),
		validation.ValidateOptionType(t.Type),
		validation.ValidateStringMaxLength(t.Broker, validation.MaxBrokerLength, "broker"),
	)
}

func cleanBroker(broker, fallback string) string {
	broker = validation.CleanUserText(broker)
	if broker == "" {
		return fallback
	}
	return broker
}

// checkFirstPurchaseBeforeSales keeps every sale on or after the first purchase.
func checkFirstPurchaseBeforeSales(purchases []models.ContractPurchase, sales []models.ContractSale) error {
	firstSale := ""
	for _, sale := range sales {
		if firstSale == "" || sale.SellDate < firstSale {
			firstSale = sale.SellDate
		}
	}
	if firstSale == "" {
		return nil
	}
	if first := earliestPurchaseDate(purchases); first == "" || first > firstSale {
		return fmt.Errorf("%w: the first purchase cannot be dated after the first sale (%s)", validation.ErrValidationFailed, firstSale)
	}
	return nil
}

func earliestPurchaseDate(purchases []models.ContractPurchase) string {
	earliest := ""
	for _, p := range purchases {
		if earliest == "" || p.PurchaseDate < earliest {
			earliest = p.PurchaseDate
		}
	}
	return earliest
}
