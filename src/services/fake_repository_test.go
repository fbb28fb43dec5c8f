package services

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/repository"
)

// memoryTradeRepository is an in-memory TradeRepository for service tests.
type memoryTradeRepository struct {
	mu        sync.Mutex
	trades    []models.Trade // insertion order
	purchases []models.ContractPurchase
	sales     []models.ContractSale
	failNext  error
}

func newMemoryTradeRepository() *memoryTradeRepository {
	return &memoryTradeRepository{}
}

func (r *memoryTradeRepository) takeFailure() error {
	err := r.failNext
	r.failNext = nil
	return err
}

func (r *memoryTradeRepository) tradeIndex(id string) int {
	return slices.IndexFunc(r.trades, func(t models.Trade) bool { return t.ID == id })
}

func (r *memoryTradeRepository) CreateTradeWithPurchase(_ context.Context, trade *models.Trade, purchase *models.ContractPurchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.takeFailure(); err != nil {
		return err
	}
	purchase.TradeID = trade.ID
	r.trades = append(r.trades, *trade)
	r.purchases = append(r.purchases, *purchase)
	return nil
}

func (r *memoryTradeRepository) GetTrade(_ context.Context, userID int64, tradeID string) (*models.Trade, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.tradeIndex(tradeID)
	if i < 0 || r.trades[i].UserID != userID {
		return nil, fmt.Errorf("%w: trade %s", repository.ErrNotFound, tradeID)
	}
	t := r.trades[i]
	return &t, nil
}

func (r *memoryTradeRepository) ListTrades(_ context.Context, userID int64, filter models.TradeFilter) ([]models.Trade, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	matches := func(values []string, v string) bool { return len(values) == 0 || slices.Contains(values, v) }

	var out []models.Trade
	for i := len(r.trades) - 1; i >= 0; i-- {
		t := r.trades[i]
		if t.UserID == userID && matches(filter.Tickers, t.Ticker) && matches(filter.Types, t.Type) && matches(filter.Statuses, t.Status) {
			out = append(out, t)
		}
	}
	total := len(out)
	if filter.PageSize > 0 {
		start := min(filter.Offset(), total)
		end := min(start+filter.PageSize, total)
		out = out[start:end]
	}
	return out, total, nil
}

func (r *memoryTradeRepository) UpdateTrade(_ context.Context, trade *models.Trade) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.tradeIndex(trade.ID)
	if i < 0 || r.trades[i].UserID != trade.UserID {
		return repository.ErrNotFound
	}
	r.trades[i] = *trade
	return nil
}

func (r *memoryTradeRepository) DeleteTrade(_ context.Context, userID int64, tradeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.tradeIndex(tradeID)
	if i < 0 || r.trades[i].UserID != userID {
		return repository.ErrNotFound
	}
	r.trades = slices.Delete(r.trades, i, i+1)
	r.purchases = slices.DeleteFunc(r.purchases, func(p models.ContractPurchase) bool { return p.TradeID == tradeID })
	r.sales = slices.DeleteFunc(r.sales, func(s models.ContractSale) bool { return s.TradeID == tradeID })
	return nil
}

func (r *memoryTradeRepository) ListPurchases(_ context.Context, tradeIDs []string) ([]models.ContractPurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.ContractPurchase{}
	for _, p := range r.purchases {
		if slices.Contains(tradeIDs, p.TradeID) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryTradeRepository) ListSales(_ context.Context, tradeIDs []string) ([]models.ContractSale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []models.ContractSale{}
	for _, s := range r.sales {
		if slices.Contains(tradeIDs, s.TradeID) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *memoryTradeRepository) userTradeIDs(userID int64) []string {
	var ids []string
	for _, t := range r.trades {
		if t.UserID == userID {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

func (r *memoryTradeRepository) ListUserPurchases(ctx context.Context, userID int64) ([]models.ContractPurchase, error) {
	r.mu.Lock()
	ids := r.userTradeIDs(userID)
	r.mu.Unlock()
	return r.ListPurchases(ctx, ids)
}

func (r *memoryTradeRepository) ListUserSales(ctx context.Context, userID int64) ([]models.ContractSale, error) {
	r.mu.Lock()
	ids := r.userTradeIDs(userID)
	r.mu.Unlock()
	return r.ListSales(ctx, ids)
}

func (r *memoryTradeRepository) GetPurchase(_ context.Context, tradeID, purchaseID string) (*models.ContractPurchase, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.purchases {
		if p.ID == purchaseID && p.TradeID == tradeID {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("%w: purchase %s", repository.ErrNotFound, purchaseID)
}

func (r *memoryTradeRepository) AddPurchase(_ context.Context, purchase *models.ContractPurchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tradeIndex(purchase.TradeID) < 0 {
		return repository.ErrNotFound
	}
	r.purchases = append(r.purchases, *purchase)
	return nil
}

func (r *memoryTradeRepository) UpdatePurchase(_ context.Context, purchase *models.ContractPurchase) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, p := range r.purchases {
		if p.ID == purchase.ID && p.TradeID == purchase.TradeID {
			r.purchases[i] = *purchase
			return nil
		}
	}
	return repository.ErrNotFound
}

func (r *memoryTradeRepository) DeletePurchase(_ context.Context, tradeID, purchaseID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.purchases)
	r.purchases = slices.DeleteFunc(r.purchases, func(p models.ContractPurchase) bool { return p.ID == purchaseID && p.TradeID == tradeID })
	if len(r.purchases) == n {
		return repository.ErrNotFound
	}
	return nil
}

func (r *memoryTradeRepository) AddSale(_ context.Context, sale *models.ContractSale) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.tradeIndex(sale.TradeID)
	if i < 0 {
		return "", repository.ErrNotFound
	}
	r.sales = append(r.sales, *sale)

	var bought, sold int
	for _, p := range r.purchases {
		if p.TradeID == sale.TradeID {
			bought += p.Contracts
		}
	}
	for _, s := range r.sales {
		if s.TradeID == sale.TradeID {
			sold += s.ContractsSold
		}
	}
	if r.trades[i].Status == models.TradeStatusOpen && bought-sold <= 0 {
		r.trades[i].Status = models.TradeStatusClosed
	}
	return r.trades[i].Status, nil
}

func (r *memoryTradeRepository) DeleteSale(_ context.Context, tradeID, saleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.sales)
	r.sales = slices.DeleteFunc(r.sales, func(s models.ContractSale) bool { return s.ID == saleID && s.TradeID == tradeID })
	if len(r.sales) == n {
		return repository.ErrNotFound
	}
	return nil
}

type memorySupportRepository struct {
	mu      sync.Mutex
	tickets []models.SupportTicket
}

func (r *memorySupportRepository) CreateTicket(_ context.Context, ticket *models.SupportTicket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket.ID = int64(len(r.tickets) + 1)
	r.tickets = append(r.tickets, *ticket)
	return nil
}

func (r *memorySupportRepository) GetTicketByReference(_ context.Context, referenceID string) (*models.SupportTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tickets {
		if t.ReferenceID == referenceID {
			return &t, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *memorySupportRepository) ListTicketsByUser(_ context.Context, userID int64) ([]models.SupportTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SupportTicket
	for _, t := range r.tickets {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *memorySupportRepository) ListTickets(_ context.Context, status string, limit, offset int) ([]models.SupportTicket, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SupportTicket
	for _, t := range r.tickets {
		if status == "" || t.Status == status {
			out = append(out, t)
		}
	}
	total := len(out)
	start := min(offset, total)
	return out[start:min(start+limit, total)], total, nil
}

func (r *memorySupportRepository) UpdateTicketStatus(_ context.Context, referenceID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.tickets {
		if r.tickets[i].ReferenceID == referenceID {
			r.tickets[i].Status = status
			return nil
		}
	}
	return repository.ErrNotFound
}
