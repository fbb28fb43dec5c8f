// Package repository is the persistence boundary for trades and support
// tickets. Handlers and services depend on the interfaces; main wires the
// SQLite implementations.
package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/optionslog/backend/src/models"
)

// ErrNotFound is returned when a record does not exist or belongs to another user.
var ErrNotFound = errors.New("record not found")

type TradeRepository interface {
	// CreateTradeWithPurchase stores a trade and its first purchase atomically.
	CreateTradeWithPurchase(ctx context.Context, trade *models.Trade, purchase *models.ContractPurchase) error
	GetTrade(ctx context.Context, userID int64, tradeID string) (*models.Trade, error)
	// ListTrades returns one page of trades, newest first, and the unpaged count.
	ListTrades(ctx context.Context, userID int64, filter models.TradeFilter) ([]models.Trade, int, error)
	UpdateTrade(ctx context.Context, trade *models.Trade) error
	DeleteTrade(ctx context.Context, userID int64, tradeID string) error

	ListPurchases(ctx context.Context, tradeIDs []string) ([]models.ContractPurchase, error)
	ListSales(ctx context.Context, tradeIDs []string) ([]models.ContractSale, error)
	ListUserPurchases(ctx context.Context, userID int64) ([]models.ContractPurchase, error)
	ListUserSales(ctx context.Context, userID int64) ([]models.ContractSale, error)

	GetPurchase(ctx context.Context, tradeID, purchaseID string) (*models.ContractPurchase, error)
	AddPurchase(ctx context.Context, purchase *models.ContractPurchase) error
	UpdatePurchase(ctx context.Context, purchase *models.ContractPurchase) error
	DeletePurchase(ctx context.Context, tradeID, purchaseID string) error

	// AddSale stores the sale and closes the trade once nothing remains open.
	// It returns the trade status after the sale. A closed trade is never reopened.
	AddSale(ctx context.Context, sale *models.ContractSale) (string, error)
	DeleteSale(ctx context.Context, tradeID, saleID string) error
}

type SupportRepository interface {
	CreateTicket(ctx context.Context, ticket *models.SupportTicket) error
	GetTicketByReference(ctx context.Context, referenceID string) (*models.SupportTicket, error)
	ListTicketsByUser(ctx context.Context, userID int64) ([]models.SupportTicket, error)
	ListTickets(ctx context.Context, status string, limit, offset int) ([]models.SupportTicket, int, error)
	UpdateTicketStatus(ctx context.Context, referenceID, status string) error
}

// placeholders returns "?, ?, ?" for n values and the values as []any.
func placeholders(values []string) (string, []any) {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", "), args
}
