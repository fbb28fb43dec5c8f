package services

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/optionslog/backend/src/models"
)

const (
	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

var ErrAttachmentTooLarge = errors.New("attachment exceeds the maximum allowed size")

// Clock returns the current time. Services take one so date rules can be tested.
type Clock func() time.Time

// TradeService validates user input, persists it through the repository and
// returns trades priced by the P&L engine.
type TradeService interface {
	CreateTrade(ctx context.Context, userID int64, form models.TradeForm) (*models.TradeWithStats, error)
	GetTrade(ctx context.Context, userID int64, tradeID string) (*models.TradeWithStats, error)
	ListTrades(ctx context.Context, userID int64, filter models.TradeFilter) (*models.TradePage, error)
	UpdateTrade(ctx context.Context, userID int64, tradeID string, form models.TradeUpdateForm) (*models.TradeWithStats, error)
	DeleteTrade(ctx context.Context, userID int64, tradeID string) error

	AddPurchase(ctx context.Context, userID int64, tradeID string, form models.PurchaseForm) (*models.TradeWithStats, error)
	UpdatePurchase(ctx context.Context, userID int64, tradeID, purchaseID string, form models.PurchaseForm) (*models.TradeWithStats, error)
	DeletePurchase(ctx context.Context, userID int64, tradeID, purchaseID string) (*models.TradeWithStats, error)

	AddSale(ctx context.Context, userID int64, tradeID string, form models.SaleForm) (*models.TradeWithStats, error)
	DeleteSale(ctx context.Context, userID int64, tradeID, saleID string) (*models.TradeWithStats, error)
	SaleBreakdown(ctx context.Context, userID int64, tradeID string) ([]models.SaleResult, error)

	// ExportTrades returns every trade of the user, newest first.
	ExportTrades(ctx context.Context, userID int64) ([]models.TradeWithStats, error)
	ImportActivities(ctx context.Context, userID int64, activities []models.CanonicalActivity) (*models.ImportResult, error)
}

type PortfolioService interface {
	GetSummary(ctx context.Context, userID int64) (*models.PortfolioSummary, error)
	GetAccountValueChart(ctx context.Context, userID int64, rangeKey string) (*models.AccountValueChart, error)
	InvalidateUserCache(userID int64)
}

type ChartRenderer interface {
	RenderAccountValue(w io.Writer, chart *models.AccountValueChart) error
}

// Attachment is an uploaded file that has not been stored yet.
type Attachment struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

type SupportService interface {
	CreateTicket(ctx context.Context, userID int64, userEmail, username string, form models.SupportTicketForm, attachment *Attachment) (*models.SupportTicket, error)
	ListUserTickets(ctx context.Context, userID int64) ([]models.SupportTicket, error)
	ListTickets(ctx context.Context, status string, page, pageSize int) ([]models.SupportTicket, int, error)
	UpdateTicketStatus(ctx context.Context, referenceID, status string) error
}

type EmailService interface {
	SendVerificationEmail(toEmail, username, token string) error
	SendPasswordResetEmail(toEmail, username, token string) error
	SendSupportTicketConfirmation(toEmail, username string, ticket *models.SupportTicket) error
}
