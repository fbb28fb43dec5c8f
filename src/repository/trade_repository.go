package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/security/validation"
)

type sqliteTradeRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteTradeRepository(db *sql.DB) TradeRepository {
	return &sqliteTradeRepository{db: db, now: time.Now}
}

const tradeColumns = "id, user_id, option_name, stock_ticker, expiry_date, strike_price, type, status, broker, created_at, updated_at"
const purchaseColumns = "id, trade_id, contracts, purchase_price, purchase_date, broker, notes, created_at, updated_at"
const saleColumns = "id, trade_id, contracts_sold, sell_price, sell_date, broker, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(row scanner) (models.Trade, error) {
	var t models.Trade
	err := row.Scan(&t.ID, &t.UserID, &t.OptionName, &t.Ticker, &t.ExpiryDate, &t.StrikePrice,
		&t.Type, &t.Status, &t.Broker, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func scanPurchase(row scanner) (models.ContractPurchase, error) {
	var p models.ContractPurchase
	err := row.Scan(&p.ID, &p.TradeID, &p.Contracts, &p.PurchasePrice, &p.PurchaseDate,
		&p.Broker, &p.Notes, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func scanSale(row scanner) (models.ContractSale, error) {
	var s models.ContractSale
	err := row.Scan(&s.ID, &s.TradeID, &s.ContractsSold, &s.SellPrice, &s.SellDate, &s.Broker, &s.CreatedAt)
	return s, err
}

func (r *sqliteTradeRepository) CreateTradeWithPurchase(ctx context.Context, trade *models.Trade, purchase *models.ContractPurchase) error {
	now := r.now()
	trade.CreatedAt, trade.UpdatedAt = now, now
	purchase.TradeID = trade.ID
	purchase.CreatedAt, purchase.UpdatedAt = now, now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, "INSERT INTO trades ("+tradeColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		trade.ID, trade.UserID, trade.OptionName, trade.Ticker, trade.ExpiryDate, trade.StrikePrice,
		trade.Type, trade.Status, trade.Broker, trade.CreatedAt, trade.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	if err := insertPurchase(ctx, tx, purchase); err != nil {
		return err
	}
	return tx.Commit()
}

func insertPurchase(ctx context.Context, tx *sql.Tx, p *models.ContractPurchase) error {
	_, err := tx.ExecContext(ctx, "INSERT INTO contract_purchases ("+purchaseColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		p.ID, p.TradeID, p.Contracts, p.PurchasePrice, p.PurchaseDate, p.Broker, p.Notes, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert purchase: %w", err)
	}
	return nil
}

func (r *sqliteTradeRepository) GetTrade(ctx context.Context, userID int64, tradeID string) (*models.Trade, error) {
	t, err := scanTrade(r.db.QueryRowContext(ctx, "SELECT "+tradeColumns+" FROM trades WHERE id = ? AND user_id = ?", tradeID, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: trade %s", ErrNotFound, tradeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load trade %s: %w", tradeID, err)
	}
	return &t, nil
}

func (r *sqliteTradeRepository) ListTrades(ctx context.Context, userID int64, filter models.TradeFilter) ([]models.Trade, int, error) {
	where := []string{"user_id = ?"}
	args := []any{userID}
	for column, values := range map[string][]string{
		"stock_ticker": filter.Tickers,
		"type":         filter.Types,
		"status":       filter.Statuses,
	} {
		if len(values) == 0 {
			continue
		}
		ph, vals := placeholders(values)
		where = append(where, fmt.Sprintf("%s IN (%s)", column, ph))
		args = append(args, vals...)
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trades WHERE "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count trades: %w", err)
	}

	query := "SELECT " + tradeColumns + " FROM trades WHERE " + whereClause + " ORDER BY created_at DESC, rowid DESC"
	if filter.PageSize > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.PageSize, filter.Offset())
	}
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	trades := []models.Trade{}
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, total, rows.Err()
}

func (r *sqliteTradeRepository) UpdateTrade(ctx context.Context, trade *models.Trade) error {
	trade.UpdatedAt = r.now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE trades
		SET option_name = ?, stock_ticker = ?, expiry_date = ?, strike_price = ?, type = ?, status = ?, broker = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		trade.OptionName, trade.Ticker, trade.ExpiryDate, trade.StrikePrice, trade.Type, trade.Status, trade.Broker,
		trade.UpdatedAt, trade.ID, trade.UserID)
	if err != nil {
		return fmt.Errorf("failed to update trade %s: %w", trade.ID, err)
	}
	return expectRow(res, "trade", trade.ID)
}

func (r *sqliteTradeRepository) DeleteTrade(ctx context.Context, userID int64, tradeID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM trades WHERE id = ? AND user_id = ?", tradeID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete trade %s: %w", tradeID, err)
	}
	return expectRow(res, "trade", tradeID)
}

func (r *sqliteTradeRepository) ListPurchases(ctx context.Context, tradeIDs []string) ([]models.ContractPurchase, error) {
	if len(tradeIDs) == 0 {
		return []models.ContractPurchase{}, nil
	}
	ph, args := placeholders(tradeIDs)
	return r.queryPurchases(ctx, "SELECT "+purchaseColumns+" FROM contract_purchases WHERE trade_id IN ("+ph+") ORDER BY purchase_date, created_at", args...)
}

func (r *sqliteTradeRepository) ListUserPurchases(ctx context.Context, userID int64) ([]models.ContractPurchase, error) {
	return r.queryPurchases(ctx, `
		SELECT p.id, p.trade_id, p.contracts, p.purchase_price, p.purchase_date, p.broker, p.notes, p.created_at, p.updated_at
		FROM contract_purchases p JOIN trades t ON t.id = p.trade_id
		WHERE t.user_id = ?
		ORDER BY p.purchase_date, p.created_at`, userID)
}

func (r *sqliteTradeRepository) queryPurchases(ctx context.Context, query string, args ...any) ([]models.ContractPurchase, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	purchases := []models.ContractPurchase{}
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	return purchases, rows.Err()
}

func (r *sqliteTradeRepository) ListSales(ctx context.Context, tradeIDs []string) ([]models.ContractSale, error) {
	if len(tradeIDs) == 0 {
		return []models.ContractSale{}, nil
	}
	ph, args := placeholders(tradeIDs)
	return r.querySales(ctx, "SELECT "+saleColumns+" FROM contract_sales WHERE trade_id IN ("+ph+") ORDER BY sell_date, created_at", args...)
}

func (r *sqliteTradeRepository) ListUserSales(ctx context.Context, userID int64) ([]models.ContractSale, error) {
	return r.querySales(ctx, `
		SELECT s.id, s.trade_id, s.contracts_sold, s.sell_price, s.sell_date, s.broker, s.created_at
		FROM contract_sales s JOIN trades t ON t.id = s.trade_id
		WHERE t.user_id = ?
		ORDER BY s.sell_date, s.created_at`, userID)
}

func (r *sqliteTradeRepository) querySales(ctx context.Context, query string, args ...any) ([]models.ContractSale, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	defer rows.Close()

	sales := []models.ContractSale{}
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sale: %w", err)
		}
		sales = append(sales, s)
	}
	return sales, rows.Err()
}

func (r *sqliteTradeRepository) GetPurchase(ctx context.Context, tradeID, purchaseID string) (*models.ContractPurchase, error) {
	p, err := scanPurchase(r.db.QueryRowContext(ctx, "SELECT "+purchaseColumns+" FROM contract_purchases WHERE id = ? AND trade_id = ?", purchaseID, tradeID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: purchase %s", ErrNotFound, purchaseID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase %s: %w", purchaseID, err)
	}
	return &p, nil
}

func (r *sqliteTradeRepository) AddPurchase(ctx context.Context, purchase *models.ContractPurchase) error {
	now := r.now()
	purchase.CreatedAt, purchase.UpdatedAt = now, now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertPurchase(ctx, tx, purchase); err != nil {
		return err
	}
	if err := touchTrade(ctx, tx, purchase.TradeID, now); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteTradeRepository) UpdatePurchase(ctx context.Context, purchase *models.ContractPurchase) error {
	purchase.UpdatedAt = r.now()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE contract_purchases
		SET contracts = ?, purchase_price = ?, purchase_date = ?, broker = ?, notes = ?, updated_at = ?
		WHERE id = ? AND trade_id = ?`,
		purchase.Contracts, purchase.PurchasePrice, purchase.PurchaseDate, purchase.Broker, purchase.Notes,
		purchase.UpdatedAt, purchase.ID, purchase.TradeID)
	if err != nil {
		return fmt.Errorf("failed to update purchase %s: %w", purchase.ID, err)
	}
	if err := expectRow(res, "purchase", purchase.ID); err != nil {
		return err
	}
	if err := checkPurchasesCoverSales(ctx, tx, purchase.TradeID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteTradeRepository) DeletePurchase(ctx context.Context, tradeID, purchaseID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM contract_purchases WHERE id = ? AND trade_id = ?", purchaseID, tradeID)
	if err != nil {
		return fmt.Errorf("failed to delete purchase %s: %w", purchaseID, err)
	}
	if err := expectRow(res, "purchase", purchaseID); err != nil {
		return err
	}
	if err := checkPurchasesCoverSales(ctx, tx, tradeID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteTradeRepository) AddSale(ctx context.Context, sale *models.ContractSale) (string, error) {
	now := r.now()
	sale.CreatedAt = now

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRowContext(ctx, "SELECT status FROM trades WHERE id = ?", sale.TradeID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: trade %s", ErrNotFound, sale.TradeID)
	}
	if err != nil {
		return "", fmt.Errorf("failed to load trade %s: %w", sale.TradeID, err)
	}

	_, err = tx.ExecContext(ctx, "INSERT INTO contract_sales ("+saleColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		sale.ID, sale.TradeID, sale.ContractsSold, sale.SellPrice, sale.SellDate, sale.Broker, sale.CreatedAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert sale: %w", err)
	}

	h, err := loadHoldings(ctx, tx, sale.TradeID)
	if err != nil {
		return "", err
	}
	if h.sold > h.bought {
		return "", fmt.Errorf("%w: cannot sell more contracts than remaining: you have %d contracts remaining",
			validation.ErrValidationFailed, max(h.bought-(h.sold-sale.ContractsSold), 0))
	}
	if h.firstPurchase != "" && sale.SellDate < h.firstPurchase {
		return "", fmt.Errorf("%w: sell date cannot be before the first purchase date (%s)", validation.ErrValidationFailed, h.firstPurchase)
	}

	if status == models.TradeStatusOpen && h.bought-h.sold <= 0 {
		status = models.TradeStatusClosed
		if _, err := tx.ExecContext(ctx, "UPDATE trades SET status = ?, updated_at = ? WHERE id = ?", status, now, sale.TradeID); err != nil {
			return "", fmt.Errorf("failed to close trade %s: %w", sale.TradeID, err)
		}
	} else if err := touchTrade(ctx, tx, sale.TradeID, now); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return status, nil
}

func (r *sqliteTradeRepository) DeleteSale(ctx context.Context, tradeID, saleID string) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM contract_sales WHERE id = ? AND trade_id = ?", saleID, tradeID)
	if err != nil {
		return fmt.Errorf("failed to delete sale %s: %w", saleID, err)
	}
	return expectRow(res, "sale", saleID)
}

// holdings are a trade's contract totals and first dates, read inside the
// writing transaction.
type holdings struct {
	bought, sold             int
	firstPurchase, firstSale string
}

func loadHoldings(ctx context.Context, tx *sql.Tx, tradeID string) (holdings, error) {
	var h holdings
	err := tx.QueryRowContext(ctx, `
		SELECT
			(SELECT COALESCE(SUM(contracts), 0) FROM contract_purchases WHERE trade_id = ?),
			(SELECT COALESCE(SUM(contracts_sold), 0) FROM contract_sales WHERE trade_id = ?),
			(SELECT COALESCE(MIN(purchase_date), '') FROM contract_purchases WHERE trade_id = ?),
			(SELECT COALESCE(MIN(sell_date), '') FROM contract_sales WHERE trade_id = ?)`,
		tradeID, tradeID, tradeID, tradeID).Scan(&h.bought, &h.sold, &h.firstPurchase, &h.firstSale)
	if err != nil {
		return holdings{}, fmt.Errorf("failed to total contracts for trade %s: %w", tradeID, err)
	}
	return h, nil
}

// checkPurchasesCoverSales rejects a purchase change that leaves more
// contracts sold than bought, or a sale dated before every purchase.
func checkPurchasesCoverSales(ctx context.Context, tx *sql.Tx, tradeID string) error {
	h, err := loadHoldings(ctx, tx, tradeID)
	if err != nil {
		return err
	}
	if h.sold > h.bought {
		return fmt.Errorf("%w: cannot reduce purchased contracts below the %d already sold", validation.ErrValidationFailed, h.sold)
	}
	if h.firstSale != "" && (h.firstPurchase == "" || h.firstPurchase > h.firstSale) {
		return fmt.Errorf("%w: the first purchase cannot be dated after the first sale (%s)", validation.ErrValidationFailed, h.firstSale)
	}
	return nil
}

func touchTrade(ctx context.Context, tx *sql.Tx, tradeID string, at time.Time) error {
	res, err := tx.ExecContext(ctx, "UPDATE trades SET updated_at = ? WHERE id = ?", at, tradeID)
	if err != nil {
		return fmt.Errorf("failed to touch trade %s: %w", tradeID, err)
	}
	return expectRow(res, "trade", tradeID)
}

func expectRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}
