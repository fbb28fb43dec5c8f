package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/optionslog/backend/src/models"
)

type sqliteSupportRepository struct {
	db *sql.DB
}

func NewSQLiteSupportRepository(db *sql.DB) SupportRepository {
	return &sqliteSupportRepository{db: db}
}

const ticketColumns = `id, reference_id, user_id, user_email, issue_summary, detailed_description,
	attachment_path, attachment_filename, status, priority, created_at, updated_at`

func scanTicket(row scanner) (models.SupportTicket, error) {
	var t models.SupportTicket
	err := row.Scan(&t.ID, &t.ReferenceID, &t.UserID, &t.UserEmail, &t.IssueSummary, &t.DetailedDescription,
		&t.AttachmentPath, &t.AttachmentFilename, &t.Status, &t.Priority, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (r *sqliteSupportRepository) CreateTicket(ctx context.Context, ticket *models.SupportTicket) error {
	now := time.Now()
	ticket.CreatedAt, ticket.UpdatedAt = now, now
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO support_tickets (reference_id, user_id, user_email, issue_summary, detailed_description,
			attachment_path, attachment_filename, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.ReferenceID, ticket.UserID, ticket.UserEmail, ticket.IssueSummary, ticket.DetailedDescription,
		ticket.AttachmentPath, ticket.AttachmentFilename, ticket.Status, ticket.Priority, ticket.CreatedAt, ticket.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert support ticket: %w", err)
	}
	ticket.ID, err = res.LastInsertId()
	return err
}

func (r *sqliteSupportRepository) GetTicketByReference(ctx context.Context, referenceID string) (*models.SupportTicket, error) {
	t, err := scanTicket(r.db.QueryRowContext(ctx, "SELECT "+ticketColumns+" FROM support_tickets WHERE reference_id = ?", referenceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: support ticket %s", ErrNotFound, referenceID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load support ticket %s: %w", referenceID, err)
	}
	return &t, nil
}

func (r *sqliteSupportRepository) ListTicketsByUser(ctx context.Context, userID int64) ([]models.SupportTicket, error) {
	return r.queryTickets(ctx, "SELECT "+ticketColumns+" FROM support_tickets WHERE user_id = ? ORDER BY created_at DESC, id DESC", userID)
}

// ListTickets pages through all tickets, optionally narrowed to one status.
func (r *sqliteSupportRepository) ListTickets(ctx context.Context, status string, limit, offset int) ([]models.SupportTicket, int, error) {
	where := "1 = 1"
	args := []any{}
	if status != "" {
		where = "status = ?"
		args = append(args, status)
	}

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM support_tickets WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count support tickets: %w", err)
	}
	tickets, err := r.queryTickets(ctx, "SELECT "+ticketColumns+" FROM support_tickets WHERE "+where+" ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		append(args, limit, offset)...)
	return tickets, total, err
}

func (r *sqliteSupportRepository) UpdateTicketStatus(ctx context.Context, referenceID, status string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE support_tickets SET status = ?, updated_at = ? WHERE reference_id = ?", status, time.Now(), referenceID)
	if err != nil {
		return fmt.Errorf("failed to update support ticket %s: %w", referenceID, err)
	}
	return expectRow(res, "support ticket", referenceID)
}

func (r *sqliteSupportRepository) queryTickets(ctx context.Context, query string, args ...any) ([]models.SupportTicket, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list support tickets: %w", err)
	}
	defer rows.Close()

	tickets := []models.SupportTicket{}
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan support ticket: %w", err)
		}
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}
