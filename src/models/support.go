package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	TicketStatusOpen       = "open"
	TicketStatusInProgress = "in_progress"
	TicketStatusResolved   = "resolved"
	TicketStatusClosed     = "closed"

	TicketPriorityLow    = "low"
	TicketPriorityMedium = "medium"
	TicketPriorityHigh   = "high"
	TicketPriorityUrgent = "urgent"
)

// ValidTicketStatus reports whether s is a known ticket status.
func ValidTicketStatus(s string) bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed:
		return true
	}
	return false
}

// SupportTicket is a user-submitted help request.
type SupportTicket struct {
	ID                  int64     `json:"id"`
	ReferenceID         string    `json:"reference_id"`
	UserID              int64     `json:"user_id"`
	UserEmail           string    `json:"user_email"`
	IssueSummary        string    `json:"issue_summary"`
	DetailedDescription string    `json:"detailed_description"`
	AttachmentPath      string    `json:"attachment_url,omitempty"`
	AttachmentFilename  string    `json:"attachment_filename,omitempty"`
	Status              string    `json:"status"`
	Priority            string    `json:"priority"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// BrokerFee is the per-contract commission charged by a broker.
type BrokerFee struct {
	Broker      string          `json:"broker"`
	ContractFee decimal.Decimal `json:"contractFee"`
	Currency    string          `json:"currency"`
}

// SupportTicketForm is the text part of a support request.
type SupportTicketForm struct {
	IssueSummary        string `json:"issue_summary"`
	DetailedDescription string `json:"detailed_description"`
}
