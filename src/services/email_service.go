package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"github.com/optionslog/backend/src/config"
	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/models"
)

const mailgunSendTimeout = 20 * time.Second

// NewEmailService picks Mailgun when it is fully configured and the logging mock otherwise.
func NewEmailService(cfg *config.AppConfig) EmailService {
	if cfg == nil {
		logger.L.Error("Configuration is nil. Email service will default to mock.")
		return &MockEmailService{}
	}

	provider := strings.ToLower(cfg.EmailServiceProvider)
	logger.L.Info("Initializing email service", "provider", provider)

	mock := &MockEmailService{
		VerificationEmailBaseURL: cfg.VerificationEmailBaseURL,
		PasswordResetBaseURL:     cfg.PasswordResetBaseURL,
	}
	if provider != "mailgun" {
		return mock
	}
	if cfg.MailgunDomain == "" || cfg.MailgunPrivateAPIKey == "" || cfg.SenderEmail == "" {
		logger.L.Warn("Mailgun configuration incomplete (Domain, API Key, or SenderEmail missing). Falling back to MockEmailService.")
		return mock
	}

	mg := mailgun.NewMailgun(cfg.MailgunDomain, cfg.MailgunPrivateAPIKey)
	logger.L.Info("Mailgun client initialized", "domain", cfg.MailgunDomain)
	return &MailgunEmailService{
		mg:                       mg,
		senderEmail:              cfg.SenderEmail,
		senderName:               cfg.SenderName,
		verificationEmailBaseURL: cfg.VerificationEmailBaseURL,
		passwordResetBaseURL:     cfg.PasswordResetBaseURL,
		passwordResetExpiry:      cfg.PasswordResetTokenExpiry,
		supportInboxEmail:        cfg.SupportInboxEmail,
	}
}

type MailgunEmailService struct {
	mg                       mailgun.Mailgun
	senderEmail              string
	senderName               string
	verificationEmailBaseURL string
	passwordResetBaseURL     string
	passwordResetExpiry      time.Duration
	supportInboxEmail        string
}

func (s *MailgunEmailService) send(subject, body, tag, to string, bcc ...string) error {
	from := fmt.Sprintf("%s <%s>", s.senderName, s.senderEmail)
	message := s.mg.NewMessage(from, subject, body, to)
	message.AddTag(tag)
	for _, b := range bcc {
		if b != "" {
			message.AddBCC(b)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), mailgunSendTimeout)
	defer cancel()

	resp, id, err := s.mg.Send(ctx, message)
	if err != nil {
		logger.L.Error("Failed to send email via Mailgun", "tag", tag, "error", err, "to", to, "mailgunResp", resp)
		return fmt.Errorf("mailgun send failed for %s: %w", tag, err)
	}
	logger.L.Info("Email sent via Mailgun", "tag", tag, "to", to, "id", id)
	return nil
}

func (s *MailgunEmailService) SendVerificationEmail(toEmail, username, token string) error {
	link := fmt.Sprintf("%s?token=%s", s.verificationEmailBaseURL, token)
	return s.send("Verify your email address", verificationBody(username, link), "verification", toEmail)
}

func (s *MailgunEmailService) SendPasswordResetEmail(toEmail, username, token string) error {
	link := fmt.Sprintf("%s?token=%s", s.passwordResetBaseURL, token)
	return s.send("Password reset request", passwordResetBody(username, link, s.passwordResetExpiry), "password-reset", toEmail)
}

// SendSupportTicketConfirmation copies the support inbox so staff see new tickets.
func (s *MailgunEmailService) SendSupportTicketConfirmation(toEmail, username string, ticket *models.SupportTicket) error {
	subject := fmt.Sprintf("Support request received [%s]", ticket.ReferenceID)
	return s.send(subject, supportTicketBody(username, ticket), "support-ticket", toEmail, s.supportInboxEmail)
}

func verificationBody(username, link string) string {
	return fmt.Sprintf(`Hi %s,

Welcome to Options Logbook! Please verify your email address by opening the link below:
%s

If you did not create an account using this email address, please ignore this email.

Thanks,
The Options Logbook Team`, username, link)
}

func passwordResetBody(username, link string, expiry time.Duration) string {
	return fmt.Sprintf(`Hi %s,

You requested a password reset for your Options Logbook account.
Open the following link to choose a new password:
%s

If you did not request a password reset, please ignore this email. This link will expire in %s.

Thanks,
The Options Logbook Team`, username, link, expiry)
}

func supportTicketBody(username string, ticket *models.SupportTicket) string {
	return fmt.Sprintf(`Hi %s,

We received your support request and will get back to you as soon as possible.

Reference: %s
Summary: %s

Please quote the reference above in any follow-up.

Thanks,
The Options Logbook Team`, username, ticket.ReferenceID, ticket.IssueSummary)
}

// SentEmail is a message the mock would have delivered.
type SentEmail struct {
	Kind  string
	To    string
	Token string
	Body  string
}

// MockEmailService logs instead of sending and keeps what it would have sent.
type MockEmailService struct {
	VerificationEmailBaseURL string
	PasswordResetBaseURL     string

	mu   sync.Mutex
	sent []SentEmail
}

func (m *MockEmailService) record(e SentEmail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, e)
}

// Sent returns a copy of every recorded message.
func (m *MockEmailService) Sent() []SentEmail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentEmail(nil), m.sent...)
}

func (m *MockEmailService) SendVerificationEmail(toEmail, username, token string) error {
	link := fmt.Sprintf("%s?token=%s", m.VerificationEmailBaseURL, token)
	logger.L.Info("MockEmailService: Would send verification email.", "to", toEmail, "username", username, "verificationLink", link)
	m.record(SentEmail{Kind: "verification", To: toEmail, Token: token, Body: verificationBody(username, link)})
	return nil
}

func (m *MockEmailService) SendPasswordResetEmail(toEmail, username, token string) error {
	link := fmt.Sprintf("%s?token=%s", m.PasswordResetBaseURL, token)
	logger.L.Info("MockEmailService: Would send password reset email.", "to", toEmail, "username", username, "resetLink", link)
	m.record(SentEmail{Kind: "password-reset", To: toEmail, Token: token, Body: passwordResetBody(username, link, time.Hour)})
	return nil
}

func (m *MockEmailService) SendSupportTicketConfirmation(toEmail, username string, ticket *models.SupportTicket) error {
	logger.L.Info("MockEmailService: Would send support ticket confirmation.", "to", toEmail, "reference", ticket.ReferenceID)
	m.record(SentEmail{Kind: "support-ticket", To: toEmail, Body: supportTicketBody(username, ticket)})
	return nil
}
