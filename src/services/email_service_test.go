package services

import (
	"testing"
	"time"

	"github.com/optionslog/backend/src/config"
	"github.com/optionslog/backend/src/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmailServiceSelectsProvider(t *testing.T) {
	assert.IsType(t, &MockEmailService{}, NewEmailService(nil))
	assert.IsType(t, &MockEmailService{}, NewEmailService(&config.AppConfig{EmailServiceProvider: "mock"}))
	assert.IsType(t, &MockEmailService{}, NewEmailService(&config.AppConfig{EmailServiceProvider: "mailgun", MailgunDomain: "mg.example.com"}),
		"incomplete mailgun settings fall back to the mock")

	svc := NewEmailService(&config.AppConfig{
		EmailServiceProvider:     "Mailgun",
		MailgunDomain:            "mg.example.com",
		MailgunPrivateAPIKey:     "key-test",
		SenderEmail:              "noreply@example.com",
		SenderName:               "Options Logbook",
		PasswordResetTokenExpiry: time.Hour,
	})
	assert.IsType(t, &MailgunEmailService{}, svc)
}

func TestMockEmailServiceRecords(t *testing.T) {
	mock := &MockEmailService{
		VerificationEmailBaseURL: "https://app.example.com/verify-email",
		PasswordResetBaseURL:     "https://app.example.com/reset-password",
	}

	require.NoError(t, mock.SendVerificationEmail("alice@example.com", "alice", "tok1"))
	require.NoError(t, mock.SendPasswordResetEmail("alice@example.com", "alice", "tok2"))
	require.NoError(t, mock.SendSupportTicketConfirmation("alice@example.com", "alice", &models.SupportTicket{ReferenceID: "SUP-20250328-ABC123", IssueSummary: "Chart"}))

	sent := mock.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, "tok1", sent[0].Token)
	assert.Contains(t, sent[0].Body, "https://app.example.com/verify-email?token=tok1")
	assert.Contains(t, sent[1].Body, "https://app.example.com/reset-password?token=tok2")
	assert.Contains(t, sent[2].Body, "SUP-20250328-ABC123")
}
