package services

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/security/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var referencePattern = regexp.MustCompile(`^SUP-20250328-[A-Z0-9]{6}$`)

func newTestSupportService(t *testing.T) (SupportService, *memorySupportRepository, *MockEmailService, string) {
	dir := t.TempDir()
	repo := &memorySupportRepository{}
	mail := &MockEmailService{}
	return NewSupportService(repo, mail, dir, 1024, fixedClock), repo, mail, dir
}

func pngBytes() []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), make([]byte, 64)...)
}

func TestCreateTicketWithoutAttachment(t *testing.T) {
	svc, repo, mail, _ := newTestSupportService(t)

	ticket, err := svc.CreateTicket(context.Background(), testUserID, "alice@example.com", "alice",
		models.SupportTicketForm{IssueSummary: "  Chart empty ", DetailedDescription: "<script>x</script>No points shown"}, nil)
	require.NoError(t, err)

	assert.Regexp(t, referencePattern, ticket.ReferenceID)
	assert.Equal(t, "Chart empty", ticket.IssueSummary)
	assert.Equal(t, "No points shown", ticket.DetailedDescription)
	assert.Equal(t, models.TicketStatusOpen, ticket.Status)
	assert.Equal(t, models.TicketPriorityMedium, ticket.Priority)
	assert.Empty(t, ticket.AttachmentPath)
	assert.Len(t, repo.tickets, 1)

	sent := mail.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "support-ticket", sent[0].Kind)
	assert.Contains(t, sent[0].Body, ticket.ReferenceID)
}

func TestCreateTicketStoresAttachment(t *testing.T) {
	svc, _, _, dir := newTestSupportService(t)
	content := pngBytes()

	ticket, err := svc.CreateTicket(context.Background(), testUserID, "alice@example.com", "alice",
		models.SupportTicketForm{IssueSummary: "Broken", DetailedDescription: "See screenshot"},
		&Attachment{Filename: "../../screen shot.png", Size: int64(len(content)), Content: bytes.NewReader(content)})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("1", ticket.ReferenceID+".png"), ticket.AttachmentPath)
	assert.Equal(t, "screen shot.png", ticket.AttachmentFilename)
	stored, err := os.ReadFile(filepath.Join(dir, ticket.AttachmentPath))
	require.NoError(t, err)
	assert.Equal(t, content, stored)
}

func TestCreateTicketRejectsBadAttachments(t *testing.T) {
	svc, repo, _, dir := newTestSupportService(t)
	ctx := context.Background()
	form := models.SupportTicketForm{IssueSummary: "Broken", DetailedDescription: "Details"}

	big := bytes.Repeat([]byte("a"), 2048)
	_, err := svc.CreateTicket(ctx, testUserID, "a@example.com", "a", form,
		&Attachment{Filename: "big.txt", Size: int64(len(big)), Content: bytes.NewReader(big)})
	assert.ErrorIs(t, err, ErrAttachmentTooLarge)

	// A size header that lies is caught while copying.
	_, err = svc.CreateTicket(ctx, testUserID, "a@example.com", "a", form,
		&Attachment{Filename: "big.txt", Size: 10, Content: bytes.NewReader(big)})
	assert.ErrorIs(t, err, ErrAttachmentTooLarge)

	exe := []byte("MZ\x90\x00\x03\x00\x00\x00\x04\x00")
	_, err = svc.CreateTicket(ctx, testUserID, "a@example.com", "a", form,
		&Attachment{Filename: "tool.exe", Size: int64(len(exe)), Content: bytes.NewReader(exe)})
	assert.ErrorIs(t, err, validation.ErrValidationFailed)

	assert.Empty(t, repo.tickets)
	entries, _ := os.ReadDir(filepath.Join(dir, "1"))
	assert.Empty(t, entries)
}

func TestCreateTicketValidation(t *testing.T) {
	svc, _, _, _ := newTestSupportService(t)
	ctx := context.Background()

	_, err := svc.CreateTicket(ctx, testUserID, "a@example.com", "a", models.SupportTicketForm{DetailedDescription: "x"}, nil)
	assert.ErrorIs(t, err, validation.ErrValidationFailed)

	_, err = svc.CreateTicket(ctx, testUserID, "a@example.com", "a",
		models.SupportTicketForm{IssueSummary: strings.Repeat("s", validation.MaxIssueSummaryLength+1), DetailedDescription: "x"}, nil)
	assert.ErrorIs(t, err, validation.ErrValidationFailed)
}

func TestTicketStatusAndListing(t *testing.T) {
	svc, _, _, _ := newTestSupportService(t)
	ctx := context.Background()
	form := models.SupportTicketForm{IssueSummary: "One", DetailedDescription: "Details"}

	first, err := svc.CreateTicket(ctx, testUserID, "a@example.com", "a", form, nil)
	require.NoError(t, err)
	_, err = svc.CreateTicket(ctx, testUserID, "a@example.com", "a", form, nil)
	require.NoError(t, err)

	require.NoError(t, svc.UpdateTicketStatus(ctx, first.ReferenceID, "Resolved"))
	assert.ErrorIs(t, svc.UpdateTicketStatus(ctx, first.ReferenceID, "archived"), validation.ErrValidationFailed)

	open, total, err := svc.ListTickets(ctx, "open", 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, open, 1)

	_, _, err = svc.ListTickets(ctx, "bogus", 1, 10)
	assert.ErrorIs(t, err, validation.ErrValidationFailed)

	mine, err := svc.ListUserTickets(ctx, testUserID)
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

func TestReferenceIDFormat(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		ref, err := newReferenceID("20250328")
		require.NoError(t, err)
		assert.Regexp(t, referencePattern, ref)
		seen[ref] = true
	}
	assert.Greater(t, len(seen), 45)
}
