package services

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/repository"
	"github.com/optionslog/backend/src/security/validation"
)

const referenceAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

type supportServiceImpl struct {
	repo              repository.SupportRepository
	email             EmailService
	attachmentsDir    string
	maxAttachmentSize int64
	now               Clock
}

func NewSupportService(repo repository.SupportRepository, email EmailService, attachmentsDir string, maxAttachmentSize int64, now Clock) SupportService {
	return &supportServiceImpl{
		repo:              repo,
		email:             email,
		attachmentsDir:    attachmentsDir,
		maxAttachmentSize: maxAttachmentSize,
		now:               now,
	}
}

func (s *supportServiceImpl) CreateTicket(ctx context.Context, userID int64, userEmail, username string, form models.SupportTicketForm, attachment *Attachment) (*models.SupportTicket, error) {
	log := logger.FromContext(ctx)

	ticket := &models.SupportTicket{
		UserID:              userID,
		UserEmail:           userEmail,
		IssueSummary:        validation.CleanUserText(form.IssueSummary),
		DetailedDescription: validation.CleanUserText(form.DetailedDescription),
		Status:              models.TicketStatusOpen,
		Priority:            models.TicketPriorityMedium,
	}
	for _, check := range []error{
		validation.ValidateStringNotEmpty(ticket.IssueSummary, "issue summary"),
		validation.ValidateStringMaxLength(ticket.IssueSummary, validation.MaxIssueSummaryLength, "issue summary"),
		validation.ValidateStringNotEmpty(ticket.DetailedDescription, "detailed description"),
		validation.ValidateStringMaxLength(ticket.DetailedDescription, validation.MaxDescriptionLength, "detailed description"),
	} {
		if check != nil {
			return nil, check
		}
	}

	ref, err := newReferenceID(s.now().UTC().Format("20060102"))
	if err != nil {
		return nil, fmt.Errorf("failed to generate ticket reference: %w", err)
	}
	ticket.ReferenceID = ref

	var storedAt string
	if attachment != nil {
		storedAt, err = s.storeAttachment(userID, ref, attachment)
		if err != nil {
			return nil, err
		}
		ticket.AttachmentPath = storedAt
		ticket.AttachmentFilename = filepath.Base(validation.CleanUserText(attachment.Filename))
	}

	if err := s.repo.CreateTicket(ctx, ticket); err != nil {
		if storedAt != "" {
			os.Remove(filepath.Join(s.attachmentsDir, storedAt))
		}
		return nil, err
	}
	log.Info("Support ticket created", "reference", ticket.ReferenceID, "hasAttachment", storedAt != "")

	if err := s.email.SendSupportTicketConfirmation(userEmail, username, ticket); err != nil {
		log.Error("Failed to send support ticket confirmation", "reference", ticket.ReferenceID, "error", err)
	}
	return ticket, nil
}

// storeAttachment writes the file as <userID>/<reference><ext> under the
// attachments directory and returns that relative path.
func (s *supportServiceImpl) storeAttachment(userID int64, ref string, a *Attachment) (string, error) {
	if a.Size > s.maxAttachmentSize {
		return "", fmt.Errorf("%w: limit is %d bytes", ErrAttachmentTooLarge, s.maxAttachmentSize)
	}
	_, ext, err := validation.ValidateAttachment(a.Content, a.Filename)
	if err != nil {
		return "", err
	}

	rel := filepath.Join(strconv.FormatInt(userID, 10), ref+ext)
	full := filepath.Join(s.attachmentsDir, rel)
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("failed to create attachment directory: %w", err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640)
	if err != nil {
		return "", fmt.Errorf("failed to create attachment file: %w", err)
	}

	written, copyErr := io.Copy(f, io.LimitReader(a.Content, s.maxAttachmentSize+1))
	closeErr := f.Close()
	switch {
	case copyErr != nil:
		os.Remove(full)
		return "", fmt.Errorf("failed to write attachment: %w", copyErr)
	case closeErr != nil:
		os.Remove(full)
		return "", fmt.Errorf("failed to write attachment: %w", closeErr)
	case written > s.maxAttachmentSize:
		os.Remove(full)
		return "", fmt.Errorf("%w: limit is %d bytes", ErrAttachmentTooLarge, s.maxAttachmentSize)
	}
	return rel, nil
}

func (s *supportServiceImpl) ListUserTickets(ctx context.Context, userID int64) ([]models.SupportTicket, error) {
	return s.repo.ListTicketsByUser(ctx, userID)
}

func (s *supportServiceImpl) ListTickets(ctx context.Context, status string, page, pageSize int) ([]models.SupportTicket, int, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !models.ValidTicketStatus(status) {
		return nil, 0, fmt.Errorf("%w: unknown ticket status %q", validation.ErrValidationFailed, status)
	}
	if page < 1 {
		page = 1
	}
	return s.repo.ListTickets(ctx, status, pageSize, (page-1)*pageSize)
}

func (s *supportServiceImpl) UpdateTicketStatus(ctx context.Context, referenceID, status string) error {
	status = strings.ToLower(strings.TrimSpace(status))
	if !models.ValidTicketStatus(status) {
		return fmt.Errorf("%w: unknown ticket status %q", validation.ErrValidationFailed, status)
	}
	if err := s.repo.UpdateTicketStatus(ctx, referenceID, status); err != nil {
		return err
	}
	logger.FromContext(ctx).Info("Support ticket status updated", "reference", referenceID, "status", status)
	return nil
}

// newReferenceID returns SUP-<day>-XXXXXX with six random letters or digits.
func newReferenceID(day string) (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	for i := range b {
		b[i] = referenceAlphabet[int(b[i])%len(referenceAlphabet)]
	}
	return "SUP-" + day + "-" + string(b), nil
}
