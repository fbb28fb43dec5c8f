package handlers

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/model"
	"github.com/optionslog/backend/src/models"
	"github.com/optionslog/backend/src/services"
	"github.com/optionslog/backend/src/utils"
)

// multipartOverhead leaves room for the text fields and part headers on top
// of the largest allowed attachment.
const multipartOverhead = 1 << 20

type SupportHandler struct {
	db                *sql.DB
	supportService    services.SupportService
	maxAttachmentSize int64
}

func NewSupportHandler(db *sql.DB, supportService services.SupportService, maxAttachmentSize int64) *SupportHandler {
	return &SupportHandler{
		db:                db,
		supportService:    supportService,
		maxAttachmentSize: maxAttachmentSize,
	}
}

func (h *SupportHandler) HandleCreateTicket(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	log := logger.FromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.maxAttachmentSize+multipartOverhead)
	if err := r.ParseMultipartForm(h.maxAttachmentSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			log.Warn("Support request body too large", "limit", h.maxAttachmentSize)
			utils.SendJSONError(w, fmt.Sprintf("attachment too large (max %d MB)", h.maxAttachmentSize/(1024*1024)), http.StatusRequestEntityTooLarge)
			return
		}
		log.Warn("Failed to parse support multipart form", "error", err)
		utils.SendJSONError(w, "invalid multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	user, err := model.GetUserByID(h.db, userID)
	if err != nil {
		log.Error("Failed to load user for support ticket", "error", err)
		utils.SendJSONError(w, "failed to load user", http.StatusInternalServerError)
		return
	}

	form := models.SupportTicketForm{
		IssueSummary:        r.FormValue("issue_summary"),
		DetailedDescription: r.FormValue("detailed_description"),
	}

	var attachment *services.Attachment
	file, fileHeader, err := r.FormFile("attachment")
	switch {
	case err == nil:
		defer file.Close()
		attachment = &services.Attachment{
			Filename: fileHeader.Filename,
			Size:     fileHeader.Size,
			Content:  file,
		}
	case errors.Is(err, http.ErrMissingFile):
	default:
		log.Warn("Failed to read support attachment", "error", err)
		utils.SendJSONError(w, "failed to read attachment", http.StatusBadRequest)
		return
	}

	ticket, err := h.supportService.CreateTicket(r.Context(), userID, user.Email, user.Username, form, attachment)
	if err != nil {
		writeServiceError(w, r, err, "create support ticket")
		return
	}
	utils.SendJSON(w, ticket, http.StatusCreated)
}

func (h *SupportHandler) HandleListMyTickets(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		utils.SendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}

	tickets, err := h.supportService.ListUserTickets(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, err, "list support tickets")
		return
	}
	if tickets == nil {
		tickets = []models.SupportTicket{}
	}
	utils.SendJSON(w, tickets, http.StatusOK)
}

func (h *SupportHandler) HandleAdminListTickets(w http.ResponseWriter, r *http.Request) {
	page, pageSize, err := parsePaging(r)
	if err != nil {
		writeServiceError(w, r, err, "list support tickets")
		return
	}

	tickets, total, err := h.supportService.ListTickets(r.Context(), r.URL.Query().Get("status"), page, pageSize)
	if err != nil {
		writeServiceError(w, r, err, "list support tickets")
		return
	}
	if tickets == nil {
		tickets = []models.SupportTicket{}
	}
	utils.SendJSON(w, map[string]interface{}{
		"tickets":    tickets,
		"totalCount": total,
		"page":       page,
		"pageSize":   pageSize,
	}, http.StatusOK)
}

func (h *SupportHandler) HandleAdminUpdateTicketStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if !decodeJSONBody(w, r, &req) {
		return
	}

	if err := h.supportService.UpdateTicketStatus(r.Context(), chi.URLParam(r, "referenceID"), req.Status); err != nil {
		writeServiceError(w, r, err, "update support ticket")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
