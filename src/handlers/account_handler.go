package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/model"
	"github.com/optionslog/backend/src/services"
)

type DeleteAccountRequest struct {
	Password string `json:"password"`
}

// DeleteAccountHandler removes the user and everything they own. Local
// accounts must confirm with their password.
func (h *UserHandler) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	var req DeleteAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := model.GetUserByID(h.db, userID)
	if err != nil {
		logger.L.Error("Failed to get user for account deletion", "userID", userID, "error", err)
		sendJSONError(w, "Failed to retrieve user information", http.StatusInternalServerError)
		return
	}

	if user.AuthProvider == model.AuthProviderLocal {
		if err := user.CheckPassword(req.Password); err != nil {
			logger.L.Warn("Password mismatch for account deletion", "userID", userID)
			sendJSONError(w, "Incorrect password. Account deletion failed.", http.StatusForbidden)
			return
		}
	}

	if err := model.DeleteUser(h.db, userID); err != nil {
		logger.L.Error("Failed to delete account", "userID", userID, "error", err)
		sendJSONError(w, "Failed to delete account", http.StatusInternalServerError)
		return
	}

	services.InvalidateUserReports(h.cache, userID)

	logger.L.Info("Account deleted successfully", "userID", userID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) HandleCheckUserData(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "authentication required", http.StatusUnauthorized)
		return
	}
	var count int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM trades WHERE user_id = ?", userID).Scan(&count); err != nil {
		logger.L.Error("Error checking user data", "userID", userID, "error", err)
		sendJSONError(w, "failed to check user data", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"hasData": count > 0})
}
