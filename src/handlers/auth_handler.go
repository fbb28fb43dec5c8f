package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/optionslog/backend/src/config"
	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/model"
	"github.com/optionslog/backend/src/security"
	"github.com/optionslog/backend/src/security/validation"
)

const verificationTokenBytes = 32

func tokenPrefix(token string) string {
	return token[:min(10, len(token))]
}

// recordLogin is best effort: a failed counter update never blocks a login.
func (h *UserHandler) recordLogin(userID int64, r *http.Request) {
	if err := model.RecordLogin(h.db, userID, r.RemoteAddr, r.UserAgent()); err != nil {
		logger.L.Error("Failed to record login", "userID", userID, "error", err)
	}
}

// issueSession creates an access/refresh token pair backed by a session row.
func (h *UserHandler) issueSession(user *model.User, r *http.Request, userAgent string) (string, string, error) {
	accessToken, err := h.authService.GenerateToken(fmt.Sprintf("%d", user.ID))
	if err != nil {
		return "", "", fmt.Errorf("failed to generate access token: %w", err)
	}
	refreshToken, err := h.authService.GenerateRefreshToken()
	if err != nil {
		return "", "", fmt.Errorf("failed to generate refresh token: %w", err)
	}

	session := &model.Session{
		UserID:       user.ID,
		Token:        accessToken,
		RefreshToken: refreshToken,
		UserAgent:    userAgent,
		ClientIP:     r.RemoteAddr,
		ExpiresAt:    time.Now().Add(config.Cfg.RefreshTokenExpiry),
	}
	if err := model.CreateSession(h.db, session); err != nil {
		return "", "", fmt.Errorf("failed to create session: %w", err)
	}
	return accessToken, refreshToken, nil
}

func userPayload(user *model.User) map[string]interface{} {
	return map[string]interface{}{
		"id":            user.ID,
		"username":      user.Username,
		"email":         user.Email,
		"auth_provider": user.AuthProvider,
		"is_admin":      isAdmin(user.Email),
		"mfa_enabled":   user.MfaEnabled,
	}
}

func (h *UserHandler) RegisterUserHandler(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	credentials.Username = validation.SanitizeText(strings.TrimSpace(credentials.Username))
	credentials.Email = strings.ToLower(validation.SanitizeText(strings.TrimSpace(credentials.Email)))

	if credentials.Username == "" && strings.Contains(credentials.Email, "@") {
		credentials.Username = strings.Split(credentials.Email, "@")[0]
	}

	for _, err := range []error{
		validation.ValidateUsername(credentials.Username),
		validation.ValidateEmail(credentials.Email),
		validation.ValidatePassword(credentials.Password),
	} {
		if err != nil {
			sendJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	if _, err := model.GetUserByUsername(h.db, credentials.Username); err == nil {
		sendJSONError(w, "Username already exists", http.StatusConflict)
		return
	} else if !errors.Is(err, model.ErrUserNotFound) {
		logger.L.Error("Error checking username uniqueness", "error", err)
		sendJSONError(w, "Failed to process registration", http.StatusInternalServerError)
		return
	}

	if _, err := model.GetUserByEmail(h.db, credentials.Email); err == nil {
		sendJSONError(w, "Email address already in use", http.StatusConflict)
		return
	} else if !errors.Is(err, model.ErrUserNotFound) {
		logger.L.Error("Error checking email uniqueness", "error", err)
		sendJSONError(w, "Failed to process registration", http.StatusInternalServerError)
		return
	}

	hashedPassword, err := h.authService.HashPassword(credentials.Password)
	if err != nil {
		logger.L.Error("Failed to hash password", "error", err)
		sendJSONError(w, "Failed to process registration", http.StatusInternalServerError)
		return
	}

	verificationToken, err := security.GenerateSecureToken(verificationTokenBytes)
	if err != nil {
		logger.L.Error("Failed to generate verification token", "error", err)
		sendJSONError(w, "Failed to process registration", http.StatusInternalServerError)
		return
	}

	user := &model.User{
		Username:                        credentials.Username,
		Email:                           credentials.Email,
		Password:                        hashedPassword,
		AuthProvider:                    model.AuthProviderLocal,
		EmailVerificationToken:          verificationToken,
		EmailVerificationTokenExpiresAt: time.Now().Add(config.Cfg.VerificationTokenExpiry),
	}
	if err := user.CreateUser(h.db); err != nil {
		logger.L.Error("Failed to create user in DB", "error", err)
		sendJSONError(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	logger.L.Info("User registered, verification email to be sent", "userID", user.ID)

	if err := h.emailService.SendVerificationEmail(user.Email, user.Username, verificationToken); err != nil {
		logger.L.Error("Failed to send verification email after user creation", "userID", user.ID, "error", err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]string{
			"message": "User registered, but the verification email could not be sent. Log in later to receive a new link.",
			"warning": "email_not_sent",
		})
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{
		"message": "User registered successfully. Check your email to verify your account.",
	})
}

func (h *UserHandler) LoginUserHandler(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		logger.L.Warn("Invalid request body for login", "error", err)
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	credentials.Email = strings.ToLower(strings.TrimSpace(credentials.Email))

	user, err := model.GetUserByEmail(h.db, credentials.Email)
	if err != nil {
		if !errors.Is(err, model.ErrUserNotFound) {
			logger.L.Error("User lookup by email failed for login", "error", err)
		}
		sendJSONError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	if err := user.CheckPassword(credentials.Password); err != nil {
		logger.L.Warn("Password check failed for login", "userID", user.ID)
		sendJSONError(w, "Invalid email or password", http.StatusUnauthorized)
		return
	}

	if !user.IsEmailVerified {
		logger.L.Warn("Login attempt failed: email not verified. Resending verification.", "userID", user.ID)
		h.resendVerification(user)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(map[string]string{
			"error": "Your email has not been verified yet. A new verification link has been sent.",
			"code":  "EMAIL_NOT_VERIFIED",
		})
		return
	}

	h.recordLogin(user.ID, r)

	accessToken, refreshToken, err := h.issueSession(user, r, r.UserAgent())
	if err != nil {
		logger.L.Error("Failed to issue session on login", "userID", user.ID, "error", err)
		sendJSONError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	logger.L.Info("User login successful, tokens generated", "userID", user.ID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user":          userPayload(user),
	})
}

func (h *UserHandler) resendVerification(user *model.User) {
	token, err := security.GenerateSecureToken(verificationTokenBytes)
	if err != nil {
		logger.L.Error("Failed to generate new verification token on login attempt", "userID", user.ID, "error", err)
		return
	}
	if err := user.UpdateUserVerificationToken(h.db, token, time.Now().Add(config.Cfg.VerificationTokenExpiry)); err != nil {
		logger.L.Error("Failed to update verification token on login attempt", "userID", user.ID, "error", err)
		return
	}
	if err := h.emailService.SendVerificationEmail(user.Email, user.Username, token); err != nil {
		logger.L.Error("Failed to resend verification email on login attempt", "userID", user.ID, "error", err)
	}
}

func (h *UserHandler) RefreshTokenHandler(w http.ResponseWriter, r *http.Request) {
	var requestBody struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&requestBody); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if requestBody.RefreshToken == "" {
		sendJSONError(w, "Refresh token is required", http.StatusBadRequest)
		return
	}

	oldSession, err := model.GetSessionByRefreshToken(h.db, requestBody.RefreshToken)
	if err != nil {
		logger.L.Warn("Refresh token lookup failed or token invalid/expired", "error", err)
		sendJSONError(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	// Refresh tokens are single use.
	if err := model.DeleteSessionByRefreshToken(h.db, requestBody.RefreshToken); err != nil {
		logger.L.Error("Failed to delete old session during refresh", "refreshTokenPrefix", tokenPrefix(requestBody.RefreshToken), "error", err)
	}

	user, err := model.GetUserByID(h.db, oldSession.UserID)
	if err != nil {
		logger.L.Warn("User for refresh token no longer exists", "userID", oldSession.UserID, "error", err)
		sendJSONError(w, "Invalid or expired refresh token", http.StatusUnauthorized)
		return
	}

	accessToken, refreshToken, err := h.issueSession(user, r, r.UserAgent())
	if err != nil {
		logger.L.Error("Failed to issue session on refresh", "userID", user.ID, "error", err)
		sendJSONError(w, "Failed to create new session on refresh", http.StatusInternalServerError)
		return
	}

	logger.L.Info("Token refreshed successfully", "userID", user.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
	})
}

func (h *UserHandler) LogoutUserHandler(w http.ResponseWriter, r *http.Request) {
	tokenString := bearerToken(r)
	if tokenString == "" {
		logger.L.Warn("Logout attempt with no token in Authorization header")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := model.DeleteSessionByToken(h.db, tokenString); err != nil {
		logger.L.Warn("Failed to delete session on logout", "tokenPrefix", tokenPrefix(tokenString), "error", err)
	} else {
		logger.L.Info("Session invalidated on logout", "tokenPrefix", tokenPrefix(tokenString))
	}
	w.WriteHeader(http.StatusNoContent)
}
