package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/optionslog/backend/src/config"
	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/model"
)

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

func InitializeGoogleOAuthConfig() {
	googleOauthConfig = &oauth2.Config{
		RedirectURL:  config.Cfg.GoogleRedirectURL,
		ClientID:     config.Cfg.GoogleClientID,
		ClientSecret: config.Cfg.GoogleClientSecret,
		Scopes:       []string{"https://www.googleapis.com/auth/userinfo.email", "https://www.googleapis.com/auth/userinfo.profile"},
		Endpoint:     google.Endpoint,
	}
}

func signinRedirect(w http.ResponseWriter, r *http.Request, code string) {
	http.Redirect(w, r, config.Cfg.FrontendBaseURL+"/signin?error="+code, http.StatusTemporaryRedirect)
}

func (h *UserHandler) HandleGoogleLogin(w http.ResponseWriter, r *http.Request) {
	if googleOauthConfig == nil || googleOauthConfig.ClientID == "" {
		sendJSONError(w, "Google sign-in is not configured", http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, googleOauthConfig.AuthCodeURL(config.Cfg.OAuthStateString), http.StatusTemporaryRedirect)
}

type googleUserInfo struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Verified bool   `json:"verified_email"`
	ID       string `json:"id"`
}

func fetchGoogleUser(r *http.Request, token *oauth2.Token) (*googleUserInfo, error) {
	resp, err := googleOauthConfig.Client(r.Context(), token).Get(googleUserInfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo returned status %d", resp.StatusCode)
	}
	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (h *UserHandler) HandleGoogleCallback(w http.ResponseWriter, r *http.Request) {
	if googleOauthConfig == nil {
		signinRedirect(w, r, "oauth_not_configured")
		return
	}
	if r.FormValue("state") != config.Cfg.OAuthStateString {
		logger.L.Warn("Invalid OAuth state from Google callback")
		signinRedirect(w, r, "invalid_state")
		return
	}

	token, err := googleOauthConfig.Exchange(r.Context(), r.FormValue("code"))
	if err != nil {
		logger.L.Error("Failed to exchange code for token", "error", err)
		signinRedirect(w, r, "token_exchange_failed")
		return
	}

	googleUser, err := fetchGoogleUser(r, token)
	if err != nil {
		logger.L.Error("Failed to get user info from Google", "error", err)
		signinRedirect(w, r, "userinfo_failed")
		return
	}
	if !googleUser.Verified {
		signinRedirect(w, r, "email_not_verified_by_google")
		return
	}

	user, err := model.GetUserByEmail(h.db, googleUser.Email)
	switch {
	case errors.Is(err, model.ErrUserNotFound):
		user = &model.User{
			Username:        googleUser.Email,
			Email:           googleUser.Email,
			AuthProvider:    model.AuthProviderGoogle,
			IsEmailVerified: true,
		}
		if err := user.CreateUser(h.db); err != nil {
			logger.L.Error("Failed to create Google user", "error", err)
			signinRedirect(w, r, "user_creation_failed")
			return
		}
	case err != nil:
		logger.L.Error("Failed to look up Google user", "error", err)
		signinRedirect(w, r, "user_lookup_failed")
		return
	case user.AuthProvider == model.AuthProviderLocal || user.Password != "":
		logger.L.Warn("Google login attempt for existing local account", "userID", user.ID)
		signinRedirect(w, r, "email_already_exists_local")
		return
	}

	h.recordLogin(user.ID, r)

	userJSON, err := json.Marshal(userPayload(user))
	if err != nil {
		logger.L.Error("Failed to marshal user for frontend", "error", err)
		signinRedirect(w, r, "user_data_build_failed")
		return
	}

	appToken, err := h.authService.GenerateToken(fmt.Sprintf("%d", user.ID))
	if err != nil {
		logger.L.Error("Failed to generate app token for Google user", "error", err)
		signinRedirect(w, r, "token_generation_failed")
		return
	}

	redirectURL := fmt.Sprintf("%s/auth/google/callback?token=%s&user=%s",
		config.Cfg.FrontendBaseURL,
		url.QueryEscape(appToken),
		url.QueryEscape(string(userJSON)))
	http.Redirect(w, r, redirectURL, http.StatusTemporaryRedirect)
}
