package handlers

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/optionslog/backend/src/logger"
)

const (
	csrfCookieName = "_csrf"
	csrfHeaderName = "X-CSRF-Token"
)

// GetCSRFToken issues a double-submit token signed with authKey: once as a
// cookie and once in the body/header for the client to echo back.
func GetCSRFToken(authKey []byte) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := generateCSRFToken(authKey)
		if err != nil {
			logger.L.Error("Error generating CSRF token", "error", err)
			sendJSONError(w, "Failed to generate CSRF token", http.StatusInternalServerError)
			return
		}

		http.SetCookie(w, &http.Cookie{
			Name:     csrfCookieName,
			Value:    token,
			Path:     "/",
			SameSite: http.SameSiteLaxMode,
			HttpOnly: true,
			Secure:   r.TLS != nil,
			MaxAge:   3600,
		})

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(csrfHeaderName, token)
		json.NewEncoder(w).Encode(map[string]string{"csrfToken": token})
	}
}

// generateCSRFToken returns base64(nonce || HMAC(authKey, nonce)).
func generateCSRFToken(authKey []byte) (string, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(append(nonce, csrfMAC(authKey, nonce)...)), nil
}

func csrfMAC(authKey, nonce []byte) []byte {
	mac := hmac.New(sha256.New, authKey)
	mac.Write(nonce)
	return mac.Sum(nil)
}

func validCSRFToken(authKey []byte, token string) bool {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != 32+sha256.Size {
		return false
	}
	return hmac.Equal(raw[32:], csrfMAC(authKey, raw[:32]))
}

// CSRFMiddleware requires state-changing requests to echo the CSRF cookie in
// the X-CSRF-Token header, and the token to carry a valid signature.
func CSRFMiddleware(authKey []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			headerToken := r.Header.Get(csrfHeaderName)
			cookie, errCookie := r.Cookie(csrfCookieName)

			if headerToken != "" && errCookie == nil &&
				hmac.Equal([]byte(headerToken), []byte(cookie.Value)) &&
				validCSRFToken(authKey, headerToken) {
				next.ServeHTTP(w, r)
				return
			}

			logger.FromContext(r.Context()).Warn("CSRF validation failed",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Bool("headerTokenPresent", headerToken != ""),
				slog.Bool("cookiePresent", errCookie == nil),
				slog.String("origin", r.Header.Get("Origin")),
			)
			sendJSONError(w, "CSRF token validation failed", http.StatusForbidden)
		})
	}
}
