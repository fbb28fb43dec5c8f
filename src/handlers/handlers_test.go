package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/optionslog/backend/src/config"
	"github.com/optionslog/backend/src/database"
	"github.com/optionslog/backend/src/processors"
	"github.com/optionslog/backend/src/repository"
	"github.com/optionslog/backend/src/security"
	"github.com/optionslog/backend/src/services"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

const (
	testPassword = "correct-horse-42"
	adminEmail   = "admin@example.com"
)

var testCSRFKey = []byte("0123456789abcdef0123456789abcdef")

func testClock() time.Time {
	return time.Date(2025, 3, 28, 15, 30, 0, 0, time.UTC)
}

type testServer struct {
	t         *testing.T
	db        *sql.DB
	router    http.Handler
	mail      *services.MockEmailService
	cache     *cache.Cache
	csrfToken string
}

func setTestConfig(t *testing.T) {
	t.Helper()
	previous := config.Cfg
	config.Cfg = &config.AppConfig{
		JWTSecret:                "a-test-secret-that-is-at-least-32-chars",
		CSRFAuthKey:              testCSRFKey,
		OAuthStateString:         "test-state",
		AccessTokenExpiry:        15 * time.Minute,
		RefreshTokenExpiry:       24 * time.Hour,
		DefaultPageSize:          25,
		MaxPageSize:              100,
		MaxImportSizeBytes:       64 * 1024,
		AttachmentsDir:           t.TempDir(),
		MaxAttachmentSizeBytes:   1024,
		VerificationTokenExpiry:  time.Hour,
		PasswordResetTokenExpiry: time.Hour,
		FrontendBaseURL:          "https://app.example.com",
		AllowedOrigins:           []string{"https://app.example.com"},
		AdminEmails:              []string{adminEmail},
	}
	t.Cleanup(func() { config.Cfg = previous })
}

// newTestServer wires the real handlers, services and a migrated SQLite file
// behind the same middleware chain the server uses.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	setTestConfig(t)

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunMigrations(db, "../../db/migrations"))

	fees := processors.DefaultFeeSchedule()
	calc := processors.NewPnLCalculator(fees)
	tradeRepo := repository.NewSQLiteTradeRepository(db)
	reportCache := cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval)
	mail := &services.MockEmailService{}

	userHandler := NewUserHandler(db, security.NewAuthService(config.Cfg.JWTSecret, config.Cfg.AccessTokenExpiry), mail, reportCache, services.NewMFAService("Options Logbook"))
	tradeHandler := NewTradeHandler(services.NewTradeService(tradeRepo, calc, reportCache, testClock))
	portfolioHandler := NewPortfolioHandler(services.NewPortfolioService(tradeRepo, calc, reportCache, testClock), services.NewChartRenderer())
	supportService := services.NewSupportService(repository.NewSQLiteSupportRepository(db), mail, config.Cfg.AttachmentsDir, config.Cfg.MaxAttachmentSizeBytes, testClock)
	supportHandler := NewSupportHandler(db, supportService, config.Cfg.MaxAttachmentSizeBytes)
	csrf := CSRFMiddleware(config.Cfg.CSRFAuthKey)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(ContextualLoggerMiddleware)
	r.Use(CORSMiddleware(config.Cfg.AllowedOrigins))
	r.Use(RateLimitMiddleware(rate.NewLimiter(rate.Inf, 0)))

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/csrf", GetCSRFToken(config.Cfg.CSRFAuthKey))
		r.Get("/auth/verify-email", userHandler.VerifyEmailHandler)
		r.Get("/auth/google/login", userHandler.HandleGoogleLogin)
		r.Get("/stats/users", NewStatsHandler(db).HandleGetUserCount)
		r.Get("/brokers", NewBrokerHandler(fees).HandleListBrokers)

		r.Group(func(r chi.Router) {
			r.Use(csrf)
			r.Post("/auth/login", userHandler.LoginUserHandler)
			r.Post("/auth/register", userHandler.RegisterUserHandler)
			r.Post("/auth/refresh", userHandler.RefreshTokenHandler)
			r.With(userHandler.AuthMiddleware).Post("/auth/logout", userHandler.LogoutUserHandler)
			r.Post("/auth/request-password-reset", userHandler.RequestPasswordResetHandler)
			r.Post("/auth/reset-password", userHandler.ResetPasswordHandler)
		})

		r.Group(func(r chi.Router) {
			r.Use(csrf)
			r.Use(userHandler.AuthMiddleware)

			r.Get("/user/me", userHandler.HandleGetCurrentUser)
			r.Get("/user/has-data", userHandler.HandleCheckUserData)
			r.Post("/user/change-password", userHandler.ChangePasswordHandler)
			r.Post("/user/delete-account", userHandler.DeleteAccountHandler)

			r.Route("/trades", func(r chi.Router) {
				r.Get("/", tradeHandler.HandleListTrades)
				r.Post("/", tradeHandler.HandleCreateTrade)
				r.Get("/export", tradeHandler.HandleExportTrades)
				r.Post("/import", tradeHandler.HandleImportTrades)
				r.Route("/{tradeID}", func(r chi.Router) {
					r.Get("/", tradeHandler.HandleGetTrade)
					r.Put("/", tradeHandler.HandleUpdateTrade)
					r.Delete("/", tradeHandler.HandleDeleteTrade)
					r.Post("/purchases", tradeHandler.HandleAddPurchase)
					r.Put("/purchases/{purchaseID}", tradeHandler.HandleUpdatePurchase)
					r.Delete("/purchases/{purchaseID}", tradeHandler.HandleDeletePurchase)
					r.Post("/sales", tradeHandler.HandleAddSale)
					r.Delete("/sales/{saleID}", tradeHandler.HandleDeleteSale)
					r.Get("/sales/breakdown", tradeHandler.HandleSaleBreakdown)
				})
			})
			r.Get("/option-names/parse", tradeHandler.HandleParseOptionName)

			r.Get("/portfolio/summary", portfolioHandler.HandleGetSummary)
			r.Get("/portfolio/chart", portfolioHandler.HandleGetAccountValueChart)
			r.Get("/portfolio/chart.png", portfolioHandler.HandleGetAccountValueChartPNG)

			r.Post("/support/tickets", supportHandler.HandleCreateTicket)
			r.Get("/support/tickets", supportHandler.HandleListMyTickets)

			r.Group(func(r chi.Router) {
				r.Use(userHandler.AdminMiddleware)
				r.Get("/admin/stats", userHandler.HandleGetAdminStats)
				r.Post("/admin/stats/clear-cache", userHandler.HandleAdminClearStatsCache)
				r.Get("/admin/users", userHandler.HandleGetAdminUsers)
				r.Get("/admin/support/tickets", supportHandler.HandleAdminListTickets)
				r.Put("/admin/support/tickets/{referenceID}/status", supportHandler.HandleAdminUpdateTicketStatus)
			})
		})
	})

	s := &testServer{t: t, db: db, router: r, mail: mail, cache: reportCache}

	rec := s.do(http.MethodGet, "/api/auth/csrf", nil, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.NotEmpty(t, body["csrfToken"])
	s.csrfToken = body["csrfToken"]
	return s
}

// do sends a request carrying the CSRF cookie and header and, when token is
// set, a bearer token.
func (s *testServer) do(method, path string, body io.Reader, contentType, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if s.csrfToken != "" {
		req.Header.Set(csrfHeaderName, s.csrfToken)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: s.csrfToken})
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(method, path string, payload interface{}, token string) *httptest.ResponseRecorder {
	s.t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(s.t, err)
		body = bytes.NewReader(raw)
	}
	return s.do(method, path, body, "application/json", token)
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(dst), "body: %s", rec.Body.String())
}

func (s *testServer) lastMailTo(kind, email string) services.SentEmail {
	s.t.Helper()
	sent := s.mail.Sent()
	for i := len(sent) - 1; i >= 0; i-- {
		if sent[i].Kind == kind && sent[i].To == email {
			return sent[i]
		}
	}
	s.t.Fatalf("no %s e-mail sent to %s", kind, email)
	return services.SentEmail{}
}

// signUp registers, verifies and logs in a local user.
func (s *testServer) signUp(email string) (accessToken, refreshToken string) {
	s.t.Helper()
	username := strings.Split(email, "@")[0]
	rec := s.doJSON(http.MethodPost, "/api/auth/register", map[string]string{
		"username": username,
		"email":    email,
		"password": testPassword,
	}, "")
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())

	verification := s.lastMailTo("verification", email)
	rec = s.do(http.MethodGet, "/api/auth/verify-email?token="+verification.Token, nil, "", "")
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.doJSON(http.MethodPost, "/api/auth/login", map[string]string{"email": email, "password": testPassword}, "")
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())
	var login struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	decodeBody(s.t, rec, &login)
	require.NotEmpty(s.t, login.AccessToken)
	return login.AccessToken, login.RefreshToken
}

func (s *testServer) createTrade(token string, form map[string]interface{}) map[string]interface{} {
	s.t.Helper()
	rec := s.doJSON(http.MethodPost, "/api/trades", form, token)
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	var trade map[string]interface{}
	decodeBody(s.t, rec, &trade)
	return trade
}

func hoodCall(contracts int, price string) map[string]interface{} {
	return map[string]interface{}{
		"stock_ticker":   "HOOD",
		"expiry_date":    "2025-09-26",
		"strike_price":   "110",
		"type":           "CALL",
		"contracts":      contracts,
		"purchase_price": price,
		"purchase_date":  "2025-03-01",
	}
}

func tradePath(trade map[string]interface{}, suffix string) string {
	return fmt.Sprintf("/api/trades/%s%s", trade["id"], suffix)
}
