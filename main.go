package main

import (
	"crypto/tls"
	"encoding/json"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/optionslog/backend/src/config"
	"github.com/optionslog/backend/src/database"
	"github.com/optionslog/backend/src/handlers"
	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/processors"
	"github.com/optionslog/backend/src/repository"
	"github.com/optionslog/backend/src/security"
	"github.com/optionslog/backend/src/services"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"
)

func proxyHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-Proto") == "https" {
			r.URL.Scheme = "https"
			r.TLS = &tls.ConnectionState{}
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("Options logbook backend starting...")

	if len(config.Cfg.JWTSecret) < 32 {
		logger.L.Error("JWT_SECRET configuration invalid, it must be at least 32 characters.")
		os.Exit(1)
	}

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	if err := database.RunMigrations(database.DB, config.Cfg.MigrationsPath); err != nil {
		logger.L.Error("Database migrations failed", "error", err)
		os.Exit(1)
	}

	fees, err := processors.LoadFeeSchedule(config.Cfg.FeeSchedulePath)
	if err != nil {
		logger.L.Error("Failed to load fee schedule", "path", config.Cfg.FeeSchedulePath, "error", err)
		os.Exit(1)
	}
	calculator := processors.NewPnLCalculator(fees)

	tradeRepo := repository.NewSQLiteTradeRepository(database.DB)
	supportRepo := repository.NewSQLiteSupportRepository(database.DB)

	reportCache := cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval)

	handlers.InitializeGoogleOAuthConfig()

	authService := security.NewAuthService(config.Cfg.JWTSecret, config.Cfg.AccessTokenExpiry)
	emailService := services.NewEmailService(config.Cfg)
	mfaService := services.NewMFAService("Options Logbook")
	tradeService := services.NewTradeService(tradeRepo, calculator, reportCache, time.Now)
	portfolioService := services.NewPortfolioService(tradeRepo, calculator, reportCache, time.Now)
	supportService := services.NewSupportService(supportRepo, emailService, config.Cfg.AttachmentsDir, config.Cfg.MaxAttachmentSizeBytes, time.Now)

	userHandler := handlers.NewUserHandler(database.DB, authService, emailService, reportCache, mfaService)
	tradeHandler := handlers.NewTradeHandler(tradeService)
	portfolioHandler := handlers.NewPortfolioHandler(portfolioService, services.NewChartRenderer())
	brokerHandler := handlers.NewBrokerHandler(fees)
	statsHandler := handlers.NewStatsHandler(database.DB)
	supportHandler := handlers.NewSupportHandler(database.DB, supportService, config.Cfg.MaxAttachmentSizeBytes)

	csrf := handlers.CSRFMiddleware(config.Cfg.CSRFAuthKey)
	limiter := rate.NewLimiter(rate.Limit(config.Cfg.RateLimitPerSecond), config.Cfg.RateLimitBurst)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(proxyHeadersMiddleware)
	r.Use(handlers.CORSMiddleware(config.Cfg.AllowedOrigins))
	r.Use(handlers.RateLimitMiddleware(limiter))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Options logbook backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		// Public
		r.Group(func(r chi.Router) {
			r.Get("/auth/csrf", handlers.GetCSRFToken(config.Cfg.CSRFAuthKey))
			r.Get("/auth/verify-email", userHandler.VerifyEmailHandler)
			r.Get("/auth/google/login", userHandler.HandleGoogleLogin)
			r.Get("/auth/google/callback", userHandler.HandleGoogleCallback)
			r.Get("/stats/users", statsHandler.HandleGetUserCount)
			r.Get("/brokers", brokerHandler.HandleListBrokers)
		})

		// Auth (CSRF only)
		r.Group(func(r chi.Router) {
			r.Use(csrf)
			r.Post("/auth/login", userHandler.LoginUserHandler)
			r.Post("/auth/register", userHandler.RegisterUserHandler)
			r.Post("/auth/refresh", userHandler.RefreshTokenHandler)
			r.With(userHandler.AuthMiddleware).Post("/auth/logout", userHandler.LogoutUserHandler)
			r.Post("/auth/request-password-reset", userHandler.RequestPasswordResetHandler)
			r.Post("/auth/reset-password", userHandler.ResetPasswordHandler)
		})

		// Authenticated
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

			// Admin
			r.Group(func(r chi.Router) {
				r.Use(userHandler.AdminMiddleware)
				r.Get("/admin/stats", userHandler.HandleGetAdminStats)
				r.Post("/admin/stats/clear-cache", userHandler.HandleAdminClearStatsCache)
				r.Get("/admin/users", userHandler.HandleGetAdminUsers)
				r.Post("/admin/users/{userID}/impersonate", userHandler.HandleImpersonateUser)
				r.Get("/admin/mfa/setup", userHandler.HandleSetupMFA)
				r.Post("/admin/mfa/enable", userHandler.HandleActivateMFA)
				r.Get("/admin/support/tickets", supportHandler.HandleAdminListTickets)
				r.Put("/admin/support/tickets/{referenceID}/status", supportHandler.HandleAdminUpdateTicketStatus)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "not found"})
			return
		}
		http.NotFound(w, r)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
