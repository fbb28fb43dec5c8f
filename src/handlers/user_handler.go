package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/optionslog/backend/src/config"
	"github.com/optionslog/backend/src/logger"
	"github.com/optionslog/backend/src/model"
	"github.com/optionslog/backend/src/security"
	"github.com/optionslog/backend/src/services"
	"github.com/patrickmn/go-cache"
	"golang.org/x/oauth2"
)

type contextKey string

const userIDContextKey contextKey = "userID"

var googleOauthConfig *oauth2.Config

// UserHandler serves registration, login, account and admin endpoints.
type UserHandler struct {
	db           *sql.DB
	authService  *security.AuthService
	emailService services.EmailService
	cache        *cache.Cache
	mfaService   *services.MFAService
}

func NewUserHandler(db *sql.DB, authService *security.AuthService, emailService services.EmailService, reportCache *cache.Cache, mfaService *services.MFAService) *UserHandler {
	return &UserHandler{
		db:           db,
		authService:  authService,
		emailService: emailService,
		cache:        reportCache,
		mfaService:   mfaService,
	}
}

func sendJSONError(w http.ResponseWriter, message string, statusCode int) {
	logger.L.Warn("Sending JSON error to client", "message", message, "statusCode", statusCode)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (h *UserHandler) VerifyEmailHandler(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		sendJSONError(w, "Verification token is missing", http.StatusBadRequest)
		return
	}

	user, err := model.GetUserByVerificationToken(h.db, token)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			sendJSONError(w, "Invalid or expired verification token", http.StatusBadRequest)
			return
		}
		logger.L.Error("Error fetching user by verification token", "error", err)
		sendJSONError(w, "Failed to verify email", http.StatusInternalServerError)
		return
	}

	if user.IsEmailVerified {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "Email already verified. You can log in."})
		return
	}

	if time.Now().After(user.EmailVerificationTokenExpiresAt) {
		logger.L.Warn("Verification token expired", "userID", user.ID)
		sendJSONError(w, "Verification token has expired. Log in to receive a new one.", http.StatusBadRequest)
		return
	}

	if err := user.UpdateUserVerificationStatus(h.db, true); err != nil {
		logger.L.Error("Failed to update user verification status", "userID", user.ID, "error", err)
		sendJSONError(w, "Failed to verify email", http.StatusInternalServerError)
		return
	}

	logger.L.Info("Email verified", "userID", user.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "Email verified successfully. You can now log in."})
}

func GetUserIDFromContext(ctx context.Context) (int64, bool) {
	userID, ok := ctx.Value(userIDContextKey).(int64)
	return userID, ok
}

// isAdmin reports whether email is listed in ADMIN_EMAILS.
func isAdmin(email string) bool {
	for _, adminEmail := range config.Cfg.AdminEmails {
		if strings.EqualFold(email, adminEmail) {
			return true
		}
	}
	return false
}

func (h *UserHandler) AdminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserIDFromContext(r.Context())
		if !ok {
			sendJSONError(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		user, err := model.GetUserByID(h.db, userID)
		if err != nil {
			logger.L.Error("Failed to load user for admin check", "userID", userID, "error", err)
			sendJSONError(w, "Authentication required", http.StatusUnauthorized)
			return
		}

		if !isAdmin(user.Email) {
			logger.L.Warn("Admin access denied for user", "userID", user.ID)
			sendJSONError(w, "Forbidden: Administrator access required", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *UserHandler) HandleGetCurrentUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetUserIDFromContext(r.Context())
	if !ok {
		sendJSONError(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	user, err := model.GetUserByID(h.db, userID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}
	user.IsAdmin = isAdmin(user.Email)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

type AdminStats struct {
	TotalUsers          int64            `json:"totalUsers"`
	DeletedUserCount    int64            `json:"deletedUserCount"`
	DailyActiveUsers    int              `json:"dailyActiveUsers"`
	MonthlyActiveUsers  int              `json:"monthlyActiveUsers"`
	NewUsersToday       int              `json:"newUsersToday"`
	NewUsersThisWeek    int              `json:"newUsersThisWeek"`
	NewUsersThisMonth   int              `json:"newUsersThisMonth"`
	NewUsersInPeriod    int              `json:"newUsersInPeriod"`
	ActiveUsersInPeriod int              `json:"activeUsersInPeriod"`
	TotalTrades         int              `json:"totalTrades"`
	OpenTrades          int              `json:"openTrades"`
	TotalPurchases      int              `json:"totalPurchases"`
	TotalSales          int              `json:"totalSales"`
	OpenSupportTickets  int              `json:"openSupportTickets"`
	VerificationStats   map[string]int   `json:"verificationStats"`
	AuthProviderStats   []ChartData      `json:"authProviderStats"`
	TradesByBroker      []ChartData      `json:"tradesByBroker"`
	TopTickers          []ChartData      `json:"topTickers"`
	TopUsersByLogins    []AdminUserView  `json:"topUsersByLogins"`
	UsersPerDay         []TimeSeriesData `json:"usersPerDay"`
	ActiveUsersPerDay   []TimeSeriesData `json:"activeUsersPerDay"`
}

type ChartData struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

type TimeSeriesData struct {
	Date  string `json:"date"`
	Count int    `json:"count"`
}

type AdminUserView struct {
	ID           int64          `json:"id"`
	Username     string         `json:"username"`
	Email        string         `json:"email"`
	AuthProvider string         `json:"auth_provider"`
	IsVerified   bool           `json:"is_email_verified"`
	LoginCount   int            `json:"login_count"`
	LastLoginAt  model.NullTime `json:"last_login_at"`
	LastLoginIP  string         `json:"last_login_ip"`
	TradeCount   int            `json:"trade_count"`
	CreatedAt    time.Time      `json:"created_at"`
}

const adminUserSelect = `
	SELECT u.id, u.username, u.email, u.auth_provider, u.is_email_verified, u.login_count,
	       u.last_login_at, u.last_login_ip, u.created_at,
	       (SELECT COUNT(*) FROM trades t WHERE t.user_id = u.id) AS trade_count
	FROM users u`

func scanAdminUsers(rows *sql.Rows) ([]AdminUserView, error) {
	users := []AdminUserView{}
	for rows.Next() {
		var u AdminUserView
		var lastLoginAt sql.NullTime
		var lastLoginIP sql.NullString
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.AuthProvider, &u.IsVerified, &u.LoginCount,
			&lastLoginAt, &lastLoginIP, &u.CreatedAt, &u.TradeCount); err != nil {
			return nil, err
		}
		u.LastLoginAt = model.NullTime(lastLoginAt)
		u.LastLoginIP = lastLoginIP.String
		users = append(users, u)
	}
	return users, rows.Err()
}

func (h *UserHandler) chartData(query string) []ChartData {
	out := []ChartData{}
	rows, err := h.db.Query(query)
	if err != nil {
		logger.L.Error("Admin stats chart query failed", "error", err)
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var d ChartData
		if err := rows.Scan(&d.Name, &d.Value); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func (h *UserHandler) timeSeries(query string) []TimeSeriesData {
	out := []TimeSeriesData{}
	rows, err := h.db.Query(query)
	if err != nil {
		logger.L.Error("Admin stats time series query failed", "error", err)
		return out
	}
	defer rows.Close()
	for rows.Next() {
		var d TimeSeriesData
		if err := rows.Scan(&d.Date, &d.Count); err == nil {
			out = append(out, d)
		}
	}
	return out
}

const adminStatsCacheKey = "admin_stats_%s"

func (h *UserHandler) HandleGetAdminStats(w http.ResponseWriter, r *http.Request) {
	rangeParam := r.URL.Query().Get("range")
	var days int
	switch rangeParam {
	case "last_7_days":
		days = 7
	case "last_30_days":
		days = 30
	case "last_365_days":
		days = 365
	case "", "all_time":
		rangeParam = "all_time"
	default:
		sendJSONError(w, "Invalid range", http.StatusBadRequest)
		return
	}

	cacheKey := fmt.Sprintf(adminStatsCacheKey, rangeParam)
	if cached, found := h.cache.Get(cacheKey); found {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(cached)
		return
	}

	userFilter, loginFilter := "1=1", "1=1"
	if days > 0 {
		window := "'-" + strconv.Itoa(days) + " days'"
		userFilter = "created_at >= date('now', " + window + ")"
		loginFilter = "login_at >= date('now', " + window + ")"
	}

	stats := AdminStats{}
	var err error
	if stats.TotalUsers, err = model.GetMetric(h.db, model.MetricTotalUsers); err != nil {
		logger.L.Error("Failed to read total users metric", "error", err)
	}
	if stats.DeletedUserCount, err = model.GetMetric(h.db, model.MetricDeletedUserCount); err != nil {
		logger.L.Error("Failed to read deleted users metric", "error", err)
	}

	counters := []struct {
		dest  *int
		query string
	}{
		{&stats.DailyActiveUsers, "SELECT COUNT(DISTINCT user_id) FROM login_history WHERE login_at > datetime('now', '-1 day')"},
		{&stats.MonthlyActiveUsers, "SELECT COUNT(DISTINCT user_id) FROM login_history WHERE login_at > datetime('now', '-30 days')"},
		{&stats.NewUsersToday, "SELECT COUNT(*) FROM users WHERE created_at >= date('now', 'start of day')"},
		{&stats.NewUsersThisWeek, "SELECT COUNT(*) FROM users WHERE created_at >= date('now', '-7 days')"},
		{&stats.NewUsersThisMonth, "SELECT COUNT(*) FROM users WHERE created_at >= date('now', 'start of month')"},
		{&stats.NewUsersInPeriod, "SELECT COUNT(*) FROM users WHERE " + userFilter},
		{&stats.ActiveUsersInPeriod, "SELECT COUNT(DISTINCT user_id) FROM login_history WHERE " + loginFilter},
		{&stats.TotalTrades, "SELECT COUNT(*) FROM trades"},
		{&stats.OpenTrades, "SELECT COUNT(*) FROM trades WHERE status = 'open'"},
		{&stats.TotalPurchases, "SELECT COUNT(*) FROM contract_purchases"},
		{&stats.TotalSales, "SELECT COUNT(*) FROM contract_sales"},
		{&stats.OpenSupportTickets, "SELECT COUNT(*) FROM support_tickets WHERE status IN ('open', 'in_progress')"},
	}
	for _, c := range counters {
		if err := h.db.QueryRow(c.query).Scan(c.dest); err != nil {
			logger.L.Error("Admin stats counter query failed", "query", c.query, "error", err)
		}
	}

	var verified, unverified int
	h.db.QueryRow("SELECT COUNT(*) FROM users WHERE is_email_verified = 1").Scan(&verified)
	h.db.QueryRow("SELECT COUNT(*) FROM users WHERE is_email_verified = 0").Scan(&unverified)
	stats.VerificationStats = map[string]int{"verified": verified, "unverified": unverified}

	stats.AuthProviderStats = h.chartData("SELECT auth_provider, COUNT(*) FROM users GROUP BY auth_provider")
	stats.TradesByBroker = h.chartData("SELECT broker, COUNT(*) FROM trades GROUP BY broker ORDER BY COUNT(*) DESC")
	stats.TopTickers = h.chartData("SELECT stock_ticker, COUNT(*) FROM trades GROUP BY stock_ticker ORDER BY COUNT(*) DESC LIMIT 10")

	stats.TopUsersByLogins = []AdminUserView{}
	if rows, err := h.db.Query(adminUserSelect + " ORDER BY u.login_count DESC LIMIT 5"); err == nil {
		if users, err := scanAdminUsers(rows); err == nil {
			stats.TopUsersByLogins = users
		}
		rows.Close()
	}

	stats.UsersPerDay = h.timeSeries(`
		SELECT strftime('%Y-%m-%d', created_at) AS day, COUNT(*)
		FROM users WHERE created_at >= date('now', '-30 days')
		GROUP BY day ORDER BY day ASC`)
	stats.ActiveUsersPerDay = h.timeSeries(`
		SELECT strftime('%Y-%m-%d', login_at) AS day, COUNT(DISTINCT user_id)
		FROM login_history WHERE login_at >= date('now', '-30 days')
		GROUP BY day ORDER BY day ASC`)

	h.cache.Set(cacheKey, stats, cache.DefaultExpiration)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

func (h *UserHandler) HandleGetAdminUsers(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("pageSize"))
	if pageSize < 1 {
		pageSize = config.Cfg.DefaultPageSize
	}
	if pageSize > config.Cfg.MaxPageSize {
		pageSize = config.Cfg.MaxPageSize
	}

	sortBy := "u.created_at"
	switch r.URL.Query().Get("sortBy") {
	case "login_count":
		sortBy = "u.login_count"
	case "last_login_at":
		sortBy = "u.last_login_at"
	case "trade_count":
		sortBy = "trade_count"
	case "email":
		sortBy = "u.email"
	}
	order := "DESC"
	if strings.EqualFold(r.URL.Query().Get("order"), "asc") {
		order = "ASC"
	}

	var total int
	if err := h.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&total); err != nil {
		logger.L.Error("Failed to count users for admin list", "error", err)
		sendJSONError(w, "Failed to retrieve users", http.StatusInternalServerError)
		return
	}

	rows, err := h.db.Query(adminUserSelect+" ORDER BY "+sortBy+" "+order+", u.id DESC LIMIT ? OFFSET ?", pageSize, (page-1)*pageSize)
	if err != nil {
		logger.L.Error("Failed to query users for admin list", "error", err)
		sendJSONError(w, "Failed to retrieve users", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	users, err := scanAdminUsers(rows)
	if err != nil {
		logger.L.Error("Failed to scan users for admin list", "error", err)
		sendJSONError(w, "Failed to retrieve users", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"users":      users,
		"totalCount": total,
		"page":       page,
		"pageSize":   pageSize,
	})
}

func (h *UserHandler) HandleAdminClearStatsCache(w http.ResponseWriter, r *http.Request) {
	h.cache.Flush()
	logger.FromContext(r.Context()).Info("Report cache flushed by admin")
	w.WriteHeader(http.StatusNoContent)
}

func (h *UserHandler) HandleSetupMFA(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())

	user, err := model.GetUserByID(h.db, userID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}

	secret, qrCode, err := h.mfaService.GenerateMFASecret(user.Email)
	if err != nil {
		logger.L.Error("Failed to generate MFA secret", "userID", userID, "error", err)
		sendJSONError(w, "Failed to generate MFA", http.StatusInternalServerError)
		return
	}

	// Stored but not enabled until a code is confirmed.
	if err := user.UpdateMfaSecret(h.db, secret); err != nil {
		sendJSONError(w, "Failed to save MFA secret", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"secret":  secret,
		"qr_code": qrCode,
	})
}

func (h *UserHandler) HandleActivateMFA(w http.ResponseWriter, r *http.Request) {
	userID, _ := GetUserIDFromContext(r.Context())

	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	user, err := model.GetUserByID(h.db, userID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}
	if user.MfaSecret == "" {
		sendJSONError(w, "MFA has not been set up", http.StatusBadRequest)
		return
	}

	if !h.mfaService.ValidateToken(user.MfaSecret, req.Code) {
		logger.L.Warn("Invalid MFA activation code", "userID", userID)
		sendJSONError(w, "Invalid code", http.StatusUnauthorized)
		return
	}

	if err := user.UpdateMfaEnabled(h.db, true); err != nil {
		sendJSONError(w, "Failed to enable MFA", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"message": "MFA enabled successfully"})
}

type ImpersonateRequest struct {
	MfaCode string `json:"mfa_code"`
}

// HandleImpersonateUser gives an admin a session as another user. The admin
// must have MFA enabled and confirm with a current code.
func (h *UserHandler) HandleImpersonateUser(w http.ResponseWriter, r *http.Request) {
	adminID, _ := GetUserIDFromContext(r.Context())

	targetUserID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		sendJSONError(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var req ImpersonateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	adminUser, err := model.GetUserByID(h.db, adminID)
	if err != nil {
		sendJSONError(w, "Admin user not found", http.StatusUnauthorized)
		return
	}
	if !adminUser.MfaEnabled {
		sendJSONError(w, "MFA required. Enable 2FA in your profile settings.", http.StatusForbidden)
		return
	}
	if !h.mfaService.ValidateToken(adminUser.MfaSecret, req.MfaCode) {
		logger.L.Warn("Failed MFA attempt for impersonation", "adminID", adminID)
		sendJSONError(w, "Invalid MFA code", http.StatusUnauthorized)
		return
	}

	user, err := model.GetUserByID(h.db, targetUserID)
	if err != nil {
		sendJSONError(w, "User not found", http.StatusNotFound)
		return
	}

	accessToken, refreshToken, err := h.issueSession(user, r, "Admin-Impersonation ("+r.UserAgent()+")")
	if err != nil {
		logger.L.Error("Failed to issue impersonation session", "adminID", adminID, "userID", user.ID, "error", err)
		sendJSONError(w, "Failed to start impersonation session", http.StatusInternalServerError)
		return
	}

	logger.L.Info("Admin impersonation session started", "adminID", adminID, "userID", user.ID)
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"access_token":  accessToken,
		"refresh_token": refreshToken,
		"user":          userPayload(user),
	})
}
