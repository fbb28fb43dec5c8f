// src/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig holds all configuration for the application.
// The values are loaded from environment variables.
type AppConfig struct {
	// Core settings
	Port           string
	DatabasePath   string
	MigrationsPath string
	LogLevel       string

	// Security settings
	JWTSecret          string
	CSRFAuthKey        []byte
	OAuthStateString   string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	RateLimitPerSecond float64
	RateLimitBurst     int

	// Trade logbook settings
	FeeSchedulePath    string
	DefaultPageSize    int
	MaxPageSize        int
	MaxImportSizeBytes int64

	// Support tickets
	AttachmentsDir         string
	MaxAttachmentSizeBytes int64
	SupportInboxEmail      string

	// Email Service settings
	EmailServiceProvider string
	SenderEmail          string
	SenderName           string
	MailgunDomain        string
	MailgunPrivateAPIKey string

	// URL and Token Expiry settings for user actions
	VerificationEmailBaseURL string
	VerificationTokenExpiry  time.Duration
	PasswordResetBaseURL     string
	PasswordResetTokenExpiry time.Duration

	// Google OAuth settings
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	FrontendBaseURL string
	AllowedOrigins  []string

	AdminEmails []string
}

// Cfg is a global instance of the AppConfig.
var Cfg *AppConfig

// LoadConfig loads configuration from environment variables or a .env file.
func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		errEnv = godotenv.Load("../.env")
	}
	if errEnv != nil {
		if os.IsNotExist(errEnv) {
			log.Println("Info: No .env file found in current or parent directory. Relying on OS environment variables.")
		} else {
			log.Printf("Warning: Error loading .env file: %v. Relying on OS environment variables.", errEnv)
		}
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")

	jwtSecret := getRequiredEnv("JWT_SECRET")
	csrfAuthKeyStr := getRequiredEnv("CSRF_AUTH_KEY")

	oauthStateString := getEnv("OAUTH_STATE_STRING", "secure-random-state-string-for-dev-only")
	if oauthStateString == "secure-random-state-string-for-dev-only" {
		log.Println("WARNING: Using default OAUTH_STATE_STRING. Set this in production.")
	}

	frontendBaseURL := getEnv("APP_BASE_URL", "http://localhost:3000")
	apiBaseURL := getEnv("API_BASE_URL", "http://localhost:8080")

	Cfg = &AppConfig{
		Port:           getEnv("PORT", "8080"),
		DatabasePath:   getEnv("DATABASE_PATH", "./optionslog.db"),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "db/migrations"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),

		JWTSecret:          jwtSecret,
		CSRFAuthKey:        []byte(csrfAuthKeyStr),
		OAuthStateString:   oauthStateString,
		AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 60*time.Minute),
		RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 168*time.Hour),
		RateLimitPerSecond: getEnvAsFloat("RATE_LIMIT_PER_SECOND", 10),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 30),

		FeeSchedulePath:    getEnv("FEE_SCHEDULE_PATH", ""),
		DefaultPageSize:    getEnvAsInt("DEFAULT_PAGE_SIZE", 25),
		MaxPageSize:        getEnvAsInt("MAX_PAGE_SIZE", 100),
		MaxImportSizeBytes: getEnvAsInt64("MAX_IMPORT_SIZE_BYTES", 2*1024*1024),

		AttachmentsDir:         getEnv("ATTACHMENTS_DIR", "./attachments"),
		MaxAttachmentSizeBytes: getEnvAsInt64("MAX_ATTACHMENT_SIZE_BYTES", 10*1024*1024),
		SupportInboxEmail:      getEnv("SUPPORT_INBOX_EMAIL", ""),

		EmailServiceProvider: getEnv("EMAIL_SERVICE_PROVIDER", "mock"),
		SenderEmail:          getEnv("SENDER_EMAIL", "noreply@example.com"),
		SenderName:           getEnv("SENDER_NAME", "Options Logbook"),
		MailgunDomain:        getEnv("MAILGUN_DOMAIN", ""),
		MailgunPrivateAPIKey: getEnv("MAILGUN_PRIVATE_API_KEY", ""),

		FrontendBaseURL:          frontendBaseURL,
		VerificationEmailBaseURL: getEnv("VERIFICATION_EMAIL_BASE_URL", frontendBaseURL+"/verify-email"),
		VerificationTokenExpiry:  getEnvAsDuration("VERIFICATION_TOKEN_EXPIRY", 24*time.Hour),
		PasswordResetBaseURL:     getEnv("PASSWORD_RESET_BASE_URL", frontendBaseURL+"/reset-password"),
		PasswordResetTokenExpiry: getEnvAsDuration("PASSWORD_RESET_TOKEN_EXPIRY", 1*time.Hour),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", apiBaseURL+"/api/auth/google/callback"),

		AllowedOrigins: getList("ALLOWED_ORIGINS", frontendBaseURL),
		AdminEmails:    getList("ADMIN_EMAILS", ""),
	}

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, FrontendURL=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.FrontendBaseURL)
	log.Printf("Admin emails loaded: %d", len(Cfg.AdminEmails))
}

// getEnv retrieves an environment variable or returns a fallback value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getRequiredEnv retrieves an environment variable or terminates the application if not set.
func getRequiredEnv(key string) string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		log.Fatalf("FATAL: Required environment variable %s is not set or is empty. Application cannot start securely.", key)
	}
	return value
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsInt64(key string, fallback int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseInt(valueStr, 10, 64); err == nil {
		return value
	}
	log.Printf("Invalid integer value for %s ('%s'), using default: %d", key, valueStr, fallback)
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	log.Printf("Invalid number value for %s ('%s'), using default: %g", key, valueStr, fallback)
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	log.Printf("Invalid duration value for %s ('%s'), using default: %s", key, valueStr, fallback.String())
	return fallback
}

// getList parses a comma-separated variable, dropping blank entries.
func getList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	out := []string{}
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
