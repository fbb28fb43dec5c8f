package model

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// ErrUserNotFound is returned by the user lookups when no row matches.
var ErrUserNotFound = errors.New("user not found")

const (
	AuthProviderLocal  = "local"
	AuthProviderGoogle = "google"
)

type User struct {
	ID                              int64     `json:"id"`
	Username                        string    `json:"username"`
	Email                           string    `json:"email"`
	Password                        string    `json:"-"`
	AuthProvider                    string    `json:"auth_provider,omitempty"`
	LoginCount                      int       `json:"login_count"`
	LastLoginAt                     NullTime  `json:"last_login_at"`
	LastLoginIP                     string    `json:"last_login_ip"`
	CreatedAt                       time.Time `json:"created_at"`
	UpdatedAt                       time.Time `json:"updated_at"`
	IsEmailVerified                 bool      `json:"is_email_verified"`
	EmailVerificationToken          string    `json:"-"`
	EmailVerificationTokenExpiresAt time.Time `json:"-"`
	PasswordResetToken              string    `json:"-"`
	PasswordResetTokenExpiresAt     time.Time `json:"-"`
	IsAdmin                         bool      `json:"is_admin"`
	MfaSecret                       string    `json:"-"`
	MfaEnabled                      bool      `json:"mfa_enabled"`
}

// NullTime is sql.NullTime that marshals to null when unset.
type NullTime sql.NullTime

func (nt NullTime) MarshalJSON() ([]byte, error) {
	if !nt.Valid {
		return []byte("null"), nil
	}
	return nt.Time.MarshalJSON()
}

func (nt *NullTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*nt = NullTime{}
		return nil
	}
	if err := nt.Time.UnmarshalJSON(data); err != nil {
		return err
	}
	nt.Valid = true
	return nil
}

func (u *User) CheckPassword(password string) error {
	if u.Password == "" {
		return errors.New("account has no local password")
	}
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password))
}

const userColumns = `id, username, email, password, auth_provider, login_count, last_login_at, last_login_ip,
	is_email_verified, email_verification_token, email_verification_token_expires_at,
	password_reset_token, password_reset_token_expires_at,
	created_at, updated_at, mfa_secret, mfa_enabled`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var user User
	var lastLoginIP, emailVerificationToken, passwordResetToken, mfaSecret sql.NullString
	var lastLoginAt, emailVerificationTokenExpiresAt, passwordResetTokenExpiresAt sql.NullTime

	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.Password, &user.AuthProvider,
		&user.LoginCount, &lastLoginAt, &lastLoginIP,
		&user.IsEmailVerified, &emailVerificationToken, &emailVerificationTokenExpiresAt,
		&passwordResetToken, &passwordResetTokenExpiresAt,
		&user.CreatedAt, &user.UpdatedAt, &mfaSecret, &user.MfaEnabled,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	user.LastLoginAt = NullTime(lastLoginAt)
	user.LastLoginIP = lastLoginIP.String
	user.EmailVerificationToken = emailVerificationToken.String
	user.EmailVerificationTokenExpiresAt = emailVerificationTokenExpiresAt.Time
	user.PasswordResetToken = passwordResetToken.String
	user.PasswordResetTokenExpiresAt = passwordResetTokenExpiresAt.Time
	user.MfaSecret = mfaSecret.String
	return &user, nil
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// CreateUser inserts u and bumps the total_users counter in the same transaction.
func (u *User) CreateUser(db *sql.DB) error {
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.AuthProvider == "" {
		u.AuthProvider = AuthProviderLocal
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
	INSERT INTO users (username, email, password, auth_provider, is_email_verified,
		email_verification_token, email_verification_token_expires_at, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Username, u.Email, u.Password, u.AuthProvider, u.IsEmailVerified,
		nullableString(u.EmailVerificationToken), nullableTime(u.EmailVerificationTokenExpiresAt),
		u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	if err := adjustMetric(tx, MetricTotalUsers, 1); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	u.ID = id
	return nil
}

// DeleteUser removes the user and everything they own. total_users drops by
// one, never below zero, and deleted_user_count rises by one.
func DeleteUser(db *sql.DB, userID int64) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec("DELETE FROM users WHERE id = ?", userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrUserNotFound
	}
	if err := adjustMetric(tx, MetricTotalUsers, -1); err != nil {
		return err
	}
	if err := adjustMetric(tx, MetricDeletedUserCount, 1); err != nil {
		return err
	}
	return tx.Commit()
}

func GetUserByID(db *sql.DB, id int64) (*User, error) {
	return scanUser(db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

func GetUserByUsername(db *sql.DB, username string) (*User, error) {
	return scanUser(db.QueryRow("SELECT "+userColumns+" FROM users WHERE username = ?", username))
}

func GetUserByEmail(db *sql.DB, email string) (*User, error) {
	return scanUser(db.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ?", strings.ToLower(email)))
}

func GetUserByVerificationToken(db *sql.DB, token string) (*User, error) {
	return scanUser(db.QueryRow("SELECT "+userColumns+" FROM users WHERE email_verification_token = ?", token))
}

// GetUserByPasswordResetToken only matches tokens that have not expired.
func GetUserByPasswordResetToken(db *sql.DB, token string) (*User, error) {
	return scanUser(db.QueryRow("SELECT "+userColumns+" FROM users WHERE password_reset_token = ? AND password_reset_token_expires_at > ?", token, time.Now()))
}

func (u *User) UpdateUserVerificationStatus(db *sql.DB, isVerified bool) error {
	u.IsEmailVerified = isVerified
	u.EmailVerificationToken = ""
	u.EmailVerificationTokenExpiresAt = time.Time{}
	u.UpdatedAt = time.Now()

	_, err := db.Exec(`
	UPDATE users
	SET is_email_verified = ?, email_verification_token = NULL, email_verification_token_expires_at = NULL, updated_at = ?
	WHERE id = ?`, u.IsEmailVerified, u.UpdatedAt, u.ID)
	return err
}

func (u *User) UpdateUserVerificationToken(db *sql.DB, token string, expiresAt time.Time) error {
	u.EmailVerificationToken = token
	u.EmailVerificationTokenExpiresAt = expiresAt
	u.UpdatedAt = time.Now()

	_, err := db.Exec(`
	UPDATE users
	SET email_verification_token = ?, email_verification_token_expires_at = ?, updated_at = ?
	WHERE id = ?`, u.EmailVerificationToken, u.EmailVerificationTokenExpiresAt, u.UpdatedAt, u.ID)
	return err
}

// SetPasswordResetToken stores a reset token, or clears it when token is empty.
func (u *User) SetPasswordResetToken(db *sql.DB, token string, expiresAt time.Time) error {
	u.PasswordResetToken = token
	u.PasswordResetTokenExpiresAt = expiresAt
	u.UpdatedAt = time.Now()

	_, err := db.Exec(`
	UPDATE users
	SET password_reset_token = ?, password_reset_token_expires_at = ?, updated_at = ?
	WHERE id = ?`, nullableString(token), nullableTime(expiresAt), u.UpdatedAt, u.ID)
	return err
}

// UpdatePassword stores a new hash and invalidates any pending reset token.
func (u *User) UpdatePassword(db *sql.DB, newPasswordHash string) error {
	u.Password = newPasswordHash
	u.PasswordResetToken = ""
	u.PasswordResetTokenExpiresAt = time.Time{}
	u.UpdatedAt = time.Now()

	_, err := db.Exec(`
	UPDATE users
	SET password = ?, password_reset_token = NULL, password_reset_token_expires_at = NULL, updated_at = ?
	WHERE id = ?`, u.Password, u.UpdatedAt, u.ID)
	return err
}

// UpdateMfaSecret stores the pending TOTP secret. MFA stays off until UpdateMfaEnabled.
func (u *User) UpdateMfaSecret(db *sql.DB, secret string) error {
	u.MfaSecret = secret
	u.UpdatedAt = time.Now()
	_, err := db.Exec("UPDATE users SET mfa_secret = ?, updated_at = ? WHERE id = ?", u.MfaSecret, u.UpdatedAt, u.ID)
	return err
}

func (u *User) UpdateMfaEnabled(db *sql.DB, enabled bool) error {
	u.MfaEnabled = enabled
	u.UpdatedAt = time.Now()
	_, err := db.Exec("UPDATE users SET mfa_enabled = ?, updated_at = ? WHERE id = ?", u.MfaEnabled, u.UpdatedAt, u.ID)
	return err
}

// RecordLogin bumps the login counter and appends to login_history.
func RecordLogin(db *sql.DB, userID int64, clientIP, userAgent string) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
		UPDATE users
		SET login_count = login_count + 1, last_login_at = ?, last_login_ip = ?
		WHERE id = ?`, time.Now(), clientIP, userID); err != nil {
		return fmt.Errorf("failed to update login stats: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO login_history (user_id, ip_address, user_agent) VALUES (?, ?, ?)",
		userID, clientIP, userAgent); err != nil {
		return fmt.Errorf("failed to record login history: %w", err)
	}
	return tx.Commit()
}
