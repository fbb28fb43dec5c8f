package model

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/optionslog/backend/src/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, database.RunMigrations(db, "../../db/migrations"))
	return db
}

func newUser(t *testing.T, db *sql.DB, username string) *User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	u := &User{Username: username, Email: username + "@example.com", Password: string(hash)}
	require.NoError(t, u.CreateUser(db))
	return u
}

func TestCreateUserIncrementsCounter(t *testing.T) {
	db := setupTestDB(t)

	u := newUser(t, db, "alice")
	newUser(t, db, "bob")

	assert.NotZero(t, u.ID)
	assert.Equal(t, AuthProviderLocal, u.AuthProvider)
	total, err := GetMetric(db, MetricTotalUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestCreateUserDuplicateLeavesCounter(t *testing.T) {
	db := setupTestDB(t)
	newUser(t, db, "alice")

	dup := &User{Username: "alice", Email: "other@example.com"}
	assert.Error(t, dup.CreateUser(db))

	total, err := GetMetric(db, MetricTotalUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestUserLookups(t *testing.T) {
	db := setupTestDB(t)
	u := newUser(t, db, "alice")

	byID, err := GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)
	assert.NoError(t, byID.CheckPassword("correct horse"))
	assert.Error(t, byID.CheckPassword("wrong"))

	byEmail, err := GetUserByEmail(db, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	_, err = GetUserByUsername(db, "nobody")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerificationAndResetTokens(t *testing.T) {
	db := setupTestDB(t)
	u := newUser(t, db, "alice")

	require.NoError(t, u.UpdateUserVerificationToken(db, "verify-token", time.Now().Add(time.Hour)))
	got, err := GetUserByVerificationToken(db, "verify-token")
	require.NoError(t, err)
	require.NoError(t, got.UpdateUserVerificationStatus(db, true))

	got, err = GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.True(t, got.IsEmailVerified)
	assert.Empty(t, got.EmailVerificationToken)

	require.NoError(t, u.SetPasswordResetToken(db, "expired", time.Now().Add(-time.Minute)))
	_, err = GetUserByPasswordResetToken(db, "expired")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, u.SetPasswordResetToken(db, "reset-token", time.Now().Add(time.Hour)))
	got, err = GetUserByPasswordResetToken(db, "reset-token")
	require.NoError(t, err)
	require.NoError(t, got.UpdatePassword(db, "new-hash"))

	_, err = GetUserByPasswordResetToken(db, "reset-token")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestRecordLogin(t *testing.T) {
	db := setupTestDB(t)
	u := newUser(t, db, "alice")

	require.NoError(t, RecordLogin(db, u.ID, "203.0.113.7", "test-agent"))
	require.NoError(t, RecordLogin(db, u.ID, "203.0.113.8", "test-agent"))

	got, err := GetUserByID(db, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.LoginCount)
	assert.Equal(t, "203.0.113.8", got.LastLoginIP)
	assert.True(t, got.LastLoginAt.Valid)

	var history int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM login_history WHERE user_id = ?", u.ID).Scan(&history))
	assert.Equal(t, 2, history)
}

func TestDeleteUserAdjustsCounters(t *testing.T) {
	db := setupTestDB(t)
	u := newUser(t, db, "alice")
	require.NoError(t, CreateSession(db, &Session{UserID: u.ID, Token: "a", RefreshToken: "r", ExpiresAt: time.Now().Add(time.Hour)}))

	require.NoError(t, DeleteUser(db, u.ID))
	assert.ErrorIs(t, DeleteUser(db, u.ID), ErrUserNotFound)

	total, err := GetMetric(db, MetricTotalUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)
	deleted, err := GetMetric(db, MetricDeletedUserCount)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = GetSessionByToken(db, "a")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMetricNeverBelowZero(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, adjustMetric(db, MetricTotalUsers, -1))
	total, err := GetMetric(db, MetricTotalUsers)
	require.NoError(t, err)
	assert.Equal(t, int64(0), total)

	unknown, err := GetMetric(db, "never_written")
	require.NoError(t, err)
	assert.Zero(t, unknown)
}

func TestSessions(t *testing.T) {
	db := setupTestDB(t)
	u := newUser(t, db, "alice")

	s := &Session{UserID: u.ID, Token: "access", RefreshToken: "refresh", UserAgent: "ua", ClientIP: "127.0.0.1", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, CreateSession(db, s))
	assert.NotZero(t, s.ID)

	got, err := GetSessionByRefreshToken(db, "refresh")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.UserID)

	require.NoError(t, DeleteSessionByToken(db, "access"))
	_, err = GetSessionByToken(db, "access")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	expired := &Session{UserID: u.ID, Token: "old", RefreshToken: "old-r", ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, CreateSession(db, expired))
	_, err = GetSessionByToken(db, "old")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
