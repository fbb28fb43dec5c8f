package model

import (
	"database/sql"
	"errors"
	"time"
)

// ErrSessionNotFound covers missing, expired and blocked sessions alike.
var ErrSessionNotFound = errors.New("session not found, expired, or blocked")

type Session struct {
	ID           int64     `json:"id"`
	UserID       int64     `json:"user_id"`
	Token        string    `json:"token"`
	RefreshToken string    `json:"refresh_token"`
	UserAgent    string    `json:"user_agent"`
	ClientIP     string    `json:"client_ip"`
	IsBlocked    bool      `json:"is_blocked"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

const sessionColumns = "id, user_id, token, refresh_token, user_agent, client_ip, is_blocked, expires_at, created_at"

func scanSession(row rowScanner) (*Session, error) {
	var s Session
	var userAgent, clientIP sql.NullString
	err := row.Scan(&s.ID, &s.UserID, &s.Token, &s.RefreshToken, &userAgent, &clientIP, &s.IsBlocked, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	s.UserAgent = userAgent.String
	s.ClientIP = clientIP.String
	return &s, nil
}

func CreateSession(db *sql.DB, session *Session) error {
	session.CreatedAt = time.Now()
	res, err := db.Exec(`
	INSERT INTO sessions (user_id, token, refresh_token, user_agent, client_ip, is_blocked, expires_at, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.UserID, session.Token, session.RefreshToken, session.UserAgent,
		session.ClientIP, session.IsBlocked, session.ExpiresAt, session.CreatedAt,
	)
	if err != nil {
		return err
	}
	session.ID, err = res.LastInsertId()
	return err
}

func GetSessionByToken(db *sql.DB, token string) (*Session, error) {
	return scanSession(db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE token = ? AND is_blocked = FALSE AND expires_at > ?", token, time.Now()))
}

func GetSessionByRefreshToken(db *sql.DB, refreshToken string) (*Session, error) {
	return scanSession(db.QueryRow("SELECT "+sessionColumns+" FROM sessions WHERE refresh_token = ? AND is_blocked = FALSE AND expires_at > ?", refreshToken, time.Now()))
}

func DeleteSessionByToken(db *sql.DB, token string) error {
	_, err := db.Exec("DELETE FROM sessions WHERE token = ?", token)
	return err
}

func DeleteSessionByRefreshToken(db *sql.DB, refreshToken string) error {
	_, err := db.Exec("DELETE FROM sessions WHERE refresh_token = ?", refreshToken)
	return err
}
