package models

import "time"

// Client is an authenticated bank customer. The login credential hash and
// lockout counters live here; session state lives in Redis.
type Client struct {
	ID           int        `json:"id" db:"id"`
	ClientID     string     `json:"clientId" db:"client_id"` // external login id, unique
	Name         string     `json:"name" db:"name"`
	PasswordHash string     `json:"-" db:"password_hash"`
	Email        string     `json:"email" db:"email"`
	Phone        string     `json:"phone" db:"phone"`      // unique
	NationalID   string     `json:"-" db:"national_id"`    // unique
	Address      string     `json:"address" db:"address"`
	FailedLogins int        `json:"-" db:"failed_logins"`  // consecutive failed login attempts
	Locked       bool       `json:"-" db:"locked"`
	LockedUntil  *time.Time `json:"-" db:"locked_until"`
	JoinedAt     time.Time  `json:"joinedAt" db:"joined_at"`
}
