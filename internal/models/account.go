package models

import "time"

const (
	AccountTypePersonal = "personal"
	AccountTypeGroup    = "group"

	AccountStatusActive = "active"
	AccountStatusClosed = "closed"
)

// Account is a balance-bearing account owned by exactly one client.
// Balance is in minor units (cents) and is only ever mutated inside a
// ledger transaction. Version is bumped on every balance write so a
// concurrent writer is detected even under READ COMMITTED.
type Account struct {
	ID           int       `json:"id" db:"id"`
	ClientID     int       `json:"clientId" db:"client_id"`
	Number       string    `json:"number" db:"account_number"` // unique, immutable
	Name         string    `json:"name" db:"account_name"`
	Type         string    `json:"type" db:"account_type"`
	Balance      int64     `json:"balance" db:"balance"`
	PasswordHash string    `json:"-" db:"password_hash"` // transfer password
	Status       string    `json:"status" db:"status"`
	DailyLimit   int64     `json:"dailyLimit" db:"daily_transfer_limit"`
	Version      int       `json:"-" db:"version"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
}
