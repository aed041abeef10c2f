package models

import "time"

const (
	MovementDebit       = "DEBIT"
	MovementCredit      = "CREDIT"
	MovementTransfer    = "TRANSFER"
	MovementAutoDeposit = "AUTO_DEPOSIT"
)

// TransactionHistory is an append-only record of one side of a value
// movement. Every committed movement writes exactly two rows sharing
// origin/destination references: a negative-amount row against the origin
// account and a positive-amount row against the destination. Balance is
// the post-movement balance of the owning account. Only the memo is
// mutable after the fact.
type TransactionHistory struct {
	ID            int       `json:"id" db:"id"`
	Label         string    `json:"label" db:"label"`
	Kind          string    `json:"kind" db:"kind"`
	Amount        int64     `json:"amount" db:"amount"` // signed
	Balance       int64     `json:"balance" db:"balance"`
	AccountID     int       `json:"accountId" db:"account_id"` // owning side
	OriginID      int       `json:"originId" db:"origin_account_id"`
	DestinationID int       `json:"destinationId" db:"destination_account_id"`
	Memo          *string   `json:"memo,omitempty" db:"memo"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
}
