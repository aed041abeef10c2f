package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/coopbank/backend/internal/models"
)

// LedgerService is the single source of truth for accounts, balances and
// transaction history. Every mutation goes through WithTransaction so a
// balance adjustment and its history rows commit or roll back together.
type LedgerService struct {
	db *sql.DB
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db}
}

// WithTransaction runs fn inside a storage transaction. The transaction is
// rolled back when fn returns an error or panics and committed otherwise.
func (s *LedgerService) WithTransaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	return tx.Commit()
}

// GetAccount fetches an account by primary key without locking it.
func (s *LedgerService) GetAccount(ctx context.Context, id int) (*models.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, client_id, account_number, account_name, account_type, balance, status, daily_transfer_limit, version, created_at
		FROM accounts
		WHERE id = $1`, id))
}

// GetAccountByNumber fetches an account by its external number without locking it.
func (s *LedgerService) GetAccountByNumber(ctx context.Context, number string) (*models.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx, `
		SELECT id, client_id, account_number, account_name, account_type, balance, status, daily_transfer_limit, version, created_at
		FROM accounts
		WHERE account_number = $1`, number))
}

// LockAccountByNumber fetches an account FOR UPDATE inside tx. Callers
// locking more than one account must go through LockAccountPair so locks
// are always taken in the same order.
func (s *LedgerService) LockAccountByNumber(ctx context.Context, tx *sql.Tx, number string) (*models.Account, error) {
	return scanAccount(tx.QueryRowContext(ctx, `
		SELECT id, client_id, account_number, account_name, account_type, balance, status, daily_transfer_limit, version, created_at
		FROM accounts
		WHERE account_number = $1
		FOR UPDATE`, number))
}

// LockAccountPair row-locks two accounts in consistent key order to prevent
// deadlocks between concurrent transfers touching the same pair, then
// returns them matching the argument order.
func (s *LedgerService) LockAccountPair(ctx context.Context, tx *sql.Tx, firstNumber, secondNumber string) (*models.Account, *models.Account, error) {
	lockFirst, lockSecond := firstNumber, secondNumber
	if lockFirst > lockSecond {
		lockFirst, lockSecond = lockSecond, lockFirst
	}

	a, err := s.LockAccountByNumber(ctx, tx, lockFirst)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.LockAccountByNumber(ctx, tx, lockSecond)
	if err != nil {
		return nil, nil, err
	}

	if lockFirst != firstNumber {
		a, b = b, a
	}
	return a, b, nil
}

// AdjustBalance applies a signed delta to a locked account's balance. The
// update is guarded so the balance can never go negative and the version
// check detects a concurrent writer; either guard failing affects zero
// rows and is resolved into the precise error.
func (s *LedgerService) AdjustBalance(ctx context.Context, tx *sql.Tx, accountID int, delta int64, version int) error {
	result, err := tx.ExecContext(ctx, `
		UPDATE accounts
		SET balance = balance + $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND version = $4 AND balance + $1 >= 0`,
		delta, time.Now(), accountID, version)
	if err != nil {
		return fmt.Errorf("adjust balance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var balance int64
		err := tx.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE id = $1", accountID).Scan(&balance)
		if err == sql.ErrNoRows {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}
		if delta < 0 && balance+delta < 0 {
			return ErrInsufficientFunds
		}
		return ErrVersionConflict
	}
	return nil
}

// AppendHistory inserts one side of a movement into the append-only
// transaction history.
func (s *LedgerService) AppendHistory(ctx context.Context, tx *sql.Tx, rec *models.TransactionHistory) error {
	err := tx.QueryRowContext(ctx, `
		INSERT INTO transaction_history (label, kind, amount, balance, account_id, origin_account_id, destination_account_id, memo, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		rec.Label, rec.Kind, rec.Amount, rec.Balance, rec.AccountID, rec.OriginID, rec.DestinationID, rec.Memo, time.Now()).Scan(&rec.ID)
	if err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// GetMembership fetches the membership row for a (group, client) pair.
func (s *LedgerService) GetMembership(ctx context.Context, groupID, clientID int) (*models.GroupAccountMember, error) {
	return scanMember(s.db.QueryRowContext(ctx, `
		SELECT id, group_id, client_id, member_role, invite_status, invite_token, invite_expires_at, funding_account_id, last_settled_at, joined_at
		FROM group_account_members
		WHERE group_id = $1 AND client_id = $2`, groupID, clientID))
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.ClientID, &a.Number, &a.Name, &a.Type, &a.Balance, &a.Status, &a.DailyLimit, &a.Version, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func scanMember(row rowScanner) (*models.GroupAccountMember, error) {
	var m models.GroupAccountMember
	err := row.Scan(&m.ID, &m.GroupID, &m.ClientID, &m.Role, &m.InviteStatus, &m.InviteToken, &m.InviteExpiresAt, &m.FundingAccountID, &m.LastSettledAt, &m.JoinedAt)
	if err == sql.ErrNoRows {
		return nil, ErrMembershipNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
