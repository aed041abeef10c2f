package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/coopbank/backend/internal/models"
)

// TransferService executes atomic value movements between two accounts and
// owns the read side of the transaction history (queries and memos).
type TransferService struct {
	db     *sql.DB
	ledger *LedgerService
}

func NewTransferService(db *sql.DB, ledger *LedgerService) *TransferService {
	return &TransferService{db: db, ledger: ledger}
}

// TransferRequest describes a single value movement. Amount is in minor units.
type TransferRequest struct {
	OriginNumber      string `validate:"required"`
	DestinationNumber string `validate:"required"`
	Amount            int64  `validate:"required,gt=0"`
	OriginMemo        string
	DestinationMemo   string
}

// TransferResult reports a committed movement.
type TransferResult struct {
	Reference          string `json:"reference"`
	Amount             int64  `json:"amount"`
	OriginBalance      int64  `json:"originBalance"`
	DestinationBalance int64  `json:"destinationBalance"`
}

// TransferWithPassword verifies the origin account's transfer password and
// then executes the movement. All client-initiated transfers go through
// here; scheduler-driven charges call Transfer directly because the member
// authorized auto-debit when designating the funding account.
func (s *TransferService) TransferWithPassword(ctx context.Context, req TransferRequest, password string) (*TransferResult, error) {
	var hash string
	err := s.db.QueryRowContext(ctx, "SELECT password_hash FROM accounts WHERE account_number = $1", req.OriginNumber).Scan(&hash)
	if err == sql.ErrNoRows {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	if !verifyPassword(password, hash) {
		return nil, ErrWrongPassword
	}
	return s.Transfer(ctx, req)
}

// Transfer moves req.Amount from the origin account to the destination
// account and appends the two matching history rows, all in one ledger
// transaction. Nothing is observable unless every step commits.
func (s *TransferService) Transfer(ctx context.Context, req TransferRequest) (*TransferResult, error) {
	var result *TransferResult
	err := s.ledger.WithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		result, err = s.TransferTx(ctx, tx, req, models.MovementTransfer)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// TransferTx performs the movement inside an existing transaction. The
// settlement run uses it directly so the charge shares a transaction with
// the member's last-settled stamp. kind selects the history movement kind:
// MovementTransfer records DEBIT/CREDIT rows, MovementAutoDeposit records
// AUTO_DEPOSIT on both sides.
func (s *TransferService) TransferTx(ctx context.Context, tx *sql.Tx, req TransferRequest, kind string) (*TransferResult, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.OriginNumber == req.DestinationNumber {
		return nil, ErrSameAccount
	}

	origin, destination, err := s.ledger.LockAccountPair(ctx, tx, req.OriginNumber, req.DestinationNumber)
	if err != nil {
		return nil, err
	}
	if origin.Status != models.AccountStatusActive || destination.Status != models.AccountStatusActive {
		return nil, ErrAccountInactive
	}
	if origin.Balance < req.Amount {
		return nil, ErrInsufficientFunds
	}

	if err := s.ledger.AdjustBalance(ctx, tx, origin.ID, -req.Amount, origin.Version); err != nil {
		return nil, err
	}
	if err := s.ledger.AdjustBalance(ctx, tx, destination.ID, req.Amount, destination.Version); err != nil {
		return nil, err
	}

	originKind, destinationKind := models.MovementDebit, models.MovementCredit
	if kind == models.MovementAutoDeposit {
		originKind, destinationKind = models.MovementAutoDeposit, models.MovementAutoDeposit
	}

	originRow := &models.TransactionHistory{
		Label:         fmt.Sprintf("To %s", destination.Name),
		Kind:          originKind,
		Amount:        -req.Amount,
		Balance:       origin.Balance - req.Amount,
		AccountID:     origin.ID,
		OriginID:      origin.ID,
		DestinationID: destination.ID,
		Memo:          optionalMemo(req.OriginMemo),
	}
	if err := s.ledger.AppendHistory(ctx, tx, originRow); err != nil {
		return nil, err
	}

	destinationRow := &models.TransactionHistory{
		Label:         fmt.Sprintf("From %s", origin.Name),
		Kind:          destinationKind,
		Amount:        req.Amount,
		Balance:       destination.Balance + req.Amount,
		AccountID:     destination.ID,
		OriginID:      origin.ID,
		DestinationID: destination.ID,
		Memo:          optionalMemo(req.DestinationMemo),
	}
	if err := s.ledger.AppendHistory(ctx, tx, destinationRow); err != nil {
		return nil, err
	}

	reference := uuid.NewString()
	log.Printf("[LEDGER] Transfer %s committed: %s -> %s amount=%d", reference, origin.Number, destination.Number, req.Amount)

	return &TransferResult{
		Reference:          reference,
		Amount:             req.Amount,
		OriginBalance:      origin.Balance - req.Amount,
		DestinationBalance: destination.Balance + req.Amount,
	}, nil
}

// HistoryFilter narrows a history query. A zero filter returns the most
// recent rows capped at DefaultHistoryLimit.
type HistoryFilter struct {
	Label string
	Kind  string
	From  *time.Time
	To    *time.Time
	Limit int
}

const DefaultHistoryLimit = 50

// ListHistory returns history rows recorded against an account owned by
// the calling client, newest first.
func (s *TransferService) ListHistory(ctx context.Context, clientID, accountID int, filter HistoryFilter) ([]*models.TransactionHistory, error) {
	if err := s.requireAccountOwner(ctx, accountID, clientID); err != nil {
		return nil, err
	}

	query := `
		SELECT id, label, kind, amount, balance, account_id, origin_account_id, destination_account_id, memo, created_at
		FROM transaction_history
		WHERE account_id = $1`
	args := []interface{}{accountID}

	if filter.Label != "" {
		args = append(args, "%"+filter.Label+"%")
		query += fmt.Sprintf(" AND label ILIKE $%d", len(args))
	}
	if filter.Kind != "" {
		args = append(args, filter.Kind)
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND created_at <= $%d", len(args))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var history []*models.TransactionHistory
	for rows.Next() {
		var rec models.TransactionHistory
		if err := rows.Scan(&rec.ID, &rec.Label, &rec.Kind, &rec.Amount, &rec.Balance, &rec.AccountID, &rec.OriginID, &rec.DestinationID, &rec.Memo, &rec.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, &rec)
	}
	return history, rows.Err()
}

// GetMemo returns the memo of a history row the account participates in.
func (s *TransferService) GetMemo(ctx context.Context, clientID, accountID, transactionID int) (*string, error) {
	if err := s.requireAccountOwner(ctx, accountID, clientID); err != nil {
		return nil, err
	}

	var memo *string
	err := s.db.QueryRowContext(ctx, `
		SELECT memo FROM transaction_history
		WHERE id = $1 AND (origin_account_id = $2 OR destination_account_id = $2)`,
		transactionID, accountID).Scan(&memo)
	if err == sql.ErrNoRows {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return memo, nil
}

// SetMemo attaches or replaces the memo on a history row the account
// participates in. Memos are the only mutable part of a history row.
func (s *TransferService) SetMemo(ctx context.Context, clientID, accountID, transactionID int, memo string) error {
	return s.updateMemo(ctx, clientID, accountID, transactionID, &memo)
}

// ClearMemo removes the memo from a history row.
func (s *TransferService) ClearMemo(ctx context.Context, clientID, accountID, transactionID int) error {
	return s.updateMemo(ctx, clientID, accountID, transactionID, nil)
}

func (s *TransferService) updateMemo(ctx context.Context, clientID, accountID, transactionID int, memo *string) error {
	if err := s.requireAccountOwner(ctx, accountID, clientID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE transaction_history SET memo = $1
		WHERE id = $2 AND (origin_account_id = $3 OR destination_account_id = $3)`,
		memo, transactionID, accountID)
	if err != nil {
		return fmt.Errorf("update memo: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (s *TransferService) requireAccountOwner(ctx context.Context, accountID, clientID int) error {
	var ownerID int
	err := s.db.QueryRowContext(ctx, "SELECT client_id FROM accounts WHERE id = $1", accountID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return ErrAccountNotFound
	}
	if err != nil {
		return err
	}
	if ownerID != clientID {
		return ErrNotAccountOwner
	}
	return nil
}

func optionalMemo(memo string) *string {
	if memo == "" {
		return nil
	}
	return &memo
}
