package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/coopbank/backend/internal/models"
)

// AccountService opens accounts and serves the owner-scoped read side.
// Opening a group-type account also creates its Group companion and the
// owner membership as one logical unit.
type AccountService struct {
	db     *sql.DB
	ledger *LedgerService
	issuer *AccountNumberIssuer
}

func NewAccountService(db *sql.DB, ledger *LedgerService, issuer *AccountNumberIssuer) *AccountService {
	return &AccountService{db: db, ledger: ledger, issuer: issuer}
}

// OpenAccountRequest carries the validated inputs of an account-open call.
type OpenAccountRequest struct {
	Name        string `json:"name" validate:"required,min=2,max=40"`
	Type        string `json:"type" validate:"required,oneof=personal group"`
	Password    string `json:"password" validate:"required,min=4"` // transfer password
	DailyLimit  int64  `json:"dailyLimit" validate:"required,gt=0"`
	Description string `json:"description" validate:"max=255"` // group accounts only
}

// Open creates a new active account with a freshly issued number and a
// zero balance. An insert that loses the race on the account_number unique
// index is retried with a reissued number.
func (s *AccountService) Open(ctx context.Context, clientID int, req OpenAccountRequest) (*models.Account, error) {
	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash account password: %w", err)
	}

	for attempt := 0; attempt < issueAttempts; attempt++ {
		number, err := s.issuer.Issue(ctx)
		if err != nil {
			return nil, err
		}

		account := &models.Account{
			ClientID:   clientID,
			Number:     number,
			Name:       req.Name,
			Type:       req.Type,
			Balance:    0,
			Status:     models.AccountStatusActive,
			DailyLimit: req.DailyLimit,
			Version:    1,
			CreatedAt:  time.Now(),
		}

		err = s.ledger.WithTransaction(ctx, func(tx *sql.Tx) error {
			err := tx.QueryRowContext(ctx, `
				INSERT INTO accounts (client_id, account_number, account_name, account_type, balance, password_hash, status, daily_transfer_limit, version, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
				RETURNING id`,
				clientID, number, req.Name, req.Type, 0, hash, models.AccountStatusActive, req.DailyLimit, 1, account.CreatedAt).Scan(&account.ID)
			if err != nil {
				return err
			}

			if req.Type != models.AccountTypeGroup {
				return nil
			}

			var groupID int
			err = tx.QueryRowContext(ctx, `
				INSERT INTO groups (account_id, group_name, description, contribution_day, contribution_amount, target_amount, created_at)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
				RETURNING id`,
				account.ID, req.Name, req.Description, 1, 0, 0, time.Now()).Scan(&groupID)
			if err != nil {
				return fmt.Errorf("create group: %w", err)
			}

			_, err = tx.ExecContext(ctx, `
				INSERT INTO group_account_members (group_id, client_id, member_role, invite_status, joined_at)
				VALUES ($1, $2, $3, $4, $5)`,
				groupID, clientID, models.MemberRoleOwner, models.InviteStatusAccepted, time.Now())
			if err != nil {
				return fmt.Errorf("create owner membership: %w", err)
			}
			return nil
		})
		if err != nil {
			// Lost the issuance race: another open committed this number
			// between our pre-check and insert. Reissue and try again.
			if isUniqueViolation(err) {
				log.Printf("[ACCOUNT] Number %s collided on insert, reissuing", number)
				continue
			}
			return nil, err
		}

		log.Printf("[ACCOUNT] Opened %s account %s for client %d", req.Type, number, clientID)
		return account, nil
	}
	return nil, ErrExhaustedRetries
}

// ListByClient returns every account owned by the client.
func (s *AccountService) ListByClient(ctx context.Context, clientID int) ([]*models.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id, account_number, account_name, account_type, balance, status, daily_transfer_limit, version, created_at
		FROM accounts
		WHERE client_id = $1
		ORDER BY created_at DESC`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(&a.ID, &a.ClientID, &a.Number, &a.Name, &a.Type, &a.Balance, &a.Status, &a.DailyLimit, &a.Version, &a.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, &a)
	}
	return accounts, rows.Err()
}

// Get returns one account, restricted to its owner.
func (s *AccountService) Get(ctx context.Context, clientID, accountID int) (*models.Account, error) {
	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if account.ClientID != clientID {
		return nil, ErrNotAccountOwner
	}
	return account, nil
}
