package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/coopbank/backend/internal/models"
)

var errAlreadySettled = errors.New("member already settled this period")

// SettlementService runs the recurring group-deposit settlement: for every
// group whose contribution day matches the run day, it charges each
// accepted member's funding account into the group account. Each member is
// processed in its own transaction, so one failure never rolls back
// charges that already committed, and the last-settled stamp shares the
// charge's transaction, making a re-run within the same period a no-op
// per member.
type SettlementService struct {
	db        *sql.DB
	ledger    *LedgerService
	transfers *TransferService
}

func NewSettlementService(db *sql.DB, ledger *LedgerService, transfers *TransferService) *SettlementService {
	return &SettlementService{db: db, ledger: ledger, transfers: transfers}
}

// SettlementSummary counts the per-member outcomes of one run.
// SkippedGroups counts groups whose member list could not be read at all;
// their members appear in no per-member counter.
type SettlementSummary struct {
	RunAt                    time.Time `json:"runAt"`
	GroupsDue                int       `json:"groupsDue"`
	SkippedGroups            int       `json:"skippedGroups"`
	Charged                  int       `json:"charged"`
	AlreadySettled           int       `json:"alreadySettled"`
	SkippedNoFundingAccount  int       `json:"skippedNoFundingAccount"`
	SkippedInsufficientFunds int       `json:"skippedInsufficientFunds"`
	SkippedTransferFailed    int       `json:"skippedTransferFailed"`
}

type dueGroup struct {
	id            int
	name          string
	amount        int64
	accountNumber string
}

type dueMember struct {
	id       int
	clientID int
}

// Run executes one settlement pass for the given run time. The scheduled
// daily tick and the manual trigger both call this exact method.
func (s *SettlementService) Run(ctx context.Context, now time.Time) (*SettlementSummary, error) {
	summary := &SettlementSummary{RunAt: now}

	groups, err := s.dueGroups(ctx, now.Day())
	if err != nil {
		return nil, err
	}
	summary.GroupsDue = len(groups)
	log.Printf("[SETTLE] Run started: %d group(s) due on day %d", len(groups), now.Day())

	for _, group := range groups {
		members, err := s.acceptedMembers(ctx, group.id)
		if err != nil {
			log.Printf("[SETTLE] Skipping group %d, member query failed: %v", group.id, err)
			summary.SkippedGroups++
			continue
		}

		for _, member := range members {
			err := s.settleMember(ctx, group, member, now)
			switch {
			case err == nil:
				summary.Charged++
			case errors.Is(err, errAlreadySettled):
				summary.AlreadySettled++
			case errors.Is(err, ErrMembershipNotFound), errors.Is(err, ErrAccountNotFound):
				summary.SkippedNoFundingAccount++
			case errors.Is(err, ErrInsufficientFunds):
				log.Printf("[SETTLE] Member %d (client %d) skipped: insufficient funds for group %d", member.id, member.clientID, group.id)
				summary.SkippedInsufficientFunds++
			default:
				// One member's failure must not abort the batch.
				log.Printf("[SETTLE] Member %d (client %d) charge failed for group %d: %v", member.id, member.clientID, group.id, err)
				summary.SkippedTransferFailed++
			}
		}
	}

	log.Printf("[SETTLE] Run finished: charged=%d alreadySettled=%d noFunding=%d insufficient=%d failed=%d skippedGroups=%d",
		summary.Charged, summary.AlreadySettled, summary.SkippedNoFundingAccount,
		summary.SkippedInsufficientFunds, summary.SkippedTransferFailed, summary.SkippedGroups)
	return summary, nil
}

// settleMember charges one member inside one transaction. The member row
// is locked first so concurrent runs serialize on it, and the last-settled
// check happens under that lock in the same transaction as the charge,
// which is what makes a duplicate charge impossible.
func (s *SettlementService) settleMember(ctx context.Context, group dueGroup, member dueMember, now time.Time) error {
	return s.ledger.WithTransaction(ctx, func(tx *sql.Tx) error {
		var fundingAccountID *int
		var lastSettledAt *time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT funding_account_id, last_settled_at
			FROM group_account_members
			WHERE id = $1 AND invite_status = $2
			FOR UPDATE`,
			member.id, models.InviteStatusAccepted).Scan(&fundingAccountID, &lastSettledAt)
		if err == sql.ErrNoRows {
			return ErrMembershipNotFound
		}
		if err != nil {
			return err
		}

		if lastSettledAt != nil && samePeriod(*lastSettledAt, now) {
			return errAlreadySettled
		}
		if fundingAccountID == nil {
			return ErrAccountNotFound
		}

		var fundingNumber string
		err = tx.QueryRowContext(ctx, "SELECT account_number FROM accounts WHERE id = $1", *fundingAccountID).Scan(&fundingNumber)
		if err == sql.ErrNoRows {
			return ErrAccountNotFound
		}
		if err != nil {
			return err
		}

		_, err = s.transfers.TransferTx(ctx, tx, TransferRequest{
			OriginNumber:      fundingNumber,
			DestinationNumber: group.accountNumber,
			Amount:            group.amount,
			OriginMemo:        fmt.Sprintf("Monthly contribution to %s", group.name),
			DestinationMemo:   "Monthly contribution",
		}, models.MovementAutoDeposit)
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, "UPDATE group_account_members SET last_settled_at = $1 WHERE id = $2", now, member.id)
		return err
	})
}

func (s *SettlementService) dueGroups(ctx context.Context, day int) ([]dueGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.group_name, g.contribution_amount, a.account_number
		FROM groups g
		JOIN accounts a ON g.account_id = a.id
		WHERE g.contribution_day = $1 AND g.contribution_amount > 0 AND a.status = $2`,
		day, models.AccountStatusActive)
	if err != nil {
		return nil, fmt.Errorf("query due groups: %w", err)
	}
	defer rows.Close()

	var groups []dueGroup
	for rows.Next() {
		var g dueGroup
		if err := rows.Scan(&g.id, &g.name, &g.amount, &g.accountNumber); err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *SettlementService) acceptedMembers(ctx context.Context, groupID int) ([]dueMember, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, client_id
		FROM group_account_members
		WHERE group_id = $1 AND invite_status = $2
		ORDER BY id`,
		groupID, models.InviteStatusAccepted)
	if err != nil {
		return nil, fmt.Errorf("query accepted members: %w", err)
	}
	defer rows.Close()

	var members []dueMember
	for rows.Next() {
		var m dueMember
		if err := rows.Scan(&m.id, &m.clientID); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// samePeriod reports whether two timestamps fall in the same settlement
// period (calendar month).
func samePeriod(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
