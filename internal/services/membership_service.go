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

const inviteTTL = 7 * 24 * time.Hour

// MembershipService governs a client's relationship to a group account:
// the pending -> accepted invitation state machine and the role gates used
// by settings updates and funding-account assignment. Invitation email
// delivery happens outside; the service hands back the token.
type MembershipService struct {
	db     *sql.DB
	ledger *LedgerService
}

func NewMembershipService(db *sql.DB, ledger *LedgerService) *MembershipService {
	return &MembershipService{db: db, ledger: ledger}
}

// Invitation is the outcome of a successful invite.
type Invitation struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	GroupID   int       `json:"groupId"`
	ClientID  int       `json:"clientId"`
}

// Invite creates a pending membership for the client registered under
// inviteeEmail, carrying a fresh single-use token. Only accepted members
// may invite. An unexpired pending invitation blocks a second one; a
// lapsed pending row gets its token refreshed instead.
func (s *MembershipService) Invite(ctx context.Context, groupID, inviterID int, inviteeEmail string) (*Invitation, error) {
	if err := s.requireAcceptedMember(ctx, groupID, inviterID); err != nil {
		return nil, err
	}

	var inviteeID int
	err := s.db.QueryRowContext(ctx, "SELECT id FROM clients WHERE email = $1", inviteeEmail).Scan(&inviteeID)
	if err == sql.ErrNoRows {
		return nil, ErrClientNotFound
	}
	if err != nil {
		return nil, err
	}

	invitation := &Invitation{
		Token:     uuid.NewString(),
		ExpiresAt: time.Now().Add(inviteTTL),
		GroupID:   groupID,
		ClientID:  inviteeID,
	}

	existing, err := s.ledger.GetMembership(ctx, groupID, inviteeID)
	switch {
	case err == nil && existing.InviteStatus == models.InviteStatusAccepted:
		return nil, ErrAlreadyMember
	case err == nil && existing.InviteStatus == models.InviteStatusPending:
		if existing.InviteExpiresAt != nil && existing.InviteExpiresAt.After(time.Now()) {
			return nil, ErrAlreadyInvited
		}
		// Lapsed invitation: reuse the row with a fresh token.
		_, err = s.db.ExecContext(ctx, `
			UPDATE group_account_members
			SET invite_token = $1, invite_expires_at = $2
			WHERE id = $3`,
			invitation.Token, invitation.ExpiresAt, existing.ID)
		if err != nil {
			return nil, fmt.Errorf("refresh invitation: %w", err)
		}
	case err == ErrMembershipNotFound:
		_, err = s.db.ExecContext(ctx, `
			INSERT INTO group_account_members (group_id, client_id, member_role, invite_status, invite_token, invite_expires_at, joined_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			groupID, inviteeID, models.MemberRoleMember, models.InviteStatusPending, invitation.Token, invitation.ExpiresAt, time.Now())
		if err != nil {
			if isUniqueViolation(err) {
				return nil, ErrAlreadyInvited
			}
			return nil, fmt.Errorf("create invitation: %w", err)
		}
	default:
		return nil, err
	}

	log.Printf("[GROUP] Client %d invited to group %d by client %d", inviteeID, groupID, inviterID)
	return invitation, nil
}

// Accept transitions a pending membership to accepted and clears the
// token, making it single-use. Only the invited client may accept, and
// only before the token lapses. The partial unique index over accepted
// (group, client) pairs backstops a racing double-accept.
func (s *MembershipService) Accept(ctx context.Context, token string, callerID int) error {
	err := s.ledger.WithTransaction(ctx, func(tx *sql.Tx) error {
		var memberID, clientID int
		var expiresAt *time.Time
		err := tx.QueryRowContext(ctx, `
			SELECT id, client_id, invite_expires_at
			FROM group_account_members
			WHERE invite_token = $1 AND invite_status = $2
			FOR UPDATE`,
			token, models.InviteStatusPending).Scan(&memberID, &clientID, &expiresAt)
		if err == sql.ErrNoRows {
			return ErrInvalidOrExpiredToken
		}
		if err != nil {
			return err
		}
		if expiresAt == nil || expiresAt.Before(time.Now()) {
			return ErrInvalidOrExpiredToken
		}
		if clientID != callerID {
			return ErrWrongInvitee
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE group_account_members
			SET invite_status = $1, invite_token = NULL, invite_expires_at = NULL, joined_at = $2
			WHERE id = $3`,
			models.InviteStatusAccepted, time.Now(), memberID)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyMember
		}
		return err
	}

	log.Printf("[GROUP] Client %d accepted invitation", callerID)
	return nil
}

// GroupSettings is the owner-configurable contribution schedule.
type GroupSettings struct {
	ContributionDay    int   `json:"contributionDay" validate:"required,min=1,max=31"`
	ContributionAmount int64 `json:"contributionAmount" validate:"required,gt=0"`
	TargetAmount       int64 `json:"targetAmount" validate:"min=0"`
}

// UpdateSettings changes a group's contribution schedule. Owner only.
func (s *MembershipService) UpdateSettings(ctx context.Context, groupID, callerID int, settings GroupSettings) error {
	if err := s.requireOwner(ctx, groupID, callerID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE groups
		SET contribution_day = $1, contribution_amount = $2, target_amount = $3
		WHERE id = $4`,
		settings.ContributionDay, settings.ContributionAmount, settings.TargetAmount, groupID)
	if err != nil {
		return fmt.Errorf("update group settings: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrGroupNotFound
	}

	log.Printf("[GROUP] Settings updated for group %d: day=%d amount=%d target=%d",
		groupID, settings.ContributionDay, settings.ContributionAmount, settings.TargetAmount)
	return nil
}

// AssignFundingAccount designates which of the member's own personal
// accounts the settlement run debits. Any accepted member may set their
// own funding account; it must be an active personal account they own.
func (s *MembershipService) AssignFundingAccount(ctx context.Context, groupID, callerID, accountID int) error {
	if err := s.requireAcceptedMember(ctx, groupID, callerID); err != nil {
		return err
	}

	account, err := s.ledger.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	if account.ClientID != callerID {
		return ErrNotAccountOwner
	}
	if account.Type != models.AccountTypePersonal || account.Status != models.AccountStatusActive {
		return ErrAccountInactive
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE group_account_members
		SET funding_account_id = $1
		WHERE group_id = $2 AND client_id = $3 AND invite_status = $4`,
		accountID, groupID, callerID, models.InviteStatusAccepted)
	if err != nil {
		return fmt.Errorf("assign funding account: %w", err)
	}
	return nil
}

// GroupSummary is one row of a client's group listing.
type GroupSummary struct {
	GroupID       int    `json:"groupId"`
	Name          string `json:"name"`
	AccountNumber string `json:"accountNumber"`
	Balance       int64  `json:"balance"`
	Role          string `json:"role"`
}

// ListGroups returns the groups the client is an accepted member of.
func (s *MembershipService) ListGroups(ctx context.Context, clientID int) ([]*GroupSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT g.id, g.group_name, a.account_number, a.balance, gam.member_role
		FROM groups g
		JOIN group_account_members gam ON g.id = gam.group_id
		JOIN accounts a ON g.account_id = a.id
		WHERE gam.client_id = $1 AND gam.invite_status = $2
		ORDER BY g.created_at DESC`,
		clientID, models.InviteStatusAccepted)
	if err != nil {
		return nil, fmt.Errorf("list groups: %w", err)
	}
	defer rows.Close()

	var groups []*GroupSummary
	for rows.Next() {
		var g GroupSummary
		if err := rows.Scan(&g.GroupID, &g.Name, &g.AccountNumber, &g.Balance, &g.Role); err != nil {
			return nil, err
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// GroupMemberInfo is a member entry in a group detail view.
type GroupMemberInfo struct {
	ClientName string    `json:"clientName"`
	Role       string    `json:"role"`
	JoinedAt   time.Time `json:"joinedAt"`
}

// GroupDetail is the member-gated view of one group account.
type GroupDetail struct {
	Group              *models.Group                `json:"group"`
	AccountNumber      string                       `json:"accountNumber"`
	Balance            int64                        `json:"balance"`
	Members            []GroupMemberInfo            `json:"members"`
	RecentTransactions []*models.TransactionHistory `json:"recentTransactions"`
}

// Detail returns group info, the accepted member list and the ten most
// recent movements on the group account. Accepted members only.
func (s *MembershipService) Detail(ctx context.Context, groupID, callerID int) (*GroupDetail, error) {
	if err := s.requireAcceptedMember(ctx, groupID, callerID); err != nil {
		return nil, err
	}

	detail := &GroupDetail{Group: &models.Group{}}
	var accountID int
	err := s.db.QueryRowContext(ctx, `
		SELECT g.id, g.account_id, g.group_name, g.description, g.contribution_day, g.contribution_amount, g.target_amount, g.created_at,
		       a.account_number, a.balance
		FROM groups g
		JOIN accounts a ON g.account_id = a.id
		WHERE g.id = $1`, groupID).Scan(
		&detail.Group.ID, &detail.Group.AccountID, &detail.Group.Name, &detail.Group.Description,
		&detail.Group.ContributionDay, &detail.Group.ContributionAmount, &detail.Group.TargetAmount, &detail.Group.CreatedAt,
		&detail.AccountNumber, &detail.Balance)
	if err == sql.ErrNoRows {
		return nil, ErrGroupNotFound
	}
	if err != nil {
		return nil, err
	}
	accountID = detail.Group.AccountID

	memberRows, err := s.db.QueryContext(ctx, `
		SELECT c.name, gam.member_role, gam.joined_at
		FROM group_account_members gam
		JOIN clients c ON gam.client_id = c.id
		WHERE gam.group_id = $1 AND gam.invite_status = $2
		ORDER BY gam.joined_at`,
		groupID, models.InviteStatusAccepted)
	if err != nil {
		return nil, err
	}
	defer memberRows.Close()
	for memberRows.Next() {
		var m GroupMemberInfo
		if err := memberRows.Scan(&m.ClientName, &m.Role, &m.JoinedAt); err != nil {
			return nil, err
		}
		detail.Members = append(detail.Members, m)
	}
	if err := memberRows.Err(); err != nil {
		return nil, err
	}

	txRows, err := s.db.QueryContext(ctx, `
		SELECT id, label, kind, amount, balance, account_id, origin_account_id, destination_account_id, memo, created_at
		FROM transaction_history
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT 10`, accountID)
	if err != nil {
		return nil, err
	}
	defer txRows.Close()
	for txRows.Next() {
		var rec models.TransactionHistory
		if err := txRows.Scan(&rec.ID, &rec.Label, &rec.Kind, &rec.Amount, &rec.Balance, &rec.AccountID, &rec.OriginID, &rec.DestinationID, &rec.Memo, &rec.CreatedAt); err != nil {
			return nil, err
		}
		detail.RecentTransactions = append(detail.RecentTransactions, &rec)
	}
	return detail, txRows.Err()
}

func (s *MembershipService) requireAcceptedMember(ctx context.Context, groupID, clientID int) error {
	membership, err := s.ledger.GetMembership(ctx, groupID, clientID)
	if err == ErrMembershipNotFound {
		return ErrNotAMember
	}
	if err != nil {
		return err
	}
	if membership.InviteStatus != models.InviteStatusAccepted {
		return ErrNotAMember
	}
	return nil
}

func (s *MembershipService) requireOwner(ctx context.Context, groupID, clientID int) error {
	membership, err := s.ledger.GetMembership(ctx, groupID, clientID)
	if err == ErrMembershipNotFound {
		return ErrNotOwner
	}
	if err != nil {
		return err
	}
	if membership.InviteStatus != models.InviteStatusAccepted || membership.Role != models.MemberRoleOwner {
		return ErrNotOwner
	}
	return nil
}
