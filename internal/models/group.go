package models

import "time"

const (
	MemberRoleOwner  = "owner"
	MemberRoleMember = "member"

	InviteStatusPending  = "pending"
	InviteStatusAccepted = "accepted"
)

// Group is the one-to-one companion of a group-type account. It holds the
// recurring-contribution settings the settlement run reads.
type Group struct {
	ID                 int       `json:"id" db:"id"`
	AccountID          int       `json:"accountId" db:"account_id"`
	Name               string    `json:"name" db:"group_name"`
	Description        string    `json:"description" db:"description"`
	ContributionDay    int       `json:"contributionDay" db:"contribution_day"` // 1-31
	ContributionAmount int64     `json:"contributionAmount" db:"contribution_amount"`
	TargetAmount       int64     `json:"targetAmount" db:"target_amount"`
	CreatedAt          time.Time `json:"createdAt" db:"created_at"`
}

// GroupAccountMember joins a client to a group. Rows are created pending
// with a single-use invite token; accepting clears the token. A partial
// unique index over (group_id, client_id) WHERE invite_status = 'accepted'
// guarantees at most one accepted membership per pair.
type GroupAccountMember struct {
	ID               int        `json:"id" db:"id"`
	GroupID          int        `json:"groupId" db:"group_id"`
	ClientID         int        `json:"clientId" db:"client_id"`
	Role             string     `json:"role" db:"member_role"`
	InviteStatus     string     `json:"inviteStatus" db:"invite_status"`
	InviteToken      *string    `json:"-" db:"invite_token"`
	InviteExpiresAt  *time.Time `json:"-" db:"invite_expires_at"`
	FundingAccountID *int       `json:"fundingAccountId" db:"funding_account_id"` // auto-debit source
	LastSettledAt    *time.Time `json:"lastSettledAt" db:"last_settled_at"`
	JoinedAt         time.Time  `json:"joinedAt" db:"joined_at"`
}
