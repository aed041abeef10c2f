package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/coopbank/backend/internal/models"
)

func expectDueGroups(mock sqlmock.Sqlmock, day int, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT g.id, g.group_name, g.contribution_amount, a.account_number FROM groups g").
		WithArgs(day, models.AccountStatusActive).
		WillReturnRows(rows)
}

func expectAcceptedMembers(mock sqlmock.Sqlmock, groupID int, rows *sqlmock.Rows) {
	mock.ExpectQuery("SELECT id, client_id FROM group_account_members WHERE group_id = \\$1").
		WithArgs(groupID, models.InviteStatusAccepted).
		WillReturnRows(rows)
}

func expectMemberLock(mock sqlmock.Sqlmock, memberID int, fundingAccountID, lastSettledAt interface{}) {
	mock.ExpectQuery("SELECT funding_account_id, last_settled_at FROM group_account_members WHERE id = \\$1 AND invite_status = \\$2 FOR UPDATE").
		WithArgs(memberID, models.InviteStatusAccepted).
		WillReturnRows(sqlmock.NewRows([]string{"funding_account_id", "last_settled_at"}).
			AddRow(fundingAccountID, lastSettledAt))
}

func TestSettlementService_Run(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ledger := NewLedgerService(db)
	service := NewSettlementService(db, ledger, NewTransferService(db, ledger))

	now := time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)
	groupNumber := "3310-50-500001"
	fundingNumber := "3310-10-100001"

	dueGroupRows := func() *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "group_name", "contribution_amount", "account_number"}).
			AddRow(5, "Trip Fund", int64(20000), groupNumber)
	}

	t.Run("charges a due member and stamps the period", func(t *testing.T) {
		expectDueGroups(mock, 15, dueGroupRows())
		expectAcceptedMembers(mock, 5,
			sqlmock.NewRows([]string{"id", "client_id"}).AddRow(2, 8))

		mock.ExpectBegin()
		expectMemberLock(mock, 2, 3, nil)
		mock.ExpectQuery("SELECT account_number FROM accounts WHERE id = \\$1").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"account_number"}).AddRow(fundingNumber))

		expectPairLock(mock,
			fundingNumber, accountRow(3, fundingNumber, 50000, 1),
			groupNumber, accountRow(10, groupNumber, 100000, 4))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(-20000), sqlmock.AnyArg(), 3, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(20000), sqlmock.AnyArg(), 10, 4).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery("INSERT INTO transaction_history").
			WithArgs("To Account "+groupNumber, models.MovementAutoDeposit, int64(-20000), int64(30000), 3, 3, 10, "Monthly contribution to Trip Fund", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(20))
		mock.ExpectQuery("INSERT INTO transaction_history").
			WithArgs("From Account "+fundingNumber, models.MovementAutoDeposit, int64(20000), int64(120000), 10, 3, 10, "Monthly contribution", sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(21))

		mock.ExpectExec("UPDATE group_account_members SET last_settled_at = \\$1").
			WithArgs(now, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		summary, err := service.Run(context.Background(), now)
		assert.NoError(t, err)
		assert.Equal(t, 1, summary.GroupsDue)
		assert.Equal(t, 1, summary.Charged)
		assert.Equal(t, 0, summary.AlreadySettled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("same period re-run is a no-op per member", func(t *testing.T) {
		expectDueGroups(mock, 15, dueGroupRows())
		expectAcceptedMembers(mock, 5,
			sqlmock.NewRows([]string{"id", "client_id"}).AddRow(2, 8))

		mock.ExpectBegin()
		expectMemberLock(mock, 2, 3, time.Date(2026, time.March, 15, 0, 5, 0, 0, time.UTC))
		mock.ExpectRollback()

		summary, err := service.Run(context.Background(), now)
		assert.NoError(t, err)
		assert.Equal(t, 0, summary.Charged)
		assert.Equal(t, 1, summary.AlreadySettled)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("previous month stamp does not block the charge", func(t *testing.T) {
		expectDueGroups(mock, 15, dueGroupRows())
		expectAcceptedMembers(mock, 5,
			sqlmock.NewRows([]string{"id", "client_id"}).AddRow(2, 8))

		mock.ExpectBegin()
		expectMemberLock(mock, 2, 3, time.Date(2026, time.February, 15, 0, 0, 0, 0, time.UTC))
		mock.ExpectQuery("SELECT account_number FROM accounts WHERE id = \\$1").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"account_number"}).AddRow(fundingNumber))

		expectPairLock(mock,
			fundingNumber, accountRow(3, fundingNumber, 50000, 2),
			groupNumber, accountRow(10, groupNumber, 120000, 6))

		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(-20000), sqlmock.AnyArg(), 3, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(20000), sqlmock.AnyArg(), 10, 6).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery("INSERT INTO transaction_history").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(22))
		mock.ExpectQuery("INSERT INTO transaction_history").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(23))

		mock.ExpectExec("UPDATE group_account_members SET last_settled_at = \\$1").
			WithArgs(now, 2).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		summary, err := service.Run(context.Background(), now)
		assert.NoError(t, err)
		assert.Equal(t, 1, summary.Charged)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("member without funding account is skipped", func(t *testing.T) {
		expectDueGroups(mock, 15, dueGroupRows())
		expectAcceptedMembers(mock, 5,
			sqlmock.NewRows([]string{"id", "client_id"}).AddRow(2, 8))

		mock.ExpectBegin()
		expectMemberLock(mock, 2, nil, nil)
		mock.ExpectRollback()

		summary, err := service.Run(context.Background(), now)
		assert.NoError(t, err)
		assert.Equal(t, 0, summary.Charged)
		assert.Equal(t, 1, summary.SkippedNoFundingAccount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds skips the member but continues the batch", func(t *testing.T) {
		expectDueGroups(mock, 15, dueGroupRows())
		expectAcceptedMembers(mock, 5,
			sqlmock.NewRows([]string{"id", "client_id"}).AddRow(2, 8).AddRow(4, 9))

		// Member 2: funding account runs short, the transaction rolls back.
		mock.ExpectBegin()
		expectMemberLock(mock, 2, 3, nil)
		mock.ExpectQuery("SELECT account_number FROM accounts WHERE id = \\$1").
			WithArgs(3).
			WillReturnRows(sqlmock.NewRows([]string{"account_number"}).AddRow(fundingNumber))
		expectPairLock(mock,
			fundingNumber, accountRow(3, fundingNumber, 500, 1),
			groupNumber, accountRow(10, groupNumber, 100000, 4))
		mock.ExpectRollback()

		// Member 4 is still charged.
		other := "3310-20-100002"
		mock.ExpectBegin()
		expectMemberLock(mock, 4, 6, nil)
		mock.ExpectQuery("SELECT account_number FROM accounts WHERE id = \\$1").
			WithArgs(6).
			WillReturnRows(sqlmock.NewRows([]string{"account_number"}).AddRow(other))
		expectPairLock(mock,
			other, accountRow(6, other, 80000, 1),
			groupNumber, accountRow(10, groupNumber, 100000, 4))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(-20000), sqlmock.AnyArg(), 6, 1).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE accounts").
			WithArgs(int64(20000), sqlmock.AnyArg(), 10, 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("INSERT INTO transaction_history").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(24))
		mock.ExpectQuery("INSERT INTO transaction_history").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(25))
		mock.ExpectExec("UPDATE group_account_members SET last_settled_at = \\$1").
			WithArgs(now, 4).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		summary, err := service.Run(context.Background(), now)
		assert.NoError(t, err)
		assert.Equal(t, 1, summary.Charged)
		assert.Equal(t, 1, summary.SkippedInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("member query failure skips the group without touching member counters", func(t *testing.T) {
		expectDueGroups(mock, 15, dueGroupRows())
		mock.ExpectQuery("SELECT id, client_id FROM group_account_members WHERE group_id = \\$1").
			WithArgs(5, models.InviteStatusAccepted).
			WillReturnError(errors.New("connection reset"))

		summary, err := service.Run(context.Background(), now)
		assert.NoError(t, err)
		assert.Equal(t, 1, summary.SkippedGroups)
		assert.Equal(t, 0, summary.Charged)
		assert.Equal(t, 0, summary.SkippedTransferFailed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no groups due", func(t *testing.T) {
		expectDueGroups(mock, 15,
			sqlmock.NewRows([]string{"id", "group_name", "contribution_amount", "account_number"}))

		summary, err := service.Run(context.Background(), now)
		assert.NoError(t, err)
		assert.Equal(t, 0, summary.GroupsDue)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestSamePeriod(t *testing.T) {
	assert.True(t, samePeriod(
		time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 31, 23, 59, 0, 0, time.UTC)))
	assert.False(t, samePeriod(
		time.Date(2026, time.March, 31, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, samePeriod(
		time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)))
}
