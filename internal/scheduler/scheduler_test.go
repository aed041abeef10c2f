package scheduler

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/coopbank/backend/internal/models"
	"github.com/coopbank/backend/internal/services"
)

func newTestRunner(t *testing.T) (*Runner, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)

	ledger := services.NewLedgerService(db)
	settlement := services.NewSettlementService(db, ledger, services.NewTransferService(db, ledger))
	return NewRunner(settlement, nil, "0 0 * * *"), mock, func() { db.Close() }
}

func TestRunner_Trigger(t *testing.T) {
	runner, mock, cleanup := newTestRunner(t)
	defer cleanup()

	// No Redis configured: the lock degrades to a pass-through and the run
	// proceeds on the settlement's own per-period idempotency.
	mock.ExpectQuery("SELECT g.id, g.group_name, g.contribution_amount, a.account_number FROM groups g").
		WithArgs(sqlmock.AnyArg(), models.AccountStatusActive).
		WillReturnRows(sqlmock.NewRows([]string{"id", "group_name", "contribution_amount", "account_number"}))

	summary, err := runner.Trigger(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, summary.GroupsDue)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunner_Start(t *testing.T) {
	t.Run("valid schedule", func(t *testing.T) {
		runner, _, cleanup := newTestRunner(t)
		defer cleanup()

		err := runner.Start()
		assert.NoError(t, err)
		<-runner.Stop().Done()
	})

	t.Run("invalid schedule", func(t *testing.T) {
		db, _, err := sqlmock.New()
		assert.NoError(t, err)
		defer db.Close()

		ledger := services.NewLedgerService(db)
		settlement := services.NewSettlementService(db, ledger, services.NewTransferService(db, ledger))
		runner := NewRunner(settlement, nil, "not a schedule")

		assert.Error(t, runner.Start())
	})
}

func TestRunLock_WithoutRedis(t *testing.T) {
	lock := NewRunLock(nil, "settlement:run-lock", 0)

	acquired, err := lock.TryAcquire(context.Background())
	assert.NoError(t, err)
	assert.True(t, acquired)
	assert.NoError(t, lock.Release(context.Background()))
}

func TestRunLock_DistinctHolderValues(t *testing.T) {
	a := NewRunLock(nil, "settlement:run-lock", 0)
	b := NewRunLock(nil, "settlement:run-lock", 0)
	assert.NotEqual(t, a.value, b.value)
}
