package services

import (
	"context"
	"database/sql"
	"regexp"
	"sync"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
)

func TestAccountNumberIssuer_Issue(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	issuer := NewAccountNumberIssuer(db)
	numberPattern := regexp.MustCompile(`^33\d{2}-\d{2}-\d{6}$`)

	t.Run("first candidate is free", func(t *testing.T) {
		mock.ExpectQuery("SELECT 1 FROM accounts WHERE account_number = \\$1").
			WithArgs(sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)

		number, err := issuer.Issue(context.Background())
		assert.NoError(t, err)
		assert.Regexp(t, numberPattern, number)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("retries past a collision", func(t *testing.T) {
		mock.ExpectQuery("SELECT 1 FROM accounts WHERE account_number = \\$1").
			WithArgs(sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
		mock.ExpectQuery("SELECT 1 FROM accounts WHERE account_number = \\$1").
			WithArgs(sqlmock.AnyArg()).
			WillReturnError(sql.ErrNoRows)

		number, err := issuer.Issue(context.Background())
		assert.NoError(t, err)
		assert.Regexp(t, numberPattern, number)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("gives up after exhausting attempts", func(t *testing.T) {
		for attempt := 0; attempt < issueAttempts; attempt++ {
			mock.ExpectQuery("SELECT 1 FROM accounts WHERE account_number = \\$1").
				WithArgs(sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
		}

		_, err := issuer.Issue(context.Background())
		assert.ErrorIs(t, err, ErrExhaustedRetries)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAccountNumberIssuer_generate(t *testing.T) {
	issuer := NewAccountNumberIssuer(nil)
	numberPattern := regexp.MustCompile(`^33\d{2}-\d{2}-\d{6}$`)

	for i := 0; i < 100; i++ {
		assert.Regexp(t, numberPattern, issuer.generate())
	}
}

func TestAccountNumberIssuer_ConcurrentGenerate(t *testing.T) {
	issuer := NewAccountNumberIssuer(nil)
	numberPattern := regexp.MustCompile(`^33\d{2}-\d{2}-\d{6}$`)

	const workers = 8
	const perWorker = 50

	var mu sync.Mutex
	seen := make(map[string]struct{})

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				number := issuer.generate()
				mu.Lock()
				seen[number] = struct{}{}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers*perWorker)
	for number := range seen {
		assert.Regexp(t, numberPattern, number)
	}
}
