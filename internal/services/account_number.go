package services

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
)

const issueAttempts = 20

// AccountNumberIssuer generates external account numbers in the form
// 33NN-NN-NNNNNN. The existence pre-check only shortens the retry loop;
// the unique index on account_number is the actual collision guarantee,
// and the account-open path reissues when the insert hits it.
type AccountNumberIssuer struct {
	db *sql.DB
}

func NewAccountNumberIssuer(db *sql.DB) *AccountNumberIssuer {
	return &AccountNumberIssuer{db: db}
}

// Issue returns a candidate account number that was unused at check time.
// Fails with ErrExhaustedRetries when every candidate collided.
func (i *AccountNumberIssuer) Issue(ctx context.Context) (string, error) {
	for attempt := 0; attempt < issueAttempts; attempt++ {
		candidate := i.generate()

		var one int
		err := i.db.QueryRowContext(ctx, "SELECT 1 FROM accounts WHERE account_number = $1", candidate).Scan(&one)
		if err == sql.ErrNoRows {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("check account number: %w", err)
		}
	}
	return "", ErrExhaustedRetries
}

// generate draws from the global math/rand source, which is safe for the
// concurrent account opens that share one issuer.
func (i *AccountNumberIssuer) generate() string {
	return fmt.Sprintf("33%02d-%02d-%06d",
		10+rand.Intn(90),
		10+rand.Intn(90),
		100000+rand.Intn(900000))
}
