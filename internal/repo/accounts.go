package repo

import (
	"context"
	"database/sql"

	"flightsurety/internal/domain"
)

// CreditAccount adds amount to the account balance, creating the account on first use.
func (r Repo) CreditAccount(ctx context.Context, q DBTX, address string, amount domain.Amount, now string) error {
	_, err := q.ExecContext(ctx, `INSERT INTO accounts(address,balance,updated_at) VALUES (?,?,?)
ON CONFLICT(address) DO UPDATE SET balance=balance+excluded.balance, updated_at=excluded.updated_at`, address, int64(amount), now)
	return err
}

func (r Repo) Balance(ctx context.Context, q DBTX, address string) (domain.Amount, error) {
	var bal int64
	err := q.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE address=?`, address).Scan(&bal)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return domain.Amount(bal), err
}
