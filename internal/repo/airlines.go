package repo

import (
	"context"
	"database/sql"

	"flightsurety/internal/domain"
)

const airlineColumns = `a.address, a.name, a.funded, a.registered, a.funds, COALESCE(a.proposed_by,''), a.created_at, a.registered_at,
  (SELECT COUNT(*) FROM airline_votes v WHERE v.airline=a.address)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAirline(row rowScanner) (domain.Airline, error) {
	var a domain.Airline
	var funded, registered int
	var regAt sql.NullString
	err := row.Scan(&a.Address, &a.Name, &funded, &registered, &a.Funds, &a.ProposedBy, &a.CreatedAt, &regAt, &a.Votes)
	if err == sql.ErrNoRows {
		return a, ErrNotFound
	}
	if err != nil {
		return a, err
	}
	a.Funded = funded == 1
	a.Registered = registered == 1
	a.RegisteredAt = optional(regAt)
	return a, nil
}

func (r Repo) InsertAirline(ctx context.Context, q DBTX, a domain.Airline) error {
	var regAt any
	if a.RegisteredAt != nil {
		regAt = *a.RegisteredAt
	}
	_, err := q.ExecContext(ctx, `INSERT INTO airlines(address,name,funded,registered,funds,proposed_by,created_at,registered_at) VALUES (?,?,?,?,?,?,?,?)`,
		a.Address, a.Name, boolInt(a.Funded), boolInt(a.Registered), int64(a.Funds), nullable(a.ProposedBy), a.CreatedAt, regAt)
	return err
}

func (r Repo) GetAirline(ctx context.Context, q DBTX, address string) (domain.Airline, error) {
	return scanAirline(q.QueryRowContext(ctx, `SELECT `+airlineColumns+` FROM airlines a WHERE a.address=?`, address))
}

// ListAirlines returns airlines ordered by creation; registeredOnly filters pending proposals out.
func (r Repo) ListAirlines(ctx context.Context, q DBTX, registeredOnly bool) ([]domain.Airline, error) {
	query := `SELECT ` + airlineColumns + ` FROM airlines a`
	if registeredOnly {
		query += ` WHERE a.registered=1`
	}
	query += ` ORDER BY a.created_at, a.address`
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Airline
	for rows.Next() {
		a, err := scanAirline(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (r Repo) MarkAirlineRegistered(ctx context.Context, q DBTX, address, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE airlines SET registered=1, registered_at=? WHERE address=? AND registered=0`, now, address)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddFunds records a transfer and marks the airline funded. Funding is monotonic.
func (r Repo) AddFunds(ctx context.Context, q DBTX, address string, amount domain.Amount) error {
	res, err := q.ExecContext(ctx, `UPDATE airlines SET funded=1, funds=funds+? WHERE address=?`, int64(amount), address)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountAirlines counts registered airlines, optionally only the funded ones.
func (r Repo) CountAirlines(ctx context.Context, q DBTX, fundedOnly bool) (int, error) {
	query := `SELECT COUNT(*) FROM airlines WHERE registered=1`
	if fundedOnly {
		query += ` AND funded=1`
	}
	var n int
	err := q.QueryRowContext(ctx, query).Scan(&n)
	return n, err
}

func (r Repo) HasVoted(ctx context.Context, q DBTX, airline, voter string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM airline_votes WHERE airline=? AND voter=?`, airline, voter).Scan(&n)
	return n > 0, err
}

// AddVote records a vote and returns the resulting vote count.
func (r Repo) AddVote(ctx context.Context, q DBTX, airline, voter, now string) (int, error) {
	if _, err := q.ExecContext(ctx, `INSERT INTO airline_votes(airline,voter,created_at) VALUES (?,?,?)`, airline, voter, now); err != nil {
		return 0, err
	}
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM airline_votes WHERE airline=?`, airline).Scan(&n)
	return n, err
}

func (r Repo) ListVoters(ctx context.Context, q DBTX, airline string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT voter FROM airline_votes WHERE airline=? ORDER BY created_at, voter`, airline)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var voters []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		voters = append(voters, v)
	}
	return voters, rows.Err()
}

func (r Repo) ClearVotes(ctx context.Context, q DBTX, airline string) error {
	_, err := q.ExecContext(ctx, `DELETE FROM airline_votes WHERE airline=?`, airline)
	return err
}
