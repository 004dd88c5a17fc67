package repo

import (
	"context"
	"database/sql"

	"flightsurety/internal/domain"
)

const flightColumns = `airline, code, departure, status_code, registered_at, status_updated_at`

func scanFlight(row rowScanner) (domain.Flight, error) {
	var f domain.Flight
	var updated sql.NullString
	err := row.Scan(&f.Airline, &f.Code, &f.Departure, &f.Status, &f.RegisteredAt, &updated)
	if err == sql.ErrNoRows {
		return f, ErrNotFound
	}
	if err != nil {
		return f, err
	}
	f.StatusUpdatedAt = optional(updated)
	return f, nil
}

func (r Repo) InsertFlight(ctx context.Context, q DBTX, f domain.Flight) error {
	_, err := q.ExecContext(ctx, `INSERT INTO flights(airline,code,departure,status_code,registered_at) VALUES (?,?,?,?,?)`,
		f.Airline, f.Code, f.Departure, int(f.Status), f.RegisteredAt)
	return err
}

func (r Repo) GetFlight(ctx context.Context, q DBTX, key domain.FlightKey) (domain.Flight, error) {
	return scanFlight(q.QueryRowContext(ctx, `SELECT `+flightColumns+` FROM flights WHERE airline=? AND code=? AND departure=?`,
		key.Airline, key.Code, key.Departure))
}

func (r Repo) FlightExists(ctx context.Context, q DBTX, key domain.FlightKey) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM flights WHERE airline=? AND code=? AND departure=?`,
		key.Airline, key.Code, key.Departure).Scan(&n)
	return n > 0, err
}

// ListFlights lists flights, all of them when airline is empty.
func (r Repo) ListFlights(ctx context.Context, q DBTX, airline string) ([]domain.Flight, error) {
	query := `SELECT ` + flightColumns + ` FROM flights`
	var args []any
	if airline != "" {
		query += ` WHERE airline=?`
		args = append(args, airline)
	}
	query += ` ORDER BY departure, airline, code`
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Flight
	for rows.Next() {
		f, err := scanFlight(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, f)
	}
	return res, rows.Err()
}

func (r Repo) UpdateFlightStatus(ctx context.Context, q DBTX, key domain.FlightKey, status domain.StatusCode, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE flights SET status_code=?, status_updated_at=? WHERE airline=? AND code=? AND departure=?`,
		int(status), now, key.Airline, key.Code, key.Departure)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
