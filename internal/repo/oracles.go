package repo

import (
	"context"
	"database/sql"

	"flightsurety/internal/domain"
)

func (r Repo) InsertOracle(ctx context.Context, q DBTX, o domain.Oracle) error {
	_, err := q.ExecContext(ctx, `INSERT INTO oracles(address,index0,index1,index2,fee_paid,registered_at) VALUES (?,?,?,?,?,?)`,
		o.Address, o.Indexes[0], o.Indexes[1], o.Indexes[2], int64(o.FeePaid), o.RegisteredAt)
	return err
}

func scanOracle(row rowScanner) (domain.Oracle, error) {
	var o domain.Oracle
	err := row.Scan(&o.Address, &o.Indexes[0], &o.Indexes[1], &o.Indexes[2], &o.FeePaid, &o.RegisteredAt)
	if err == sql.ErrNoRows {
		return o, ErrNotFound
	}
	return o, err
}

func (r Repo) GetOracle(ctx context.Context, q DBTX, address string) (domain.Oracle, error) {
	return scanOracle(q.QueryRowContext(ctx, `SELECT address,index0,index1,index2,fee_paid,registered_at FROM oracles WHERE address=?`, address))
}

func (r Repo) ListOracles(ctx context.Context, q DBTX) ([]domain.Oracle, error) {
	rows, err := q.QueryContext(ctx, `SELECT address,index0,index1,index2,fee_paid,registered_at FROM oracles ORDER BY registered_at, address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Oracle
	for rows.Next() {
		o, err := scanOracle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

const requestColumns = `id, idx, airline, code, departure, requested_by, opened_at, resolved, resolved_code, resolved_at`

func scanRequest(row rowScanner) (domain.OracleRequest, error) {
	var req domain.OracleRequest
	var resolved int
	var code sql.NullInt64
	var resolvedAt sql.NullString
	err := row.Scan(&req.ID, &req.Index, &req.Flight.Airline, &req.Flight.Code, &req.Flight.Departure,
		&req.RequestedBy, &req.OpenedAt, &resolved, &code, &resolvedAt)
	if err == sql.ErrNoRows {
		return req, ErrNotFound
	}
	if err != nil {
		return req, err
	}
	req.Resolved = resolved == 1
	if code.Valid {
		sc := domain.StatusCode(code.Int64)
		req.ResolvedCode = &sc
	}
	req.ResolvedAt = optional(resolvedAt)
	return req, nil
}

func (r Repo) InsertRequest(ctx context.Context, q DBTX, req domain.OracleRequest) error {
	_, err := q.ExecContext(ctx, `INSERT INTO oracle_requests(id,idx,airline,code,departure,requested_by,opened_at,resolved) VALUES (?,?,?,?,?,?,?,0)`,
		req.ID, req.Index, req.Flight.Airline, req.Flight.Code, req.Flight.Departure, req.RequestedBy, req.OpenedAt)
	return err
}

func (r Repo) GetRequest(ctx context.Context, q DBTX, id string) (domain.OracleRequest, error) {
	return scanRequest(q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM oracle_requests WHERE id=?`, id))
}

func (r Repo) FindRequest(ctx context.Context, q DBTX, index int, key domain.FlightKey) (domain.OracleRequest, error) {
	return scanRequest(q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM oracle_requests WHERE idx=? AND airline=? AND code=? AND departure=?`,
		index, key.Airline, key.Code, key.Departure))
}

// ListRequests lists requests, newest first; openOnly drops resolved ones.
func (r Repo) ListRequests(ctx context.Context, q DBTX, openOnly bool, limit int) ([]domain.OracleRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + requestColumns + ` FROM oracle_requests`
	if openOnly {
		query += ` WHERE resolved=0`
	}
	query += ` ORDER BY opened_at DESC, id DESC LIMIT ?`
	rows, err := q.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.OracleRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, req)
	}
	return res, rows.Err()
}

// ReopenRequest discards earlier responses and clears the resolution.
func (r Repo) ReopenRequest(ctx context.Context, q DBTX, id, requestedBy, now string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM oracle_responses WHERE request_id=?`, id); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx, `UPDATE oracle_requests SET resolved=0, resolved_code=NULL, resolved_at=NULL, opened_at=?, requested_by=? WHERE id=?`,
		now, requestedBy, id)
	return err
}

func (r Repo) ResolveRequest(ctx context.Context, q DBTX, id string, code domain.StatusCode, now string) error {
	res, err := q.ExecContext(ctx, `UPDATE oracle_requests SET resolved=1, resolved_code=?, resolved_at=? WHERE id=? AND resolved=0`, int(code), now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) HasResponded(ctx context.Context, q DBTX, requestID, oracle string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM oracle_responses WHERE request_id=? AND oracle=?`, requestID, oracle).Scan(&n)
	return n > 0, err
}

// AddResponse stores a response and returns how many oracles reported the same status.
func (r Repo) AddResponse(ctx context.Context, q DBTX, requestID, oracle string, code domain.StatusCode, now string) (int, error) {
	if _, err := q.ExecContext(ctx, `INSERT INTO oracle_responses(request_id,oracle,status_code,created_at) VALUES (?,?,?,?)`,
		requestID, oracle, int(code), now); err != nil {
		return 0, err
	}
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM oracle_responses WHERE request_id=? AND status_code=?`, requestID, int(code)).Scan(&n)
	return n, err
}

func (r Repo) Tally(ctx context.Context, q DBTX, requestID string) (map[domain.StatusCode]int, error) {
	rows, err := q.QueryContext(ctx, `SELECT status_code, COUNT(*) FROM oracle_responses WHERE request_id=? GROUP BY status_code`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	tally := map[domain.StatusCode]int{}
	for rows.Next() {
		var code, n int
		if err := rows.Scan(&code, &n); err != nil {
			return nil, err
		}
		tally[domain.StatusCode(code)] = n
	}
	return tally, rows.Err()
}
