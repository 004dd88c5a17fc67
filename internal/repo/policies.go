package repo

import (
	"context"
	"database/sql"

	"flightsurety/internal/domain"
)

const policyColumns = `id, passenger, passenger_name, airline, code, departure, amount_paid, payout_credit, credited_at, withdrawn, withdrawn_at, created_at`

func scanPolicy(row rowScanner) (domain.Policy, error) {
	var p domain.Policy
	var credited, withdrawnAt sql.NullString
	var withdrawn int
	err := row.Scan(&p.ID, &p.Passenger, &p.PassengerName, &p.Flight.Airline, &p.Flight.Code, &p.Flight.Departure,
		&p.AmountPaid, &p.PayoutCredit, &credited, &withdrawn, &withdrawnAt, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.CreditedAt = optional(credited)
	p.Withdrawn = withdrawn == 1
	p.WithdrawnAt = optional(withdrawnAt)
	return p, nil
}

func (r Repo) InsertPolicy(ctx context.Context, q DBTX, p domain.Policy) error {
	_, err := q.ExecContext(ctx, `INSERT INTO policies(id,passenger,passenger_name,airline,code,departure,amount_paid,payout_credit,withdrawn,created_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Passenger, p.PassengerName, p.Flight.Airline, p.Flight.Code, p.Flight.Departure, int64(p.AmountPaid), int64(p.PayoutCredit), boolInt(p.Withdrawn), p.CreatedAt)
	return err
}

func (r Repo) GetPolicy(ctx context.Context, q DBTX, passenger string, key domain.FlightKey) (domain.Policy, error) {
	return scanPolicy(q.QueryRowContext(ctx, `SELECT `+policyColumns+` FROM policies WHERE passenger=? AND airline=? AND code=? AND departure=?`,
		passenger, key.Airline, key.Code, key.Departure))
}

func (r Repo) ListPoliciesByPassenger(ctx context.Context, q DBTX, passenger string) ([]domain.Policy, error) {
	return r.listPolicies(ctx, q, `WHERE passenger=? ORDER BY created_at, id`, passenger)
}

func (r Repo) ListPoliciesByFlight(ctx context.Context, q DBTX, key domain.FlightKey) ([]domain.Policy, error) {
	return r.listPolicies(ctx, q, `WHERE airline=? AND code=? AND departure=? ORDER BY created_at, id`, key.Airline, key.Code, key.Departure)
}

func (r Repo) listPolicies(ctx context.Context, q DBTX, where string, args ...any) ([]domain.Policy, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+policyColumns+` FROM policies `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// CreditFlight sets the payout on every uncredited, unwithdrawn policy of the
// flight and returns the affected policies.
func (r Repo) CreditFlight(ctx context.Context, q DBTX, key domain.FlightKey, num, den int64, now string) ([]domain.Policy, error) {
	policies, err := r.ListPoliciesByFlight(ctx, q, key)
	if err != nil {
		return nil, err
	}
	var credited []domain.Policy
	for _, p := range policies {
		if p.CreditedAt != nil || p.Withdrawn || p.PayoutCredit != 0 {
			continue
		}
		payout := p.AmountPaid.MulRatio(num, den)
		if _, err := q.ExecContext(ctx, `UPDATE policies SET payout_credit=?, credited_at=? WHERE id=? AND credited_at IS NULL`,
			int64(payout), now, p.ID); err != nil {
			return nil, err
		}
		p.PayoutCredit = payout
		p.CreditedAt = &now
		credited = append(credited, p)
	}
	return credited, nil
}

// OutstandingCredit sums the passenger's credited, unwithdrawn payouts.
func (r Repo) OutstandingCredit(ctx context.Context, q DBTX, passenger string) (domain.Amount, error) {
	var total int64
	err := q.QueryRowContext(ctx, `SELECT COALESCE(SUM(payout_credit),0) FROM policies WHERE passenger=? AND withdrawn=0`, passenger).Scan(&total)
	return domain.Amount(total), err
}

// ZeroCredits marks every credited policy of the passenger withdrawn and
// returns the ids that were touched.
func (r Repo) ZeroCredits(ctx context.Context, q DBTX, passenger, now string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT id FROM policies WHERE passenger=? AND withdrawn=0 AND payout_credit>0`, passenger)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, err := q.ExecContext(ctx, `UPDATE policies SET payout_credit=0, withdrawn=1, withdrawn_at=? WHERE id=?`, now, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// RestoreCredits reverses ZeroCredits for the given policies after a failed transfer.
func (r Repo) RestoreCredits(ctx context.Context, q DBTX, num, den int64, ids []string) error {
	for _, id := range ids {
		if _, err := q.ExecContext(ctx, `UPDATE policies SET payout_credit=amount_paid*?/?, withdrawn=0, withdrawn_at=NULL WHERE id=?`, num, den, id); err != nil {
			return err
		}
	}
	return nil
}
