package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"flightsurety/internal/domain"
	"flightsurety/internal/events"
	"flightsurety/internal/observability"
	"flightsurety/internal/repo"
)

// Payer moves value out of the platform. It runs after the withdrawal has
// been committed and never inside a ledger transaction.
type Payer interface {
	Transfer(ctx context.Context, to string, amount domain.Amount) error
}

// LedgerPayer credits an account balance kept in the ledger database.
type LedgerPayer struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (p LedgerPayer) Transfer(ctx context.Context, to string, amount domain.Amount) error {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	tx, err := p.Repo.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := p.Repo.CreditAccount(ctx, tx, to, amount, now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	return tx.Commit()
}

// Buy insures passenger on a registered flight for at most the premium cap.
func (e Engine) Buy(ctx context.Context, passenger, airline, code string, departure int64, passengerName string, payment domain.Amount) (domain.Policy, error) {
	passenger = strings.TrimSpace(passenger)
	if passenger == "" {
		return domain.Policy{}, errors.New("passenger is required")
	}
	key := domain.NewFlightKey(airline, code, departure)
	p := domain.Policy{
		ID:            uuid.NewString(),
		Passenger:     passenger,
		PassengerName: domain.CanonicalName(passengerName),
		Flight:        key,
		AmountPaid:    payment,
		CreatedAt:     e.stamp(),
	}
	err := e.mutate(ctx, "buy", func(tx *sql.Tx) error {
		exists, err := e.Repo.FlightExists(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("check flight: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrFlightNotFound, key)
		}
		if payment <= 0 {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, payment)
		}
		if payment > e.Config.Insurance.MaxPremium {
			return fmt.Errorf("%w: %s > %s", ErrPremiumExceedsCap, payment, e.Config.Insurance.MaxPremium)
		}
		if _, err := e.Repo.GetPolicy(ctx, tx, passenger, key); err == nil {
			return fmt.Errorf("%w: %s on %s", ErrAlreadyInsured, passenger, key)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("load policy: %w", err)
		}
		if err := e.Repo.InsertPolicy(ctx, tx, p); err != nil {
			return fmt.Errorf("insert policy: %w", err)
		}
		return e.emit(ctx, tx, events.PolicyBought, "policy", p.ID, passenger,
			events.EventPayload{"flight": key.String(), "amount": payment.String()})
	})
	if err != nil {
		return domain.Policy{}, err
	}
	return p, nil
}

func (e Engine) IsInsuredPassenger(ctx context.Context, passenger, airline, code string, departure int64) (bool, error) {
	_, err := e.Repo.GetPolicy(ctx, e.DB, strings.TrimSpace(passenger), domain.NewFlightKey(airline, code, departure))
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (e Engine) ListPolicies(ctx context.Context, passenger string) ([]domain.Policy, error) {
	return e.Repo.ListPoliciesByPassenger(ctx, e.DB, strings.TrimSpace(passenger))
}

// Credit returns the passenger's outstanding payout.
func (e Engine) Credit(ctx context.Context, passenger string) (domain.Amount, error) {
	return e.Repo.OutstandingCredit(ctx, e.DB, strings.TrimSpace(passenger))
}

// creditInsurees sets the payout on every policy of the flight that has not
// been credited yet. Calling it twice for the same flight credits nothing new.
func (e Engine) creditInsurees(ctx context.Context, tx *sql.Tx, key domain.FlightKey, actor string) error {
	credited, err := e.Repo.CreditFlight(ctx, tx, key, e.Config.Insurance.PayoutNumerator, e.Config.Insurance.PayoutDenominator, e.stamp())
	if err != nil {
		return fmt.Errorf("credit insurees: %w", err)
	}
	for _, p := range credited {
		if err := e.emit(ctx, tx, events.PolicyCredited, "policy", p.ID, actor,
			events.EventPayload{"passenger": p.Passenger, "flight": key.String(), "payout": p.PayoutCredit.String()}); err != nil {
			return err
		}
	}
	return nil
}

// Withdraw zeroes the passenger's credit and commits before paying out. A
// failed transfer restores the credit in a compensating transaction.
func (e Engine) Withdraw(ctx context.Context, passenger string) (domain.Amount, error) {
	passenger = strings.TrimSpace(passenger)
	var (
		total domain.Amount
		ids   []string
	)
	err := e.mutate(ctx, "withdraw", func(tx *sql.Tx) error {
		var err error
		total, err = e.Repo.OutstandingCredit(ctx, tx, passenger)
		if err != nil {
			return fmt.Errorf("sum credit: %w", err)
		}
		if total <= 0 {
			return fmt.Errorf("%w: %s", ErrNoCredit, passenger)
		}
		ids, err = e.Repo.ZeroCredits(ctx, tx, passenger, e.stamp())
		if err != nil {
			return fmt.Errorf("zero credits: %w", err)
		}
		return e.emit(ctx, tx, events.PayoutWithdrawn, "passenger", passenger, passenger,
			events.EventPayload{"amount": total.String(), "policies": ids})
	})
	if err != nil {
		return 0, err
	}
	payer := e.Payer
	if payer == nil {
		payer = LedgerPayer{Repo: e.Repo, Now: e.Now}
	}
	if err := payer.Transfer(ctx, passenger, total); err != nil {
		e.Logger.Error().Err(err).Str("passenger", passenger).Str("amount", total.String()).Msg("payout transfer failed; restoring credit")
		if rerr := e.restoreCredits(context.WithoutCancel(ctx), ids); rerr != nil {
			return 0, fmt.Errorf("transfer failed: %v; restore credit: %w", err, rerr)
		}
		return 0, fmt.Errorf("transfer to %s: %w", passenger, err)
	}
	observability.RecordPayout(int64(total))
	return total, nil
}

func (e Engine) restoreCredits(ctx context.Context, ids []string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.RestoreCredits(ctx, tx, e.Config.Insurance.PayoutNumerator, e.Config.Insurance.PayoutDenominator, ids); err != nil {
		return err
	}
	return tx.Commit()
}

// Balance returns what the ledger payer has paid out to address.
func (e Engine) Balance(ctx context.Context, address string) (domain.Amount, error) {
	return e.Repo.Balance(ctx, e.DB, strings.TrimSpace(address))
}
