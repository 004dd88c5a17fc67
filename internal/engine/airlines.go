package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"

	"flightsurety/internal/config"
	"flightsurety/internal/domain"
	"flightsurety/internal/events"
	"flightsurety/internal/repo"
)

// AdmissionResult reports what a proposal did to the candidate airline.
type AdmissionResult struct {
	Airline  domain.Airline `json:"airline"`
	Admitted bool           `json:"admitted"`
	Votes    int            `json:"votes"`
	Quorum   int            `json:"quorum"`
}

func normalizeAddress(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", errors.New("address is required")
	}
	return address, nil
}

// quorum is ceil(basis/2) with a floor of one vote.
func quorum(basis int) int {
	q := (basis + 1) / 2
	if q < 1 {
		return 1
	}
	return q
}

// ProposeAirline admits address directly while membership is below the
// bootstrap threshold, and otherwise records proposer's vote toward it.
func (e Engine) ProposeAirline(ctx context.Context, address, name, proposer string) (AdmissionResult, error) {
	var res AdmissionResult
	address, err := normalizeAddress(address)
	if err != nil {
		return res, err
	}
	proposer = strings.TrimSpace(proposer)
	name = domain.CanonicalName(name)
	err = e.mutate(ctx, "propose_airline", func(tx *sql.Tx) error {
		p, err := e.Repo.GetAirline(ctx, tx, proposer)
		if errors.Is(err, repo.ErrNotFound) || (err == nil && (!p.Registered || !p.Funded)) {
			return fmt.Errorf("%w: %s", ErrProposerNotFunded, proposer)
		}
		if err != nil {
			return fmt.Errorf("load proposer: %w", err)
		}
		candidate, err := e.Repo.GetAirline(ctx, tx, address)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			if name == "" {
				name = address
			}
			candidate = domain.Airline{
				Address:    address,
				Name:       name,
				ProposedBy: proposer,
				CreatedAt:  e.stamp(),
			}
			if err := e.Repo.InsertAirline(ctx, tx, candidate); err != nil {
				return fmt.Errorf("insert airline: %w", err)
			}
			if err := e.emit(ctx, tx, events.AirlineProposed, "airline", address, proposer, events.EventPayload{"name": name}); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("load airline: %w", err)
		case candidate.Registered:
			return fmt.Errorf("%w: %s", ErrAirlineAlreadyRegistered, address)
		}

		registered, err := e.Repo.CountAirlines(ctx, tx, false)
		if err != nil {
			return fmt.Errorf("count airlines: %w", err)
		}
		if registered < e.Config.Governance.BootstrapThreshold {
			if err := e.admit(ctx, tx, address, proposer, 0); err != nil {
				return err
			}
			res.Admitted = true
		} else {
			voted, err := e.Repo.HasVoted(ctx, tx, address, proposer)
			if err != nil {
				return fmt.Errorf("check vote: %w", err)
			}
			if voted {
				return fmt.Errorf("%w: %s for %s", ErrDuplicateVote, proposer, address)
			}
			votes, err := e.Repo.AddVote(ctx, tx, address, proposer, e.stamp())
			if err != nil {
				return fmt.Errorf("record vote: %w", err)
			}
			basis, err := e.Repo.CountAirlines(ctx, tx, e.Config.Governance.QuorumBasis != config.QuorumBasisRegistered)
			if err != nil {
				return fmt.Errorf("count voters: %w", err)
			}
			res.Votes = votes
			res.Quorum = quorum(basis)
			if err := e.emit(ctx, tx, events.AirlineVoted, "airline", address, proposer,
				events.EventPayload{"votes": votes, "quorum": res.Quorum}); err != nil {
				return err
			}
			if votes >= res.Quorum {
				if err := e.admit(ctx, tx, address, proposer, votes); err != nil {
					return err
				}
				res.Admitted = true
			}
		}
		res.Airline, err = e.Repo.GetAirline(ctx, tx, address)
		return err
	})
	if err != nil {
		return AdmissionResult{}, err
	}
	if res.Admitted {
		e.Logger.Info().Str("airline", address).Str("proposer", proposer).Int("votes", res.Votes).Msg("airline admitted")
	}
	return res, nil
}

func (e Engine) admit(ctx context.Context, tx *sql.Tx, address, actor string, votes int) error {
	if err := e.Repo.MarkAirlineRegistered(ctx, tx, address, e.stamp()); err != nil {
		return fmt.Errorf("register airline: %w", err)
	}
	if err := e.Repo.ClearVotes(ctx, tx, address); err != nil {
		return fmt.Errorf("clear votes: %w", err)
	}
	return e.emit(ctx, tx, events.AirlineRegistered, "airline", address, actor, events.EventPayload{"votes": votes})
}

// FundAirline accepts a transfer of at least the minimum funding. Excess is
// kept and every transfer adds to the airline's funds.
func (e Engine) FundAirline(ctx context.Context, address string, amount domain.Amount, funder string) (domain.Airline, error) {
	var a domain.Airline
	address, err := normalizeAddress(address)
	if err != nil {
		return a, err
	}
	if funder = strings.TrimSpace(funder); funder == "" {
		funder = address
	}
	err = e.mutate(ctx, "fund_airline", func(tx *sql.Tx) error {
		if amount < e.Config.Governance.MinFunding {
			return fmt.Errorf("%w: %s < %s", ErrInsufficientFunding, amount, e.Config.Governance.MinFunding)
		}
		cur, err := e.Repo.GetAirline(ctx, tx, address)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAirlineNotFound, address)
		}
		if err != nil {
			return fmt.Errorf("load airline: %w", err)
		}
		if cur.Funds > math.MaxInt64-amount {
			return fmt.Errorf("%w: %s + %s", ErrFundsOverflow, cur.Funds, amount)
		}
		if err := e.Repo.AddFunds(ctx, tx, address, amount); err != nil {
			return fmt.Errorf("add funds: %w", err)
		}
		if err := e.emit(ctx, tx, events.AirlineFunded, "airline", address, funder, events.EventPayload{"amount": amount.String()}); err != nil {
			return err
		}
		a, err = e.Repo.GetAirline(ctx, tx, address)
		return err
	})
	if err != nil {
		return domain.Airline{}, err
	}
	return a, nil
}

func (e Engine) GetAirline(ctx context.Context, address string) (domain.Airline, error) {
	a, err := e.Repo.GetAirline(ctx, e.DB, strings.TrimSpace(address))
	if errors.Is(err, repo.ErrNotFound) {
		return a, fmt.Errorf("%w: %s", ErrAirlineNotFound, address)
	}
	return a, err
}

func (e Engine) ListAirlines(ctx context.Context, registeredOnly bool) ([]domain.Airline, error) {
	return e.Repo.ListAirlines(ctx, e.DB, registeredOnly)
}

func (e Engine) IsAirlineRegistered(ctx context.Context, address string) (bool, error) {
	a, err := e.Repo.GetAirline(ctx, e.DB, strings.TrimSpace(address))
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return a.Registered, err
}

func (e Engine) IsAirlineFunded(ctx context.Context, address string) (bool, error) {
	a, err := e.Repo.GetAirline(ctx, e.DB, strings.TrimSpace(address))
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return a.Funded, err
}

// PendingVotes lists the airlines that voted for a candidate not yet admitted.
func (e Engine) PendingVotes(ctx context.Context, address string) ([]string, error) {
	return e.Repo.ListVoters(ctx, e.DB, strings.TrimSpace(address))
}
