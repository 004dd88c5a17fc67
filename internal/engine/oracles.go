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

// SubmitResult describes the state of a request after one oracle response.
type SubmitResult struct {
	RequestID string            `json:"request_id"`
	Index     int               `json:"index"`
	Status    domain.StatusCode `json:"status"`
	Count     int               `json:"count"`
	Resolved  bool              `json:"resolved"`
}

// entropy returns the persisted seed and a fresh nonce for one draw.
func (e Engine) entropy(ctx context.Context, tx *sql.Tx) (string, uint64, error) {
	seed, err := e.Repo.GetSeed(ctx, tx)
	if errors.Is(err, repo.ErrNotFound) {
		seed = e.Config.Oracles.Seed
	} else if err != nil {
		return "", 0, fmt.Errorf("load seed: %w", err)
	}
	nonce, err := e.Repo.NextNonce(ctx, tx)
	if err != nil {
		return "", 0, fmt.Errorf("next nonce: %w", err)
	}
	return seed, nonce, nil
}

func (e Engine) indexSource() IndexSource {
	if e.Entropy == nil {
		return SHA256Indexes{}
	}
	return e.Entropy
}

// RegisterOracle admits caller as an oracle and assigns its indexes.
func (e Engine) RegisterOracle(ctx context.Context, caller string, fee domain.Amount) (domain.Oracle, error) {
	var o domain.Oracle
	caller, err := normalizeAddress(caller)
	if err != nil {
		return o, err
	}
	err = e.mutate(ctx, "register_oracle", func(tx *sql.Tx) error {
		if fee < e.Config.Oracles.RegistrationFee {
			return fmt.Errorf("%w: %s < %s", ErrInsufficientFee, fee, e.Config.Oracles.RegistrationFee)
		}
		if _, err := e.Repo.GetOracle(ctx, tx, caller); err == nil {
			return fmt.Errorf("%w: %s", ErrOracleAlreadyRegistered, caller)
		} else if !errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("load oracle: %w", err)
		}
		seed, nonce, err := e.entropy(ctx, tx)
		if err != nil {
			return err
		}
		drawn := e.indexSource().Indexes(seed, caller, nonce, len(o.Indexes), e.Config.Oracles.IndexSpace)
		if len(drawn) != len(o.Indexes) {
			return fmt.Errorf("index source returned %d indexes", len(drawn))
		}
		o = domain.Oracle{Address: caller, FeePaid: fee, RegisteredAt: e.stamp()}
		copy(o.Indexes[:], drawn)
		if err := e.Repo.InsertOracle(ctx, tx, o); err != nil {
			return fmt.Errorf("insert oracle: %w", err)
		}
		return e.emit(ctx, tx, events.OracleRegistered, "oracle", caller, caller,
			events.EventPayload{"indexes": o.Indexes, "fee": fee.String()})
	})
	if err != nil {
		return domain.Oracle{}, err
	}
	return o, nil
}

func (e Engine) GetMyIndexes(ctx context.Context, oracle string) ([3]int, error) {
	o, err := e.Repo.GetOracle(ctx, e.DB, strings.TrimSpace(oracle))
	if errors.Is(err, repo.ErrNotFound) {
		return [3]int{}, fmt.Errorf("%w: %s", ErrOracleNotRegistered, oracle)
	}
	return o.Indexes, err
}

func (e Engine) ListOracles(ctx context.Context) ([]domain.Oracle, error) {
	return e.Repo.ListOracles(ctx, e.DB)
}

// FetchFlightStatus opens a status request for the flight under a random
// index and notifies oracles holding that index.
func (e Engine) FetchFlightStatus(ctx context.Context, caller, airline, code string, departure int64) (domain.OracleRequest, error) {
	var req domain.OracleRequest
	key := domain.NewFlightKey(airline, code, departure)
	caller = strings.TrimSpace(caller)
	err := e.mutate(ctx, "fetch_flight_status", func(tx *sql.Tx) error {
		exists, err := e.Repo.FlightExists(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("check flight: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrFlightNotFound, key)
		}
		seed, nonce, err := e.entropy(ctx, tx)
		if err != nil {
			return err
		}
		index := e.indexSource().Indexes(seed, caller, nonce, 1, e.Config.Oracles.IndexSpace)[0]
		now := e.stamp()

		req, err = e.Repo.FindRequest(ctx, tx, index, key)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			req = domain.OracleRequest{ID: uuid.NewString(), Index: index, Flight: key, RequestedBy: caller, OpenedAt: now}
			if err := e.Repo.InsertRequest(ctx, tx, req); err != nil {
				return fmt.Errorf("insert request: %w", err)
			}
		case err != nil:
			return fmt.Errorf("load request: %w", err)
		case req.Resolved || e.expired(req):
			if err := e.Repo.ReopenRequest(ctx, tx, req.ID, caller, now); err != nil {
				return fmt.Errorf("reopen request: %w", err)
			}
			req = domain.OracleRequest{ID: req.ID, Index: index, Flight: key, RequestedBy: caller, OpenedAt: now}
		}
		return e.emit(ctx, tx, events.OracleRequestIssued, "oracle_request", req.ID, caller, events.EventPayload{
			"request_id": req.ID,
			"index":      index,
			"airline":    key.Airline,
			"flight":     key.Code,
			"departure":  key.Departure,
		})
	})
	if err != nil {
		return domain.OracleRequest{}, err
	}
	e.Logger.Debug().Str("request", req.ID).Int("index", req.Index).Str("flight", key.String()).Msg("oracle request issued")
	return req, nil
}

func (e Engine) expired(req domain.OracleRequest) bool {
	ttl := e.Config.Oracles.RequestTTL
	if ttl <= 0 || req.Resolved {
		return false
	}
	opened, err := time.Parse(time.RFC3339, req.OpenedAt)
	if err != nil {
		return false
	}
	return e.now().Sub(opened) > ttl
}

// SubmitOracleResponse records one oracle's report. The response that brings
// a status to the consensus threshold resolves the request, sets the flight
// status and, for airline delays, credits the insurees.
func (e Engine) SubmitOracleResponse(ctx context.Context, caller string, index int, airline, code string, departure int64, status domain.StatusCode) (SubmitResult, error) {
	res := SubmitResult{Index: index, Status: status}
	caller = strings.TrimSpace(caller)
	key := domain.NewFlightKey(airline, code, departure)
	err := e.mutate(ctx, "submit_oracle_response", func(tx *sql.Tx) error {
		if !status.Valid() {
			return fmt.Errorf("%w: %d", ErrInvalidStatus, int(status))
		}
		o, err := e.Repo.GetOracle(ctx, tx, caller)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOracleNotRegistered, caller)
		}
		if err != nil {
			return fmt.Errorf("load oracle: %w", err)
		}
		if !o.HasIndex(index) {
			return fmt.Errorf("%w: %d not in %v", ErrIndexMismatch, index, o.Indexes)
		}
		req, err := e.Repo.FindRequest(ctx, tx, index, key)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s at index %d", ErrUnknownRequest, key, index)
		}
		if err != nil {
			return fmt.Errorf("load request: %w", err)
		}
		res.RequestID = req.ID
		if req.Resolved {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, req.ID)
		}
		if e.expired(req) {
			return fmt.Errorf("%w: %s", ErrRequestExpired, req.ID)
		}
		dup, err := e.Repo.HasResponded(ctx, tx, req.ID, caller)
		if err != nil {
			return fmt.Errorf("check response: %w", err)
		}
		if dup {
			return fmt.Errorf("%w: %s on %s", ErrDuplicateResponse, caller, req.ID)
		}
		res.Count, err = e.Repo.AddResponse(ctx, tx, req.ID, caller, status, e.stamp())
		if err != nil {
			return fmt.Errorf("record response: %w", err)
		}
		if err := e.emit(ctx, tx, events.OracleResponseSubmitted, "oracle_request", req.ID, caller,
			events.EventPayload{"index": index, "status_code": int(status), "count": res.Count}); err != nil {
			return err
		}
		if res.Count < e.Config.Oracles.ConsensusThreshold {
			return nil
		}
		return e.resolve(ctx, tx, req, status, caller, &res)
	})
	if err != nil {
		return SubmitResult{}, err
	}
	observability.RecordOracleResponse(status.String())
	if res.Resolved {
		observability.RecordResolution(status.String())
		e.Logger.Info().Str("request", res.RequestID).Str("flight", key.String()).Str("status", status.String()).Msg("flight status resolved")
	}
	return res, nil
}

func (e Engine) resolve(ctx context.Context, tx *sql.Tx, req domain.OracleRequest, status domain.StatusCode, actor string, res *SubmitResult) error {
	if err := e.Repo.ResolveRequest(ctx, tx, req.ID, status, e.stamp()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAlreadyResolved, req.ID)
		}
		return fmt.Errorf("resolve request: %w", err)
	}
	if err := e.setFlightStatus(ctx, tx, req.Flight, status); err != nil {
		return err
	}
	if status == domain.StatusLateAirline {
		if err := e.creditInsurees(ctx, tx, req.Flight, actor); err != nil {
			return err
		}
	}
	res.Resolved = true
	return e.emit(ctx, tx, events.FlightStatusResolved, "flight", req.Flight.String(), actor, events.EventPayload{
		"request_id":  req.ID,
		"airline":     req.Flight.Airline,
		"flight":      req.Flight.Code,
		"departure":   req.Flight.Departure,
		"status_code": int(status),
	})
}

// GetRequest returns a request with its per-status response counts.
func (e Engine) GetRequest(ctx context.Context, id string) (domain.OracleRequest, error) {
	req, err := e.Repo.GetRequest(ctx, e.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return req, fmt.Errorf("%w: %s", ErrUnknownRequest, id)
	}
	if err != nil {
		return req, err
	}
	req.Tally, err = e.Repo.Tally(ctx, e.DB, id)
	return req, err
}

// ListRequests lists recent requests; openOnly hides resolved ones.
func (e Engine) ListRequests(ctx context.Context, openOnly bool, limit int) ([]domain.OracleRequest, error) {
	return e.Repo.ListRequests(ctx, e.DB, openOnly, limit)
}

func (e Engine) ListOpenRequests(ctx context.Context) ([]domain.OracleRequest, error) {
	return e.ListRequests(ctx, true, 0)
}
