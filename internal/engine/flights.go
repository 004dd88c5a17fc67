package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"flightsurety/internal/domain"
	"flightsurety/internal/events"
	"flightsurety/internal/repo"
)

func flightKey(airline, code string, departure int64) (domain.FlightKey, error) {
	key := domain.NewFlightKey(airline, code, departure)
	if key.Airline == "" {
		return key, errors.New("airline is required")
	}
	if key.Code == "" {
		return key, errors.New("flight code is required")
	}
	if departure <= 0 {
		return key, errors.New("departure must be a positive unix timestamp")
	}
	return key, nil
}

// RegisterFlight records a flight for a funded airline. The airline does not
// need to have been admitted yet.
func (e Engine) RegisterFlight(ctx context.Context, airline, code string, departure int64) (domain.Flight, error) {
	key, err := flightKey(airline, code, departure)
	if err != nil {
		return domain.Flight{}, err
	}
	f := domain.Flight{FlightKey: key, Status: domain.StatusUnknown, RegisteredAt: e.stamp()}
	err = e.mutate(ctx, "register_flight", func(tx *sql.Tx) error {
		a, err := e.Repo.GetAirline(ctx, tx, key.Airline)
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAirlineNotFound, key.Airline)
		}
		if err != nil {
			return fmt.Errorf("load airline: %w", err)
		}
		if !a.Funded {
			return fmt.Errorf("%w: %s", ErrAirlineNotFunded, key.Airline)
		}
		exists, err := e.Repo.FlightExists(ctx, tx, key)
		if err != nil {
			return fmt.Errorf("check flight: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: %s", ErrFlightAlreadyRegistered, key)
		}
		if err := e.Repo.InsertFlight(ctx, tx, f); err != nil {
			return fmt.Errorf("insert flight: %w", err)
		}
		return e.emit(ctx, tx, events.FlightRegistered, "flight", key.String(), key.Airline,
			events.EventPayload{"airline": key.Airline, "flight": key.Code, "departure": key.Departure})
	})
	if err != nil {
		return domain.Flight{}, err
	}
	return f, nil
}

func (e Engine) GetFlight(ctx context.Context, airline, code string, departure int64) (domain.Flight, error) {
	key := domain.NewFlightKey(airline, code, departure)
	f, err := e.Repo.GetFlight(ctx, e.DB, key)
	if errors.Is(err, repo.ErrNotFound) {
		return f, fmt.Errorf("%w: %s", ErrFlightNotFound, key)
	}
	return f, err
}

func (e Engine) IsRegisteredFlight(ctx context.Context, airline, code string, departure int64) (bool, error) {
	return e.Repo.FlightExists(ctx, e.DB, domain.NewFlightKey(airline, code, departure))
}

// ListFlights lists every flight, or only the airline's when airline is set.
func (e Engine) ListFlights(ctx context.Context, airline string) ([]domain.Flight, error) {
	return e.Repo.ListFlights(ctx, e.DB, airline)
}

// setFlightStatus overwrites the flight status. Only oracle resolution calls it.
func (e Engine) setFlightStatus(ctx context.Context, tx *sql.Tx, key domain.FlightKey, status domain.StatusCode) error {
	if err := e.Repo.UpdateFlightStatus(ctx, tx, key, status, e.stamp()); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrFlightNotFound, key)
		}
		return fmt.Errorf("update flight status: %w", err)
	}
	return nil
}
