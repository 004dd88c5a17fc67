package oraclesim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"flightsurety/internal/domain"
	"flightsurety/internal/engine"
	"flightsurety/internal/events"
)

// Request is the payload of an oracle.request.issued event.
type Request struct {
	RequestID string `json:"request_id"`
	Index     int    `json:"index"`
	Airline   string `json:"airline"`
	Flight    string `json:"flight"`
	Departure int64  `json:"departure"`
}

// Simulator plays a pool of oracle agents. It registers them, then answers
// every issued status request with the oracles holding the requested index.
type Simulator struct {
	Engine     engine.Engine
	Oracles    []string
	Reporter   Reporter
	Subscriber *events.Subscriber
	Logger     zerolog.Logger

	mu      sync.RWMutex
	indexes map[string][3]int
}

// OracleNames returns n identities of the form prefix-00.
func OracleNames(prefix string, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s-%02d", prefix, i)
	}
	return names
}

func New(e engine.Engine, oracles []string, reporter Reporter, logger zerolog.Logger) *Simulator {
	if reporter == nil {
		reporter = FixedReporter{Status: domain.StatusLateAirline}
	}
	return &Simulator{
		Engine:   e,
		Oracles:  oracles,
		Reporter: reporter,
		Logger:   logger,
		Subscriber: &events.Subscriber{
			Repo:   e.Repo,
			Types:  []string{events.OracleRequestIssued},
			Logger: logger,
		},
		indexes: make(map[string][3]int),
	}
}

// Register pays the registration fee for every oracle not registered yet and
// caches each oracle's indexes.
func (s *Simulator) Register(ctx context.Context) error {
	fee := s.Engine.Config.Oracles.RegistrationFee
	for _, name := range s.Oracles {
		o, err := s.Engine.RegisterOracle(ctx, name, fee)
		switch {
		case err == nil:
			s.Logger.Info().Str("oracle", name).Ints("indexes", o.Indexes[:]).Msg("oracle registered")
		case errors.Is(err, engine.ErrOracleAlreadyRegistered):
		default:
			return fmt.Errorf("register oracle %s: %w", name, err)
		}
		idx, err := s.Engine.GetMyIndexes(ctx, name)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.indexes[name] = idx
		s.mu.Unlock()
	}
	return nil
}

func (s *Simulator) holders(index int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, name := range s.Oracles {
		idx, ok := s.indexes[name]
		if !ok {
			continue
		}
		for _, i := range idx {
			if i == index {
				out = append(out, name)
				break
			}
		}
	}
	return out
}

// Handle fans a request out to its index holders. Submission failures are
// logged per oracle and never fail the event.
func (s *Simulator) Handle(ctx context.Context, evt domain.Event) error {
	var req Request
	if err := events.Decode(evt, &req); err != nil {
		s.Logger.Warn().Err(err).Int64("event", evt.ID).Msg("undecodable oracle request")
		return nil
	}
	var wg sync.WaitGroup
	for _, name := range s.holders(req.Index) {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			status := s.Reporter.Report(name, req)
			res, err := s.Engine.SubmitOracleResponse(ctx, name, req.Index, req.Airline, req.Flight, req.Departure, status)
			if err != nil {
				s.Logger.Debug().Err(err).Str("oracle", name).Str("request", req.RequestID).Msg("oracle response rejected")
				return
			}
			s.Logger.Debug().Str("oracle", name).Str("request", req.RequestID).Str("status", status.String()).Bool("resolved", res.Resolved).Msg("oracle response submitted")
		}(name)
	}
	wg.Wait()
	return nil
}

// Run registers the oracles and answers requests until ctx is done.
func (s *Simulator) Run(ctx context.Context) error {
	if err := s.Register(ctx); err != nil {
		return err
	}
	s.Logger.Info().Int("oracles", len(s.Oracles)).Msg("oracle simulator listening")
	return s.Subscriber.Run(ctx, s.Handle)
}
