package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"flightsurety/internal/domain"
	"flightsurety/internal/engine"
)

var mutationErrors = []int{
	http.StatusBadRequest,
	http.StatusUnauthorized,
	http.StatusForbidden,
	http.StatusNotFound,
	http.StatusConflict,
	http.StatusUnprocessableEntity,
	http.StatusServiceUnavailable,
}

func registerGuard(api huma.API, e engine.Engine) {
	get := func(ctx context.Context) (*struct {
		Body OperationalResponse `json:"body"`
	}, error) {
		op, err := e.IsOperational(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		owner, err := e.Owner(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OperationalResponse `json:"body"`
		}{Body: OperationalResponse{Operational: op, Owner: owner}}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "get-operational",
		Method:      http.MethodGet,
		Path:        "/operational",
		Summary:     "Operational status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body OperationalResponse `json:"body"`
	}, error) {
		return get(ctx)
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-operational",
		Method:      http.MethodPut,
		Path:        "/operational",
		Summary:     "Pause or resume the platform (owner only)",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body SetOperationalRequest `json:"body"`
	}) (*struct {
		Body OperationalResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.SetOperatingStatus(ctx, caller, input.Body.Operational); err != nil {
			return nil, handleError(err)
		}
		return get(ctx)
	})
}

func registerAirlines(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-airlines",
		Method:      http.MethodGet,
		Path:        "/airlines",
		Summary:     "List airlines",
	}, func(ctx context.Context, input *struct {
		Registered bool `query:"registered" doc:"only admitted airlines"`
	}) (*struct {
		Body []domain.Airline `json:"body"`
	}, error) {
		items, err := e.ListAirlines(ctx, input.Registered)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Airline `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "propose-airline",
		Method:        http.MethodPost,
		Path:          "/airlines",
		Summary:       "Propose or vote for an airline",
		Description:   "Admits the airline directly during bootstrap, otherwise records the caller's vote.",
		DefaultStatus: http.StatusOK,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body ProposeAirlineRequest `json:"body"`
	}) (*struct {
		Body engine.AdmissionResult `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ProposeAirline(ctx, input.Body.Address, input.Body.Name, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.AdmissionResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-airline",
		Method:      http.MethodGet,
		Path:        "/airlines/{address}",
		Summary:     "Get airline",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body AirlineResponse `json:"body"`
	}, error) {
		a, err := e.GetAirline(ctx, input.Address)
		if err != nil {
			return nil, handleError(err)
		}
		voters, err := e.PendingVotes(ctx, a.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AirlineResponse `json:"body"`
		}{Body: AirlineResponse{Airline: a, Voters: nonNil(voters)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fund-airline",
		Method:      http.MethodPost,
		Path:        "/airlines/{address}/fund",
		Summary:     "Fund an airline",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Address string             `path:"address"`
		Body    FundAirlineRequest `json:"body"`
	}) (*struct {
		Body domain.Airline `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, perr := parseAmount("amount", input.Body.Amount)
		if perr != nil {
			return nil, perr
		}
		a, err := e.FundAirline(ctx, input.Address, amount, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Airline `json:"body"`
		}{Body: a}, nil
	})
}

type flightPath struct {
	Airline   string `path:"airline"`
	Code      string `path:"code"`
	Departure int64  `path:"departure"`
}

func registerFlights(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-flights",
		Method:      http.MethodGet,
		Path:        "/flights",
		Summary:     "List flights",
	}, func(ctx context.Context, input *struct {
		Airline string `query:"airline"`
	}) (*struct {
		Body []domain.Flight `json:"body"`
	}, error) {
		items, err := e.ListFlights(ctx, input.Airline)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Flight `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-flight",
		Method:        http.MethodPost,
		Path:          "/flights",
		Summary:       "Register a flight for the calling airline",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterFlightRequest `json:"body"`
	}) (*struct {
		Body domain.Flight `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f, err := e.RegisterFlight(ctx, caller, input.Body.Code, input.Body.Departure)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Flight `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-flight",
		Method:      http.MethodGet,
		Path:        "/flights/{airline}/{code}/{departure}",
		Summary:     "Get flight",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *flightPath) (*struct {
		Body domain.Flight `json:"body"`
	}, error) {
		f, err := e.GetFlight(ctx, input.Airline, input.Code, input.Departure)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Flight `json:"body"`
		}{Body: f}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "fetch-flight-status",
		Method:        http.MethodPost,
		Path:          "/flights/{airline}/{code}/{departure}/status-requests",
		Summary:       "Ask oracles for the flight status",
		DefaultStatus: http.StatusAccepted,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *flightPath) (*struct {
		Body domain.OracleRequest `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		req, err := e.FetchFlightStatus(ctx, caller, input.Airline, input.Code, input.Departure)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OracleRequest `json:"body"`
		}{Body: req}, nil
	})
}

func registerInsurance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "buy-policy",
		Method:        http.MethodPost,
		Path:          "/policies",
		Summary:       "Buy flight delay insurance for the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body BuyRequest `json:"body"`
	}) (*struct {
		Body domain.Policy `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, perr := parseAmount("amount", input.Body.Amount)
		if perr != nil {
			return nil, perr
		}
		p, err := e.Buy(ctx, caller, input.Body.Airline, input.Body.Flight, input.Body.Departure, input.Body.PassengerName, amount)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Policy `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-passenger-policies",
		Method:      http.MethodGet,
		Path:        "/passengers/{passenger}/policies",
		Summary:     "List a passenger's policies and outstanding credit",
	}, func(ctx context.Context, input *struct {
		Passenger string `path:"passenger"`
	}) (*struct {
		Body PassengerPoliciesResponse `json:"body"`
	}, error) {
		items, err := e.ListPolicies(ctx, input.Passenger)
		if err != nil {
			return nil, handleError(err)
		}
		credit, err := e.Credit(ctx, input.Passenger)
		if err != nil {
			return nil, handleError(err)
		}
		balance, err := e.Balance(ctx, input.Passenger)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PassengerPoliciesResponse `json:"body"`
		}{Body: PassengerPoliciesResponse{Passenger: input.Passenger, Credit: credit, Balance: balance, Items: nonNil(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "withdraw",
		Method:      http.MethodPost,
		Path:        "/withdrawals",
		Summary:     "Withdraw the caller's payout credit",
		Errors:      mutationErrors,
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WithdrawResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		amount, err := e.Withdraw(ctx, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body WithdrawResponse `json:"body"`
		}{Body: WithdrawResponse{Passenger: caller, Amount: amount}}, nil
	})
}

func registerOracles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-oracles",
		Method:      http.MethodGet,
		Path:        "/oracles",
		Summary:     "List oracles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Oracle `json:"body"`
	}, error) {
		items, err := e.ListOracles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Oracle `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register-oracle",
		Method:        http.MethodPost,
		Path:          "/oracles",
		Summary:       "Register the caller as an oracle",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body RegisterOracleRequest `json:"body"`
	}) (*struct {
		Body domain.Oracle `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fee, perr := parseAmount("fee", input.Body.Fee)
		if perr != nil {
			return nil, perr
		}
		o, err := e.RegisterOracle(ctx, caller, fee)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Oracle `json:"body"`
		}{Body: o}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-oracle-indexes",
		Method:      http.MethodGet,
		Path:        "/oracles/{address}/indexes",
		Summary:     "Indexes assigned to an oracle",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Address string `path:"address"`
	}) (*struct {
		Body OracleIndexesResponse `json:"body"`
	}, error) {
		idx, err := e.GetMyIndexes(ctx, input.Address)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body OracleIndexesResponse `json:"body"`
		}{Body: OracleIndexesResponse{Oracle: input.Address, Indexes: idx}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "submit-oracle-response",
		Method:      http.MethodPost,
		Path:        "/oracle-responses",
		Summary:     "Report a flight status as the calling oracle",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body OracleResponseRequest `json:"body"`
	}) (*struct {
		Body engine.SubmitResult `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		b := input.Body
		res, err := e.SubmitOracleResponse(ctx, caller, b.Index, b.Airline, b.Flight, b.Departure, domain.StatusCode(b.StatusCode))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.SubmitResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-oracle-requests",
		Method:      http.MethodGet,
		Path:        "/oracle-requests",
		Summary:     "List oracle requests",
	}, func(ctx context.Context, input *struct {
		Open  bool `query:"open" doc:"only unresolved requests"`
		Limit int  `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.OracleRequest `json:"body"`
	}, error) {
		items, err := e.ListRequests(ctx, input.Open, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.OracleRequest `json:"body"`
		}{Body: nonNil(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-oracle-request",
		Method:      http.MethodGet,
		Path:        "/oracle-requests/{id}",
		Summary:     "Get an oracle request with response tallies",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.OracleRequest `json:"body"`
	}, error) {
		req, err := e.GetRequest(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.OracleRequest `json:"body"`
		}{Body: req}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
		Description: "Newest first, or in commit order after a cursor when `after` is set.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		After      string `query:"after"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var (
			items []domain.Event
			err   error
		)
		if input.After != "" {
			cursor, perr := strconv.ParseInt(input.After, 10, 64)
			if perr != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"after": input.After})
			}
			var types []string
			if input.Type != "" {
				types = append(types, input.Type)
			}
			items, err = e.Repo.EventsAfter(ctx, e.DB, limit, cursor, types...)
		} else {
			items, err = e.LatestEvents(ctx, limit, input.Type, input.EntityKind, input.EntityID)
		}
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		if input.After != "" && len(items) == limit {
			resp.NextCursor = strconv.FormatInt(items[len(items)-1].ID, 10)
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func eventResponse(evt domain.Event) EventResponse {
	var payload any = map[string]any{}
	if evt.Payload != "" {
		var decoded any
		if err := json.Unmarshal([]byte(evt.Payload), &decoded); err == nil {
			payload = decoded
		} else {
			payload = evt.Payload
		}
	}
	return EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		Payload:    payload,
	}
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Issue an API key for the caller",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body CreateAPIKeyResponse `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		key, secret, err := e.CreateAPIKey(ctx, caller, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body CreateAPIKeyResponse `json:"body"`
		}{Body: CreateAPIKeyResponse{APIKey: key, Key: secret}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List the caller's API keys",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.APIKey `json:"body"`
	}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		keys, err := e.ListAPIKeys(ctx, caller)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.APIKey `json:"body"`
		}{Body: nonNil(keys)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "revoke-api-key",
		Method:        http.MethodDelete,
		Path:          "/api-keys/{id}",
		Summary:       "Revoke an API key",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		caller, authErr := callerFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.RevokeAPIKey(ctx, caller, input.ID); err != nil {
			return nil, handleError(err)
		}
		return nil, nil
	})
}
