package server

import (
	"flightsurety/internal/domain"
)

// Request payloads. Amounts are decimal strings in whole units ("0.5").

type SetOperationalRequest struct {
	Operational bool `json:"operational"`
}

type ProposeAirlineRequest struct {
	Address string `json:"address" minLength:"1"`
	Name    string `json:"name,omitempty"`
}

type FundAirlineRequest struct {
	Amount string `json:"amount" example:"10"`
}

type RegisterFlightRequest struct {
	Code      string `json:"code" minLength:"1" example:"AB100"`
	Departure int64  `json:"departure" minimum:"1" example:"1700000000"`
}

type BuyRequest struct {
	Airline       string `json:"airline" minLength:"1"`
	Flight        string `json:"flight" minLength:"1"`
	Departure     int64  `json:"departure" minimum:"1"`
	PassengerName string `json:"passenger_name,omitempty"`
	Amount        string `json:"amount" example:"0.5"`
}

type RegisterOracleRequest struct {
	Fee string `json:"fee" example:"1"`
}

type OracleResponseRequest struct {
	Index      int    `json:"index" minimum:"0"`
	Airline    string `json:"airline" minLength:"1"`
	Flight     string `json:"flight" minLength:"1"`
	Departure  int64  `json:"departure" minimum:"1"`
	StatusCode int    `json:"status_code" example:"20"`
}

type CreateAPIKeyRequest struct {
	Name string `json:"name,omitempty"`
}

type DevTokenRequest struct {
	Caller string `json:"caller" minLength:"1"`
}

// Response payloads

type OperationalResponse struct {
	Operational bool   `json:"operational"`
	Owner       string `json:"owner"`
}

type AirlineResponse struct {
	domain.Airline
	Voters []string `json:"voters"`
}

type PassengerPoliciesResponse struct {
	Passenger string          `json:"passenger"`
	Credit    domain.Amount   `json:"credit"`
	Balance   domain.Amount   `json:"balance"`
	Items     []domain.Policy `json:"items"`
}

type WithdrawResponse struct {
	Passenger string        `json:"passenger"`
	Amount    domain.Amount `json:"amount"`
}

type OracleIndexesResponse struct {
	Oracle  string `json:"oracle"`
	Indexes [3]int `json:"indexes"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    any    `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// CreateAPIKeyResponse carries the plaintext key; it is never shown again.
type CreateAPIKeyResponse struct {
	domain.APIKey
	Key string `json:"key"`
}

type DevTokenResponse struct {
	Token string `json:"token"`
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
