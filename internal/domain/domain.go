package domain

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

type Airline struct {
	Address      string  `json:"address"`
	Name         string  `json:"name"`
	Funded       bool    `json:"funded"`
	Registered   bool    `json:"registered"`
	Funds        Amount  `json:"funds"`
	ProposedBy   string  `json:"proposed_by,omitempty"`
	Votes        int     `json:"votes"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	RegisteredAt *string `json:"registered_at,omitempty" format:"date-time"`
}

// FlightKey identifies a flight; it is immutable once the flight exists.
type FlightKey struct {
	Airline   string `json:"airline"`
	Code      string `json:"code"`
	Departure int64  `json:"departure"`
}

// NewFlightKey canonicalises the flight code so lookups are stable across input forms.
func NewFlightKey(airline, code string, departure int64) FlightKey {
	return FlightKey{
		Airline:   strings.TrimSpace(airline),
		Code:      CanonicalCode(code),
		Departure: departure,
	}
}

func CanonicalCode(code string) string {
	return strings.ToUpper(norm.NFC.String(strings.TrimSpace(code)))
}

// CanonicalName normalises free-text names without changing case.
func CanonicalName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

func (k FlightKey) String() string {
	return fmt.Sprintf("%s/%s/%d", k.Airline, k.Code, k.Departure)
}

type Flight struct {
	FlightKey
	Status          StatusCode `json:"status"`
	RegisteredAt    string     `json:"registered_at" format:"date-time"`
	StatusUpdatedAt *string    `json:"status_updated_at,omitempty" format:"date-time"`
}

type Policy struct {
	ID            string    `json:"id"`
	Passenger     string    `json:"passenger"`
	PassengerName string    `json:"passenger_name"`
	Flight        FlightKey `json:"flight"`
	AmountPaid    Amount    `json:"amount_paid"`
	PayoutCredit  Amount    `json:"payout_credit"`
	CreditedAt    *string   `json:"credited_at,omitempty" format:"date-time"`
	Withdrawn     bool      `json:"withdrawn"`
	WithdrawnAt   *string   `json:"withdrawn_at,omitempty" format:"date-time"`
	CreatedAt     string    `json:"created_at" format:"date-time"`
}

type Oracle struct {
	Address      string `json:"address"`
	Indexes      [3]int `json:"indexes"`
	FeePaid      Amount `json:"fee_paid"`
	RegisteredAt string `json:"registered_at" format:"date-time"`
}

// HasIndex reports whether the oracle may answer requests for index.
func (o Oracle) HasIndex(index int) bool {
	for _, i := range o.Indexes {
		if i == index {
			return true
		}
	}
	return false
}

type OracleRequest struct {
	ID           string             `json:"id"`
	Index        int                `json:"index"`
	Flight       FlightKey          `json:"flight"`
	RequestedBy  string             `json:"requested_by"`
	OpenedAt     string             `json:"opened_at" format:"date-time"`
	Resolved     bool               `json:"resolved"`
	ResolvedCode *StatusCode        `json:"resolved_code,omitempty"`
	ResolvedAt   *string            `json:"resolved_at,omitempty" format:"date-time"`
	Tally        map[StatusCode]int `json:"tally,omitempty"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIKey binds a secret (stored only as its hash) to a caller identity.
type APIKey struct {
	ID        string `json:"id"`
	Caller    string `json:"caller"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
