package engine

import (
	"errors"
)

// Kind groups failures by how a caller should react to them.
type Kind string

const (
	KindNotOperational     Kind = "not_operational"
	KindUnauthorized       Kind = "unauthorized"
	KindPreconditionFailed Kind = "precondition_failed"
	KindCapacityExceeded   Kind = "capacity_exceeded"
	KindIdempotency        Kind = "idempotency"
	KindNoCredit           Kind = "no_credit"
)

// Error is a discriminated failure reason. Sentinels are compared with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

var (
	ErrNotOperational = newError(KindNotOperational, "not_operational", "platform is not operational")
	ErrUnauthorized   = newError(KindUnauthorized, "unauthorized", "caller is not the platform owner")

	ErrProposerNotFunded        = newError(KindPreconditionFailed, "proposer_not_funded", "proposer must be a registered and funded airline")
	ErrAirlineAlreadyRegistered = newError(KindPreconditionFailed, "airline_already_registered", "airline already registered")
	ErrDuplicateVote            = newError(KindPreconditionFailed, "duplicate_vote", "airline already voted for this candidate")
	ErrAirlineNotFound          = newError(KindPreconditionFailed, "airline_not_found", "airline not found")
	ErrAirlineNotFunded         = newError(KindPreconditionFailed, "airline_not_funded", "airline is not funded")
	ErrFlightAlreadyRegistered  = newError(KindPreconditionFailed, "flight_already_registered", "flight already registered")
	ErrFlightNotFound           = newError(KindPreconditionFailed, "flight_not_found", "flight not found")
	ErrAlreadyInsured           = newError(KindPreconditionFailed, "already_insured", "passenger already insured for this flight")
	ErrOracleAlreadyRegistered  = newError(KindPreconditionFailed, "oracle_already_registered", "oracle already registered")
	ErrOracleNotRegistered      = newError(KindPreconditionFailed, "oracle_not_registered", "oracle not registered")
	ErrIndexMismatch            = newError(KindPreconditionFailed, "index_mismatch", "index does not match oracle request")
	ErrUnknownRequest           = newError(KindPreconditionFailed, "unknown_request", "no open request matches this flight and index")
	ErrInvalidStatus            = newError(KindPreconditionFailed, "invalid_status", "invalid flight status code")
	ErrRequestExpired           = newError(KindPreconditionFailed, "request_expired", "oracle request expired")
	ErrAPIKeyNotFound           = newError(KindPreconditionFailed, "api_key_not_found", "api key not found")

	ErrInsufficientFunding = newError(KindCapacityExceeded, "insufficient_funding", "funding below the minimum")
	ErrPremiumExceedsCap   = newError(KindCapacityExceeded, "premium_exceeds_cap", "premium exceeds the maximum")
	ErrInvalidAmount       = newError(KindCapacityExceeded, "invalid_amount", "amount must be positive")
	ErrInsufficientFee     = newError(KindCapacityExceeded, "insufficient_fee", "registration fee too low")
	ErrFundsOverflow       = newError(KindCapacityExceeded, "funds_overflow", "airline funds would overflow")

	ErrAlreadyResolved   = newError(KindIdempotency, "already_resolved", "request already resolved")
	ErrDuplicateResponse = newError(KindIdempotency, "duplicate_response", "oracle already responded to this request")

	ErrNoCredit = newError(KindNoCredit, "no_credit", "nothing to withdraw")
)

// KindOf returns the kind of an engine error, or "" for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the code of an engine error, or "" for anything else.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
