package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flightsurety/internal/repo"
)

const (
	GuardStatusChanged      = "guard.status.changed"
	AirlineProposed         = "airline.proposed"
	AirlineVoted            = "airline.voted"
	AirlineRegistered       = "airline.registered"
	AirlineFunded           = "airline.funded"
	FlightRegistered        = "flight.registered"
	PolicyBought            = "policy.bought"
	PolicyCredited          = "policy.credited"
	PayoutWithdrawn         = "payout.withdrawn"
	OracleRegistered        = "oracle.registered"
	OracleRequestIssued     = "oracle.request.issued"
	OracleResponseSubmitted = "oracle.response.submitted"
	FlightStatusResolved    = "flight.status.resolved"
	APIKeyCreated           = "api_key.created"
	APIKeyRevoked           = "api_key.revoked"
)

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes an event inside the caller's transaction so it commits or
// rolls back with the state change it describes.
func (w Writer) Append(ctx context.Context, q repo.DBTX, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	if err != nil {
		return fmt.Errorf("append %s: %w", evtType, err)
	}
	return nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
