package flightsuretysdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client is a minimal FlightSurety HTTP API client. Amounts are decimal
// strings in whole units, exactly as the API renders them.
type Client struct {
	BaseURL     string
	BearerToken string
	APIKey      string
	// CallerID is sent as X-Caller-Id; only servers started with --dev honour it.
	CallerID   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// As returns a copy of the client acting as caller via the dev header.
func (c *Client) As(caller string) *Client {
	cp := *c
	cp.CallerID = caller
	cp.BearerToken = ""
	cp.APIKey = ""
	return &cp
}

type Airline struct {
	Address    string `json:"address"`
	Name       string `json:"name"`
	Funded     bool   `json:"funded"`
	Registered bool   `json:"registered"`
	Funds      string `json:"funds"`
	Votes      int    `json:"votes"`
}

type Admission struct {
	Airline  Airline `json:"airline"`
	Admitted bool    `json:"admitted"`
	Votes    int     `json:"votes"`
	Quorum   int     `json:"quorum"`
}

type FlightKey struct {
	Airline   string `json:"airline"`
	Code      string `json:"code"`
	Departure int64  `json:"departure"`
}

type Flight struct {
	Airline   string `json:"airline"`
	Code      string `json:"code"`
	Departure int64  `json:"departure"`
	Status    int    `json:"status"`
}

type Policy struct {
	ID           string    `json:"id"`
	Passenger    string    `json:"passenger"`
	Flight       FlightKey `json:"flight"`
	AmountPaid   string    `json:"amount_paid"`
	PayoutCredit string    `json:"payout_credit"`
	Withdrawn    bool      `json:"withdrawn"`
}

type PassengerPolicies struct {
	Passenger string   `json:"passenger"`
	Credit    string   `json:"credit"`
	Balance   string   `json:"balance"`
	Items     []Policy `json:"items"`
}

type Oracle struct {
	Address string `json:"address"`
	Indexes [3]int `json:"indexes"`
	FeePaid string `json:"fee_paid"`
}

type OracleRequest struct {
	ID           string         `json:"id"`
	Index        int            `json:"index"`
	Flight       FlightKey      `json:"flight"`
	Resolved     bool           `json:"resolved"`
	ResolvedCode *int           `json:"resolved_code,omitempty"`
	Tally        map[string]int `json:"tally,omitempty"`
}

type SubmitResult struct {
	RequestID string `json:"request_id"`
	Index     int    `json:"index"`
	Status    int    `json:"status"`
	Count     int    `json:"count"`
	Resolved  bool   `json:"resolved"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Operational reports whether the platform accepts state changes.
func (c *Client) Operational(ctx context.Context) (bool, error) {
	var resp struct {
		Operational bool `json:"operational"`
	}
	err := c.do(ctx, http.MethodGet, "operational", nil, &resp)
	return resp.Operational, err
}

// SetOperational pauses or resumes the platform; only the owner may call it.
func (c *Client) SetOperational(ctx context.Context, operational bool) error {
	return c.do(ctx, http.MethodPut, "operational", map[string]any{"operational": operational}, nil)
}

// ProposeAirline proposes address, or votes for it when it is already pending.
func (c *Client) ProposeAirline(ctx context.Context, address, name string) (Admission, error) {
	var resp Admission
	err := c.do(ctx, http.MethodPost, "airlines", map[string]any{"address": address, "name": name}, &resp)
	return resp, err
}

func (c *Client) FundAirline(ctx context.Context, address, amount string) (Airline, error) {
	var resp Airline
	err := c.do(ctx, http.MethodPost, "airlines/"+url.PathEscape(address)+"/fund", map[string]any{"amount": amount}, &resp)
	return resp, err
}

func (c *Client) Airline(ctx context.Context, address string) (Airline, error) {
	var resp Airline
	err := c.do(ctx, http.MethodGet, "airlines/"+url.PathEscape(address), nil, &resp)
	return resp, err
}

// RegisterFlight registers a flight for the calling airline.
func (c *Client) RegisterFlight(ctx context.Context, code string, departure int64) (Flight, error) {
	var resp Flight
	err := c.do(ctx, http.MethodPost, "flights", map[string]any{"code": code, "departure": departure}, &resp)
	return resp, err
}

func (c *Client) Flight(ctx context.Context, airline, code string, departure int64) (Flight, error) {
	var resp Flight
	err := c.do(ctx, http.MethodGet, flightPath(airline, code, departure), nil, &resp)
	return resp, err
}

// FetchFlightStatus opens an oracle request for the flight.
func (c *Client) FetchFlightStatus(ctx context.Context, airline, code string, departure int64) (OracleRequest, error) {
	var resp OracleRequest
	err := c.do(ctx, http.MethodPost, flightPath(airline, code, departure)+"/status-requests", nil, &resp)
	return resp, err
}

// Buy insures the caller on a flight.
func (c *Client) Buy(ctx context.Context, airline, code string, departure int64, passengerName, amount string) (Policy, error) {
	body := map[string]any{
		"airline":        airline,
		"flight":         code,
		"departure":      departure,
		"passenger_name": passengerName,
		"amount":         amount,
	}
	var resp Policy
	err := c.do(ctx, http.MethodPost, "policies", body, &resp)
	return resp, err
}

func (c *Client) Policies(ctx context.Context, passenger string) (PassengerPolicies, error) {
	var resp PassengerPolicies
	err := c.do(ctx, http.MethodGet, "passengers/"+url.PathEscape(passenger)+"/policies", nil, &resp)
	return resp, err
}

// Withdraw pays out the caller's credit and returns the amount.
func (c *Client) Withdraw(ctx context.Context) (string, error) {
	var resp struct {
		Amount string `json:"amount"`
	}
	err := c.do(ctx, http.MethodPost, "withdrawals", nil, &resp)
	return resp.Amount, err
}

func (c *Client) RegisterOracle(ctx context.Context, fee string) (Oracle, error) {
	var resp Oracle
	err := c.do(ctx, http.MethodPost, "oracles", map[string]any{"fee": fee}, &resp)
	return resp, err
}

func (c *Client) OracleIndexes(ctx context.Context, oracle string) ([3]int, error) {
	var resp struct {
		Indexes [3]int `json:"indexes"`
	}
	err := c.do(ctx, http.MethodGet, "oracles/"+url.PathEscape(oracle)+"/indexes", nil, &resp)
	return resp.Indexes, err
}

// SubmitOracleResponse reports status for the request at index as the calling oracle.
func (c *Client) SubmitOracleResponse(ctx context.Context, index int, airline, code string, departure int64, status int) (SubmitResult, error) {
	body := map[string]any{
		"index":       index,
		"airline":     airline,
		"flight":      code,
		"departure":   departure,
		"status_code": status,
	}
	var resp SubmitResult
	err := c.do(ctx, http.MethodPost, "oracle-responses", body, &resp)
	return resp, err
}

func (c *Client) OracleRequests(ctx context.Context, openOnly bool) ([]OracleRequest, error) {
	var resp []OracleRequest
	err := c.do(ctx, http.MethodGet, "oracle-requests?open="+strconv.FormatBool(openOnly), nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// EventsAfter returns events after cursor in commit order. Start from "0".
func (c *Client) EventsAfter(ctx context.Context, cursor string, limit int, eventType string) (PaginatedEvents, error) {
	q := url.Values{}
	q.Set("after", cursor)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if eventType != "" {
		q.Set("type", eventType)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, "events?"+q.Encode(), nil, &resp)
	return resp, err
}

// CreateAPIKey issues a key for the caller and returns its plaintext.
func (c *Client) CreateAPIKey(ctx context.Context, name string) (string, error) {
	var resp struct {
		Key string `json:"key"`
	}
	err := c.do(ctx, http.MethodPost, "api-keys", map[string]any{"name": name}, &resp)
	return resp.Key, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/v0/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	case c.CallerID != "":
		req.Header.Set("X-Caller-Id", c.CallerID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func flightPath(airline, code string, departure int64) string {
	return fmt.Sprintf("flights/%s/%s/%d", url.PathEscape(airline), url.PathEscape(code), departure)
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
