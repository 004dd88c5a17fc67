package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightsurety/internal/app"
	"flightsurety/internal/config"
	"flightsurety/internal/db"
	"flightsurety/internal/domain"
	"flightsurety/internal/engine"
)

const (
	testSecret = "test-secret"
	owner      = "owner"
	genesis    = "airline-genesis"
	departure  = int64(1_700_000_000)
)

type fixedIndexes struct{}

func (fixedIndexes) Indexes(_, _ string, _ uint64, n, _ int) []int {
	if n == 1 {
		return []int{4}
	}
	return []int{1, 4, 7}
}

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	cfg, _, err := app.Install(context.Background(), conn, config.Default(owner))
	if err != nil {
		t.Fatalf("install: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Entropy = fixedIndexes{}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, DevMode: true, Logger: zerolog.Nop()},
		Logger:   zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(caller string) map[string]string {
	return map[string]string{callerHeader: caller}
}

// call performs the request and fails the test unless it returns want.
func (s *testServer) call(t *testing.T, method, path, caller string, body any, want int) []byte {
	t.Helper()
	var headers map[string]string
	if caller != "" {
		headers = as(caller)
	}
	res, data := doJSON(t, s.client, method, s.URL+"/v0"+path, body, headers)
	require.Equal(t, want, res.StatusCode, "%s %s: %s", method, path, string(data))
	return data
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error.Code
}

func flightPathFor(code string) string {
	return "/flights/" + genesis + "/" + code + "/" + strconv.FormatInt(departure, 10)
}

func TestDelayedFlightPaysPassenger(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	srv.call(t, http.MethodPost, "/airlines/"+genesis+"/fund", genesis, map[string]any{"amount": "10"}, http.StatusOK)
	srv.call(t, http.MethodPost, "/flights", genesis, map[string]any{"code": "ab100", "departure": departure}, http.StatusCreated)

	data := srv.call(t, http.MethodPost, "/policies", "passenger-1", map[string]any{
		"airline":        genesis,
		"flight":         "AB100",
		"departure":      departure,
		"passenger_name": "Ada",
		"amount":         "0.5",
	}, http.StatusCreated)
	var policy domain.Policy
	require.NoError(t, json.Unmarshal(data, &policy))
	assert.Equal(t, domain.MustAmount("0.5"), policy.AmountPaid)

	oracles := []string{"oracle-1", "oracle-2", "oracle-3"}
	for _, o := range oracles {
		srv.call(t, http.MethodPost, "/oracles", o, map[string]any{"fee": "1"}, http.StatusCreated)
	}
	data = srv.call(t, http.MethodGet, "/oracles/oracle-1/indexes", "", nil, http.StatusOK)
	var idx OracleIndexesResponse
	require.NoError(t, json.Unmarshal(data, &idx))
	assert.Equal(t, [3]int{1, 4, 7}, idx.Indexes)

	data = srv.call(t, http.MethodPost, flightPathFor("AB100")+"/status-requests", "passenger-1", nil, http.StatusAccepted)
	var req domain.OracleRequest
	require.NoError(t, json.Unmarshal(data, &req))
	assert.Equal(t, 4, req.Index)

	var last engine.SubmitResult
	for _, o := range oracles {
		data = srv.call(t, http.MethodPost, "/oracle-responses", o, map[string]any{
			"index":       4,
			"airline":     genesis,
			"flight":      "AB100",
			"departure":   departure,
			"status_code": int(domain.StatusLateAirline),
		}, http.StatusOK)
		require.NoError(t, json.Unmarshal(data, &last))
	}
	assert.True(t, last.Resolved)

	data = srv.call(t, http.MethodGet, flightPathFor("AB100"), "", nil, http.StatusOK)
	var flight domain.Flight
	require.NoError(t, json.Unmarshal(data, &flight))
	assert.Equal(t, domain.StatusLateAirline, flight.Status)

	data = srv.call(t, http.MethodGet, "/passengers/passenger-1/policies", "", nil, http.StatusOK)
	var policies PassengerPoliciesResponse
	require.NoError(t, json.Unmarshal(data, &policies))
	assert.Equal(t, domain.MustAmount("0.75"), policies.Credit)
	require.Len(t, policies.Items, 1)

	data = srv.call(t, http.MethodPost, "/withdrawals", "passenger-1", nil, http.StatusOK)
	var withdrawn WithdrawResponse
	require.NoError(t, json.Unmarshal(data, &withdrawn))
	assert.Equal(t, domain.MustAmount("0.75"), withdrawn.Amount)

	data = srv.call(t, http.MethodPost, "/withdrawals", "passenger-1", nil, http.StatusConflict)
	assert.Equal(t, engine.ErrNoCredit.Code, errorCode(t, data))

	data = srv.call(t, http.MethodPost, "/oracle-responses", "oracle-1", map[string]any{
		"index": 4, "airline": genesis, "flight": "AB100", "departure": departure, "status_code": 20,
	}, http.StatusConflict)
	assert.Equal(t, engine.ErrAlreadyResolved.Code, errorCode(t, data))

	data = srv.call(t, http.MethodGet, "/events?type=flight.status.resolved", "", nil, http.StatusOK)
	var evts paginatedEvents
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts.Items, 1)
	assert.Equal(t, genesis+"/AB100/"+strconv.FormatInt(departure, 10), evts.Items[0].EntityID)
	payload, ok := evts.Items[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, req.ID, payload["request_id"])
}

func TestErrorMapping(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	data := srv.call(t, http.MethodPost, "/flights", "", map[string]any{"code": "AB1", "departure": departure}, http.StatusUnauthorized)
	assert.Equal(t, "unauthorized", errorCode(t, data))

	data = srv.call(t, http.MethodPut, "/operational", "mallory", map[string]any{"operational": false}, http.StatusForbidden)
	assert.Equal(t, engine.ErrUnauthorized.Code, errorCode(t, data))

	data = srv.call(t, http.MethodPost, "/airlines/"+genesis+"/fund", genesis, map[string]any{"amount": "5"}, http.StatusUnprocessableEntity)
	assert.Equal(t, engine.ErrInsufficientFunding.Code, errorCode(t, data))

	data = srv.call(t, http.MethodPost, "/airlines/"+genesis+"/fund", genesis, map[string]any{"amount": "ten"}, http.StatusBadRequest)
	assert.Equal(t, "bad_request", errorCode(t, data))

	data = srv.call(t, http.MethodGet, flightPathFor("ZZ9"), "", nil, http.StatusNotFound)
	assert.Equal(t, engine.ErrFlightNotFound.Code, errorCode(t, data))

	data = srv.call(t, http.MethodPost, "/airlines", genesis, map[string]any{"address": "airline-2"}, http.StatusConflict)
	assert.Equal(t, engine.ErrProposerNotFunded.Code, errorCode(t, data))

	srv.call(t, http.MethodPut, "/operational", owner, map[string]any{"operational": false}, http.StatusOK)
	data = srv.call(t, http.MethodPost, "/airlines/"+genesis+"/fund", genesis, map[string]any{"amount": "10"}, http.StatusServiceUnavailable)
	assert.Equal(t, engine.ErrNotOperational.Code, errorCode(t, data))

	data = srv.call(t, http.MethodGet, "/operational", "", nil, http.StatusOK)
	var status OperationalResponse
	require.NoError(t, json.Unmarshal(data, &status))
	assert.False(t, status.Operational)
	assert.Equal(t, owner, status.Owner)
}

func TestAirlineAdmissionOverHTTP(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	srv.call(t, http.MethodPost, "/airlines/"+genesis+"/fund", genesis, map[string]any{"amount": "10"}, http.StatusOK)
	data := srv.call(t, http.MethodPost, "/airlines", genesis, map[string]any{"address": "airline-2", "name": "Second Air"}, http.StatusOK)
	var res engine.AdmissionResult
	require.NoError(t, json.Unmarshal(data, &res))
	assert.True(t, res.Admitted)

	data = srv.call(t, http.MethodGet, "/airlines/airline-2", "", nil, http.StatusOK)
	var airline AirlineResponse
	require.NoError(t, json.Unmarshal(data, &airline))
	assert.True(t, airline.Registered)
	assert.False(t, airline.Funded)
	assert.Empty(t, airline.Voters)

	data = srv.call(t, http.MethodGet, "/airlines?registered=true", "", nil, http.StatusOK)
	var list []domain.Airline
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list, 2)
}

func TestJWTAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/token", map[string]any{"caller": owner}, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var tok DevTokenResponse
	require.NoError(t, json.Unmarshal(data, &tok))
	require.NotEmpty(t, tok.Token)

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/operational", map[string]any{"operational": false},
		map[string]string{"Authorization": "Bearer " + tok.Token})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/operational", map[string]any{"operational": true},
		map[string]string{"Authorization": "Bearer not-a-token"})
	require.Equal(t, http.StatusUnauthorized, res.StatusCode, string(data))
	assert.Equal(t, "invalid_credentials", errorCode(t, data))

	forged, err := SignToken("other-secret", owner, 0)
	require.NoError(t, err)
	res, _ = doJSON(t, client, http.MethodPut, srv.URL+"/v0/operational", map[string]any{"operational": true},
		map[string]string{"Authorization": "Bearer " + forged})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestOpenAPIAndMetrics(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/openapi.json", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode)
	var oas map[string]any
	require.NoError(t, json.Unmarshal(data, &oas))
	paths, ok := oas["paths"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, paths, "/v0/oracle-responses")

	srv.call(t, http.MethodGet, "/health", "", nil, http.StatusOK)
	// request metrics are recorded after the response is flushed
	require.Eventually(t, func() bool {
		res, data := doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
		return res.StatusCode == http.StatusOK && bytes.Contains(data, []byte("flightsurety_http_requests_total"))
	}, 2*time.Second, 20*time.Millisecond)
}

func TestAPIKeyAuthentication(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	data := srv.call(t, http.MethodPost, "/api-keys", owner, map[string]any{"name": "ops laptop"}, http.StatusCreated)
	var created CreateAPIKeyResponse
	require.NoError(t, json.Unmarshal(data, &created))
	require.NotEmpty(t, created.Key)
	assert.Equal(t, owner, created.Caller)

	res, data := doJSON(t, client, http.MethodPut, srv.URL+"/v0/operational", map[string]any{"operational": false},
		map[string]string{apiKeyHeader: created.Key})
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))

	data = srv.call(t, http.MethodGet, "/api-keys", owner, nil, http.StatusOK)
	var keys []map[string]any
	require.NoError(t, json.Unmarshal(data, &keys))
	require.Len(t, keys, 1)
	assert.NotContains(t, keys[0], "key_hash")

	srv.call(t, http.MethodDelete, "/api-keys/"+created.ID, "mallory", nil, http.StatusForbidden)
	srv.call(t, http.MethodDelete, "/api-keys/"+created.ID, owner, nil, http.StatusNoContent)
	srv.call(t, http.MethodDelete, "/api-keys/"+created.ID, owner, nil, http.StatusNotFound)

	res, _ = doJSON(t, client, http.MethodPut, srv.URL+"/v0/operational", map[string]any{"operational": true},
		map[string]string{apiKeyHeader: created.Key})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}
