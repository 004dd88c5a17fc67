package flightsuretysdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightsurety/internal/app"
	"flightsurety/internal/config"
	"flightsurety/internal/db"
	"flightsurety/internal/engine"
	"flightsurety/internal/server"
)

type pinnedIndexes struct{}

func (pinnedIndexes) Indexes(_, _ string, _ uint64, n, _ int) []int {
	if n == 1 {
		return []int{2}
	}
	return []int{0, 2, 5}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	cfg, _, err := app.Install(context.Background(), conn, config.Default("owner"))
	require.NoError(t, err)
	e := engine.New(conn, cfg)
	e.Entropy = pinnedIndexes{}
	handler, err := server.New(server.Config{Engine: e, Auth: server.AuthConfig{JWTSecret: "sdk-secret", DevMode: true}})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL)
}

func TestClientInsuranceFlow(t *testing.T) {
	ctx := context.Background()
	c := newTestClient(t)
	airline := c.As("airline-genesis")

	_, err := airline.FundAirline(ctx, "airline-genesis", "10")
	require.NoError(t, err)
	flight, err := airline.RegisterFlight(ctx, "sd1", 1_700_000_000)
	require.NoError(t, err)
	assert.Equal(t, "SD1", flight.Code)

	policy, err := c.As("pax").Buy(ctx, "airline-genesis", "SD1", 1_700_000_000, "Pax", "1")
	require.NoError(t, err)
	assert.Equal(t, "1", policy.AmountPaid)

	oracles := []string{"o1", "o2", "o3"}
	for _, o := range oracles {
		reg, err := c.As(o).RegisterOracle(ctx, "1")
		require.NoError(t, err)
		assert.Equal(t, [3]int{0, 2, 5}, reg.Indexes)
	}
	req, err := c.As("pax").FetchFlightStatus(ctx, "airline-genesis", "SD1", 1_700_000_000)
	require.NoError(t, err)
	for _, o := range oracles {
		_, err := c.As(o).SubmitOracleResponse(ctx, req.Index, "airline-genesis", "SD1", 1_700_000_000, 20)
		require.NoError(t, err)
	}

	pp, err := c.Policies(ctx, "pax")
	require.NoError(t, err)
	assert.Equal(t, "1.5", pp.Credit)

	amount, err := c.As("pax").Withdraw(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1.5", amount)

	_, err = c.As("pax").Withdraw(ctx)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "no_credit", apiErr.Code)

	page, err := c.EventsAfter(ctx, "0", 100, "flight.status.resolved")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.EqualValues(t, 20, page.Items[0].Payload["status_code"])
}

func TestClientRequiresCaller(t *testing.T) {
	c := newTestClient(t)
	err := c.SetOperational(context.Background(), false)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	key, err := c.As("owner").CreateAPIKey(context.Background(), "sdk")
	require.NoError(t, err)
	withKey := New(c.BaseURL)
	withKey.APIKey = key
	require.NoError(t, withKey.SetOperational(context.Background(), false))
	op, err := c.Operational(context.Background())
	require.NoError(t, err)
	assert.False(t, op)
}
