package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightsurety/internal/app"
	"flightsurety/internal/config"
	"flightsurety/internal/db"
	"flightsurety/internal/domain"
	"flightsurety/internal/engine"
)

const (
	owner   = "owner"
	genesis = "airline-genesis"
	dep     = int64(1_700_000_000)
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Clock  *time.Time
}

// stubIndexes hands every oracle the same indexes and every request the same index.
type stubIndexes struct {
	register []int
	request  int
}

func (s stubIndexes) Indexes(_, _ string, _ uint64, n, _ int) []int {
	if n == 1 {
		return []int{s.request}
	}
	return s.register
}

func newTestEnv(t *testing.T, mutate ...func(*config.Config)) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	require.NoError(t, err, "open db")
	t.Cleanup(func() { conn.Close() })
	cfg := config.Default(owner)
	for _, m := range mutate {
		m(cfg)
	}
	ctx := context.Background()
	installed, fresh, err := app.Install(ctx, conn, cfg)
	require.NoError(t, err, "install")
	require.True(t, fresh)
	eng := engine.New(conn, installed)
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	eng.Entropy = stubIndexes{register: []int{1, 4, 7}, request: 4}
	return testEnv{Engine: eng, Ctx: ctx, Clock: &clock}
}

func (env testEnv) fund(t *testing.T, address string) {
	t.Helper()
	_, err := env.Engine.FundAirline(env.Ctx, address, domain.Units(10), address)
	require.NoError(t, err, "fund %s", address)
}

func (env testEnv) propose(t *testing.T, address, proposer string) engine.AdmissionResult {
	t.Helper()
	res, err := env.Engine.ProposeAirline(env.Ctx, address, address+" Air", proposer)
	require.NoError(t, err, "propose %s by %s", address, proposer)
	return res
}

// bootstrap funds genesis and auto-admits airlines 2 to 4.
func (env testEnv) bootstrap(t *testing.T) {
	t.Helper()
	env.fund(t, genesis)
	for _, a := range []string{"airline-2", "airline-3", "airline-4"} {
		res := env.propose(t, a, genesis)
		require.True(t, res.Admitted, "%s should be auto-admitted", a)
	}
}

func TestGuardRestrictedToOwner(t *testing.T) {
	env := newTestEnv(t)
	op, err := env.Engine.IsOperational(env.Ctx)
	require.NoError(t, err)
	assert.True(t, op)

	err = env.Engine.SetOperatingStatus(env.Ctx, "mallory", false)
	require.ErrorIs(t, err, engine.ErrUnauthorized)
	assert.Equal(t, engine.KindUnauthorized, engine.KindOf(err))

	require.NoError(t, env.Engine.SetOperatingStatus(env.Ctx, owner, false))
	_, err = env.Engine.FundAirline(env.Ctx, genesis, domain.Units(10), genesis)
	require.ErrorIs(t, err, engine.ErrNotOperational)
	funded, err := env.Engine.IsAirlineFunded(env.Ctx, genesis)
	require.NoError(t, err)
	assert.False(t, funded, "paused platform must not accept funding")

	require.NoError(t, env.Engine.SetOperatingStatus(env.Ctx, owner, true))
	env.fund(t, genesis)
}

func TestProposerMustBeFunded(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.ProposeAirline(env.Ctx, "airline-2", "Second", genesis)
	require.ErrorIs(t, err, engine.ErrProposerNotFunded)
	registered, err := env.Engine.IsAirlineRegistered(env.Ctx, "airline-2")
	require.NoError(t, err)
	assert.False(t, registered)
	// a rejected proposal leaves no pending candidate behind
	_, err = env.Engine.GetAirline(env.Ctx, "airline-2")
	require.ErrorIs(t, err, engine.ErrAirlineNotFound)
}

func TestAdmissionNeedsFundedQuorumAfterBootstrap(t *testing.T) {
	env := newTestEnv(t)
	env.bootstrap(t)
	env.fund(t, "airline-2")
	env.fund(t, "airline-3")

	res := env.propose(t, "airline-5", genesis)
	assert.False(t, res.Admitted)
	assert.Equal(t, 1, res.Votes)
	assert.Equal(t, 2, res.Quorum, "three funded airlines need two votes")

	_, err := env.Engine.ProposeAirline(env.Ctx, "airline-5", "", genesis)
	require.ErrorIs(t, err, engine.ErrDuplicateVote)

	_, err = env.Engine.ProposeAirline(env.Ctx, "airline-5", "", "airline-4")
	require.ErrorIs(t, err, engine.ErrProposerNotFunded, "unfunded airlines cannot vote")

	res = env.propose(t, "airline-5", "airline-3")
	assert.True(t, res.Admitted)
	assert.True(t, res.Airline.Registered)
	assert.Equal(t, "airline-5 Air", res.Airline.Name)

	voters, err := env.Engine.PendingVotes(env.Ctx, "airline-5")
	require.NoError(t, err)
	assert.Empty(t, voters, "votes are cleared on admission")

	_, err = env.Engine.ProposeAirline(env.Ctx, "airline-5", "", "airline-2")
	require.ErrorIs(t, err, engine.ErrAirlineAlreadyRegistered)
}

func TestRegisteredQuorumBasis(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Governance.QuorumBasis = config.QuorumBasisRegistered })
	env.bootstrap(t)

	res := env.propose(t, "airline-5", genesis)
	assert.False(t, res.Admitted, "fifth airline needs multisig")
	assert.Equal(t, 2, res.Quorum)

	env.fund(t, "airline-2")
	res = env.propose(t, "airline-5", "airline-2")
	assert.True(t, res.Admitted)
}

func TestFundAirline(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.FundAirline(env.Ctx, genesis, domain.MustAmount("9.999"), genesis)
	require.ErrorIs(t, err, engine.ErrInsufficientFunding)
	assert.Equal(t, engine.KindCapacityExceeded, engine.KindOf(err))

	_, err = env.Engine.FundAirline(env.Ctx, "ghost", domain.Units(10), "ghost")
	require.ErrorIs(t, err, engine.ErrAirlineNotFound)

	a, err := env.Engine.FundAirline(env.Ctx, genesis, domain.Units(10), genesis)
	require.NoError(t, err)
	assert.True(t, a.Funded)
	a, err = env.Engine.FundAirline(env.Ctx, genesis, domain.Units(15), genesis)
	require.NoError(t, err)
	assert.True(t, a.Funded)
	assert.Equal(t, domain.Units(25), a.Funds, "excess funding is kept")
}

func TestFundAirlineRejectsOverflow(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.FundAirline(env.Ctx, genesis, domain.Units(5_000_000_000), genesis)
	require.NoError(t, err)
	_, err = env.Engine.FundAirline(env.Ctx, genesis, domain.Units(5_000_000_000), genesis)
	require.ErrorIs(t, err, engine.ErrFundsOverflow)
	assert.Equal(t, engine.KindCapacityExceeded, engine.KindOf(err))

	a, err := env.Engine.GetAirline(env.Ctx, genesis)
	require.NoError(t, err)
	assert.Equal(t, domain.Units(5_000_000_000), a.Funds)
}

func TestRegisterFlight(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.RegisterFlight(env.Ctx, genesis, "AB100", dep)
	require.ErrorIs(t, err, engine.ErrAirlineNotFunded)
	_, err = env.Engine.RegisterFlight(env.Ctx, "ghost", "AB100", dep)
	require.ErrorIs(t, err, engine.ErrAirlineNotFound)

	env.fund(t, genesis)
	f, err := env.Engine.RegisterFlight(env.Ctx, genesis, " ab100 ", dep)
	require.NoError(t, err)
	assert.Equal(t, "AB100", f.Code)
	assert.Equal(t, domain.StatusUnknown, f.Status)

	_, err = env.Engine.RegisterFlight(env.Ctx, genesis, "AB100", dep)
	require.ErrorIs(t, err, engine.ErrFlightAlreadyRegistered)

	ok, err := env.Engine.IsRegisteredFlight(env.Ctx, genesis, "ab100", dep)
	require.NoError(t, err)
	assert.True(t, ok)

	flights, err := env.Engine.ListFlights(env.Ctx, genesis)
	require.NoError(t, err)
	assert.Len(t, flights, 1)
}

func TestPendingAirlineCanRegisterFlightOnceFunded(t *testing.T) {
	env := newTestEnv(t)
	env.bootstrap(t)
	env.fund(t, "airline-2")
	env.fund(t, "airline-3")

	res := env.propose(t, "airline-6", "airline-2")
	require.False(t, res.Admitted)

	_, err := env.Engine.RegisterFlight(env.Ctx, "airline-6", "ZZ1", dep)
	require.ErrorIs(t, err, engine.ErrAirlineNotFunded)

	env.fund(t, "airline-6")
	registered, err := env.Engine.IsAirlineRegistered(env.Ctx, "airline-6")
	require.NoError(t, err)
	assert.False(t, registered)

	f, err := env.Engine.RegisterFlight(env.Ctx, "airline-6", "ZZ1", dep)
	require.NoError(t, err)
	assert.Equal(t, "airline-6", f.Airline)
}

func TestBuyPreconditions(t *testing.T) {
	env := newTestEnv(t)
	env.fund(t, genesis)
	_, err := env.Engine.Buy(env.Ctx, "pax", genesis, "AB100", dep, "Pax", domain.MustAmount("0.5"))
	require.ErrorIs(t, err, engine.ErrFlightNotFound)

	_, err = env.Engine.RegisterFlight(env.Ctx, genesis, "AB100", dep)
	require.NoError(t, err)

	_, err = env.Engine.Buy(env.Ctx, "pax", genesis, "AB100", dep, "Pax", domain.MustAmount("1.000000001"))
	require.ErrorIs(t, err, engine.ErrPremiumExceedsCap)
	_, err = env.Engine.Buy(env.Ctx, "pax", genesis, "AB100", dep, "Pax", 0)
	require.ErrorIs(t, err, engine.ErrInvalidAmount)

	p, err := env.Engine.Buy(env.Ctx, "pax", genesis, "AB100", dep, "Pax", domain.Units(1))
	require.NoError(t, err)
	assert.NotEmpty(t, p.ID)
	assert.Zero(t, p.PayoutCredit)

	_, err = env.Engine.Buy(env.Ctx, "pax", genesis, "AB100", dep, "Pax", domain.MustAmount("0.1"))
	require.ErrorIs(t, err, engine.ErrAlreadyInsured)

	insured, err := env.Engine.IsInsuredPassenger(env.Ctx, "pax", genesis, "AB100", dep)
	require.NoError(t, err)
	assert.True(t, insured)
}

// readyFlight funds genesis, registers AB100 and opens a status request.
func (env testEnv) readyFlight(t *testing.T, oracles ...string) domain.OracleRequest {
	t.Helper()
	env.fund(t, genesis)
	_, err := env.Engine.RegisterFlight(env.Ctx, genesis, "AB100", dep)
	require.NoError(t, err)
	for _, o := range oracles {
		_, err := env.Engine.RegisterOracle(env.Ctx, o, domain.Units(1))
		require.NoError(t, err, "register oracle %s", o)
	}
	req, err := env.Engine.FetchFlightStatus(env.Ctx, "pax", genesis, "AB100", dep)
	require.NoError(t, err)
	require.Equal(t, 4, req.Index)
	return req
}

func TestInsuranceScenario(t *testing.T) {
	env := newTestEnv(t)
	env.bootstrap(t)
	req := env.readyFlight(t, "oracle-1", "oracle-2", "oracle-3", "oracle-4")

	_, err := env.Engine.Buy(env.Ctx, "pax", genesis, "AB100", dep, "Pax", domain.MustAmount("0.5"))
	require.NoError(t, err)

	for i, o := range []string{"oracle-1", "oracle-2", "oracle-3"} {
		res, err := env.Engine.SubmitOracleResponse(env.Ctx, o, req.Index, genesis, "AB100", dep, domain.StatusLateAirline)
		require.NoError(t, err)
		assert.Equal(t, i+1, res.Count)
		assert.Equal(t, i == 2, res.Resolved)
	}

	f, err := env.Engine.GetFlight(env.Ctx, genesis, "AB100", dep)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusLateAirline, f.Status)

	credit, err := env.Engine.Credit(env.Ctx, "pax")
	require.NoError(t, err)
	assert.Equal(t, domain.MustAmount("0.75"), credit)

	_, err = env.Engine.SubmitOracleResponse(env.Ctx, "oracle-4", req.Index, genesis, "AB100", dep, domain.StatusLateAirline)
	require.ErrorIs(t, err, engine.ErrAlreadyResolved)

	paid, err := env.Engine.Withdraw(env.Ctx, "pax")
	require.NoError(t, err)
	assert.Equal(t, domain.MustAmount("0.75"), paid)
	credit, err = env.Engine.Credit(env.Ctx, "pax")
	require.NoError(t, err)
	assert.Zero(t, credit)
	bal, err := env.Engine.Balance(env.Ctx, "pax")
	require.NoError(t, err)
	assert.Equal(t, domain.MustAmount("0.75"), bal)

	_, err = env.Engine.Withdraw(env.Ctx, "pax")
	require.ErrorIs(t, err, engine.ErrNoCredit)
	assert.Equal(t, engine.KindNoCredit, engine.KindOf(err))

	resolved, err := env.Engine.LatestEvents(env.Ctx, 10, "flight.status.resolved", "", "")
	require.NoError(t, err)
	require.Len(t, resolved, 1)
}

func TestOnTimeResolutionDoesNotCredit(t *testing.T) {
	env := newTestEnv(t)
	req := env.readyFlight(t, "oracle-1", "oracle-2", "oracle-3")
	_, err := env.Engine.Buy(env.Ctx, "pax", genesis, "AB100", dep, "Pax", domain.MustAmount("0.5"))
	require.NoError(t, err)
	for _, o := range []string{"oracle-1", "oracle-2", "oracle-3"} {
		_, err := env.Engine.SubmitOracleResponse(env.Ctx, o, req.Index, genesis, "AB100", dep, domain.StatusOnTime)
		require.NoError(t, err)
	}
	credit, err := env.Engine.Credit(env.Ctx, "pax")
	require.NoError(t, err)
	assert.Zero(t, credit)
	_, err = env.Engine.Withdraw(env.Ctx, "pax")
	require.ErrorIs(t, err, engine.ErrNoCredit)
}

func TestSubmitOracleResponseRejections(t *testing.T) {
	env := newTestEnv(t)
	req := env.readyFlight(t, "oracle-1")

	_, err := env.Engine.RegisterOracle(env.Ctx, "oracle-1", domain.Units(1))
	require.ErrorIs(t, err, engine.ErrOracleAlreadyRegistered)
	_, err = env.Engine.RegisterOracle(env.Ctx, "cheap", domain.MustAmount("0.5"))
	require.ErrorIs(t, err, engine.ErrInsufficientFee)

	_, err = env.Engine.SubmitOracleResponse(env.Ctx, "stranger", req.Index, genesis, "AB100", dep, domain.StatusOnTime)
	require.ErrorIs(t, err, engine.ErrOracleNotRegistered)
	_, err = env.Engine.SubmitOracleResponse(env.Ctx, "oracle-1", 2, genesis, "AB100", dep, domain.StatusOnTime)
	require.ErrorIs(t, err, engine.ErrIndexMismatch)
	_, err = env.Engine.SubmitOracleResponse(env.Ctx, "oracle-1", 7, genesis, "AB100", dep, domain.StatusOnTime)
	require.ErrorIs(t, err, engine.ErrUnknownRequest)
	_, err = env.Engine.SubmitOracleResponse(env.Ctx, "oracle-1", req.Index, genesis, "AB100", dep, domain.StatusCode(25))
	require.ErrorIs(t, err, engine.ErrInvalidStatus)

	_, err = env.Engine.SubmitOracleResponse(env.Ctx, "oracle-1", req.Index, genesis, "AB100", dep, domain.StatusOnTime)
	require.NoError(t, err)
	_, err = env.Engine.SubmitOracleResponse(env.Ctx, "oracle-1", req.Index, genesis, "AB100", dep, domain.StatusLateWeather)
	require.ErrorIs(t, err, engine.ErrDuplicateResponse)
	assert.Equal(t, engine.KindIdempotency, engine.KindOf(err))

	got, err := env.Engine.GetRequest(env.Ctx, req.ID)
	require.NoError(t, err)
	assert.False(t, got.Resolved)
	assert.Equal(t, map[domain.StatusCode]int{domain.StatusOnTime: 1}, got.Tally)

	idx, err := env.Engine.GetMyIndexes(env.Ctx, "oracle-1")
	require.NoError(t, err)
	assert.Equal(t, [3]int{1, 4, 7}, idx)
}

func TestSplitResponsesNeedThresholdOnOneStatus(t *testing.T) {
	env := newTestEnv(t)
	req := env.readyFlight(t, "o1", "o2", "o3", "o4", "o5")
	submit := func(o string, s domain.StatusCode) engine.SubmitResult {
		res, err := env.Engine.SubmitOracleResponse(env.Ctx, o, req.Index, genesis, "AB100", dep, s)
		require.NoError(t, err)
		return res
	}
	assert.False(t, submit("o1", domain.StatusOnTime).Resolved)
	assert.False(t, submit("o2", domain.StatusLateWeather).Resolved)
	assert.False(t, submit("o3", domain.StatusOnTime).Resolved)
	assert.False(t, submit("o4", domain.StatusLateWeather).Resolved)
	assert.True(t, submit("o5", domain.StatusOnTime).Resolved)

	f, err := env.Engine.GetFlight(env.Ctx, genesis, "AB100", dep)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOnTime, f.Status)
}

func TestResolvedRequestReopensAndNeverRecredits(t *testing.T) {
	env := newTestEnv(t)
	req := env.readyFlight(t, "o1", "o2", "o3")
	_, err := env.Engine.Buy(env.Ctx, "pax", genesis, "AB100", dep, "Pax", domain.MustAmount("0.5"))
	require.NoError(t, err)
	for _, o := range []string{"o1", "o2", "o3"} {
		_, err := env.Engine.SubmitOracleResponse(env.Ctx, o, req.Index, genesis, "AB100", dep, domain.StatusLateAirline)
		require.NoError(t, err)
	}
	_, err = env.Engine.Withdraw(env.Ctx, "pax")
	require.NoError(t, err)

	again, err := env.Engine.FetchFlightStatus(env.Ctx, "pax", genesis, "AB100", dep)
	require.NoError(t, err)
	assert.Equal(t, req.ID, again.ID)
	assert.False(t, again.Resolved)

	for _, o := range []string{"o1", "o2", "o3"} {
		_, err := env.Engine.SubmitOracleResponse(env.Ctx, o, req.Index, genesis, "AB100", dep, domain.StatusLateAirline)
		require.NoError(t, err)
	}
	credit, err := env.Engine.Credit(env.Ctx, "pax")
	require.NoError(t, err)
	assert.Zero(t, credit, "a withdrawn policy is never credited again")
}

func TestRequestExpiry(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Oracles.RequestTTL = time.Hour })
	clock := env.Clock
	env.Engine.Now = func() time.Time { return *clock }
	req := env.readyFlight(t, "o1", "o2")

	*clock = clock.Add(2 * time.Hour)
	_, err := env.Engine.SubmitOracleResponse(env.Ctx, "o1", req.Index, genesis, "AB100", dep, domain.StatusOnTime)
	require.ErrorIs(t, err, engine.ErrRequestExpired)

	_, err = env.Engine.FetchFlightStatus(env.Ctx, "pax", genesis, "AB100", dep)
	require.NoError(t, err)
	_, err = env.Engine.SubmitOracleResponse(env.Ctx, "o1", req.Index, genesis, "AB100", dep, domain.StatusOnTime)
	require.NoError(t, err)
}

type failingPayer struct{}

func (failingPayer) Transfer(context.Context, string, domain.Amount) error {
	return errors.New("wallet offline")
}

func TestWithdrawRestoresCreditWhenTransferFails(t *testing.T) {
	env := newTestEnv(t)
	req := env.readyFlight(t, "o1", "o2", "o3")
	_, err := env.Engine.Buy(env.Ctx, "pax", genesis, "AB100", dep, "Pax", domain.Units(1))
	require.NoError(t, err)
	for _, o := range []string{"o1", "o2", "o3"} {
		_, err := env.Engine.SubmitOracleResponse(env.Ctx, o, req.Index, genesis, "AB100", dep, domain.StatusLateAirline)
		require.NoError(t, err)
	}

	broken := env.Engine
	broken.Payer = failingPayer{}
	_, err = broken.Withdraw(env.Ctx, "pax")
	require.Error(t, err)

	credit, err := env.Engine.Credit(env.Ctx, "pax")
	require.NoError(t, err)
	assert.Equal(t, domain.MustAmount("1.5"), credit)

	paid, err := env.Engine.Withdraw(env.Ctx, "pax")
	require.NoError(t, err)
	assert.Equal(t, domain.MustAmount("1.5"), paid)
}

func TestAPIKeysWorkWhilePaused(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.Engine.SetOperatingStatus(env.Ctx, owner, false))

	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, "passenger-1", "phone")
	require.NoError(t, err)
	assert.NotEqual(t, secret, key.KeyHash)

	caller, err := env.Engine.AuthenticateAPIKey(env.Ctx, secret)
	require.NoError(t, err)
	assert.Equal(t, "passenger-1", caller)

	_, err = env.Engine.AuthenticateAPIKey(env.Ctx, secret+"x")
	require.ErrorIs(t, err, engine.ErrAPIKeyNotFound)

	err = env.Engine.RevokeAPIKey(env.Ctx, "passenger-2", key.ID)
	require.ErrorIs(t, err, engine.ErrUnauthorized)
	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, owner, key.ID))
	_, err = env.Engine.AuthenticateAPIKey(env.Ctx, secret)
	require.ErrorIs(t, err, engine.ErrAPIKeyNotFound)
}
