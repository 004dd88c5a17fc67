package engine_test

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightsurety/internal/domain"
	"flightsurety/internal/engine"
)

func TestConcurrentResponsesResolveOnce(t *testing.T) {
	env := newTestEnv(t)
	oracles := make([]string, 12)
	for i := range oracles {
		oracles[i] = fmt.Sprintf("oracle-%02d", i)
	}
	req := env.readyFlight(t, oracles...)
	_, err := env.Engine.Buy(env.Ctx, "pax", genesis, "AB100", dep, "Pax", domain.MustAmount("0.5"))
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		resolved int
		late     int
	)
	for _, o := range oracles {
		// each oracle submits twice to exercise duplicate handling under contention
		for n := 0; n < 2; n++ {
			wg.Add(1)
			go func(o string) {
				defer wg.Done()
				res, err := env.Engine.SubmitOracleResponse(env.Ctx, o, req.Index, genesis, "AB100", dep, domain.StatusLateAirline)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil && res.Resolved:
					resolved++
				case err == nil:
				case engine.KindOf(err) == engine.KindIdempotency:
					late++
				default:
					t.Errorf("unexpected error from %s: %v", o, err)
				}
			}(o)
		}
	}
	wg.Wait()

	assert.Equal(t, 1, resolved, "exactly one response resolves the request")
	assert.Equal(t, 2*len(oracles)-3, late, "everything after the third accepted response is rejected")

	credit, err := env.Engine.Credit(env.Ctx, "pax")
	require.NoError(t, err)
	assert.Equal(t, domain.MustAmount("0.75"), credit)

	evts, err := env.Engine.LatestEvents(env.Ctx, 50, "policy.credited", "", "")
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}
