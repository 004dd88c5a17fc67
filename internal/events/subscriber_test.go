package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flightsurety/internal/db"
	"flightsurety/internal/domain"
	"flightsurety/internal/migrate"
	"flightsurety/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	return repo.Repo{DB: conn}
}

func appendEvent(t *testing.T, r repo.Repo, evtType, id string) {
	t.Helper()
	w := Writer{Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	require.NoError(t, w.Append(context.Background(), r.DB, evtType, "flight", id, "tester", EventPayload{"id": id}))
}

func collect(into *[]domain.Event) Handler {
	return func(_ context.Context, evt domain.Event) error {
		*into = append(*into, evt)
		return nil
	}
}

func TestWriterAppend(t *testing.T) {
	r := newRepo(t)
	appendEvent(t, r, FlightRegistered, "f1")
	evts, err := r.LatestEvents(context.Background(), r.DB, 10, "", "", "")
	require.NoError(t, err)
	require.Len(t, evts, 1)
	assert.Equal(t, FlightRegistered, evts[0].Type)
	assert.Equal(t, "2024-01-01T00:00:00Z", evts[0].TS)

	var payload struct {
		ID string `json:"id"`
	}
	require.NoError(t, Decode(evts[0], &payload))
	assert.Equal(t, "f1", payload.ID)
}

func TestSubscriberStartsAtLatest(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	appendEvent(t, r, OracleRequestIssued, "old")

	sub := &Subscriber{Repo: r, Types: []string{OracleRequestIssued}}
	var got []domain.Event
	n, err := sub.Poll(ctx, collect(&got))
	require.NoError(t, err)
	assert.Zero(t, n, "events before the first poll are skipped")

	appendEvent(t, r, FlightRegistered, "other")
	appendEvent(t, r, OracleRequestIssued, "new")
	n, err = sub.Poll(ctx, collect(&got))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].EntityID)
	assert.Equal(t, got[0].ID, sub.Cursor())
}

func TestSubscriberFromStartReplays(t *testing.T) {
	r := newRepo(t)
	for _, id := range []string{"a", "b", "c"} {
		appendEvent(t, r, FlightStatusResolved, id)
	}
	sub := &Subscriber{Repo: r, Batch: 2}
	sub.FromStart()
	var got []domain.Event
	n, err := sub.Poll(context.Background(), collect(&got))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = sub.Poll(context.Background(), collect(&got))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{got[0].EntityID, got[1].EntityID, got[2].EntityID})
}

func TestSubscriberRetriesFailedEvent(t *testing.T) {
	r := newRepo(t)
	appendEvent(t, r, PolicyCredited, "p1")
	appendEvent(t, r, PolicyCredited, "p2")
	sub := &Subscriber{Repo: r}
	sub.FromStart()

	failOnce := true
	var seen []string
	h := func(_ context.Context, evt domain.Event) error {
		if evt.EntityID == "p2" && failOnce {
			failOnce = false
			return errors.New("boom")
		}
		seen = append(seen, evt.EntityID)
		return nil
	}
	n, err := sub.Poll(context.Background(), h)
	require.Error(t, err)
	assert.Equal(t, 1, n)
	n, err = sub.Poll(context.Background(), h)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"p1", "p2"}, seen)
}

func TestSubscriberRunStopsOnCancel(t *testing.T) {
	r := newRepo(t)
	sub := &Subscriber{Repo: r, Interval: 5 * time.Millisecond}
	sub.FromStart()
	ctx, cancel := context.WithCancel(context.Background())
	delivered := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- sub.Run(ctx, func(_ context.Context, evt domain.Event) error {
			delivered <- evt.EntityID
			return nil
		})
	}()
	appendEvent(t, r, AirlineFunded, "air-1")
	select {
	case id := <-delivered:
		assert.Equal(t, "air-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not stop")
	}
}
