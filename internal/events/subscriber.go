package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"flightsurety/internal/domain"
	"flightsurety/internal/repo"
)

const (
	defaultPollInterval = 500 * time.Millisecond
	defaultBatch        = 100
)

// Handler receives one event. An error stops the current batch; the event is
// retried on the next poll.
type Handler func(ctx context.Context, evt domain.Event) error

// Subscriber polls the event log after a cursor and hands matching events to
// a handler in commit order.
type Subscriber struct {
	Repo     repo.Repo
	Types    []string
	Interval time.Duration
	Batch    int
	Logger   zerolog.Logger

	mu      sync.Mutex
	cursor  int64
	started bool
}

// FromStart makes the subscriber replay the whole log instead of starting at
// the latest event.
func (s *Subscriber) FromStart() {
	s.mu.Lock()
	s.cursor = 0
	s.started = true
	s.mu.Unlock()
}

func (s *Subscriber) Cursor() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Subscriber) initCursor(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	cur, err := s.Repo.LatestEventID(ctx, s.Repo.DB)
	if err != nil {
		return err
	}
	s.cursor = cur
	s.started = true
	return nil
}

func (s *Subscriber) setCursor(v int64) {
	s.mu.Lock()
	s.cursor = v
	s.mu.Unlock()
}

// Poll delivers one batch and returns how many events were handled.
func (s *Subscriber) Poll(ctx context.Context, h Handler) (int, error) {
	if err := s.initCursor(ctx); err != nil {
		return 0, err
	}
	batch := s.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	evts, err := s.Repo.EventsAfter(ctx, s.Repo.DB, batch, s.Cursor(), s.Types...)
	if err != nil {
		return 0, err
	}
	for i, evt := range evts {
		if err := h(ctx, evt); err != nil {
			return i, err
		}
		s.setCursor(evt.ID)
	}
	return len(evts), nil
}

// Run polls until ctx is done.
func (s *Subscriber) Run(ctx context.Context, h Handler) error {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.Poll(ctx, h); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			s.Logger.Warn().Err(err).Int64("cursor", s.Cursor()).Msg("event poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Decode unmarshals an event payload into v.
func Decode(evt domain.Event, v any) error {
	if evt.Payload == "" {
		return nil
	}
	return json.Unmarshal([]byte(evt.Payload), v)
}
