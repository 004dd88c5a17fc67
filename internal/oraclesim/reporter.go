package oraclesim

import (
	"math/rand"
	"sync"

	"flightsurety/internal/domain"
)

// Reporter decides what status an oracle reports for a request.
type Reporter interface {
	Report(oracle string, req Request) domain.StatusCode
}

// FixedReporter always reports the same status.
type FixedReporter struct {
	Status domain.StatusCode
}

func (f FixedReporter) Report(string, Request) domain.StatusCode {
	return f.Status
}

// RandomReporter picks uniformly among the reportable statuses.
type RandomReporter struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewRandomReporter(seed int64) *RandomReporter {
	return &RandomReporter{rng: rand.New(rand.NewSource(seed))}
}

func (r *RandomReporter) Report(string, Request) domain.StatusCode {
	codes := domain.StatusCodes()
	r.mu.Lock()
	defer r.mu.Unlock()
	return codes[r.rng.Intn(len(codes))]
}
