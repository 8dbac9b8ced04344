package core

import (
	"fmt"
	"sync"
)

// DefaultMaxInProgress is the per-submitter in-flight cap used when none is configured.
const DefaultMaxInProgress = 3

// Gate enforces a maximum number of admitted-but-not-terminal jobs per
// submitter. Counts never go negative: releasing an untracked submitter is a
// no-op and entries are dropped once they reach zero.
type Gate struct {
	max    int
	counts map[int64]int
	mu     sync.Mutex
}

// NewGate creates a gate with the given cap. max must be positive.
func NewGate(max int) (*Gate, error) {
	if max <= 0 {
		return nil, fmt.Errorf("max in progress must be positive, got %d", max)
	}
	return &Gate{max: max, counts: make(map[int64]int)}, nil
}

// Max returns the configured cap.
func (g *Gate) Max() int { return g.max }

// Admit reserves a slot for the submitter or returns ErrTooManyInProgress.
func (g *Gate) Admit(submitter int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	n := g.counts[submitter] + 1
	if n > g.max {
		return fmt.Errorf("%w: %d of %d", ErrTooManyInProgress, g.counts[submitter], g.max)
	}
	g.counts[submitter] = n

	return nil
}

// Release frees one slot and returns the remaining in-flight count.
func (g *Gate) Release(submitter int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	n, ok := g.counts[submitter]
	if !ok {
		return 0
	}
	if n <= 1 {
		delete(g.counts, submitter)
		return 0
	}
	g.counts[submitter] = n - 1

	return n - 1
}

// InFlight returns the current count for a submitter.
func (g *Gate) InFlight(submitter int64) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.counts[submitter]
}

// Total returns the sum of all in-flight jobs.
func (g *Gate) Total() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	total := 0
	for _, n := range g.counts {
		total += n
	}
	return total
}
