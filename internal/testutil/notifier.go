package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/genrelay/core"
)

// EventRecorder is a core.Notifier that keeps every event in arrival order.
type EventRecorder struct {
	mu     sync.Mutex
	events []core.Event
}

var _ core.Notifier = (*EventRecorder)(nil)

// Notify implements core.Notifier.
func (r *EventRecorder) Notify(ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a snapshot.
func (r *EventRecorder) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Event, len(r.events))
	copy(out, r.events)
	return out
}

// WaitFor blocks until at least n events arrived and returns them.
func (r *EventRecorder) WaitFor(t testing.TB, n int) []core.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(r.Events()) >= n }, 3*time.Second, 5*time.Millisecond,
		"expected %d events", n)
	return r.Events()
}
