package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hupe1980/genrelay/core"
)

// ID builds an identifier with the given parts.
func ID(conversation, submitter, message int64) core.Identifier {
	return core.Identifier{ConversationID: conversation, SubmitterID: submitter, MessageID: message}
}

// Delivered is one recorded delivery.
type Delivered struct {
	ID      core.Identifier
	Outcome core.Outcome
}

// RecordingDeliverer records every outcome it receives.
type RecordingDeliverer struct {
	mu    sync.Mutex
	items []Delivered
}

// NewRecordingDeliverer creates an empty recorder.
func NewRecordingDeliverer() *RecordingDeliverer { return &RecordingDeliverer{} }

// Deliver records the outcome.
func (d *RecordingDeliverer) Deliver(_ context.Context, id core.Identifier, outcome core.Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.items = append(d.items, Delivered{ID: id, Outcome: outcome})
}

// All returns a snapshot of the recorded deliveries.
func (d *RecordingDeliverer) All() []Delivered {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Delivered, len(d.items))
	copy(out, d.items)
	return out
}

// For returns the deliveries addressed to the given request.
func (d *RecordingDeliverer) For(id core.Identifier) []Delivered {
	var out []Delivered
	for _, item := range d.All() {
		if item.ID == id {
			out = append(out, item)
		}
	}
	return out
}

// WaitFor blocks until at least n deliveries were recorded and returns them.
func (d *RecordingDeliverer) WaitFor(t testing.TB, n int) []Delivered {
	t.Helper()
	require.Eventually(t, func() bool { return len(d.All()) >= n }, 3*time.Second, 5*time.Millisecond,
		"expected %d deliveries", n)
	return d.All()
}
