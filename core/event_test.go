package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifier_String(t *testing.T) {
	id := Identifier{ConversationID: -100, SubmitterID: 7, MessageID: 31}
	assert.Equal(t, "Identifier(-100-7-31)", id.String())
}

func TestEventName(t *testing.T) {
	cases := map[string]Event{
		"requested": Requested{},
		"started":   Started{},
		"progress":  Progress{},
		"finished":  Finished{},
		"failed":    Failed{},
	}
	for want, ev := range cases {
		assert.Equal(t, want, EventName(ev))
	}
}

func TestEvent_Keying(t *testing.T) {
	id := Identifier{ConversationID: 1, SubmitterID: 2, MessageID: 3}

	assert.True(t, Finished{Handle: "b1"}.ByHandle())
	assert.False(t, Finished{ID: id, Result: TextResult{Text: "hi"}}.ByHandle())

	f := Failed{Handle: "b1"}
	assert.True(t, f.ByHandle())
	assert.False(t, f.HasID())
	assert.True(t, Failed{Handle: "b1", ID: id}.HasID())
}

func TestOutcomeKind(t *testing.T) {
	assert.Equal(t, "text", OutcomeKind(TextOutcome{}))
	assert.Equal(t, "asset", OutcomeKind(AssetOutcome{}))
	assert.Equal(t, "failure", OutcomeKind(FailureOutcome{}))
}

func TestTypedErrors_Unwrap(t *testing.T) {
	base := errors.New("connection refused")

	var te *TransportError
	err := fmt.Errorf("enqueue: %w", &TransportError{Op: "POST enqueue", Err: base})
	assert.True(t, errors.As(err, &te))
	assert.ErrorIs(t, err, base)

	var de *DecodeError
	assert.True(t, errors.As(&DecodeError{What: "job-update", Err: base}, &de))

	var pe *ProtocolError
	assert.True(t, errors.As(&ProtocolError{Stage: "subscribe", Err: base}, &pe))
	assert.Contains(t, pe.Error(), "subscribe")
}
