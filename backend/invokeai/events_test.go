package invokeai

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/genrelay/core"
)

func TestSplitEvent(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantName string
		wantArg  string
		wantErr  bool
	}{
		{name: "plain", body: `["invocation_complete",{"a":1}]`, wantName: "invocation_complete", wantArg: `{"a":1}`},
		{name: "ack id", body: `12["x",{"a":2}]`, wantName: "x", wantArg: `{"a":2}`},
		{name: "namespace", body: `/queue,["y"]`, wantName: "y"},
		{name: "not an array", body: `{"a":1}`, wantErr: true},
		{name: "no name", body: `[1,2]`, wantErr: true},
		{name: "broken", body: `["x",`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, arg, err := splitEvent(tt.body)
			if tt.wantErr {
				var de *core.DecodeError
				assert.True(t, errors.As(err, &de))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, name)
			assert.Equal(t, tt.wantArg, arg.Raw)
		})
	}
}

func TestTranslate(t *testing.T) {
	ev, ie, err := translate(EventInvocationComplete, gjson.Parse(`{"node":{"is_intermediate":false}}`))
	assert.Nil(t, ev)
	assert.Nil(t, ie)
	var de *core.DecodeError
	assert.True(t, errors.As(err, &de))

	ev, ie, err = translate(EventInvocationError, gjson.Parse(`{"queue_batch_id":"b","error":"oops"}`))
	require.NoError(t, err)
	require.NotNil(t, ie)
	assert.Equal(t, core.Failed{Handle: "b", Reason: "oops"}, ev)

	_, _, err = translate(EventInvocationError, gjson.Parse(`{"queue_batch_id":"b"}`))
	assert.Error(t, err)
}
