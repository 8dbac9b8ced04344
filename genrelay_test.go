package genrelay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/genrelay/backend/textgen"
	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/engine"
	"github.com/hupe1980/genrelay/internal/testutil"
	"github.com/hupe1980/genrelay/model"
)

func newTestRelay(t *testing.T, optFns ...func(o *Options)) (*Relay, *testutil.RecordingSender) {
	t.Helper()

	sender := testutil.NewRecordingSender()
	fns := append([]func(o *Options){func(o *Options) { o.Sender = sender }}, optFns...)
	r, err := New(fns...)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	return r, sender
}

func waitAttempts(t *testing.T, s *testutil.RecordingSender, n int) []testutil.Sent {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Attempts()) >= n }, 3*time.Second, 5*time.Millisecond)
	return s.Attempts()
}

func TestNew_RequiresSender(t *testing.T) {
	_, err := New()
	assert.Error(t, err)
}

func TestRelay_TextRoundTrip(t *testing.T) {
	r, sender := newTestRelay(t)

	m := model.NewMockModel("phi3", "mock")
	m.AddResponse("why is the sky blue", "Rayleigh scattering")
	r.Register(textgen.New("ollama", m))

	id := testutil.ID(-42, 7, 100)
	r.Submit(id, "ollama", "why is the sky blue")

	attempts := waitAttempts(t, sender, 1)
	assert.Equal(t, testutil.Sent{ConversationID: -42, ReplyTo: 100, Text: "Rayleigh scattering", Rich: true}, attempts[0])

	require.Eventually(t, func() bool {
		entries, err := r.History().Recent(context.Background(), -42, 0)
		return err == nil && len(entries) == 1 && entries[0].Delivered
	}, 3*time.Second, 5*time.Millisecond)
}

func TestRelay_EmptyPromptRejected(t *testing.T) {
	r, sender := newTestRelay(t)
	m := model.NewMockModel("phi3", "mock")
	r.Register(textgen.New("ollama", m))

	r.Submit(testutil.ID(1, 2, 3), "ollama", "")

	attempts := waitAttempts(t, sender, 1)
	assert.Equal(t, "Please add a prompt after the command", attempts[0].Text)
	assert.False(t, attempts[0].Rich)
	assert.Empty(t, m.Calls())

	stats, err := r.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.InFlight)
}

func TestRelay_ImageRoundTrip(t *testing.T) {
	r, sender := newTestRelay(t)

	image := testutil.NewFakeBackend("invokeai", core.KindImage, "images")
	image.Assets["cat.png"] = []byte("PNG")
	image.DispatchFunc = func(_ context.Context, req core.Request, n core.Notifier) error {
		n.Notify(core.Started{Handle: "batch-1", ID: req.ID, Backend: "invokeai"})
		r.Notifier().Notify(core.Progress{Handle: "batch-1"})
		r.Notifier().Notify(core.Finished{Handle: "batch-1", Result: core.RemoteAsset{Path: "cat.png"}})
		return nil
	}
	r.Register(image)

	id := testutil.ID(-9, 8, 7)
	r.Submit(id, "invokeai", "a cat")

	attempts := waitAttempts(t, sender, 1)
	assert.Equal(t, []byte("PNG"), attempts[0].Data)
	assert.EqualValues(t, 7, attempts[0].ReplyTo)

	stored, err := r.Artifacts().Get(-9, "batch-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("PNG"), stored)
}

func TestRelay_CustomCallbacksRunAfterValidation(t *testing.T) {
	var seen []string
	cbs := engine.NewCallbackManager()
	cbs.RegisterCallback(engine.NewFunctionCallback(engine.CallbackBeforeDispatch, func(_ context.Context, c *engine.CallbackContext) error {
		seen = append(seen, c.Prompt.Text)
		c.Prompt.Text = "rewritten"
		return nil
	}))

	r, sender := newTestRelay(t, func(o *Options) { o.Callbacks = cbs })
	m := model.NewMockModel("phi3", "mock")
	r.Register(textgen.New("ollama", m))

	r.Submit(testutil.ID(1, 1, 1), "ollama", "")
	r.Submit(testutil.ID(1, 1, 2), "ollama", "original")

	waitAttempts(t, sender, 2)
	assert.Equal(t, []string{"original"}, seen)
	require.Len(t, m.Calls(), 1)
	assert.Equal(t, "rewritten", m.Calls()[0].Prompt)
}

func TestRelay_Registry(t *testing.T) {
	r, _ := newTestRelay(t)

	families, err := r.Registry().Gather()
	require.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "genrelay_requests_in_flight")
}
