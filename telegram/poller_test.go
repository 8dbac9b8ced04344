package telegram

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/genrelay/core"
)

type submission struct {
	ID      core.Identifier
	Backend string
	Prompt  string
}

type recordingSubmitter struct {
	mu   sync.Mutex
	subs []submission
}

func (r *recordingSubmitter) Submit(id core.Identifier, backend, prompt string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, submission{ID: id, Backend: backend, Prompt: prompt})
}

func (r *recordingSubmitter) all() []submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submission(nil), r.subs...)
}

// replyRecorder is a fake sendMessage endpoint.
type replyRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (rr *replyRecorder) handler(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)
	rr.mu.Lock()
	rr.texts = append(rr.texts, payload.Text)
	rr.mu.Unlock()
	_, _ = io.WriteString(w, `{"ok":true,"result":{}}`)
}

func (rr *replyRecorder) all() []string {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	return append([]string(nil), rr.texts...)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		text   string
		bot    string
		want   Command
		wantOK bool
	}{
		{text: "/hey how are you", want: Command{Name: "hey", Args: "how are you"}, wantOK: true},
		{text: "  /AIMG  a cat ", want: Command{Name: "aimg", Args: "a cat"}, wantOK: true},
		{text: "/draw@relay_bot a dog", bot: "relay_bot", want: Command{Name: "draw", Args: "a dog"}, wantOK: true},
		{text: "/draw@other_bot a dog", bot: "relay_bot", wantOK: false},
		{text: "/hey\nmultiline prompt", want: Command{Name: "hey", Args: "multiline prompt"}, wantOK: true},
		{text: "/help", want: Command{Name: "help"}, wantOK: true},
		{text: "hello /hey", wantOK: false},
		{text: "/", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, ok := ParseCommand(tt.text, tt.bot)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestPoller_RoutesCommands(t *testing.T) {
	sub := &recordingSubmitter{}
	p := NewPoller(NewClient(testToken), sub)

	msg := func(id int64, text string) *Message {
		return &Message{MessageID: id, From: &User{ID: 7}, Chat: Chat{ID: -1}, Text: text}
	}

	p.HandleMessage(context.Background(), msg(1, "/aimg a red fox"))
	p.HandleMessage(context.Background(), msg(2, "/oi what's up"))
	p.HandleMessage(context.Background(), msg(3, "/claude hi"))
	p.HandleMessage(context.Background(), msg(4, "/unknown x"))
	p.HandleMessage(context.Background(), msg(5, "no command"))
	p.HandleMessage(context.Background(), &Message{MessageID: 6, Chat: Chat{ID: -1}, Text: "/hey orphan"})

	assert.Equal(t, []submission{
		{ID: core.Identifier{ConversationID: -1, SubmitterID: 7, MessageID: 1}, Backend: "invokeai", Prompt: "a red fox"},
		{ID: core.Identifier{ConversationID: -1, SubmitterID: 7, MessageID: 2}, Backend: "ollama", Prompt: "what's up"},
		{ID: core.Identifier{ConversationID: -1, SubmitterID: 7, MessageID: 3}, Backend: "anthropic", Prompt: "hi"},
	}, sub.all())
}

func TestPoller_AdminOverrides(t *testing.T) {
	replies := &replyRecorder{}
	client := newTestClient(t, replies.handler)
	sub := &recordingSubmitter{}
	p := NewPoller(client, sub, func(o *PollerOptions) { o.AdminID = 1 })

	victim := &User{ID: 50, Username: "bob"}
	target := &Message{MessageID: 10, From: victim, Chat: Chat{ID: -1}, Text: "lol"}

	// Non-admins cannot clown.
	p.HandleMessage(context.Background(), &Message{MessageID: 11, From: &User{ID: 2}, Chat: Chat{ID: -1}, Text: "/clown", ReplyToMessage: target})
	_, clowned := p.Overrides().Get(50)
	assert.False(t, clowned)

	p.HandleMessage(context.Background(), &Message{MessageID: 12, From: &User{ID: 1}, Chat: Chat{ID: -1}, Text: "/clown", ReplyToMessage: target})
	prompt, clowned := p.Overrides().Get(50)
	require.True(t, clowned)
	assert.Equal(t, DefaultOverridePrompt, prompt)

	p.HandleMessage(context.Background(), &Message{MessageID: 13, From: victim, Chat: Chat{ID: -1}, Text: "/hey tell me a joke"})

	p.HandleMessage(context.Background(), &Message{MessageID: 14, From: &User{ID: 1}, Chat: Chat{ID: -1}, Text: "/unclown", ReplyToMessage: target})
	_, clowned = p.Overrides().Get(50)
	assert.False(t, clowned)

	p.HandleMessage(context.Background(), &Message{MessageID: 15, From: victim, Chat: Chat{ID: -1}, Text: "/hey again"})

	subs := sub.all()
	require.Len(t, subs, 2)
	assert.Equal(t, DefaultOverridePrompt, subs[0].Prompt)
	assert.Equal(t, "again", subs[1].Prompt)
	assert.Equal(t, []string{"@bob has been clowned", "@bob has been unclowned"}, replies.all())
}

func TestPoller_Help(t *testing.T) {
	replies := &replyRecorder{}
	p := NewPoller(newTestClient(t, replies.handler), &recordingSubmitter{}, func(o *PollerOptions) {
		o.Commands = map[string]string{"hey": "ollama", "aimg": "invokeai"}
	})

	p.HandleMessage(context.Background(), &Message{MessageID: 1, From: &User{ID: 3}, Chat: Chat{ID: 4}, Text: "/help"})

	assert.Equal(t, []string{"These commands are supported:\n/help\n/aimg <prompt> (invokeai)\n/hey <prompt> (ollama)"}, replies.all())
}

func TestPoller_Run(t *testing.T) {
	var calls sync.Map
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		offset := r.URL.Query().Get("offset")
		calls.Store(offset, true)
		if offset == "0" {
			_, _ = io.WriteString(w, `{"ok":true,"result":[{"update_id":41,"message":{"message_id":5,"from":{"id":8},"chat":{"id":9},"text":"/hey there"}}]}`)
			return
		}
		time.Sleep(10 * time.Millisecond)
		_, _ = io.WriteString(w, `{"ok":true,"result":[]}`)
	})

	sub := &recordingSubmitter{}
	p := NewPoller(client, sub, func(o *PollerOptions) { o.PollTimeout = time.Second })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return len(sub.all()) == 1 }, 3*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { _, ok := calls.Load("42"); return ok }, 3*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("poller did not stop")
	}

	assert.Equal(t, submission{ID: core.Identifier{ConversationID: 9, SubmitterID: 8, MessageID: 5}, Backend: "ollama", Prompt: "there"}, sub.all()[0])
}
