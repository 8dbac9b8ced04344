package telegram

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/history"
)

type failingHistory struct{}

func (failingHistory) Append(context.Context, core.HistoryEntry) error { return errors.New("down") }

func (failingHistory) Recent(context.Context, int64, int) ([]core.HistoryEntry, error) {
	return nil, errors.New("down")
}

func TestPoller_SummarizesRecordedMessages(t *testing.T) {
	replies := &replyRecorder{}
	sub := &recordingSubmitter{}
	store := history.NewInMemoryStore(0)
	p := NewPoller(newTestClient(t, replies.handler), sub, func(o *PollerOptions) {
		o.History = store
	})

	alice := &User{ID: 1, Username: "alice"}
	bob := &User{ID: 2, FirstName: "Bob"}
	ctx := context.Background()

	p.HandleMessage(ctx, &Message{MessageID: 1, From: alice, Chat: Chat{ID: -5}, Text: "shall we ship today?"})
	p.HandleMessage(ctx, &Message{MessageID: 2, From: bob, Chat: Chat{ID: -5}, Text: "after lunch"})
	p.HandleMessage(ctx, &Message{MessageID: 3, From: &User{ID: 9, IsBot: true}, Chat: Chat{ID: -5}, Text: "beep"})
	p.HandleMessage(ctx, &Message{MessageID: 4, From: alice, Chat: Chat{ID: -6}, Text: "other chat"})
	p.HandleMessage(ctx, &Message{MessageID: 5, From: bob, Chat: Chat{ID: -5}, Text: "/hey not recorded"})
	p.HandleMessage(ctx, &Message{MessageID: 6, From: bob, Chat: Chat{ID: -5}, Text: "/tldr"})

	subs := sub.all()
	require.Len(t, subs, 2)
	assert.Equal(t, core.Identifier{ConversationID: -5, SubmitterID: 2, MessageID: 6}, subs[1].ID)
	assert.Equal(t, "ollama", subs[1].Backend)
	assert.Equal(t, SummaryPrompt+"\n\nalice: shall we ship today?\nBob: after lunch", subs[1].Prompt)
	assert.Empty(t, replies.all())
}

func TestPoller_SummaryWithoutHistory(t *testing.T) {
	replies := &replyRecorder{}
	sub := &recordingSubmitter{}
	p := NewPoller(newTestClient(t, replies.handler), sub, func(o *PollerOptions) {
		o.History = history.NewInMemoryStore(0)
	})

	p.HandleMessage(context.Background(), &Message{MessageID: 1, From: &User{ID: 1}, Chat: Chat{ID: 3}, Text: "/tldr"})

	assert.Empty(t, sub.all())
	assert.Equal(t, []string{NoHistoryMessage}, replies.all())
}

func TestPoller_SummaryHistoryError(t *testing.T) {
	replies := &replyRecorder{}
	sub := &recordingSubmitter{}
	p := NewPoller(newTestClient(t, replies.handler), sub, func(o *PollerOptions) {
		o.History = failingHistory{}
	})

	p.HandleMessage(context.Background(), &Message{MessageID: 1, From: &User{ID: 1}, Chat: Chat{ID: 3}, Text: "chatter"})
	p.HandleMessage(context.Background(), &Message{MessageID: 2, From: &User{ID: 1}, Chat: Chat{ID: 3}, Text: "/tldr"})

	assert.Empty(t, sub.all())
	require.Len(t, replies.all(), 1)
	assert.Contains(t, replies.all()[0], "Failed to read the chat history")
}

func TestPoller_SummaryDisabledWithoutStore(t *testing.T) {
	sub := &recordingSubmitter{}
	p := NewPoller(NewClient(testToken), sub, func(o *PollerOptions) {
		o.Commands = map[string]string{"tldr": "anthropic"}
	})

	p.HandleMessage(context.Background(), &Message{MessageID: 1, From: &User{ID: 1}, Chat: Chat{ID: 3}, Text: "/tldr now"})

	assert.Equal(t, []submission{{
		ID:      core.Identifier{ConversationID: 3, SubmitterID: 1, MessageID: 1},
		Backend: "anthropic",
		Prompt:  "now",
	}}, sub.all())
}

func TestTranscript(t *testing.T) {
	now := time.Now()
	msg := func(sender, text string, age time.Duration) core.HistoryEntry {
		return core.HistoryEntry{Kind: core.HistoryKindMessage, Sender: sender, Text: text, Timestamp: now.Add(-age)}
	}
	entries := []core.HistoryEntry{
		msg("carol", "too old", 9*time.Hour),
		msg("alice", "first", 3*time.Hour),
		{Kind: "text", Text: "a bot answer", Timestamp: now.Add(-2 * time.Hour)},
		msg("bob", "second", time.Hour),
		msg("alice", "third", time.Minute),
	}
	since := now.Add(-8 * time.Hour)

	assert.Equal(t, "alice: first\nbob: second\nalice: third", Transcript(entries, since, 0))

	// "bob: second\n" and "alice: third\n" fit, "alice: first" does not.
	assert.Equal(t, "bob: second\nalice: third", Transcript(entries, since, 25))

	assert.Empty(t, Transcript(entries, since, 5))
	assert.Empty(t, Transcript(nil, since, 0))
}

func TestPoller_HelpListsSummary(t *testing.T) {
	replies := &replyRecorder{}
	p := NewPoller(newTestClient(t, replies.handler), &recordingSubmitter{}, func(o *PollerOptions) {
		o.Commands = map[string]string{"hey": "ollama"}
		o.History = history.NewInMemoryStore(0)
	})

	p.HandleMessage(context.Background(), &Message{MessageID: 1, From: &User{ID: 3}, Chat: Chat{ID: 4}, Text: "/help"})

	require.Len(t, replies.all(), 1)
	assert.True(t, strings.Contains(replies.all()[0], "/tldr"))
}
