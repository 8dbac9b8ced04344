package telegram

import (
	"context"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hupe1980/genrelay/core"
)

// SummaryPrompt precedes the transcript submitted by /tldr.
const SummaryPrompt = "The text below is a chat conversation. Each message is in the format of " +
	"\"sender-name: message-content\". Respond only with a recap of what each person has said/done " +
	"in the conversation. Always tag the users' usernames by prefixing an '@' before their name in your recap."

// NoHistoryMessage answers /tldr when nothing recent was recorded.
const NoHistoryMessage = "No chat content found. Please let me learn longer or adjust my permissions."

// record stores a plain chat message for later summaries.
func (p *Poller) record(ctx context.Context, msg *Message) {
	if p.opts.History == nil || msg.From == nil || msg.From.IsBot {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	entry := core.HistoryEntry{
		ID: core.Identifier{
			ConversationID: msg.Chat.ID,
			SubmitterID:    msg.From.ID,
			MessageID:      msg.MessageID,
		},
		Kind:      core.HistoryKindMessage,
		Sender:    strings.TrimPrefix(msg.From.Mention(), "@"),
		Text:      text,
		Timestamp: time.Now(),
	}
	if err := p.opts.History.Append(ctx, entry); err != nil {
		p.opts.Logger.Warn("Failed to record chat message", "chat", msg.Chat.ID, "error", err)
	}
}

// summarize submits the recent conversation of msg's chat to the summary
// backend.
func (p *Poller) summarize(ctx context.Context, msg *Message) {
	entries, err := p.opts.History.Recent(ctx, msg.Chat.ID, 0)
	if err != nil {
		p.opts.Logger.Error("Failed to read chat history", "chat", msg.Chat.ID, "error", err)
		p.reply(ctx, msg, "Failed to read the chat history, try again later.")
		return
	}

	transcript := Transcript(entries, time.Now().Add(-p.opts.SummaryWindow), p.opts.SummaryMaxRunes)
	if transcript == "" {
		p.reply(ctx, msg, NoHistoryMessage)
		return
	}

	p.opts.Logger.Debug("Submitting summary", "chat", msg.Chat.ID, "runes", utf8.RuneCountInString(transcript))
	p.submitter.Submit(core.Identifier{
		ConversationID: msg.Chat.ID,
		SubmitterID:    msg.From.ID,
		MessageID:      msg.MessageID,
	}, p.opts.SummaryBackend, SummaryPrompt+"\n\n"+transcript)
}

// Transcript renders chat messages newer than since as "sender: text" lines,
// oldest first. The newest lines are kept when the transcript would exceed
// maxRunes; maxRunes <= 0 keeps everything.
func Transcript(entries []core.HistoryEntry, since time.Time, maxRunes int) string {
	var (
		lines []string
		total int
	)
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Kind != core.HistoryKindMessage || e.Timestamp.Before(since) {
			continue
		}
		line := e.Sender + ": " + e.Text
		n := utf8.RuneCountInString(line) + 1
		if maxRunes > 0 && total+n > maxRunes {
			break
		}
		total += n
		lines = append(lines, line)
	}

	slices.Reverse(lines)
	return strings.Join(lines, "\n")
}
