package core

import (
	"context"
	"time"
)

// HistoryKindMessage marks an incoming chat message. Delivered outcomes use
// the kinds returned by OutcomeKind.
const HistoryKindMessage = "message"

// HistoryEntry is one delivered outcome or chat message recorded for a
// conversation.
type HistoryEntry struct {
	ID        Identifier `json:"id"`
	Kind      string     `json:"kind"`
	Sender    string     `json:"sender,omitempty"`
	Text      string     `json:"text,omitempty"`
	Bytes     int        `json:"bytes,omitempty"`
	Delivered bool       `json:"delivered"`
	Timestamp time.Time  `json:"timestamp"`
}

// HistoryStore persists delivered outcomes and chat messages per
// conversation.
type HistoryStore interface {
	Append(ctx context.Context, entry HistoryEntry) error
	Recent(ctx context.Context, conversationID int64, limit int) ([]HistoryEntry, error)
}

// Sender is the outbound side of a chat front-end. Every message is a reply
// to replyTo in the given conversation. A send rejected because of its rich
// formatting must wrap ErrRichFormat.
type Sender interface {
	SendText(ctx context.Context, conversationID, replyTo int64, text string, rich bool) error
	SendBinary(ctx context.Context, conversationID, replyTo int64, data []byte) error
}
