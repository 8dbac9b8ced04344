package core

import "fmt"

// Identifier identifies one user-initiated request. It carries everything
// needed to reply in the correct conversation thread and is never mutated
// after the request is submitted.
type Identifier struct {
	ConversationID int64 `json:"conversation_id"`
	SubmitterID    int64 `json:"submitter_id"`
	MessageID      int64 `json:"message_id"`
}

// String renders the identifier in the compact form shown to users in
// failure notices.
func (id Identifier) String() string {
	return fmt.Sprintf("Identifier(%d-%d-%d)", id.ConversationID, id.SubmitterID, id.MessageID)
}

// JobHandle is the opaque identifier a streaming backend assigns to a
// dispatched job.
type JobHandle string

// String implements fmt.Stringer.
func (h JobHandle) String() string { return string(h) }
