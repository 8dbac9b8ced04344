package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/genrelay/core"
)

// Sent is one recorded send attempt.
type Sent struct {
	ConversationID int64
	ReplyTo        int64
	Text           string
	Rich           bool
	Data           []byte
	Err            error
}

// RecordingSender is a core.Sender that records every attempt. Scripted
// errors are consumed in order; once exhausted every send succeeds.
type RecordingSender struct {
	mu         sync.Mutex
	attempts   []Sent
	textErrs   []error
	binaryErrs []error
}

var _ core.Sender = (*RecordingSender)(nil)

// NewRecordingSender creates a sender that always succeeds.
func NewRecordingSender() *RecordingSender { return &RecordingSender{} }

// FailText queues errors for the next SendText calls. A nil entry succeeds.
func (s *RecordingSender) FailText(errs ...error) *RecordingSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.textErrs = append(s.textErrs, errs...)
	return s
}

// FailBinary queues errors for the next SendBinary calls.
func (s *RecordingSender) FailBinary(errs ...error) *RecordingSender {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.binaryErrs = append(s.binaryErrs, errs...)
	return s
}

// SendText implements core.Sender.
func (s *RecordingSender) SendText(_ context.Context, conversationID, replyTo int64, text string, rich bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if len(s.textErrs) > 0 {
		err, s.textErrs = s.textErrs[0], s.textErrs[1:]
	}
	s.attempts = append(s.attempts, Sent{
		ConversationID: conversationID,
		ReplyTo:        replyTo,
		Text:           text,
		Rich:           rich,
		Err:            err,
	})
	return err
}

// SendBinary implements core.Sender.
func (s *RecordingSender) SendBinary(_ context.Context, conversationID, replyTo int64, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if len(s.binaryErrs) > 0 {
		err, s.binaryErrs = s.binaryErrs[0], s.binaryErrs[1:]
	}
	s.attempts = append(s.attempts, Sent{
		ConversationID: conversationID,
		ReplyTo:        replyTo,
		Data:           data,
		Err:            err,
	})
	return err
}

// Attempts returns a snapshot of all send attempts.
func (s *RecordingSender) Attempts() []Sent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Sent, len(s.attempts))
	copy(out, s.attempts)
	return out
}
