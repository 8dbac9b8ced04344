// Package delivery sends outcomes back to the chat front-end.
//
// Every message is a reply to the request's originating message. Text is sent
// rich-formatted first and retried plain exactly once when the front-end
// rejects the formatting. Assets and failure notices get a single attempt.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/genrelay/core"
	"github.com/hupe1980/genrelay/logging"
	"github.com/hupe1980/genrelay/metrics"
)

// Options configure a Stage.
type Options struct {
	// History records every delivered outcome. Optional.
	History core.HistoryStore

	// Metrics counts delivery attempts. Optional.
	Metrics *metrics.Metrics

	// SendTimeout bounds each individual send attempt. Zero disables it.
	SendTimeout time.Duration

	Logger logging.Logger
}

// Stage is the delivery stage. It is safe for concurrent use.
type Stage struct {
	sender  core.Sender
	history core.HistoryStore
	metrics *metrics.Metrics
	timeout time.Duration
	logger  logging.Logger
}

// NewStage creates a stage sending through sender.
func NewStage(sender core.Sender, optFns ...func(o *Options)) *Stage {
	opts := Options{
		SendTimeout: 30 * time.Second,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Stage{
		sender:  sender,
		history: opts.History,
		metrics: opts.Metrics,
		timeout: opts.SendTimeout,
		logger:  opts.Logger,
	}
}

// Deliver sends the outcome as a reply to id.MessageID in id.ConversationID.
func (s *Stage) Deliver(ctx context.Context, id core.Identifier, outcome core.Outcome) {
	var (
		entry = core.HistoryEntry{ID: id, Kind: core.OutcomeKind(outcome), Timestamp: time.Now()}
		err   error
	)

	switch o := outcome.(type) {
	case core.TextOutcome:
		entry.Text = o.Text
		err = s.deliverText(ctx, id, o.Text)
	case core.AssetOutcome:
		entry.Bytes = len(o.Data)
		err = s.deliverAsset(ctx, id, o.Data)
	case core.FailureOutcome:
		entry.Text = s.failureText(id, o)
		err = s.deliverPlain(ctx, id, entry.Text, entry.Kind)
	default:
		s.logger.Error("Unknown outcome type", "id", id.String(), "type", fmt.Sprintf("%T", outcome))
		return
	}

	entry.Delivered = err == nil
	s.record(ctx, entry)
}

func (s *Stage) deliverText(ctx context.Context, id core.Identifier, text string) error {
	attempt := 1
	err := s.sendText(ctx, id, text, true)
	if errors.Is(err, core.ErrRichFormat) {
		s.logger.Debug("Rich format rejected, retrying as plain text", "id", id.String(), "error", err)
		attempt = 2
		err = s.sendText(ctx, id, text, false)
	}

	logging.LogDelivery(s.logger, "text", attempt, err)
	return err
}

// deliverAsset makes a single attempt. On failure the submitter gets a plain
// notice instead of silence.
func (s *Stage) deliverAsset(ctx context.Context, id core.Identifier, data []byte) error {
	err := s.attempt(ctx, "asset", func(ctx context.Context) error {
		return s.sender.SendBinary(ctx, id.ConversationID, id.MessageID, data)
	})
	logging.LogDelivery(s.logger, "asset", 1, err)
	if err == nil {
		return nil
	}

	notice := s.failureText(id, core.FailureOutcome{
		Message: fmt.Sprintf("Failed to send the result, send this code to the developer: %s", id),
		Reason:  err.Error(),
	})
	_ = s.deliverPlain(ctx, id, notice, "failure")
	return err
}

func (s *Stage) deliverPlain(ctx context.Context, id core.Identifier, text, kind string) error {
	err := s.sendText(ctx, id, text, false)
	logging.LogDelivery(s.logger, kind, 1, err)
	return err
}

// failureText appends a reference code to notices caused by an internal
// error and logs the cause under the same code.
func (s *Stage) failureText(id core.Identifier, o core.FailureOutcome) string {
	if o.Reason == "" {
		return o.Message
	}
	ref := uuid.NewString()[:8]
	s.logger.Error("Request failed", "id", id.String(), "ref", ref, "reason", o.Reason)
	return fmt.Sprintf("%s (ref %s)", o.Message, ref)
}

func (s *Stage) sendText(ctx context.Context, id core.Identifier, text string, rich bool) error {
	kind := "text"
	if rich {
		kind = "text_rich"
	}
	return s.attempt(ctx, kind, func(ctx context.Context) error {
		return s.sender.SendText(ctx, id.ConversationID, id.MessageID, text, rich)
	})
}

func (s *Stage) attempt(ctx context.Context, kind string, send func(ctx context.Context) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	err := send(ctx)
	if s.metrics != nil {
		s.metrics.RecordDelivery(kind, err)
	}
	return err
}

func (s *Stage) record(ctx context.Context, entry core.HistoryEntry) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, entry); err != nil {
		s.logger.Warn("Failed to record history", "id", entry.ID.String(), "error", err)
	}
}
